package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aerobase.org/internal/auth"
	"aerobase.org/internal/cache"
	"aerobase.org/internal/httpapi"
	"aerobase.org/internal/ledger"
	"aerobase.org/internal/obs"
	"aerobase.org/internal/store/pg"
)

var version = "0.3.1"

var commit = "dev"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	secret := os.Getenv("AEROBASE_AUTH_SECRET")
	if secret == "" {
		log.Fatal("AEROBASE_AUTH_SECRET is required")
	}

	addr := os.Getenv("AEROBASE_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	cacheStore := cache.NewMemory()
	defer cacheStore.Close()
	queryCache := cache.New(cacheStore)

	verifier, err := auth.NewVerifier(secret, auth.WithIssuer("aerobase"))
	if err != nil {
		log.Fatalf("verifier: %v", err)
	}
	sessions := auth.NewSessionCache(cacheStore, cache.SessionTTL)

	users := auth.NewMemoryUserStore()
	if email := os.Getenv("AEROBASE_BOOTSTRAP_EMAIL"); email != "" {
		password := os.Getenv("AEROBASE_BOOTSTRAP_PASSWORD")
		if password == "" {
			log.Fatal("AEROBASE_BOOTSTRAP_PASSWORD is required with AEROBASE_BOOTSTRAP_EMAIL")
		}
		hash, err := auth.HashPassword(password)
		if err != nil {
			log.Fatalf("bootstrap user: %v", err)
		}
		err = users.Create(context.Background(), &auth.User{
			Email:        email,
			PasswordHash: hash,
			UserType:     auth.UserTypePlatform,
			Active:       true,
			Roles: []auth.RoleRef{
				{ID: "role_bootstrap_admin", Active: true, Permissions: []string{"*"}},
			},
		})
		if err != nil {
			log.Fatalf("bootstrap user: %v", err)
		}
	}
	accounts, err := auth.NewService(users, verifier, sessions)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}
	resolver, err := auth.NewResolver(verifier, sessions)
	if err != nil {
		log.Fatalf("resolver: %v", err)
	}

	// Postgres when a DSN is configured, in-memory otherwise.
	var (
		store ledger.Store
		probe httpapi.ReadyProbe
	)
	if dsn := os.Getenv("AEROBASE_PG_DSN"); dsn != "" {
		pgStore, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := pgStore.Ping(ctx); err != nil {
			cancel()
			log.Fatalf("ping db: %v", err)
		}
		if err := pgStore.EnsureSchema(ctx); err != nil {
			cancel()
			log.Fatalf("ensure schema: %v", err)
		}
		cancel()
		store = pgStore
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		store = ledger.NewInMemory()
		probe = httpapi.ReadyProbe{}
	}
	defer store.Close()

	lg, err := ledger.New(store, queryCache)
	if err != nil {
		log.Fatalf("ledger: %v", err)
	}

	api := httpapi.New(probe, version, resolver, accounts, lg)

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting aerobase-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
