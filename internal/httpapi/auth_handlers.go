package httpapi

import (
	"net/http"
	"strings"
	"time"

	"aerobase.org/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expires_at"`
	User      auth.Identity `json:"user"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.accounts == nil {
		writeError(w, r, http.StatusNotFound, "login is not enabled")
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	token, expiresAt, identity, err := a.accounts.Login(r.Context(), email, req.Password)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	a.audit(r.Context(), "auth.login", "user", identity.ID, map[string]string{
		"tenant_id": identity.TenantID,
	})

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      identity,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.accounts == nil {
		writeError(w, r, http.StatusNotFound, "login is not enabled")
		return
	}

	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing bearer token")
		return
	}

	if err := a.accounts.Logout(r.Context(), identity.ID); err != nil {
		handleDomainError(w, r, err)
		return
	}

	a.audit(r.Context(), "auth.logout", "user", identity.ID, nil)

	w.WriteHeader(http.StatusNoContent)
}
