package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"aerobase.org/internal/auth"
	"aerobase.org/internal/ledger"
)

type createResourceRequest struct {
	TenantID string `json:"tenant_id,omitempty"`
	Name     string `json:"name"`
	Kind     string `json:"kind,omitempty"`
	Capacity uint32 `json:"capacity"`
}

type updateResourceRequest struct {
	Name     *string `json:"name,omitempty"`
	Kind     *string `json:"kind,omitempty"`
	Status   *string `json:"status,omitempty"`
	Capacity *uint32 `json:"capacity,omitempty"`
	Active   *bool   `json:"active,omitempty"`
}

type allocateRequest struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Quantity  uint32    `json:"quantity"`
}

type releaseRequest struct {
	Status string `json:"status,omitempty"`
}

type resourceListResponse struct {
	Items   []ledger.Resource `json:"items"`
	Page    int               `json:"page"`
	PerPage int               `json:"per_page"`
}

type allocationListResponse struct {
	Items   []ledger.Allocation `json:"items"`
	Page    int                 `json:"page"`
	PerPage int                 `json:"per_page"`
}

func (a *API) handleResourcesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createResource(w, r)
	case http.MethodGet:
		a.listResources(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
	}
}

// handleResourceScoped routes /v1/resources/{id}, /v1/resources/{id}/allocate
// and /v1/resources/allocations/list.
func (a *API) handleResourceScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/resources/")
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if path == "allocations/list" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.listAllocations(w, r)
		return
	}

	if id, ok := strings.CutSuffix(path, "/allocate"); ok && !strings.Contains(id, "/") && id != "" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.allocate(w, r, id)
		return
	}

	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getResource(w, r, path)
	case http.MethodPut:
		a.updateResource(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

// handleAllocationScoped routes /v1/allocations/{id}/release.
func (a *API) handleAllocationScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/allocations/")
	path = strings.TrimSuffix(path, "/")

	if id, ok := strings.CutSuffix(path, "/release"); ok && !strings.Contains(id, "/") && id != "" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.release(w, r, id)
		return
	}

	writeError(w, r, http.StatusNotFound, "resource not found")
}

func (a *API) createResource(w http.ResponseWriter, r *http.Request) {
	identity, err := a.requirePermission(r.Context(), auth.ResourceResources, auth.ActionCreate)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	var req createResourceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	scope := scopeFor(r, identity)
	res, err := a.ledger.CreateResource(r.Context(), scope, ledger.ResourceSpec{
		TenantID: strings.TrimSpace(req.TenantID),
		Name:     strings.TrimSpace(req.Name),
		Kind:     strings.TrimSpace(req.Kind),
		Capacity: req.Capacity,
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	a.audit(r.Context(), "resource.create", "resource", res.ID, map[string]string{
		"tenant_id": res.TenantID,
		"capacity":  strconv.FormatUint(uint64(res.Capacity), 10),
	})

	w.Header().Set("Location", "/v1/resources/"+res.ID)
	writeJSON(w, http.StatusCreated, res)
}

func (a *API) getResource(w http.ResponseWriter, r *http.Request, id string) {
	identity, err := a.requirePermission(r.Context(), auth.ResourceResources, auth.ActionRead)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	res, err := a.ledger.GetResource(r.Context(), scopeFor(r, identity), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) updateResource(w http.ResponseWriter, r *http.Request, id string) {
	identity, err := a.requirePermission(r.Context(), auth.ResourceResources, auth.ActionUpdate)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	var req updateResourceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	upd := ledger.ResourceUpdate{
		Name:     req.Name,
		Kind:     req.Kind,
		Capacity: req.Capacity,
		Active:   req.Active,
	}
	if req.Status != nil {
		st := ledger.ResourceStatus(*req.Status)
		upd.Status = &st
	}

	res, err := a.ledger.UpdateResource(r.Context(), scopeFor(r, identity), id, upd)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	a.audit(r.Context(), "resource.update", "resource", res.ID, map[string]string{
		"status": string(res.Status),
	})

	writeJSON(w, http.StatusOK, res)
}

func (a *API) listResources(w http.ResponseWriter, r *http.Request) {
	identity, err := a.requirePermission(r.Context(), auth.ResourceResources, auth.ActionRead)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	q := r.URL.Query()
	page, err := parsePositiveInt(q.Get("page"), 1, 1, 1_000_000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "page must be a positive integer")
		return
	}
	perPage, err := parsePositiveInt(q.Get("per_page"), 50, 1, 500)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "per_page must be between 1 and 500")
		return
	}

	filter := ledger.ResourceFilter{
		TenantID: strings.TrimSpace(q.Get("tenant_id")),
		Status:   ledger.ResourceStatus(strings.TrimSpace(q.Get("status"))),
		Kind:     strings.TrimSpace(q.Get("kind")),
		Page:     page,
		PerPage:  perPage,
	}

	items, err := a.ledger.ListResources(r.Context(), scopeFor(r, identity), filter)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if items == nil {
		items = []ledger.Resource{}
	}
	writeJSON(w, http.StatusOK, resourceListResponse{Items: items, Page: page, PerPage: perPage})
}

func (a *API) allocate(w http.ResponseWriter, r *http.Request, resourceID string) {
	identity, err := a.requirePermission(r.Context(), auth.ResourceAllocations, auth.ActionAllocate)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	var req allocateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	alloc, err := a.ledger.Allocate(r.Context(), scopeFor(r, identity), resourceID, ledger.AllocationRequest{
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Quantity:  req.Quantity,
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	a.audit(r.Context(), "resource.allocate", "allocation", alloc.ID, map[string]string{
		"resource_id": resourceID,
		"tenant_id":   alloc.TenantID,
		"quantity":    strconv.FormatUint(uint64(alloc.Quantity), 10),
	})

	writeJSON(w, http.StatusCreated, alloc)
}

func (a *API) release(w http.ResponseWriter, r *http.Request, allocationID string) {
	identity, err := a.requirePermission(r.Context(), auth.ResourceAllocations, auth.ActionRelease)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	terminal := ledger.AllocationCompleted
	if r.ContentLength != 0 {
		var req releaseRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		switch req.Status {
		case "", string(ledger.AllocationCompleted):
		case string(ledger.AllocationCancelled):
			terminal = ledger.AllocationCancelled
		default:
			writeError(w, r, http.StatusBadRequest, "status must be completed or cancelled")
			return
		}
	}

	alloc, err := a.ledger.Release(r.Context(), scopeFor(r, identity), allocationID, terminal)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	a.audit(r.Context(), "allocation.release", "allocation", alloc.ID, map[string]string{
		"resource_id": alloc.ResourceID,
		"status":      string(alloc.Status),
	})

	writeJSON(w, http.StatusOK, alloc)
}

func (a *API) listAllocations(w http.ResponseWriter, r *http.Request) {
	identity, err := a.requirePermission(r.Context(), auth.ResourceAllocations, auth.ActionRead)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	q := r.URL.Query()
	page, err := parsePositiveInt(q.Get("page"), 1, 1, 1_000_000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "page must be a positive integer")
		return
	}
	perPage, err := parsePositiveInt(q.Get("per_page"), 50, 1, 500)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "per_page must be between 1 and 500")
		return
	}

	filter := ledger.AllocationFilter{
		ResourceID: strings.TrimSpace(q.Get("resource_id")),
		TenantID:   strings.TrimSpace(q.Get("tenant_id")),
		Page:       page,
		PerPage:    perPage,
	}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			filter.Statuses = append(filter.Statuses, ledger.AllocationStatus(strings.TrimSpace(s)))
		}
	}
	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "from must be RFC 3339")
			return
		}
		filter.From = ts
	}
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "to must be RFC 3339")
			return
		}
		filter.To = ts
	}

	items, err := a.ledger.ListAllocations(r.Context(), scopeFor(r, identity), filter)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if items == nil {
		items = []ledger.Allocation{}
	}
	writeJSON(w, http.StatusOK, allocationListResponse{Items: items, Page: page, PerPage: perPage})
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("value must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("value out of range")
	}
	return val, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleDomainError is the single place domain errors become status codes.
func handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidInput), errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrForbidden), errors.Is(err, ledger.ErrAccessDenied):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrCapacityExceeded),
		errors.Is(err, ledger.ErrAllocationConflict),
		errors.Is(err, ledger.ErrInvalidState),
		errors.Is(err, auth.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
