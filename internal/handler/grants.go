package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sage-secrets-broker/internal/middleware"
	"github.com/sage-secrets-broker/internal/model"
	"github.com/sage-secrets-broker/internal/service"
)

// --- Create Grant ---

type CreateGrantHandler struct {
	grants *service.GrantRegistry
}

func NewCreateGrantHandler(grants *service.GrantRegistry) *CreateGrantHandler {
	return &CreateGrantHandler{grants: grants}
}

type createGrantRequest struct {
	CredentialID    uuid.UUID `json:"credential_id"`
	CallerPrincipal string    `json:"caller_principal"`
	MaxCallsPerDay  int       `json:"max_calls_per_day"`
	ExpiresAt       time.Time `json:"expires_at"`
}

func (h *CreateGrantHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())

	var req createGrantRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if req.CredentialID == uuid.Nil {
		RespondError(w, http.StatusBadRequest, "invalid_request", "credential_id is required")
		return
	}

	grant, err := h.grants.Create(r.Context(), req.CredentialID, req.CallerPrincipal, req.MaxCallsPerDay, req.ExpiresAt, principal)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusCreated, grant)
}

// --- List Grants ---

type ListGrantsHandler struct {
	grants *service.GrantRegistry
}

func NewListGrantsHandler(grants *service.GrantRegistry) *ListGrantsHandler {
	return &ListGrantsHandler{grants: grants}
}

type listGrantsResponse struct {
	Grants []*model.Grant `json:"grants"`
	Total  int            `json:"total"`
}

func (h *ListGrantsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())

	grants, err := h.grants.List(r.Context(), principal)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, listGrantsResponse{Grants: grants, Total: len(grants)})
}

// --- Revoke Grant ---

type RevokeGrantHandler struct {
	grants *service.GrantRegistry
}

func NewRevokeGrantHandler(grants *service.GrantRegistry) *RevokeGrantHandler {
	return &RevokeGrantHandler{grants: grants}
}

func (h *RevokeGrantHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid grant ID")
		return
	}

	if err := h.grants.Revoke(r.Context(), id, principal); err != nil {
		service.RespondError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
