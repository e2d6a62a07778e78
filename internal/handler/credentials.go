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

// --- Register Credential ---

type RegisterCredentialHandler struct {
	vault *service.Vault
}

func NewRegisterCredentialHandler(vault *service.Vault) *RegisterCredentialHandler {
	return &RegisterCredentialHandler{vault: vault}
}

type registerCredentialRequest struct {
	DisplayName string `json:"display_name"`
	Secret      string `json:"secret"`
}

type registerCredentialResponse struct {
	ID          uuid.UUID              `json:"id"`
	DisplayName string                 `json:"display_name"`
	KeyPreview  string                 `json:"key_preview"`
	Status      model.CredentialStatus `json:"status"`
	CreatedAt   string                 `json:"created_at"`
}

func (h *RegisterCredentialHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())

	var req registerCredentialRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	cred, err := h.vault.Register(r.Context(), principal, req.DisplayName, req.Secret)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusCreated, registerCredentialResponse{
		ID:          cred.ID,
		DisplayName: cred.DisplayName,
		KeyPreview:  service.KeyPreview(req.Secret),
		Status:      cred.Status,
		CreatedAt:   cred.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// --- List Credentials ---

type ListCredentialsHandler struct {
	vault *service.Vault
}

func NewListCredentialsHandler(vault *service.Vault) *ListCredentialsHandler {
	return &ListCredentialsHandler{vault: vault}
}

type listCredentialsResponse struct {
	Credentials []model.CredentialSummary `json:"credentials"`
	Total       int                       `json:"total"`
}

func (h *ListCredentialsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())

	summaries, err := h.vault.ListMetadata(r.Context(), principal)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, listCredentialsResponse{
		Credentials: summaries,
		Total:       len(summaries),
	})
}

// --- Rotate Credential ---

type RotateCredentialHandler struct {
	vault *service.Vault
}

func NewRotateCredentialHandler(vault *service.Vault) *RotateCredentialHandler {
	return &RotateCredentialHandler{vault: vault}
}

type rotateCredentialRequest struct {
	Secret string `json:"secret"`
}

func (h *RotateCredentialHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid credential ID")
		return
	}

	var req rotateCredentialRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	if err := h.vault.Rotate(r.Context(), id, principal, req.Secret); err != nil {
		service.RespondError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- Revoke Credential ---

type RevokeCredentialHandler struct {
	vault *service.Vault
}

func NewRevokeCredentialHandler(vault *service.Vault) *RevokeCredentialHandler {
	return &RevokeCredentialHandler{vault: vault}
}

func (h *RevokeCredentialHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid credential ID")
		return
	}

	if err := h.vault.Revoke(r.Context(), id, principal); err != nil {
		service.RespondError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
