package handler

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/sage-secrets-broker/internal/httputil"
	"github.com/sage-secrets-broker/internal/middleware"
	"github.com/sage-secrets-broker/internal/model"
	"github.com/sage-secrets-broker/internal/service"
	"github.com/sage-secrets-broker/internal/store"
)

// --- Query Audit Log ---

type LogsHandler struct {
	audit *service.AuditLog
}

func NewLogsHandler(audit *service.AuditLog) *LogsHandler {
	return &LogsHandler{audit: audit}
}

type logsResponse struct {
	Entries []*model.AuditEntry `json:"entries"`
	Total   int                 `json:"total"`
	Page    int                 `json:"page"`
	PerPage int                 `json:"per_page"`
}

func (h *LogsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	q := r.URL.Query()

	page, perPage, err := httputil.ParsePagination(q.Get("page"), q.Get("per_page"))
	if err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	filters := store.AuditFilters{
		OwnerID: principal,
		Page:    page,
		PerPage: perPage,
	}

	if raw := q.Get("credential_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid credential_id")
			return
		}
		filters.CredentialID = &id
	}
	if caller := q.Get("caller_principal"); caller != "" {
		filters.CallerPrincipal = &caller
	}
	if raw := q.Get("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			RespondError(w, http.StatusBadRequest, "invalid_request", "from must be RFC 3339")
			return
		}
		filters.From = &from
	}
	if raw := q.Get("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			RespondError(w, http.StatusBadRequest, "invalid_request", "to must be RFC 3339")
			return
		}
		filters.To = &to
	}

	entries, total, err := h.audit.Query(r.Context(), filters)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, logsResponse{
		Entries: entries,
		Total:   total,
		Page:    page,
		PerPage: perPage,
	})
}

// --- Verify Integrity ---

type IntegrityHandler struct {
	audit *service.AuditLog
}

func NewIntegrityHandler(audit *service.AuditLog) *IntegrityHandler {
	return &IntegrityHandler{audit: audit}
}

type integrityResponse struct {
	Intact         bool `json:"intact"`
	EntriesChecked int  `json:"entries_checked"`
}

func (h *IntegrityHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	intact, checked, err := h.audit.VerifyIntegrity(r.Context())
	if err != nil {
		service.RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, integrityResponse{Intact: intact, EntriesChecked: checked})
}
