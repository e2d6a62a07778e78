package handler

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sage-secrets-broker/internal/store"
)

type HealthHandler struct {
	store     store.AuditStore
	backend   string
	startTime time.Time
}

func NewHealthHandler(s store.AuditStore, backend string) *HealthHandler {
	return &HealthHandler{
		store:     s,
		backend:   backend,
		startTime: time.Now(),
	}
}

type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Backend       string `json:"backend"`
	AuditEntries  int64  `json:"audit_entries"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Reading the chain head doubles as a storage liveness probe.
	status := "healthy"
	var entries int64
	last, err := h.store.LastAuditEntry(r.Context())
	switch {
	case err == store.ErrNotFound:
	case err != nil:
		log.Error().Err(err).Msg("health probe could not read audit log")
		status = "degraded"
	default:
		entries = last.Seq
	}

	RespondJSON(w, http.StatusOK, HealthResponse{
		Status:        status,
		Version:       "1.0.0",
		Backend:       h.backend,
		AuditEntries:  entries,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	})
}
