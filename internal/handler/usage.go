package handler

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/sage-secrets-broker/internal/middleware"
	"github.com/sage-secrets-broker/internal/service"
)

// UsageHandler reports the caller's own consumption against one credential
// for the current UTC day. Reading never consumes a call.
type UsageHandler struct {
	policy *service.PolicyEngine
}

func NewUsageHandler(policy *service.PolicyEngine) *UsageHandler {
	return &UsageHandler{policy: policy}
}

type usageResponse struct {
	CredentialID      uuid.UUID `json:"credential_id"`
	Day               string    `json:"day"`
	CallCount         int       `json:"call_count"`
	TotalPayloadBytes int64     `json:"total_payload_bytes"`
	ResetsInSeconds   int       `json:"resets_in_seconds"`
}

func (h *UsageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())

	credID, err := uuid.Parse(r.URL.Query().Get("credential_id"))
	if err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_request", "credential_id is required")
		return
	}

	counter, err := h.policy.CurrentUsage(r.Context(), credID, principal)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, usageResponse{
		CredentialID:      credID,
		Day:               counter.Day,
		CallCount:         counter.CallCount,
		TotalPayloadBytes: counter.TotalPayloadBytes,
		ResetsInSeconds:   service.SecondsUntilRollover(time.Now().UTC()),
	})
}
