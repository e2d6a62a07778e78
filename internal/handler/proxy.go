package handler

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/sage-secrets-broker/internal/middleware"
	"github.com/sage-secrets-broker/internal/service"
)

// ProxyHandler accepts a caller's request to invoke an upstream endpoint
// through a registered credential. The caller never sees the credential;
// the engine injects it on the outbound hop only.
type ProxyHandler struct {
	proxy        *service.ProxyEngine
	maxBodyBytes int64
}

func NewProxyHandler(proxy *service.ProxyEngine, maxBodyBytes int64) *ProxyHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = 10 << 20
	}
	return &ProxyHandler{proxy: proxy, maxBodyBytes: maxBodyBytes}
}

type proxyRequest struct {
	CredentialID uuid.UUID         `json:"credential_id"`
	TargetURL    string            `json:"target_url"`
	Method       string            `json:"method"`
	Headers      map[string]string `json:"headers,omitempty"`
	Body         string            `json:"body,omitempty"`
}

type proxyResponse struct {
	StatusCode     int               `json:"status_code"`
	Headers        map[string]string `json:"headers"`
	Body           string            `json:"body"`
	ResponseTimeMs int64             `json:"response_time_ms"`
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())

	var req proxyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBodyBytes)).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if req.CredentialID == uuid.Nil {
		RespondError(w, http.StatusBadRequest, "invalid_request", "credential_id is required")
		return
	}

	result, err := h.proxy.Handle(r.Context(), service.ProxyRequest{
		CredentialID:    req.CredentialID,
		CallerPrincipal: principal,
		TargetURL:       req.TargetURL,
		Method:          req.Method,
		Headers:         req.Headers,
		Body:            []byte(req.Body),
	})
	if err != nil {
		service.RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, proxyResponse{
		StatusCode:     result.StatusCode,
		Headers:        result.Headers,
		Body:           string(result.Body),
		ResponseTimeMs: result.ResponseTimeMs,
	})
}
