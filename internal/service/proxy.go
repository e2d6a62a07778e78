package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sage-secrets-broker/internal/metrics"
	"github.com/sage-secrets-broker/internal/model"
	"github.com/sage-secrets-broker/internal/validation"
)

// ProxyEngine orchestrates one protected call: authorization, policy,
// credential retrieval, outbound forwarding, and audit. It is the only
// component that ever holds a decrypted credential, and only between
// retrieval and the outbound call returning.
type ProxyEngine struct {
	grants       *GrantRegistry
	policy       *PolicyEngine
	vault        *Vault
	audit        *AuditLog
	client       *http.Client
	maxBodyBytes int64
}

func NewProxyEngine(grants *GrantRegistry, policy *PolicyEngine, vault *Vault, audit *AuditLog, timeout time.Duration, maxBodyBytes int64) *ProxyEngine {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = 10 << 20
	}
	return &ProxyEngine{
		grants:       grants,
		policy:       policy,
		vault:        vault,
		audit:        audit,
		client:       &http.Client{Timeout: timeout},
		maxBodyBytes: maxBodyBytes,
	}
}

// ProxyRequest is one caller request to forward through a credential.
type ProxyRequest struct {
	CredentialID    uuid.UUID
	CallerPrincipal string
	TargetURL       string
	Method          string
	Headers         map[string]string
	Body            []byte
}

// ProxyResult is the upstream response surfaced to the caller, with any
// credential echo redacted.
type ProxyResult struct {
	StatusCode     int
	Headers        map[string]string
	Body           []byte
	ResponseTimeMs int64
}

// Handle runs the full per-call state machine. Denials short-circuit before
// any network traffic; every terminal state is audited.
func (p *ProxyEngine) Handle(ctx context.Context, req ProxyRequest) (*ProxyResult, error) {
	target, err := validation.TargetURL(req.TargetURL)
	if err != nil {
		return nil, NewBadRequest("invalid_request", err.Error())
	}
	method, err := validation.Method(req.Method)
	if err != nil {
		return nil, NewBadRequest("invalid_request", err.Error())
	}
	endpointHost := target.Host + target.Path

	grant, err := p.grants.CheckAuthorization(ctx, req.CredentialID, req.CallerPrincipal)
	if err != nil {
		p.recordDenial(ctx, req, model.ActionAuthzDenied, method, endpointHost, err)
		metrics.ProxyCalls.WithLabelValues("denied").Inc()
		return nil, err
	}

	if err := p.policy.CheckAndReserve(ctx, req.CredentialID, req.CallerPrincipal, grant.MaxCallsPerDay); err != nil {
		p.recordDenial(ctx, req, model.ActionRateLimited, method, endpointHost, err)
		metrics.ProxyCalls.WithLabelValues("rate_limited").Inc()
		return nil, err
	}

	// Fail closed if the credential was revoked between the authorization
	// check and here. The quota reservation above is intentionally kept.
	plaintext, err := p.vault.RetrieveForUse(ctx, req.CredentialID)
	if err != nil {
		p.recordDenial(ctx, req, model.ActionUpstreamError, method, endpointHost, err)
		metrics.ProxyCalls.WithLabelValues("credential_error").Inc()
		return nil, err
	}

	result, upstreamErr := p.forward(ctx, target, method, req.Headers, req.Body, plaintext)

	// The plaintext must not outlive the outbound call.
	wipe(plaintext)

	payloadSize := int64(len(req.Body))
	if upstreamErr != nil {
		p.audit.Record(ctx, RecordInput{
			CallerPrincipal:  req.CallerPrincipal,
			CredentialID:     req.CredentialID,
			Action:           model.ActionUpstreamError,
			Method:           method,
			EndpointHost:     endpointHost,
			PayloadSizeBytes: payloadSize,
			ResponseTimeMs:   result.ResponseTimeMs,
			ResponseCode:     0,
			ErrorMessage:     upstreamErr.Error(),
		})
		metrics.ProxyCalls.WithLabelValues("upstream_error").Inc()
		log.Warn().Err(upstreamErr).Str("host", target.Host).Msg("upstream call failed")
		return nil, NewBadGateway("upstream_error", "Upstream request failed")
	}

	p.policy.RecordPayload(ctx, req.CredentialID, req.CallerPrincipal, payloadSize)
	p.audit.Record(ctx, RecordInput{
		CallerPrincipal:  req.CallerPrincipal,
		CredentialID:     req.CredentialID,
		Action:           model.ActionProxyCall,
		Method:           method,
		EndpointHost:     endpointHost,
		PayloadSizeBytes: payloadSize,
		ResponseTimeMs:   result.ResponseTimeMs,
		ResponseCode:     result.StatusCode,
	})
	metrics.ProxyCalls.WithLabelValues("completed").Inc()
	return result, nil
}

// forward performs the outbound HTTP call with the credential injected.
// The returned ProxyResult always carries the elapsed time, even on error.
func (p *ProxyEngine) forward(ctx context.Context, target *url.URL, method string, headers map[string]string, body, plaintext []byte) (*ProxyResult, error) {
	var reqBody io.Reader
	if len(body) > 0 {
		reqBody = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), reqBody)
	if err != nil {
		return &ProxyResult{}, fmt.Errorf("build request: %w", err)
	}
	for name, value := range headers {
		httpReq.Header.Set(name, value)
	}
	if len(body) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	injectCredential(httpReq.Header, target.Host, string(plaintext))

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	elapsed := time.Since(start)
	metrics.UpstreamDuration.Observe(elapsed.Seconds())

	result := &ProxyResult{ResponseTimeMs: elapsed.Milliseconds()}
	if err != nil {
		return result, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBodyBytes))
	if err != nil {
		return result, fmt.Errorf("read upstream response: %w", err)
	}

	result.StatusCode = resp.StatusCode
	result.Body = redactCredential(respBody, plaintext)
	result.Headers = make(map[string]string, len(resp.Header))
	for name := range resp.Header {
		result.Headers[name] = resp.Header.Get(name)
	}
	return result, nil
}

// injectCredential places the plaintext into the header the target expects.
// Known providers get their documented header; anything else gets a Bearer
// token unless the caller already supplied an auth header.
func injectCredential(h http.Header, host, credential string) {
	domain := strings.ToLower(host)
	if i := strings.LastIndex(domain, ":"); i >= 0 {
		domain = domain[:i]
	}

	switch {
	case strings.HasSuffix(domain, "openai.com"),
		strings.HasSuffix(domain, "googleapis.com"),
		strings.HasSuffix(domain, "stripe.com"):
		h.Set("Authorization", "Bearer "+credential)
	case strings.HasSuffix(domain, "anthropic.com"):
		h.Set("x-api-key", credential)
	case strings.HasSuffix(domain, "github.com"):
		h.Set("Authorization", "token "+credential)
	default:
		if h.Get("Authorization") == "" && h.Get("x-api-key") == "" && h.Get("api-key") == "" {
			h.Set("Authorization", "Bearer "+credential)
		}
	}
}

// redactCredential removes any byte-level echo of the plaintext from an
// upstream body before it reaches the caller.
func redactCredential(body, plaintext []byte) []byte {
	if len(plaintext) == 0 || !bytes.Contains(body, plaintext) {
		return body
	}
	return bytes.ReplaceAll(body, plaintext, []byte("[redacted]"))
}

// recordDenial audits a short-circuited call. Denial reasons are stored as
// error codes, never another caller's identity.
func (p *ProxyEngine) recordDenial(ctx context.Context, req ProxyRequest, action model.AuditAction, method, endpointHost string, cause error) {
	code := "internal_error"
	status := http.StatusInternalServerError
	var svcErr *Error
	if errors.As(cause, &svcErr) {
		code = svcErr.Code
		status = svcErr.Kind.HTTPStatus()
	}
	p.audit.Record(ctx, RecordInput{
		CallerPrincipal:  req.CallerPrincipal,
		CredentialID:     req.CredentialID,
		Action:           action,
		Method:           method,
		EndpointHost:     endpointHost,
		PayloadSizeBytes: int64(len(req.Body)),
		ResponseCode:     status,
		ErrorMessage:     code,
	})
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
