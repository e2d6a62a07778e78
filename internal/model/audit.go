package model

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction is the closed set of events the broker records. Adding an
// action means adding a constant here and a case wherever actions are
// switched on.
type AuditAction string

const (
	ActionRegister      AuditAction = "register"
	ActionRotate        AuditAction = "rotate"
	ActionRevoke        AuditAction = "revoke"
	ActionGrant         AuditAction = "grant"
	ActionRevokeGrant   AuditAction = "revoke_grant"
	ActionProxyCall     AuditAction = "proxy_call"
	ActionRateLimited   AuditAction = "rate_limited"
	ActionAuthzDenied   AuditAction = "authz_denied"
	ActionUpstreamError AuditAction = "upstream_error"
)

// Valid reports whether a is one of the known audit actions.
func (a AuditAction) Valid() bool {
	switch a {
	case ActionRegister, ActionRotate, ActionRevoke, ActionGrant,
		ActionRevokeGrant, ActionProxyCall, ActionRateLimited,
		ActionAuthzDenied, ActionUpstreamError:
		return true
	}
	return false
}

// AuditEntry is one immutable record of an attempted or completed operation.
// It holds metadata only: never credential material, never request or
// response bodies. PrevHash/EntryHash form the tamper-evident chain.
type AuditEntry struct {
	ID               uuid.UUID   `json:"id"`
	Seq              int64       `json:"seq"`
	Timestamp        time.Time   `json:"timestamp"`
	CallerPrincipal  string      `json:"caller_principal"`
	CredentialID     uuid.UUID   `json:"credential_id"`
	Action           AuditAction `json:"action"`
	Method           string      `json:"method"`
	EndpointHost     string      `json:"endpoint_host"`
	PayloadSizeBytes int64       `json:"payload_size_bytes"`
	ResponseTimeMs   int64       `json:"response_time_ms"`
	ResponseCode     int         `json:"response_code"`
	ErrorMessage     string      `json:"error_message,omitempty"`
	PrevHash         []byte      `json:"-"`
	EntryHash        []byte      `json:"-"`
}
