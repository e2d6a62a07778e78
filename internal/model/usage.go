package model

import (
	"time"

	"github.com/google/uuid"
)

// UsageCounter tracks one (credential, caller) pair's calls for one UTC day.
// Buckets are created lazily on first call and never reused across days.
type UsageCounter struct {
	CredentialID      uuid.UUID `json:"credential_id"`
	CallerPrincipal   string    `json:"caller_principal"`
	Day               string    `json:"day"` // UTC date, YYYY-MM-DD
	CallCount         int       `json:"call_count"`
	TotalPayloadBytes int64     `json:"total_payload_bytes"`
	LastUpdatedAt     time.Time `json:"last_updated_at"`
}

// UsageDay returns the UTC day bucket for the given instant.
func UsageDay(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}
