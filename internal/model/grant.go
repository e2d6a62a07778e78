package model

import (
	"time"

	"github.com/google/uuid"
)

// Grant authorizes one caller principal to use one credential indirectly,
// bounded in time and by a daily call limit.
type Grant struct {
	ID              uuid.UUID `json:"id"`
	CredentialID    uuid.UUID `json:"credential_id"`
	CallerPrincipal string    `json:"caller_principal"`
	MaxCallsPerDay  int       `json:"max_calls_per_day"`
	ExpiresAt       time.Time `json:"expires_at"`
	GrantedBy       string    `json:"granted_by"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"created_at"`
}

// IsActiveAt reports whether the grant authorizes calls at the given instant.
// Expiry is evaluated here, never read from the stored Active flag alone:
// a grant past its expiry is inactive whether or not a sweep flipped the flag.
func (g *Grant) IsActiveAt(now time.Time) bool {
	return g.Active && now.Before(g.ExpiresAt)
}
