package model

import (
	"time"

	"github.com/google/uuid"
)

type CredentialStatus string

const (
	CredentialActive  CredentialStatus = "active"
	CredentialRevoked CredentialStatus = "revoked"
)

// Credential is a registered third-party secret. Only ciphertext is ever
// persisted; the plaintext exists transiently inside the vault and proxy.
type Credential struct {
	ID            uuid.UUID        `json:"id"`
	OwnerID       string           `json:"owner_id"`
	DisplayName   string           `json:"display_name"`
	Ciphertext    []byte           `json:"-"`
	Status        CredentialStatus `json:"status"`
	CreatedAt     time.Time        `json:"created_at"`
	LastRotatedAt time.Time        `json:"last_rotated_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// CredentialSummary is the owner-facing listing view. It carries no secret
// material in any form.
type CredentialSummary struct {
	ID            uuid.UUID        `json:"id"`
	DisplayName   string           `json:"display_name"`
	Status        CredentialStatus `json:"status"`
	GrantCount    int              `json:"grant_count"`
	CreatedAt     time.Time        `json:"created_at"`
	LastRotatedAt time.Time        `json:"last_rotated_at"`
}
