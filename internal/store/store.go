package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/sage-secrets-broker/internal/model"
)

// ErrNotFound is returned when a record does not exist. Ownership failures
// are surfaced by the service layer under the same external code, so stores
// only ever report plain absence.
var ErrNotFound = errors.New("record not found")

// CredentialStore defines operations on encrypted credential records.
type CredentialStore interface {
	CreateCredential(ctx context.Context, cred *model.Credential) error
	GetCredential(ctx context.Context, id uuid.UUID) (*model.Credential, error)
	ListCredentialsByOwner(ctx context.Context, ownerID string) ([]*model.Credential, error)
	// ActiveNameExists reports whether the owner already has an active
	// credential with the given display name.
	ActiveNameExists(ctx context.Context, ownerID, displayName string) (bool, error)
	RotateCredentialCiphertext(ctx context.Context, id uuid.UUID, ciphertext []byte, rotatedAt time.Time) error
	UpdateCredentialStatus(ctx context.Context, id uuid.UUID, status model.CredentialStatus) error
}

// GrantStore defines operations on access grants.
type GrantStore interface {
	CreateGrant(ctx context.Context, grant *model.Grant) error
	GetGrant(ctx context.Context, id uuid.UUID) (*model.Grant, error)
	// ListGrantsForPair returns all stored grants for one
	// (credential, caller) pair, active or not. Activity is evaluated by
	// the caller against the current time.
	ListGrantsForPair(ctx context.Context, credentialID uuid.UUID, callerPrincipal string) ([]*model.Grant, error)
	ListGrantsByGrantor(ctx context.Context, grantedBy string) ([]*model.Grant, error)
	UpdateGrantActive(ctx context.Context, id uuid.UUID, active bool) error
	DeactivateGrantsForCredential(ctx context.Context, credentialID uuid.UUID) (int, error)
	DeactivateExpiredGrants(ctx context.Context, now time.Time) (int, error)
	CountActiveGrants(ctx context.Context, credentialID uuid.UUID, now time.Time) (int, error)
}

// UsageStore defines operations on daily usage counters.
type UsageStore interface {
	// ReserveUsage atomically increments the day bucket's call count if it
	// is below limit. It returns whether the reservation was made and the
	// count after the operation (unchanged when not reserved). Atomicity
	// per (credential, caller, day) key is the store's responsibility.
	ReserveUsage(ctx context.Context, credentialID uuid.UUID, callerPrincipal, day string, limit int) (bool, int, error)
	AddPayloadBytes(ctx context.Context, credentialID uuid.UUID, callerPrincipal, day string, n int64) error
	GetUsage(ctx context.Context, credentialID uuid.UUID, callerPrincipal, day string) (*model.UsageCounter, error)
}

// AuditStore defines append and read operations on the audit sequence.
// There is deliberately no update or delete operation.
type AuditStore interface {
	AppendAuditEntry(ctx context.Context, entry *model.AuditEntry) error
	LastAuditEntry(ctx context.Context) (*model.AuditEntry, error)
	ListAuditEntries(ctx context.Context, filters AuditFilters) ([]*model.AuditEntry, int, error)
	// WalkAuditEntries iterates the full sequence in append order.
	WalkAuditEntries(ctx context.Context, fn func(*model.AuditEntry) error) error
}

// VaultMetaStore persists deployment-level vault metadata, currently the KDF
// salt generated at first boot.
type VaultMetaStore interface {
	GetKDFSalt(ctx context.Context) ([]byte, error)
	SetKDFSalt(ctx context.Context, salt []byte) error
}

// Store combines all record sets.
type Store interface {
	CredentialStore
	GrantStore
	UsageStore
	AuditStore
	VaultMetaStore
}

// AuditFilters scope an audit query. OwnerID is mandatory: entries are only
// visible through credentials the requester owns.
type AuditFilters struct {
	OwnerID         string
	CredentialID    *uuid.UUID
	CallerPrincipal *string
	From            *time.Time
	To              *time.Time
	Page            int
	PerPage         int
}
