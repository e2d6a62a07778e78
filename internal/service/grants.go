package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sage-secrets-broker/internal/model"
	"github.com/sage-secrets-broker/internal/store"
	"github.com/sage-secrets-broker/internal/validation"
)

const maxCallsPerDayCeiling = 100000

// GrantRegistry owns the access-grant lifecycle: owners issue time-bounded,
// rate-limited grants tying one caller principal to one credential.
type GrantRegistry struct {
	store store.Store
	vault *Vault
	audit *AuditLog
}

func NewGrantRegistry(s store.Store, vault *Vault, audit *AuditLog) *GrantRegistry {
	return &GrantRegistry{store: s, vault: vault, audit: audit}
}

// Create issues a grant. The requester must own the credential; the expiry
// must be strictly in the future.
func (r *GrantRegistry) Create(ctx context.Context, credentialID uuid.UUID, callerPrincipal string, maxCallsPerDay int, expiresAt time.Time, requesterID string) (*model.Grant, error) {
	if err := validation.Principal(callerPrincipal); err != nil {
		return nil, NewBadRequest("invalid_request", err.Error())
	}
	if maxCallsPerDay < 1 || maxCallsPerDay > maxCallsPerDayCeiling {
		return nil, NewBadRequest("invalid_request", "max_calls_per_day must be between 1 and 100000")
	}
	if expiresAt.IsZero() {
		return nil, NewBadRequest("invalid_request", "expires_at is required")
	}
	if !expiresAt.After(time.Now().UTC()) {
		return nil, NewBadRequest("invalid_request", "expires_at must be in the future")
	}

	cred, err := r.vault.ownedCredential(ctx, credentialID, requesterID)
	if err != nil {
		return nil, err
	}
	if cred.Status != model.CredentialActive {
		return nil, NewBadRequest("credential_revoked", "Cannot grant access to a revoked credential")
	}

	grant := &model.Grant{
		CredentialID:    credentialID,
		CallerPrincipal: callerPrincipal,
		MaxCallsPerDay:  maxCallsPerDay,
		ExpiresAt:       expiresAt.UTC(),
		GrantedBy:       requesterID,
		Active:          true,
	}
	if err := r.store.CreateGrant(ctx, grant); err != nil {
		log.Error().Err(err).Msg("failed to store grant")
		return nil, NewInternal("internal_error", "Failed to create grant")
	}

	r.audit.Record(ctx, RecordInput{
		CallerPrincipal: requesterID,
		CredentialID:    credentialID,
		Action:          model.ActionGrant,
		Method:          "POST",
		EndpointHost:    "grants/" + callerPrincipal,
		ResponseCode:    201,
	})

	log.Info().
		Str("grant_id", grant.ID.String()).
		Str("credential_id", credentialID.String()).
		Int("max_calls_per_day", maxCallsPerDay).
		Msg("grant created")
	return grant, nil
}

// CheckAuthorization decides whether the caller may use the credential right
// now. It requires the credential active and at least one grant active and
// unexpired at the current instant; when several grants match, the most
// permissive daily limit wins so the decision is deterministic. Expiry is
// evaluated against now, never against the stored flag, so an expired grant
// denies even if no sweep has run.
func (r *GrantRegistry) CheckAuthorization(ctx context.Context, credentialID uuid.UUID, callerPrincipal string) (*model.Grant, error) {
	cred, err := r.store.GetCredential(ctx, credentialID)
	if err == store.ErrNotFound {
		return nil, NewForbidden("authorization_denied", "No active grant for this credential")
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to load credential for authorization")
		return nil, NewInternal("internal_error", "Authorization check failed")
	}
	if cred.Status != model.CredentialActive {
		return nil, NewForbidden("authorization_denied", "No active grant for this credential")
	}

	grants, err := r.store.ListGrantsForPair(ctx, credentialID, callerPrincipal)
	if err != nil {
		log.Error().Err(err).Msg("failed to list grants for authorization")
		return nil, NewInternal("internal_error", "Authorization check failed")
	}

	now := time.Now().UTC()
	var best *model.Grant
	for _, grant := range grants {
		if !grant.IsActiveAt(now) {
			continue
		}
		if best == nil || grant.MaxCallsPerDay > best.MaxCallsPerDay {
			best = grant
		}
	}
	if best == nil {
		return nil, NewForbidden("authorization_denied", "No active grant for this credential")
	}
	return best, nil
}

// Revoke deactivates a grant. Only the credential's owner may revoke; the
// revocation is visible to the next authorization check immediately.
func (r *GrantRegistry) Revoke(ctx context.Context, grantID uuid.UUID, requesterID string) error {
	grant, err := r.store.GetGrant(ctx, grantID)
	if err == store.ErrNotFound {
		return NewNotFound("not_found", "Grant not found")
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to load grant")
		return NewInternal("internal_error", "Failed to revoke grant")
	}

	if _, err := r.vault.ownedCredential(ctx, grant.CredentialID, requesterID); err != nil {
		// Ownership failure reads as a missing grant.
		return NewNotFound("not_found", "Grant not found")
	}

	if !grant.Active {
		return NewBadRequest("grant_revoked", "Grant is already revoked")
	}

	if err := r.store.UpdateGrantActive(ctx, grantID, false); err != nil {
		log.Error().Err(err).Str("grant_id", grantID.String()).Msg("failed to revoke grant")
		return NewInternal("internal_error", "Failed to revoke grant")
	}

	r.audit.Record(ctx, RecordInput{
		CallerPrincipal: requesterID,
		CredentialID:    grant.CredentialID,
		Action:          model.ActionRevokeGrant,
		Method:          "DELETE",
		EndpointHost:    "grants/" + grantID.String(),
		ResponseCode:    204,
	})

	log.Info().Str("grant_id", grantID.String()).Msg("grant revoked")
	return nil
}

// List returns all grants issued by the requester.
func (r *GrantRegistry) List(ctx context.Context, requesterID string) ([]*model.Grant, error) {
	grants, err := r.store.ListGrantsByGrantor(ctx, requesterID)
	if err != nil {
		log.Error().Err(err).Msg("failed to list grants")
		return nil, NewInternal("internal_error", "Failed to list grants")
	}
	return grants, nil
}

// CleanupExpired flips lazily-expired grants to inactive. Pure bookkeeping:
// authorization never depends on this having run.
func (r *GrantRegistry) CleanupExpired(ctx context.Context) (int, error) {
	count, err := r.store.DeactivateExpiredGrants(ctx, time.Now().UTC())
	if err != nil {
		log.Error().Err(err).Msg("expired grant sweep failed")
		return 0, NewInternal("internal_error", "Cleanup failed")
	}
	if count > 0 {
		log.Info().Int("deactivated", count).Msg("expired grants swept")
	}
	return count, nil
}
