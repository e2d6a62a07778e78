package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sage-secrets-broker/internal/crypto"
	"github.com/sage-secrets-broker/internal/model"
	"github.com/sage-secrets-broker/internal/store"
	"github.com/sage-secrets-broker/internal/validation"
)

// Vault owns the credential lifecycle. Secrets are encrypted on the way in
// and only decrypted by RetrieveForUse; plaintext never leaves this package
// except to the proxy for the duration of one call.
type Vault struct {
	store     store.Store
	masterKey []byte
	audit     *AuditLog
}

// NewVault creates a vault bound to a derived master key. The key slice is
// retained; callers must not reuse or zero it.
func NewVault(s store.Store, masterKey []byte, audit *AuditLog) *Vault {
	return &Vault{store: s, masterKey: masterKey, audit: audit}
}

// LoadMasterKey derives the process master key from the configured
// passphrase and the deployment KDF salt, creating and persisting the salt on
// first boot.
func LoadMasterKey(ctx context.Context, s store.VaultMetaStore, passphrase string) ([]byte, error) {
	salt, err := s.GetKDFSalt(ctx)
	if err == store.ErrNotFound {
		salt, err = crypto.NewSalt()
		if err != nil {
			return nil, err
		}
		if err := s.SetKDFSalt(ctx, salt); err != nil {
			return nil, err
		}
		// Re-read in case a concurrent boot won the insert.
		salt, err = s.GetKDFSalt(ctx)
	}
	if err != nil {
		return nil, err
	}
	return crypto.DeriveMasterKey(passphrase, salt)
}

// KeyPreview masks a secret for display at registration time. Only the first
// four characters survive; the preview is never persisted.
func KeyPreview(secret string) string {
	if len(secret) <= 4 {
		return "****"
	}
	return secret[:4] + "..."
}

// Register encrypts and stores a new credential for the owner.
func (v *Vault) Register(ctx context.Context, ownerID, displayName, secret string) (*model.Credential, error) {
	if err := validation.DisplayName(displayName); err != nil {
		return nil, NewBadRequest("invalid_request", err.Error())
	}
	if err := validation.Secret(secret); err != nil {
		return nil, NewBadRequest("invalid_request", err.Error())
	}

	taken, err := v.store.ActiveNameExists(ctx, ownerID, displayName)
	if err != nil {
		log.Error().Err(err).Msg("failed to check credential name")
		return nil, NewInternal("internal_error", "Failed to register credential")
	}
	if taken {
		return nil, NewBadRequest("name_taken", "An active credential with this name already exists")
	}

	ciphertext, err := crypto.Encrypt([]byte(secret), v.masterKey)
	if err != nil {
		log.Error().Err(err).Msg("failed to encrypt credential")
		return nil, NewInternal("internal_error", "Failed to register credential")
	}

	cred := &model.Credential{
		OwnerID:     ownerID,
		DisplayName: displayName,
		Ciphertext:  ciphertext,
		Status:      model.CredentialActive,
	}
	if err := v.store.CreateCredential(ctx, cred); err != nil {
		log.Error().Err(err).Msg("failed to store credential")
		return nil, NewInternal("internal_error", "Failed to register credential")
	}

	v.audit.Record(ctx, RecordInput{
		CallerPrincipal: ownerID,
		CredentialID:    cred.ID,
		Action:          model.ActionRegister,
		Method:          "POST",
		EndpointHost:    "credentials",
		ResponseCode:    201,
	})

	log.Info().Str("credential_id", cred.ID.String()).Str("owner", ownerID).Msg("credential registered")
	return cred, nil
}

// Rotate replaces a credential's secret in place. The id and all grants
// referencing it are unchanged.
func (v *Vault) Rotate(ctx context.Context, credentialID uuid.UUID, requesterID, newSecret string) error {
	if err := validation.Secret(newSecret); err != nil {
		return NewBadRequest("invalid_request", err.Error())
	}

	cred, err := v.ownedCredential(ctx, credentialID, requesterID)
	if err != nil {
		return err
	}
	if cred.Status != model.CredentialActive {
		return NewBadRequest("credential_revoked", "Cannot rotate a revoked credential")
	}

	ciphertext, err := crypto.Encrypt([]byte(newSecret), v.masterKey)
	if err != nil {
		log.Error().Err(err).Msg("failed to encrypt rotated credential")
		return NewInternal("internal_error", "Failed to rotate credential")
	}

	if err := v.store.RotateCredentialCiphertext(ctx, credentialID, ciphertext, time.Now().UTC()); err != nil {
		log.Error().Err(err).Str("credential_id", credentialID.String()).Msg("failed to rotate credential")
		return NewInternal("internal_error", "Failed to rotate credential")
	}

	v.audit.Record(ctx, RecordInput{
		CallerPrincipal: requesterID,
		CredentialID:    credentialID,
		Action:          model.ActionRotate,
		Method:          "POST",
		EndpointHost:    "credentials/rotate",
		ResponseCode:    204,
	})

	log.Info().Str("credential_id", credentialID.String()).Msg("credential rotated")
	return nil
}

// Revoke deactivates a credential and cascades to every grant referencing
// it. Records are soft-deactivated, never deleted, so audit history stays
// resolvable.
func (v *Vault) Revoke(ctx context.Context, credentialID uuid.UUID, requesterID string) error {
	cred, err := v.ownedCredential(ctx, credentialID, requesterID)
	if err != nil {
		return err
	}
	if cred.Status == model.CredentialRevoked {
		return NewBadRequest("credential_revoked", "Credential is already revoked")
	}

	if err := v.store.UpdateCredentialStatus(ctx, credentialID, model.CredentialRevoked); err != nil {
		log.Error().Err(err).Str("credential_id", credentialID.String()).Msg("failed to revoke credential")
		return NewInternal("internal_error", "Failed to revoke credential")
	}

	revoked, err := v.store.DeactivateGrantsForCredential(ctx, credentialID)
	if err != nil {
		log.Error().Err(err).Str("credential_id", credentialID.String()).Msg("failed to cascade grant revocation")
		return NewInternal("internal_error", "Failed to revoke credential")
	}

	v.audit.Record(ctx, RecordInput{
		CallerPrincipal: requesterID,
		CredentialID:    credentialID,
		Action:          model.ActionRevoke,
		Method:          "DELETE",
		EndpointHost:    "credentials",
		ResponseCode:    204,
	})

	log.Info().
		Str("credential_id", credentialID.String()).
		Int("grants_deactivated", revoked).
		Msg("credential revoked")
	return nil
}

// RetrieveForUse decrypts a credential for one proxy call. Never exposed at
// the public boundary. The active check runs before decryption so a
// concurrently revoked credential fails closed.
func (v *Vault) RetrieveForUse(ctx context.Context, credentialID uuid.UUID) ([]byte, error) {
	cred, err := v.store.GetCredential(ctx, credentialID)
	if err == store.ErrNotFound {
		return nil, NewNotFound("not_found", "Credential not found")
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to load credential")
		return nil, NewInternal("internal_error", "Failed to retrieve credential")
	}
	if cred.Status != model.CredentialActive {
		return nil, NewForbidden("credential_revoked", "Credential has been revoked")
	}

	plaintext, err := crypto.Decrypt(cred.Ciphertext, v.masterKey)
	if err != nil {
		log.Error().Err(err).Str("credential_id", credentialID.String()).Msg("credential decryption failed")
		return nil, NewInternal("credential_error", "Credential could not be decrypted")
	}
	return plaintext, nil
}

// ListMetadata returns the owner's credentials without any secret material.
func (v *Vault) ListMetadata(ctx context.Context, ownerID string) ([]model.CredentialSummary, error) {
	creds, err := v.store.ListCredentialsByOwner(ctx, ownerID)
	if err != nil {
		log.Error().Err(err).Msg("failed to list credentials")
		return nil, NewInternal("internal_error", "Failed to list credentials")
	}

	now := time.Now().UTC()
	summaries := make([]model.CredentialSummary, 0, len(creds))
	for _, cred := range creds {
		grants, err := v.store.CountActiveGrants(ctx, cred.ID, now)
		if err != nil {
			log.Error().Err(err).Str("credential_id", cred.ID.String()).Msg("failed to count grants")
			grants = 0
		}
		summaries = append(summaries, model.CredentialSummary{
			ID:            cred.ID,
			DisplayName:   cred.DisplayName,
			Status:        cred.Status,
			GrantCount:    grants,
			CreatedAt:     cred.CreatedAt,
			LastRotatedAt: cred.LastRotatedAt,
		})
	}
	return summaries, nil
}

// OwnerOf reports the owner of a credential, for owner-scoped collaborators.
func (v *Vault) OwnerOf(ctx context.Context, credentialID uuid.UUID) (string, error) {
	cred, err := v.store.GetCredential(ctx, credentialID)
	if err == store.ErrNotFound {
		return "", NewNotFound("not_found", "Credential not found")
	}
	if err != nil {
		return "", NewInternal("internal_error", "Failed to load credential")
	}
	return cred.OwnerID, nil
}

// ownedCredential loads a credential and enforces ownership. A credential
// owned by someone else reads exactly like a missing one.
func (v *Vault) ownedCredential(ctx context.Context, credentialID uuid.UUID, requesterID string) (*model.Credential, error) {
	cred, err := v.store.GetCredential(ctx, credentialID)
	if err == store.ErrNotFound {
		return nil, NewNotFound("not_found", "Credential not found")
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to load credential")
		return nil, NewInternal("internal_error", "Failed to load credential")
	}
	if cred.OwnerID != requesterID {
		return nil, NewNotFound("not_found", "Credential not found")
	}
	return cred, nil
}
