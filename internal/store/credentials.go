package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sage-secrets-broker/internal/model"
)

func (p *Postgres) CreateCredential(ctx context.Context, cred *model.Credential) error {
	err := p.pool.QueryRow(ctx, `
		INSERT INTO credentials (owner_id, display_name, ciphertext, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, last_rotated_at, updated_at
	`,
		cred.OwnerID, cred.DisplayName, cred.Ciphertext, cred.Status,
	).Scan(&cred.ID, &cred.CreatedAt, &cred.LastRotatedAt, &cred.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

const credentialColumns = `id, owner_id, display_name, ciphertext, status,
	created_at, last_rotated_at, updated_at`

func (p *Postgres) GetCredential(ctx context.Context, id uuid.UUID) (*model.Credential, error) {
	var cred model.Credential
	err := p.pool.QueryRow(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE id = $1`, id).Scan(
		&cred.ID, &cred.OwnerID, &cred.DisplayName, &cred.Ciphertext, &cred.Status,
		&cred.CreatedAt, &cred.LastRotatedAt, &cred.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return &cred, nil
}

func (p *Postgres) ListCredentialsByOwner(ctx context.Context, ownerID string) ([]*model.Credential, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+credentialColumns+` FROM credentials WHERE owner_id = $1 ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var creds []*model.Credential
	for rows.Next() {
		var cred model.Credential
		err := rows.Scan(
			&cred.ID, &cred.OwnerID, &cred.DisplayName, &cred.Ciphertext, &cred.Status,
			&cred.CreatedAt, &cred.LastRotatedAt, &cred.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		creds = append(creds, &cred)
	}
	return creds, rows.Err()
}

func (p *Postgres) ActiveNameExists(ctx context.Context, ownerID, displayName string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM credentials
			WHERE owner_id = $1 AND display_name = $2 AND status = 'active'
		)
	`, ownerID, displayName).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check credential name: %w", err)
	}
	return exists, nil
}

func (p *Postgres) RotateCredentialCiphertext(ctx context.Context, id uuid.UUID, ciphertext []byte, rotatedAt time.Time) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE credentials
		SET ciphertext = $1, last_rotated_at = $2, updated_at = NOW()
		WHERE id = $3
	`, ciphertext, rotatedAt, id)
	if err != nil {
		return fmt.Errorf("rotate credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) UpdateCredentialStatus(ctx context.Context, id uuid.UUID, status model.CredentialStatus) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE credentials SET status = $1, updated_at = NOW() WHERE id = $2
	`, status, id)
	if err != nil {
		return fmt.Errorf("update credential status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
