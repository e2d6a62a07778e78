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

func (p *Postgres) CreateGrant(ctx context.Context, grant *model.Grant) error {
	err := p.pool.QueryRow(ctx, `
		INSERT INTO grants (credential_id, caller_principal, max_calls_per_day, expires_at, granted_by, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`,
		grant.CredentialID, grant.CallerPrincipal, grant.MaxCallsPerDay,
		grant.ExpiresAt, grant.GrantedBy, grant.Active,
	).Scan(&grant.ID, &grant.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert grant: %w", err)
	}
	return nil
}

const grantColumns = `id, credential_id, caller_principal, max_calls_per_day,
	expires_at, granted_by, active, created_at`

func scanGrant(row pgx.Row) (*model.Grant, error) {
	var g model.Grant
	err := row.Scan(
		&g.ID, &g.CredentialID, &g.CallerPrincipal, &g.MaxCallsPerDay,
		&g.ExpiresAt, &g.GrantedBy, &g.Active, &g.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (p *Postgres) GetGrant(ctx context.Context, id uuid.UUID) (*model.Grant, error) {
	grant, err := scanGrant(p.pool.QueryRow(ctx, `SELECT `+grantColumns+` FROM grants WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get grant: %w", err)
	}
	return grant, nil
}

func (p *Postgres) ListGrantsForPair(ctx context.Context, credentialID uuid.UUID, callerPrincipal string) ([]*model.Grant, error) {
	return p.listGrants(ctx, `
		SELECT `+grantColumns+` FROM grants
		WHERE credential_id = $1 AND caller_principal = $2
		ORDER BY created_at DESC
	`, credentialID, callerPrincipal)
}

func (p *Postgres) ListGrantsByGrantor(ctx context.Context, grantedBy string) ([]*model.Grant, error) {
	return p.listGrants(ctx, `
		SELECT `+grantColumns+` FROM grants WHERE granted_by = $1 ORDER BY created_at DESC
	`, grantedBy)
}

func (p *Postgres) listGrants(ctx context.Context, query string, args ...interface{}) ([]*model.Grant, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	defer rows.Close()

	var grants []*model.Grant
	for rows.Next() {
		grant, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		grants = append(grants, grant)
	}
	return grants, rows.Err()
}

func (p *Postgres) UpdateGrantActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := p.pool.Exec(ctx, `UPDATE grants SET active = $1 WHERE id = $2`, active, id)
	if err != nil {
		return fmt.Errorf("update grant active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) DeactivateGrantsForCredential(ctx context.Context, credentialID uuid.UUID) (int, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE grants SET active = FALSE WHERE credential_id = $1 AND active
	`, credentialID)
	if err != nil {
		return 0, fmt.Errorf("deactivate grants: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) DeactivateExpiredGrants(ctx context.Context, now time.Time) (int, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE grants SET active = FALSE WHERE active AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("deactivate expired grants: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) CountActiveGrants(ctx context.Context, credentialID uuid.UUID, now time.Time) (int, error) {
	var count int
	err := p.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM grants
		WHERE credential_id = $1 AND active AND expires_at > $2
	`, credentialID, now).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count grants: %w", err)
	}
	return count, nil
}
