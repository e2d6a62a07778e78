package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sage-secrets-broker/internal/model"
)

// ReserveUsage performs the check-then-increment as one conditional upsert so
// two concurrent calls can never both pass a nearly-exhausted limit. Row-level
// locking serializes writers on the same (credential, caller, day) key while
// leaving other keys uncontended.
func (p *Postgres) ReserveUsage(ctx context.Context, credentialID uuid.UUID, callerPrincipal, day string, limit int) (bool, int, error) {
	var count int
	err := p.pool.QueryRow(ctx, `
		INSERT INTO usage_counters (credential_id, caller_principal, day, call_count, last_updated_at)
		VALUES ($1, $2, $3, 1, NOW())
		ON CONFLICT (credential_id, caller_principal, day) DO UPDATE
		SET call_count = usage_counters.call_count + 1,
		    last_updated_at = NOW()
		WHERE usage_counters.call_count < $4
		RETURNING call_count
	`, credentialID, callerPrincipal, day, limit).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		// Conflict arm rejected: the bucket is at or over the limit.
		counter, getErr := p.GetUsage(ctx, credentialID, callerPrincipal, day)
		if getErr != nil {
			return false, 0, getErr
		}
		return false, counter.CallCount, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("reserve usage: %w", err)
	}
	return true, count, nil
}

func (p *Postgres) AddPayloadBytes(ctx context.Context, credentialID uuid.UUID, callerPrincipal, day string, n int64) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE usage_counters
		SET total_payload_bytes = total_payload_bytes + $1, last_updated_at = NOW()
		WHERE credential_id = $2 AND caller_principal = $3 AND day = $4
	`, n, credentialID, callerPrincipal, day)
	if err != nil {
		return fmt.Errorf("add payload bytes: %w", err)
	}
	return nil
}

func (p *Postgres) GetUsage(ctx context.Context, credentialID uuid.UUID, callerPrincipal, day string) (*model.UsageCounter, error) {
	counter := model.UsageCounter{
		CredentialID:    credentialID,
		CallerPrincipal: callerPrincipal,
		Day:             day,
	}
	err := p.pool.QueryRow(ctx, `
		SELECT call_count, total_payload_bytes, last_updated_at
		FROM usage_counters
		WHERE credential_id = $1 AND caller_principal = $2 AND day = $3
	`, credentialID, callerPrincipal, day).Scan(
		&counter.CallCount, &counter.TotalPayloadBytes, &counter.LastUpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		// A missing bucket means no calls today.
		return &counter, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get usage: %w", err)
	}
	return &counter, nil
}
