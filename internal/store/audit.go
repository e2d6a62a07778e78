package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/sage-secrets-broker/internal/model"
)

func (p *Postgres) AppendAuditEntry(ctx context.Context, entry *model.AuditEntry) error {
	// error_message is NOT NULL with an empty-string default; the empty
	// string must be bound as itself, never as NULL.
	err := p.pool.QueryRow(ctx, `
		INSERT INTO audit_log (
			id, ts, caller_principal, credential_id, action, method,
			endpoint_host, payload_size_bytes, response_time_ms,
			response_code, error_message, prev_hash, entry_hash
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING seq
	`,
		entry.ID, entry.Timestamp, entry.CallerPrincipal, entry.CredentialID,
		entry.Action, entry.Method, entry.EndpointHost, entry.PayloadSizeBytes,
		entry.ResponseTimeMs, entry.ResponseCode, entry.ErrorMessage,
		entry.PrevHash, entry.EntryHash,
	).Scan(&entry.Seq)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

const auditColumns = `id, seq, ts, caller_principal, credential_id, action, method,
	endpoint_host, payload_size_bytes, response_time_ms, response_code,
	error_message, prev_hash, entry_hash`

func scanAuditEntry(row pgx.Row) (*model.AuditEntry, error) {
	var e model.AuditEntry
	err := row.Scan(
		&e.ID, &e.Seq, &e.Timestamp, &e.CallerPrincipal, &e.CredentialID,
		&e.Action, &e.Method, &e.EndpointHost, &e.PayloadSizeBytes,
		&e.ResponseTimeMs, &e.ResponseCode, &e.ErrorMessage, &e.PrevHash, &e.EntryHash,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (p *Postgres) LastAuditEntry(ctx context.Context) (*model.AuditEntry, error) {
	entry, err := scanAuditEntry(p.pool.QueryRow(ctx, `
		SELECT `+auditColumns+` FROM audit_log ORDER BY seq DESC LIMIT 1
	`))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("last audit entry: %w", err)
	}
	return entry, nil
}

func (p *Postgres) ListAuditEntries(ctx context.Context, filters AuditFilters) ([]*model.AuditEntry, int, error) {
	// Owner scoping happens in SQL: entries are joined through the
	// credentials table, so another owner's entries simply never match.
	where := "WHERE c.owner_id = $1"
	args := []interface{}{filters.OwnerID}
	argIdx := 2

	if filters.CredentialID != nil {
		where += fmt.Sprintf(" AND a.credential_id = $%d", argIdx)
		args = append(args, *filters.CredentialID)
		argIdx++
	}
	if filters.CallerPrincipal != nil {
		where += fmt.Sprintf(" AND a.caller_principal = $%d", argIdx)
		args = append(args, *filters.CallerPrincipal)
		argIdx++
	}
	if filters.From != nil {
		where += fmt.Sprintf(" AND a.ts >= $%d", argIdx)
		args = append(args, *filters.From)
		argIdx++
	}
	if filters.To != nil {
		where += fmt.Sprintf(" AND a.ts <= $%d", argIdx)
		args = append(args, *filters.To)
		argIdx++
	}

	var total int
	countQuery := fmt.Sprintf(`
		SELECT COUNT(*) FROM audit_log a
		JOIN credentials c ON c.id = a.credential_id %s
	`, where)
	if err := p.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}

	page := filters.Page
	if page < 1 {
		page = 1
	}
	perPage := filters.PerPage
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	offset := (page - 1) * perPage

	args = append(args, perPage, offset)
	query := fmt.Sprintf(`
		SELECT a.id, a.seq, a.ts, a.caller_principal, a.credential_id, a.action,
		       a.method, a.endpoint_host, a.payload_size_bytes, a.response_time_ms,
		       a.response_code, a.error_message, a.prev_hash, a.entry_hash
		FROM audit_log a
		JOIN credentials c ON c.id = a.credential_id
		%s
		ORDER BY a.seq DESC
		LIMIT $%d OFFSET $%d
	`, where, argIdx, argIdx+1)

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*model.AuditEntry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, total, rows.Err()
}

func (p *Postgres) WalkAuditEntries(ctx context.Context, fn func(*model.AuditEntry) error) error {
	rows, err := p.pool.Query(ctx, `SELECT `+auditColumns+` FROM audit_log ORDER BY seq ASC`)
	if err != nil {
		return fmt.Errorf("walk audit entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return fmt.Errorf("scan audit entry: %w", err)
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
	return rows.Err()
}
