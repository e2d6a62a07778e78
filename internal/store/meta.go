package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const kdfSaltKey = "kdf_salt"

func (p *Postgres) GetKDFSalt(ctx context.Context) ([]byte, error) {
	var salt []byte
	err := p.pool.QueryRow(ctx, `SELECT value FROM vault_meta WHERE key = $1`, kdfSaltKey).Scan(&salt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get kdf salt: %w", err)
	}
	return salt, nil
}

func (p *Postgres) SetKDFSalt(ctx context.Context, salt []byte) error {
	// First writer wins; a concurrent boot keeps the stored salt.
	_, err := p.pool.Exec(ctx, `
		INSERT INTO vault_meta (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO NOTHING
	`, kdfSaltKey, salt)
	if err != nil {
		return fmt.Errorf("set kdf salt: %w", err)
	}
	return nil
}
