package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Sealed signing-key blobs. The vault encrypts before handing blobs over, so
// rows hold ciphertext only.

// SaveKey upserts one sealed key blob under its reference.
func (db *DB) SaveKey(ctx context.Context, ref string, blob []byte) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO signing_keys (ref, blob)
		VALUES ($1, $2)
		ON CONFLICT (ref) DO UPDATE SET blob = EXCLUDED.blob`,
		ref, blob)
	if err != nil {
		return fmt.Errorf("save signing key: %w", err)
	}
	return nil
}

// LoadKey fetches one sealed key blob, or (nil, nil) for an unknown ref.
func (db *DB) LoadKey(ctx context.Context, ref string) ([]byte, error) {
	var blob []byte
	err := db.GetContext(ctx, &blob, `SELECT blob FROM signing_keys WHERE ref = $1`, ref)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load signing key: %w", err)
	}
	return blob, nil
}
