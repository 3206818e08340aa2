package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UpsertAppData stores a value under key with last-writer-wins semantics.
// When encrypt is set and an encryption key is configured, the value is
// sealed and the row flagged; without a key the value is stored as plain
// bytes with the flag cleared. An upsert audit row lands in the same
// transaction.
func (s *Store) UpsertAppData(ctx context.Context, key string, value []byte, encrypt bool) error {
	if key == "" {
		return fmt.Errorf("upsert app data: key is required")
	}

	stored := value
	flag := 0
	if encrypt && s.key != nil {
		sealed, err := s.key.Seal(key, value)
		if err != nil {
			return fmt.Errorf("upsert app data: encrypt value: %w", err)
		}
		stored = sealed
		flag = 1
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.now()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO app_data(key, value, encrypted, updated_at)
			VALUES(?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, encrypted = excluded.encrypted, updated_at = excluded.updated_at
		`, key, stored, flag, fmtTime(now)); err != nil {
			return fmt.Errorf("upsert app data: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO audit_trail(id, user_id, event_type, event_data, created_at)
			VALUES(?, NULL, ?, ?, ?)
		`, newEventID(), EventAppDataUpserted, fmt.Sprintf("key=%s, encrypted=%d", key, flag), fmtTime(now)); err != nil {
			return fmt.Errorf("upsert app data: append audit: %w", err)
		}
		return nil
	})
}

// GetAppData returns the entry with its value decrypted. A flagged row
// without a working key is a hard ErrDecryptionFailed, never silently
// returned ciphertext.
func (s *Store) GetAppData(ctx context.Context, key string) (*AppDataEntry, error) {
	var (
		entry     AppDataEntry
		flag      int
		updatedAt string
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `
			SELECT key, value, encrypted, updated_at FROM app_data WHERE key = ?
		`, key).Scan(&entry.Key, &entry.Value, &flag, &updatedAt)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get app data: %w", err)
	}

	entry.Encrypted = flag != 0
	entry.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, err
	}

	if entry.Encrypted {
		if s.key == nil {
			return nil, fmt.Errorf("%w: entry %q is encrypted but no key is configured", ErrDecryptionFailed, key)
		}
		plain, err := s.key.Open(key, entry.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %q: %v", ErrDecryptionFailed, key, err)
		}
		entry.Value = plain
	}
	return &entry, nil
}
