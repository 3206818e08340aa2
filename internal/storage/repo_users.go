package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateUser inserts the user row and its registration audit row in one
// transaction. A username collision surfaces as ErrDuplicateUsername.
func (s *Store) CreateUser(ctx context.Context, username, passwordHash, salt, fullName string) (int64, error) {
	if username == "" {
		return 0, fmt.Errorf("create user: username is required")
	}
	if passwordHash == "" || salt == "" {
		return 0, fmt.Errorf("create user: password hash and salt are required")
	}

	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.now()
		res, err := tx.ExecContext(ctx, `
			INSERT INTO users(username, password_hash, salt, full_name, failed_attempts, lock_until, created_at)
			VALUES(?, ?, ?, ?, 0, 0, ?)
		`, username, passwordHash, salt, nullableString(fullName), fmtTime(now))
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateUsername
			}
			return fmt.Errorf("create user: %w", err)
		}

		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("create user: last insert id: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO audit_trail(id, user_id, event_type, event_data, created_at)
			VALUES(?, ?, ?, ?, ?)
		`, newEventID(), id, EventUserRegistered, "username="+username, fmtTime(now)); err != nil {
			return fmt.Errorf("create user: append audit: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// GetUserByUsername is a point lookup; an unknown username returns
// ErrNotFound, which callers treat as a normal outcome.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*UserRecord, error) {
	var (
		user      UserRecord
		fullName  sql.NullString
		createdAt string
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `
			SELECT id, username, password_hash, salt, full_name, failed_attempts, lock_until, created_at
			FROM users
			WHERE username = ?
		`, username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Salt, &fullName, &user.FailedAttempts, &user.LockUntil, &createdAt)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by username: %w", err)
	}

	user.FullName = fullName.String
	user.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// ResetFailedAttempts clears the failure counter and lock in the same
// transaction as its audit row.
func (s *Store) ResetFailedAttempts(ctx context.Context, userID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.now()
		if _, err := tx.ExecContext(ctx, `
			UPDATE users SET failed_attempts = 0, lock_until = 0 WHERE id = ?
		`, userID); err != nil {
			return fmt.Errorf("reset failed attempts: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO audit_trail(id, user_id, event_type, event_data, created_at)
			VALUES(?, ?, ?, ?, ?)
		`, newEventID(), userID, EventResetFailedAttempts, "reset by successful login", fmtTime(now)); err != nil {
			return fmt.Errorf("reset failed attempts: append audit: %w", err)
		}
		return nil
	})
}

// IncrementFailedAttempt bumps the failure counter and applies the lock once
// the threshold is reached. The read, the update, and the audit row execute
// in one transaction so concurrent failures against the same account cannot
// lose updates. Returns the new counter and the lock expiry (0 if unlocked).
// An unknown user id is a no-op.
func (s *Store) IncrementFailedAttempt(ctx context.Context, userID int64, maxAttempts int, lockFor time.Duration) (int, int64, error) {
	var (
		attempts  int
		lockUntil int64
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.now()
		err := tx.QueryRowContext(ctx, `SELECT failed_attempts FROM users WHERE id = ?`, userID).Scan(&attempts)
		if errors.Is(err, sql.ErrNoRows) {
			attempts = 0
			return nil
		}
		if err != nil {
			return fmt.Errorf("increment failed attempt: read counter: %w", err)
		}

		attempts++
		lockUntil = 0
		if attempts >= maxAttempts {
			lockUntil = now.Add(lockFor).Unix()
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE users SET failed_attempts = ?, lock_until = ? WHERE id = ?
		`, attempts, lockUntil, userID); err != nil {
			return fmt.Errorf("increment failed attempt: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO audit_trail(id, user_id, event_type, event_data, created_at)
			VALUES(?, ?, ?, ?, ?)
		`, newEventID(), userID, EventFailedLogin, fmt.Sprintf("attempts=%d, lock_until=%d", attempts, lockUntil), fmtTime(now)); err != nil {
			return fmt.Errorf("increment failed attempt: append audit: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return attempts, lockUntil, nil
}

func nullableString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
