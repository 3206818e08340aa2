package storage

import (
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("storage: not found")
	ErrDuplicateUsername = errors.New("storage: username already exists")
	ErrDecryptionFailed  = errors.New("storage: decryption failed")
	ErrSchemaTooNew      = errors.New("storage: schema version newer than code")
	ErrClosed            = errors.New("storage: store is closed")
)

// Audit event types written inline by the repository transactions. The first
// three are reserved: CreateAudit silently drops externally supplied events
// carrying them.
const (
	EventUserRegistered      = "user_registered"
	EventFailedLogin         = "failed_login"
	EventResetFailedAttempts = "reset_failed_attempts"
	EventAppDataUpserted     = "upsert_app_data"
)

// UserRecord is a row of the users table. LockUntil is epoch seconds; zero
// means the account is not locked.
type UserRecord struct {
	ID             int64
	Username       string
	PasswordHash   string
	Salt           string
	FullName       string
	FailedAttempts int
	LockUntil      int64
	CreatedAt      time.Time
}

// AuditEvent is an append-only row of the audit_trail table. UserID is nil
// for system events and after the referenced user row is deleted.
type AuditEvent struct {
	ID        string
	UserID    *int64
	EventType string
	EventData string
	CreatedAt time.Time
}

type AuditFilter struct {
	UserID    *int64
	EventType string
	Since     *time.Time
	Limit     int
}

// AppDataEntry is a row of the keyed app_data store. Value holds plaintext on
// read; Encrypted reports whether the persisted bytes were encrypted.
type AppDataEntry struct {
	Key       string
	Value     []byte
	Encrypted bool
	UpdatedAt time.Time
}
