// Package auth turns raw credentials into protected user records and
// enforces brute-force resistance with a per-account lockout.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MuskanSingh-1/Early-Flood-Predictor/internal/crypto"
	"github.com/MuskanSingh-1/Early-Flood-Predictor/internal/storage"
)

const (
	DefaultMaxFailedAttempts = 5
	DefaultLockDuration      = 5 * time.Minute
)

type Options struct {
	MaxFailedAttempts int
	LockDuration      time.Duration
	Logger            *slog.Logger
	Now               func() time.Time
}

type Service struct {
	store       *storage.Store
	maxAttempts int
	lockFor     time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

func NewService(store *storage.Store, opts Options) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("new auth service: store is nil")
	}
	if opts.MaxFailedAttempts <= 0 {
		opts.MaxFailedAttempts = DefaultMaxFailedAttempts
	}
	if opts.LockDuration <= 0 {
		opts.LockDuration = DefaultLockDuration
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		store:       store,
		maxAttempts: opts.MaxFailedAttempts,
		lockFor:     opts.LockDuration,
		logger:      opts.Logger,
		now:         opts.Now,
	}, nil
}

// Register creates the user with a fresh salt and a salted digest of the
// password. Returns false when the username is already taken. The raw
// password is never persisted or logged.
func (s *Service) Register(ctx context.Context, username, password, fullName string) (bool, error) {
	salt, err := crypto.GenerateSalt()
	if err != nil {
		return false, fmt.Errorf("register: %w", err)
	}
	hashed := crypto.HashPassword(password, salt)

	if _, err := s.store.CreateUser(ctx, username, hashed, salt, fullName); err != nil {
		if errors.Is(err, storage.ErrDuplicateUsername) {
			return false, nil
		}
		return false, fmt.Errorf("register: %w", err)
	}

	s.logger.Info("user registered", slog.String("username", username))
	return true, nil
}

// VerifyCredentials checks the password against the stored salted digest.
// A missing user, a wrong password, and a locked account all return false;
// callers cannot tell them apart, but the distinction lands in the logs and
// the audit trail. A match resets the failure counter and unlocks.
func (s *Service) VerifyCredentials(ctx context.Context, username, password string) (bool, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("verify credentials: %w", err)
	}

	now := s.now()
	if user.LockUntil > 0 && now.Unix() < user.LockUntil {
		s.logger.Warn("login attempt on locked account",
			slog.String("username", username),
			slog.Time("lock_until", time.Unix(user.LockUntil, 0).UTC()))
		return false, nil
	}

	hashed := crypto.HashPassword(password, user.Salt)
	if subtle.ConstantTimeCompare([]byte(hashed), []byte(user.PasswordHash)) == 1 {
		if err := s.store.ResetFailedAttempts(ctx, user.ID); err != nil {
			return false, fmt.Errorf("verify credentials: %w", err)
		}
		return true, nil
	}

	attempts, lockUntil, err := s.store.IncrementFailedAttempt(ctx, user.ID, s.maxAttempts, s.lockFor)
	if err != nil {
		return false, fmt.Errorf("verify credentials: %w", err)
	}
	if lockUntil > 0 {
		s.logger.Warn("account locked after repeated failures",
			slog.String("username", username),
			slog.Int("attempts", attempts),
			slog.Time("lock_until", time.Unix(lockUntil, 0).UTC()))
	} else {
		s.logger.Info("failed login attempt",
			slog.String("username", username),
			slog.Int("attempts", attempts))
	}
	return false, nil
}
