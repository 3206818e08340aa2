// Package session issues, validates, and revokes ephemeral bearer tokens.
// Sessions live only in process memory: a restart invalidates all of them.
package session

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MuskanSingh-1/Early-Flood-Predictor/internal/storage"
)

const (
	TokenBytes = 32
	DefaultTTL = 30 * time.Minute
)

type Options struct {
	TTL    time.Duration
	Logger *slog.Logger
	Now    func() time.Time
}

type entry struct {
	token  string
	expiry time.Time
}

// Manager keeps at most one live session per user id. All access to the
// session map goes through the mutex.
type Manager struct {
	store  *storage.Store
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[int64]entry
}

func NewManager(store *storage.Store, opts Options) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("new session manager: store is nil")
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Manager{
		store:    store,
		ttl:      opts.TTL,
		logger:   opts.Logger,
		now:      opts.Now,
		sessions: make(map[int64]entry),
	}, nil
}

// Create issues a fresh URL-safe token for the named user, silently
// replacing any prior session for that user.
func (m *Manager) Create(ctx context.Context, username string) (string, error) {
	user, err := m.store.GetUserByUsername(ctx, username)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	raw := make([]byte, TokenBytes)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("create session: generate token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)
	expiry := m.now().Add(m.ttl)

	m.mu.Lock()
	m.sessions[user.ID] = entry{token: token, expiry: expiry}
	m.mu.Unlock()

	m.logger.Info("session created",
		slog.Int64("user_id", user.ID),
		slog.Time("expiry", expiry))
	return token, nil
}

// Validate returns the user id owning a live, non-expired token. Expired
// entries are treated as invalid lazily; there is no background sweep.
// The scan is linear over active sessions, which is fine at this scale; a
// token-keyed index would be the next step if session counts grow.
func (m *Manager) Validate(token string) (int64, bool) {
	if token == "" {
		return 0, false
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	for userID, sess := range m.sessions {
		if subtle.ConstantTimeCompare([]byte(sess.token), []byte(token)) == 1 && now.Before(sess.expiry) {
			return userID, true
		}
	}
	return 0, false
}

// Logout removes the user's session immediately, regardless of remaining
// expiry. Unknown user ids are a no-op.
func (m *Manager) Logout(userID int64) {
	m.mu.Lock()
	_, existed := m.sessions[userID]
	delete(m.sessions, userID)
	m.mu.Unlock()

	if existed {
		m.logger.Info("session terminated", slog.Int64("user_id", userID))
	}
}
