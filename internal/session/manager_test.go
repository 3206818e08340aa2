package session

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MuskanSingh-1/Early-Flood-Predictor/internal/storage"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T) (*Manager, int64, *testClock) {
	t.Helper()

	clock := &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := storage.Open(filepath.Join(t.TempDir(), "flood_app.db"), storage.Options{
		Logger: logger,
		Now:    clock.Now,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })

	userID, err := store.CreateUser(context.Background(), "alice", "hash", "salt", "Alice A")
	require.NoError(t, err)

	mgr, err := NewManager(store, Options{Logger: logger, Now: clock.Now})
	require.NoError(t, err)
	return mgr, userID, clock
}

func TestCreateAndValidate(t *testing.T) {
	t.Parallel()

	mgr, userID, _ := newTestManager(t)

	token, err := mgr.Create(context.Background(), "alice")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	got, ok := mgr.Validate(token)
	require.True(t, ok)
	require.Equal(t, userID, got)
}

func TestCreateUnknownUserFails(t *testing.T) {
	t.Parallel()

	mgr, _, _ := newTestManager(t)

	_, err := mgr.Create(context.Background(), "ghost")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSecondSessionInvalidatesFirstToken(t *testing.T) {
	t.Parallel()

	mgr, userID, _ := newTestManager(t)
	ctx := context.Background()

	first, err := mgr.Create(ctx, "alice")
	require.NoError(t, err)
	second, err := mgr.Create(ctx, "alice")
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	_, ok := mgr.Validate(first)
	require.False(t, ok)

	got, ok := mgr.Validate(second)
	require.True(t, ok)
	require.Equal(t, userID, got)
}

func TestExpiredAndUnknownTokensAreRejected(t *testing.T) {
	t.Parallel()

	mgr, _, clock := newTestManager(t)

	token, err := mgr.Create(context.Background(), "alice")
	require.NoError(t, err)

	clock.Advance(DefaultTTL + time.Second)
	_, ok := mgr.Validate(token)
	require.False(t, ok)

	_, ok = mgr.Validate("not-a-token")
	require.False(t, ok)
	_, ok = mgr.Validate("")
	require.False(t, ok)
}

func TestLogoutInvalidatesImmediately(t *testing.T) {
	t.Parallel()

	mgr, userID, _ := newTestManager(t)

	token, err := mgr.Create(context.Background(), "alice")
	require.NoError(t, err)

	mgr.Logout(userID)
	_, ok := mgr.Validate(token)
	require.False(t, ok)

	// Logging out again is harmless.
	mgr.Logout(userID)
}

func TestConcurrentSessionAccessIsSafe(t *testing.T) {
	t.Parallel()

	mgr, userID, _ := newTestManager(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token, err := mgr.Create(ctx, "alice")
			if err != nil {
				errs[i] = err
				return
			}
			mgr.Validate(token)
			mgr.Logout(userID)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
}
