package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MuskanSingh-1/Early-Flood-Predictor/internal/crypto"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
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

func newTestStore(t *testing.T, opts Options) (*Store, *testClock) {
	t.Helper()

	clock := newTestClock()
	if opts.Now == nil {
		opts.Now = clock.Now
	}
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}

	store, err := Open(filepath.Join(t.TempDir(), "flood_app.db"), opts)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	return store, clock
}

func openRawTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "raw.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func tableExists(t *testing.T, db *sql.DB, table string) bool {
	t.Helper()
	var name string
	err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false
	}
	require.NoError(t, err)
	return true
}

func TestRunMigrationsCreatesSchema(t *testing.T) {
	t.Parallel()

	db := openRawTestDB(t)
	require.NoError(t, RunMigrations(db, DefaultMigrations()))

	for _, table := range []string{"users", "audit_trail", "app_data", "app_meta", "schema_migrations"} {
		require.Truef(t, tableExists(t, db, table), "expected table %s to exist", table)
	}

	// Second run is a no-op.
	require.NoError(t, RunMigrations(db, DefaultMigrations()))
}

func TestRunMigrationsIsAtomic(t *testing.T) {
	t.Parallel()

	db := openRawTestDB(t)
	migrations := []Migration{
		{
			Version:     1,
			Description: "create a",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec(`CREATE TABLE test_a (id TEXT PRIMARY KEY)`)
				return err
			},
		},
		{
			Version:     2,
			Description: "create b then fail",
			Up: func(tx *sql.Tx) error {
				if _, err := tx.Exec(`CREATE TABLE test_b (id TEXT PRIMARY KEY)`); err != nil {
					return err
				}
				return errors.New("boom")
			},
		},
	}

	require.Error(t, RunMigrations(db, migrations))
	require.True(t, tableExists(t, db, "test_a"))
	require.False(t, tableExists(t, db, "test_b"))
}

func TestOpenRefusesNewerSchemaVersion(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "flood_app.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	require.NoError(t, RunMigrations(db, DefaultMigrations()))
	_, err = db.Exec(`UPDATE app_meta SET value = ? WHERE key = 'schema_version'`, CurrentSchemaVersion()+1)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = Open(path, Options{Logger: discardLogger()})
	require.ErrorIs(t, err, ErrSchemaTooNew)
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	store, err := Open(filepath.Join(t.TempDir(), "flood_app.db"), Options{
		Logger: discardLogger(),
		Now:    clock.Now,
	})
	require.NoError(t, err)

	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	_, err = store.GetUserByUsername(context.Background(), "alice")
	require.ErrorIs(t, err, ErrClosed)
}

func TestReleaseAfterCloseDoesNotRepool(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	store, err := Open(filepath.Join(t.TempDir(), "flood_app.db"), Options{
		Logger: discardLogger(),
		Now:    clock.Now,
	})
	require.NoError(t, err)

	conn, pooled, err := store.acquire(context.Background())
	require.NoError(t, err)
	require.True(t, pooled)

	require.NoError(t, store.Close())

	// The connection was in flight during Close; releasing it now must
	// close it rather than park it in the drained pool.
	store.release(conn, pooled)
	require.Empty(t, store.pool)
}

func TestAcquireFallsBackToTemporaryConnection(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t, Options{PoolSize: 2, AcquireTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	// Drain the pool so every acquisition has to degrade.
	held := make([]*sql.Conn, 0, 2)
	for i := 0; i < 2; i++ {
		conn := <-store.pool
		held = append(held, conn)
	}

	_, err := store.CreateUser(ctx, "alice", "hash", "salt", "Alice A")
	require.NoError(t, err)

	user, err := store.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "alice", user.Username)

	for _, conn := range held {
		store.pool <- conn
	}
}

func TestScopedAcquisitionRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t, Options{})
	ctx := context.Background()

	boom := errors.New("boom")
	err := store.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO app_data(key, value, encrypted, updated_at) VALUES('k', x'00', 0, '2025-01-01T00:00:00Z')
		`); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = store.GetAppData(ctx, "k")
	require.ErrorIs(t, err, ErrNotFound)

	// The connection made it back to the pool.
	require.Len(t, store.pool, DefaultPoolSize)
}

func TestConcurrentRegistrationsAllSucceed(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t, Options{PoolSize: 4, AcquireTimeout: 100 * time.Millisecond})
	ctx := context.Background()

	const n = 32
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.CreateUser(ctx, fmt.Sprintf("user-%02d", i), "hash", "salt", "")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoErrorf(t, err, "registration %d", i)
	}

	var count int
	err := store.withTx(ctx, func(tx *sql.Tx) error {
		return tx.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count)
	})
	require.NoError(t, err)
	require.Equal(t, n, count)
}

func TestConcurrentFailedLoginsAreAllCounted(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t, Options{PoolSize: 4, AcquireTimeout: 100 * time.Millisecond})
	ctx := context.Background()

	id, err := store.CreateUser(ctx, "alice", "hash", "salt", "")
	require.NoError(t, err)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = store.IncrementFailedAttempt(ctx, id, 100, 5*time.Minute)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	user, err := store.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, n, user.FailedAttempts)
}

func TestEncryptedAppDataRoundTrip(t *testing.T) {
	t.Parallel()

	encoded, err := crypto.GenerateDataKey()
	require.NoError(t, err)
	key, err := crypto.LoadDataKey(encoded)
	require.NoError(t, err)
	t.Cleanup(key.Destroy)

	store, _ := newTestStore(t, Options{DataKey: key})
	ctx := context.Background()

	require.NoError(t, store.UpsertAppData(ctx, "district", []byte("Guwahati"), true))

	entry, err := store.GetAppData(ctx, "district")
	require.NoError(t, err)
	require.True(t, entry.Encrypted)
	require.Equal(t, []byte("Guwahati"), entry.Value)

	// The persisted bytes must not be the plaintext.
	var raw []byte
	err = store.withTx(ctx, func(tx *sql.Tx) error {
		return tx.QueryRow(`SELECT value FROM app_data WHERE key = 'district'`).Scan(&raw)
	})
	require.NoError(t, err)
	require.NotEqual(t, []byte("Guwahati"), raw)
}

func TestPlainAppDataRoundTripWithoutKey(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t, Options{})
	ctx := context.Background()

	// encrypt requested but no key configured: stored plain, flag cleared.
	require.NoError(t, store.UpsertAppData(ctx, "district", []byte("Guwahati"), true))

	entry, err := store.GetAppData(ctx, "district")
	require.NoError(t, err)
	require.False(t, entry.Encrypted)
	require.Equal(t, []byte("Guwahati"), entry.Value)
}

func TestUpsertAppDataOverwrites(t *testing.T) {
	t.Parallel()

	store, clock := newTestStore(t, Options{})
	ctx := context.Background()

	require.NoError(t, store.UpsertAppData(ctx, "model", []byte("v1"), false))
	clock.Advance(time.Minute)
	require.NoError(t, store.UpsertAppData(ctx, "model", []byte("v2"), false))

	entry, err := store.GetAppData(ctx, "model")
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), entry.Value)
}

func TestGetAppDataFlaggedRowWithoutKeyIsFatal(t *testing.T) {
	t.Parallel()

	encoded, err := crypto.GenerateDataKey()
	require.NoError(t, err)
	key, err := crypto.LoadDataKey(encoded)
	require.NoError(t, err)
	t.Cleanup(key.Destroy)

	path := filepath.Join(t.TempDir(), "flood_app.db")
	clock := newTestClock()
	encrypting, err := Open(path, Options{DataKey: key, Logger: discardLogger(), Now: clock.Now})
	require.NoError(t, err)
	require.NoError(t, encrypting.UpsertAppData(context.Background(), "district", []byte("Guwahati"), true))
	require.NoError(t, encrypting.Close())

	plain, err := Open(path, Options{Logger: discardLogger(), Now: clock.Now})
	require.NoError(t, err)
	t.Cleanup(func() { _ = plain.Close() })

	_, err = plain.GetAppData(context.Background(), "district")
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestGetAppDataWrongKeyIsFatal(t *testing.T) {
	t.Parallel()

	encodedA, err := crypto.GenerateDataKey()
	require.NoError(t, err)
	keyA, err := crypto.LoadDataKey(encodedA)
	require.NoError(t, err)
	t.Cleanup(keyA.Destroy)

	encodedB, err := crypto.GenerateDataKey()
	require.NoError(t, err)
	keyB, err := crypto.LoadDataKey(encodedB)
	require.NoError(t, err)
	t.Cleanup(keyB.Destroy)

	path := filepath.Join(t.TempDir(), "flood_app.db")
	clock := newTestClock()
	first, err := Open(path, Options{DataKey: keyA, Logger: discardLogger(), Now: clock.Now})
	require.NoError(t, err)
	require.NoError(t, first.UpsertAppData(context.Background(), "district", []byte("Guwahati"), true))
	require.NoError(t, first.Close())

	rotated, err := Open(path, Options{DataKey: keyB, Logger: discardLogger(), Now: clock.Now})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rotated.Close() })

	_, err = rotated.GetAppData(context.Background(), "district")
	require.ErrorIs(t, err, ErrDecryptionFailed)
}
