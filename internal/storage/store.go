package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MuskanSingh-1/Early-Flood-Predictor/internal/crypto"
	_ "modernc.org/sqlite"
)

const (
	DefaultPoolSize       = 4
	DefaultAcquireTimeout = 5 * time.Second
	DefaultBusyTimeout    = 30 * time.Second
)

// Options tune how the store is opened. Zero values select the defaults
// above; a nil DataKey disables at-rest encryption of app_data values.
type Options struct {
	PoolSize       int
	AcquireTimeout time.Duration
	BusyTimeout    time.Duration
	DataKey        *crypto.DataKey
	Logger         *slog.Logger
	Now            func() time.Time
}

type Store struct {
	db             *sql.DB
	path           string
	pool           chan *sql.Conn
	acquireTimeout time.Duration
	key            *crypto.DataKey
	logger         *slog.Logger
	now            func() time.Time

	mu     sync.Mutex
	closed bool
}

// Open opens (creating if necessary) the database file, applies pending
// schema migrations, and fills the connection pool. Any failure here is
// fatal: the store is unusable and nothing is leaked.
func Open(path string, opts Options) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("open storage: empty path")
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = DefaultPoolSize
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = DefaultAcquireTimeout
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = DefaultBusyTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("open storage: create parent dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(path, opts.BusyTimeout))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	// The bounded pool below owns connection reuse; released fallback
	// connections must really close.
	db.SetMaxIdleConns(0)

	if err := RunMigrations(db, DefaultMigrations()); err != nil {
		_ = db.Close()
		return nil, err
	}

	store := &Store{
		db:             db,
		path:           path,
		pool:           make(chan *sql.Conn, opts.PoolSize),
		acquireTimeout: opts.AcquireTimeout,
		key:            opts.DataKey,
		logger:         opts.Logger,
		now:            opts.Now,
	}

	ctx := context.Background()
	for i := 0; i < opts.PoolSize; i++ {
		conn, err := db.Conn(ctx)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("open storage: fill pool: %w", err)
		}
		store.pool <- conn
	}

	if err := os.Chmod(path, 0o600); err != nil && !os.IsNotExist(err) {
		_ = store.Close()
		return nil, fmt.Errorf("open storage: set db file permissions: %w", err)
	}

	return store, nil
}

// Encrypting reports whether an at-rest encryption key is configured.
func (s *Store) Encrypting() bool {
	return s.key != nil
}

func (s *Store) Path() string {
	return s.path
}

// Close drains and closes every pooled connection, then the database handle.
// Idempotent. The mutex is held across the drain so a concurrent release
// cannot park a connection in the pool after it has been emptied; in-flight
// connections close themselves on release instead.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	for {
		select {
		case conn := <-s.pool:
			_ = conn.Close()
		default:
			return s.db.Close()
		}
	}
}

// withTx is the scoped acquisition every unit of work runs through: check a
// connection out, begin a transaction, commit on success or roll back on
// failure, and return the connection to the pool (or close it if the pool is
// already full). No exit path leaks a connection.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	conn, pooled, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer s.release(conn, pooled)

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// acquire blocks for up to the configured timeout waiting for a pooled
// connection. On timeout it degrades to a temporary unpooled connection
// rather than failing the caller.
func (s *Store) acquire(ctx context.Context) (*sql.Conn, bool, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, false, ErrClosed
	}

	select {
	case conn := <-s.pool:
		return conn, true, nil
	default:
	}

	timer := time.NewTimer(s.acquireTimeout)
	defer timer.Stop()

	select {
	case conn := <-s.pool:
		return conn, true, nil
	case <-timer.C:
		s.logger.Warn("connection pool exhausted, opening temporary connection",
			slog.Duration("waited", s.acquireTimeout))
		conn, err := s.db.Conn(ctx)
		if err != nil {
			return nil, false, fmt.Errorf("open temporary connection: %w", err)
		}
		return conn, false, nil
	case <-ctx.Done():
		return nil, false, fmt.Errorf("acquire connection: %w", ctx.Err())
	}
}

// release returns the connection to the pool, or closes it when it was a
// temporary one, the pool is full, or the store has been closed. The closed
// check and the send happen under the same mutex as Close's drain.
func (s *Store) release(conn *sql.Conn, pooled bool) {
	if pooled {
		s.mu.Lock()
		if !s.closed {
			select {
			case s.pool <- conn:
				s.mu.Unlock()
				return
			default:
			}
		}
		s.mu.Unlock()
	}
	_ = conn.Close()
}

// dsn embeds the pragmas in the connection string so every connection,
// including temporary fallback ones, gets WAL journaling, relaxed-but-safe
// syncing, foreign keys, and the multi-second busy wait.
func dsn(path string, busyTimeout time.Duration) string {
	values := url.Values{}
	values.Add("_pragma", "journal_mode(WAL)")
	values.Add("_pragma", "synchronous(NORMAL)")
	values.Add("_pragma", "foreign_keys(1)")
	values.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()))
	return "file:" + path + "?" + values.Encode()
}
