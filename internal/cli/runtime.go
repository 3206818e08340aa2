package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/MuskanSingh-1/Early-Flood-Predictor/internal/auth"
	"github.com/MuskanSingh-1/Early-Flood-Predictor/internal/config"
	"github.com/MuskanSingh-1/Early-Flood-Predictor/internal/crypto"
	applog "github.com/MuskanSingh-1/Early-Flood-Predictor/internal/log"
	"github.com/MuskanSingh-1/Early-Flood-Predictor/internal/session"
	"github.com/MuskanSingh-1/Early-Flood-Predictor/internal/storage"
)

// runtime wires config, logger, store, credential service, and session
// manager for a single CLI invocation.
type runtime struct {
	cfg      config.Config
	logger   *slog.Logger
	store    *storage.Store
	auth     *auth.Service
	sessions *session.Manager

	logCloser io.Closer
	dataKey   *crypto.DataKey
}

func newRuntime(configPath string) (*runtime, error) {
	cfg, err := config.Load(config.LoadOptions{ConfigPath: configPath})
	if err != nil {
		return nil, err
	}

	logger, logCloser, err := applog.New(applog.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		MaxFiles:  cfg.Logging.MaxFiles,
	})
	if err != nil {
		return nil, err
	}

	var dataKey *crypto.DataKey
	if cfg.EncryptionKey != "" {
		dataKey, err = crypto.LoadDataKey(cfg.EncryptionKey)
		if err != nil {
			closeQuietly(logCloser)
			return nil, fmt.Errorf("load %s: %w", config.EncryptionKeyEnv, err)
		}
	}

	store, err := storage.Open(cfg.Database.Path, storage.Options{
		PoolSize:       cfg.Database.PoolSize,
		AcquireTimeout: cfg.Database.AcquireTimeout,
		BusyTimeout:    cfg.Database.BusyTimeout,
		DataKey:        dataKey,
		Logger:         logger,
	})
	if err != nil {
		if dataKey != nil {
			dataKey.Destroy()
		}
		closeQuietly(logCloser)
		return nil, err
	}

	authService, err := auth.NewService(store, auth.Options{
		MaxFailedAttempts: cfg.Auth.MaxFailedAttempts,
		LockDuration:      cfg.Auth.LockDuration,
		Logger:            logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	sessions, err := session.NewManager(store, session.Options{
		TTL:    cfg.Session.TTL,
		Logger: logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &runtime{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		auth:      authService,
		sessions:  sessions,
		logCloser: logCloser,
		dataKey:   dataKey,
	}, nil
}

func (r *runtime) close() {
	_ = r.store.Close()
	if r.dataKey != nil {
		r.dataKey.Destroy()
	}
	closeQuietly(r.logCloser)
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
