package cli

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"

	"github.com/alimasry/docupdater/cache"
	"github.com/alimasry/docupdater/config"
	"github.com/alimasry/docupdater/document"
	"github.com/alimasry/docupdater/history"
	"github.com/alimasry/docupdater/lock"
	"github.com/alimasry/docupdater/ranges"
	"github.com/alimasry/docupdater/realtime"
	"github.com/alimasry/docupdater/store"
	"github.com/alimasry/docupdater/updater"
)

// app is everything a command needs, wired from the config.
type app struct {
	cfg         *config.Config
	logger      *slog.Logger
	conn        *cache.Connection
	cache       *cache.Store
	persistence store.Store
	realtime    *realtime.Client
	manager     *document.Manager
	projects    *document.ProjectManager

	closers []func() error
}

func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, logger: slog.Default()}

	persistence, err := a.openPersistence(ctx)
	if err != nil {
		return nil, err
	}
	a.persistence = persistence

	options := cache.Options{
		Address:  cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	if cfg.Redis.TLS {
		options.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	a.conn = cache.OpenConnection(options)
	a.closers = append(a.closers, a.conn.Close)
	client := a.conn.Client

	a.cache = cache.New(client, cache.Config{
		MaxDocLength:    cfg.Limits.MaxDocLength,
		MaxRangesSize:   cfg.Limits.MaxRangesSize,
		DocOpsMaxLength: cfg.DocOps.MaxLength,
		DocOpsTTL:       cfg.DocOps.TTL,
		SmoothingOffset: cfg.DeleteQueue.SmoothingOffset,
		Logger:          a.logger,
	})
	hist := history.NewQueue(client, history.Config{MaxUpdateSize: cfg.Limits.MaxUpdateSize, Logger: a.logger})
	a.realtime = realtime.New(client, a.logger)
	engine := ranges.New()

	a.manager, err = document.NewManager(document.Config{
		Cache:       a.cache,
		Persistence: a.persistence,
		History:     hist,
		Updater: updater.New(a.cache, engine, hist, a.realtime, updater.Config{
			MaxDocLength: cfg.Limits.MaxDocLength,
			Logger:       a.logger,
		}),
		Ranges: engine,
		Locker: lock.New(client, lock.Config{
			TTL:           cfg.Lock.TTL,
			Timeout:       cfg.Lock.Timeout,
			RetryInterval: cfg.Lock.RetryInterval,
			Logger:        a.logger,
		}),
		Pending:         a.realtime,
		MaxDocLength:    cfg.Limits.MaxDocLength,
		MaxUnflushedAge: cfg.Flush.MaxUnflushedAge,
		Logger:          a.logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.projects = document.NewProjectManager(a.manager, a.cache, cfg.Flush.ProjectConcurrency)
	return a, nil
}

func (a *app) openPersistence(ctx context.Context) (store.Store, error) {
	switch a.cfg.Persistence.Backend {
	case config.BackendFirestore:
		client, err := firestore.NewClient(ctx, a.cfg.Persistence.FirestoreProject)
		if err != nil {
			return nil, fmt.Errorf("connect to firestore: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		return store.NewFirestoreStore(client), nil
	case config.BackendSQLite:
		s, err := store.OpenSQLite(a.cfg.Persistence.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	case config.BackendMemory:
		a.logger.Warn("using in-memory persistence, flushed docs are lost on exit")
		return store.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown persistence backend %q", a.cfg.Persistence.Backend)
	}
}

// Close waits for background flushes and releases connections.
func (a *app) Close() error {
	if a.manager != nil {
		a.manager.Wait()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// withApp opens the app for the duration of fn.
func (o *RootOptions) withApp(ctx context.Context, fn func(a *app) error) error {
	a, err := openApp(ctx, o.cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
