// Package lock provides a per-doc advisory lock in Redis. Holders serialize
// full apply sequences on a doc; the cache's version check still guards
// every individual write.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

var (
	ErrLockTimeout = errors.New("timed out waiting for doc lock")
	// ErrLockLost is returned by Release when the lock expired and may have
	// been taken by someone else while it was held.
	ErrLockLost = errors.New("tried to release an expired lock")

	errLocked = errors.New("doc is locked")
)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`)

func blockingKey(docID string) string { return "Blocking:{" + docID + "}" }

// Config tunes lock acquisition.
type Config struct {
	// TTL bounds how long a crashed holder can block a doc.
	TTL time.Duration
	// Timeout bounds how long GetLock waits.
	Timeout       time.Duration
	RetryInterval time.Duration
	Logger        *slog.Logger
}

func DefaultConfig() Config {
	return Config{TTL: 30 * time.Second, Timeout: 10 * time.Second, RetryInterval: 50 * time.Millisecond}
}

// Locker hands out doc locks.
type Locker struct {
	client *redis.Client
	cfg    Config
	logger *slog.Logger
}

func New(client *redis.Client, cfg Config) *Locker {
	def := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	l := &Locker{client: client, cfg: cfg, logger: cfg.Logger}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l
}

// Lock is a held doc lock.
type Lock struct {
	DocID    string
	key      string
	value    string
	acquired time.Time
	locker   *Locker
}

// TryLock makes a single attempt. It returns nil and no error if the doc is
// locked by someone else.
func (l *Locker) TryLock(ctx context.Context, docID string) (*Lock, error) {
	value := uuid.NewString()
	ok, err := l.client.SetNX(ctx, blockingKey(docID), value, l.cfg.TTL).Result()
	if err != nil {
		return nil, fmt.Errorf("lock doc %s: %w", docID, err)
	}
	if !ok {
		return nil, nil
	}
	return &Lock{DocID: docID, key: blockingKey(docID), value: value, acquired: time.Now(), locker: l}, nil
}

// GetLock waits for the doc lock, polling until Config.Timeout elapses.
func (l *Locker) GetLock(ctx context.Context, docID string) (*Lock, error) {
	var held *Lock
	b := retry.WithMaxDuration(l.cfg.Timeout, retry.NewConstant(l.cfg.RetryInterval))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		lk, err := l.TryLock(ctx, docID)
		if err != nil {
			return err
		}
		if lk == nil {
			return retry.RetryableError(errLocked)
		}
		held = lk
		return nil
	})
	if errors.Is(err, errLocked) {
		l.logger.Warn("timed out waiting for doc lock", "doc_id", docID, "timeout", l.cfg.Timeout)
		return nil, fmt.Errorf("doc %s: %w", docID, ErrLockTimeout)
	}
	if err != nil {
		return nil, err
	}
	return held, nil
}

// Release frees the lock if it is still ours.
func (lk *Lock) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, lk.locker.client, []string{lk.key}, lk.value).Int()
	if err != nil {
		return fmt.Errorf("release lock on doc %s: %w", lk.DocID, err)
	}
	if n != 1 {
		lk.locker.logger.Error("doc lock expired before release", "doc_id", lk.DocID,
			"held_for", time.Since(lk.acquired))
		return fmt.Errorf("doc %s: %w", lk.DocID, ErrLockLost)
	}
	return nil
}

// WithLock runs fn while holding the doc lock. An error from fn takes
// precedence over a failure to release.
func (l *Locker) WithLock(ctx context.Context, docID string, fn func(ctx context.Context) error) error {
	lk, err := l.GetLock(ctx, docID)
	if err != nil {
		return err
	}
	fnErr := fn(ctx)
	// Release even if ctx was cancelled while fn ran.
	relErr := lk.Release(context.WithoutCancel(ctx))
	if fnErr != nil {
		return fnErr
	}
	return relErr
}

// TryWithLock runs fn only if the doc lock is free. It reports whether fn ran.
func (l *Locker) TryWithLock(ctx context.Context, docID string, fn func(ctx context.Context) error) (bool, error) {
	lk, err := l.TryLock(ctx, docID)
	if err != nil || lk == nil {
		return false, err
	}
	fnErr := fn(ctx)
	relErr := lk.Release(context.WithoutCancel(ctx))
	if fnErr != nil {
		return true, fnErr
	}
	return true, relErr
}
