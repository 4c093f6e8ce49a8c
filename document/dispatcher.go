package document

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// PendingDocs announces docs that have editor updates waiting.
type PendingDocs interface {
	NextPendingDoc(ctx context.Context, timeout time.Duration) (projectID, docID string, err error)
}

// Dispatcher pulls docs off the pending list and applies their updates.
// Run several to spread load; the doc lock keeps them from colliding.
type Dispatcher struct {
	manager *Manager
	docs    PendingDocs
	wait    time.Duration
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher that blocks up to wait for each pop.
func NewDispatcher(manager *Manager, docs PendingDocs, wait time.Duration, logger *slog.Logger) *Dispatcher {
	if wait <= 0 {
		wait = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{manager: manager, docs: docs, wait: wait, logger: logger}
}

// Run dispatches until ctx is cancelled. Per-doc failures are logged and do
// not stop the loop.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		projectID, docID, err := d.docs.NextPendingDoc(ctx, d.wait)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			d.logger.Error("failed to read pending docs", "err", err)
			// Avoid spinning while redis is unreachable.
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(d.wait):
			}
			continue
		}
		if docID == "" {
			continue
		}
		if err := d.manager.ProcessPendingUpdatesWithLock(ctx, projectID, docID); err != nil {
			d.logger.Warn("failed to process pending updates", "project_id", projectID, "doc_id", docID, "err", err)
		}
	}
}
