package document

import (
	"context"
	"fmt"
)

// WithLock runs fn while holding the doc lock. Editor updates already
// waiting for the doc are applied first, and any that arrive while fn runs
// are applied before the lock is released.
func (m *Manager) WithLock(ctx context.Context, projectID, docID string, fn func(ctx context.Context) error) error {
	if m.locker == nil {
		return fn(ctx)
	}
	err := m.locker.WithLock(ctx, docID, func(ctx context.Context) error {
		if err := m.drainPendingUpdates(ctx, projectID, docID); err != nil {
			return err
		}
		if err := fn(ctx); err != nil {
			return err
		}
		return m.drainPendingUpdates(ctx, projectID, docID)
	})
	return err
}

// ProcessPendingUpdatesWithLock applies waiting editor updates if no one
// else holds the doc lock. A holder drains the doc itself before releasing.
func (m *Manager) ProcessPendingUpdatesWithLock(ctx context.Context, projectID, docID string) error {
	if m.locker == nil {
		return m.drainPendingUpdates(ctx, projectID, docID)
	}
	ran, err := m.locker.TryWithLock(ctx, docID, func(ctx context.Context) error {
		return m.drainPendingUpdates(ctx, projectID, docID)
	})
	if !ran && err == nil {
		m.logger.Debug("doc is locked elsewhere, leaving pending updates", "project_id", projectID, "doc_id", docID)
	}
	return err
}

// drainPendingUpdates applies batches until the doc's inbox is empty.
func (m *Manager) drainPendingUpdates(ctx context.Context, projectID, docID string) error {
	if m.pending == nil {
		return nil
	}
	for {
		if err := m.processPendingUpdates(ctx, projectID, docID); err != nil {
			return err
		}
		n, err := m.pending.GetUpdatesLength(ctx, docID)
		if err != nil {
			return wrap("process pending updates", projectID, docID, err)
		}
		if n == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// processPendingUpdates applies one batch of waiting updates in order. The
// first failure stops the batch; the updater has already told editors.
func (m *Manager) processPendingUpdates(ctx context.Context, projectID, docID string) error {
	if m.pending == nil {
		return nil
	}
	defer m.metrics.timer(ctx, "processPendingUpdates")()

	updates, err := m.pending.GetPendingUpdatesForDoc(ctx, docID)
	if err != nil {
		return wrap("process pending updates", projectID, docID, err)
	}
	for i, u := range updates {
		if _, err := m.ApplyUpdate(ctx, projectID, docID, u); err != nil {
			return fmt.Errorf("pending update %d of %d: %w", i+1, len(updates), err)
		}
	}
	if len(updates) > 0 {
		m.logger.Debug("applied pending updates", "project_id", projectID, "doc_id", docID, "count", len(updates))
	}
	return nil
}
