package document

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DocLister lists the loaded docs of a project.
type DocLister interface {
	GetDocIDsInProject(ctx context.Context, projectID string) ([]string, error)
}

// ProjectManager runs doc operations across every loaded doc of a project.
type ProjectManager struct {
	manager     *Manager
	docs        DocLister
	concurrency int
}

// NewProjectManager creates a ProjectManager that works on at most
// concurrency docs at a time.
func NewProjectManager(manager *Manager, docs DocLister, concurrency int) *ProjectManager {
	if concurrency <= 0 {
		concurrency = 5
	}
	return &ProjectManager{manager: manager, docs: docs, concurrency: concurrency}
}

// FlushProject flushes every loaded doc of the project under its lock.
func (p *ProjectManager) FlushProject(ctx context.Context, projectID string) error {
	return p.forEachDoc(ctx, "flush project", projectID, func(ctx context.Context, docID string) error {
		return p.manager.WithLock(ctx, projectID, docID, func(ctx context.Context) error {
			return p.manager.FlushDocIfLoaded(ctx, projectID, docID)
		})
	})
}

// FlushAndDeleteProject flushes and evicts every loaded doc of the project.
func (p *ProjectManager) FlushAndDeleteProject(ctx context.Context, projectID string, opts FlushAndDeleteOptions) error {
	return p.forEachDoc(ctx, "flush and delete project", projectID, func(ctx context.Context, docID string) error {
		return p.manager.WithLock(ctx, projectID, docID, func(ctx context.Context) error {
			return p.manager.FlushAndDeleteDoc(ctx, projectID, docID, opts)
		})
	})
}

// forEachDoc runs fn on every doc. One doc failing does not stop the
// others; all failures are returned together.
func (p *ProjectManager) forEachDoc(ctx context.Context, op, projectID string, fn func(ctx context.Context, docID string) error) error {
	defer p.manager.metrics.timer(ctx, op)()

	docIDs, err := p.docs.GetDocIDsInProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, projectID, err)
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, docID := range docIDs {
		g.Go(func() error {
			if err := fn(gctx, docID); err != nil {
				p.manager.logger.Error("project doc operation failed", "op", op,
					"project_id", projectID, "doc_id", docID, "err", err)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if len(errs) > 0 {
		return fmt.Errorf("%s %s: %d of %d docs failed: %w", op, projectID, len(errs), len(docIDs), errors.Join(errs...))
	}
	p.manager.logger.Info("project operation done", "op", op, "project_id", projectID, "docs", len(docIDs))
	return nil
}
