package document

import (
	"context"
	"log/slog"
	"time"

	"github.com/alimasry/docupdater/cache"
)

// ProjectQueue is the schedule of projects waiting to be evicted.
type ProjectQueue interface {
	GetNextProjectToFlushAndDelete(ctx context.Context, cutoff time.Time) (*cache.QueuedProject, error)
}

// DeleteQueueConfig tunes a DeleteQueue.
type DeleteQueueConfig struct {
	// PollInterval is how often the queue is checked.
	PollInterval time.Duration
	// MinDelay is how long a project stays queued before it is evicted.
	MinDelay time.Duration
	// Limit bounds projects evicted per poll. Zero means no limit.
	Limit  int
	Logger *slog.Logger
	Now    func() time.Time
}

// DeleteQueue evicts queued projects in the background. Evicted docs are
// flushed first; flush errors keep the doc cached.
type DeleteQueue struct {
	projects *ProjectManager
	queue    ProjectQueue
	cfg      DeleteQueueConfig
	logger   *slog.Logger
	stop     chan struct{}
	done     chan struct{}
}

// NewDeleteQueue creates a DeleteQueue and starts its loop.
func NewDeleteQueue(projects *ProjectManager, queue ProjectQueue, cfg DeleteQueueConfig) *DeleteQueue {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	q := &DeleteQueue{
		projects: projects,
		queue:    queue,
		cfg:      cfg,
		logger:   cfg.Logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if q.logger == nil {
		q.logger = slog.Default()
	}
	go q.loop()
	return q
}

func (q *DeleteQueue) loop() {
	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()
	defer close(q.done)

	for {
		select {
		case <-ticker.C:
			q.Drain(context.Background())
		case <-q.stop:
			q.Drain(context.Background())
			return
		}
	}
}

// Drain evicts every project that has been queued for at least MinDelay and
// returns how many it evicted.
func (q *DeleteQueue) Drain(ctx context.Context) int {
	cutoff := q.cfg.Now().Add(-q.cfg.MinDelay)
	n := 0
	for q.cfg.Limit == 0 || n < q.cfg.Limit {
		next, err := q.queue.GetNextProjectToFlushAndDelete(ctx, cutoff)
		if err != nil {
			q.logger.Error("failed to read flush-and-delete queue", "err", err)
			return n
		}
		if next == nil {
			return n
		}
		q.logger.Info("flushing and deleting queued project", "project_id", next.ProjectID,
			"queued_at", next.QueuedAt, "remaining", next.Remaining)
		if err := q.projects.FlushAndDeleteProject(ctx, next.ProjectID, FlushAndDeleteOptions{}); err != nil {
			q.logger.Error("failed to flush and delete queued project", "project_id", next.ProjectID, "err", err)
		}
		n++
	}
	return n
}

// Close stops the loop after a final drain and waits for it to finish.
func (q *DeleteQueue) Close() {
	close(q.stop)
	<-q.done
}
