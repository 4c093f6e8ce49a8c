// Package history appends change records to the per-project queues read by
// the project history service.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alimasry/docupdater/model"
)

func opsKey(projectID string) string { return "ProjectHistory:{" + projectID + "}" }

func firstOpTimestampKey(projectID string) string {
	return "ProjectHistory:FirstOpTimestamp:{" + projectID + "}"
}

// Config tunes a Queue.
type Config struct {
	// MaxUpdateSize caps a single serialized record. Zero disables the check.
	MaxUpdateSize int
	Logger        *slog.Logger
	Now           func() time.Time
}

// Queue writes history records to Redis lists.
type Queue struct {
	client  *redis.Client
	maxSize int
	logger  *slog.Logger
	now     func() time.Time
}

func NewQueue(client *redis.Client, cfg Config) *Queue {
	q := &Queue{client: client, maxSize: cfg.MaxUpdateSize, logger: cfg.Logger, now: cfg.Now}
	if q.logger == nil {
		q.logger = slog.Default()
	}
	if q.now == nil {
		q.now = time.Now
	}
	return q
}

// QueueOps appends records to the project's history queue and returns the
// queue length. Each record is serialized to JSON unless it already is a
// string or []byte.
func (q *Queue) QueueOps(ctx context.Context, projectID string, records ...any) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	encoded := make([]any, 0, len(records))
	for _, r := range records {
		switch v := r.(type) {
		case string:
			encoded = append(encoded, v)
		case []byte:
			encoded = append(encoded, string(v))
		default:
			b, err := json.Marshal(v)
			if err != nil {
				return 0, fmt.Errorf("marshal history record: %w", err)
			}
			encoded = append(encoded, string(b))
		}
	}

	var push *redis.IntCmd
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		push = pipe.RPush(ctx, opsKey(projectID), encoded...)
		// Only the first op since the last flush of project history sets this.
		pipe.SetNX(ctx, firstOpTimestampKey(projectID), q.now().UnixMilli(), 0)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("queue %d history records for project %s: %w", len(records), projectID, err)
	}
	return push.Val(), nil
}

// QueueUpdates queues applied updates as raw op records.
func (q *Queue) QueueUpdates(ctx context.Context, projectID string, updates []model.Update) (int64, error) {
	records := make([]any, len(updates))
	for i, u := range updates {
		records[i] = u
	}
	return q.QueueOps(ctx, projectID, records...)
}

// QueueResyncDocContent queues a full snapshot of a doc.
func (q *Queue) QueueResyncDocContent(ctx context.Context, projectID string, req ResyncDocContent) error {
	ranges := req.Ranges
	resolved := req.ResolvedCommentIDs
	if resolved == nil {
		resolved = []string{}
	}
	record := resyncRecord{
		ResyncDocContent: resyncContent{
			Content:              strings.Join(req.Lines, "\n"),
			Version:              req.Version,
			Ranges:               ranges,
			ResolvedCommentIDs:   resolved,
			HistoryRangesSupport: req.HistoryRangesSupport,
		},
		ProjectHistoryID: req.ProjectHistoryID,
		Path:             req.Pathname,
		Doc:              req.DocID,
		Meta:             Meta{Ts: q.now()},
	}
	b, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal resync record: %w", err)
	}
	if q.maxSize > 0 && len(b) > q.maxSize {
		q.logger.Error("blocking resync of oversized doc", "project_id", projectID, "doc_id", req.DocID, "size", len(b))
		return &model.FileTooLargeError{DocID: req.DocID, Size: len(b), Max: q.maxSize}
	}
	q.logger.Debug("queueing doc resync", "project_id", projectID, "doc_id", req.DocID, "version", req.Version)
	_, err = q.QueueOps(ctx, projectID, b)
	return err
}

// QueueRenameEntity queues the move of a doc to a new path.
func (q *Queue) QueueRenameEntity(ctx context.Context, projectID, projectHistoryID, docID, userID string, update model.RenameUpdate) error {
	_, err := q.QueueOps(ctx, projectID, renameRecord{
		Pathname:         update.Pathname,
		NewPathname:      update.NewPathname,
		Doc:              docID,
		Meta:             Meta{UserID: userID, Ts: q.now()},
		ProjectHistoryID: projectHistoryID,
	})
	return err
}

// QueueDeleteComment queues the removal of a comment thread.
func (q *Queue) QueueDeleteComment(ctx context.Context, projectID, pathname, commentID, userID string) error {
	_, err := q.QueueOps(ctx, projectID, deleteCommentRecord{
		Pathname:      pathname,
		DeleteComment: commentID,
		Meta:          Meta{UserID: userID, Ts: q.now()},
	})
	return err
}

// QueueCommentState queues a comment being resolved or reopened.
func (q *Queue) QueueCommentState(ctx context.Context, projectID, pathname, commentID string, resolved bool) error {
	_, err := q.QueueOps(ctx, projectID, commentStateRecord{
		Pathname:  pathname,
		CommentID: commentID,
		Resolved:  resolved,
		Meta:      Meta{Ts: q.now()},
	})
	return err
}
