// Package realtime is the doc updater's side of the link with the real-time
// gateway: applied ops go out over pub/sub, and editor updates come in
// through per-doc pending lists.
package realtime

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

const (
	// AppliedOpsChannel carries applied ops and apply errors.
	AppliedOpsChannel = "applied-ops"
	pendingDocsKey    = "pending-updates-list"
	// MaxOpsPerIteration bounds how many pending updates are taken at once.
	MaxOpsPerIteration = 8
)

func pendingUpdatesKey(docID string) string { return "PendingUpdates:{" + docID + "}" }

// Message is published on AppliedOpsChannel. Exactly one of Op and Error is set.
type Message struct {
	ProjectID string        `json:"project_id"`
	DocID     string        `json:"doc_id"`
	Op        *model.Update `json:"op,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Client talks to the real-time gateway through Redis.
type Client struct {
	client *redis.Client
	logger *slog.Logger
}

func New(client *redis.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{client: client, logger: logger}
}

// SendData publishes msg to every gateway instance.
func (c *Client) SendData(ctx context.Context, msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal realtime message: %w", err)
	}
	if err := c.client.Publish(ctx, AppliedOpsChannel, b).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", AppliedOpsChannel, err)
	}
	return nil
}

// PublishApplied announces an applied update.
func (c *Client) PublishApplied(ctx context.Context, projectID, docID string, update model.Update) error {
	return c.SendData(ctx, Message{ProjectID: projectID, DocID: docID, Op: &update})
}

// PublishError tells editors that an update for the doc was rejected.
func (c *Client) PublishError(ctx context.Context, projectID, docID string, cause error) error {
	return c.SendData(ctx, Message{ProjectID: projectID, DocID: docID, Error: cause.Error()})
}

// QueuePendingUpdate hands an update to the doc updater the way the gateway
// does: the update goes on the doc's pending list and the doc is announced
// to the workers.
func (c *Client) QueuePendingUpdate(ctx context.Context, projectID, docID string, update model.Update) error {
	b, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, pendingUpdatesKey(docID), b)
		pipe.RPush(ctx, pendingDocsKey, projectID+":"+docID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("queue update for doc %s: %w", docID, err)
	}
	return nil
}

// GetPendingUpdatesForDoc takes up to MaxOpsPerIteration updates off the
// doc's pending list. Updates that fail to decode are logged and dropped.
func (c *Client) GetPendingUpdatesForDoc(ctx context.Context, docID string) ([]model.Update, error) {
	var rng *redis.StringSliceCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		rng = pipe.LRange(ctx, pendingUpdatesKey(docID), 0, MaxOpsPerIteration-1)
		pipe.LTrim(ctx, pendingUpdatesKey(docID), MaxOpsPerIteration, -1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get pending updates for doc %s: %w", docID, err)
	}
	updates := make([]model.Update, 0, len(rng.Val()))
	for _, raw := range rng.Val() {
		var u model.Update
		if err := json.Unmarshal([]byte(raw), &u); err != nil {
			c.logger.Error("dropping undecodable pending update", "doc_id", docID, "err", err)
			continue
		}
		updates = append(updates, u)
	}
	return updates, nil
}

// GetUpdatesLength returns how many updates are waiting for the doc.
func (c *Client) GetUpdatesLength(ctx context.Context, docID string) (int64, error) {
	n, err := c.client.LLen(ctx, pendingUpdatesKey(docID)).Result()
	if err != nil {
		return 0, fmt.Errorf("count pending updates for doc %s: %w", docID, err)
	}
	return n, nil
}

// NextPendingDoc blocks up to timeout for a doc with pending updates. It
// returns empty ids when the wait times out.
func (c *Client) NextPendingDoc(ctx context.Context, timeout time.Duration) (projectID, docID string, err error) {
	res, err := c.client.BLPop(ctx, timeout, pendingDocsKey).Result()
	if err == redis.Nil {
		return "", "", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("wait for pending docs: %w", err)
	}
	// res is [key, value].
	projectID, docID, ok := strings.Cut(res[1], ":")
	if !ok {
		return "", "", fmt.Errorf("malformed pending doc entry %q", res[1])
	}
	return projectID, docID, nil
}
