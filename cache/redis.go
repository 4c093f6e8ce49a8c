// Package cache holds the hot copy of every doc being edited. All state
// lives in Redis, so any number of doc updater processes can share it.
package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alimasry/docupdater/model"
)

// Config bounds what the cache accepts.
type Config struct {
	MaxDocLength    int
	MaxRangesSize   int
	DocOpsMaxLength int64
	DocOpsTTL       time.Duration
	// SmoothingOffset spreads queued flush-and-deletes over a random delay
	// of up to this long.
	SmoothingOffset time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

// DefaultConfig returns the limits used in production.
func DefaultConfig() Config {
	return Config{
		MaxDocLength:    2 * 1024 * 1024,
		MaxRangesSize:   3 * 1024 * 1024,
		DocOpsMaxLength: 100,
		DocOpsTTL:       time.Hour,
	}
}

// Store is the Redis-backed cache of docs.
type Store struct {
	client *redis.Client
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New returns a Store over client. Zero limits in cfg fall back to DefaultConfig.
func New(client *redis.Client, cfg Config) *Store {
	def := DefaultConfig()
	if cfg.MaxDocLength <= 0 {
		cfg.MaxDocLength = def.MaxDocLength
	}
	if cfg.MaxRangesSize <= 0 {
		cfg.MaxRangesSize = def.MaxRangesSize
	}
	if cfg.DocOpsMaxLength <= 0 {
		cfg.DocOpsMaxLength = def.DocOpsMaxLength
	}
	if cfg.DocOpsTTL <= 0 {
		cfg.DocOpsTTL = def.DocOpsTTL
	}
	s := &Store{client: client, cfg: cfg, logger: cfg.Logger, now: cfg.Now}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

var errNullBytes = errors.New("null bytes found in doc lines")

// encodeLines serializes lines and checks them against the cache limits.
func (s *Store) encodeLines(docID string, lines []string) (string, error) {
	encoded := model.EncodeLines(lines)
	// json.Marshal escapes NUL as \u0000.
	if strings.Contains(encoded, `\u0000`) {
		return "", fmt.Errorf("doc %s: %w", docID, errNullBytes)
	}
	if len(encoded) > s.cfg.MaxDocLength {
		return "", &model.FileTooLargeError{DocID: docID, Size: len(encoded), Max: s.cfg.MaxDocLength}
	}
	return encoded, nil
}

// encodeRanges serializes ranges. Empty ranges encode as "" and are stored as absent.
func (s *Store) encodeRanges(docID string, r model.Ranges) (string, error) {
	if r.IsEmpty() {
		return "", nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal ranges: %w", err)
	}
	if len(b) > s.cfg.MaxRangesSize {
		return "", fmt.Errorf("ranges of doc %s are too large: %d > %d", docID, len(b), s.cfg.MaxRangesSize)
	}
	return string(b), nil
}

func hashLines(encoded string) string {
	sum := sha1.Sum([]byte(encoded))
	return hex.EncodeToString(sum[:])
}

// PutDocInMemory loads a doc into the cache. The doc is registered in its
// project before its contents are written so a project flush never misses it.
func (s *Store) PutDocInMemory(ctx context.Context, projectID, docID string, doc *model.Document) error {
	if doc.Lines == nil {
		return fmt.Errorf("put doc %s: %w", docID, model.ErrNoLines)
	}
	lines, err := s.encodeLines(docID, doc.Lines)
	if err != nil {
		s.logger.Error("blocking doc insert into cache", "project_id", projectID, "doc_id", docID, "err", err)
		return err
	}
	ranges, err := s.encodeRanges(docID, doc.Ranges)
	if err != nil {
		return err
	}
	s.logger.Debug("putting doc in cache", "project_id", projectID, "doc_id", docID, "version", doc.Version)

	if err := s.client.SAdd(ctx, docsInProjectKey(projectID), docID).Err(); err != nil {
		return fmt.Errorf("register doc %s in project: %w", docID, err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.MSet(ctx,
			docLinesKey(docID), lines,
			docVersionKey(docID), doc.Version,
			docHashKey(docID), hashLines(lines),
			projectKey(docID), projectID,
			pathnameKey(docID), doc.Pathname,
			projectHistoryIDKey(docID), doc.ProjectHistoryID,
			historyRangesSupportKey(docID), boolFlag(doc.HistoryRangesSupport),
		)
		if ranges == "" {
			pipe.Del(ctx, rangesKey(docID))
		} else {
			pipe.Set(ctx, rangesKey(docID), ranges, 0)
		}
		pipe.Del(ctx, resolvedCommentIDsKey(docID))
		if len(doc.ResolvedCommentIDs) > 0 {
			pipe.SAdd(ctx, resolvedCommentIDsKey(docID), toAny(doc.ResolvedCommentIDs)...)
		}
		if !doc.LastUpdatedAt.IsZero() {
			pipe.Set(ctx, lastUpdatedAtKey(docID), doc.LastUpdatedAt.UnixMilli(), 0)
		}
		if doc.LastUpdatedBy != "" {
			pipe.Set(ctx, lastUpdatedByKey(docID), doc.LastUpdatedBy, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("put doc %s: %w", docID, err)
	}
	return nil
}

// GetDoc returns the cached doc, or nil if it is not loaded. A doc cached
// under another project is reported as not found.
func (s *Store) GetDoc(ctx context.Context, projectID, docID string) (*model.Document, error) {
	var (
		fields   *redis.SliceCmd
		resolved *redis.StringSliceCmd
	)
	// One transaction, so the resolved comments match the lines and ranges.
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		fields = pipe.MGet(ctx,
			docLinesKey(docID),
			docVersionKey(docID),
			docHashKey(docID),
			projectKey(docID),
			rangesKey(docID),
			pathnameKey(docID),
			projectHistoryIDKey(docID),
			unflushedTimeKey(docID),
			lastUpdatedAtKey(docID),
			lastUpdatedByKey(docID),
			historyRangesSupportKey(docID),
		)
		resolved = pipe.SMembers(ctx, resolvedCommentIDsKey(docID))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get doc %s: %w", docID, err)
	}
	vals := fields.Val()
	str := func(i int) string {
		v, _ := vals[i].(string)
		return v
	}
	if vals[0] == nil || vals[1] == nil {
		return nil, nil
	}
	if cached := str(3); cached != "" && cached != projectID {
		return nil, model.NotFoundf("doc %s is cached under project %s, not %s", docID, cached, projectID)
	}

	lines := str(0)
	if hash := str(2); hash != "" && hash != hashLines(lines) {
		s.logger.Error("hash mismatch on retrieved document", "project_id", projectID, "doc_id", docID,
			"stored_hash", hash, "computed_hash", hashLines(lines))
	}

	doc := &model.Document{
		Pathname:             str(5),
		ProjectHistoryID:     str(6),
		LastUpdatedBy:        str(9),
		HistoryRangesSupport: str(10) == "1",
	}
	if err := json.Unmarshal([]byte(lines), &doc.Lines); err != nil {
		return nil, fmt.Errorf("decode lines of doc %s: %w", docID, err)
	}
	if doc.Version, err = strconv.Atoi(str(1)); err != nil {
		return nil, fmt.Errorf("decode version of doc %s: %w", docID, err)
	}
	if r := str(4); r != "" {
		if err := json.Unmarshal([]byte(r), &doc.Ranges); err != nil {
			return nil, fmt.Errorf("decode ranges of doc %s: %w", docID, err)
		}
	}
	doc.UnflushedTime = parseMillis(str(7))
	doc.LastUpdatedAt = parseMillis(str(8))

	if ids := resolved.Val(); len(ids) > 0 {
		sort.Strings(ids)
		doc.ResolvedCommentIDs = ids
	}
	return doc, nil
}

// GetDocVersion returns the cached version, or -1 if the doc is not loaded.
func (s *Store) GetDocVersion(ctx context.Context, docID string) (int, error) {
	v, err := s.client.Get(ctx, docVersionKey(docID)).Int()
	if keyNotFound(err) {
		return -1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get version of doc %s: %w", docID, err)
	}
	return v, nil
}

// UpdateDocument stores the result of applying appliedOps. The write is a
// single transaction that fails with model.ErrVersionMismatch unless the
// cached version plus the number of applied ops equals newVersion. An empty
// appliedOps records a ranges-only change.
func (s *Store) UpdateDocument(ctx context.Context, projectID, docID string, lines []string, newVersion int, appliedOps []model.Update, ranges model.Ranges, meta model.UpdateMeta) error {
	encodedLines, err := s.encodeLines(docID, lines)
	if err != nil {
		s.logger.Error("blocking doc update in cache", "project_id", projectID, "doc_id", docID, "err", err)
		return err
	}
	encodedRanges, err := s.encodeRanges(docID, ranges)
	if err != nil {
		s.logger.Error("blocking ranges update in cache", "project_id", projectID, "doc_id", docID, "err", err)
		return err
	}
	jsonOps := make([]any, 0, len(appliedOps))
	for _, op := range appliedOps {
		b, err := json.Marshal(op)
		if err != nil {
			return fmt.Errorf("marshal op: %w", err)
		}
		jsonOps = append(jsonOps, string(b))
	}

	ts := s.now()
	if meta.Ts > 0 {
		ts = time.UnixMilli(meta.Ts)
	}

	versionKey := docVersionKey(docID)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, versionKey).Int()
		if keyNotFound(err) {
			return model.NotFoundf("doc %s is not loaded", docID)
		}
		if err != nil {
			return err
		}
		if current+len(appliedOps) != newVersion {
			return &model.VersionMismatchError{DocID: docID, Expected: newVersion - len(appliedOps), Current: current}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.MSet(ctx,
				docLinesKey(docID), encodedLines,
				versionKey, newVersion,
				docHashKey(docID), hashLines(encodedLines),
				lastUpdatedAtKey(docID), ts.UnixMilli(),
				lastUpdatedByKey(docID), meta.UserID,
			)
			if encodedRanges == "" {
				pipe.Del(ctx, rangesKey(docID))
			} else {
				pipe.Set(ctx, rangesKey(docID), encodedRanges, 0)
			}
			if len(jsonOps) > 0 {
				pipe.RPush(ctx, docOpsKey(docID), jsonOps...)
				pipe.LTrim(ctx, docOpsKey(docID), -s.cfg.DocOpsMaxLength, -1)
				pipe.Expire(ctx, docOpsKey(docID), s.cfg.DocOpsTTL)
			}
			pipe.SetNX(ctx, unflushedTimeKey(docID), ts.UnixMilli(), 0)
			return nil
		})
		return err
	}, versionKey)

	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("doc %s changed during update: %w", docID, model.ErrVersionMismatch)
	}
	if err != nil {
		return fmt.Errorf("update doc %s: %w", docID, err)
	}
	s.logger.Debug("updated doc in cache", "project_id", projectID, "doc_id", docID,
		"version", newVersion, "ops", len(appliedOps))
	return nil
}

// RemoveDocFromMemory evicts a doc and unregisters it from its project.
func (s *Store) RemoveDocFromMemory(ctx context.Context, projectID, docID string) error {
	s.logger.Debug("removing doc from cache", "project_id", projectID, "doc_id", docID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, append(docKeys(docID), docOpsKey(docID))...)
		pipe.SRem(ctx, docsInProjectKey(projectID), docID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove doc %s: %w", docID, err)
	}
	return nil
}

// RenameDoc records a new pathname for a loaded doc. Unloaded docs pick the
// new pathname up from the durable store on their next load.
func (s *Store) RenameDoc(ctx context.Context, projectID, docID, userID string, update model.RenameUpdate, projectHistoryID string) error {
	doc, err := s.GetDoc(ctx, projectID, docID)
	if err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	if err := s.client.Set(ctx, pathnameKey(docID), update.NewPathname, 0).Err(); err != nil {
		return fmt.Errorf("rename doc %s: %w", docID, err)
	}
	s.logger.Debug("renamed doc in cache", "project_id", projectID, "doc_id", docID,
		"user_id", userID, "pathname", update.NewPathname)
	return nil
}

// UpdateCommentState marks a comment resolved or reopened.
func (s *Store) UpdateCommentState(ctx context.Context, docID, commentID string, resolved bool) error {
	var err error
	if resolved {
		err = s.client.SAdd(ctx, resolvedCommentIDsKey(docID), commentID).Err()
	} else {
		err = s.client.SRem(ctx, resolvedCommentIDsKey(docID), commentID).Err()
	}
	if err != nil {
		return fmt.Errorf("update comment %s state: %w", commentID, err)
	}
	return nil
}

// ClearUnflushedTime marks the doc as written to the durable store.
func (s *Store) ClearUnflushedTime(ctx context.Context, docID string) error {
	if err := s.client.Del(ctx, unflushedTimeKey(docID)).Err(); err != nil {
		return fmt.Errorf("clear unflushed time of doc %s: %w", docID, err)
	}
	return nil
}

// GetPreviousDocOps returns the ops that moved the doc from version start to
// version end, or to the current version when end is -1. Only the most recent
// ops are retained; when start is older than that the available tail is
// returned.
func (s *Store) GetPreviousDocOps(ctx context.Context, docID string, start, end int) ([]model.Update, error) {
	var (
		lengthCmd  *redis.IntCmd
		versionCmd *redis.StringCmd
	)
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		lengthCmd = pipe.LLen(ctx, docOpsKey(docID))
		versionCmd = pipe.Get(ctx, docVersionKey(docID))
		return nil
	})
	if err != nil && !keyNotFound(err) {
		return nil, fmt.Errorf("get ops of doc %s: %w", docID, err)
	}
	version, err := versionCmd.Int()
	if keyNotFound(err) {
		return nil, model.NotFoundf("doc %s is not loaded", docID)
	}
	if err != nil {
		return nil, fmt.Errorf("get version of doc %s: %w", docID, err)
	}
	length := int(lengthCmd.Val())

	first := version - length
	if end == -1 {
		end = version
	}
	if end > version {
		return nil, fmt.Errorf("doc %s ops %d-%d at version %d: %w", docID, start, end, version, model.ErrOpRangeNotAvailable)
	}
	if start < first {
		s.logger.Debug("doc ops range partially available", "doc_id", docID,
			"start", start, "first_available", first)
		start = first
	}
	if start >= end {
		return []model.Update{}, nil
	}

	raw, err := s.client.LRange(ctx, docOpsKey(docID), int64(start-first), int64(end-first-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("get ops of doc %s: %w", docID, err)
	}
	ops := make([]model.Update, 0, len(raw))
	for _, r := range raw {
		var u model.Update
		if err := json.Unmarshal([]byte(r), &u); err != nil {
			return nil, fmt.Errorf("decode op of doc %s: %w", docID, err)
		}
		ops = append(ops, u)
	}
	return ops, nil
}

// GetDocIDsInProject lists the docs of a project that are loaded.
func (s *Store) GetDocIDsInProject(ctx context.Context, projectID string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, docsInProjectKey(projectID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get docs of project %s: %w", projectID, err)
	}
	sort.Strings(ids)
	return ids, nil
}

// QueueFlushAndDeleteProject schedules a project for background eviction.
func (s *Store) QueueFlushAndDeleteProject(ctx context.Context, projectID string) error {
	at := s.now()
	if s.cfg.SmoothingOffset > 0 {
		at = at.Add(rand.N(s.cfg.SmoothingOffset))
	}
	err := s.client.ZAdd(ctx, flushAndDeleteQueueKey, redis.Z{Score: float64(at.UnixMilli()), Member: projectID}).Err()
	if err != nil {
		return fmt.Errorf("queue project %s: %w", projectID, err)
	}
	return nil
}

// QueuedProject is an entry popped from the flush-and-delete queue.
type QueuedProject struct {
	ProjectID string
	QueuedAt  time.Time
	// Remaining is the queue length after the pop.
	Remaining int64
}

// GetNextProjectToFlushAndDelete pops the oldest project scheduled at or
// before cutoff. It returns nil when none is due or another worker won the pop.
func (s *Store) GetNextProjectToFlushAndDelete(ctx context.Context, cutoff time.Time) (*QueuedProject, error) {
	due, err := s.client.ZRangeByScoreWithScores(ctx, flushAndDeleteQueueKey, &redis.ZRangeBy{
		Min:   "0",
		Max:   strconv.FormatInt(cutoff.UnixMilli(), 10),
		Count: 1,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("read flush queue: %w", err)
	}
	if len(due) == 0 {
		return nil, nil
	}
	projectID, _ := due[0].Member.(string)
	removed, err := s.client.ZRem(ctx, flushAndDeleteQueueKey, projectID).Result()
	if err != nil {
		return nil, fmt.Errorf("pop project %s: %w", projectID, err)
	}
	if removed != 1 {
		return nil, nil
	}
	remaining, err := s.client.ZCard(ctx, flushAndDeleteQueueKey).Result()
	if err != nil {
		return nil, fmt.Errorf("read flush queue length: %w", err)
	}
	return &QueuedProject{
		ProjectID: projectID,
		QueuedAt:  time.UnixMilli(int64(due[0].Score)),
		Remaining: remaining,
	}, nil
}

func parseMillis(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
