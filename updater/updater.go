// Package updater applies editor updates to cached docs.
package updater

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alimasry/docupdater/model"
	"github.com/alimasry/docupdater/ot"
)

// ErrHashMismatch is returned when an update carries a content hash that
// does not match the doc after applying it.
var ErrHashMismatch = errors.New("doc hash mismatch after update")

// Cache is the part of the cache store the updater writes through.
type Cache interface {
	GetDoc(ctx context.Context, projectID, docID string) (*model.Document, error)
	UpdateDocument(ctx context.Context, projectID, docID string, lines []string, newVersion int, appliedOps []model.Update, ranges model.Ranges, meta model.UpdateMeta) error
}

// RangesEngine moves comments and tracked changes through an op.
type RangesEngine interface {
	ApplyUpdate(r model.Ranges, op ot.Op, meta model.UpdateMeta, ts time.Time) (model.Ranges, error)
}

// HistoryQueue receives applied updates.
type HistoryQueue interface {
	QueueUpdates(ctx context.Context, projectID string, updates []model.Update) (int64, error)
}

// Publisher tells editors about applied and rejected updates.
type Publisher interface {
	PublishApplied(ctx context.Context, projectID, docID string, update model.Update) error
	PublishError(ctx context.Context, projectID, docID string, cause error) error
}

// Config tunes an Updater.
type Config struct {
	MaxDocLength int
	Logger       *slog.Logger
	Now          func() time.Time
}

// Updater applies one update at a time. Callers serialize updates to the
// same doc with the doc lock.
type Updater struct {
	cache     Cache
	ranges    RangesEngine
	history   HistoryQueue
	publisher Publisher
	maxLength int
	logger    *slog.Logger
	now       func() time.Time
}

func New(cache Cache, ranges RangesEngine, history HistoryQueue, publisher Publisher, cfg Config) *Updater {
	u := &Updater{
		cache:     cache,
		ranges:    ranges,
		history:   history,
		publisher: publisher,
		maxLength: cfg.MaxDocLength,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
	if u.logger == nil {
		u.logger = slog.Default()
	}
	if u.now == nil {
		u.now = time.Now
	}
	return u
}

// Result is the state of a doc after an update.
type Result struct {
	Lines   []string
	Version int
	// Applied is the update as it was recorded, with history metadata.
	Applied model.Update
}

// ApplyUpdate applies update to the cached doc. The doc must already be in
// the cache. Failures are reported to editors and returned; on failure the
// cached doc is unchanged.
func (u *Updater) ApplyUpdate(ctx context.Context, projectID, docID string, update model.Update) (*Result, error) {
	res, err := u.apply(ctx, projectID, docID, update)
	if err != nil {
		if perr := u.publisher.PublishError(ctx, projectID, docID, err); perr != nil {
			u.logger.Warn("failed to publish update error", "project_id", projectID, "doc_id", docID, "err", perr)
		}
		return nil, err
	}
	if perr := u.publisher.PublishApplied(ctx, projectID, docID, res.Applied); perr != nil {
		u.logger.Warn("failed to publish applied update", "project_id", projectID, "doc_id", docID,
			"version", res.Applied.V, "err", perr)
	}
	return res, nil
}

func (u *Updater) apply(ctx context.Context, projectID, docID string, update model.Update) (*Result, error) {
	op, sanitized := ot.Sanitize(update.Op)
	if sanitized {
		u.logger.Debug("replaced invalid characters in update", "project_id", projectID, "doc_id", docID)
	}

	doc, err := u.cache.GetDoc(ctx, projectID, docID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, model.NotFoundf("doc %s is not loaded", docID)
	}
	if update.V != doc.Version {
		return nil, &model.VersionMismatchError{DocID: docID, Expected: update.V, Current: doc.Version}
	}

	working := ot.NewDocument(doc.Lines, doc.Version)
	if err := working.Apply(op, update.V); err != nil {
		return nil, fmt.Errorf("apply update to doc %s: %w", docID, err)
	}
	lines := working.Lines
	if u.maxLength > 0 {
		if n := model.EncodedSize(lines); n > u.maxLength {
			return nil, &model.FileTooLargeError{DocID: docID, Size: n, Max: u.maxLength}
		}
	}
	if update.Hash != "" {
		if h := contentHash(lines); h != update.Hash {
			u.logger.Error("hash mismatch after update", "project_id", projectID, "doc_id", docID,
				"expected", update.Hash, "actual", h)
			return nil, fmt.Errorf("doc %s v%d: %w", docID, doc.Version, ErrHashMismatch)
		}
	}

	applied := update
	applied.Doc = docID
	applied.Op = op
	applied.V = doc.Version
	if applied.Meta.Ts == 0 {
		applied.Meta.Ts = u.now().UnixMilli()
	}
	applied.ProjectHistoryID = doc.ProjectHistoryID
	applied.Meta.Pathname = doc.Pathname
	applied.Meta.DocLength = model.ContentLength(doc.Lines)

	ranges, err := u.ranges.ApplyUpdate(doc.Ranges, op, applied.Meta, time.UnixMilli(applied.Meta.Ts))
	if err != nil {
		return nil, fmt.Errorf("update ranges of doc %s: %w", docID, err)
	}

	newVersion := working.Version
	if err := u.cache.UpdateDocument(ctx, projectID, docID, lines, newVersion, []model.Update{applied}, ranges, applied.Meta); err != nil {
		return nil, err
	}
	if _, err := u.history.QueueUpdates(ctx, projectID, []model.Update{applied}); err != nil {
		return nil, fmt.Errorf("queue history for doc %s v%d: %w", docID, newVersion, err)
	}
	u.logger.Debug("applied update", "project_id", projectID, "doc_id", docID, "version", newVersion)
	return &Result{Lines: lines, Version: newVersion, Applied: applied}, nil
}

// contentHash is the git blob hash of the joined lines.
func contentHash(lines []string) string {
	content := strings.Join(lines, "\n")
	h := sha1.New()
	h.Write([]byte("blob " + strconv.Itoa(len(content)) + "\x00"))
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}
