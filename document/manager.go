// Package document is the doc updater's façade: it decides when a doc is
// loaded into the cache, applies content and ranges changes through the
// updater, and flushes docs back to the durable store.
//
// A Manager keeps no per-doc state of its own. Everything lives in the
// cache, so any number of managers can serve the same docs.
package document

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/alimasry/docupdater/history"
	"github.com/alimasry/docupdater/model"
	"github.com/alimasry/docupdater/ot"
	"github.com/alimasry/docupdater/store"
	"github.com/alimasry/docupdater/updater"
)

// DefaultMaxUnflushedAge is how long a doc may stay dirty before a read
// through GetDocAndFlushIfOld flushes it.
const DefaultMaxUnflushedAge = 5 * time.Minute

// Cache is the hot copy of loaded docs.
type Cache interface {
	GetDoc(ctx context.Context, projectID, docID string) (*model.Document, error)
	PutDocInMemory(ctx context.Context, projectID, docID string, doc *model.Document) error
	UpdateDocument(ctx context.Context, projectID, docID string, lines []string, newVersion int, appliedOps []model.Update, ranges model.Ranges, meta model.UpdateMeta) error
	RemoveDocFromMemory(ctx context.Context, projectID, docID string) error
	RenameDoc(ctx context.Context, projectID, docID, userID string, update model.RenameUpdate, projectHistoryID string) error
	UpdateCommentState(ctx context.Context, docID, commentID string, resolved bool) error
	ClearUnflushedTime(ctx context.Context, docID string) error
	GetPreviousDocOps(ctx context.Context, docID string, start, end int) ([]model.Update, error)
}

// Persistence is the durable store.
type Persistence interface {
	GetDoc(ctx context.Context, projectID, docID string, opts store.GetOptions) (*model.Document, error)
	SetDoc(ctx context.Context, projectID, docID string, lines []string, version int, ranges model.Ranges, lastUpdatedAt time.Time, lastUpdatedBy string) error
}

// HistoryQueue receives structural records for project history.
type HistoryQueue interface {
	QueueResyncDocContent(ctx context.Context, projectID string, req history.ResyncDocContent) error
	QueueRenameEntity(ctx context.Context, projectID, projectHistoryID, docID, userID string, update model.RenameUpdate) error
	QueueDeleteComment(ctx context.Context, projectID, pathname, commentID, userID string) error
	QueueCommentState(ctx context.Context, projectID, pathname, commentID string, resolved bool) error
}

// Updater applies a single versioned update to a loaded doc.
type Updater interface {
	ApplyUpdate(ctx context.Context, projectID, docID string, update model.Update) (*updater.Result, error)
}

// RangesEngine edits the comments and tracked changes of a doc.
type RangesEngine interface {
	AcceptChanges(projectID, docID string, changeIDs []string, r model.Ranges) (model.Ranges, error)
	DeleteComment(commentID string, r model.Ranges) (model.Ranges, error)
	GetComment(commentID string, r model.Ranges) (model.Comment, error)
	RejectChanges(changeIDs []string, r model.Ranges) (ot.Op, error)
}

// DiffFunc turns a wholesale content change into an op.
type DiffFunc func(oldLines, newLines []string) ot.Op

// Locker serializes work on a doc across processes.
type Locker interface {
	WithLock(ctx context.Context, docID string, fn func(ctx context.Context) error) error
	TryWithLock(ctx context.Context, docID string, fn func(ctx context.Context) error) (bool, error)
}

// PendingUpdates is the inbox of editor updates waiting for a doc.
type PendingUpdates interface {
	GetPendingUpdatesForDoc(ctx context.Context, docID string) ([]model.Update, error)
	GetUpdatesLength(ctx context.Context, docID string) (int64, error)
}

// Config wires a Manager to its collaborators. Cache, Persistence, History,
// Updater and Ranges are required.
type Config struct {
	Cache       Cache
	Persistence Persistence
	History     HistoryQueue
	Updater     Updater
	Ranges      RangesEngine
	// Diff defaults to ot.Diff.
	Diff DiffFunc
	// Locker is optional; without it WithLock runs fn directly.
	Locker Locker
	// Pending is optional; without it WithLock does not drain editor updates.
	Pending PendingUpdates

	// MaxDocLength bounds replaced and appended content, measured with
	// model.EncodedSize like the cache and updater limits. Zero disables the
	// check here; the updater still enforces its own limit.
	MaxDocLength    int
	MaxUnflushedAge time.Duration

	Logger *slog.Logger
	Meter  metric.Meter
	Now    func() time.Time
}

// Manager implements the doc operations other services call.
type Manager struct {
	cache       Cache
	persistence Persistence
	history     HistoryQueue
	updater     Updater
	ranges      RangesEngine
	diff        DiffFunc
	locker      Locker
	pending     PendingUpdates

	maxDocLength    int
	maxUnflushedAge time.Duration

	logger  *slog.Logger
	metrics *metrics
	now     func() time.Time

	// background tracks fire-and-forget flushes so shutdown can wait for them.
	background sync.WaitGroup
}

// NewManager creates a Manager.
func NewManager(cfg Config) (*Manager, error) {
	met, err := newMetrics(cfg.Meter)
	if err != nil {
		return nil, fmt.Errorf("create metrics: %w", err)
	}
	m := &Manager{
		cache:           cfg.Cache,
		persistence:     cfg.Persistence,
		history:         cfg.History,
		updater:         cfg.Updater,
		ranges:          cfg.Ranges,
		diff:            cfg.Diff,
		locker:          cfg.Locker,
		pending:         cfg.Pending,
		maxDocLength:    cfg.MaxDocLength,
		maxUnflushedAge: cfg.MaxUnflushedAge,
		logger:          cfg.Logger,
		metrics:         met,
		now:             cfg.Now,
	}
	if m.diff == nil {
		m.diff = ot.Diff
	}
	if m.maxUnflushedAge <= 0 {
		m.maxUnflushedAge = DefaultMaxUnflushedAge
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m, nil
}

// Wait blocks until background flushes started by GetDocAndFlushIfOld finish.
func (m *Manager) Wait() { m.background.Wait() }

func wrap(op, projectID, docID string, err error) error {
	return fmt.Errorf("%s project %s doc %s: %w", op, projectID, docID, err)
}

// DocResult is a doc as seen by GetDoc.
type DocResult struct {
	Doc *model.Document
	// AlreadyLoaded is false when this call loaded the doc into the cache.
	AlreadyLoaded bool
}

// GetDoc returns the cached doc, loading it from the durable store on a miss.
func (m *Manager) GetDoc(ctx context.Context, projectID, docID string) (*DocResult, error) {
	defer m.metrics.timer(ctx, "getDoc")()

	doc, err := m.cache.GetDoc(ctx, projectID, docID)
	if err != nil {
		return nil, wrap("get doc", projectID, docID, err)
	}
	if doc != nil {
		return &DocResult{Doc: doc, AlreadyLoaded: true}, nil
	}

	doc, err = m.persistence.GetDoc(ctx, projectID, docID, store.GetOptions{})
	if err != nil {
		return nil, wrap("load doc", projectID, docID, err)
	}
	if doc == nil || doc.Lines == nil {
		return nil, wrap("load doc", projectID, docID, model.NotFoundf("doc %s has no lines", docID))
	}
	doc.UnflushedTime = time.Time{}
	if err := m.cache.PutDocInMemory(ctx, projectID, docID, doc); err != nil {
		return nil, wrap("cache doc", projectID, docID, err)
	}
	m.logger.Info("loaded doc into cache", "project_id", projectID, "doc_id", docID, "version", doc.Version)
	return &DocResult{Doc: doc, AlreadyLoaded: false}, nil
}

// peekDoc reads the doc from the cache or, on a miss, from the durable store
// without loading it.
func (m *Manager) peekDoc(ctx context.Context, projectID, docID string) (*model.Document, error) {
	doc, err := m.cache.GetDoc(ctx, projectID, docID)
	if err != nil {
		return nil, err
	}
	if doc != nil {
		return doc, nil
	}
	doc, err = m.persistence.GetDoc(ctx, projectID, docID, store.GetOptions{Peek: true})
	if err != nil {
		return nil, err
	}
	if doc == nil || doc.Lines == nil {
		return nil, model.NotFoundf("doc %s has no lines", docID)
	}
	return doc, nil
}

// DocAndOps is a doc with the ops that led to its current version.
type DocAndOps struct {
	Doc           *model.Document
	AlreadyLoaded bool
	Ops           []model.Update
}

// GetDocAndRecentOps returns the doc and the ops from fromVersion onwards.
// A fromVersion of -1 skips the ops. Ops older than the recent-ops log are
// omitted rather than reported as an error.
func (m *Manager) GetDocAndRecentOps(ctx context.Context, projectID, docID string, fromVersion int) (*DocAndOps, error) {
	defer m.metrics.timer(ctx, "getDocAndRecentOps")()

	res, err := m.GetDoc(ctx, projectID, docID)
	if err != nil {
		return nil, err
	}
	out := &DocAndOps{Doc: res.Doc, AlreadyLoaded: res.AlreadyLoaded, Ops: []model.Update{}}
	if fromVersion == -1 {
		return out, nil
	}
	ops, err := m.cache.GetPreviousDocOps(ctx, docID, fromVersion, res.Doc.Version)
	if err != nil {
		return nil, wrap("get recent ops", projectID, docID, err)
	}
	out.Ops = ops
	return out, nil
}

// SetDocRequest replaces the content of a doc.
type SetDocRequest struct {
	Lines  []string
	Source string
	UserID string
	// Undoing marks the generated op as an undo.
	Undoing bool
	// External marks the update as coming from outside the editor.
	External bool
}

// Outcome labels for SetDoc.
const (
	setDocNoop  = "noop"
	setDocDiff  = "diff"
	methodFlush = "flush"
	methodEvict = "evict"
)

// SetDoc replaces the content of a doc with req.Lines. Identical content
// skips the diff. Either way the doc is then flushed, and evicted if this
// call was the one that loaded it.
func (m *Manager) SetDoc(ctx context.Context, projectID, docID string, req SetDocRequest) error {
	defer m.metrics.timer(ctx, "setDoc")()

	if req.Lines == nil {
		return wrap("set doc", projectID, docID, model.ErrNoLines)
	}
	if m.maxDocLength > 0 {
		if n := model.EncodedSize(req.Lines); n > m.maxDocLength {
			return wrap("set doc", projectID, docID, &model.FileTooLargeError{DocID: docID, Size: n, Max: m.maxDocLength})
		}
	}
	res, err := m.GetDoc(ctx, projectID, docID)
	if err != nil {
		return err
	}

	status := setDocNoop
	if !model.LinesEqual(res.Doc.Lines, req.Lines) {
		status = setDocDiff
		op := m.diff(res.Doc.Lines, req.Lines)
		if req.Undoing {
			for i := range op {
				op[i].U = true
			}
		}
		update := model.Update{
			Doc: docID,
			Op:  op,
			V:   res.Doc.Version,
			Meta: model.UpdateMeta{
				Source: req.Source,
				UserID: req.UserID,
			},
		}
		if req.External {
			update.Meta.Type = model.UpdateTypeExternal
		}
		if _, err := m.updater.ApplyUpdate(ctx, projectID, docID, update); err != nil {
			return wrap("set doc", projectID, docID, err)
		}
	} else {
		m.logger.Debug("set doc content unchanged", "project_id", projectID, "doc_id", docID)
	}

	method := methodFlush
	if res.AlreadyLoaded {
		err = m.FlushDocIfLoaded(ctx, projectID, docID)
	} else {
		method = methodEvict
		err = m.FlushAndDeleteDoc(ctx, projectID, docID, FlushAndDeleteOptions{})
	}
	m.metrics.countSetDoc(ctx, status, method)
	return err
}

// FlushDocIfLoaded writes the cached doc to the durable store. A doc that is
// not loaded needs no flush.
func (m *Manager) FlushDocIfLoaded(ctx context.Context, projectID, docID string) error {
	defer m.metrics.timer(ctx, "flushDocIfLoaded")()

	doc, err := m.cache.GetDoc(ctx, projectID, docID)
	if err != nil {
		return wrap("flush doc", projectID, docID, err)
	}
	if doc == nil {
		m.logger.Debug("doc is not loaded so not flushing", "project_id", projectID, "doc_id", docID)
		return nil
	}
	if err := m.persistence.SetDoc(ctx, projectID, docID, doc.Lines, doc.Version, doc.Ranges,
		doc.LastUpdatedAt, doc.LastUpdatedBy); err != nil {
		return wrap("flush doc", projectID, docID, err)
	}
	if err := m.cache.ClearUnflushedTime(ctx, docID); err != nil {
		return wrap("flush doc", projectID, docID, err)
	}
	m.logger.Info("flushed doc", "project_id", projectID, "doc_id", docID, "version", doc.Version)
	return nil
}

// FlushAndDeleteOptions tunes FlushAndDeleteDoc.
type FlushAndDeleteOptions struct {
	// IgnoreFlushErrors evicts the doc even if the flush failed, dropping
	// any unflushed edits.
	IgnoreFlushErrors bool
}

// FlushAndDeleteDoc flushes the doc and removes it from the cache. If the
// flush fails the doc stays cached unless opts.IgnoreFlushErrors is set.
func (m *Manager) FlushAndDeleteDoc(ctx context.Context, projectID, docID string, opts FlushAndDeleteOptions) error {
	defer m.metrics.timer(ctx, "flushAndDeleteDoc")()

	if err := m.FlushDocIfLoaded(ctx, projectID, docID); err != nil {
		if !opts.IgnoreFlushErrors {
			return err
		}
		m.logger.Warn("ignoring flush error while deleting doc", "project_id", projectID, "doc_id", docID, "err", err)
	}
	if err := m.cache.RemoveDocFromMemory(ctx, projectID, docID); err != nil {
		return wrap("delete doc", projectID, docID, err)
	}
	m.logger.Info("evicted doc", "project_id", projectID, "doc_id", docID)
	return nil
}

// Snapshot is the content of a doc at a version.
type Snapshot struct {
	Lines   []string
	Version int
}

// GetDocAndFlushIfOld returns the doc content and, when the doc has been
// dirty for longer than threshold, starts a flush in the background. The
// returned content does not wait for the flush. A zero threshold uses the
// configured maximum unflushed age.
func (m *Manager) GetDocAndFlushIfOld(ctx context.Context, projectID, docID string, threshold time.Duration) (*Snapshot, error) {
	defer m.metrics.timer(ctx, "getDocAndFlushIfOld")()

	res, err := m.GetDoc(ctx, projectID, docID)
	if err != nil {
		return nil, err
	}
	if threshold <= 0 {
		threshold = m.maxUnflushedAge
	}
	doc := res.Doc
	if res.AlreadyLoaded && !doc.Flushed() && m.now().Sub(doc.UnflushedTime) > threshold {
		m.flushInBackground(context.WithoutCancel(ctx), projectID, docID)
	}
	return &Snapshot{Lines: doc.Lines, Version: doc.Version}, nil
}

func (m *Manager) flushInBackground(ctx context.Context, projectID, docID string) {
	m.background.Add(1)
	go func() {
		defer m.background.Done()
		flush := func(ctx context.Context) error { return m.FlushDocIfLoaded(ctx, projectID, docID) }
		var err error
		if m.locker != nil {
			err = m.locker.WithLock(ctx, docID, flush)
		} else {
			err = flush(ctx)
		}
		if err != nil {
			m.logger.Error("background flush of old doc failed", "project_id", projectID, "doc_id", docID, "err", err)
		}
	}()
}

// AcceptChanges accepts tracked changes, keeping their content.
func (m *Manager) AcceptChanges(ctx context.Context, projectID, docID string, changeIDs []string) error {
	defer m.metrics.timer(ctx, "acceptChanges")()

	res, err := m.GetDoc(ctx, projectID, docID)
	if err != nil {
		return err
	}
	doc := res.Doc
	ranges, err := m.ranges.AcceptChanges(projectID, docID, changeIDs, doc.Ranges)
	if err != nil {
		return wrap("accept changes", projectID, docID, err)
	}
	if err := m.cache.UpdateDocument(ctx, projectID, docID, doc.Lines, doc.Version, nil, ranges, model.UpdateMeta{}); err != nil {
		return wrap("accept changes", projectID, docID, err)
	}
	return nil
}

// RejectChanges reverts tracked changes by applying their inverse as one
// undo update. It returns the doc version after the update.
func (m *Manager) RejectChanges(ctx context.Context, projectID, docID string, changeIDs []string, userID string) (int, error) {
	defer m.metrics.timer(ctx, "rejectChanges")()

	res, err := m.GetDoc(ctx, projectID, docID)
	if err != nil {
		return 0, err
	}
	op, err := m.ranges.RejectChanges(changeIDs, res.Doc.Ranges)
	if err != nil {
		return 0, wrap("reject changes", projectID, docID, err)
	}
	if op.IsNoop() {
		return res.Doc.Version, nil
	}
	update := model.Update{
		Doc:  docID,
		Op:   op,
		V:    res.Doc.Version,
		Meta: model.UpdateMeta{UserID: userID, Source: "reject"},
	}
	applied, err := m.updater.ApplyUpdate(ctx, projectID, docID, update)
	if err != nil {
		return 0, wrap("reject changes", projectID, docID, err)
	}
	return applied.Version, nil
}

// DeleteComment removes a comment thread and tells history about it.
func (m *Manager) DeleteComment(ctx context.Context, projectID, docID, commentID, userID string) error {
	defer m.metrics.timer(ctx, "deleteComment")()

	res, err := m.GetDoc(ctx, projectID, docID)
	if err != nil {
		return err
	}
	doc := res.Doc
	ranges, err := m.ranges.DeleteComment(commentID, doc.Ranges)
	if err != nil {
		return wrap("delete comment", projectID, docID, err)
	}
	if err := m.cache.UpdateDocument(ctx, projectID, docID, doc.Lines, doc.Version, nil, ranges, model.UpdateMeta{UserID: userID}); err != nil {
		return wrap("delete comment", projectID, docID, err)
	}
	if err := m.cache.UpdateCommentState(ctx, docID, commentID, false); err != nil {
		return wrap("delete comment", projectID, docID, err)
	}
	if err := m.history.QueueDeleteComment(ctx, projectID, doc.Pathname, commentID, userID); err != nil {
		return wrap("delete comment", projectID, docID, err)
	}
	m.metrics.countHistory(ctx, "deleteComment")
	return nil
}

// GetComment returns a comment of the doc.
func (m *Manager) GetComment(ctx context.Context, projectID, docID, commentID string) (model.Comment, error) {
	res, err := m.GetDoc(ctx, projectID, docID)
	if err != nil {
		return model.Comment{}, err
	}
	c, err := m.ranges.GetComment(commentID, res.Doc.Ranges)
	if err != nil {
		return model.Comment{}, wrap("get comment", projectID, docID, err)
	}
	return c, nil
}

// UpdateCommentState marks a comment resolved or reopened.
func (m *Manager) UpdateCommentState(ctx context.Context, projectID, docID, commentID string, resolved bool) error {
	defer m.metrics.timer(ctx, "updateCommentState")()

	res, err := m.GetDoc(ctx, projectID, docID)
	if err != nil {
		return err
	}
	if err := m.cache.UpdateCommentState(ctx, docID, commentID, resolved); err != nil {
		return wrap("update comment state", projectID, docID, err)
	}
	if !res.Doc.HistoryRangesSupport {
		return nil
	}
	if err := m.history.QueueCommentState(ctx, projectID, res.Doc.Pathname, commentID, resolved); err != nil {
		return wrap("update comment state", projectID, docID, err)
	}
	m.metrics.countHistory(ctx, "commentState")
	return nil
}

// ResyncDocContents sends history a full snapshot of the doc. The doc is
// read from the cache or peeked from the durable store; it is not loaded.
// A non-empty pathname overrides the doc's own.
func (m *Manager) ResyncDocContents(ctx context.Context, projectID, docID, pathname string) error {
	defer m.metrics.timer(ctx, "resyncDocContents")()

	doc, err := m.peekDoc(ctx, projectID, docID)
	if err != nil {
		return wrap("resync doc", projectID, docID, err)
	}
	if pathname == "" {
		pathname = doc.Pathname
	}
	err = m.history.QueueResyncDocContent(ctx, projectID, history.ResyncDocContent{
		ProjectHistoryID:     doc.ProjectHistoryID,
		DocID:                docID,
		Lines:                doc.Lines,
		Ranges:               doc.Ranges,
		ResolvedCommentIDs:   doc.ResolvedCommentIDs,
		Version:              doc.Version,
		Pathname:             pathname,
		HistoryRangesSupport: doc.HistoryRangesSupport,
	})
	if err != nil {
		return wrap("resync doc", projectID, docID, err)
	}
	m.metrics.countHistory(ctx, "resyncDocContent")
	return nil
}

// RenameDoc records a move of the doc in the cache and in history.
func (m *Manager) RenameDoc(ctx context.Context, projectID, docID, userID string, update model.RenameUpdate, projectHistoryID string) error {
	defer m.metrics.timer(ctx, "renameDoc")()

	if err := m.cache.RenameDoc(ctx, projectID, docID, userID, update, projectHistoryID); err != nil {
		return wrap("rename doc", projectID, docID, err)
	}
	if err := m.history.QueueRenameEntity(ctx, projectID, projectHistoryID, docID, userID, update); err != nil {
		return wrap("rename doc", projectID, docID, err)
	}
	m.metrics.countHistory(ctx, "rename")
	return nil
}

// AppendToDoc adds lines to the end of the doc. The size check runs before
// anything is written, including loading the doc into the cache.
func (m *Manager) AppendToDoc(ctx context.Context, projectID, docID string, lines []string, source, userID string) error {
	defer m.metrics.timer(ctx, "appendToDoc")()

	doc, err := m.peekDoc(ctx, projectID, docID)
	if err != nil {
		return wrap("append to doc", projectID, docID, err)
	}
	combined := make([]string, 0, len(doc.Lines)+len(lines))
	combined = append(combined, doc.Lines...)
	combined = append(combined, lines...)
	if m.maxDocLength > 0 {
		if n := model.EncodedSize(combined); n > m.maxDocLength {
			return wrap("append to doc", projectID, docID,
				&model.FileTooLargeError{DocID: docID, Size: n, Max: m.maxDocLength})
		}
	}
	return m.SetDoc(ctx, projectID, docID, SetDocRequest{
		Lines:    combined,
		Source:   source,
		UserID:   userID,
		External: true,
	})
}

// ApplyUpdate loads the doc if needed and applies one editor update.
func (m *Manager) ApplyUpdate(ctx context.Context, projectID, docID string, update model.Update) (*updater.Result, error) {
	defer m.metrics.timer(ctx, "applyUpdate")()

	if _, err := m.GetDoc(ctx, projectID, docID); err != nil {
		return nil, err
	}
	res, err := m.updater.ApplyUpdate(ctx, projectID, docID, update)
	if err != nil {
		return nil, wrap("apply update", projectID, docID, err)
	}
	return res, nil
}
