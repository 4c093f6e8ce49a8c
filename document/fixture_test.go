package document

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/alimasry/docupdater/cache"
	"github.com/alimasry/docupdater/history"
	"github.com/alimasry/docupdater/lock"
	"github.com/alimasry/docupdater/model"
	"github.com/alimasry/docupdater/ot"
	"github.com/alimasry/docupdater/ranges"
	"github.com/alimasry/docupdater/realtime"
	"github.com/alimasry/docupdater/store"
	"github.com/alimasry/docupdater/updater"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

const (
	testProject = "p1"
	testDoc     = "d1"
)

// spyCache counts writes that go through the update path.
type spyCache struct {
	*cache.Store
	updates atomic.Int32
}

func (c *spyCache) UpdateDocument(ctx context.Context, projectID, docID string, lines []string, newVersion int, appliedOps []model.Update, r model.Ranges, meta model.UpdateMeta) error {
	c.updates.Add(1)
	return c.Store.UpdateDocument(ctx, projectID, docID, lines, newVersion, appliedOps, r, meta)
}

// spyPersistence counts flushes and can be told to fail them.
type spyPersistence struct {
	*store.MemoryStore
	mu       sync.Mutex
	sets     int
	failDocs map[string]error
}

func (p *spyPersistence) SetDoc(ctx context.Context, projectID, docID string, lines []string, version int, r model.Ranges, lastUpdatedAt time.Time, lastUpdatedBy string) error {
	p.mu.Lock()
	p.sets++
	err := p.failDocs[docID]
	p.mu.Unlock()
	if err != nil {
		return err
	}
	return p.MemoryStore.SetDoc(ctx, projectID, docID, lines, version, r, lastUpdatedAt, lastUpdatedBy)
}

func (p *spyPersistence) failSets(docID string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failDocs == nil {
		p.failDocs = make(map[string]error)
	}
	p.failDocs[docID] = err
}

func (p *spyPersistence) setCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sets
}

var errStoreDown = errors.New("durable store unavailable")

type fixture struct {
	mr          *miniredis.Miniredis
	client      *redis.Client
	cache       *spyCache
	persistence *spyPersistence
	realtime    *realtime.Client
	manager     *Manager
	reader      *sdkmetric.ManualReader
	diffCalls   atomic.Int32
}

func newFixture(t *testing.T, opts ...func(*Config)) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	now := func() time.Time { return testNow }

	f := &fixture{
		mr:          mr,
		client:      client,
		persistence: &spyPersistence{MemoryStore: store.NewMemoryStore()},
		realtime:    realtime.New(client, nil),
		reader:      sdkmetric.NewManualReader(),
	}
	hist := history.NewQueue(client, history.Config{Now: now})

	cfg := Config{
		Persistence: f.persistence,
		History:     hist,
		Ranges:      ranges.New(),
		Diff: func(oldLines, newLines []string) ot.Op {
			f.diffCalls.Add(1)
			return ot.Diff(oldLines, newLines)
		},
		Locker:  lock.New(client, lock.Config{}),
		Pending: f.realtime,
		Meter:   sdkmetric.NewMeterProvider(sdkmetric.WithReader(f.reader)).Meter("test"),
		Now:     now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	// The cache and updater share the manager's size limit, as in production.
	f.cache = &spyCache{Store: cache.New(client, cache.Config{MaxDocLength: cfg.MaxDocLength, Now: now})}
	cfg.Cache = f.cache
	cfg.Updater = updater.New(f.cache, ranges.New(), hist, f.realtime, updater.Config{MaxDocLength: cfg.MaxDocLength, Now: now})
	m, err := NewManager(cfg)
	require.NoError(t, err)
	f.manager = m
	return f
}

// create puts a doc in the durable store only.
func (f *fixture) create(t *testing.T, docID string, doc model.Document) {
	t.Helper()
	if doc.Pathname == "" {
		doc.Pathname = "/" + docID + ".tex"
	}
	require.NoError(t, f.persistence.CreateDoc(context.Background(), testProject, docID, &doc))
}

// cached returns the doc from the cache, or nil if it is not loaded.
func (f *fixture) cached(t *testing.T, docID string) *model.Document {
	t.Helper()
	doc, err := f.cache.Store.GetDoc(context.Background(), testProject, docID)
	require.NoError(t, err)
	return doc
}

func (f *fixture) durable(t *testing.T, docID string) *model.Document {
	t.Helper()
	doc, err := f.persistence.GetDoc(context.Background(), testProject, docID, store.GetOptions{Peek: true})
	require.NoError(t, err)
	return doc
}

// historyRecords decodes the project's history queue into generic maps.
func (f *fixture) historyRecords(t *testing.T) []map[string]any {
	t.Helper()
	raw, err := f.mr.List("ProjectHistory:{" + testProject + "}")
	if errors.Is(err, miniredis.ErrKeyNotFound) {
		return nil
	}
	require.NoError(t, err)
	out := make([]map[string]any, len(raw))
	for i, r := range raw {
		require.NoError(t, json.Unmarshal([]byte(r), &out[i]))
	}
	return out
}

func insertUpdate(v int, pos int, text string) model.Update {
	return model.Update{Op: ot.Op{ot.Insert(pos, text)}, V: v, Meta: model.UpdateMeta{UserID: "u1"}}
}

// setDocCounts returns the set_doc counter values keyed by "status/method".
func (f *fixture) setDocCounts(t *testing.T) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, f.reader.Collect(context.Background(), &rm))
	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "docupdater.set_doc" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				status, _ := dp.Attributes.Value("status")
				method, _ := dp.Attributes.Value("method")
				out[status.AsString()+"/"+method.AsString()] += dp.Value
			}
		}
	}
	return out
}
