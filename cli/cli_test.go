package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alimasry/docupdater/model"
	"github.com/alimasry/docupdater/ot"
	"github.com/alimasry/docupdater/realtime"
)

type env struct {
	mr      *miniredis.Miniredis
	dir     string
	cfgPath string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	mr := miniredis.RunT(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "docupdater.yaml")
	cfg := fmt.Sprintf(`redis:
  address: %s
persistence:
  backend: sqlite
  sqlitePath: %s
dispatcher:
  wait: 100ms
deleteQueue:
  pollInterval: 50ms
`, mr.Addr(), filepath.Join(dir, "docs.db"))
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))
	return &env{mr: mr, dir: dir, cfgPath: cfgPath}
}

func (e *env) file(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func (e *env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return e.runContext(context.Background(), args...)
}

func (e *env) runContext(ctx context.Context, args ...string) (string, error) {
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--config", e.cfgPath}, args...))
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func (e *env) get(t *testing.T, projectID, docID string) docOutput {
	t.Helper()
	out, err := e.run(t, "get", projectID, docID)
	require.NoError(t, err)
	var doc docOutput
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	return doc
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "docupdater", cmd.Use)
	for _, name := range []string{"create", "list", "get", "flush", "evict", "resync", "set", "append",
		"accept", "reject", "flush-project", "queue-delete", "worker"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}
	require.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	require.NotNil(t, cmd.PersistentFlags().Lookup("log-level"))
}

func TestDocLifecycle(t *testing.T) {
	e := newEnv(t)

	_, err := e.run(t, "create", "p1", "d1", e.file(t, "d1.tex", "hello\nworld\n"))
	require.NoError(t, err)
	out, err := e.run(t, "list", "p1")
	require.NoError(t, err)
	assert.Equal(t, "d1\n", out)

	doc := e.get(t, "p1", "d1")
	assert.Equal(t, []string{"hello", "world"}, doc.Lines)
	assert.Equal(t, "/d1", doc.Pathname)
	assert.False(t, doc.AlreadyLoaded)
	assert.Nil(t, doc.UnflushedTime)

	_, err = e.run(t, "set", "p1", "d1", e.file(t, "new.tex", "hello\nthere\n"), "--user", "u1")
	require.NoError(t, err)
	doc = e.get(t, "p1", "d1")
	assert.True(t, doc.AlreadyLoaded)
	assert.Equal(t, []string{"hello", "there"}, doc.Lines)
	assert.Equal(t, 1, doc.Version)
	assert.Nil(t, doc.UnflushedTime, "set flushes a loaded doc")

	_, err = e.run(t, "append", "p1", "d1", e.file(t, "more.tex", "!"))
	require.NoError(t, err)
	doc = e.get(t, "p1", "d1")
	assert.Equal(t, []string{"hello", "there", "!"}, doc.Lines)

	out, err = e.run(t, "get", "p1", "d1", "--from-version", "1")
	require.NoError(t, err)
	var withOps docOutput
	require.NoError(t, json.Unmarshal([]byte(out), &withOps))
	require.Len(t, withOps.Ops, 1)
	assert.Equal(t, 1, withOps.Ops[0].V)

	_, err = e.run(t, "resync", "p1", "d1", "--pathname", "/main.tex")
	require.NoError(t, err)
	records, err := e.mr.List("ProjectHistory:{p1}")
	require.NoError(t, err)
	assert.Contains(t, records[len(records)-1], `"path":"/main.tex"`)

	_, err = e.run(t, "evict", "p1", "d1")
	require.NoError(t, err)
	assert.False(t, e.mr.Exists("doclines:{d1}"))

	doc = e.get(t, "p1", "d1")
	assert.False(t, doc.AlreadyLoaded)
	assert.Equal(t, []string{"hello", "there", "!"}, doc.Lines)
	assert.Equal(t, 2, doc.Version)
}

func TestGet_NotFound(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "get", "p1", "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestFlushProjectAndQueueDelete(t *testing.T) {
	e := newEnv(t)
	for _, id := range []string{"d1", "d2"} {
		_, err := e.run(t, "create", "p1", id, e.file(t, id, id))
		require.NoError(t, err)
		e.get(t, "p1", id)
	}

	_, err := e.run(t, "flush-project", "p1")
	require.NoError(t, err)
	assert.True(t, e.mr.Exists("doclines:{d1}"))

	out, err := e.run(t, "queue-delete", "p1")
	require.NoError(t, err)
	assert.Equal(t, "queued project p1\n", out)
	members, err := e.mr.ZMembers("DocUpdaterFlushAndDeleteQueue")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, members)

	_, err = e.run(t, "flush-project", "p1", "--evict")
	require.NoError(t, err)
	assert.False(t, e.mr.Exists("doclines:{d1}"))
	assert.False(t, e.mr.Exists("doclines:{d2}"))
}

func TestWorker(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "create", "p1", "d1", e.file(t, "d1.tex", "ab"))
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: e.mr.Addr()})
	t.Cleanup(func() { client.Close() })
	rt := realtime.New(client, nil)
	ctx := context.Background()
	require.NoError(t, rt.QueuePendingUpdate(ctx, "p1", "d1", model.Update{Op: ot.Op{ot.Insert(1, "-")}, V: 0}))

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		_, err := e.runContext(runCtx, "worker")
		done <- err
	}()

	require.Eventually(t, func() bool {
		v, err := e.mr.Get("DocVersion:{d1}")
		return err == nil && v == "1"
	}, 5*time.Second, 20*time.Millisecond)
	lines, err := e.mr.Get("doclines:{d1}")
	require.NoError(t, err)
	assert.Equal(t, `["a-b"]`, lines)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestBadLogLevel(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "--log-level", "LOUD", "list", "p1")
	assert.ErrorContains(t, err, "--log-level")
}
