package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alimasry/docupdater/model"
)

func createTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "docs.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	runStoreTests(t,
		func(t *testing.T) Store { return createTestSQLiteStore(t) },
		func(t *testing.T) string { return "project1" })
}

func TestOpenSQLite_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.db")
	for i := 0; i < 3; i++ {
		s, err := OpenSQLite(path)
		if err != nil {
			t.Fatalf("OpenSQLite() iteration %d failed: %v", i, err)
		}
		s.Close()
	}
}

func TestSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.db")
	ctx := context.Background()

	s1, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	s1.CreateDoc(ctx, "p", "d", &model.Document{Lines: []string{"kept"}, Version: 4})
	s1.Close()

	s2, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	doc, err := s2.GetDoc(ctx, "p", "d", GetOptions{Peek: true})
	if err != nil {
		t.Fatal(err)
	}
	if doc.Lines[0] != "kept" || doc.Version != 4 {
		t.Errorf("unexpected doc after reopen: %+v", doc)
	}
}

func TestSQLiteStore_Peek(t *testing.T) {
	s := createTestSQLiteStore(t)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	s.CreateDoc(ctx, "p", "d", &model.Document{Lines: []string{"x"}})
	s.GetDoc(ctx, "p", "d", GetOptions{Peek: true})
	opened, err := s.openedAt(ctx, "p", "d")
	if err != nil {
		t.Fatal(err)
	}
	if opened.Valid {
		t.Error("peek must not mark the doc opened")
	}

	s.GetDoc(ctx, "p", "d", GetOptions{})
	opened, _ = s.openedAt(ctx, "p", "d")
	if !opened.Valid || opened.Int64 != now.UnixMilli() {
		t.Errorf("opened at = %+v, want %d", opened, now.UnixMilli())
	}
}

func TestSQLiteStore_EmptyLines(t *testing.T) {
	s := createTestSQLiteStore(t)
	ctx := context.Background()

	s.CreateDoc(ctx, "p", "d", &model.Document{})
	doc, err := s.GetDoc(ctx, "p", "d", GetOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if doc.Lines == nil || len(doc.Lines) != 0 {
		t.Errorf("lines = %#v, want empty non-nil slice", doc.Lines)
	}
}
