// Package store is the durable copy of every doc. The doc updater reads from
// it when a doc is first materialized into the cache and writes to it on flush.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/alimasry/docupdater/model"
)

// ErrExists is returned by CreateDoc when the doc is already stored.
var ErrExists = errors.New("doc already exists")

// GetOptions tunes a durable read.
type GetOptions struct {
	// Peek reads the doc without marking it as opened.
	Peek bool
}

// Store abstracts the durable document store.
// Implementations: MemoryStore, SQLiteStore, FirestoreStore.
type Store interface {
	// GetDoc returns the stored doc or an error wrapping model.ErrNotFound.
	// The returned doc always has a zero UnflushedTime.
	GetDoc(ctx context.Context, projectID, docID string, opts GetOptions) (*model.Document, error)
	// SetDoc overwrites content, version and ranges of an existing doc.
	SetDoc(ctx context.Context, projectID, docID string, lines []string, version int, ranges model.Ranges, lastUpdatedAt time.Time, lastUpdatedBy string) error
	CreateDoc(ctx context.Context, projectID, docID string, doc *model.Document) error
	ListDocs(ctx context.Context, projectID string) ([]string, error)
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*FirestoreStore)(nil)
)

func copyLines(lines []string) []string {
	if lines == nil {
		return nil
	}
	out := make([]string, len(lines))
	copy(out, lines)
	return out
}
