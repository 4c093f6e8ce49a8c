package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alimasry/docupdater/model"
)

type docRecord struct {
	doc      model.Document
	openedAt time.Time
}

// MemoryStore is an in-memory implementation of Store.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]map[string]*docRecord
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]map[string]*docRecord), now: time.Now}
}

func (s *MemoryStore) lookup(projectID, docID string) (*docRecord, bool) {
	rec, ok := s.docs[projectID][docID]
	return rec, ok
}

func (s *MemoryStore) CreateDoc(_ context.Context, projectID, docID string, doc *model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.lookup(projectID, docID); exists {
		return ErrExists
	}
	if s.docs[projectID] == nil {
		s.docs[projectID] = make(map[string]*docRecord)
	}
	stored := *doc
	stored.Lines = copyLines(doc.Lines)
	stored.Ranges = doc.Ranges.Clone()
	stored.ResolvedCommentIDs = copyLines(doc.ResolvedCommentIDs)
	stored.UnflushedTime = time.Time{}
	s.docs[projectID][docID] = &docRecord{doc: stored}
	return nil
}

func (s *MemoryStore) GetDoc(_ context.Context, projectID, docID string, opts GetOptions) (*model.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.lookup(projectID, docID)
	if !ok {
		return nil, model.NotFoundf("doc %s in project %s", docID, projectID)
	}
	if !opts.Peek {
		rec.openedAt = s.now()
	}
	doc := rec.doc
	doc.Lines = copyLines(rec.doc.Lines)
	doc.Ranges = rec.doc.Ranges.Clone()
	doc.ResolvedCommentIDs = copyLines(rec.doc.ResolvedCommentIDs)
	return &doc, nil
}

func (s *MemoryStore) SetDoc(_ context.Context, projectID, docID string, lines []string, version int, ranges model.Ranges, lastUpdatedAt time.Time, lastUpdatedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.lookup(projectID, docID)
	if !ok {
		return model.NotFoundf("doc %s in project %s", docID, projectID)
	}
	rec.doc.Lines = copyLines(lines)
	rec.doc.Version = version
	rec.doc.Ranges = ranges.Clone()
	rec.doc.LastUpdatedAt = lastUpdatedAt
	rec.doc.LastUpdatedBy = lastUpdatedBy
	return nil
}

func (s *MemoryStore) ListDocs(_ context.Context, projectID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]string, 0, len(s.docs[projectID]))
	for id := range s.docs[projectID] {
		result = append(result, id)
	}
	sort.Strings(result)
	return result, nil
}

// OpenedAt returns when the doc was last read without Peek. Zero if never.
func (s *MemoryStore) OpenedAt(projectID, docID string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if rec, ok := s.lookup(projectID, docID); ok {
		return rec.openedAt
	}
	return time.Time{}
}
