package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alimasry/docupdater/model"
)

// runStoreTests exercises the Store contract. Every implementation must pass it.
func runStoreTests(t *testing.T, newStore func(t *testing.T) Store, project func(t *testing.T) string) {
	t.Run("CreateAndGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		projectID := project(t)

		in := &model.Document{
			Lines:                []string{"hello", "world"},
			Version:              3,
			Pathname:             "/main.tex",
			ProjectHistoryID:     "ph1",
			HistoryRangesSupport: true,
			ResolvedCommentIDs:   []string{"c1"},
		}
		if err := s.CreateDoc(ctx, projectID, "doc1", in); err != nil {
			t.Fatal(err)
		}

		doc, err := s.GetDoc(ctx, projectID, "doc1", GetOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if !model.LinesEqual(doc.Lines, in.Lines) || doc.Version != 3 {
			t.Errorf("unexpected doc: %+v", doc)
		}
		if doc.Pathname != "/main.tex" || doc.ProjectHistoryID != "ph1" || !doc.HistoryRangesSupport {
			t.Errorf("unexpected metadata: %+v", doc)
		}
		if len(doc.ResolvedCommentIDs) != 1 || doc.ResolvedCommentIDs[0] != "c1" {
			t.Errorf("resolved comment ids = %v", doc.ResolvedCommentIDs)
		}
		if !doc.Ranges.IsEmpty() {
			t.Errorf("ranges = %+v, want empty", doc.Ranges)
		}
		if !doc.Flushed() {
			t.Error("a durable read must never carry an unflushed time")
		}
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		projectID := project(t)

		s.CreateDoc(ctx, projectID, "doc1", &model.Document{Lines: []string{""}})
		err := s.CreateDoc(ctx, projectID, "doc1", &model.Document{Lines: []string{""}})
		if !errors.Is(err, ErrExists) {
			t.Errorf("err = %v, want ErrExists", err)
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetDoc(context.Background(), project(t), "nope", GetOptions{})
		if !errors.Is(err, model.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("SetDoc", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		projectID := project(t)

		s.CreateDoc(ctx, projectID, "doc1", &model.Document{Lines: []string{"a"}, Pathname: "/a.tex"})
		ranges := model.Ranges{Comments: []model.Comment{{ID: "t1", Op: model.CommentOp{C: "b", P: 2, T: "t1"}}}}
		updatedAt := time.UnixMilli(1700000000000).UTC()
		if err := s.SetDoc(ctx, projectID, "doc1", []string{"a", "b"}, 7, ranges, updatedAt, "user1"); err != nil {
			t.Fatal(err)
		}

		doc, err := s.GetDoc(ctx, projectID, "doc1", GetOptions{Peek: true})
		if err != nil {
			t.Fatal(err)
		}
		if !model.LinesEqual(doc.Lines, []string{"a", "b"}) || doc.Version != 7 {
			t.Errorf("unexpected: lines=%q version=%d", doc.Lines, doc.Version)
		}
		if len(doc.Ranges.Comments) != 1 || doc.Ranges.Comments[0].Op.C != "b" {
			t.Errorf("ranges = %+v", doc.Ranges)
		}
		if !doc.LastUpdatedAt.Equal(updatedAt) || doc.LastUpdatedBy != "user1" {
			t.Errorf("last updated = %v by %q", doc.LastUpdatedAt, doc.LastUpdatedBy)
		}
		if doc.Pathname != "/a.tex" {
			t.Errorf("pathname = %q, SetDoc must not touch it", doc.Pathname)
		}

		// Clearing ranges stores them as absent.
		if err := s.SetDoc(ctx, projectID, "doc1", []string{"a", "b"}, 8, model.Ranges{}, updatedAt, "user1"); err != nil {
			t.Fatal(err)
		}
		doc, _ = s.GetDoc(ctx, projectID, "doc1", GetOptions{Peek: true})
		if !doc.Ranges.IsEmpty() {
			t.Errorf("ranges = %+v, want empty", doc.Ranges)
		}
	})

	t.Run("SetDocNotFound", func(t *testing.T) {
		s := newStore(t)
		err := s.SetDoc(context.Background(), project(t), "nope", []string{""}, 1, model.Ranges{}, time.Now(), "")
		if !errors.Is(err, model.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("ListDocs", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		projectID := project(t)

		for _, id := range []string{"c", "a", "b"} {
			s.CreateDoc(ctx, projectID, id, &model.Document{Lines: []string{""}})
		}
		s.CreateDoc(ctx, projectID+"-other", "z", &model.Document{Lines: []string{""}})

		ids, err := s.ListDocs(ctx, projectID)
		if err != nil {
			t.Fatal(err)
		}
		if len(ids) != 3 || ids[0] != "a" || ids[1] != "b" || ids[2] != "c" {
			t.Errorf("ids = %v, want [a b c]", ids)
		}
	})
}
