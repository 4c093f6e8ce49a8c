// Package ranges keeps tracked changes and comments anchored to the text of
// a doc. All functions are pure: they take ranges by value and return a new
// copy, never touching the caller's slices.
package ranges

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/alimasry/docupdater/model"
	"github.com/alimasry/docupdater/ot"
)

// Limits on the number of ranges a single doc may carry.
const (
	MaxComments = 2000
	MaxChanges  = 2000
)

var ErrTooManyRanges = errors.New("too many comments or tracked changes")

// Engine applies ranges operations. The zero value is ready to use.
type Engine struct{}

// New returns an Engine.
func New() *Engine { return &Engine{} }

// AcceptChanges drops the given tracked changes, keeping the content they
// describe. Unknown ids are ignored.
func (e *Engine) AcceptChanges(projectID, docID string, changeIDs []string, r model.Ranges) (model.Ranges, error) {
	out := r.Clone()
	if len(changeIDs) == 0 {
		return out, nil
	}
	remove := make(map[string]bool, len(changeIDs))
	for _, id := range changeIDs {
		remove[id] = true
	}
	kept := out.Changes[:0]
	for _, c := range out.Changes {
		if !remove[c.ID] {
			kept = append(kept, c)
		}
	}
	out.Changes = nilIfEmpty(kept)
	return out, nil
}

// DeleteComment removes a comment thread. Deleting an unknown comment is not an error.
func (e *Engine) DeleteComment(commentID string, r model.Ranges) (model.Ranges, error) {
	out := r.Clone()
	kept := out.Comments[:0]
	for _, c := range out.Comments {
		if c.ID != commentID {
			kept = append(kept, c)
		}
	}
	out.Comments = nilIfEmpty(kept)
	return out, nil
}

// GetComment looks up a comment by id.
func (e *Engine) GetComment(commentID string, r model.Ranges) (model.Comment, error) {
	for _, c := range r.Comments {
		if c.ID == commentID {
			return c, nil
		}
	}
	return model.Comment{}, model.NotFoundf("comment %s", commentID)
}

// RejectChanges returns the undo op that reverts the given tracked changes.
// Inserted text is deleted and deleted text is restored. Components run from
// the end of the doc backwards so each stays valid against the snapshot left
// by the previous one.
func (e *Engine) RejectChanges(changeIDs []string, r model.Ranges) (ot.Op, error) {
	want := make(map[string]bool, len(changeIDs))
	for _, id := range changeIDs {
		want[id] = true
	}
	var selected []model.Change
	for _, c := range r.Changes {
		if want[c.ID] {
			selected = append(selected, c)
		}
	}
	sort.SliceStable(selected, func(i, j int) bool {
		a, b := selected[i].Op, selected[j].Op
		if a.P != b.P {
			return a.P > b.P
		}
		// Remove inserted text before restoring deleted text at the same offset.
		return a.IsInsert() && b.IsDelete()
	})
	op := make(ot.Op, 0, len(selected))
	for _, c := range selected {
		switch {
		case c.Op.IsInsert():
			op = append(op, ot.Component{P: c.Op.P, D: c.Op.I, U: true})
		case c.Op.IsDelete():
			op = append(op, ot.Component{P: c.Op.P, I: c.Op.D, U: true})
		}
	}
	return op, nil
}

// ApplyUpdate moves ranges through an op that has been applied to the doc.
// When meta.TC is set, inserts and deletes are recorded as tracked changes
// attributed to meta.UserID.
func (e *Engine) ApplyUpdate(r model.Ranges, op ot.Op, meta model.UpdateMeta, ts time.Time) (model.Ranges, error) {
	t := newTracker(r, meta, ts)
	for i, c := range op {
		var err error
		switch {
		case c.IsInsert():
			t.applyInsert(c)
		case c.IsDelete():
			err = t.applyDelete(c)
		case c.IsComment():
			t.addComment(c)
		}
		if err != nil {
			return model.Ranges{}, fmt.Errorf("component %d: %w", i, err)
		}
	}
	t.normalize()
	if len(t.comments) > MaxComments || len(t.changes) > MaxChanges {
		return model.Ranges{}, ErrTooManyRanges
	}
	return model.Ranges{Changes: nilIfEmpty(t.changes), Comments: nilIfEmpty(t.comments)}, nil
}

func nilIfEmpty[T any](s []T) []T {
	if len(s) == 0 {
		return nil
	}
	return s
}
