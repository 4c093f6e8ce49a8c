package ranges

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/alimasry/docupdater/model"
	"github.com/alimasry/docupdater/ot"
)

var errCommentMismatch = errors.New("deleted content does not match comment content")

// tracker holds the working copy of ranges while an op is replayed over them.
type tracker struct {
	changes  []model.Change
	comments []model.Comment
	meta     model.UpdateMeta
	ts       time.Time
	seq      int
}

func newTracker(r model.Ranges, meta model.UpdateMeta, ts time.Time) *tracker {
	c := r.Clone()
	return &tracker{changes: c.Changes, comments: c.Comments, meta: meta, ts: ts}
}

func (t *tracker) tracking() bool { return t.meta.TC != "" }

func (t *tracker) newID() string {
	t.seq++
	return fmt.Sprintf("%s%06x", t.meta.TC, t.seq)
}

func (t *tracker) metadata() model.ChangeMetadata {
	return model.ChangeMetadata{UserID: t.meta.UserID, Ts: t.ts}
}

func (t *tracker) addComment(c ot.Component) {
	for i := range t.comments {
		if c.T != "" && t.comments[i].ID == c.T {
			t.comments[i].Op.P = c.P
			t.comments[i].Op.C = c.C
			return
		}
	}
	id := c.T
	if id == "" {
		id = t.newID()
	}
	t.comments = append(t.comments, model.Comment{ID: id, Op: model.CommentOp{C: c.C, P: c.P, T: id}})
}

func (t *tracker) applyInsert(c ot.Component) {
	t.insertIntoComments(c)
	t.insertIntoChanges(c)
}

func (t *tracker) insertIntoComments(c ot.Component) {
	n := ot.Length(c.I)
	for i := range t.comments {
		op := &t.comments[i].Op
		switch {
		case c.P <= op.P:
			op.P += n
		case c.P < op.P+ot.Length(op.C):
			before, after := ot.SplitAt(op.C, c.P-op.P)
			op.C = before + c.I + after
		}
	}
}

func (t *tracker) insertIntoChanges(c ot.Component) {
	n := ot.Length(c.I)
	absorbed := false
	var added []model.Change

	for i := 0; i < len(t.changes); i++ {
		ch := &t.changes[i]
		if ch.Op.IsDelete() {
			switch {
			case c.P == ch.Op.P && c.U && !absorbed && strings.HasPrefix(ch.Op.D, c.I):
				// Undoing a tracked delete restores its text and retires the change.
				ch.Op.D = ch.Op.D[len(c.I):]
				ch.Op.P += n
				absorbed = true
			case c.P <= ch.Op.P:
				ch.Op.P += n
			}
			continue
		}

		start, end := ch.Op.P, ch.Op.P+ot.Length(ch.Op.I)
		switch {
		case t.tracking() && !absorbed && ch.Metadata.UserID == t.meta.UserID && c.P >= start && c.P <= end:
			before, after := ot.SplitAt(ch.Op.I, c.P-start)
			ch.Op.I = before + c.I + after
			absorbed = true
		case c.P <= start:
			ch.Op.P += n
		case c.P < end:
			// An insert from someone else splits the change in two.
			head, rest := ot.SplitAt(ch.Op.I, c.P-start)
			tail := model.Change{
				ID:       t.newSplitID(ch.ID),
				Op:       model.ChangeOp{P: c.P + n, I: rest},
				Metadata: ch.Metadata,
			}
			ch.Op.I = head
			added = append(added, tail)
		}
	}
	t.changes = append(t.changes, added...)

	if t.tracking() && !absorbed {
		t.changes = append(t.changes, model.Change{
			ID:       t.newID(),
			Op:       model.ChangeOp{P: c.P, I: c.I},
			Metadata: t.metadata(),
		})
	}
}

func (t *tracker) newSplitID(base string) string {
	if t.tracking() {
		return t.newID()
	}
	t.seq++
	return fmt.Sprintf("%s-%d", base, t.seq)
}

func (t *tracker) applyDelete(c ot.Component) error {
	if err := t.deleteFromComments(c); err != nil {
		return err
	}
	t.deleteFromChanges(c)
	return nil
}

func (t *tracker) deleteFromComments(c ot.Component) error {
	start, n := c.P, ot.Length(c.D)
	end := start + n
	for i := range t.comments {
		op := &t.comments[i].Op
		cStart, cEnd := op.P, op.P+ot.Length(op.C)
		switch {
		case end <= cStart:
			op.P -= n
		case start >= cEnd:
		default:
			before, _ := ot.SplitAt(op.C, start-cStart)
			_, after := ot.SplitAt(op.C, end-cStart)
			deleted := op.C[len(before) : len(op.C)-len(after)]
			_, covered := ot.SplitAt(c.D, cStart-start)
			if !strings.HasPrefix(covered, deleted) {
				return fmt.Errorf("comment %s: %w", t.comments[i].ID, errCommentMismatch)
			}
			op.P = min(cStart, start)
			op.C = before + after
		}
	}
	return nil
}

func (t *tracker) deleteFromChanges(c ot.Component) {
	start, n := c.P, ot.Length(c.D)
	end := start + n

	// inserted[k] is true when unit k of the deleted text belongs to a tracked
	// insertion; such text vanishes rather than becoming a tracked deletion.
	inserted := make([]bool, n)
	deletions := map[int][]model.Change{}

	kept := t.changes[:0]
	for _, ch := range t.changes {
		if ch.Op.IsDelete() {
			switch {
			case ch.Op.P >= end && !(t.tracking() && ch.Op.P == end):
				ch.Op.P -= n
			case ch.Op.P < start:
			default:
				if t.tracking() {
					deletions[ch.Op.P] = append(deletions[ch.Op.P], ch)
					continue
				}
				ch.Op.P = start
			}
			kept = append(kept, ch)
			continue
		}

		cStart, cEnd := ch.Op.P, ch.Op.P+ot.Length(ch.Op.I)
		switch {
		case end <= cStart:
			ch.Op.P -= n
		case start >= cEnd:
		default:
			lo, hi := max(start, cStart), min(end, cEnd)
			for k := lo; k < hi; k++ {
				inserted[k-start] = true
			}
			head, _ := ot.SplitAt(ch.Op.I, lo-cStart)
			_, tail := ot.SplitAt(ch.Op.I, hi-cStart)
			ch.Op.I = head + tail
			ch.Op.P = min(cStart, start)
			if ch.Op.I == "" {
				continue
			}
		}
		kept = append(kept, ch)
	}
	t.changes = kept

	if !t.tracking() {
		return
	}

	// Merge the deleted text with tracked deletions sitting inside or on the
	// edges of the deleted span, keeping document order.
	var text strings.Builder
	k := 0
	for _, r := range c.D {
		width := utf16.RuneLen(r)
		for j := k; j < k+width; j++ {
			for _, d := range deletions[start+j] {
				text.WriteString(d.Op.D)
			}
		}
		if !inserted[k] {
			text.WriteRune(r)
		}
		k += width
	}
	for _, d := range deletions[end] {
		text.WriteString(d.Op.D)
	}
	if text.Len() == 0 {
		return
	}
	t.changes = append(t.changes, model.Change{
		ID:       t.newID(),
		Op:       model.ChangeOp{P: start, D: text.String()},
		Metadata: t.metadata(),
	})
}

// normalize drops emptied changes, restores position order (deletions before
// insertions at the same offset) and merges neighbours that describe one edit.
func (t *tracker) normalize() {
	kept := t.changes[:0]
	for _, ch := range t.changes {
		if ch.Op.I == "" && ch.Op.D == "" {
			continue
		}
		kept = append(kept, ch)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		a, b := kept[i].Op, kept[j].Op
		if a.P != b.P {
			return a.P < b.P
		}
		return a.IsDelete() && b.IsInsert()
	})

	var merged []model.Change
	for _, ch := range kept {
		if len(merged) > 0 {
			prev := &merged[len(merged)-1]
			if prev.Op.IsInsert() && ch.Op.IsInsert() &&
				prev.Op.P+ot.Length(prev.Op.I) == ch.Op.P && prev.Metadata.UserID == ch.Metadata.UserID {
				prev.Op.I += ch.Op.I
				continue
			}
			if prev.Op.IsDelete() && ch.Op.IsDelete() && prev.Op.P == ch.Op.P {
				prev.Op.D += ch.Op.D
				continue
			}
		}
		merged = append(merged, ch)
	}
	t.changes = merged
}
