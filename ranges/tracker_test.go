package ranges

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alimasry/docupdater/model"
	"github.com/alimasry/docupdater/ot"
)

func comment(id string, p int, c string) model.Comment {
	return model.Comment{ID: id, Op: model.CommentOp{C: c, P: p, T: id}}
}

func TestApplyUpdate_InsertMovesComments(t *testing.T) {
	r := model.Ranges{Comments: []model.Comment{
		comment("before", 0, "ab"),
		comment("around", 4, "efgh"),
		comment("after", 10, "kl"),
	}}
	out, err := New().ApplyUpdate(r, ot.Op{ot.Insert(6, "XX")}, model.UpdateMeta{}, ts)
	require.NoError(t, err)

	assert.Equal(t, comment("before", 0, "ab"), out.Comments[0])
	assert.Equal(t, comment("around", 4, "efXXgh"), out.Comments[1])
	assert.Equal(t, comment("after", 12, "kl"), out.Comments[2])
}

func TestApplyUpdate_DeleteShrinksComments(t *testing.T) {
	// text: "abcdefghijkl"
	r := model.Ranges{Comments: []model.Comment{
		comment("overlap", 2, "cdef"),
		comment("after", 8, "ij"),
	}}
	out, err := New().ApplyUpdate(r, ot.Op{ot.Delete(1, "bcd")}, model.UpdateMeta{}, ts)
	require.NoError(t, err)

	assert.Equal(t, comment("overlap", 1, "ef"), out.Comments[0])
	assert.Equal(t, comment("after", 5, "ij"), out.Comments[1])
}

func TestApplyUpdate_NonASCIIComments(t *testing.T) {
	// text: "aé😀bcd"; the emoji is two code units.
	r := model.Ranges{Comments: []model.Comment{
		comment("around", 1, "é😀b"),
		comment("after", 5, "cd"),
	}}
	out, err := New().ApplyUpdate(r, ot.Op{ot.Insert(2, "ü")}, model.UpdateMeta{}, ts)
	require.NoError(t, err)
	assert.Equal(t, comment("around", 1, "éü😀b"), out.Comments[0])
	assert.Equal(t, comment("after", 6, "cd"), out.Comments[1])

	out, err = New().ApplyUpdate(r, ot.Op{ot.Delete(2, "😀")}, model.UpdateMeta{}, ts)
	require.NoError(t, err)
	assert.Equal(t, comment("around", 1, "éb"), out.Comments[0])
	assert.Equal(t, comment("after", 3, "cd"), out.Comments[1])
}

func TestApplyUpdate_DeleteMismatchIsError(t *testing.T) {
	r := model.Ranges{Comments: []model.Comment{comment("c", 0, "abc")}}
	_, err := New().ApplyUpdate(r, ot.Op{ot.Delete(0, "xyz")}, model.UpdateMeta{}, ts)
	assert.Error(t, err)
}

func TestApplyUpdate_AddComment(t *testing.T) {
	out, err := New().ApplyUpdate(model.Ranges{}, ot.Op{{P: 3, C: "def", T: "th"}}, model.UpdateMeta{}, ts)
	require.NoError(t, err)
	require.Len(t, out.Comments, 1)
	assert.Equal(t, comment("th", 3, "def"), out.Comments[0])

	// Re-anchoring an existing thread moves it rather than adding another.
	out, err = New().ApplyUpdate(out, ot.Op{{P: 0, C: "ab", T: "th"}}, model.UpdateMeta{}, ts)
	require.NoError(t, err)
	require.Len(t, out.Comments, 1)
	assert.Equal(t, comment("th", 0, "ab"), out.Comments[0])
}

func TestApplyUpdate_TrackedInsert(t *testing.T) {
	meta := model.UpdateMeta{UserID: "u1", TC: "seed"}
	out, err := New().ApplyUpdate(model.Ranges{}, ot.Op{ot.Insert(4, "new")}, meta, ts)
	require.NoError(t, err)
	require.Len(t, out.Changes, 1)

	ch := out.Changes[0]
	assert.Equal(t, "seed000001", ch.ID)
	assert.Equal(t, model.ChangeOp{P: 4, I: "new"}, ch.Op)
	assert.Equal(t, "u1", ch.Metadata.UserID)
	assert.Equal(t, ts, ch.Metadata.Ts)

	// Typing at the end of one's own insertion extends it.
	out, err = New().ApplyUpdate(out, ot.Op{ot.Insert(7, "er")}, meta, ts)
	require.NoError(t, err)
	require.Len(t, out.Changes, 1)
	assert.Equal(t, model.ChangeOp{P: 4, I: "newer"}, out.Changes[0].Op)
}

func TestApplyUpdate_UntrackedInsertShiftsAndSplits(t *testing.T) {
	r := model.Ranges{Changes: []model.Change{
		{ID: "a", Op: model.ChangeOp{P: 2, I: "abcd"}, Metadata: model.ChangeMetadata{UserID: "u1"}},
		{ID: "b", Op: model.ChangeOp{P: 10, D: "gone"}},
	}}
	out, err := New().ApplyUpdate(r, ot.Op{ot.Insert(4, "ZZ")}, model.UpdateMeta{}, ts)
	require.NoError(t, err)
	require.Len(t, out.Changes, 3)

	assert.Equal(t, model.ChangeOp{P: 2, I: "ab"}, out.Changes[0].Op)
	assert.Equal(t, model.ChangeOp{P: 6, I: "cd"}, out.Changes[1].Op)
	assert.Equal(t, "u1", out.Changes[1].Metadata.UserID)
	assert.Equal(t, model.ChangeOp{P: 12, D: "gone"}, out.Changes[2].Op)
}

func TestApplyUpdate_TrackedDelete(t *testing.T) {
	meta := model.UpdateMeta{UserID: "u1", TC: "seed"}
	out, err := New().ApplyUpdate(model.Ranges{}, ot.Op{ot.Delete(3, "xyz")}, meta, ts)
	require.NoError(t, err)
	require.Len(t, out.Changes, 1)
	assert.Equal(t, model.ChangeOp{P: 3, D: "xyz"}, out.Changes[0].Op)

	// Backspacing over the previous character merges into the same deletion.
	out, err = New().ApplyUpdate(out, ot.Op{ot.Delete(2, "w")}, meta, ts)
	require.NoError(t, err)
	require.Len(t, out.Changes, 1)
	assert.Equal(t, model.ChangeOp{P: 2, D: "wxyz"}, out.Changes[0].Op)
}

func TestApplyUpdate_TrackedDeleteOfTrackedInsertVanishes(t *testing.T) {
	r := model.Ranges{Changes: []model.Change{
		{ID: "i", Op: model.ChangeOp{P: 2, I: "abc"}, Metadata: model.ChangeMetadata{UserID: "u1"}},
	}}
	meta := model.UpdateMeta{UserID: "u1", TC: "seed"}
	// text "01abc5": delete "1abc" -> only "1" becomes a tracked deletion.
	out, err := New().ApplyUpdate(r, ot.Op{ot.Delete(1, "1abc")}, meta, ts)
	require.NoError(t, err)
	require.Len(t, out.Changes, 1)
	assert.Equal(t, model.ChangeOp{P: 1, D: "1"}, out.Changes[0].Op)
}

func TestApplyUpdate_TrackedDeleteOfNonASCIIInsert(t *testing.T) {
	r := model.Ranges{Changes: []model.Change{
		{ID: "i", Op: model.ChangeOp{P: 2, I: "é😀c"}, Metadata: model.ChangeMetadata{UserID: "u1"}},
	}}
	meta := model.UpdateMeta{UserID: "u1", TC: "seed"}
	out, err := New().ApplyUpdate(r, ot.Op{ot.Delete(1, "1é😀c")}, meta, ts)
	require.NoError(t, err)
	require.Len(t, out.Changes, 1)
	assert.Equal(t, model.ChangeOp{P: 1, D: "1"}, out.Changes[0].Op)
}

func TestApplyUpdate_UntrackedDeleteMovesDeletions(t *testing.T) {
	r := model.Ranges{Changes: []model.Change{
		{ID: "inside", Op: model.ChangeOp{P: 3, D: "q"}},
		{ID: "after", Op: model.ChangeOp{P: 8, D: "r"}},
	}}
	out, err := New().ApplyUpdate(r, ot.Op{ot.Delete(2, "abc")}, model.UpdateMeta{}, ts)
	require.NoError(t, err)
	require.Len(t, out.Changes, 2)
	assert.Equal(t, model.ChangeOp{P: 2, D: "q"}, out.Changes[0].Op)
	assert.Equal(t, model.ChangeOp{P: 5, D: "r"}, out.Changes[1].Op)
}

func TestApplyUpdate_TooMany(t *testing.T) {
	r := model.Ranges{}
	for i := 0; i < MaxComments; i++ {
		r.Comments = append(r.Comments, comment("c", 0, "a"))
	}
	_, err := New().ApplyUpdate(r, ot.Op{{P: 0, C: "a", T: "extra"}}, model.UpdateMeta{}, ts)
	assert.ErrorIs(t, err, ErrTooManyRanges)
}
