package model

import "time"

// Ranges holds the tracked changes and comments anchored in a doc.
type Ranges struct {
	Changes  []Change  `json:"changes,omitempty"`
	Comments []Comment `json:"comments,omitempty"`
}

// IsEmpty reports whether there are no changes and no comments.
func (r Ranges) IsEmpty() bool { return len(r.Changes) == 0 && len(r.Comments) == 0 }

// Clone returns a deep copy so engines never alias the caller's slices.
func (r Ranges) Clone() Ranges {
	var out Ranges
	if r.Changes != nil {
		out.Changes = make([]Change, len(r.Changes))
		copy(out.Changes, r.Changes)
	}
	if r.Comments != nil {
		out.Comments = make([]Comment, len(r.Comments))
		copy(out.Comments, r.Comments)
	}
	return out
}

// Change is a tracked insertion or deletion.
type Change struct {
	ID       string         `json:"id"`
	Op       ChangeOp       `json:"op"`
	Metadata ChangeMetadata `json:"metadata"`
}

// ChangeOp anchors a change. Exactly one of I and D is set.
type ChangeOp struct {
	P int    `json:"p"`
	I string `json:"i,omitempty"`
	D string `json:"d,omitempty"`
}

func (o ChangeOp) IsInsert() bool { return o.I != "" }
func (o ChangeOp) IsDelete() bool { return o.D != "" }

type ChangeMetadata struct {
	UserID string    `json:"user_id"`
	Ts     time.Time `json:"ts"`
}

// Comment is a thread anchored to a span of text.
type Comment struct {
	ID string    `json:"id"`
	Op CommentOp `json:"op"`
}

type CommentOp struct {
	C string `json:"c"`
	P int    `json:"p"`
	T string `json:"t"`
}
