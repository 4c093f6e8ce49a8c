package ot

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrInvalidOp is returned when a component cannot be applied to a snapshot.
var ErrInvalidOp = errors.New("invalid op")

// Component is a single step of a text op, positioned against the doc
// joined with "\n". Positions count UTF-16 code units. Exactly one of I, D
// or C should be set.
type Component struct {
	P int    `json:"p"`
	I string `json:"i,omitempty"` // insert text at P
	D string `json:"d,omitempty"` // delete text at P
	C string `json:"c,omitempty"` // comment on text at P
	T string `json:"t,omitempty"` // thread id of a comment
	U bool   `json:"u,omitempty"` // part of an undo
}

func (c Component) IsInsert() bool  { return c.I != "" }
func (c Component) IsDelete() bool  { return c.D != "" }
func (c Component) IsComment() bool { return c.C != "" && c.I == "" && c.D == "" }

// Op is an ordered list of components. Each component is positioned
// against the snapshot produced by the components before it.
type Op []Component

// IsNoop returns true if the op makes no change to the text.
func (op Op) IsNoop() bool {
	for _, c := range op {
		if c.IsInsert() || c.IsDelete() {
			return false
		}
	}
	return true
}

// Clone returns a copy that can be modified without touching op.
func (op Op) Clone() Op {
	if op == nil {
		return nil
	}
	out := make(Op, len(op))
	copy(out, op)
	return out
}

// Insert creates an insert component.
func Insert(pos int, text string) Component { return Component{P: pos, I: text} }

// Delete creates a delete component for text found at pos.
func Delete(pos int, text string) Component { return Component{P: pos, D: text} }

// ApplyToSnapshot applies op to a joined snapshot. Positions must land on
// character boundaries and component text must be valid UTF-8.
func ApplyToSnapshot(snapshot string, op Op) (string, error) {
	for i, c := range op {
		at, ok := byteOffset(snapshot, c.P)
		if !ok {
			return "", fmt.Errorf("%w: component %d position %d is not a character boundary in doc of length %d",
				ErrInvalidOp, i, c.P, Length(snapshot))
		}
		if !utf8.ValidString(c.I) || !utf8.ValidString(c.D) || !utf8.ValidString(c.C) {
			return "", fmt.Errorf("%w: component %d text is not valid UTF-8", ErrInvalidOp, i)
		}
		switch {
		case c.IsInsert():
			snapshot = snapshot[:at] + c.I + snapshot[at:]
		case c.IsDelete():
			if !strings.HasPrefix(snapshot[at:], c.D) {
				return "", fmt.Errorf("%w: component %d delete does not match text at %d", ErrInvalidOp, i, c.P)
			}
			snapshot = snapshot[:at] + snapshot[at+len(c.D):]
		case c.IsComment():
			if !strings.HasPrefix(snapshot[at:], c.C) {
				return "", fmt.Errorf("%w: component %d comment does not match text at %d", ErrInvalidOp, i, c.P)
			}
		default:
			return "", fmt.Errorf("%w: component %d has no insert, delete or comment", ErrInvalidOp, i)
		}
	}
	return snapshot, nil
}

// Apply applies op to doc lines and returns the new lines.
func Apply(lines []string, op Op) ([]string, error) {
	out, err := ApplyToSnapshot(strings.Join(lines, "\n"), op)
	if err != nil {
		return nil, err
	}
	return strings.Split(out, "\n"), nil
}
