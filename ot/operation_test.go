package ot

import (
	"errors"
	"reflect"
	"testing"
)

func TestIsNoop(t *testing.T) {
	tests := []struct {
		name string
		op   Op
		want bool
	}{
		{"empty", Op{}, true},
		{"comment only", Op{{P: 0, C: "a", T: "t1"}}, true},
		{"has insert", Op{Insert(2, "x")}, false},
		{"has delete", Op{Delete(0, "a")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.op.IsNoop(); got != tt.want {
				t.Errorf("IsNoop() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestApply(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		op    Op
		want  []string
	}{
		{"insert within line", []string{"a", "b"}, Op{Insert(1, "c")}, []string{"ac", "b"}},
		{"insert new line", []string{"a", "b"}, Op{Insert(2, "c\n")}, []string{"a", "c", "b"}},
		{"delete across lines", []string{"one", "two"}, Op{Delete(2, "e\nt")}, []string{"onwo"}},
		{"insert at end", []string{"hello"}, Op{Insert(5, " world")}, []string{"hello world"}},
		{"sequential", []string{"abc"}, Op{Delete(0, "a"), Insert(2, "d")}, []string{"bcd"}},
		{"comment leaves text", []string{"abc"}, Op{{P: 1, C: "bc", T: "t"}}, []string{"abc"}},
		{"empty doc", []string{}, Op{Insert(0, "x")}, []string{"x"}},
		{"after accented char", []string{"é"}, Op{Insert(1, "x")}, []string{"éx"}},
		{"after astral char", []string{"😀"}, Op{Insert(2, "!")}, []string{"😀!"}},
		{"delete astral char", []string{"a😀b"}, Op{Delete(1, "😀")}, []string{"ab"}},
		{"delete after accents", []string{"ééab"}, Op{Delete(2, "a")}, []string{"ééb"}},
		{"comment on non-ASCII", []string{"héllo"}, Op{{P: 1, C: "él", T: "t"}}, []string{"héllo"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Apply(tt.lines, tt.op)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Apply() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestApply_Errors(t *testing.T) {
	tests := []struct {
		name string
		op   Op
	}{
		{"position past end", Op{Insert(10, "x")}},
		{"negative position", Op{Insert(-1, "x")}},
		{"delete mismatch", Op{Delete(0, "z")}},
		{"delete past end", Op{Delete(2, "cde")}},
		{"comment mismatch", Op{{P: 0, C: "zz", T: "t"}}},
		{"empty component", Op{{P: 0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Apply([]string{"abcd"}, tt.op)
			if !errors.Is(err, ErrInvalidOp) {
				t.Errorf("err = %v, want ErrInvalidOp", err)
			}
		})
	}
}

func TestApply_SplitCharacterErrors(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		op    Op
	}{
		{"inside surrogate pair", []string{"😀"}, Op{Insert(1, "x")}},
		{"past astral char", []string{"😀"}, Op{Insert(4, "!")}},
		{"delete half of pair", []string{"a😀"}, Op{Delete(2, "b")}},
		{"delete past accents", []string{"é"}, Op{Delete(1, "é")}},
		{"invalid utf-8 insert", []string{"a"}, Op{Insert(0, "\xff")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Apply(tt.lines, tt.op)
			if !errors.Is(err, ErrInvalidOp) {
				t.Errorf("err = %v, want ErrInvalidOp", err)
			}
		})
	}
}

func TestApply_DoesNotModifyInput(t *testing.T) {
	lines := []string{"a", "b"}
	if _, err := Apply(lines, Op{Insert(0, "x")}); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(lines, []string{"a", "b"}) {
		t.Errorf("input modified: %q", lines)
	}
}
