package ot

import "testing"

func TestLength(t *testing.T) {
	tests := []struct {
		s    string
		want int
	}{
		{"", 0},
		{"abc", 3},
		{"é", 1},
		{"日本", 2},
		{"😀", 2},
		{"a😀\n", 4},
	}
	for _, tt := range tests {
		if got := Length(tt.s); got != tt.want {
			t.Errorf("Length(%q) = %d, want %d", tt.s, got, tt.want)
		}
	}
}

func TestByteOffset(t *testing.T) {
	tests := []struct {
		s      string
		pos    int
		want   int
		wantOK bool
	}{
		{"abc", 0, 0, true},
		{"abc", 3, 3, true},
		{"abc", 4, 0, false},
		{"abc", -1, 0, false},
		{"éa", 1, 2, true},
		{"éa", 2, 3, true},
		{"😀a", 1, 0, false},
		{"😀a", 2, 4, true},
		{"😀", 2, 4, true},
		{"😀", 4, 0, false},
	}
	for _, tt := range tests {
		got, ok := byteOffset(tt.s, tt.pos)
		if ok != tt.wantOK || (ok && got != tt.want) {
			t.Errorf("byteOffset(%q, %d) = %d, %v; want %d, %v", tt.s, tt.pos, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestSplitAt(t *testing.T) {
	tests := []struct {
		s           string
		pos         int
		before, aft string
	}{
		{"abc", 1, "a", "bc"},
		{"abc", -2, "", "abc"},
		{"abc", 9, "abc", ""},
		{"héllo", 2, "hé", "llo"},
		{"a😀b", 2, "a😀", "b"},
		{"a😀b", 3, "a😀", "b"},
	}
	for _, tt := range tests {
		before, after := SplitAt(tt.s, tt.pos)
		if before != tt.before || after != tt.aft {
			t.Errorf("SplitAt(%q, %d) = %q, %q; want %q, %q", tt.s, tt.pos, before, after, tt.before, tt.aft)
		}
	}
}
