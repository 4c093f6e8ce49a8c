package ot

import "unicode/utf16"

// Length returns the length of s in UTF-16 code units. Op positions and
// lengths are counted in these units, the way editors count them.
func Length(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// byteOffset returns the byte index of position pos in s. ok is false when
// pos is past the end of s or falls between the halves of a surrogate pair.
func byteOffset(s string, pos int) (int, bool) {
	if pos < 0 {
		return 0, false
	}
	units := 0
	for i, r := range s {
		if units == pos {
			return i, true
		}
		if units > pos {
			return 0, false
		}
		units += utf16.RuneLen(r)
	}
	return len(s), units == pos
}

// SplitAt splits s at position pos, clamped to s. A position inside a
// surrogate pair splits after the pair.
func SplitAt(s string, pos int) (string, string) {
	if pos <= 0 {
		return "", s
	}
	units := 0
	for i, r := range s {
		if units >= pos {
			return s[:i], s[i:]
		}
		units += utf16.RuneLen(r)
	}
	return s, ""
}
