package ot

import (
	"strings"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

const replacement = "�"

// sanitizeText replaces ill-formed UTF-8 with U+FFFD, and every rune outside
// the Basic Multilingual Plane with two of them, one per UTF-16 unit, so the
// text keeps the length editors measured it with.
func sanitizeText(s string) string {
	s, _, err := transform.String(runes.ReplaceIllFormed(), s)
	if err != nil {
		return s
	}
	if !strings.ContainsFunc(s, isAstral) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if isAstral(r) {
			b.WriteString(replacement + replacement)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isAstral(r rune) bool { return r > 0xFFFF }

// Sanitize replaces ill-formed UTF-8 and astral-plane runes in inserted text.
// It reports whether anything was replaced.
func Sanitize(op Op) (Op, bool) {
	out := op.Clone()
	changed := false
	for i, c := range out {
		if !c.IsInsert() {
			continue
		}
		if s := sanitizeText(c.I); s != c.I {
			out[i].I = s
			changed = true
		}
	}
	return out, changed
}
