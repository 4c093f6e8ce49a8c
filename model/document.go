package model

import (
	"encoding/json"
	"time"
	"unicode/utf16"
)

// Document is the cached view of an actively edited doc.
type Document struct {
	Lines                []string
	Version              int
	Ranges               Ranges
	ResolvedCommentIDs   []string
	Pathname             string
	ProjectHistoryID     string
	HistoryRangesSupport bool

	// UnflushedTime is the time of the earliest edit not yet written to the
	// durable store. Zero means the doc is fully flushed.
	UnflushedTime time.Time
	LastUpdatedAt time.Time
	LastUpdatedBy string
}

// Flushed reports whether the durable store holds the latest content.
func (d *Document) Flushed() bool { return d.UnflushedTime.IsZero() }

// ContentLength returns the length of the doc as a single newline-joined
// string, in UTF-16 code units like op positions.
func ContentLength(lines []string) int {
	if len(lines) == 0 {
		return 0
	}
	n := len(lines) - 1
	for _, l := range lines {
		for _, r := range l {
			n += utf16.RuneLen(r)
		}
	}
	return n
}

// EncodeLines serializes lines the way the cache stores them.
func EncodeLines(lines []string) string {
	// Marshalling a []string cannot fail.
	b, _ := json.Marshal(lines)
	return string(b)
}

// EncodedSize returns the length of lines as the cache stores them, quotes
// and escapes included. Every doc size limit is measured with it.
func EncodedSize(lines []string) int { return len(EncodeLines(lines)) }

// LinesEqual reports whether two line slices hold identical content.
func LinesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
