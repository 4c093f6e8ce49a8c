package ot

import "fmt"

// Document is a doc's lines at a known version.
type Document struct {
	Lines   []string
	Version int
}

// NewDocument creates a document at the given version.
func NewDocument(lines []string, version int) *Document {
	cp := make([]string, len(lines))
	copy(cp, lines)
	return &Document{Lines: cp, Version: version}
}

// Apply applies an op submitted against version v. The version advances by
// one for every accepted op, including ops that only add comments.
func (d *Document) Apply(op Op, v int) error {
	if v != d.Version {
		return fmt.Errorf("op for v%d applied to document v%d", v, d.Version)
	}
	lines, err := Apply(d.Lines, op)
	if err != nil {
		return fmt.Errorf("apply to document v%d: %w", d.Version, err)
	}
	d.Lines = lines
	d.Version++
	return nil
}
