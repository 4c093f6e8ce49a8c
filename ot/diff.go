package ot

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Diff returns the components turning oldLines into newLines.
func Diff(oldLines, newLines []string) Op {
	before := strings.Join(oldLines, "\n")
	after := strings.Join(newLines, "\n")

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, false)

	var op Op
	pos := 0
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			pos += Length(d.Text)
		case diffmatchpatch.DiffInsert:
			op = append(op, Insert(pos, d.Text))
			pos += Length(d.Text)
		case diffmatchpatch.DiffDelete:
			op = append(op, Delete(pos, d.Text))
		}
	}
	return op
}
