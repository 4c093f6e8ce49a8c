package model

import "github.com/alimasry/docupdater/ot"

// Update types.
const (
	UpdateTypeExternal = "external"
)

// Update is a single change submitted against an expected version.
type Update struct {
	Doc              string     `json:"doc"`
	Op               ot.Op      `json:"op"`
	V                int        `json:"v"`
	Meta             UpdateMeta `json:"meta"`
	ProjectHistoryID string     `json:"projectHistoryId,omitempty"`
	Hash             string     `json:"hash,omitempty"`
}

// UpdateMeta carries the provenance of an update. Pathname and DocLength
// are stamped by the update applier before the op enters history.
type UpdateMeta struct {
	Type      string `json:"type,omitempty"`
	Source    string `json:"source,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Ts        int64  `json:"ts,omitempty"` // unix millis
	Pathname  string `json:"pathname,omitempty"`
	DocLength int    `json:"doc_length,omitempty"`
	TC        string `json:"tc,omitempty"` // tracked-changes id seed; set when changes are tracked
}

// RenameUpdate describes a move of a doc within its project.
type RenameUpdate struct {
	ID          string `json:"id"`
	Pathname    string `json:"pathname"`
	NewPathname string `json:"newPathname"`
}
