package history

import (
	"time"

	"github.com/alimasry/docupdater/model"
)

// Meta is attached to every structural record.
type Meta struct {
	UserID string    `json:"user_id,omitempty"`
	Ts     time.Time `json:"ts"`
}

// ResyncDocContent is a request to replace history's view of a doc with a
// full snapshot.
type ResyncDocContent struct {
	ProjectHistoryID     string
	DocID                string
	Lines                []string
	Ranges               model.Ranges
	ResolvedCommentIDs   []string
	Version              int
	Pathname             string
	HistoryRangesSupport bool
}

type resyncRecord struct {
	ResyncDocContent resyncContent `json:"resyncDocContent"`
	ProjectHistoryID string        `json:"projectHistoryId"`
	Path             string        `json:"path"`
	Doc              string        `json:"doc"`
	Meta             Meta          `json:"meta"`
}

// resyncContent always carries ranges and resolvedCommentIds, as {} and []
// when the doc has none.
type resyncContent struct {
	Content              string       `json:"content"`
	Version              int          `json:"version"`
	Ranges               model.Ranges `json:"ranges"`
	ResolvedCommentIDs   []string     `json:"resolvedCommentIds"`
	HistoryRangesSupport bool         `json:"historyRangesSupport"`
}

type renameRecord struct {
	Pathname         string `json:"pathname"`
	NewPathname      string `json:"new_pathname"`
	Doc              string `json:"doc"`
	Meta             Meta   `json:"meta"`
	ProjectHistoryID string `json:"projectHistoryId"`
}

type deleteCommentRecord struct {
	Pathname      string `json:"pathname"`
	DeleteComment string `json:"deleteComment"`
	Meta          Meta   `json:"meta"`
}

type commentStateRecord struct {
	Pathname  string `json:"pathname"`
	CommentID string `json:"commentId"`
	Resolved  bool   `json:"resolved"`
	Meta      Meta   `json:"meta"`
}
