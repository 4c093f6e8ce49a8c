package cli

import (
	"encoding/json"
	"io"
	"time"

	"github.com/alimasry/docupdater/document"
	"github.com/alimasry/docupdater/model"
)

// docOutput is the JSON shape printed by get.
type docOutput struct {
	Lines                []string       `json:"lines"`
	Version              int            `json:"version"`
	Ranges               model.Ranges   `json:"ranges"`
	ResolvedCommentIDs   []string       `json:"resolvedCommentIds,omitempty"`
	Pathname             string         `json:"pathname"`
	ProjectHistoryID     string         `json:"projectHistoryId,omitempty"`
	HistoryRangesSupport bool           `json:"historyRangesSupport"`
	AlreadyLoaded        bool           `json:"alreadyLoaded"`
	UnflushedTime        *time.Time     `json:"unflushedTime,omitempty"`
	Ops                  []model.Update `json:"ops,omitempty"`
}

func docView(res *document.DocAndOps) docOutput {
	doc := res.Doc
	out := docOutput{
		Lines:                doc.Lines,
		Version:              doc.Version,
		Ranges:               doc.Ranges,
		ResolvedCommentIDs:   doc.ResolvedCommentIDs,
		Pathname:             doc.Pathname,
		ProjectHistoryID:     doc.ProjectHistoryID,
		HistoryRangesSupport: doc.HistoryRangesSupport,
		AlreadyLoaded:        res.AlreadyLoaded,
		Ops:                  res.Ops,
	}
	if !doc.Flushed() {
		t := doc.UnflushedTime
		out.UnflushedTime = &t
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
