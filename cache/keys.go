package cache

// Doc keys carry the doc id in a hash tag so every key of one doc lands in
// the same cluster slot and can be written in a single MULTI.

func docLinesKey(docID string) string { return "doclines:{" + docID + "}" }
func docVersionKey(docID string) string { return "DocVersion:{" + docID + "}" }
func docHashKey(docID string) string { return "DocHash:{" + docID + "}" }
func projectKey(docID string) string { return "ProjectId:{" + docID + "}" }
func rangesKey(docID string) string { return "Ranges:{" + docID + "}" }
func pathnameKey(docID string) string { return "Pathname:{" + docID + "}" }
func projectHistoryIDKey(docID string) string { return "ProjectHistoryId:{" + docID + "}" }
func historyRangesSupportKey(docID string) string { return "HistoryRangesSupport:{" + docID + "}" }
func resolvedCommentIDsKey(docID string) string { return "ResolvedCommentIds:{" + docID + "}" }
func unflushedTimeKey(docID string) string { return "UnflushedTime:{" + docID + "}" }
func lastUpdatedAtKey(docID string) string { return "lastUpdatedAt:{" + docID + "}" }
func lastUpdatedByKey(docID string) string { return "lastUpdatedBy:{" + docID + "}" }
func docOpsKey(docID string) string { return "DocOps:{" + docID + "}" }

func docsInProjectKey(projectID string) string { return "DocsIn:{" + projectID + "}" }

const flushAndDeleteQueueKey = "DocUpdaterFlushAndDeleteQueue"

// docKeys lists every key owned by a cached doc.
func docKeys(docID string) []string {
	return []string{
		docLinesKey(docID),
		docVersionKey(docID),
		docHashKey(docID),
		projectKey(docID),
		rangesKey(docID),
		pathnameKey(docID),
		projectHistoryIDKey(docID),
		historyRangesSupportKey(docID),
		resolvedCommentIDsKey(docID),
		unflushedTimeKey(docID),
		lastUpdatedAtKey(docID),
		lastUpdatedByKey(docID),
	}
}
