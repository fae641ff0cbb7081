package planner

import (
	"regexp"
	"sort"
	"strings"
)

var (
	nonAlnumPattern   = regexp.MustCompile(`[^a-zA-Z0-9\s]`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// NormalizeTopicLabel folds a topic string for de-duplication across chunk
// outputs: lowercase, punctuation stripped, whitespace collapsed.
func NormalizeTopicLabel(topic string) string {
	normalized := nonAlnumPattern.ReplaceAllString(strings.ToLower(topic), " ")
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(normalized, " "))
}

// MergeEvidence de-duplicates raw topic evidence by (course id, normalized
// topic label): source files and chunks are unioned, the longest literal
// topic string becomes the display label, and the evidence text of the
// first occurrence is kept. The output fully replaces the session's merged
// table each run; this is an idempotent full recompute, not an incremental
// accumulator.
func MergeEvidence(rows []RawTopicEvidence) []TopicEvidence {
	type key struct {
		courseID string
		label    string
	}
	merged := map[key]*TopicEvidence{}
	for _, item := range rows {
		courseIDs := item.CourseIDs
		if len(courseIDs) == 0 {
			courseIDs = []string{SharedCourseID}
		}
		for _, courseID := range courseIDs {
			normalized := NormalizeTopicLabel(item.Topic)
			if normalized == "" {
				continue
			}
			k := key{courseID, normalized}
			row, ok := merged[k]
			if !ok {
				row = &TopicEvidence{
					CourseID:        courseID,
					Topic:           item.Topic,
					NormalizedTopic: normalized,
					EvidenceSummary: item.EvidenceSummary,
				}
				merged[k] = row
			}
			row.SourceFiles = unionSorted(row.SourceFiles, item.SourceFiles)
			row.SourceChunks = unionSorted(row.SourceChunks, item.SourceChunks)
			if len(item.Topic) > len(row.Topic) {
				row.Topic = item.Topic
			}
		}
	}

	out := make([]TopicEvidence, 0, len(merged))
	for _, row := range merged {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CourseID != out[j].CourseID {
			return out[i].CourseID < out[j].CourseID
		}
		return out[i].NormalizedTopic < out[j].NormalizedTopic
	})
	return out
}

func unionSorted(a, b []string) []string {
	return dedupeSorted(append(append([]string{}, a...), b...))
}
