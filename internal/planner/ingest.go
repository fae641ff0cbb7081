package planner

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"
)

// TextPageExtractor turns a stored document's page range into normalized,
// whitespace-collapsed text truncated to a character budget. An empty
// string means nothing was extractable.
type TextPageExtractor interface {
	PageCount(path string) (int, error)
	ExtractRange(path string, pageStart, pageEnd, maxChars int) (string, error)
}

// TopicExtractor is the external text-understanding capability that turns a
// chunk of course text into topic/evidence pairs. It applies its own
// bounded retry; an error here fails the enclosing chunk.
type TopicExtractor interface {
	ExtractTopics(ctx context.Context, chunkText string) ([]TopicCandidate, error)
}

// ExtractorConfig bounds chunking and paces calls to the topic capability.
type ExtractorConfig struct {
	MaxPagesPerChunk int
	MaxCharsPerChunk int
	Pacing           time.Duration
}

// ChunkedExtractor runs the per-file ingestion state machine:
// pending -> {partial, complete, failed}. Files already complete are frozen
// on reruns unless a forced reprocess discards their chunk history.
type ChunkedExtractor struct {
	store  SessionStore
	pages  TextPageExtractor
	topics TopicExtractor
	cfg    ExtractorConfig
}

func NewChunkedExtractor(store SessionStore, pages TextPageExtractor, topics TopicExtractor, cfg ExtractorConfig) *ChunkedExtractor {
	return &ChunkedExtractor{store: store, pages: pages, topics: topics, cfg: cfg}
}

type IngestOptions struct {
	MaxPagesPerChunk int  `json:"max_pages_per_chunk"`
	MaxCharsPerChunk int  `json:"max_chars_per_chunk"`
	ForceReprocess   bool `json:"force_reprocess"`
}

type FileProgress struct {
	Status          string `json:"status"`
	ProcessedChunks int    `json:"processed_chunks"`
	TotalChunks     int    `json:"total_chunks"`
}

type IngestSummary struct {
	SessionID          string                  `json:"session_id"`
	IngestionStatus    string                  `json:"ingestion_status"`
	Warnings           []string                `json:"warnings"`
	TopicEvidenceCount int                     `json:"course_topic_evidence_count"`
	Files              map[string]FileProgress `json:"files"`
}

type pageRange struct {
	start int // zero-based inclusive
	end   int // zero-based exclusive
}

func chunkRanges(pageCount, maxPagesPerChunk int) []pageRange {
	var ranges []pageRange
	for start := 0; start < pageCount; start += maxPagesPerChunk {
		end := start + maxPagesPerChunk
		if end > pageCount {
			end = pageCount
		}
		ranges = append(ranges, pageRange{start: start, end: end})
	}
	return ranges
}

// Run ingests every registered file of the session. Failures are isolated
// per file and per chunk: a failed chunk marks its file partial and the run
// continues with the remaining chunks and files.
func (e *ChunkedExtractor) Run(ctx context.Context, sessionID string, opts IngestOptions) (*IngestSummary, error) {
	state, err := LoadOrCreate(ctx, e.store, sessionID)
	if err != nil {
		return nil, err
	}
	state.Status = StatusIngesting

	maxPages := opts.MaxPagesPerChunk
	if maxPages <= 0 {
		maxPages = e.cfg.MaxPagesPerChunk
	}
	maxChars := opts.MaxCharsPerChunk
	if maxChars <= 0 {
		maxChars = e.cfg.MaxCharsPerChunk
	}

	var allEvidence []RawTopicEvidence
	var warnings []string

	fileIDs := make([]string, 0, len(state.FileRegistry))
	for fileID := range state.FileRegistry {
		fileIDs = append(fileIDs, fileID)
	}
	sort.Strings(fileIDs)

	for _, fileID := range fileIDs {
		meta := state.FileRegistry[fileID]
		fileState, ok := state.Ingestion.Files[fileID]
		if !ok {
			fileState = &FileIngestionState{
				Chunking:     Chunking{Mode: "page_window", MaxPagesPerChunk: maxPages},
				FailedChunks: []int{},
				Status:       FileStatusPending,
				ChunkResults: []ChunkResult{},
			}
			state.Ingestion.Files[fileID] = fileState
		}
		if fileState.Status == FileStatusComplete && !opts.ForceReprocess {
			allEvidence = append(allEvidence, fileState.TopicEvidence...)
			continue
		}

		evidence, warns := e.ingestFile(ctx, state, fileID, meta, fileState, maxPages, maxChars, opts.ForceReprocess)
		warnings = append(warnings, warns...)
		allEvidence = append(allEvidence, evidence...)
	}

	// Full recompute of the merged table each run, never an append.
	state.Ingestion.CourseTopicEvidence = MergeEvidence(allEvidence)

	state.AppendEvent(actorIngestion, EventComplete,
		fmt.Sprintf("Processed %d files into %d topic evidence rows.", len(state.FileRegistry), len(state.Ingestion.CourseTopicEvidence)),
		fmt.Sprintf("topic_rows:%d", len(state.Ingestion.CourseTopicEvidence)))
	if len(warnings) > 0 {
		state.AppendEvent(actorIngestion, EventError,
			fmt.Sprintf("Ingestion completed with %d warnings.", len(warnings)), "warnings")
	}
	if err := e.store.Save(ctx, state); err != nil {
		return nil, err
	}

	summary := &IngestSummary{
		SessionID:          sessionID,
		IngestionStatus:    "complete",
		Warnings:           warnings,
		TopicEvidenceCount: len(state.Ingestion.CourseTopicEvidence),
		Files:              map[string]FileProgress{},
	}
	if len(warnings) > 0 {
		summary.IngestionStatus = "partial"
	}
	for fileID, fs := range state.Ingestion.Files {
		summary.Files[fileID] = FileProgress{
			Status:          fs.Status,
			ProcessedChunks: fs.ProcessedChunks,
			TotalChunks:     fs.Chunking.TotalChunks,
		}
	}
	return summary, nil
}

func (e *ChunkedExtractor) ingestFile(
	ctx context.Context,
	state *SessionState,
	fileID string,
	meta *RegisteredFile,
	fileState *FileIngestionState,
	maxPages, maxChars int,
	forceReprocess bool,
) ([]RawTopicEvidence, []string) {
	var warnings []string

	if _, err := os.Stat(meta.StorageURI); err != nil {
		resErr := &ResourceError{Msg: fmt.Sprintf("missing stored file for %s: %s", fileID, meta.StorageURI)}
		warnings = append(warnings, resErr.Error())
		fileState.Status = FileStatusFailed
		fileState.LastError = resErr.Error()
		return nil, warnings
	}

	pageCount, err := e.pages.PageCount(meta.StorageURI)
	if err != nil {
		msg := fmt.Sprintf("%s unreadable: %v", fileID, err)
		warnings = append(warnings, msg)
		fileState.Status = FileStatusFailed
		fileState.LastError = msg
		return nil, warnings
	}

	ranges := chunkRanges(pageCount, maxPages)
	fileState.Chunking = Chunking{Mode: "page_window", MaxPagesPerChunk: maxPages, TotalChunks: len(ranges)}

	if forceReprocess {
		fileState.ChunkResults = []ChunkResult{}
		fileState.ProcessedChunks = 0
		fileState.FailedChunks = []int{}
		fileState.Status = FileStatusPending
		fileState.LastError = ""
		fileState.TopicEvidence = nil
	}
	done := map[string]bool{}
	for _, chunk := range fileState.ChunkResults {
		done[chunk.ChunkID] = true
	}

	var evidence []RawTopicEvidence
	for idx, rng := range ranges {
		chunkID := fmt.Sprintf("%s:%d", fileID, idx)
		if done[chunkID] {
			continue
		}
		// A chunk that failed on a previous run is retried now; its failed
		// mark is cleared so a successful retry can complete the file.
		fileState.FailedChunks = removeIndex(fileState.FailedChunks, idx)

		chunkText, err := e.pages.ExtractRange(meta.StorageURI, rng.start, rng.end, maxChars)
		if err != nil {
			fileState.FailedChunks = append(fileState.FailedChunks, idx)
			fileState.Status = FileStatusPartial
			fileState.LastError = err.Error()
			warnings = append(warnings, fmt.Sprintf("%s chunk %d failed: %v", fileID, idx, err))
			continue
		}
		if chunkText == "" {
			// Nothing extractable still counts as processed.
			fileState.ChunkResults = append(fileState.ChunkResults, ChunkResult{
				ChunkID:   chunkID,
				PageStart: rng.start + 1,
				PageEnd:   rng.end,
				Topics:    []TopicCandidate{},
				Status:    ChunkStatusEmpty,
			})
			fileState.ProcessedChunks++
			continue
		}

		topics, err := e.topics.ExtractTopics(ctx, chunkText)
		if err != nil {
			fileState.FailedChunks = append(fileState.FailedChunks, idx)
			fileState.Status = FileStatusPartial
			fileState.LastError = err.Error()
			warnings = append(warnings, fmt.Sprintf("%s chunk %d failed: %v", fileID, idx, err))
			continue
		}

		fileState.ChunkResults = append(fileState.ChunkResults, ChunkResult{
			ChunkID:   chunkID,
			PageStart: rng.start + 1,
			PageEnd:   rng.end,
			Topics:    topics,
			Status:    ChunkStatusComplete,
		})
		fileState.ProcessedChunks++
		targets := TargetCourseIDs(meta, state)
		for _, topic := range topics {
			evidence = append(evidence, RawTopicEvidence{
				CourseIDs:       targets,
				Topic:           topic.Topic,
				EvidenceSummary: topic.EvidenceSummary,
				SourceFiles:     []string{fileID},
				SourceChunks:    []string{chunkID},
			})
		}
		if e.cfg.Pacing > 0 {
			// Fixed inter-call pacing to respect upstream rate limits.
			time.Sleep(e.cfg.Pacing)
		}
	}

	if fileState.ProcessedChunks >= fileState.Chunking.TotalChunks && len(fileState.FailedChunks) == 0 {
		fileState.Status = FileStatusComplete
		fileState.LastError = ""
	} else if fileState.ProcessedChunks > 0 {
		fileState.Status = FileStatusPartial
	}
	// Accumulate so a resumed run keeps evidence from chunks that
	// completed on earlier runs.
	fileState.TopicEvidence = append(fileState.TopicEvidence, evidence...)
	return fileState.TopicEvidence, warnings
}

func removeIndex(indices []int, idx int) []int {
	out := indices[:0]
	for _, i := range indices {
		if i != idx {
			out = append(out, i)
		}
	}
	return out
}
