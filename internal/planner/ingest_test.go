package planner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type stubPages struct {
	pageCount int
	pageErr   error
	extract   func(start, end int) (string, error)
	calls     *int
}

func (s stubPages) PageCount(string) (int, error) {
	return s.pageCount, s.pageErr
}

func (s stubPages) ExtractRange(_ string, start, end, _ int) (string, error) {
	if s.calls != nil {
		*s.calls++
	}
	return s.extract(start, end)
}

type stubTopics struct {
	fn func(chunkText string) ([]TopicCandidate, error)
}

func (s stubTopics) ExtractTopics(_ context.Context, chunkText string) ([]TopicCandidate, error) {
	return s.fn(chunkText)
}

func seedIngestSession(t *testing.T, store SessionStore) string {
	t.Helper()
	ctx := context.Background()
	state := NewSessionState("s1", time.Now())
	state.Courses = []Course{{CourseID: "math", CourseName: "Math", MidtermDate: futureDate(5)}}

	stored := filepath.Join(t.TempDir(), "file_001.pdf")
	if err := os.WriteFile(stored, []byte("%PDF-1.4"), 0o644); err != nil {
		t.Fatalf("write stored file: %v", err)
	}
	state.FileRegistry["file_001"] = &RegisteredFile{
		Filename:   "week1.pdf",
		StorageURI: stored,
		CourseIDs:  []string{"math"},
	}
	if err := store.Save(ctx, state); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return "s1"
}

func newTestExtractor(store SessionStore, pages TextPageExtractor, topics TopicExtractor) *ChunkedExtractor {
	return NewChunkedExtractor(store, pages, topics, ExtractorConfig{
		MaxPagesPerChunk: 2,
		MaxCharsPerChunk: 1000,
	})
}

func TestIngestRunCompletesFile(t *testing.T) {
	store := NewMemoryStore()
	sessionID := seedIngestSession(t, store)
	ctx := context.Background()

	pages := stubPages{
		pageCount: 4,
		extract: func(start, _ int) (string, error) {
			return fmt.Sprintf("chunk text %d", start), nil
		},
	}
	topics := stubTopics{fn: func(chunkText string) ([]TopicCandidate, error) {
		return []TopicCandidate{{Topic: "Topic " + chunkText, EvidenceSummary: "evidence"}}, nil
	}}

	summary, err := newTestExtractor(store, pages, topics).Run(ctx, sessionID, IngestOptions{})
	if err != nil {
		t.Fatalf("ingest run: %v", err)
	}
	if summary.IngestionStatus != "complete" {
		t.Fatalf("ingestion status = %q, warnings = %v", summary.IngestionStatus, summary.Warnings)
	}
	progress := summary.Files["file_001"]
	if progress.Status != FileStatusComplete || progress.ProcessedChunks != 2 || progress.TotalChunks != 2 {
		t.Fatalf("unexpected file progress: %+v", progress)
	}
	if summary.TopicEvidenceCount != 2 {
		t.Fatalf("expected 2 merged evidence rows, got %d", summary.TopicEvidenceCount)
	}

	state, _ := MustLoad(ctx, store, sessionID)
	for _, row := range state.Ingestion.CourseTopicEvidence {
		if row.CourseID != "math" {
			t.Fatalf("evidence attributed to %q, want math", row.CourseID)
		}
	}
}

func TestIngestChunkFailureIsPartialNotFatal(t *testing.T) {
	store := NewMemoryStore()
	sessionID := seedIngestSession(t, store)
	ctx := context.Background()

	pages := stubPages{
		pageCount: 4,
		extract: func(start, _ int) (string, error) {
			return fmt.Sprintf("chunk %d", start), nil
		},
	}
	topics := stubTopics{fn: func(chunkText string) ([]TopicCandidate, error) {
		if chunkText == "chunk 2" {
			return nil, errors.New("429 rate limit exceeded")
		}
		return []TopicCandidate{{Topic: "Limits", EvidenceSummary: "evidence"}}, nil
	}}

	summary, err := newTestExtractor(store, pages, topics).Run(ctx, sessionID, IngestOptions{})
	if err != nil {
		t.Fatalf("ingest run should not fail on chunk errors: %v", err)
	}
	if summary.IngestionStatus != "partial" || len(summary.Warnings) == 0 {
		t.Fatalf("expected partial run with warnings, got %q %v", summary.IngestionStatus, summary.Warnings)
	}
	progress := summary.Files["file_001"]
	if progress.Status != FileStatusPartial || progress.ProcessedChunks != 1 {
		t.Fatalf("unexpected file progress: %+v", progress)
	}
	// The good chunk's evidence still lands in the merged table.
	if summary.TopicEvidenceCount != 1 {
		t.Fatalf("expected 1 evidence row from the surviving chunk, got %d", summary.TopicEvidenceCount)
	}
}

func TestIngestResumeRetriesOnlyFailedChunks(t *testing.T) {
	store := NewMemoryStore()
	sessionID := seedIngestSession(t, store)
	ctx := context.Background()

	fail := true
	topics := stubTopics{fn: func(chunkText string) ([]TopicCandidate, error) {
		if fail && chunkText == "chunk 2" {
			return nil, errors.New("timeout")
		}
		return []TopicCandidate{{Topic: "Topic " + chunkText, EvidenceSummary: "evidence"}}, nil
	}}

	calls := 0
	pages := stubPages{
		pageCount: 4,
		calls:     &calls,
		extract: func(start, _ int) (string, error) {
			return fmt.Sprintf("chunk %d", start), nil
		},
	}
	extractor := newTestExtractor(store, pages, topics)

	if _, err := extractor.Run(ctx, sessionID, IngestOptions{}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if calls != 2 {
		t.Fatalf("first run extracted %d chunks, want 2", calls)
	}

	fail = false
	summary, err := extractor.Run(ctx, sessionID, IngestOptions{})
	if err != nil {
		t.Fatalf("resume run: %v", err)
	}
	if calls != 3 {
		t.Fatalf("resume re-extracted completed chunks: %d total calls, want 3", calls)
	}
	progress := summary.Files["file_001"]
	if progress.Status != FileStatusComplete || progress.ProcessedChunks != 2 {
		t.Fatalf("file did not converge to complete: %+v", progress)
	}
	// Evidence from the first run's good chunk survives the resume.
	if summary.TopicEvidenceCount != 2 {
		t.Fatalf("expected 2 evidence rows after resume, got %d", summary.TopicEvidenceCount)
	}
}

func TestIngestCompleteFileIsFrozenWithoutForce(t *testing.T) {
	store := NewMemoryStore()
	sessionID := seedIngestSession(t, store)
	ctx := context.Background()

	calls := 0
	pages := stubPages{
		pageCount: 2,
		calls:     &calls,
		extract:   func(int, int) (string, error) { return "text", nil },
	}
	topics := stubTopics{fn: func(string) ([]TopicCandidate, error) {
		return []TopicCandidate{{Topic: "Limits", EvidenceSummary: "evidence"}}, nil
	}}
	extractor := newTestExtractor(store, pages, topics)

	if _, err := extractor.Run(ctx, sessionID, IngestOptions{}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := extractor.Run(ctx, sessionID, IngestOptions{}); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if calls != 1 {
		t.Fatalf("complete file was reprocessed without force: %d calls", calls)
	}

	summary, err := extractor.Run(ctx, sessionID, IngestOptions{ForceReprocess: true})
	if err != nil {
		t.Fatalf("forced run: %v", err)
	}
	if calls != 2 {
		t.Fatalf("forced reprocess did not discard chunk history: %d calls", calls)
	}
	if summary.IngestionStatus != "complete" {
		t.Fatalf("forced run status = %q", summary.IngestionStatus)
	}
}

func TestIngestEmptyChunkCountsAsProcessed(t *testing.T) {
	store := NewMemoryStore()
	sessionID := seedIngestSession(t, store)
	ctx := context.Background()

	pages := stubPages{
		pageCount: 2,
		extract:   func(int, int) (string, error) { return "", nil },
	}
	topics := stubTopics{fn: func(string) ([]TopicCandidate, error) {
		t.Fatal("topic extractor must not run on empty chunks")
		return nil, nil
	}}

	summary, err := newTestExtractor(store, pages, topics).Run(ctx, sessionID, IngestOptions{})
	if err != nil {
		t.Fatalf("ingest run: %v", err)
	}
	progress := summary.Files["file_001"]
	if progress.Status != FileStatusComplete || progress.ProcessedChunks != 1 {
		t.Fatalf("empty chunk not counted processed: %+v", progress)
	}
	if summary.TopicEvidenceCount != 0 {
		t.Fatalf("empty chunk produced evidence: %d", summary.TopicEvidenceCount)
	}

	state, _ := MustLoad(ctx, store, sessionID)
	chunk := state.Ingestion.Files["file_001"].ChunkResults[0]
	if chunk.Status != ChunkStatusEmpty {
		t.Fatalf("chunk status = %q, want %q", chunk.Status, ChunkStatusEmpty)
	}
}

func TestIngestMissingStoredFileFailsThatFileOnly(t *testing.T) {
	store := NewMemoryStore()
	sessionID := seedIngestSession(t, store)
	ctx := context.Background()

	state, _ := MustLoad(ctx, store, sessionID)
	state.FileRegistry["file_001"].StorageURI = filepath.Join(t.TempDir(), "gone.pdf")
	if err := store.Save(ctx, state); err != nil {
		t.Fatalf("save session: %v", err)
	}

	pages := stubPages{pageCount: 2, extract: func(int, int) (string, error) { return "text", nil }}
	topics := stubTopics{fn: func(string) ([]TopicCandidate, error) { return nil, nil }}

	summary, err := newTestExtractor(store, pages, topics).Run(ctx, sessionID, IngestOptions{})
	if err != nil {
		t.Fatalf("ingest run: %v", err)
	}
	if summary.Files["file_001"].Status != FileStatusFailed {
		t.Fatalf("missing file should be marked failed: %+v", summary.Files["file_001"])
	}
	if len(summary.Warnings) == 0 || summary.IngestionStatus != "partial" {
		t.Fatalf("missing file should warn, got %q %v", summary.IngestionStatus, summary.Warnings)
	}
}

func TestChunkRanges(t *testing.T) {
	ranges := chunkRanges(5, 2)
	want := []pageRange{{0, 2}, {2, 4}, {4, 5}}
	if len(ranges) != len(want) {
		t.Fatalf("chunkRanges(5,2) = %v", ranges)
	}
	for i, r := range ranges {
		if r != want[i] {
			t.Fatalf("chunkRanges(5,2)[%d] = %v, want %v", i, r, want[i])
		}
	}
	if got := chunkRanges(0, 2); len(got) != 0 {
		t.Fatalf("chunkRanges(0,2) = %v, want empty", got)
	}
}
