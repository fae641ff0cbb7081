package ai

import (
	"strings"
	"testing"
)

func TestParseTopicsJSONStripsCodeFences(t *testing.T) {
	raw := "```json\n[{\"topic\": \"Limits\", \"evidence_summary\": \"limit laws and continuity\"}]\n```"
	topics, err := parseTopicsJSON(raw, "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(topics) != 1 || topics[0].Topic != "Limits" {
		t.Fatalf("unexpected topics: %+v", topics)
	}
	if topics[0].EvidenceSummary != "limit laws and continuity" {
		t.Fatalf("unexpected evidence: %q", topics[0].EvidenceSummary)
	}
}

func TestParseTopicsJSONTruncatesLongFields(t *testing.T) {
	longTopic := strings.Repeat("a", 500)
	longEvidence := strings.Repeat("b", 500)
	raw := `[{"topic": "` + longTopic + `", "evidence_summary": "` + longEvidence + `"}]`
	topics, err := parseTopicsJSON(raw, "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(topics[0].Topic) != maxTopicChars {
		t.Fatalf("topic length = %d, want %d", len(topics[0].Topic), maxTopicChars)
	}
	if len(topics[0].EvidenceSummary) != maxEvidenceChars {
		t.Fatalf("evidence length = %d, want %d", len(topics[0].EvidenceSummary), maxEvidenceChars)
	}
}

func TestParseTopicsJSONDefaultsEmptyEvidence(t *testing.T) {
	raw := `[{"topic": "Series", "evidence_summary": "  "}, {"topic": "  "}]`
	topics, err := parseTopicsJSON(raw, "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(topics) != 1 {
		t.Fatalf("blank topics should be skipped, got %+v", topics)
	}
	if topics[0].EvidenceSummary != "Extracted topic evidence." {
		t.Fatalf("unexpected default evidence: %q", topics[0].EvidenceSummary)
	}
}

func TestParseTopicsJSONFallsBackOnInvalidJSON(t *testing.T) {
	topics, err := parseTopicsJSON("not json at all", "Chapter Review\nDerivative Rules explained here.")
	if err != nil {
		t.Fatalf("invalid JSON must degrade, not fail: %v", err)
	}
	if len(topics) == 0 {
		t.Fatalf("expected fallback topics from chunk text")
	}
	for _, topic := range topics {
		if topic.Topic == "" {
			t.Fatalf("empty fallback topic: %+v", topics)
		}
	}
}

func TestFallbackTopicsExtractsHeadings(t *testing.T) {
	text := "Chapter Review\nsome lowercase prose\nIntegration Techniques\nChapter Review again"
	topics := FallbackTopics(text)
	if len(topics) != 2 {
		t.Fatalf("expected two deduplicated headings, got %+v", topics)
	}
	if topics[0].Topic != "Chapter Review" || topics[1].Topic != "Integration Techniques" {
		t.Fatalf("unexpected headings: %+v", topics)
	}
}

func TestFallbackTopicsCapsCandidateCount(t *testing.T) {
	var b strings.Builder
	headings := []string{
		"Alpha Section", "Bravo Section", "Charlie Section", "Delta Section",
		"Echo Section", "Foxtrot Section", "Golf Section", "Hotel Section",
		"India Section", "Juliet Section",
	}
	for _, h := range headings {
		b.WriteString(h)
		b.WriteString("\nfiller prose line\n")
	}
	topics := FallbackTopics(b.String())
	if len(topics) != maxFallbackTopics {
		t.Fatalf("fallback count = %d, want %d", len(topics), maxFallbackTopics)
	}
}

func TestFallbackTopicsDefaultsToGeneralReview(t *testing.T) {
	topics := FallbackTopics("all lowercase text with no headings")
	if len(topics) != 1 || topics[0].Topic != "General Review" {
		t.Fatalf("expected General Review default, got %+v", topics)
	}
	if FallbackTopics("") != nil {
		t.Fatalf("empty text should produce no topics")
	}
}
