package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"examplanner/internal/planner"
)

const (
	maxTopicChars     = 180
	maxEvidenceChars  = 240
	maxFallbackTopics = 8
)

// TopicExtractorLLM implements planner.TopicExtractor against an
// OpenAI-compatible endpoint. When no API key is configured it degrades to
// the heading heuristic so local runs still produce usable topics.
type TopicExtractorLLM struct {
	client *OpenAICompatibleClient
	cfg    ChatConfig
	retry  RetryConfig
}

func NewTopicExtractorLLM(client *OpenAICompatibleClient, cfg ChatConfig, retry RetryConfig) *TopicExtractorLLM {
	cfg.JSONMode = true
	cfg.Temperature = 0.1
	return &TopicExtractorLLM{client: client, cfg: cfg, retry: retry}
}

func (t *TopicExtractorLLM) ExtractTopics(ctx context.Context, chunkText string) ([]planner.TopicCandidate, error) {
	if t.cfg.APIKey == "" {
		return FallbackTopics(chunkText), nil
	}

	prompt := "You extract study topics from textbook/syllabus text. " +
		"Return strict JSON array only. " +
		"Each object must include keys: topic, evidence_summary. " +
		"Keep evidence_summary <= 20 words.\n\nTEXT:\n" + chunkText

	topics, err := RetryWithBackoff(ctx, t.retry, func() ([]planner.TopicCandidate, error) {
		raw, err := t.client.Complete(ctx, t.cfg, []ChatMessage{{Role: "user", Content: prompt}})
		if err != nil {
			return nil, err
		}
		return parseTopicsJSON(raw, chunkText)
	})
	if err != nil {
		return nil, fmt.Errorf("topic extraction failed after retries: %w", err)
	}
	return topics, nil
}

var codeFencePattern = regexp.MustCompile("(?m)^```json|^```|```$")

func parseTopicsJSON(raw, chunkText string) ([]planner.TopicCandidate, error) {
	raw = strings.TrimSpace(codeFencePattern.ReplaceAllString(strings.TrimSpace(raw), ""))
	var parsed []struct {
		Topic           string `json:"topic"`
		EvidenceSummary string `json:"evidence_summary"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return FallbackTopics(chunkText), nil
	}
	out := make([]planner.TopicCandidate, 0, len(parsed))
	for _, item := range parsed {
		topic := strings.TrimSpace(item.Topic)
		if topic == "" {
			continue
		}
		evidence := strings.TrimSpace(item.EvidenceSummary)
		if evidence == "" {
			evidence = "Extracted topic evidence."
		}
		out = append(out, planner.TopicCandidate{
			Topic:           truncate(topic, maxTopicChars),
			EvidenceSummary: truncate(evidence, maxEvidenceChars),
		})
	}
	if len(out) == 0 {
		return FallbackTopics(chunkText), nil
	}
	return out, nil
}

var headingPattern = regexp.MustCompile(`\b[A-Z][A-Za-z0-9\-]{3,}(?:\s+[A-Z][A-Za-z0-9\-]{3,}){0,3}\b`)

// FallbackTopics pulls Title Case heading candidates out of the chunk text.
func FallbackTopics(chunkText string) []planner.TopicCandidate {
	candidates := headingPattern.FindAllString(chunkText, -1)
	seen := map[string]bool{}
	var topics []planner.TopicCandidate
	for _, candidate := range candidates {
		topic := strings.TrimSpace(candidate)
		if topic == "" || seen[topic] {
			continue
		}
		seen[topic] = true
		topics = append(topics, planner.TopicCandidate{
			Topic:           topic,
			EvidenceSummary: "Extracted from PDF text chunk.",
		})
		if len(topics) >= maxFallbackTopics {
			break
		}
	}
	if len(topics) == 0 && chunkText != "" {
		topics = []planner.TopicCandidate{{
			Topic:           "General Review",
			EvidenceSummary: "No explicit heading detected.",
		}}
	}
	return topics
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
