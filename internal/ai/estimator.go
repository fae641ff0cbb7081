package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"examplanner/internal/planner"
)

// WorkloadEstimatorLLM implements planner.WorkloadEstimator against an
// OpenAI-compatible endpoint. Retries are bounded; on exhaustion or a
// missing API key it falls back to the deterministic heuristic so the
// pipeline never stalls on the estimator.
type WorkloadEstimatorLLM struct {
	client *OpenAICompatibleClient
	cfg    ChatConfig
	retry  RetryConfig
}

func NewWorkloadEstimatorLLM(client *OpenAICompatibleClient, cfg ChatConfig, retry RetryConfig) *WorkloadEstimatorLLM {
	cfg.JSONMode = true
	cfg.Temperature = 0.1
	return &WorkloadEstimatorLLM{client: client, cfg: cfg, retry: retry}
}

func (e *WorkloadEstimatorLLM) Estimate(ctx context.Context, topic, evidenceSummary string, sourceCount int) (planner.WorkloadEstimate, error) {
	if e.cfg.APIKey == "" {
		return planner.HeuristicEstimate(topic, evidenceSummary, sourceCount), nil
	}

	prompt := fmt.Sprintf(
		"Estimate study effort for one midterm topic. Return strict JSON object only with keys: "+
			"estimated_minutes (int), priority (high|medium|low), confidence (0-1 float), rationale.\n"+
			"Topic: %s\nEvidence: %s\nSource count: %d\n"+
			"Constraints: estimated_minutes between 25 and 240. Keep rationale under 20 words.",
		topic, evidenceSummary, sourceCount)

	estimate, err := RetryWithBackoff(ctx, e.retry, func() (planner.WorkloadEstimate, error) {
		raw, err := e.client.Complete(ctx, e.cfg, []ChatMessage{{Role: "user", Content: prompt}})
		if err != nil {
			return planner.WorkloadEstimate{}, err
		}
		return parseEstimateJSON(raw)
	})
	if err != nil {
		return planner.HeuristicEstimate(topic, evidenceSummary, sourceCount), nil
	}
	return estimate, nil
}

func parseEstimateJSON(raw string) (planner.WorkloadEstimate, error) {
	raw = strings.TrimSpace(codeFencePattern.ReplaceAllString(strings.TrimSpace(raw), ""))
	var parsed struct {
		EstimatedMinutes int     `json:"estimated_minutes"`
		Priority         string  `json:"priority"`
		Confidence       float64 `json:"confidence"`
		Rationale        string  `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return planner.WorkloadEstimate{}, fmt.Errorf("parse estimate json failed: %w", err)
	}
	if parsed.EstimatedMinutes == 0 {
		parsed.EstimatedMinutes = 60
	}
	if parsed.Confidence == 0 {
		parsed.Confidence = 0.65
	}
	// The estimation stage clamps minutes/priority/confidence again; raw
	// model output is never trusted directly.
	return planner.WorkloadEstimate{
		EstimatedMinutes: parsed.EstimatedMinutes,
		Priority:         parsed.Priority,
		Confidence:       parsed.Confidence,
		Rationale:        strings.TrimSpace(parsed.Rationale),
	}, nil
}
