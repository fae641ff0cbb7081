package planner

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
)

// WorkloadEstimate is the external estimator's judgment for one topic.
// Callers never trust it raw: minutes, priority, and confidence are all
// clamped before they enter the session document.
type WorkloadEstimate struct {
	EstimatedMinutes int     `json:"estimated_minutes"`
	Priority         string  `json:"priority"`
	Confidence       float64 `json:"confidence"`
	Rationale        string  `json:"rationale"`
}

// WorkloadEstimator produces effort/priority/confidence per topic. It is an
// external collaborator consumed, not implemented, by the core.
type WorkloadEstimator interface {
	Estimate(ctx context.Context, topic, evidenceSummary string, sourceCount int) (WorkloadEstimate, error)
}

type EstimationConfig struct {
	MinMinutes int
	MaxMinutes int
}

// EstimationStage turns merged topic evidence into clamped topic estimates.
type EstimationStage struct {
	store     SessionStore
	estimator WorkloadEstimator
	cfg       EstimationConfig
}

func NewEstimationStage(store SessionStore, estimator WorkloadEstimator, cfg EstimationConfig) *EstimationStage {
	return &EstimationStage{store: store, estimator: estimator, cfg: cfg}
}

type EstimationSummary struct {
	SessionID        string   `json:"session_id"`
	EstimateCount    int      `json:"topic_estimates_count"`
	UncertaintyFlags []string `json:"uncertainty_flags"`
	ReusedExisting   bool     `json:"reused_existing"`
}

// Run estimates every merged evidence row. Existing estimates are reused
// unless force is set. Estimator failures degrade to a heuristic default
// rather than failing the stage.
func (s *EstimationStage) Run(ctx context.Context, sessionID string, force bool) (*EstimationSummary, error) {
	state, err := MustLoad(ctx, s.store, sessionID)
	if err != nil {
		return nil, err
	}
	if len(state.Ingestion.CourseTopicEvidence) == 0 {
		return nil, validationErrorf("no course topic evidence found, run ingestion first")
	}
	if len(state.Estimation.TopicEstimates) > 0 && !force {
		return &EstimationSummary{
			SessionID:        sessionID,
			EstimateCount:    len(state.Estimation.TopicEstimates),
			UncertaintyFlags: state.Estimation.UncertaintyFlags,
			ReusedExisting:   true,
		}, nil
	}

	estimates := make([]TopicEstimate, 0, len(state.Ingestion.CourseTopicEvidence))
	var flags []string
	for _, row := range state.Ingestion.CourseTopicEvidence {
		topic := strings.TrimSpace(row.Topic)
		if topic == "" || row.CourseID == "" {
			continue
		}
		est, err := s.estimator.Estimate(ctx, topic, row.EvidenceSummary, len(row.SourceFiles))
		if err != nil {
			est = HeuristicEstimate(topic, row.EvidenceSummary, len(row.SourceFiles))
		}
		est = s.clamp(est)
		if est.Confidence < 0.6 {
			flags = append(flags, fmt.Sprintf("Low confidence estimate for %s:%s", row.CourseID, topic))
		}
		estimates = append(estimates, TopicEstimate{
			CourseID:         row.CourseID,
			Topic:            topic,
			EstimatedMinutes: est.EstimatedMinutes,
			Priority:         est.Priority,
			Confidence:       est.Confidence,
			Rationale:        est.Rationale,
			SourceFiles:      row.SourceFiles,
		})
	}

	state.Status = StatusPlanning
	state.Estimation = EstimationState{
		TopicEstimates:   estimates,
		UncertaintyFlags: dedupeSorted(flags),
	}
	state.AppendEvent(actorEstimation, EventComplete,
		fmt.Sprintf("Generated %d workload estimates.", len(estimates)),
		fmt.Sprintf("estimates:%d", len(estimates)))
	if err := s.store.Save(ctx, state); err != nil {
		return nil, err
	}
	return &EstimationSummary{
		SessionID:        sessionID,
		EstimateCount:    len(estimates),
		UncertaintyFlags: state.Estimation.UncertaintyFlags,
	}, nil
}

func (s *EstimationStage) clamp(est WorkloadEstimate) WorkloadEstimate {
	minMinutes, maxMinutes := s.cfg.MinMinutes, s.cfg.MaxMinutes
	if minMinutes <= 0 {
		minMinutes = 25
	}
	if maxMinutes <= 0 {
		maxMinutes = 240
	}
	if est.EstimatedMinutes < minMinutes {
		est.EstimatedMinutes = minMinutes
	}
	if est.EstimatedMinutes > maxMinutes {
		est.EstimatedMinutes = maxMinutes
	}
	est.Priority = strings.ToLower(strings.TrimSpace(est.Priority))
	switch est.Priority {
	case "high", "medium", "low":
	default:
		est.Priority = PriorityFromMinutes(est.EstimatedMinutes)
	}
	if est.Confidence < 0 {
		est.Confidence = 0
	}
	if est.Confidence > 1 {
		est.Confidence = 1
	}
	est.Confidence = math.Round(est.Confidence*100) / 100
	est.Rationale = strings.TrimSpace(est.Rationale)
	if est.Rationale == "" {
		est.Rationale = "Model estimate"
	}
	if len(est.Rationale) > 180 {
		est.Rationale = est.Rationale[:180]
	}
	return est
}

// PriorityFromMinutes derives a priority tier from the effort size.
func PriorityFromMinutes(minutes int) string {
	switch {
	case minutes >= 120:
		return "high"
	case minutes >= 70:
		return "medium"
	default:
		return "low"
	}
}

var wordPattern = regexp.MustCompile(`[A-Za-z0-9]+`)

// HeuristicEstimate is the deterministic default used when the external
// estimator is unavailable or returns garbage: effort grows with topic
// complexity, evidence length, and source coverage.
func HeuristicEstimate(topic, evidenceSummary string, sourceCount int) WorkloadEstimate {
	words := len(wordPattern.FindAllString(topic, -1))
	if words < 1 {
		words = 1
	}
	evidenceWords := len(wordPattern.FindAllString(evidenceSummary, -1))
	base := 30 + words*8
	evidenceFactor := evidenceWords * 2
	if evidenceFactor > 40 {
		evidenceFactor = 40
	}
	sourceFactor := sourceCount * 7
	if sourceFactor > 35 {
		sourceFactor = 35
	}
	minutes := base + evidenceFactor + sourceFactor
	if minutes < 25 {
		minutes = 25
	}
	if minutes > 240 {
		minutes = 240
	}
	cappedEvidence := evidenceWords
	if cappedEvidence > 20 {
		cappedEvidence = 20
	}
	confidence := 0.45 + float64(sourceCount)*0.12 + 0.01*float64(cappedEvidence)
	if confidence > 0.95 {
		confidence = 0.95
	}
	return WorkloadEstimate{
		EstimatedMinutes: minutes,
		Priority:         PriorityFromMinutes(minutes),
		Confidence:       math.Round(confidence*100) / 100,
		Rationale:        "Heuristic estimate from topic complexity and source coverage.",
	}
}
