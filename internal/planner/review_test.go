package planner

import (
	"context"
	"testing"
)

func defaultReviewConfig() ReviewConfig {
	return ReviewConfig{
		CapIncrementMinutes: 60,
		CapUpperMinutes:     480,
		MaxRevisionRounds:   1,
		MinBlockMinutes:     30,
		MaxBlockMinutes:     90,
	}
}

func newTestReviewLoop(store SessionStore) *ReviewLoop {
	return NewReviewLoop(store, NewScheduler(store), defaultReviewConfig())
}

func TestReviewApprovesFeasiblePlan(t *testing.T) {
	store := NewMemoryStore()
	sessionID := seedPlanningSession(t, store,
		[]Course{{CourseID: "math", CourseName: "Math", MidtermDate: dateOffset(3)}},
		[]TopicEstimate{{CourseID: "math", Topic: "Limits", EstimatedMinutes: 120, Priority: "high"}},
	)

	outcome, err := newTestReviewLoop(store).Run(context.Background(), sessionID, testToday, 240, true)
	if err != nil {
		t.Fatalf("review run: %v", err)
	}
	if outcome.ResultType != VerdictApproved {
		t.Fatalf("verdict = %q, reasons = %v", outcome.ResultType, outcome.RevisionReasons)
	}
	if outcome.RevisionRounds != 0 {
		t.Fatalf("feasible plan needed %d revision rounds", outcome.RevisionRounds)
	}

	state, _ := MustLoad(context.Background(), store, sessionID)
	if state.Planning.Review == nil || state.Planning.Review.ResultType != VerdictApproved {
		t.Fatalf("verdict not persisted on session: %+v", state.Planning.Review)
	}
}

func TestReviewDetectsCapacityLimitImmediately(t *testing.T) {
	// One day of capacity, two topics totaling 900 minutes. The allocator
	// spends the whole day on the pressured topic, so the second one never
	// appears: coverage fails while dates, load, and deadlines all pass.
	store := NewMemoryStore()
	sessionID := seedPlanningSession(t, store,
		[]Course{{CourseID: "math", CourseName: "Math", MidtermDate: dateOffset(0)}},
		[]TopicEstimate{
			{CourseID: "math", Topic: "Everything", EstimatedMinutes: 800, Priority: "high"},
			{CourseID: "math", Topic: "Extras", EstimatedMinutes: 100, Priority: "low"},
		},
	)

	outcome, err := newTestReviewLoop(store).Run(context.Background(), sessionID, testToday, 240, true)
	if err != nil {
		t.Fatalf("review run: %v", err)
	}
	if outcome.ResultType != VerdictCapacityLimited {
		t.Fatalf("verdict = %q, reasons = %v", outcome.ResultType, outcome.RevisionReasons)
	}
	if outcome.RevisionRounds != 0 {
		t.Fatalf("structural shortfall must not burn revision rounds, got %d", outcome.RevisionRounds)
	}
	report := outcome.ValidationReport
	if !report.CapacityShortfallDetected || report.CapacityShortfallMinutes != 660 {
		t.Fatalf("shortfall = %d detected=%v, want 660/true",
			report.CapacityShortfallMinutes, report.CapacityShortfallDetected)
	}
	if report.CoverageOK || !report.DateRangeOK || !report.LoadBalanceOK || !report.DeadlineOK {
		t.Fatalf("unexpected report shape: %+v", report)
	}
}

func TestReviewRaisesCapOnLoadBalanceFailure(t *testing.T) {
	store := NewMemoryStore()
	sessionID := seedPlanningSession(t, store,
		[]Course{{CourseID: "math", CourseName: "Math", MidtermDate: dateOffset(1)}},
		[]TopicEstimate{{CourseID: "math", Topic: "Limits", EstimatedMinutes: 100, Priority: "high"}},
	)

	// Pre-seed an overloaded plan so the first validation fails load balance.
	ctx := context.Background()
	state, _ := MustLoad(ctx, store, sessionID)
	state.Planning = PlanningState{
		PlanVersion:     1,
		LastMidtermDate: dateOffset(1),
		PlanRows: []PlanRow{
			{Date: dateOffset(0), Course: "Math", Topic: "Limits", EstimatedMinutes: 300},
			{Date: dateOffset(1), Course: BufferCourse, Topic: BufferTopic},
		},
	}
	if err := store.Save(ctx, state); err != nil {
		t.Fatalf("seed plan: %v", err)
	}

	outcome, err := newTestReviewLoop(store).Run(ctx, sessionID, testToday, 240, true)
	if err != nil {
		t.Fatalf("review run: %v", err)
	}
	if outcome.ResultType != VerdictApproved {
		t.Fatalf("verdict = %q, reasons = %v", outcome.ResultType, outcome.RevisionReasons)
	}
	if outcome.RevisionRounds != 1 {
		t.Fatalf("expected exactly one revision round, got %d", outcome.RevisionRounds)
	}
	if outcome.EffectiveDailyCapMinutes != 300 {
		t.Fatalf("effective cap = %d, want 240+60", outcome.EffectiveDailyCapMinutes)
	}

	state, _ = MustLoad(ctx, store, sessionID)
	if state.Planning.PlanVersion != 2 {
		t.Fatalf("revision should rebuild the plan, version = %d", state.Planning.PlanVersion)
	}
}

func TestReviewWithoutAutoRevisionReportsNeedsRevision(t *testing.T) {
	store := NewMemoryStore()
	sessionID := seedPlanningSession(t, store,
		[]Course{{CourseID: "math", CourseName: "Math", MidtermDate: dateOffset(1)}},
		[]TopicEstimate{{CourseID: "math", Topic: "Limits", EstimatedMinutes: 100, Priority: "high"}},
	)

	ctx := context.Background()
	state, _ := MustLoad(ctx, store, sessionID)
	state.Planning = PlanningState{
		PlanVersion:     1,
		LastMidtermDate: dateOffset(1),
		PlanRows: []PlanRow{
			{Date: dateOffset(0), Course: "Math", Topic: "Limits", EstimatedMinutes: 300},
			{Date: dateOffset(1), Course: BufferCourse, Topic: BufferTopic},
		},
	}
	if err := store.Save(ctx, state); err != nil {
		t.Fatalf("seed plan: %v", err)
	}

	outcome, err := newTestReviewLoop(store).Run(ctx, sessionID, testToday, 240, false)
	if err != nil {
		t.Fatalf("review run: %v", err)
	}
	if outcome.ResultType != VerdictNeedsRevision || outcome.RevisionRounds != 0 {
		t.Fatalf("verdict = %q rounds = %d, want needs_revision/0", outcome.ResultType, outcome.RevisionRounds)
	}
}

func TestReviewBuildsPlanWhenNoneExists(t *testing.T) {
	store := NewMemoryStore()
	sessionID := seedPlanningSession(t, store,
		[]Course{{CourseID: "math", CourseName: "Math", MidtermDate: dateOffset(2)}},
		[]TopicEstimate{{CourseID: "math", Topic: "Limits", EstimatedMinutes: 90, Priority: "medium"}},
	)

	outcome, err := newTestReviewLoop(store).Run(context.Background(), sessionID, testToday, 240, true)
	if err != nil {
		t.Fatalf("review run: %v", err)
	}
	if outcome.ResultType != VerdictApproved {
		t.Fatalf("verdict = %q, reasons = %v", outcome.ResultType, outcome.RevisionReasons)
	}

	state, _ := MustLoad(context.Background(), store, sessionID)
	if len(state.Planning.PlanRows) == 0 {
		t.Fatal("review should have built a plan when none existed")
	}
}

func TestIsCapacityLimitedOnly(t *testing.T) {
	base := ValidationReport{
		CoverageOK:                false,
		DateRangeOK:               true,
		LoadBalanceOK:             true,
		DeadlineOK:                true,
		CapacityShortfallDetected: true,
	}
	if !isCapacityLimitedOnly(base) {
		t.Fatal("canonical shortfall report not classified capacity-limited")
	}

	variant := base
	variant.LoadBalanceOK = false
	if isCapacityLimitedOnly(variant) {
		t.Fatal("load-balance failure is correctable, not capacity-limited")
	}

	variant = base
	variant.CoverageOK = true
	if isCapacityLimitedOnly(variant) {
		t.Fatal("full coverage cannot be capacity-limited")
	}
}
