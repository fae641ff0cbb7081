package planner

import (
	"context"
	"fmt"
	"time"
)

// ReviewConfig bounds the fixed-point revision loop.
type ReviewConfig struct {
	CapIncrementMinutes int
	CapUpperMinutes     int
	MaxRevisionRounds   int
	MinBlockMinutes     int
	MaxBlockMinutes     int
}

// ReviewLoop validates the plan and rebuilds it, at most MaxRevisionRounds
// times, while the failures remain correctable. The irrecoverable case --
// date range, load, and deadline all pass but a capacity shortfall blocks
// coverage -- is detected immediately and terminates the loop rather than
// burning rounds against a structural shortfall.
type ReviewLoop struct {
	store     SessionStore
	scheduler *Scheduler
	cfg       ReviewConfig
}

func NewReviewLoop(store SessionStore, scheduler *Scheduler, cfg ReviewConfig) *ReviewLoop {
	return &ReviewLoop{store: store, scheduler: scheduler, cfg: cfg}
}

func isCapacityLimitedOnly(report ValidationReport) bool {
	return !report.CoverageOK &&
		report.DateRangeOK &&
		report.LoadBalanceOK &&
		report.DeadlineOK &&
		report.CapacityShortfallDetected
}

// Run reviews and finalizes the session's plan, returning the terminal
// verdict. Capacity shortfall is an expected outcome carried in the
// ReviewOutcome, never an error.
func (l *ReviewLoop) Run(ctx context.Context, sessionID string, today time.Time, dailyCap int, allowAutoRevision bool) (*ReviewOutcome, error) {
	state, err := MustLoad(ctx, l.store, sessionID)
	if err != nil {
		return nil, err
	}
	if len(state.Planning.PlanRows) == 0 {
		if _, err := l.scheduler.BuildPlan(ctx, sessionID, today, l.scheduleConfig(dailyCap), false); err != nil {
			return nil, err
		}
		if state, err = MustLoad(ctx, l.store, sessionID); err != nil {
			return nil, err
		}
	}

	effectiveCap := dailyCap
	report, reasons, err := ValidatePlan(state, today, effectiveCap)
	if err != nil {
		return nil, err
	}

	rounds := 0
	for len(reasons) > 0 &&
		allowAutoRevision &&
		rounds < l.cfg.MaxRevisionRounds &&
		!isCapacityLimitedOnly(report) {
		rounds++
		state.AppendEvent(actorReviewer, EventRevision,
			fmt.Sprintf("Starting revision round %d with %d issues.", rounds, len(reasons)),
			fmt.Sprintf("revision_round:%d", rounds))
		if err := l.store.Save(ctx, state); err != nil {
			return nil, err
		}

		if !report.LoadBalanceOK {
			effectiveCap += l.cfg.CapIncrementMinutes
			if effectiveCap > l.cfg.CapUpperMinutes {
				effectiveCap = l.cfg.CapUpperMinutes
			}
		}
		if _, err := l.scheduler.BuildPlan(ctx, sessionID, today, l.scheduleConfig(effectiveCap), true); err != nil {
			return nil, err
		}
		if state, err = MustLoad(ctx, l.store, sessionID); err != nil {
			return nil, err
		}
		if report, reasons, err = ValidatePlan(state, today, effectiveCap); err != nil {
			return nil, err
		}
	}

	resultType := VerdictNeedsRevision
	switch {
	case len(reasons) == 0:
		resultType = VerdictApproved
	case isCapacityLimitedOnly(report):
		resultType = VerdictCapacityLimited
	}

	if reasons == nil {
		reasons = []string{}
	}
	outcome := &ReviewOutcome{
		ResultType:               resultType,
		RevisionReasons:          reasons,
		ValidationReport:         report,
		RevisionRounds:           rounds,
		EffectiveDailyCapMinutes: effectiveCap,
	}
	state.Status = StatusReviewing
	state.Planning.Review = outcome
	state.AppendEvent(actorReviewer, EventReview,
		fmt.Sprintf("Review verdict: %s. Rounds=%d, reasons=%d.", resultType, rounds, len(reasons)),
		"review:"+resultType)
	if err := l.store.Save(ctx, state); err != nil {
		return nil, err
	}
	return outcome, nil
}

func (l *ReviewLoop) scheduleConfig(dailyCap int) ScheduleConfig {
	return ScheduleConfig{
		DailyCapMinutes: dailyCap,
		MinBlockMinutes: l.cfg.MinBlockMinutes,
		MaxBlockMinutes: l.cfg.MaxBlockMinutes,
	}
}
