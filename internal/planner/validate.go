package planner

import (
	"strings"
	"time"
)

// ValidatePlan checks the current plan rows against the course set and
// topic estimates: topic coverage, date-range completeness, daily load
// bound, and deadline compliance. It also computes the global capacity
// shortfall. The shortfall compares all-courses totals against the whole
// window's capacity, which can mask an early-deadline course's local
// infeasibility even when global totals balance; that is a known
// limitation kept as specified.
func ValidatePlan(state *SessionState, today time.Time, dailyCap int) (ValidationReport, []string, error) {
	planRows := state.Planning.PlanRows
	if len(planRows) == 0 {
		return ValidationReport{}, nil, validationErrorf("no plan rows found, run planning first")
	}
	lastMidterm, err := state.LastMidterm()
	if err != nil {
		return ValidationReport{}, nil, err
	}
	today = truncateToDay(today)

	courseMidterms := map[string]time.Time{}
	courseNameByID := map[string]string{}
	for _, c := range state.Courses {
		if c.CourseName == "" {
			continue
		}
		if d, err := time.Parse(DateLayout, c.MidtermDate); err == nil {
			courseMidterms[c.CourseName] = d
		}
		courseNameByID[c.CourseID] = c.CourseName
	}

	// Every date from today through the last midterm must appear.
	planDates := map[string]bool{}
	for _, row := range planRows {
		if row.Date != "" {
			planDates[row.Date] = true
		}
	}
	requiredDays := 0
	dateRangeOK := true
	for day := today; !day.After(lastMidterm); day = day.AddDate(0, 0, 1) {
		requiredDays++
		if !planDates[day.Format(DateLayout)] {
			dateRangeOK = false
		}
	}

	// Coverage: every positively-estimated (course, topic) appears as a
	// non-buffer row for that course, topic matched case-insensitively.
	covered := map[[2]string]bool{}
	for _, row := range planRows {
		course := strings.TrimSpace(row.Course)
		if course == "" || course == BufferCourse {
			continue
		}
		covered[[2]string{course, strings.ToLower(strings.TrimSpace(row.Topic))}] = true
	}
	totalEstimated := 0
	coverageOK := true
	for _, est := range state.Estimation.TopicEstimates {
		courseName, ok := courseNameByID[est.CourseID]
		if !ok {
			continue
		}
		if est.EstimatedMinutes > 0 {
			totalEstimated += est.EstimatedMinutes
		}
		topic := strings.ToLower(strings.TrimSpace(est.Topic))
		if topic == "" {
			continue
		}
		if !covered[[2]string{courseName, topic}] {
			coverageOK = false
		}
	}

	// Daily load and deadline compliance.
	byDay := map[string]int{}
	totalPlanned := 0
	deadlineOK := true
	for _, row := range planRows {
		if row.Date == "" {
			continue
		}
		minutes := row.EstimatedMinutes
		if minutes < 0 {
			minutes = 0
		}
		byDay[row.Date] += minutes
		totalPlanned += minutes
		if midterm, ok := courseMidterms[strings.TrimSpace(row.Course)]; ok {
			if d, err := time.Parse(DateLayout, row.Date); err == nil && d.After(midterm) {
				deadlineOK = false
			}
		}
	}
	loadBalanceOK := true
	for _, total := range byDay {
		if total > dailyCap {
			loadBalanceOK = false
		}
	}

	totalAvailable := requiredDays * dailyCap
	if totalAvailable < 0 {
		totalAvailable = 0
	}
	shortfall := totalEstimated - totalAvailable
	if shortfall < 0 {
		shortfall = 0
	}

	report := ValidationReport{
		CoverageOK:                coverageOK,
		DateRangeOK:               dateRangeOK,
		LoadBalanceOK:             loadBalanceOK,
		DeadlineOK:                deadlineOK,
		TotalEstimatedMinutes:     totalEstimated,
		TotalPlannedMinutes:       totalPlanned,
		TotalAvailableMinutes:     totalAvailable,
		CapacityShortfallMinutes:  shortfall,
		CapacityShortfallDetected: shortfall > 0,
	}

	var reasons []string
	if !coverageOK {
		if report.CapacityShortfallDetected {
			reasons = append(reasons, "Full topic coverage is mathematically impossible under the current date window and daily cap.")
		} else {
			reasons = append(reasons, "Not all estimated topics are represented in the plan.")
		}
	}
	if !dateRangeOK {
		reasons = append(reasons, "Plan does not include every date from today through the last midterm.")
	}
	if !loadBalanceOK {
		reasons = append(reasons, "One or more days exceed the configured daily study cap.")
	}
	if !deadlineOK {
		reasons = append(reasons, "One or more course tasks are scheduled after that course midterm date.")
	}
	return report, reasons, nil
}
