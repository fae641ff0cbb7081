package planner

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ScheduleConfig bounds the greedy day-by-day allocator.
type ScheduleConfig struct {
	DailyCapMinutes int
	MinBlockMinutes int
	MaxBlockMinutes int
}

// Scheduler distributes remaining topic minutes across the date range from
// today through the latest course midterm, greedily and deterministically.
type Scheduler struct {
	store SessionStore
}

func NewScheduler(store SessionStore) *Scheduler {
	return &Scheduler{store: store}
}

type PlanSummary struct {
	SessionID      string   `json:"session_id"`
	ReusedExisting bool     `json:"reused_existing"`
	PlanRowCount   int      `json:"plan_rows_count"`
	PlanVersion    int      `json:"plan_version"`
	DateStart      string   `json:"date_start"`
	DateEnd        string   `json:"date_end"`
	Warnings       []string `json:"warnings"`
}

type topicTask struct {
	courseID    string
	courseName  string
	midterm     time.Time
	topic       string
	remaining   int
	priority    string
	sourceFiles []string
}

func priorityRank(priority string) int {
	switch strings.ToLower(strings.TrimSpace(priority)) {
	case "high":
		return 0
	case "medium":
		return 1
	default:
		return 2
	}
}

// BuildPlan replaces the session's plan rows with a fresh allocation. An
// existing plan is reused unless force is set; a forced rebuild increments
// the plan version and resets remaining minutes from the stored estimates.
func (s *Scheduler) BuildPlan(ctx context.Context, sessionID string, today time.Time, cfg ScheduleConfig, force bool) (*PlanSummary, error) {
	state, err := MustLoad(ctx, s.store, sessionID)
	if err != nil {
		return nil, err
	}
	if len(state.Planning.PlanRows) > 0 && !force {
		return &PlanSummary{
			SessionID:      sessionID,
			ReusedExisting: true,
			PlanRowCount:   len(state.Planning.PlanRows),
			PlanVersion:    state.Planning.PlanVersion,
			DateStart:      state.Planning.PlanRows[0].Date,
			DateEnd:        state.Planning.LastMidtermDate,
		}, nil
	}

	tasks, lastMidterm, err := buildTasks(state)
	if err != nil {
		return nil, err
	}
	today = truncateToDay(today)
	if lastMidterm.Before(today) {
		return nil, &PlanningError{Msg: fmt.Sprintf(
			"cannot plan: all midterms are in the past (today=%s, last_midterm=%s)",
			today.Format(DateLayout), lastMidterm.Format(DateLayout))}
	}

	planRows, unscheduled := allocate(tasks, today, lastMidterm, cfg)

	var warnings []string
	if unscheduled > 0 {
		warnings = append(warnings, fmt.Sprintf("%d topics could not be fully scheduled before their midterm dates.", unscheduled))
	}

	state.Status = StatusReviewing
	state.Planning = PlanningState{
		PlanVersion:     state.Planning.PlanVersion + 1,
		LastMidtermDate: lastMidterm.Format(DateLayout),
		PlanRows:        planRows,
		Warnings:        warnings,
	}
	state.AppendEvent(actorPlanner, EventComplete,
		fmt.Sprintf("Generated %d day-by-day plan rows from %s to %s.",
			len(planRows), today.Format(DateLayout), lastMidterm.Format(DateLayout)),
		fmt.Sprintf("plan_rows:%d", len(planRows)))
	if err := s.store.Save(ctx, state); err != nil {
		return nil, err
	}

	return &PlanSummary{
		SessionID:    sessionID,
		PlanRowCount: len(planRows),
		PlanVersion:  state.Planning.PlanVersion,
		DateStart:    today.Format(DateLayout),
		DateEnd:      lastMidterm.Format(DateLayout),
		Warnings:     warnings,
	}, nil
}

func buildTasks(state *SessionState) ([]*topicTask, time.Time, error) {
	if len(state.Courses) == 0 {
		return nil, time.Time{}, validationErrorf("no courses found, register courses first")
	}
	if len(state.Estimation.TopicEstimates) == 0 {
		return nil, time.Time{}, validationErrorf("no topic estimates found, run estimation first")
	}
	lastMidterm, err := state.LastMidterm()
	if err != nil {
		return nil, time.Time{}, err
	}

	var tasks []*topicTask
	for _, est := range state.Estimation.TopicEstimates {
		course, ok := state.CourseByID(est.CourseID)
		if !ok {
			continue
		}
		if est.EstimatedMinutes <= 0 {
			continue
		}
		midterm, err := time.Parse(DateLayout, course.MidtermDate)
		if err != nil {
			continue
		}
		topic := strings.TrimSpace(est.Topic)
		if topic == "" {
			topic = "General Review"
		}
		tasks = append(tasks, &topicTask{
			courseID:    est.CourseID,
			courseName:  course.CourseName,
			midterm:     midterm,
			topic:       topic,
			remaining:   est.EstimatedMinutes,
			priority:    strings.ToLower(strings.TrimSpace(est.Priority)),
			sourceFiles: est.SourceFiles,
		})
	}
	if len(tasks) == 0 {
		return nil, time.Time{}, validationErrorf("no valid estimate tasks available for planning")
	}
	return tasks, lastMidterm, nil
}

// pickNextTask ranks eligible tasks by (days until deadline, priority rank,
// descending remaining minutes, course id, topic). The trailing keys make
// the ordering total, so identical inputs always allocate identically.
func pickNextTask(tasks []*topicTask, day time.Time) *topicTask {
	var eligible []*topicTask
	for _, t := range tasks {
		if t.remaining > 0 && !day.After(t.midterm) {
			eligible = append(eligible, t)
		}
	}
	if len(eligible) == 0 {
		return nil
	}
	sort.Slice(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		daysA := int(a.midterm.Sub(day).Hours() / 24)
		daysB := int(b.midterm.Sub(day).Hours() / 24)
		if daysA != daysB {
			return daysA < daysB
		}
		if priorityRank(a.priority) != priorityRank(b.priority) {
			return priorityRank(a.priority) < priorityRank(b.priority)
		}
		if a.remaining != b.remaining {
			return a.remaining > b.remaining
		}
		if a.courseID != b.courseID {
			return a.courseID < b.courseID
		}
		return a.topic < b.topic
	})
	return eligible[0]
}

// allocate walks every day of the window once, committing blocks while the
// day has capacity for at least the minimum block size, and emitting a
// zero-minute buffer row on days with no eligible allocation. Returns the
// rows and the count of tasks left with remaining minutes.
func allocate(tasks []*topicTask, start, end time.Time, cfg ScheduleConfig) ([]PlanRow, int) {
	var planRows []PlanRow
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		remainingDay := cfg.DailyCapMinutes
		if remainingDay < 0 {
			remainingDay = 0
		}
		wroteAny := false
		for remainingDay >= cfg.MinBlockMinutes {
			task := pickNextTask(tasks, day)
			if task == nil {
				break
			}
			block := cfg.MaxBlockMinutes
			if task.remaining < block {
				block = task.remaining
			}
			if remainingDay < block {
				block = remainingDay
			}
			// Never emit a sliver below the minimum block size unless it
			// exactly exhausts the task.
			if block < cfg.MinBlockMinutes && task.remaining >= cfg.MinBlockMinutes {
				break
			}
			task.remaining -= block
			remainingDay -= block
			wroteAny = true
			priority := task.priority
			if priority == "" {
				priority = "medium"
			}
			sourceFiles := task.sourceFiles
			if sourceFiles == nil {
				sourceFiles = []string{}
			}
			planRows = append(planRows, PlanRow{
				Date:             day.Format(DateLayout),
				Course:           task.courseName,
				Topic:            task.topic,
				TaskDescription:  fmt.Sprintf("Study and practice %s.", task.topic),
				EstimatedMinutes: block,
				Priority:         priority,
				SourceFiles:      sourceFiles,
				Status:           "planned",
			})
		}
		if !wroteAny {
			planRows = append(planRows, PlanRow{
				Date:             day.Format(DateLayout),
				Course:           BufferCourse,
				Topic:            BufferTopic,
				TaskDescription:  "Buffer day for review, catch-up, or rest.",
				EstimatedMinutes: 0,
				Priority:         "low",
				SourceFiles:      []string{},
				Status:           "planned",
			})
		}
	}

	unscheduled := 0
	for _, t := range tasks {
		if t.remaining > 0 {
			unscheduled++
		}
	}
	return planRows, unscheduled
}

// Buffer row labels for days with no eligible allocation.
const (
	BufferCourse = "General"
	BufferTopic  = "Buffer/Review"
)

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
