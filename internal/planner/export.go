package planner

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

var csvColumns = []string{
	"date", "course", "topic", "task_description",
	"estimated_minutes", "priority", "source_files", "status",
}

// Exporter writes the final plan rows into a fixed-column CSV artifact and
// a markdown narrative artifact under the session's outputs directory.
type Exporter struct {
	store        SessionStore
	artifactsDir string
}

func NewExporter(store SessionStore, artifactsDir string) *Exporter {
	return &Exporter{store: store, artifactsDir: artifactsDir}
}

type ExportResult struct {
	SessionID    string `json:"session_id"`
	CSVPath      string `json:"csv_path"`
	MarkdownPath string `json:"markdown_path"`
	RowCount     int    `json:"row_count"`
}

// Export writes both artifacts, records their paths on the session, and
// marks the session completed. It refuses to clobber existing artifacts
// unless overwrite is set.
func (e *Exporter) Export(ctx context.Context, sessionID string, overwrite bool) (*ExportResult, error) {
	state, err := MustLoad(ctx, e.store, sessionID)
	if err != nil {
		return nil, err
	}
	if len(state.Planning.PlanRows) == 0 {
		return nil, validationErrorf("no plan rows found, run planning and review first")
	}

	outputsDir := filepath.Join(e.artifactsDir, "sessions", sessionID, "outputs")
	if err := os.MkdirAll(outputsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create outputs dir failed: %w", err)
	}
	csvPath := filepath.Join(outputsDir, "study_plan.csv")
	mdPath := filepath.Join(outputsDir, "study_plan.md")
	if !overwrite {
		if _, err := os.Stat(csvPath); err == nil {
			return nil, validationErrorf("output files already exist and overwrite is false")
		}
		if _, err := os.Stat(mdPath); err == nil {
			return nil, validationErrorf("output files already exist and overwrite is false")
		}
	}

	rows := normalizeRows(state.Planning.PlanRows)
	if err := writeCSV(csvPath, rows); err != nil {
		return nil, err
	}
	if err := writeMarkdown(mdPath, rows, state); err != nil {
		return nil, err
	}

	state.Artifacts["csv_path"] = csvPath
	state.Artifacts["markdown_path"] = mdPath
	state.Status = StatusCompleted
	state.AppendEvent(actorExporter, EventComplete,
		fmt.Sprintf("Exported %d plan rows to CSV and markdown.", len(rows)), csvPath, mdPath)
	if err := e.store.Save(ctx, state); err != nil {
		return nil, err
	}
	return &ExportResult{
		SessionID:    sessionID,
		CSVPath:      csvPath,
		MarkdownPath: mdPath,
		RowCount:     len(rows),
	}, nil
}

func normalizeRows(rows []PlanRow) []PlanRow {
	out := make([]PlanRow, 0, len(rows))
	for _, row := range rows {
		priority := strings.ToLower(strings.TrimSpace(row.Priority))
		if priority == "" {
			priority = "medium"
		}
		status := strings.TrimSpace(row.Status)
		if status == "" {
			status = "planned"
		}
		out = append(out, PlanRow{
			Date:             strings.TrimSpace(row.Date),
			Course:           strings.TrimSpace(row.Course),
			Topic:            strings.TrimSpace(row.Topic),
			TaskDescription:  strings.TrimSpace(row.TaskDescription),
			EstimatedMinutes: row.EstimatedMinutes,
			Priority:         priority,
			SourceFiles:      row.SourceFiles,
			Status:           status,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.Course != b.Course {
			return a.Course < b.Course
		}
		if a.Topic != b.Topic {
			return a.Topic < b.Topic
		}
		return a.TaskDescription < b.TaskDescription
	})
	return out
}

func writeCSV(path string, rows []PlanRow) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv artifact failed: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvColumns); err != nil {
		return fmt.Errorf("write csv header failed: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.Date,
			row.Course,
			row.Topic,
			row.TaskDescription,
			strconv.Itoa(row.EstimatedMinutes),
			row.Priority,
			strings.Join(row.SourceFiles, ";"),
			row.Status,
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write csv row failed: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv failed: %w", err)
	}
	return nil
}

func writeMarkdown(path string, rows []PlanRow, state *SessionState) error {
	var b strings.Builder
	b.WriteString("# Exam Study Plan\n\n")

	b.WriteString("## Student Inputs\n")
	if len(state.Courses) > 0 {
		names := make([]string, 0, len(state.Courses))
		midterms := make([]string, 0, len(state.Courses))
		for _, c := range state.Courses {
			names = append(names, c.CourseName)
			midterms = append(midterms, c.MidtermDate)
		}
		fmt.Fprintf(&b, "- Courses: %s\n", strings.Join(names, ", "))
		fmt.Fprintf(&b, "- Midterms: %s\n", strings.Join(midterms, ", "))
	} else {
		b.WriteString("- Courses: (none)\n")
	}
	b.WriteString("\n## Planning Assumptions\n")
	b.WriteString("- Study window starts at current session date and ends at last midterm date.\n")
	b.WriteString("- Topic effort is based on estimation output and split into daily blocks.\n")
	for _, w := range state.Planning.Warnings {
		fmt.Fprintf(&b, "- Warning: %s\n", w)
	}

	b.WriteString("\n## Day-by-Day Plan\n")
	b.WriteString("| Date | Course | Topic | Task | Minutes |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, row := range rows {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %d |\n",
			row.Date, row.Course, row.Topic, row.TaskDescription, row.EstimatedMinutes)
	}

	b.WriteString("\n## Coverage Check by Course\n")
	for _, line := range coverageLines(rows, state) {
		b.WriteString(line + "\n")
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write markdown artifact failed: %w", err)
	}
	return nil
}

func coverageLines(rows []PlanRow, state *SessionState) []string {
	planned := map[string]int{}
	for _, row := range rows {
		planned[row.Course]++
	}
	estimatesByCourse := map[string]int{}
	nameByID := map[string]string{}
	for _, c := range state.Courses {
		nameByID[c.CourseID] = c.CourseName
	}
	for _, est := range state.Estimation.TopicEstimates {
		if name := nameByID[est.CourseID]; name != "" {
			estimatesByCourse[name]++
		}
	}

	names := make([]string, 0, len(nameByID))
	for _, name := range nameByID {
		if name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	lines := make([]string, 0, len(names))
	for _, name := range names {
		estCount := estimatesByCourse[name]
		percent := 100
		if estCount > 0 {
			percent = int(math.Min(100, math.Round(float64(planned[name])/float64(estCount)*100)))
		}
		lines = append(lines, fmt.Sprintf("- %s: %d%% estimated-topic representation in plan rows.", name, percent))
	}
	return lines
}
