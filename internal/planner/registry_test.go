package planner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func futureDate(days int) string {
	return time.Now().AddDate(0, 0, days).Format(DateLayout)
}

func writeTempPDF(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write temp pdf: %v", err)
	}
	return path
}

func TestRegisterCoursesRejectsPastMidterm(t *testing.T) {
	store := NewMemoryStore()
	registry := NewFileRegistry(store, t.TempDir())
	ctx := context.Background()

	_, err := registry.RegisterCourses(ctx, "s1", []CourseInput{
		{CourseName: "Calculus", MidtermDate: futureDate(-1)},
	})
	if !IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}

	state, err := LoadOrCreate(ctx, store, "s1")
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if len(state.Courses) != 0 {
		t.Fatalf("past-midterm course was persisted: %v", state.Courses)
	}
}

func TestRegisterCoursesRejectsDuplicateID(t *testing.T) {
	registry := NewFileRegistry(NewMemoryStore(), t.TempDir())
	_, err := registry.RegisterCourses(context.Background(), "s1", []CourseInput{
		{CourseID: "c1", CourseName: "Calculus", MidtermDate: futureDate(5)},
		{CourseID: "c1", CourseName: "Physics", MidtermDate: futureDate(7)},
	})
	if !IsValidationError(err) {
		t.Fatalf("expected validation error for duplicate course_id, got %v", err)
	}
}

func TestRegisterCoursesAssignsSequentialIDs(t *testing.T) {
	registry := NewFileRegistry(NewMemoryStore(), t.TempDir())
	courses, err := registry.RegisterCourses(context.Background(), "s1", []CourseInput{
		{CourseName: "Calculus", MidtermDate: futureDate(5)},
		{CourseName: "Physics", MidtermDate: futureDate(7)},
	})
	if err != nil {
		t.Fatalf("register courses: %v", err)
	}
	if courses[0].CourseID != "course_001" || courses[1].CourseID != "course_002" {
		t.Fatalf("unexpected generated course ids: %v, %v", courses[0].CourseID, courses[1].CourseID)
	}
}

func TestRegisterFilesDeduplicatesByChecksumAndSize(t *testing.T) {
	store := NewMemoryStore()
	artifacts := t.TempDir()
	registry := NewFileRegistry(store, artifacts)
	ctx := context.Background()
	uploads := t.TempDir()

	content := []byte("%PDF-1.4 identical bytes")
	first := writeTempPDF(t, uploads, "week1.pdf", content)
	second := writeTempPDF(t, uploads, "week1-copy.pdf", content)

	result, err := registry.RegisterFiles(ctx, "s1", []FileInput{{Path: first}})
	if err != nil {
		t.Fatalf("register first file: %v", err)
	}
	if len(result.RegisteredFiles) != 1 || result.RegisteredFiles[0].FileID != "file_001" {
		t.Fatalf("unexpected first registration: %+v", result)
	}

	result, err = registry.RegisterFiles(ctx, "s1", []FileInput{{Path: second}})
	if err != nil {
		t.Fatalf("register duplicate file: %v", err)
	}
	if len(result.RegisteredFiles) != 0 {
		t.Fatalf("duplicate bytes registered as new file: %+v", result.RegisteredFiles)
	}
	if len(result.ReusedFiles) != 1 || result.ReusedFiles[0].FileID != "file_001" {
		t.Fatalf("expected reuse of file_001, got %+v", result.ReusedFiles)
	}
	if result.ReusedFiles[0].Reason != "duplicate_checksum_size" {
		t.Fatalf("unexpected reuse reason: %q", result.ReusedFiles[0].Reason)
	}
	if result.TotalFiles != 1 {
		t.Fatalf("expected 1 stored file in session, got %d", result.TotalFiles)
	}

	entries, err := os.ReadDir(filepath.Join(artifacts, "sessions", "s1", "files"))
	if err != nil {
		t.Fatalf("read session files dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("duplicate bytes were stored twice: %d files on disk", len(entries))
	}
}

func TestRegisterFilesRejectsNonPDF(t *testing.T) {
	registry := NewFileRegistry(NewMemoryStore(), t.TempDir())
	path := writeTempPDF(t, t.TempDir(), "notes.txt", []byte("plain text"))
	_, err := registry.RegisterFiles(context.Background(), "s1", []FileInput{{Path: path}})
	if !IsValidationError(err) {
		t.Fatalf("expected validation error for non-pdf, got %v", err)
	}
}

func TestLinkFilesRequiresCourseOrShared(t *testing.T) {
	store := NewMemoryStore()
	registry := NewFileRegistry(store, t.TempDir())
	ctx := context.Background()
	path := writeTempPDF(t, t.TempDir(), "week1.pdf", []byte("%PDF-1.4 a"))
	if _, err := registry.RegisterFiles(ctx, "s1", []FileInput{{Path: path}}); err != nil {
		t.Fatalf("register file: %v", err)
	}

	_, err := registry.LinkFiles(ctx, "s1", []LinkInput{{FileID: "file_001"}})
	if !IsValidationError(err) {
		t.Fatalf("expected validation error for unmapped file, got %v", err)
	}

	linked, err := registry.LinkFiles(ctx, "s1", []LinkInput{{Filename: "week1.pdf", IsShared: true}})
	if err != nil {
		t.Fatalf("link shared file: %v", err)
	}
	if len(linked) != 1 || linked[0] != "file_001" {
		t.Fatalf("unexpected linked ids: %v", linked)
	}
}

func TestTargetCourseIDs(t *testing.T) {
	state := NewSessionState("s1", time.Now())
	state.Courses = []Course{
		{CourseID: "math", CourseName: "Math", MidtermDate: futureDate(5)},
		{CourseID: "phys", CourseName: "Physics", MidtermDate: futureDate(7)},
	}

	explicit := &RegisteredFile{CourseIDs: []string{"phys", "math", "phys"}}
	if got := TargetCourseIDs(explicit, state); len(got) != 2 || got[0] != "math" || got[1] != "phys" {
		t.Fatalf("explicit mapping = %v", got)
	}

	shared := &RegisteredFile{IsShared: true}
	if got := TargetCourseIDs(shared, state); len(got) != 2 {
		t.Fatalf("shared file should target all courses, got %v", got)
	}

	orphan := &RegisteredFile{IsShared: true}
	if got := TargetCourseIDs(orphan, NewSessionState("s2", time.Now())); len(got) != 1 || got[0] != SharedCourseID {
		t.Fatalf("shared file with no courses should hit shared bucket, got %v", got)
	}
}
