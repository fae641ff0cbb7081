package planner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Collaboration actor names used in session events.
const (
	actorCoordinator = "coordinator"
	actorIngestion   = "ingestion"
	actorEstimation  = "estimation"
	actorPlanner     = "planner"
	actorReviewer    = "reviewer"
	actorExporter    = "exporter"
)

// FileRegistry owns course registration and the content-addressed upload
// registry of a session.
type FileRegistry struct {
	store        SessionStore
	artifactsDir string
}

func NewFileRegistry(store SessionStore, artifactsDir string) *FileRegistry {
	return &FileRegistry{store: store, artifactsDir: artifactsDir}
}

type CourseInput struct {
	CourseID    string `json:"course_id"`
	CourseName  string `json:"course_name"`
	MidtermDate string `json:"midterm_date"`
}

type FileInput struct {
	Path      string   `json:"path"`
	CourseIDs []string `json:"course_ids"`
	IsShared  bool     `json:"is_shared"`
}

type LinkInput struct {
	FileID    string   `json:"file_id"`
	Filename  string   `json:"filename"`
	CourseIDs []string `json:"course_ids"`
	IsShared  bool     `json:"is_shared"`
}

type RegisteredFileRef struct {
	FileID   string `json:"file_id"`
	Filename string `json:"filename"`
	Reason   string `json:"reason,omitempty"`
}

type RegisterFilesResult struct {
	SessionID       string              `json:"session_id"`
	RegisteredFiles []RegisteredFileRef `json:"registered_files"`
	ReusedFiles     []RegisteredFileRef `json:"reused_files"`
	TotalFiles      int                 `json:"total_files_in_session"`
}

// RegisterCourses validates and replaces the session's course list. All
// inputs are validated before any mutation so a bad item persists nothing.
func (r *FileRegistry) RegisterCourses(ctx context.Context, sessionID string, courses []CourseInput) ([]Course, error) {
	if len(courses) == 0 {
		return nil, validationErrorf("at least one course is required")
	}

	today := time.Now().Format(DateLayout)
	normalized := make([]Course, 0, len(courses))
	seen := map[string]bool{}
	for i, item := range courses {
		courseID := strings.TrimSpace(item.CourseID)
		if courseID == "" {
			courseID = fmt.Sprintf("course_%03d", i+1)
		}
		name := strings.TrimSpace(item.CourseName)
		if name == "" {
			return nil, validationErrorf("course name is required")
		}
		midterm, err := time.Parse(DateLayout, strings.TrimSpace(item.MidtermDate))
		if err != nil {
			return nil, validationErrorf("invalid date format, expected YYYY-MM-DD: %s", item.MidtermDate)
		}
		if midterm.Format(DateLayout) < today {
			return nil, validationErrorf("midterm date must be today or future, got %s (today is %s)", item.MidtermDate, today)
		}
		if seen[courseID] {
			return nil, validationErrorf("duplicate course_id: %s", courseID)
		}
		seen[courseID] = true
		normalized = append(normalized, Course{
			CourseID:    courseID,
			CourseName:  name,
			MidtermDate: midterm.Format(DateLayout),
		})
	}

	state, err := LoadOrCreate(ctx, r.store, sessionID)
	if err != nil {
		return nil, err
	}
	state.Courses = normalized
	state.AppendEvent(actorCoordinator, EventHandoff, fmt.Sprintf("Registered %d courses.", len(normalized)))
	if err := r.store.Save(ctx, state); err != nil {
		return nil, err
	}
	return normalized, nil
}

// RegisterFiles stores uploaded documents once per session, de-duplicating
// by (sha256, size). Re-registering identical bytes returns the existing
// file id without copying.
func (r *FileRegistry) RegisterFiles(ctx context.Context, sessionID string, files []FileInput) (*RegisterFilesResult, error) {
	state, err := LoadOrCreate(ctx, r.store, sessionID)
	if err != nil {
		return nil, err
	}

	filesDir := filepath.Join(r.sessionDir(sessionID), "files")
	if err := os.MkdirAll(filesDir, 0o755); err != nil {
		return nil, fmt.Errorf("create session files dir failed: %w", err)
	}

	type checksumKey struct {
		sum  string
		size int64
	}
	index := map[checksumKey]string{}
	for fileID, meta := range state.FileRegistry {
		index[checksumKey{meta.SHA256, meta.SizeBytes}] = fileID
	}

	result := &RegisterFilesResult{SessionID: sessionID, RegisteredFiles: []RegisteredFileRef{}, ReusedFiles: []RegisteredFileRef{}}
	for _, entry := range files {
		path := strings.TrimSpace(entry.Path)
		if path == "" {
			return nil, validationErrorf("file path is required")
		}
		if strings.ToLower(filepath.Ext(path)) != ".pdf" {
			return nil, validationErrorf("only PDF files are supported: %s", filepath.Base(path))
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, validationErrorf("file not found: %s", path)
		}

		sum, err := fileSHA256(path)
		if err != nil {
			return nil, fmt.Errorf("hash file %s failed: %w", path, err)
		}
		if existingID, ok := index[checksumKey{sum, info.Size()}]; ok {
			result.ReusedFiles = append(result.ReusedFiles, RegisteredFileRef{
				FileID:   existingID,
				Filename: state.FileRegistry[existingID].Filename,
				Reason:   "duplicate_checksum_size",
			})
			continue
		}

		fileID := fmt.Sprintf("file_%03d", len(state.FileRegistry)+1)
		storedPath := filepath.Join(filesDir, fileID+".pdf")
		if err := copyFile(path, storedPath); err != nil {
			return nil, fmt.Errorf("store file %s failed: %w", path, err)
		}

		courseIDs := dedupeSorted(entry.CourseIDs)
		state.FileRegistry[fileID] = &RegisteredFile{
			Filename:           filepath.Base(path),
			ContentType:        "application/pdf",
			SizeBytes:          info.Size(),
			StorageURI:         storedPath,
			SHA256:             sum,
			RegistrationStatus: "registered",
			CourseIDs:          courseIDs,
			IsShared:           entry.IsShared,
		}
		index[checksumKey{sum, info.Size()}] = fileID
		state.Ingestion.Files[fileID] = &FileIngestionState{
			Chunking:     Chunking{Mode: "page_window"},
			FailedChunks: []int{},
			Status:       FileStatusPending,
			ChunkResults: []ChunkResult{},
		}
		result.RegisteredFiles = append(result.RegisteredFiles, RegisteredFileRef{FileID: fileID, Filename: filepath.Base(path)})
	}

	if len(result.RegisteredFiles) > 0 {
		state.Status = StatusIngesting
	}
	refs := make([]string, 0, len(result.RegisteredFiles))
	for _, item := range result.RegisteredFiles {
		refs = append(refs, item.FileID)
	}
	state.AppendEvent(actorIngestion, EventHandoff,
		fmt.Sprintf("Registered %d files, reused %d files.", len(result.RegisteredFiles), len(result.ReusedFiles)), refs...)
	if err := r.store.Save(ctx, state); err != nil {
		return nil, err
	}
	result.TotalFiles = len(state.FileRegistry)
	return result, nil
}

// LinkFiles updates course mapping for already-registered files. A file must
// resolve to at least one course or be marked shared before ingestion can
// attribute evidence.
func (r *FileRegistry) LinkFiles(ctx context.Context, sessionID string, mappings []LinkInput) ([]string, error) {
	state, err := MustLoad(ctx, r.store, sessionID)
	if err != nil {
		return nil, err
	}
	if len(state.FileRegistry) == 0 {
		return nil, validationErrorf("no registered files found for this session")
	}
	if len(mappings) == 0 {
		return nil, validationErrorf("at least one mapping item is required")
	}

	byFilename := map[string]string{}
	for fileID, meta := range state.FileRegistry {
		byFilename[meta.Filename] = fileID
	}

	updated := map[string]bool{}
	for _, item := range mappings {
		fileID := strings.TrimSpace(item.FileID)
		if fileID == "" {
			fileID = byFilename[strings.TrimSpace(item.Filename)]
		}
		meta, ok := state.FileRegistry[fileID]
		if !ok {
			return nil, validationErrorf("unknown file reference in mapping: %s%s", item.FileID, item.Filename)
		}
		courseIDs := dedupeSorted(item.CourseIDs)
		if len(courseIDs) == 0 && !item.IsShared {
			return nil, validationErrorf("file %s must map to at least one course or be marked shared", fileID)
		}
		meta.CourseIDs = courseIDs
		meta.IsShared = item.IsShared
		updated[fileID] = true
	}

	ids := make([]string, 0, len(updated))
	for fileID := range updated {
		ids = append(ids, fileID)
	}
	sort.Strings(ids)
	state.AppendEvent(actorIngestion, EventHandoff, fmt.Sprintf("Linked %d files to courses.", len(ids)), ids...)
	if err := r.store.Save(ctx, state); err != nil {
		return nil, err
	}
	return ids, nil
}

// TargetCourseIDs resolves the courses a file's evidence is attributed to:
// explicit links first, every registered course when shared, otherwise the
// synthetic shared bucket.
func TargetCourseIDs(meta *RegisteredFile, state *SessionState) []string {
	if len(meta.CourseIDs) > 0 {
		return dedupeSorted(meta.CourseIDs)
	}
	if meta.IsShared {
		all := make([]string, 0, len(state.Courses))
		for _, c := range state.Courses {
			if c.CourseID != "" {
				all = append(all, c.CourseID)
			}
		}
		if len(all) > 0 {
			return dedupeSorted(all)
		}
	}
	return []string{SharedCourseID}
}

func (r *FileRegistry) sessionDir(sessionID string) string {
	return filepath.Join(r.artifactsDir, "sessions", sessionID)
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func dedupeSorted(items []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	sort.Strings(out)
	return out
}
