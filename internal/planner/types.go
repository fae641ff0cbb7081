package planner

import "time"

// DateLayout is the wire format for all calendar dates in the session document.
const DateLayout = "2006-01-02"

// Session lifecycle statuses.
const (
	StatusCollectingInputs = "collecting_inputs"
	StatusIngesting        = "ingesting"
	StatusPlanning         = "planning"
	StatusReviewing        = "reviewing"
	StatusCompleted        = "completed"
)

// Per-file ingestion statuses.
const (
	FileStatusPending  = "pending"
	FileStatusPartial  = "partial"
	FileStatusComplete = "complete"
	FileStatusFailed   = "failed"
)

// Per-chunk statuses.
const (
	ChunkStatusEmpty    = "empty"
	ChunkStatusComplete = "complete"
	ChunkStatusFailed   = "failed"
)

// Review verdicts.
const (
	VerdictApproved        = "approved_plan"
	VerdictCapacityLimited = "capacity_limited_plan"
	VerdictNeedsRevision   = "needs_revision"
)

// Collaboration event kinds.
const (
	EventInvoke   = "invoke"
	EventHandoff  = "handoff"
	EventReview   = "review"
	EventRevision = "revision"
	EventComplete = "complete"
	EventError    = "error"
)

// SharedCourseID is the synthetic bucket for files that are marked shared
// while no courses are registered yet.
const SharedCourseID = "shared"

type Course struct {
	CourseID    string `json:"course_id"`
	CourseName  string `json:"course_name"`
	MidtermDate string `json:"midterm_date"`
}

type RegisteredFile struct {
	Filename           string   `json:"filename"`
	ContentType        string   `json:"content_type"`
	SizeBytes          int64    `json:"size_bytes"`
	StorageURI         string   `json:"storage_uri"`
	SHA256             string   `json:"sha256"`
	RegistrationStatus string   `json:"registration_status"`
	CourseIDs          []string `json:"course_ids"`
	IsShared           bool     `json:"is_shared"`
}

type TopicCandidate struct {
	Topic           string `json:"topic"`
	EvidenceSummary string `json:"evidence_summary"`
}

type ChunkResult struct {
	ChunkID   string           `json:"chunk_id"`
	PageStart int              `json:"page_start"`
	PageEnd   int              `json:"page_end"`
	Topics    []TopicCandidate `json:"topics"`
	Status    string           `json:"status"`
}

type Chunking struct {
	Mode             string `json:"mode"`
	MaxPagesPerChunk int    `json:"max_pages_per_chunk"`
	TotalChunks      int    `json:"total_chunks"`
}

type FileIngestionState struct {
	Chunking        Chunking           `json:"chunking"`
	ProcessedChunks int                `json:"processed_chunks"`
	FailedChunks    []int              `json:"failed_chunks"`
	Status          string             `json:"status"`
	LastError       string             `json:"last_error"`
	ChunkResults    []ChunkResult      `json:"chunk_results"`
	TopicEvidence   []RawTopicEvidence `json:"topic_evidence,omitempty"`
}

// RawTopicEvidence is one topic occurrence as produced by a single chunk,
// attributed to the file's target courses but not yet de-duplicated.
type RawTopicEvidence struct {
	CourseIDs       []string `json:"course_ids"`
	Topic           string   `json:"topic"`
	EvidenceSummary string   `json:"evidence_summary"`
	SourceFiles     []string `json:"source_files"`
	SourceChunks    []string `json:"source_chunks"`
}

// TopicEvidence is one merged evidence row keyed by (course, normalized topic).
type TopicEvidence struct {
	CourseID        string   `json:"course_id"`
	Topic           string   `json:"topic"`
	NormalizedTopic string   `json:"normalized_topic"`
	EvidenceSummary string   `json:"evidence_summary"`
	SourceFiles     []string `json:"source_files"`
	SourceChunks    []string `json:"source_chunks"`
}

type TopicEstimate struct {
	CourseID         string   `json:"course_id"`
	Topic            string   `json:"topic"`
	EstimatedMinutes int      `json:"estimated_minutes"`
	Priority         string   `json:"priority"`
	Confidence       float64  `json:"confidence"`
	Rationale        string   `json:"rationale"`
	SourceFiles      []string `json:"source_files"`
}

type PlanRow struct {
	Date             string   `json:"date"`
	Course           string   `json:"course"`
	Topic            string   `json:"topic"`
	TaskDescription  string   `json:"task_description"`
	EstimatedMinutes int      `json:"estimated_minutes"`
	Priority         string   `json:"priority"`
	SourceFiles      []string `json:"source_files"`
	Status           string   `json:"status"`
}

type ValidationReport struct {
	CoverageOK                bool `json:"coverage_ok"`
	DateRangeOK               bool `json:"date_range_ok"`
	LoadBalanceOK             bool `json:"load_balance_ok"`
	DeadlineOK                bool `json:"deadline_ok"`
	TotalEstimatedMinutes     int  `json:"total_estimated_minutes"`
	TotalPlannedMinutes       int  `json:"total_planned_minutes"`
	TotalAvailableMinutes     int  `json:"total_available_minutes"`
	CapacityShortfallMinutes  int  `json:"capacity_shortfall_minutes"`
	CapacityShortfallDetected bool `json:"capacity_shortfall_detected"`
}

type ReviewOutcome struct {
	ResultType               string           `json:"result_type"`
	RevisionReasons          []string         `json:"revision_reasons"`
	ValidationReport         ValidationReport `json:"validation_report"`
	RevisionRounds           int              `json:"revision_rounds"`
	EffectiveDailyCapMinutes int              `json:"effective_daily_study_cap_minutes"`
}

type Event struct {
	Timestamp    string   `json:"timestamp"`
	SessionID    string   `json:"session_id"`
	Actor        string   `json:"actor"`
	EventType    string   `json:"event_type"`
	Summary      string   `json:"summary"`
	ArtifactRefs []string `json:"artifact_refs"`
}

type IngestionState struct {
	Files               map[string]*FileIngestionState `json:"files"`
	CourseTopicEvidence []TopicEvidence                `json:"course_topic_evidence"`
}

type EstimationState struct {
	TopicEstimates   []TopicEstimate `json:"topic_estimates"`
	UncertaintyFlags []string        `json:"uncertainty_flags"`
}

type PlanningState struct {
	PlanVersion     int            `json:"plan_version"`
	LastMidtermDate string         `json:"last_midterm_date"`
	PlanRows        []PlanRow      `json:"plan_rows"`
	Warnings        []string       `json:"warnings"`
	Review          *ReviewOutcome `json:"review,omitempty"`
}

// SessionState is the whole persisted session document. It is the single
// source of truth every pipeline stage mutates through load-modify-save.
type SessionState struct {
	SessionID    string                     `json:"session_id"`
	CreatedAt    string                     `json:"created_at"`
	UpdatedAt    string                     `json:"updated_at"`
	Status       string                     `json:"status"`
	Courses      []Course                   `json:"courses"`
	FileRegistry map[string]*RegisteredFile `json:"file_registry"`
	Ingestion    IngestionState             `json:"ingestion_state"`
	Estimation   EstimationState            `json:"estimation_state"`
	Planning     PlanningState              `json:"planning_state"`
	Artifacts    map[string]string          `json:"artifacts"`
	Events       []Event                    `json:"events"`
}

// NewSessionState builds the default empty document for a first touch.
func NewSessionState(sessionID string, now time.Time) *SessionState {
	ts := now.UTC().Format(time.RFC3339)
	return &SessionState{
		SessionID:    sessionID,
		CreatedAt:    ts,
		UpdatedAt:    ts,
		Status:       StatusCollectingInputs,
		Courses:      []Course{},
		FileRegistry: map[string]*RegisteredFile{},
		Ingestion: IngestionState{
			Files:               map[string]*FileIngestionState{},
			CourseTopicEvidence: []TopicEvidence{},
		},
		Artifacts: map[string]string{},
		Events:    []Event{},
	}
}

// AppendEvent records one collaboration event in the session document.
func (s *SessionState) AppendEvent(actor, eventType, summary string, artifactRefs ...string) {
	if artifactRefs == nil {
		artifactRefs = []string{}
	}
	s.Events = append(s.Events, Event{
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		SessionID:    s.SessionID,
		Actor:        actor,
		EventType:    eventType,
		Summary:      summary,
		ArtifactRefs: artifactRefs,
	})
}

// CourseByID returns the registered course with the given id, if any.
func (s *SessionState) CourseByID(courseID string) (Course, bool) {
	for _, c := range s.Courses {
		if c.CourseID == courseID {
			return c, true
		}
	}
	return Course{}, false
}

// LastMidterm returns the latest midterm date across registered courses.
func (s *SessionState) LastMidterm() (time.Time, error) {
	if len(s.Courses) == 0 {
		return time.Time{}, &ValidationError{Msg: "no courses registered for this session"}
	}
	var last time.Time
	for _, c := range s.Courses {
		d, err := time.Parse(DateLayout, c.MidtermDate)
		if err != nil {
			return time.Time{}, &ValidationError{Msg: "invalid midterm date on course " + c.CourseID + ": " + c.MidtermDate}
		}
		if d.After(last) {
			last = d
		}
	}
	return last, nil
}
