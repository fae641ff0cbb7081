package app

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"examplanner/internal/ai"
	"examplanner/internal/config"
	"examplanner/internal/model"
	"examplanner/internal/planner"
	"examplanner/internal/platform/logger"
	"examplanner/internal/repository"
)

// SessionLocker serializes pipeline runs per session id.
type SessionLocker interface {
	Acquire(ctx context.Context, sessionID string) error
	Release(ctx context.Context, sessionID string) error
}

// EventPublisher ships collaboration events to the durable log.
type EventPublisher interface {
	Publish(ctx context.Context, event model.CollabEvent) error
}

// PlannerService orchestrates the study-plan pipeline. Each mutating
// call runs under a per-session Redis lock so concurrent requests
// against one session cannot interleave stage writes.
type PlannerService struct {
	store      planner.SessionStore
	registry   *planner.FileRegistry
	extractor  *planner.ChunkedExtractor
	estimation *planner.EstimationStage
	scheduler  *planner.Scheduler
	review     *planner.ReviewLoop
	exporter   *planner.Exporter
	lock       SessionLocker
	events     EventPublisher
	eventRepo  *repository.CollabEventRepository
	cfg        config.PlannerConfig
	log        *logger.Logger
}

type PlannerServiceDeps struct {
	Store      planner.SessionStore
	Registry   *planner.FileRegistry
	Extractor  *planner.ChunkedExtractor
	Estimation *planner.EstimationStage
	Scheduler  *planner.Scheduler
	Review     *planner.ReviewLoop
	Exporter   *planner.Exporter
	Lock       SessionLocker
	Events     EventPublisher
	EventRepo  *repository.CollabEventRepository
	Config     config.PlannerConfig
	Logger     *logger.Logger
}

func NewPlannerService(deps PlannerServiceDeps) *PlannerService {
	return &PlannerService{
		store:      deps.Store,
		registry:   deps.Registry,
		extractor:  deps.Extractor,
		estimation: deps.Estimation,
		scheduler:  deps.Scheduler,
		review:     deps.Review,
		exporter:   deps.Exporter,
		lock:       deps.Lock,
		events:     deps.Events,
		eventRepo:  deps.EventRepo,
		cfg:        deps.Config,
		log:        deps.Logger,
	}
}

func (s *PlannerService) CreateSession(ctx context.Context) (*planner.SessionState, error) {
	sessionID := uuid.NewString()
	state, err := planner.LoadOrCreate(ctx, s.store, sessionID)
	if err != nil {
		return nil, err
	}
	s.log.Info("session created", "session_id", sessionID)
	return state, nil
}

func (s *PlannerService) GetSession(ctx context.Context, sessionID string) (*planner.SessionState, error) {
	return planner.MustLoad(ctx, s.store, sessionID)
}

// ListEvents returns the durable copy of the collaboration log. The
// queue worker persists entries asynchronously, so immediately after a
// stage the listing may trail the session document by a moment.
func (s *PlannerService) ListEvents(ctx context.Context, sessionID string, limit int) ([]model.CollabEvent, error) {
	if _, err := planner.MustLoad(ctx, s.store, sessionID); err != nil {
		return nil, err
	}
	return s.eventRepo.ListBySession(ctx, sessionID, limit)
}

func (s *PlannerService) RegisterCourses(ctx context.Context, sessionID string, courses []planner.CourseInput) ([]planner.Course, error) {
	var result []planner.Course
	err := s.runStage(ctx, sessionID, "registry", func(ctx context.Context) error {
		var err error
		result, err = s.registry.RegisterCourses(ctx, sessionID, courses)
		return err
	})
	return result, err
}

func (s *PlannerService) RegisterFiles(ctx context.Context, sessionID string, files []planner.FileInput) (*planner.RegisterFilesResult, error) {
	var result *planner.RegisterFilesResult
	err := s.runStage(ctx, sessionID, "registry", func(ctx context.Context) error {
		var err error
		result, err = s.registry.RegisterFiles(ctx, sessionID, files)
		return err
	})
	return result, err
}

func (s *PlannerService) LinkFiles(ctx context.Context, sessionID string, mappings []planner.LinkInput) ([]string, error) {
	var linked []string
	err := s.runStage(ctx, sessionID, "registry", func(ctx context.Context) error {
		var err error
		linked, err = s.registry.LinkFiles(ctx, sessionID, mappings)
		return err
	})
	return linked, err
}

func (s *PlannerService) RunIngestion(ctx context.Context, sessionID string, opts planner.IngestOptions) (*planner.IngestSummary, error) {
	var summary *planner.IngestSummary
	err := s.runStage(ctx, sessionID, "ingestion", func(ctx context.Context) error {
		var err error
		summary, err = s.extractor.Run(ctx, sessionID, opts)
		return err
	})
	return summary, err
}

func (s *PlannerService) RunEstimation(ctx context.Context, sessionID string, force bool) (*planner.EstimationSummary, error) {
	var summary *planner.EstimationSummary
	err := s.runStage(ctx, sessionID, "estimation", func(ctx context.Context) error {
		var err error
		summary, err = s.estimation.Run(ctx, sessionID, force)
		return err
	})
	return summary, err
}

func (s *PlannerService) RunPlanning(ctx context.Context, sessionID string, force bool) (*planner.PlanSummary, error) {
	var summary *planner.PlanSummary
	err := s.runStage(ctx, sessionID, "planner", func(ctx context.Context) error {
		var err error
		summary, err = s.scheduler.BuildPlan(ctx, sessionID, time.Now(), s.scheduleConfig(), force)
		return err
	})
	return summary, err
}

func (s *PlannerService) RunReview(ctx context.Context, sessionID string, allowAutoRevision bool) (*planner.ReviewOutcome, error) {
	var outcome *planner.ReviewOutcome
	err := s.runStage(ctx, sessionID, "reviewer", func(ctx context.Context) error {
		var err error
		outcome, err = s.review.Run(ctx, sessionID, time.Now(), s.cfg.DailyCapMinutes, allowAutoRevision)
		return err
	})
	return outcome, err
}

func (s *PlannerService) RunExport(ctx context.Context, sessionID string, overwrite bool) (*planner.ExportResult, error) {
	var result *planner.ExportResult
	err := s.runStage(ctx, sessionID, "exporter", func(ctx context.Context) error {
		var err error
		result, err = s.exporter.Export(ctx, sessionID, overwrite)
		return err
	})
	return result, err
}

func (s *PlannerService) scheduleConfig() planner.ScheduleConfig {
	return planner.ScheduleConfig{
		DailyCapMinutes: s.cfg.DailyCapMinutes,
		MinBlockMinutes: s.cfg.MinBlockMinutes,
		MaxBlockMinutes: s.cfg.MaxBlockMinutes,
	}
}

// runStage wraps a pipeline stage with the session lock and mirrors the
// document events the stage appended out to the broker. A stage failure
// is recorded as an error event in the session document first, so both
// the document and the durable log carry it, and is returned as a
// StageError classifying whether a retry can succeed.
func (s *PlannerService) runStage(ctx context.Context, sessionID, actor string, fn func(ctx context.Context) error) error {
	if err := s.lock.Acquire(ctx, sessionID); err != nil {
		return err
	}
	defer func() {
		if err := s.lock.Release(ctx, sessionID); err != nil {
			s.log.Warn("release session lock failed", "session_id", sessionID, "error", err)
		}
	}()

	priorEvents := s.eventCount(ctx, sessionID)

	stageErr := fn(ctx)
	if stageErr != nil {
		s.recordFailure(ctx, sessionID, actor, stageErr)
	}

	s.publishNewEvents(ctx, sessionID, priorEvents)
	if stageErr != nil {
		return &StageError{Stage: actor, Retryable: ai.IsTransient(stageErr), Err: stageErr}
	}
	return nil
}

// recordFailure appends the stage failure to the session document so the
// collaboration trace keeps it alongside the stage's own events. A session
// that was never persisted has no document to record into.
func (s *PlannerService) recordFailure(ctx context.Context, sessionID, actor string, stageErr error) {
	state, found, err := s.store.Load(ctx, sessionID)
	if err != nil || !found {
		return
	}
	state.AppendEvent(actor, planner.EventError, stageErr.Error())
	if err := s.store.Save(ctx, state); err != nil {
		s.log.Warn("record stage failure failed", "session_id", sessionID, "error", err)
	}
}

func (s *PlannerService) eventCount(ctx context.Context, sessionID string) int {
	state, found, err := s.store.Load(ctx, sessionID)
	if err != nil || !found {
		return 0
	}
	return len(state.Events)
}

func (s *PlannerService) publishNewEvents(ctx context.Context, sessionID string, priorCount int) {
	state, found, err := s.store.Load(ctx, sessionID)
	if err != nil || !found {
		return
	}
	for _, event := range state.Events[min(priorCount, len(state.Events)):] {
		timestamp, err := time.Parse(time.RFC3339, event.Timestamp)
		if err != nil {
			timestamp = time.Now().UTC()
		}
		refs, _ := json.Marshal(event.ArtifactRefs)
		s.publishEvent(ctx, model.CollabEvent{
			SessionID:    sessionID,
			Actor:        event.Actor,
			EventType:    event.EventType,
			Summary:      event.Summary,
			ArtifactRefs: datatypes.JSON(refs),
			Timestamp:    timestamp,
		})
	}
}

func (s *PlannerService) publishEvent(ctx context.Context, event model.CollabEvent) {
	if err := s.events.Publish(ctx, event); err != nil {
		s.log.Warn("publish collab event failed",
			"session_id", event.SessionID,
			"event_type", event.EventType,
			"error", err,
		)
	}
}
