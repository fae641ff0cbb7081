package app

import (
	"context"
	"errors"
	"testing"

	"examplanner/internal/model"
	"examplanner/internal/planner"
	"examplanner/internal/platform/logger"
)

type fakeLock struct {
	acquireErr error
	acquired   int
	released   int
}

func (f *fakeLock) Acquire(context.Context, string) error {
	f.acquired++
	return f.acquireErr
}

func (f *fakeLock) Release(context.Context, string) error {
	f.released++
	return nil
}

type fakePublisher struct {
	events []model.CollabEvent
}

func (f *fakePublisher) Publish(_ context.Context, event model.CollabEvent) error {
	f.events = append(f.events, event)
	return nil
}

func newStageTestService(store planner.SessionStore, lock *fakeLock, pub *fakePublisher) *PlannerService {
	return NewPlannerService(PlannerServiceDeps{
		Store:  store,
		Lock:   lock,
		Events: pub,
		Logger: logger.NewNop(),
	})
}

func seedServiceSession(t *testing.T, store planner.SessionStore) string {
	t.Helper()
	if _, err := planner.LoadOrCreate(context.Background(), store, "s1"); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return "s1"
}

func TestRunStageRecordsRetryableFailure(t *testing.T) {
	store := planner.NewMemoryStore()
	lock := &fakeLock{}
	pub := &fakePublisher{}
	service := newStageTestService(store, lock, pub)
	sessionID := seedServiceSession(t, store)

	stageFault := errors.New("topic extraction failed: 429 rate limit exceeded")
	err := service.runStage(context.Background(), sessionID, "ingestion", func(context.Context) error {
		return stageFault
	})

	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("expected StageError, got %v", err)
	}
	if stageErr.Stage != "ingestion" || !stageErr.Retryable {
		t.Fatalf("unexpected classification: %+v", stageErr)
	}
	if !errors.Is(err, stageFault) {
		t.Fatalf("underlying cause not preserved: %v", err)
	}

	state, err := planner.MustLoad(context.Background(), store, sessionID)
	if err != nil {
		t.Fatalf("reload session: %v", err)
	}
	if len(state.Events) == 0 {
		t.Fatalf("failure not recorded in the session document")
	}
	last := state.Events[len(state.Events)-1]
	if last.EventType != planner.EventError || last.Actor != "ingestion" {
		t.Fatalf("unexpected failure event: %+v", last)
	}

	if len(pub.events) == 0 || pub.events[len(pub.events)-1].EventType != planner.EventError {
		t.Fatalf("failure event not mirrored to the durable log: %+v", pub.events)
	}
	if lock.released != 1 {
		t.Fatalf("lock not released after failure")
	}
}

func TestRunStageClassifiesPermanentFailure(t *testing.T) {
	store := planner.NewMemoryStore()
	service := newStageTestService(store, &fakeLock{}, &fakePublisher{})
	sessionID := seedServiceSession(t, store)

	err := service.runStage(context.Background(), sessionID, "registry", func(context.Context) error {
		return errors.New("midterm_date must not be in the past")
	})

	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("expected StageError, got %v", err)
	}
	if stageErr.Retryable {
		t.Fatalf("validation fault must not be retryable: %+v", stageErr)
	}
}

func TestRunStageMirrorsDocumentEvents(t *testing.T) {
	store := planner.NewMemoryStore()
	pub := &fakePublisher{}
	service := newStageTestService(store, &fakeLock{}, pub)
	sessionID := seedServiceSession(t, store)
	ctx := context.Background()

	err := service.runStage(ctx, sessionID, "estimation", func(ctx context.Context) error {
		state, err := planner.MustLoad(ctx, store, sessionID)
		if err != nil {
			return err
		}
		state.AppendEvent("estimation", planner.EventComplete, "Generated 3 workload estimates.")
		return store.Save(ctx, state)
	})
	if err != nil {
		t.Fatalf("stage run: %v", err)
	}

	if len(pub.events) != 1 {
		t.Fatalf("published %d events, want 1", len(pub.events))
	}
	if pub.events[0].EventType != planner.EventComplete || pub.events[0].Actor != "estimation" {
		t.Fatalf("unexpected mirrored event: %+v", pub.events[0])
	}
}

func TestRunStageReturnsLockErrorBeforeRunning(t *testing.T) {
	store := planner.NewMemoryStore()
	busy := errors.New("session busy")
	lock := &fakeLock{acquireErr: busy}
	service := newStageTestService(store, lock, &fakePublisher{})

	ran := false
	err := service.runStage(context.Background(), "s1", "planner", func(context.Context) error {
		ran = true
		return nil
	})
	if !errors.Is(err, busy) {
		t.Fatalf("expected lock error, got %v", err)
	}
	if ran {
		t.Fatalf("stage must not run when the lock is held")
	}
	if lock.released != 0 {
		t.Fatalf("lock must not be released when it was never acquired")
	}
}
