package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// SessionStore is the single persistence boundary for session documents.
// Load returns found=false when no document exists for the id; Save stamps
// UpdatedAt and replaces the whole document. Callers serialize runs per
// session id; the store does no optimistic-concurrency versioning.
type SessionStore interface {
	Load(ctx context.Context, sessionID string) (*SessionState, bool, error)
	Save(ctx context.Context, state *SessionState) error
}

// LoadOrCreate returns the existing document or a fresh default one, which
// it persists immediately so the session exists from first touch.
func LoadOrCreate(ctx context.Context, store SessionStore, sessionID string) (*SessionState, error) {
	state, found, err := store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if found {
		return state, nil
	}
	state = NewSessionState(sessionID, time.Now())
	if err := store.Save(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

// MustLoad returns the existing document or ErrSessionNotFound.
func MustLoad(ctx context.Context, store SessionStore, sessionID string) (*SessionState, error) {
	state, found, err := store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return state, nil
}

// MemoryStore keeps session documents in memory. It backs tests and
// single-process runs without a database.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: map[string][]byte{}}
}

func (s *MemoryStore) Load(_ context.Context, sessionID string) (*SessionState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.sessions[sessionID]
	if !ok {
		return nil, false, nil
	}
	var state SessionState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, false, fmt.Errorf("decode session document failed: %w", err)
	}
	return &state, true, nil
}

func (s *MemoryStore) Save(_ context.Context, state *SessionState) error {
	state.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode session document failed: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[state.SessionID] = raw
	return nil
}
