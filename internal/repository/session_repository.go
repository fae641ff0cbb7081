package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"examplanner/internal/model"
	"examplanner/internal/planner"
)

// SessionRepository persists planner session documents as JSON rows.
// It implements planner.SessionStore.
type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Load(ctx context.Context, sessionID string) (*planner.SessionState, bool, error) {
	var record model.SessionRecord
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("query session failed: %w", err)
	}

	var state planner.SessionState
	if err := json.Unmarshal(record.Document, &state); err != nil {
		return nil, false, fmt.Errorf("decode session document failed: %w", err)
	}
	return &state, true, nil
}

func (r *SessionRepository) Save(ctx context.Context, state *planner.SessionState) error {
	state.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	document, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode session document failed: %w", err)
	}

	record := model.SessionRecord{
		SessionID: state.SessionID,
		Status:    state.Status,
		Document:  document,
	}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "document", "updated_at"}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("save session failed: %w", err)
	}
	return nil
}
