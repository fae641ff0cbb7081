package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"examplanner/internal/model"
)

type CollabEventRepository struct {
	db *gorm.DB
}

func NewCollabEventRepository(db *gorm.DB) *CollabEventRepository {
	return &CollabEventRepository{db: db}
}

func (r *CollabEventRepository) Create(ctx context.Context, event *model.CollabEvent) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("create collab event failed: %w", err)
	}
	return nil
}

func (r *CollabEventRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]model.CollabEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	var events []model.CollabEvent
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("timestamp ASC, id ASC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("query collab events failed: %w", err)
	}
	return events, nil
}
