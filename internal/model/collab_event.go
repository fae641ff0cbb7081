package model

import (
	"time"

	"gorm.io/datatypes"
)

// CollabEvent is the durable copy of a pipeline log entry, persisted
// asynchronously so stage latency is not coupled to MySQL writes.
type CollabEvent struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	SessionID    string         `gorm:"size:64;not null;index" json:"session_id"`
	Actor        string         `gorm:"size:32;not null" json:"actor"`
	EventType    string         `gorm:"size:32;not null" json:"event_type"`
	Summary      string         `gorm:"size:512;not null" json:"summary"`
	ArtifactRefs datatypes.JSON `gorm:"type:json" json:"artifact_refs"`
	Timestamp    time.Time      `gorm:"not null" json:"timestamp"`
	CreatedAt    time.Time      `json:"created_at"`
}
