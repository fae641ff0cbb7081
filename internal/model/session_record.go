package model

import (
	"time"

	"gorm.io/datatypes"
)

// SessionRecord stores one planner session as a single JSON document.
// The pipeline reads and writes the whole document per stage, so the
// row doubles as the unit of durability for crash recovery.
type SessionRecord struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	SessionID string         `gorm:"size:64;not null;uniqueIndex" json:"session_id"`
	Status    string         `gorm:"size:32;not null" json:"status"`
	Document  datatypes.JSON `gorm:"type:json;not null" json:"document"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}
