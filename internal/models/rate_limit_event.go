package models

import (
	"time"

	"gorm.io/gorm"
)

// RateLimitEvent records a denied admission check. Identity is the hashed
// session identifier, never a network address; the triggering window is kept
// for operators and stays out of user-facing responses.
type RateLimitEvent struct {
	ID            uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	EventID       string         `gorm:"size:36;uniqueIndex" json:"event_id"`
	IdentityHash  string         `gorm:"size:64;index" json:"identity_hash"`
	EndpointClass string         `gorm:"size:30;index" json:"endpoint_class"`
	WindowSeconds int            `json:"window_seconds"` // Window that triggered the denial
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}
