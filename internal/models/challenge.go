package models

import (
	"time"

	"gorm.io/gorm"
)

// ChallengeRecord is the durable audit row written when a challenge is
// issued. The live solution never reaches Postgres; only a hash of the
// token and the rendering metadata are kept.
type ChallengeRecord struct {
	ID         uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	TokenHash  string         `gorm:"size:64;uniqueIndex" json:"token_hash"` // SHA-256 of the opaque token
	ImageID    string         `gorm:"size:36;index" json:"image_id"`         // Cache-busting image identifier
	ShapeCount int            `gorm:"default:0" json:"shape_count"`
	TargetKind string         `gorm:"size:20" json:"target_kind"` // bite, star, diamond, crescent
	ExpiresAt  time.Time      `json:"expires_at"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// ValidationAttempt records one click validation against a challenge.
// Click coordinates are stored for abuse analysis; the solution center is
// not, so these rows never leak a still-live solution.
type ValidationAttempt struct {
	ID        uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	TokenHash string         `gorm:"size:64;index" json:"token_hash"`
	ClickX    int            `json:"click_x"`
	ClickY    int            `json:"click_y"`
	Success   bool           `gorm:"default:false" json:"success"`
	Exhausted bool           `gorm:"default:false" json:"exhausted"` // Attempt budget spent by this click
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}
