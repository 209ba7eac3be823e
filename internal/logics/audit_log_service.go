package logics

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"gatekeeper-server/internal/models"
)

// AuditLogService writes durable security audit rows. Failures to audit are
// logged but never fail the guarded operation. A nil db disables persistence
// entirely, which is how the unit tests run.
type AuditLogService struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewAuditLogService(db *gorm.DB, logger *zap.Logger) *AuditLogService {
	return &AuditLogService{db: db, logger: logger}
}

func (s *AuditLogService) RecordChallengeIssued(tokenHash, imageID string, shapeCount int, targetKind string, expiresAt time.Time) {
	if s == nil || s.db == nil {
		return
	}
	record := &models.ChallengeRecord{
		TokenHash:  tokenHash,
		ImageID:    imageID,
		ShapeCount: shapeCount,
		TargetKind: targetKind,
		ExpiresAt:  expiresAt,
	}
	if err := s.db.Create(record).Error; err != nil {
		s.logger.Error("Failed to record issued challenge", zap.Error(err))
	}
}

func (s *AuditLogService) RecordValidation(tokenHash string, clickX, clickY int, success, exhausted bool) {
	if s == nil || s.db == nil {
		return
	}
	attempt := &models.ValidationAttempt{
		TokenHash: tokenHash,
		ClickX:    clickX,
		ClickY:    clickY,
		Success:   success,
		Exhausted: exhausted,
	}
	if err := s.db.Create(attempt).Error; err != nil {
		s.logger.Error("Failed to record validation attempt", zap.Error(err))
	}
}

func (s *AuditLogService) RecordRateLimitEvent(identityHash, class string, windowSeconds int) {
	if s == nil || s.db == nil {
		return
	}
	event := &models.RateLimitEvent{
		EventID:       uuid.NewString(),
		IdentityHash:  identityHash,
		EndpointClass: class,
		WindowSeconds: windowSeconds,
	}
	if err := s.db.Create(event).Error; err != nil {
		s.logger.Error("Failed to record rate limit event", zap.Error(err))
	}
}
