package logics

import (
	"time"

	"gorm.io/gorm"

	"gatekeeper-server/configs"
	"gatekeeper-server/internal/store"
)

// Global service instances, wired once at startup after configs and
// repositories are initialized.
var (
	AuditSvc     *AuditLogService
	CaptchaSvc   *CaptchaService
	RateLimitSvc *RateLimitService
	ClearanceSvc *ClearanceService
	PowSvc       *PowService
)

// Init constructs the service singletons from the loaded configuration.
func Init(kv store.Store, db *gorm.DB) {
	cfg := configs.Configs

	AuditSvc = NewAuditLogService(db, configs.Logger)
	CaptchaSvc = NewCaptchaService(cfg.Captcha, kv, AuditSvc, configs.Logger)
	RateLimitSvc = NewRateLimitService(cfg.RateLimit, kv, AuditSvc, configs.Logger)
	ClearanceSvc = NewClearanceService(
		cfg.Secrets.ClearanceSecret,
		time.Duration(cfg.RateLimit.ClearanceExpireMin)*time.Minute,
	)
	PowSvc = NewPowService(
		cfg.Secrets.PowSecret,
		cfg.RateLimit.PowDifficulty,
		time.Duration(cfg.RateLimit.PowExpireSeconds)*time.Second,
	)
}
