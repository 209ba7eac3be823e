package logics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"gatekeeper-server/configs"
	"gatekeeper-server/internal/store"
)

// Endpoint class names. Unknown paths fall back to ClassGeneral.
const (
	ClassGeneral      = "general"
	ClassLogin        = "login"
	ClassRegistration = "registration"
	ClassWithdrawal   = "withdrawal"
)

// RateLimitService is session-keyed admission control over fixed time
// windows. Identities are opaque session identifiers, never network
// addresses: behind Tor an IP says nothing about a client and keying on it
// would punish strangers sharing an exit.
type RateLimitService struct {
	cfg    configs.RateLimitConfig
	kv     store.Store
	audit  *AuditLogService
	logger *zap.Logger
	now    func() time.Time
}

func NewRateLimitService(cfg configs.RateLimitConfig, kv store.Store, audit *AuditLogService, logger *zap.Logger) *RateLimitService {
	return &RateLimitService{
		cfg:    cfg,
		kv:     kv,
		audit:  audit,
		logger: logger,
		now:    time.Now,
	}
}

// Decision is the outcome of an admission check. TriggeredWindow is filled
// on denial for operator logs; it must not reach the client response.
type Decision struct {
	Allowed         bool
	Class           string
	TriggeredWindow int // seconds; 0 unless denied by a window limit
}

// windowKey buckets a counter by fixed window: all requests inside the same
// window span share one key, and the span's start is part of the key so the
// counter resets naturally on rollover.
func windowKey(class, identityHash string, windowSeconds int, now time.Time) string {
	bucket := now.Unix() / int64(windowSeconds)
	return fmt.Sprintf("rl:%s:%ds:%d:%s", class, windowSeconds, bucket, identityHash)
}

// hashIdentity gives the key-safe, log-safe form of a session identifier.
func hashIdentity(identity string) string {
	sum := sha256.Sum256([]byte(identity))
	return hex.EncodeToString(sum[:])
}

// CheckAndIncrement applies every configured window for the endpoint class.
// All windows are peeked before any is incremented, so a denied request
// leaves no partial counts behind. When the store is down the class's fail
// mode decides: open admits, closed denies.
func (s *RateLimitService) CheckAndIncrement(ctx context.Context, identity, class string) (*Decision, error) {
	if !s.cfg.Enabled {
		return &Decision{Allowed: true, Class: class}, nil
	}

	classCfg, ok := s.cfg.Classes[class]
	if !ok {
		class = ClassGeneral
		classCfg = s.cfg.Classes[ClassGeneral]
	}

	idHash := hashIdentity(identity)
	now := s.now()

	for _, w := range classCfg.Windows {
		count, err := s.kv.Count(ctx, windowKey(class, idHash, w.Seconds, now))
		if err != nil {
			return s.failModeDecision(class, classCfg, err)
		}
		if count >= int64(w.Limit) {
			s.audit.RecordRateLimitEvent(idHash, class, w.Seconds)
			s.logger.Warn("Rate limit exceeded",
				zap.String("class", class),
				zap.Int("window_seconds", w.Seconds),
				zap.String("identity_hash", idHash))
			return &Decision{Allowed: false, Class: class, TriggeredWindow: w.Seconds}, nil
		}
	}

	for _, w := range classCfg.Windows {
		ttl := time.Duration(w.Seconds) * time.Second
		if _, err := s.kv.Increment(ctx, windowKey(class, idHash, w.Seconds, now), ttl); err != nil {
			return s.failModeDecision(class, classCfg, err)
		}
	}

	return &Decision{Allowed: true, Class: class}, nil
}

// ClassForPath maps a request path onto its endpoint class via the
// configured path prefixes.
func (s *RateLimitService) ClassForPath(path string) string {
	for name, classCfg := range s.cfg.Classes {
		for _, prefix := range classCfg.Paths {
			if strings.HasPrefix(path, prefix) {
				return name
			}
		}
	}
	return ClassGeneral
}

// ClearanceBypassAllowed reports whether a valid clearance token may skip
// counting for the class. Fail-closed classes guard operations sensitive
// enough that every request stays counted, clearance or not.
func (s *RateLimitService) ClearanceBypassAllowed(class string) bool {
	classCfg, ok := s.cfg.Classes[class]
	if !ok {
		return true
	}
	return classCfg.FailMode != "closed"
}

func (s *RateLimitService) failModeDecision(class string, classCfg configs.EndpointClassConfig, cause error) (*Decision, error) {
	s.logger.Error("Rate limit store unavailable",
		zap.String("class", class),
		zap.String("fail_mode", classCfg.FailMode),
		zap.Error(cause))

	if classCfg.FailMode == "closed" {
		return &Decision{Allowed: false, Class: class},
			NewSecurityErrorWithCause(CodeStoreUnavailable, "counter store unreachable", cause)
	}
	return &Decision{Allowed: true, Class: class}, nil
}
