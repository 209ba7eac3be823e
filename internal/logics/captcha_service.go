package logics

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math"
	"math/big"
	"time"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
	"golang.org/x/image/font/gofont/goregular"

	"gatekeeper-server/configs"
	"gatekeeper-server/internal/store"
)

// CaptchaService issues one-click visual challenges and validates click
// coordinates against the stored solution. Live state lives in the injected
// key-value store; the service itself is stateless across requests.
type CaptchaService struct {
	cfg    configs.CaptchaConfig
	kv     store.Store
	audit  *AuditLogService
	logger *zap.Logger
	now    func() time.Time
}

func NewCaptchaService(cfg configs.CaptchaConfig, kv store.Store, audit *AuditLogService, logger *zap.Logger) *CaptchaService {
	return &CaptchaService{
		cfg:    cfg,
		kv:     kv,
		audit:  audit,
		logger: logger,
		now:    time.Now,
	}
}

// Challenge is the result of generation: a rendered PNG plus the opaque
// token the client echoes back. The solution never leaves the server.
type Challenge struct {
	Token     string `json:"token"`
	ImageID   string `json:"image_id"`
	Image     []byte `json:"-"`
	ExpiresIn int    `json:"expires_in"` // seconds
}

// ClickVerdict is the outcome of a click validation.
type ClickVerdict struct {
	Valid        bool `json:"valid"`
	AttemptsLeft int  `json:"attempts_left"`
	Exhausted    bool `json:"exhausted"`
}

// solution is the server-side challenge record, stored as JSON in the KV
// store under the token key.
type solution struct {
	X         int   `json:"x"`
	Y         int   `json:"y"`
	R         int   `json:"r"`
	ExpiresAt int64 `json:"expires_at"` // unix seconds
}

type shapeKind string

const (
	shapeBite     shapeKind = "bite"
	shapeStar     shapeKind = "star"
	shapeDiamond  shapeKind = "diamond"
	shapeCrescent shapeKind = "crescent"
)

var oddShapeKinds = []shapeKind{shapeBite, shapeStar, shapeDiamond, shapeCrescent}

type circle struct {
	X, Y, R int
}

func solutionKey(token string) string {
	return "captcha:sol:" + token
}

func attemptsKey(token string) string {
	return "captcha:att:" + token
}

// hashToken produces the audit-safe form of a token.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// GenerateChallenge renders a new challenge image and stores its solution
// under a fresh token with the configured TTL.
func (s *CaptchaService) GenerateChallenge(ctx context.Context) (*Challenge, error) {
	circles, err := s.placeShapes()
	if err != nil {
		return nil, err
	}

	targetIdx := randInt(len(circles))
	kind := oddShapeKinds[randInt(len(oddShapeKinds))]

	img, err := s.render(circles, targetIdx, kind)
	if err != nil {
		return nil, NewSecurityErrorWithCause(CodeGenerationFailed, "failed to render challenge image", err)
	}

	token, err := gonanoid.New()
	if err != nil {
		return nil, NewSecurityErrorWithCause(CodeGenerationFailed, "failed to generate challenge token", err)
	}

	ttl := time.Duration(s.cfg.TTLSeconds) * time.Second
	expiresAt := s.now().Add(ttl)
	target := circles[targetIdx]
	sol := solution{
		X:         target.X,
		Y:         target.Y,
		R:         target.R,
		ExpiresAt: expiresAt.Unix(),
	}

	data, err := json.Marshal(sol)
	if err != nil {
		return nil, NewSecurityErrorWithCause(CodeGenerationFailed, "failed to encode solution", err)
	}
	if err := s.kv.SetWithTTL(ctx, solutionKey(token), data, ttl); err != nil {
		return nil, NewSecurityErrorWithCause(CodeStoreUnavailable, "failed to store challenge", err)
	}

	imageID := uuid.NewString()
	s.audit.RecordChallengeIssued(hashToken(token), imageID, len(circles), string(kind), expiresAt)

	s.logger.Debug("Challenge generated",
		zap.String("image_id", imageID),
		zap.Int("shape_count", len(circles)),
		zap.String("target_kind", string(kind)))

	return &Challenge{
		Token:     token,
		ImageID:   imageID,
		Image:     img,
		ExpiresIn: s.cfg.TTLSeconds,
	}, nil
}

// ValidateClick checks a submitted click against the stored solution.
// On acceptance the challenge is consumed atomically, so of two racing
// submissions exactly one can succeed. Wrong clicks burn an attempt; once
// the budget is spent the token is dead even for a later correct click.
func (s *CaptchaService) ValidateClick(ctx context.Context, token string, clickX, clickY int) (*ClickVerdict, error) {
	if token == "" {
		return nil, NewSecurityError(CodeChallengeNotFound, "missing challenge token")
	}

	solKey := solutionKey(token)
	attKey := attemptsKey(token)

	data, err := s.kv.Get(ctx, solKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewSecurityError(CodeChallengeNotFound, "unknown or already consumed challenge")
		}
		return nil, NewSecurityErrorWithCause(CodeStoreUnavailable, "failed to load challenge", err)
	}

	var sol solution
	if err := json.Unmarshal(data, &sol); err != nil {
		s.kv.Delete(ctx, solKey)
		return nil, NewSecurityError(CodeChallengeNotFound, "corrupt challenge record")
	}

	if s.now().Unix() > sol.ExpiresAt {
		s.kv.Delete(ctx, solKey)
		s.kv.Delete(ctx, attKey)
		return nil, NewSecurityError(CodeChallengeExpired, "challenge has expired")
	}

	dist := math.Hypot(float64(clickX-sol.X), float64(clickY-sol.Y))
	allowed := float64(sol.R)*s.cfg.ToleranceFactor + s.cfg.ToleranceMarginPx

	if dist <= allowed {
		consumed, err := s.kv.Delete(ctx, solKey)
		if err != nil {
			return nil, NewSecurityErrorWithCause(CodeStoreUnavailable, "failed to consume challenge", err)
		}
		if !consumed {
			// A concurrent submission won the consume race.
			return nil, NewSecurityError(CodeChallengeNotFound, "challenge already consumed")
		}
		s.kv.Delete(ctx, attKey)
		s.audit.RecordValidation(hashToken(token), clickX, clickY, true, false)
		return &ClickVerdict{Valid: true}, nil
	}

	attempts, err := s.kv.Increment(ctx, attKey, time.Duration(s.cfg.TTLSeconds)*time.Second)
	if err != nil {
		return nil, NewSecurityErrorWithCause(CodeStoreUnavailable, "failed to record attempt", err)
	}

	exhausted := attempts >= int64(s.cfg.MaxAttempts)
	if exhausted {
		s.kv.Delete(ctx, solKey)
		s.kv.Delete(ctx, attKey)
	}
	s.audit.RecordValidation(hashToken(token), clickX, clickY, false, exhausted)

	left := s.cfg.MaxAttempts - int(attempts)
	if left < 0 {
		left = 0
	}
	return &ClickVerdict{Valid: false, AttemptsLeft: left, Exhausted: exhausted}, nil
}

// placeShapes picks non-overlapping circle positions by reject-and-resample.
// The retry budget is bounded; an impossible layout is a configuration fault
// and fails loudly instead of degrading to a predictable arrangement.
func (s *CaptchaService) placeShapes() ([]circle, error) {
	cfg := s.cfg

	if cfg.ShapeCount < 2 {
		return nil, NewSecurityError(CodeGenerationFailed, "shape_count must be at least 2")
	}
	if cfg.Width-2*(cfg.RadiusMax+cfg.Margin) <= 0 || cfg.Height-2*(cfg.RadiusMax+cfg.Margin) <= 0 {
		return nil, NewSecurityError(CodeGenerationFailed, "canvas too small for configured radius and margin")
	}

	circles := make([]circle, 0, cfg.ShapeCount)
	retries := 0

	for len(circles) < cfg.ShapeCount && retries < cfg.PlacementRetries {
		r := cfg.RadiusMin + randInt(cfg.RadiusMax-cfg.RadiusMin+1)
		x := r + cfg.Margin + randInt(cfg.Width-2*(r+cfg.Margin)+1)
		y := r + cfg.Margin + randInt(cfg.Height-2*(r+cfg.Margin)+1)

		overlaps := false
		for _, c := range circles {
			minDist := float64(r + c.R + cfg.MinGap)
			if math.Hypot(float64(x-c.X), float64(y-c.Y)) <= minDist {
				overlaps = true
				break
			}
		}
		if overlaps {
			retries++
			continue
		}
		circles = append(circles, circle{X: x, Y: y, R: r})
	}

	if len(circles) < cfg.ShapeCount {
		return nil, NewSecurityError(CodeGenerationFailed, "could not place shapes within retry budget")
	}
	return circles, nil
}

// render draws the challenge: uniform circles, one odd target, and low
// amplitude background noise that must not bury the target.
func (s *CaptchaService) render(circles []circle, targetIdx int, kind shapeKind) ([]byte, error) {
	cfg := s.cfg
	dc := gg.NewContext(cfg.Width, cfg.Height)

	// Near-white background, randomized per challenge
	bgR := float64(240+randInt(16)) / 255
	bgG := float64(240+randInt(16)) / 255
	bgB := float64(240+randInt(16)) / 255
	dc.SetRGB(bgR, bgG, bgB)
	dc.Clear()

	shapeR, shapeG, shapeB := randomShapeColor()
	cutStart := gg.Radians(float64(randInt(360)))
	cutEnd := cutStart + gg.Radians(float64(cfg.CutAngleDeg))

	for idx, c := range circles {
		cx, cy, r := float64(c.X), float64(c.Y), float64(c.R)

		// Subtle shadow ring for contrast against the pale background
		dc.SetRGBA(0, 0, 0, 0.2)
		dc.DrawCircle(cx, cy, r+1)
		dc.Fill()

		if idx == targetIdx && kind != shapeBite {
			drawOddShape(dc, kind, cx, cy, r, shapeR, shapeG, shapeB, bgR, bgG, bgB)
			continue
		}

		dc.SetRGB(shapeR, shapeG, shapeB)
		dc.DrawCircle(cx, cy, r)
		dc.Fill()

		if idx == targetIdx {
			// Bite: wedge of background color cut out of the target circle
			dc.MoveTo(cx, cy)
			dc.DrawArc(cx, cy, r+1.5, cutStart, cutEnd)
			dc.ClosePath()
			dc.SetRGB(bgR, bgG, bgB)
			dc.Fill()
		}
	}

	if cfg.UseNoise {
		if err := s.drawNoise(dc); err != nil {
			return nil, err
		}
	}

	buf := new(bytes.Buffer)
	if err := dc.EncodePNG(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// drawOddShape renders the non-circle target variants centered on the stored
// solution point, so the coordinates hold for every kind.
func drawOddShape(dc *gg.Context, kind shapeKind, cx, cy, r, sr, sg, sb, bgR, bgG, bgB float64) {
	rot := gg.Radians(float64(randInt(360)))

	switch kind {
	case shapeStar:
		dc.SetRGB(sr, sg, sb)
		for i := 0; i < 10; i++ {
			radius := r
			if i%2 == 1 {
				radius = r * 0.45
			}
			angle := rot + float64(i)*math.Pi/5
			x := cx + radius*math.Cos(angle)
			y := cy + radius*math.Sin(angle)
			if i == 0 {
				dc.MoveTo(x, y)
			} else {
				dc.LineTo(x, y)
			}
		}
		dc.ClosePath()
		dc.Fill()

	case shapeDiamond:
		dc.SetRGB(sr, sg, sb)
		for i := 0; i < 4; i++ {
			angle := rot + float64(i)*math.Pi/2
			x := cx + r*math.Cos(angle)
			y := cy + r*math.Sin(angle)
			if i == 0 {
				dc.MoveTo(x, y)
			} else {
				dc.LineTo(x, y)
			}
		}
		dc.ClosePath()
		dc.Fill()

	case shapeCrescent:
		dc.SetRGB(sr, sg, sb)
		dc.DrawCircle(cx, cy, r)
		dc.Fill()
		offX := cx + r*0.5*math.Cos(rot)
		offY := cy + r*0.5*math.Sin(rot)
		dc.SetRGB(bgR, bgG, bgB)
		dc.DrawCircle(offX, offY, r*0.8)
		dc.Fill()
	}
}

// drawNoise adds faint dots, polylines and glyphs. Amplitude stays low so
// the odd shape remains recognizable to humans.
func (s *CaptchaService) drawNoise(dc *gg.Context) error {
	w, h := s.cfg.Width, s.cfg.Height

	dots := 30 + randInt(31)
	for i := 0; i < dots; i++ {
		dc.SetRGBA(
			float64(randInt(151))/255,
			float64(randInt(151))/255,
			float64(randInt(151))/255,
			0.3,
		)
		dc.DrawPoint(float64(randInt(w)), float64(randInt(h)), 1)
		dc.Fill()
	}

	lines := 2 + randInt(3)
	for i := 0; i < lines; i++ {
		dc.SetRGBA(
			float64(200+randInt(31))/255,
			float64(200+randInt(31))/255,
			float64(200+randInt(31))/255,
			0.9,
		)
		dc.SetLineWidth(1)
		prevX, prevY := 0.0, float64(randInt(h))
		for seg := 1; seg <= 4; seg++ {
			x := float64(w) * float64(seg) / 4
			y := float64(randInt(h))
			dc.DrawLine(prevX, prevY, x, y)
			dc.Stroke()
			prevX, prevY = x, y
		}
	}

	// A few faint glyphs; letters confuse naive template matchers without
	// adding clickable shapes.
	font, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return err
	}
	face := truetype.NewFace(font, &truetype.Options{Size: 14})
	dc.SetFontFace(face)
	const glyphs = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	for i := 0; i < 3; i++ {
		dc.SetRGBA(0.4, 0.4, 0.4, 0.15)
		g := string(glyphs[randInt(len(glyphs))])
		dc.DrawStringAnchored(g, float64(randInt(w)), float64(randInt(h)), 0.5, 0.5)
	}
	return nil
}

// randomShapeColor picks a saturated, non-pale fill so the circles stand out
// against the near-white background.
func randomShapeColor() (float64, float64, float64) {
	switch randInt(5) {
	case 0: // red
		return float64(150+randInt(71)) / 255, float64(50+randInt(51)) / 255, float64(50+randInt(51)) / 255
	case 1: // green
		return float64(50+randInt(51)) / 255, float64(150+randInt(71)) / 255, float64(50+randInt(51)) / 255
	case 2: // blue
		return float64(50+randInt(51)) / 255, float64(50+randInt(51)) / 255, float64(150+randInt(71)) / 255
	case 3: // purple
		return float64(150+randInt(51)) / 255, float64(50+randInt(51)) / 255, float64(150+randInt(51)) / 255
	default: // orange
		return float64(200+randInt(51)) / 255, float64(100+randInt(51)) / 255, float64(randInt(51)) / 255
	}
}

// randInt returns a uniform int in [0, n) from crypto/rand.
func randInt(n int) int {
	if n <= 0 {
		return 0
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		// crypto/rand failure means the platform RNG is broken
		panic("random number generation failed: " + err.Error())
	}
	return int(v.Int64())
}
