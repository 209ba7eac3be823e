package logics

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gatekeeper-server/configs"
	"gatekeeper-server/internal/store"
)

func testCaptchaConfig() configs.CaptchaConfig {
	cfg := configs.CaptchaConfig{}
	cfg.ApplyDefaults()
	return cfg
}

func newTestCaptchaService(cfg configs.CaptchaConfig, kv store.Store) *CaptchaService {
	return NewCaptchaService(cfg, kv, nil, zap.NewNop())
}

// storedSolution reads the server-side record back out of the store.
func storedSolution(t *testing.T, kv store.Store, token string) solution {
	t.Helper()
	data, err := kv.Get(context.Background(), solutionKey(token))
	require.NoError(t, err)
	var sol solution
	require.NoError(t, json.Unmarshal(data, &sol))
	return sol
}

func TestPlaceShapes(t *testing.T) {
	cfg := testCaptchaConfig()
	svc := newTestCaptchaService(cfg, store.NewMemoryStore())

	t.Run("produces non-overlapping circles inside the margin", func(t *testing.T) {
		for run := 0; run < 20; run++ {
			circles, err := svc.placeShapes()
			require.NoError(t, err)
			require.Len(t, circles, cfg.ShapeCount)

			for i, c := range circles {
				assert.GreaterOrEqual(t, c.R, cfg.RadiusMin)
				assert.LessOrEqual(t, c.R, cfg.RadiusMax)
				assert.GreaterOrEqual(t, c.X-c.R, cfg.Margin)
				assert.LessOrEqual(t, c.X+c.R, cfg.Width-cfg.Margin)
				assert.GreaterOrEqual(t, c.Y-c.R, cfg.Margin)
				assert.LessOrEqual(t, c.Y+c.R, cfg.Height-cfg.Margin)

				for j := i + 1; j < len(circles); j++ {
					o := circles[j]
					dist := math.Hypot(float64(c.X-o.X), float64(c.Y-o.Y))
					assert.Greater(t, dist, float64(c.R+o.R+cfg.MinGap),
						"circles %d and %d overlap", i, j)
				}
			}
		}
	})

	t.Run("fails when the layout cannot fit", func(t *testing.T) {
		tight := cfg
		tight.ShapeCount = 50
		tight.PlacementRetries = 100
		svc := newTestCaptchaService(tight, store.NewMemoryStore())

		_, err := svc.placeShapes()
		require.Error(t, err)
		assert.True(t, IsSecurityError(err, CodeGenerationFailed))
	})

	t.Run("rejects fewer than two shapes", func(t *testing.T) {
		bad := cfg
		bad.ShapeCount = 1
		svc := newTestCaptchaService(bad, store.NewMemoryStore())

		_, err := svc.placeShapes()
		require.Error(t, err)
		assert.True(t, IsSecurityError(err, CodeGenerationFailed))
	})
}

func TestGenerateChallenge(t *testing.T) {
	cfg := testCaptchaConfig()
	cfg.UseNoise = true
	kv := store.NewMemoryStore()
	svc := newTestCaptchaService(cfg, kv)

	challenge, err := svc.GenerateChallenge(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, challenge.Token)
	assert.NotEmpty(t, challenge.ImageID)
	assert.Equal(t, cfg.TTLSeconds, challenge.ExpiresIn)

	img, err := png.Decode(bytes.NewReader(challenge.Image))
	require.NoError(t, err)
	bounds := img.Bounds()
	assert.Equal(t, cfg.Width, bounds.Dx())
	assert.Equal(t, cfg.Height, bounds.Dy())

	sol := storedSolution(t, kv, challenge.Token)
	assert.GreaterOrEqual(t, sol.R, cfg.RadiusMin)
	assert.LessOrEqual(t, sol.R, cfg.RadiusMax)
	assert.Greater(t, sol.ExpiresAt, time.Now().Unix())
}

func TestValidateClick(t *testing.T) {
	cfg := testCaptchaConfig()
	ctx := context.Background()

	generate := func(t *testing.T, svc *CaptchaService, kv store.Store) (string, solution) {
		t.Helper()
		challenge, err := svc.GenerateChallenge(ctx)
		require.NoError(t, err)
		return challenge.Token, storedSolution(t, kv, challenge.Token)
	}

	t.Run("accepts a click on the target center", func(t *testing.T) {
		kv := store.NewMemoryStore()
		svc := newTestCaptchaService(cfg, kv)
		token, sol := generate(t, svc, kv)

		verdict, err := svc.ValidateClick(ctx, token, sol.X, sol.Y)
		require.NoError(t, err)
		assert.True(t, verdict.Valid)
	})

	t.Run("a consumed token cannot be replayed", func(t *testing.T) {
		kv := store.NewMemoryStore()
		svc := newTestCaptchaService(cfg, kv)
		token, sol := generate(t, svc, kv)

		verdict, err := svc.ValidateClick(ctx, token, sol.X, sol.Y)
		require.NoError(t, err)
		require.True(t, verdict.Valid)

		_, err = svc.ValidateClick(ctx, token, sol.X, sol.Y)
		require.Error(t, err)
		assert.True(t, IsSecurityError(err, CodeChallengeNotFound))
	})

	t.Run("tolerance boundary", func(t *testing.T) {
		kv := store.NewMemoryStore()
		svc := newTestCaptchaService(cfg, kv)
		token, sol := generate(t, svc, kv)

		allowed := float64(sol.R)*cfg.ToleranceFactor + cfg.ToleranceMarginPx

		verdict, err := svc.ValidateClick(ctx, token, sol.X+int(allowed)+2, sol.Y)
		require.NoError(t, err)
		assert.False(t, verdict.Valid)
		assert.Equal(t, cfg.MaxAttempts-1, verdict.AttemptsLeft)

		verdict, err = svc.ValidateClick(ctx, token, sol.X+int(allowed), sol.Y)
		require.NoError(t, err)
		assert.True(t, verdict.Valid)
	})

	t.Run("attempt budget exhaustion kills the token", func(t *testing.T) {
		kv := store.NewMemoryStore()
		svc := newTestCaptchaService(cfg, kv)
		token, sol := generate(t, svc, kv)

		var verdict *ClickVerdict
		var err error
		for i := 0; i < cfg.MaxAttempts; i++ {
			verdict, err = svc.ValidateClick(ctx, token, 0, 0)
			require.NoError(t, err)
			assert.False(t, verdict.Valid)
		}
		assert.True(t, verdict.Exhausted)
		assert.Equal(t, 0, verdict.AttemptsLeft)

		// Even the correct answer is dead now
		_, err = svc.ValidateClick(ctx, token, sol.X, sol.Y)
		require.Error(t, err)
		assert.True(t, IsSecurityError(err, CodeChallengeNotFound))
	})

	t.Run("expired challenge is rejected and purged", func(t *testing.T) {
		kv := store.NewMemoryStore()
		svc := newTestCaptchaService(cfg, kv)
		token, sol := generate(t, svc, kv)

		svc.now = func() time.Time {
			return time.Now().Add(time.Duration(cfg.TTLSeconds+1) * time.Second)
		}

		_, err := svc.ValidateClick(ctx, token, sol.X, sol.Y)
		require.Error(t, err)
		assert.True(t, IsSecurityError(err, CodeChallengeExpired))

		_, err = kv.Get(ctx, solutionKey(token))
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("unknown and missing tokens", func(t *testing.T) {
		svc := newTestCaptchaService(cfg, store.NewMemoryStore())

		_, err := svc.ValidateClick(ctx, "no-such-token", 10, 10)
		require.Error(t, err)
		assert.True(t, IsSecurityError(err, CodeChallengeNotFound))

		_, err = svc.ValidateClick(ctx, "", 10, 10)
		require.Error(t, err)
		assert.True(t, IsSecurityError(err, CodeChallengeNotFound))
	})

	t.Run("worked example distances", func(t *testing.T) {
		kv := store.NewMemoryStore()
		svc := newTestCaptchaService(cfg, kv)
		token := "fixed-test-token"

		sol := solution{X: 122, Y: 94, R: 30, ExpiresAt: time.Now().Add(time.Minute).Unix()}
		data, err := json.Marshal(sol)
		require.NoError(t, err)
		require.NoError(t, kv.SetWithTTL(ctx, solutionKey(token), data, time.Minute))

		// Distance ~8.9 against an allowed radius of 20: accept
		verdict, err := svc.ValidateClick(ctx, token, 130, 98)
		require.NoError(t, err)
		assert.True(t, verdict.Valid)
	})
}

func TestValidateClickConcurrent(t *testing.T) {
	cfg := testCaptchaConfig()
	kv := store.NewMemoryStore()
	svc := newTestCaptchaService(cfg, kv)
	ctx := context.Background()

	challenge, err := svc.GenerateChallenge(ctx)
	require.NoError(t, err)
	sol := storedSolution(t, kv, challenge.Token)

	const racers = 16
	var wg sync.WaitGroup
	results := make(chan bool, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			verdict, err := svc.ValidateClick(ctx, challenge.Token, sol.X, sol.Y)
			results <- err == nil && verdict.Valid
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for ok := range results {
		if ok {
			wins++
		}
	}
	assert.Equal(t, 1, wins, "exactly one racing submission may consume the challenge")
}
