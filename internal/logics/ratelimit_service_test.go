package logics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gatekeeper-server/configs"
	"gatekeeper-server/internal/store"
)

func testRateLimitConfig() configs.RateLimitConfig {
	return configs.RateLimitConfig{
		Enabled: true,
		Classes: map[string]configs.EndpointClassConfig{
			ClassGeneral: {
				Windows: []configs.RateWindowConfig{
					{Seconds: 60, Limit: 5},
					{Seconds: 3600, Limit: 20},
				},
				FailMode: "open",
			},
			ClassLogin: {
				Windows:  []configs.RateWindowConfig{{Seconds: 60, Limit: 2}},
				FailMode: "open",
				Paths:    []string{"/auth/login"},
			},
			ClassWithdrawal: {
				Windows:  []configs.RateWindowConfig{{Seconds: 60, Limit: 2}},
				FailMode: "closed",
				Paths:    []string{"/wallet/withdraw"},
			},
		},
	}
}

func newTestRateLimitService(cfg configs.RateLimitConfig, kv store.Store) *RateLimitService {
	return NewRateLimitService(cfg, kv, nil, zap.NewNop())
}

// brokenStore fails every operation, standing in for an unreachable Redis.
type brokenStore struct{}

func (brokenStore) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, errors.New("connection refused")
}
func (brokenStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return errors.New("connection refused")
}
func (brokenStore) Delete(ctx context.Context, key string) (bool, error) {
	return false, errors.New("connection refused")
}
func (brokenStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return 0, errors.New("connection refused")
}
func (brokenStore) Count(ctx context.Context, key string) (int64, error) {
	return 0, errors.New("connection refused")
}

func TestCheckAndIncrement(t *testing.T) {
	ctx := context.Background()

	t.Run("allows up to the limit then denies", func(t *testing.T) {
		svc := newTestRateLimitService(testRateLimitConfig(), store.NewMemoryStore())

		for i := 0; i < 5; i++ {
			decision, err := svc.CheckAndIncrement(ctx, "session-a", ClassGeneral)
			require.NoError(t, err)
			assert.True(t, decision.Allowed, "request %d should be admitted", i+1)
		}

		decision, err := svc.CheckAndIncrement(ctx, "session-a", ClassGeneral)
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Equal(t, 60, decision.TriggeredWindow)
	})

	t.Run("identities are isolated", func(t *testing.T) {
		svc := newTestRateLimitService(testRateLimitConfig(), store.NewMemoryStore())

		for i := 0; i < 5; i++ {
			_, err := svc.CheckAndIncrement(ctx, "session-a", ClassGeneral)
			require.NoError(t, err)
		}

		decision, err := svc.CheckAndIncrement(ctx, "session-b", ClassGeneral)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	})

	t.Run("denial leaves no partial counts behind", func(t *testing.T) {
		kv := store.NewMemoryStore()
		svc := newTestRateLimitService(testRateLimitConfig(), kv)
		fixed := time.Now()
		svc.now = func() time.Time { return fixed }

		for i := 0; i < 5; i++ {
			_, err := svc.CheckAndIncrement(ctx, "session-a", ClassGeneral)
			require.NoError(t, err)
		}

		idHash := hashIdentity("session-a")
		hourKey := windowKey(ClassGeneral, idHash, 3600, fixed)
		before, err := kv.Count(ctx, hourKey)
		require.NoError(t, err)

		decision, err := svc.CheckAndIncrement(ctx, "session-a", ClassGeneral)
		require.NoError(t, err)
		require.False(t, decision.Allowed)

		after, err := kv.Count(ctx, hourKey)
		require.NoError(t, err)
		assert.Equal(t, before, after, "hour window must not count the denied request")
	})

	t.Run("window rollover resets the budget", func(t *testing.T) {
		svc := newTestRateLimitService(testRateLimitConfig(), store.NewMemoryStore())
		base := time.Unix(1_700_000_000, 0)
		svc.now = func() time.Time { return base }

		for i := 0; i < 5; i++ {
			_, err := svc.CheckAndIncrement(ctx, "session-a", ClassGeneral)
			require.NoError(t, err)
		}
		decision, err := svc.CheckAndIncrement(ctx, "session-a", ClassGeneral)
		require.NoError(t, err)
		require.False(t, decision.Allowed)

		svc.now = func() time.Time { return base.Add(61 * time.Second) }
		decision, err = svc.CheckAndIncrement(ctx, "session-a", ClassGeneral)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	})

	t.Run("unknown class falls back to general", func(t *testing.T) {
		svc := newTestRateLimitService(testRateLimitConfig(), store.NewMemoryStore())

		decision, err := svc.CheckAndIncrement(ctx, "session-a", "mystery")
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Equal(t, ClassGeneral, decision.Class)
	})

	t.Run("disabled limiter admits everything", func(t *testing.T) {
		cfg := testRateLimitConfig()
		cfg.Enabled = false
		svc := newTestRateLimitService(cfg, brokenStore{})

		decision, err := svc.CheckAndIncrement(ctx, "session-a", ClassGeneral)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	})

	t.Run("fail-open class admits when the store is down", func(t *testing.T) {
		svc := newTestRateLimitService(testRateLimitConfig(), brokenStore{})

		decision, err := svc.CheckAndIncrement(ctx, "session-a", ClassGeneral)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	})

	t.Run("fail-closed class denies when the store is down", func(t *testing.T) {
		svc := newTestRateLimitService(testRateLimitConfig(), brokenStore{})

		decision, err := svc.CheckAndIncrement(ctx, "session-a", ClassWithdrawal)
		require.Error(t, err)
		assert.True(t, IsSecurityError(err, CodeStoreUnavailable))
		assert.False(t, decision.Allowed)
	})
}

func TestClassForPath(t *testing.T) {
	svc := newTestRateLimitService(testRateLimitConfig(), store.NewMemoryStore())

	assert.Equal(t, ClassLogin, svc.ClassForPath("/auth/login"))
	assert.Equal(t, ClassWithdrawal, svc.ClassForPath("/wallet/withdraw"))
	assert.Equal(t, ClassGeneral, svc.ClassForPath("/catalog/browse"))
	assert.Equal(t, ClassGeneral, svc.ClassForPath("/"))
}

func TestClearanceBypassAllowed(t *testing.T) {
	svc := newTestRateLimitService(testRateLimitConfig(), store.NewMemoryStore())

	assert.True(t, svc.ClearanceBypassAllowed(ClassGeneral))
	assert.True(t, svc.ClearanceBypassAllowed(ClassLogin))
	assert.False(t, svc.ClearanceBypassAllowed(ClassWithdrawal))
}
