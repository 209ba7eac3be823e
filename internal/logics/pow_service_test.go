package logics

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// solvePow brute-forces a nonce for the given challenge and difficulty.
func solvePow(t *testing.T, challenge string, difficulty int) string {
	t.Helper()
	prefix := strings.Repeat("0", difficulty)
	for i := 0; i < 1_000_000; i++ {
		nonce := strconv.Itoa(i)
		sum := sha256.Sum256([]byte(challenge + ":" + nonce))
		if strings.HasPrefix(hex.EncodeToString(sum[:]), prefix) {
			return nonce
		}
	}
	t.Fatal("no nonce found within search budget")
	return ""
}

func TestPowService(t *testing.T) {
	svc := NewPowService("test-pow-secret", 1, 5*time.Minute)

	t.Run("solved challenge verifies", func(t *testing.T) {
		challenge, err := svc.NewChallenge()
		require.NoError(t, err)
		assert.Equal(t, 1, challenge.Difficulty)

		nonce := solvePow(t, challenge.Challenge, challenge.Difficulty)
		assert.True(t, svc.VerifySolution(challenge.Challenge, challenge.Signature, nonce))
	})

	t.Run("wrong nonce is rejected", func(t *testing.T) {
		challenge, err := svc.NewChallenge()
		require.NoError(t, err)

		nonce := solvePow(t, challenge.Challenge, challenge.Difficulty)
		assert.False(t, svc.VerifySolution(challenge.Challenge, challenge.Signature, nonce+"x"))
	})

	t.Run("tampered challenge is rejected", func(t *testing.T) {
		challenge, err := svc.NewChallenge()
		require.NoError(t, err)

		// Lowering the advertised difficulty invalidates the signature
		parts := strings.Split(challenge.Challenge, ":")
		require.Len(t, parts, 3)
		forged := parts[0] + ":" + parts[1] + ":0"
		assert.False(t, svc.VerifySolution(forged, challenge.Signature, "0"))
	})

	t.Run("expired challenge is rejected", func(t *testing.T) {
		challenge, err := svc.NewChallenge()
		require.NoError(t, err)
		nonce := solvePow(t, challenge.Challenge, challenge.Difficulty)

		svc.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
		defer func() { svc.now = time.Now }()

		assert.False(t, svc.VerifySolution(challenge.Challenge, challenge.Signature, nonce))
	})

	t.Run("malformed input", func(t *testing.T) {
		assert.False(t, svc.VerifySolution("junk", "junk", "0"))
		assert.False(t, svc.VerifySolution("", "", ""))
	})
}
