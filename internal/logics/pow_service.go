package logics

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// PowService issues stateless proof-of-work challenges as the cheaper
// fallback path for suspicious sessions: no image rendering, no server-side
// record. The challenge carries its own HMAC signature, so verification
// needs nothing but the secret.
type PowService struct {
	secret     []byte
	difficulty int
	expiry     time.Duration
	now        func() time.Time
}

func NewPowService(secret string, difficulty int, expiry time.Duration) *PowService {
	return &PowService{
		secret:     []byte(secret),
		difficulty: difficulty,
		expiry:     expiry,
		now:        time.Now,
	}
}

// PowChallenge is the client-facing puzzle: find a nonce such that
// sha256(challenge + ":" + nonce) starts with Difficulty zero hex digits.
type PowChallenge struct {
	Challenge  string `json:"challenge"`
	Signature  string `json:"signature"`
	Difficulty int    `json:"difficulty"`
	ExpiresAt  int64  `json:"expires_at"`
}

// NewChallenge mints a signed challenge string "id:timestamp:difficulty".
func (s *PowService) NewChallenge() (*PowChallenge, error) {
	id, err := gonanoid.New()
	if err != nil {
		return nil, NewSecurityErrorWithCause(CodeGenerationFailed, "failed to generate pow challenge id", err)
	}

	issued := s.now().Unix()
	challenge := fmt.Sprintf("%s:%d:%d", id, issued, s.difficulty)

	return &PowChallenge{
		Challenge:  challenge,
		Signature:  s.sign(challenge),
		Difficulty: s.difficulty,
		ExpiresAt:  issued + int64(s.expiry.Seconds()),
	}, nil
}

// VerifySolution checks the challenge signature, its expiry, and the nonce.
func (s *PowService) VerifySolution(challenge, signature, nonce string) bool {
	if !hmac.Equal([]byte(s.sign(challenge)), []byte(signature)) {
		return false
	}

	parts := strings.Split(challenge, ":")
	if len(parts) != 3 {
		return false
	}
	issued, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return false
	}
	difficulty, err := strconv.Atoi(parts[2])
	if err != nil || difficulty < 1 {
		return false
	}
	if s.now().Unix() > issued+int64(s.expiry.Seconds()) {
		return false
	}

	sum := sha256.Sum256([]byte(challenge + ":" + nonce))
	digest := hex.EncodeToString(sum[:])
	return strings.HasPrefix(digest, strings.Repeat("0", difficulty))
}

func (s *PowService) sign(challenge string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(challenge))
	return hex.EncodeToString(mac.Sum(nil))
}
