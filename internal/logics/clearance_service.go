package logics

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const clearanceIssuer = "gatekeeper"

// ClearanceService issues and checks signed bypass tickets. A session that
// solved a challenge gets a short-lived token and skips counter bookkeeping
// until it expires, keeping honest clients out of the hot path. Tokens are
// bound to the hashed session identifier, so they cannot be traded between
// sessions.
type ClearanceService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewClearanceService(secret string, ttl time.Duration) *ClearanceService {
	return &ClearanceService{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue returns a signed clearance token for the given session.
func (s *ClearanceService) Issue(sessionID string) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:    clearanceIssuer,
		Subject:   hashIdentity(sessionID),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify reports whether tokenString is a live clearance for sessionID.
func (s *ClearanceService) Verify(tokenString, sessionID string) bool {
	if tokenString == "" || sessionID == "" {
		return false
	}

	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{},
		func(t *jwt.Token) (interface{}, error) {
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(clearanceIssuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid {
		return false
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok {
		return false
	}
	return claims.Subject == hashIdentity(sessionID)
}
