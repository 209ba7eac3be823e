package logics

import (
	"errors"
	"fmt"
)

// Error codes for the anti-bot subsystem. The first three are expected,
// user-recoverable outcomes; the last two are server faults.
const (
	CodeChallengeNotFound = "challenge_not_found"
	CodeChallengeExpired  = "challenge_expired"
	CodeRateLimited       = "rate_limited"
	CodeGenerationFailed  = "generation_failed"
	CodeStoreUnavailable  = "store_unavailable"
)

// SecurityError is the error type for challenge and admission failures.
type SecurityError struct {
	Code    string
	Message string
	Err     error
}

func (e *SecurityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *SecurityError) Unwrap() error {
	return e.Err
}

func NewSecurityError(code, message string) *SecurityError {
	return &SecurityError{
		Code:    code,
		Message: message,
	}
}

func NewSecurityErrorWithCause(code, message string, cause error) *SecurityError {
	return &SecurityError{
		Code:    code,
		Message: message,
		Err:     cause,
	}
}

// IsSecurityError reports whether err carries the given code.
func IsSecurityError(err error, code string) bool {
	var secErr *SecurityError
	if errors.As(err, &secErr) {
		return secErr.Code == code
	}
	return false
}
