package controllers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"gatekeeper-server/configs"
	"gatekeeper-server/internal/logics"
)

// PowSolutionRequest is a client's answer to a proof-of-work challenge.
type PowSolutionRequest struct {
	Challenge string `json:"challenge" form:"challenge"`
	Signature string `json:"signature" form:"signature"`
	Nonce     string `json:"nonce" form:"nonce"`
}

// PowChallengeHandler hands out a stateless signed work challenge. Nothing
// is stored server side; the signature carries all the state.
// GET /pow/challenge
func PowChallengeHandler(c echo.Context) error {
	challenge, err := logics.PowSvc.NewChallenge()
	if err != nil {
		configs.Logger.Error("Proof-of-work challenge generation failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to generate challenge"})
	}
	return c.JSON(http.StatusOK, challenge)
}

// VerifyPowHandler checks a solved challenge and, on success, issues the
// same clearance cookie the visual challenge does.
// POST /pow/verify
func VerifyPowHandler(c echo.Context) error {
	req := new(PowSolutionRequest)
	if err := c.Bind(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if req.Challenge == "" || req.Signature == "" || req.Nonce == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Missing fields"})
	}

	if !logics.PowSvc.VerifySolution(req.Challenge, req.Signature, req.Nonce) {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"valid":   false,
			"message": "Solution rejected. Please request a new challenge.",
		})
	}

	if err := issueClearanceCookie(c); err != nil {
		configs.Logger.Warn("Failed to issue clearance", zap.Error(err))
	}

	return c.JSON(http.StatusOK, map[string]interface{}{"valid": true})
}
