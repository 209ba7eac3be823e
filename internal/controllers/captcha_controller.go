package controllers

import (
	"encoding/base64"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"gatekeeper-server/configs"
	"gatekeeper-server/internal/logics"
	"gatekeeper-server/internal/middlewares"
)

// CaptchaClickRequest is the click submission: two coordinates plus the
// opaque token, sent as plain form fields so the page works without any
// client-side scripting (Tor Browser's safest mode).
type CaptchaClickRequest struct {
	Token  string `json:"captcha_token" form:"captcha_token"`
	ClickX int    `json:"captcha_x" form:"captcha_x"`
	ClickY int    `json:"captcha_y" form:"captcha_y"`
}

// CaptchaGenerateResponse carries a freshly issued challenge.
type CaptchaGenerateResponse struct {
	Token       string `json:"token"`
	ImageID     string `json:"image_id"`
	ImageBase64 string `json:"image_base64"`
	ExpiresIn   int    `json:"expires_in"`
}

// CaptchaValidateResponse is the validation outcome. Regenerate signals the
// client that the token is dead and a new challenge must be requested.
type CaptchaValidateResponse struct {
	Valid        bool   `json:"valid"`
	AttemptsLeft int    `json:"attempts_left,omitempty"`
	Regenerate   bool   `json:"regenerate,omitempty"`
	Message      string `json:"message,omitempty"`
}

// CaptchaImageHandler serves the challenge as a raw PNG.
// GET /captcha/image
func CaptchaImageHandler(c echo.Context) error {
	challenge, err := logics.CaptchaSvc.GenerateChallenge(c.Request().Context())
	if err != nil {
		configs.Logger.Error("Challenge generation failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to generate challenge"})
	}

	// A stale challenge image must never be replayed from a cache
	h := c.Response().Header()
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	h.Set("X-Captcha-Token", challenge.Token)
	h.Set("X-Captcha-Image-Id", challenge.ImageID)

	return c.Blob(http.StatusOK, "image/png", challenge.Image)
}

// GenerateCaptchaHandler issues a challenge as JSON with the image inlined.
// POST /captcha/generate
func GenerateCaptchaHandler(c echo.Context) error {
	challenge, err := logics.CaptchaSvc.GenerateChallenge(c.Request().Context())
	if err != nil {
		configs.Logger.Error("Challenge generation failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to generate challenge"})
	}

	return c.JSON(http.StatusOK, &CaptchaGenerateResponse{
		Token:       challenge.Token,
		ImageID:     challenge.ImageID,
		ImageBase64: base64.StdEncoding.EncodeToString(challenge.Image),
		ExpiresIn:   challenge.ExpiresIn,
	})
}

// ValidateCaptchaHandler checks a submitted click. Expected failures come
// back as regular responses prompting a fresh challenge; raw errors never
// reach the client.
// POST /captcha/validate
func ValidateCaptchaHandler(c echo.Context) error {
	req := new(CaptchaClickRequest)
	if err := c.Bind(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if req.Token == "" || req.ClickX < 0 || req.ClickY < 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid coordinates"})
	}

	verdict, err := logics.CaptchaSvc.ValidateClick(c.Request().Context(), req.Token, req.ClickX, req.ClickY)
	if err != nil {
		switch {
		case logics.IsSecurityError(err, logics.CodeChallengeNotFound),
			logics.IsSecurityError(err, logics.CodeChallengeExpired):
			return c.JSON(http.StatusOK, &CaptchaValidateResponse{
				Valid:      false,
				Regenerate: true,
				Message:    "Challenge is no longer valid. Please request a new one.",
			})
		default:
			configs.Logger.Error("Click validation failed", zap.Error(err))
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"error": "Service temporarily unavailable. Please try again later.",
			})
		}
	}

	if !verdict.Valid {
		return c.JSON(http.StatusOK, &CaptchaValidateResponse{
			Valid:        false,
			AttemptsLeft: verdict.AttemptsLeft,
			Regenerate:   verdict.Exhausted,
			Message:      "Wrong shape. Please try again.",
		})
	}

	if err := issueClearanceCookie(c); err != nil {
		// The CAPTCHA still passed; the client just keeps being counted
		configs.Logger.Warn("Failed to issue clearance", zap.Error(err))
	}

	return c.JSON(http.StatusOK, &CaptchaValidateResponse{Valid: true})
}

// issueClearanceCookie binds a signed bypass ticket to the current session.
func issueClearanceCookie(c echo.Context) error {
	identity, err := middlewares.SessionIdentity(c)
	if err != nil {
		return err
	}
	token, err := logics.ClearanceSvc.Issue(identity)
	if err != nil {
		return err
	}

	cookie := new(http.Cookie)
	cookie.Name = middlewares.ClearanceCookieName
	cookie.Value = token
	cookie.Path = "/"
	cookie.MaxAge = configs.Configs.RateLimit.ClearanceExpireMin * 60
	cookie.HttpOnly = true
	cookie.Secure = configs.Configs.Service.SecureCookies
	c.SetCookie(cookie)
	return nil
}
