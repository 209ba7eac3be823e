package httpEngine

import (
	"net/http"

	"gatekeeper-server/internal/controllers"

	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
)

// RegisterRoutes sets up all the server routes
func RegisterRoutes(e *echo.Echo) {
	// Basic health check
	e.GET("/", func(c echo.Context) error {
		sess, err := session.Get("session", c)
		if err != nil {
			return err
		}
		if err := sess.Save(c.Request(), c.Response()); err != nil {
			return err
		}
		return c.String(http.StatusOK, "Hello, from Gatekeeper Server!")
	})

	// Visual challenge endpoints
	captchaGroup := e.Group("/captcha")
	{
		captchaGroup.GET("/image", controllers.CaptchaImageHandler)
		captchaGroup.POST("/generate", controllers.GenerateCaptchaHandler)
		captchaGroup.POST("/validate", controllers.ValidateCaptchaHandler)
	}

	// Proof-of-work fallback endpoints
	powGroup := e.Group("/pow")
	{
		powGroup.GET("/challenge", controllers.PowChallengeHandler)
		powGroup.POST("/verify", controllers.VerifyPowHandler)
	}
}
