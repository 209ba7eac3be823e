package middlewares

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"gatekeeper-server/internal/logics"
)

// ClearanceCookieName holds the signed bypass ticket issued after a solved
// challenge.
const ClearanceCookieName = "gk_clearance"

// RateLimitMiddleware is the admission gate. Each request is classified by
// path, checked against every window configured for its class, and rejected
// with a deliberately vague message on denial: which window tripped is for
// the logs, not for probing clients.
func RateLimitMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		identity, err := SessionIdentity(c)
		if err != nil {
			resetSessionCookie(c)
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Session error. Please retry."})
		}

		class := logics.RateLimitSvc.ClassForPath(c.Request().URL.Path)

		// A valid clearance skips counting on classes that allow it
		if cookie, err := c.Cookie(ClearanceCookieName); err == nil {
			if logics.ClearanceSvc.Verify(cookie.Value, identity) &&
				logics.RateLimitSvc.ClearanceBypassAllowed(class) {
				return next(c)
			}
		}

		decision, err := logics.RateLimitSvc.CheckAndIncrement(c.Request().Context(), identity, class)
		if err != nil {
			// Fail-closed class with the counter store down
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"error": "Service temporarily unavailable. Please try again later.",
			})
		}
		if !decision.Allowed {
			return c.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "Too many requests. Please try again later.",
			})
		}

		return next(c)
	}
}
