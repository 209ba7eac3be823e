package middlewares

import (
	"net/http"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// sessionKeyContext is the context key under which the session is stored.
const sessionKeyContext = "session_data"

// sessionValueID carries a stable identity for session backends that do not
// assign a session ID of their own (e.g. pure cookie stores).
const sessionValueID = "sid"

// SessionMiddleware loads the session from the request and stores it in the
// context. A broken session cookie is cleared so the client recovers on the
// next request instead of being stuck.
func SessionMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		sess, err := session.Get("session", c)
		if err != nil {
			resetSessionCookie(c)
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Session error. Please retry."})
		}

		c.Set(sessionKeyContext, sess)
		return next(c)
	}
}

// resetSessionCookie clears the client's session cookie.
func resetSessionCookie(c echo.Context) {
	cookie := new(http.Cookie)
	cookie.Name = "session"
	cookie.Value = ""
	cookie.Path = "/"
	cookie.MaxAge = -1
	cookie.HttpOnly = true
	c.SetCookie(cookie)
}

// GetSessionFromContext fetches the session placed by SessionMiddleware,
// falling back to a direct lookup for handlers outside the middleware chain.
func GetSessionFromContext(c echo.Context) (*sessions.Session, error) {
	sessionData := c.Get(sessionKeyContext)
	if sessionData == nil {
		sess, err := session.Get("session", c)
		if err != nil {
			return nil, err
		}
		return sess, nil
	}

	sess, ok := sessionData.(*sessions.Session)
	if !ok {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "invalid session type")
	}

	return sess, nil
}

// SessionIdentity returns the stable per-session identity key used for rate
// limiting. The store's own session ID is preferred; stores that do not
// materialize one get a generated identity persisted into the session. The
// identity is never derived from the client's network address.
func SessionIdentity(c echo.Context) (string, error) {
	sess, err := GetSessionFromContext(c)
	if err != nil {
		return "", err
	}

	if sess.ID != "" {
		return sess.ID, nil
	}
	if sid, ok := sess.Values[sessionValueID].(string); ok && sid != "" {
		return sid, nil
	}

	sid, err := gonanoid.New()
	if err != nil {
		return "", err
	}
	sess.Values[sessionValueID] = sid
	if err := sess.Save(c.Request(), c.Response()); err != nil {
		return "", err
	}
	return sid, nil
}
