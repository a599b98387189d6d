package auth

import (
	"net/http"

	"launchpad/internal/sessions"

	"github.com/gin-gonic/gin"
)

// SetSessionCookie emits the session cookie. http-only, same-site lax,
// path /; secure outside development.
func SetSessionCookie(c *gin.Context, sessionID string, secure bool) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     sessions.CookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(sessions.Duration.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie expires the session cookie.
func ClearSessionCookie(c *gin.Context, secure bool) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     sessions.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
