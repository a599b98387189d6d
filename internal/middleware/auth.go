package middleware

import (
	"errors"

	"launchpad/internal/auth"
	"launchpad/internal/models"
	"launchpad/internal/sessions"

	"github.com/gin-gonic/gin"
)

const (
	// ContextUser holds the authenticated *models.User.
	ContextUser = "user"
	// ContextUserID holds the authenticated user id; the rate limiter
	// keys buckets on it.
	ContextUserID = "user_id"
)

// SessionAuth validates the session cookie and loads the user. When
// optional is true an absent or invalid session passes through
// unauthenticated; otherwise it is a 401.
func SessionAuth(mgr *sessions.Manager, secure bool, optional bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, _ := c.Cookie(sessions.CookieName)

		user, session, rotated, err := mgr.Validate(c.Request.Context(), sessionID)
		if err != nil {
			if !errors.Is(err, sessions.ErrUnauthenticated) {
				c.AbortWithStatusJSON(500, gin.H{
					"error": gin.H{"code": "internal", "message": "internal server error"},
				})
				return
			}
			if optional {
				c.Next()
				return
			}
			c.AbortWithStatusJSON(401, gin.H{
				"error": gin.H{"code": "unauthenticated", "message": "authentication required"},
			})
			return
		}

		if rotated {
			auth.SetSessionCookie(c, session.ID, secure)
		}
		c.Set(ContextUser, user)
		c.Set(ContextUserID, user.ID)
		c.Set("session_id", session.ID)
		c.Next()
	}
}

// RequireSuperAdmin gates the admin surface. Must run after SessionAuth.
func RequireSuperAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil || !user.IsSuperAdmin() {
			c.AbortWithStatusJSON(403, gin.H{
				"error": gin.H{"code": "forbidden", "message": "access denied"},
			})
			return
		}
		c.Next()
	}
}

// CurrentUser returns the authenticated user, or nil.
func CurrentUser(c *gin.Context) *models.User {
	if v, ok := c.Get(ContextUser); ok {
		if user, ok := v.(*models.User); ok {
			return user
		}
	}
	return nil
}
