package api

import (
	"github.com/gin-gonic/gin"
)

// apiError writes the error envelope {error: {code, message}}.
func apiError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}

func badRequest(c *gin.Context, message string) {
	apiError(c, 400, "validation", message)
}

func forbidden(c *gin.Context, message string) {
	if message == "" {
		message = "access denied"
	}
	apiError(c, 403, "forbidden", message)
}

func notFound(c *gin.Context) {
	apiError(c, 404, "not_found", "not found")
}

func conflict(c *gin.Context, message string) {
	apiError(c, 409, "conflict", message)
}

// internalError hides detail in production.
func internalError(c *gin.Context, production bool, err error) {
	message := "internal server error"
	if !production && err != nil {
		message = err.Error()
	}
	apiError(c, 500, "internal", message)
}
