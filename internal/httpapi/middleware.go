package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"fileflow/internal/app"
	"fileflow/internal/fileflow"
	"fileflow/internal/model"
)

const userKey = "fileflow.user"

// currentUser returns the user set by Auth.
func currentUser(c *gin.Context) *model.User {
	if v, ok := c.Get(userKey); ok {
		if u, ok := v.(*model.User); ok {
			return u
		}
	}
	return nil
}

// Auth resolves the Bearer credential on each request.
func Auth(a *app.FileFlowApp) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := strings.TrimSpace(c.GetHeader("Authorization"))
		if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer credential"})
			return
		}

		user, err := a.Session(c.Request.Context(), strings.TrimSpace(h[7:]))
		if err != nil {
			writeError(c, a.Logger(), err)
			c.Abort()
			return
		}
		c.Set(userKey, user)
		c.Next()
	}
}

// RequestLogger logs one line per request.
func RequestLogger(logger fileflow.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		args := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		}
		if u := currentUser(c); u != nil {
			args = append(args, "user_id", u.ID)
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Warn("request", args...)
			return
		}
		logger.Info("request", args...)
	}
}
