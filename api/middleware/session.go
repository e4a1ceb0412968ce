package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/feichai0017/remi2ai/pkg/logger"
)

const (
	SessionCookie = "remi_session"
	sessionKey    = "sessionId"
	cookieMaxAge  = 30 * 24 * 60 * 60
)

// Session identifies the browser by the remi_session cookie, issuing one on first contact.
func Session(newID func() string, secure bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := c.Cookie(SessionCookie)
		if err != nil || uuid.Validate(id) != nil {
			id = newID()
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(SessionCookie, id, cookieMaxAge, "/", "", secure, true)
		}

		c.Set(sessionKey, id)
		c.Request = c.Request.WithContext(logger.WithSessionID(c.Request.Context(), id))
		c.Next()
	}
}

// SessionID returns the id stored by Session.
func SessionID(c *gin.Context) string {
	return c.GetString(sessionKey)
}

// RequestLogger 记录每个请求
func RequestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		fields := []logger.Field{
			logger.String("method", c.Request.Method),
			logger.String("path", c.FullPath()),
			logger.Int("status", c.Writer.Status()),
		}
		if id := SessionID(c); id != "" {
			fields = append(fields, logger.String("sessionId", id))
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Warn("Request failed", fields...)
			return
		}
		log.Debug("Request handled", fields...)
	}
}
