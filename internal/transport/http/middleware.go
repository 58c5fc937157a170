package http

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/freebox-portal/freebox-server/internal/store"
)

const (
	visitorCookie       = "freebox_visitor"
	visitorCookieMaxAge = 30 * 24 * int(time.Hour/time.Second)
)

// LoggerMiddleware creates a middleware that logs HTTP requests.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}

// VisitorMiddleware records first-time visitors and tags them with a cookie
// so repeat requests within the cookie's lifetime count as one session.
func VisitorMiddleware(visitors store.VisitorStore, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/ws") || strings.HasPrefix(path, "/static") {
			c.Next()
			return
		}

		if _, err := c.Cookie(visitorCookie); err != nil {
			if _, err := visitors.RecordVisit(c.Request.Context(), c.ClientIP()); err != nil {
				logger.Warn().Err(err).Str("addr", c.ClientIP()).Msg("record visit")
			}
			c.SetCookie(visitorCookie, uuid.NewString(), visitorCookieMaxAge, "/", "", false, false)
		}

		c.Next()
	}
}
