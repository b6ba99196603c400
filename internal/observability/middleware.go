package observability

import (
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// UnmatchedRoute labels requests no route matched, so probing unknown paths
// cannot grow metric label sets.
const UnmatchedRoute = "unmatched"

func route(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return UnmatchedRoute
}

func responseBytes(c *gin.Context) int {
	// Size is -1 until something is written.
	return max(c.Writer.Size(), 0)
}

// RequestLogger logs one event per request with the response size. Requests
// to quiet routes are logged at trace level: the status logger may feed the
// monitor stream, and a metrics scraper would otherwise add a packet per scrape.
func RequestLogger(logger zerolog.Logger, quiet ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := route(c)

		var event *zerolog.Event
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		case slices.Contains(quiet, path):
			event = logger.Trace()
		default:
			event = logger.Debug()
		}
		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.String())
		}
		event.
			Str("method", c.Request.Method).
			Str("route", path).
			Int("status", status).
			Int("bytes", responseBytes(c)).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("status request")
	}
}

func RequestMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		RecordHTTPRequest(c.Request.Method, route(c), c.Writer.Status(), responseBytes(c), time.Since(start))
	}
}
