package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

// RateLimiter returns a per-IP rate limiting middleware allowing rps requests
// per second. Admin routes under /_proxy/ are never limited so probes keep working.
func RateLimiter(rps float64, logger *slog.Logger) echo.MiddlewareFunc {
	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Skipper: func(c echo.Context) bool {
			return strings.HasPrefix(c.Request().URL.Path, "/_proxy/")
		},
		Store: echomw.NewRateLimiterMemoryStore(rate.Limit(rps)),
		DenyHandler: func(c echo.Context, identifier string, _ error) error {
			logger.Warn("rate limited",
				"remote_ip", identifier,
				"uri", c.Request().RequestURI,
			)
			return c.NoContent(http.StatusTooManyRequests)
		},
	})
}
