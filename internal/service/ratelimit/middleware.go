package ratelimit

import (
	"net/http"

	"github.com/labstack/echo/v4"

	xhttp "OutlierScope/pkg/http"
)

// Middleware rejects requests over the per-client rate with ERR_RATE_LIMITED.
// Clients are keyed by the X-Client-ID header, falling back to the remote IP.
func Middleware(l *Limiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.Request().Header.Get("X-Client-ID")
			if key == "" {
				key = c.RealIP()
			}
			if !l.Allow(key) {
				c.Response().Header().Set("Retry-After", "1")
				return xhttp.AppErrorResponse(c, xhttp.NewAppError(xhttp.CodeRateLimited, "", "rate limit exceeded", http.StatusTooManyRequests))
			}
			return next(c)
		}
	}
}
