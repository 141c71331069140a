package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	"OutlierScope/pkg/logger"
)

// RequestLogging logs one debug line per request. Failures are logged by Metrics.
func RequestLogging(l *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			req := c.Request()
			l.Debug("request",
				logger.String("method", req.Method),
				logger.String("uri", req.RequestURI),
				logger.String("remote", c.RealIP()),
				logger.Int("status", c.Response().Status),
				logger.Duration("took", time.Since(start)),
			)
			return err
		}
	}
}
