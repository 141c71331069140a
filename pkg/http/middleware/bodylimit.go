package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// BodyLimit rejects request bodies larger than limit ("512K", "8M", plain bytes).
// An unparsable limit disables the check.
func BodyLimit(limit string) echo.MiddlewareFunc {
	max, err := parseSize(limit)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if err != nil || max <= 0 {
			return next
		}
		return func(c echo.Context) error {
			req := c.Request()
			if req.ContentLength > max {
				return c.JSON(http.StatusRequestEntityTooLarge, map[string]any{
					"status":  http.StatusRequestEntityTooLarge,
					"message": http.StatusText(http.StatusRequestEntityTooLarge),
				})
			}
			if req.Body != nil {
				req.Body = http.MaxBytesReader(c.Response(), req.Body, max)
			}
			return next(c)
		}
	}
}

func parseSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0, nil
	}
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "K"):
		mult, s = 1<<10, strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		mult, s = 1<<20, strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		mult, s = 1<<30, strings.TrimSuffix(s, "G")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("body limit %q: %w", s, err)
	}
	return n * mult, nil
}
