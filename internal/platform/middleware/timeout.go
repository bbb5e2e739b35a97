package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// Long-running endpoints fan out to external AI and registry calls and
// manage their own deadlines, so the blanket timeout skips them.
var longRunningPrefixes = []string{
	"/api/v1/match",
	"/api/v1/radar/scan",
	"/api/v1/radar/briefing",
	"/api/v1/transcribe",
	"/api/v1/extract",
	"/api/v1/evaluate",
}

// RequestTimeout puts a deadline on every other request. When the
// deadline fires before the handler finishes, the client gets a 504 and
// the handler's context is cancelled underneath it.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Request().URL.Path
			for _, p := range longRunningPrefixes {
				if strings.HasPrefix(path, p) {
					return next(c)
				}
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			// The handler runs in its own goroutine so the select below
			// can observe the deadline while it is still working.
			done := make(chan error, 1)
			go func() { done <- next(c) }()

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					// A handler that already wrote a partial response
					// cannot be given a 504 anymore.
					if c.Response().Committed {
						return nil
					}
					return c.JSON(http.StatusGatewayTimeout, map[string]string{
						"error": "request processing exceeded the allowed time limit",
					})
				}
				// Cancelled for another reason, e.g. the client went away.
				return ctx.Err()
			}
		}
	}
}
