package middleware

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// Upload endpoints accept audio recordings and pasted chart documents,
// which dwarf ordinary JSON payloads, so they get their own cap.
var uploadPrefixes = []string{
	"/api/v1/transcribe",
	"/api/v1/extract",
	"/api/v1/match",
}

var errBodyTooLarge = echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")

// BodyLimit caps request body sizes: defaultLimit for ordinary JSON
// endpoints, uploadLimit for the upload prefixes above. Limits are
// human-readable sizes ("1M", "512K", "10G"); a bare number is bytes.
// Oversized requests get a 413.
func BodyLimit(defaultLimit, uploadLimit string) echo.MiddlewareFunc {
	small := parseLimit(defaultLimit)
	big := parseLimit(uploadLimit)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}

			limit := small
			for _, p := range uploadPrefixes {
				if strings.HasPrefix(req.URL.Path, p) {
					limit = big
					break
				}
			}

			// A declared Content-Length over the cap is refused before
			// any bytes are read.
			if req.ContentLength > limit {
				return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{
					"error": fmt.Sprintf("request body exceeds %d byte limit", limit),
				})
			}

			// Clients can omit or understate Content-Length, so the cap
			// is enforced again while the handler reads.
			req.Body = &cappedBody{ReadCloser: req.Body, left: limit}
			return next(c)
		}
	}
}

// cappedBody fails reads once the configured cap is crossed.
type cappedBody struct {
	io.ReadCloser
	left    int64
	tripped bool
}

func (b *cappedBody) Read(p []byte) (int, error) {
	if b.tripped {
		return 0, errBodyTooLarge
	}
	// Read one byte past the cap so an exact overflow is detectable.
	if allow := b.left + 1; int64(len(p)) > allow {
		p = p[:allow]
	}
	n, err := b.ReadCloser.Read(p)
	b.left -= int64(n)
	if b.left < 0 {
		b.tripped = true
		return 0, errBodyTooLarge
	}
	return n, err
}

var sizeSuffixes = []struct {
	suffix string
	mult   int64
}{
	{"GB", 1 << 30}, {"G", 1 << 30},
	{"MB", 1 << 20}, {"M", 1 << 20},
	{"KB", 1 << 10}, {"K", 1 << 10},
}

// parseLimit converts a size string into bytes, falling back to 1M when
// the string is empty or malformed.
func parseLimit(s string) int64 {
	const fallback = 1 << 20
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return fallback
	}
	mult := int64(1)
	for _, sz := range sizeSuffixes {
		if strings.HasSuffix(s, sz.suffix) {
			mult = sz.mult
			s = strings.TrimSuffix(s, sz.suffix)
			break
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fallback
	}
	return n * mult
}
