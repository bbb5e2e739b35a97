package middleware

import (
	"net/http"
	"regexp"
	"strings"
	"unicode"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// maxHeaderValueSize caps any single header value; larger values are
// rejected outright.
const maxHeaderValueSize = 8192

var (
	// Warn-only probe. Parameterized queries make these inert, so a hit
	// is logged for the security trail rather than blocked.
	sqlProbe = regexp.MustCompile(`(?i)('+\s*;\s*DROP\b|UNION\s+SELECT\b|'\s+OR\s+1\s*=\s*1|1\s*=\s*1)`)

	// Markup and event-handler injection is blocked outright.
	scriptProbe = regexp.MustCompile(`(?i)(<script|javascript\s*:|on\w+\s*=)`)
)

// Sanitize screens requests with injection warnings silenced.
func Sanitize() echo.MiddlewareFunc {
	return SanitizeWithLogger(zerolog.Nop())
}

// SanitizeWithLogger screens every request for hostile path shapes,
// header smuggling, and query-parameter injection before it reaches a
// handler. Rejected requests get a 400 with the reason; SQL-looking
// parameters pass through but are logged.
func SanitizeWithLogger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			raw := req.URL.RawPath
			if raw == "" {
				raw = path
			}

			if reason := checkPath(path, raw); reason != "" {
				return reject(c, reason)
			}
			if reason := checkHeaders(req.Header); reason != "" {
				return reject(c, reason)
			}

			for key, vals := range req.URL.Query() {
				for _, v := range vals {
					if hasNull(key) || hasNull(v) {
						return reject(c, "null byte in query parameter")
					}
					if sqlProbe.MatchString(v) {
						logger.Warn().
							Str("param", key).
							Str("path", path).
							Str("client_ip", c.RealIP()).
							Msg("potential SQL injection pattern in query parameter")
					}
					if scriptProbe.MatchString(key) || scriptProbe.MatchString(v) {
						return reject(c, "script injection in query parameter")
					}
				}
			}

			return next(c)
		}
	}
}

// checkPath flags traversal sequences and null bytes in either the
// decoded or the raw request path. Probes are matched case-insensitively
// so %2E and %2e both register; double encoding (%252e) counts too.
func checkPath(decoded, raw string) string {
	for _, s := range []string{decoded, raw} {
		low := strings.ToLower(s)
		if strings.Contains(low, "..") ||
			strings.Contains(low, "%2e%2e") ||
			strings.Contains(low, "%252e") {
			return "path traversal detected"
		}
		if strings.Contains(low, "\x00") || strings.Contains(low, "%00") {
			return "null byte in path"
		}
	}
	return ""
}

func checkHeaders(h http.Header) string {
	for name, vals := range h {
		for _, v := range vals {
			if len(v) > maxHeaderValueSize {
				return "oversized header value: " + name
			}
			if strings.ContainsAny(v, "\r\n") {
				return "newline in header value: " + name
			}
		}
	}
	return ""
}

func hasNull(s string) bool {
	return strings.ContainsRune(s, 0) || strings.Contains(strings.ToLower(s), "%00")
}

func reject(c echo.Context, reason string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": reason})
}

// SanitizeString strips null bytes and non-printing control characters
// (keeping \n, \r, \t) from free text and trims surrounding whitespace.
// The match intake runs pasted chart text and transcripts through it
// before they reach the extraction pipeline.
func SanitizeString(input string) string {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', '\t':
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, input)
	return strings.TrimSpace(clean)
}
