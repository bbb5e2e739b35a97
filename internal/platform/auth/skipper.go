package auth

import (
	"github.com/labstack/echo/v4"
)

// Routes served without credentials: infrastructure probes plus the
// briefing audio files, which podcast clients fetch anonymously.
var publicPaths = map[string]bool{
	"/health":             true,
	"/health/db":          true,
	"/metrics":            true,
	"/static/audio/:name": true,
}

// AuthSkipper is the echo Skipper wired into the JWT and dev auth
// middlewares. It matches on the registered route pattern rather than
// the raw URL, so /static/audio/brief.mp3 matches its :name route.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

// IsPublicPath reports whether a route pattern bypasses authentication.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
