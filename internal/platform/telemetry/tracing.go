package telemetry

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// SpanStatus mirrors the OTel span status code set.
type SpanStatus int

const (
	SpanStatusUnset SpanStatus = iota
	SpanStatusOK
	SpanStatusError
)

// Span is one finished operation record. Spans are held in memory and
// surfaced through GetRecordedSpans; there is no exporter wire.
type Span struct {
	TraceID    string            `json:"trace_id"`
	SpanID     string            `json:"span_id"`
	Name       string            `json:"name"`
	StartTime  time.Time         `json:"start_time"`
	EndTime    time.Time         `json:"end_time"`
	Duration   time.Duration     `json:"duration_ns"`
	StatusCode SpanStatus        `json:"status_code"`
	Attributes map[string]string `json:"attributes"`
}

// JSON renders the span for structured log sinks.
func (s *Span) JSON() string {
	b, _ := json.Marshal(s)
	return string(b)
}

// GetRecordedSpans copies out every span recorded so far.
func (tp *TelemetryProvider) GetRecordedSpans() []*Span {
	tp.spansMu.Lock()
	defer tp.spansMu.Unlock()
	out := make([]*Span, len(tp.spans))
	copy(out, tp.spans)
	return out
}

func (tp *TelemetryProvider) recordSpan(s *Span) {
	tp.spansMu.Lock()
	tp.spans = append(tp.spans, s)
	tp.spansMu.Unlock()
}

// TracingMiddleware records one span per request, named after the route
// pattern ("HTTP GET /api/v1/patients/:id") so span names stay bounded
// no matter what path parameters arrive.
func (tp *TelemetryProvider) TracingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !tp.cfg.tracingOn() {
				return next(c)
			}

			start := time.Now()
			err := next(c)
			end := time.Now()

			req := c.Request()
			route := c.Path()
			if route == "" {
				route = req.URL.Path
			}
			status := c.Response().Status

			sp := &Span{
				TraceID:   randomHex(16),
				SpanID:    randomHex(8),
				Name:      "HTTP " + req.Method + " " + route,
				StartTime: start,
				EndTime:   end,
				Duration:  end.Sub(start),
				Attributes: map[string]string{
					"http.method":      req.Method,
					"http.route":       route,
					"http.status_code": strconv.Itoa(status),
					"http.url":         req.URL.String(),
				},
			}
			if status >= 500 {
				sp.StatusCode = SpanStatusError
			} else {
				sp.StatusCode = SpanStatusOK
			}
			if res := extractAPIResource(req.URL.Path); res != "" {
				sp.Attributes["api.resource"] = res
			}
			tp.recordSpan(sp)
			return err
		}
	}
}

// extractAPIResource pulls the collection segment out of an API path:
// "/api/v1/patients/123" yields "patients". Non-API paths yield "".
func extractAPIResource(path string) string {
	const prefix = "/api/v1/"
	i := strings.Index(path, prefix)
	if i < 0 {
		return ""
	}
	seg := path[i+len(prefix):]
	if j := strings.IndexByte(seg, '/'); j >= 0 {
		seg = seg[:j]
	}
	return seg
}

// randomHex returns 2n hex characters of crypto randomness.
func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
