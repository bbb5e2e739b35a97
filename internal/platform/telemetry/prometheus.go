package telemetry

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Counter families exported at /metrics: exposition name, internal
// name, help text, and the two label names in key order.
var counterFamilies = []struct {
	prom   string
	key    string
	help   string
	labels [2]string
}{
	{"pipeline_stage_count", "pipeline.stage.count",
		"Total match pipeline stage executions by stage and outcome.", [2]string{"stage", "outcome"}},
	{"radar_scan_count", "radar.scan.count",
		"Total radar scans by target and outcome.", [2]string{"target", "outcome"}},
	{"ai_request_count", "ai.request.count",
		"Total AI model requests by operation and outcome.", [2]string{"operation", "outcome"}},
}

var healthGauges = []struct {
	prom string
	key  string
	help string
}{
	{"db_pool_active_connections", "db.pool.active_connections",
		"Number of active database pool connections."},
	{"db_pool_idle_connections", "db.pool.idle_connections",
		"Number of idle database pool connections."},
	{"radar_alerts_new", "radar.alerts.new",
		"Number of unread radar alerts."},
}

// PrometheusHandler serves the text exposition format scraped at
// /metrics.
func (tp *TelemetryProvider) PrometheusHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder

		tp.hmu.RLock()
		durations := tp.byLabel["http.server.request.duration"]
		reqSizes := tp.plain["http.server.request.size"]
		respSizes := tp.plain["http.server.response.size"]
		tp.hmu.RUnlock()

		header(&b, "http_server_request_duration_seconds", "histogram",
			"Duration of HTTP requests in seconds.")
		if durations != nil {
			for key, h := range durations.snapshot() {
				parts := strings.SplitN(key, "|", 3)
				if len(parts) != 3 {
					continue
				}
				labels := fmt.Sprintf("method=%q,route=%q,status_code=%q", parts[0], parts[1], parts[2])
				histLines(&b, "http_server_request_duration_seconds", labels, h)
			}
		}
		b.WriteByte('\n')

		header(&b, "http_server_active_requests", "gauge", "Number of in-flight HTTP requests.")
		fmt.Fprintf(&b, "http_server_active_requests %d\n\n", tp.gauges.get("http.server.active_requests"))

		header(&b, "http_server_request_size_bytes", "histogram", "Size of HTTP request bodies in bytes.")
		if reqSizes != nil {
			histLines(&b, "http_server_request_size_bytes", "", reqSizes)
		}
		b.WriteByte('\n')

		header(&b, "http_server_response_size_bytes", "histogram", "Size of HTTP response bodies in bytes.")
		if respSizes != nil {
			histLines(&b, "http_server_response_size_bytes", "", respSizes)
		}
		b.WriteByte('\n')

		counters := tp.counters.snapshot()
		for _, fam := range counterFamilies {
			header(&b, fam.prom, "counter", fam.help)
			for key, val := range counters {
				parts := strings.SplitN(key, "|", 3)
				if len(parts) == 3 && parts[0] == fam.key {
					fmt.Fprintf(&b, "%s{%s=%q,%s=%q} %d\n",
						fam.prom, fam.labels[0], parts[1], fam.labels[1], parts[2], val)
				}
			}
			b.WriteByte('\n')
		}

		for _, g := range healthGauges {
			header(&b, g.prom, "gauge", g.help)
			fmt.Fprintf(&b, "%s %d\n\n", g.prom, tp.gauges.get(g.key))
		}

		return c.String(http.StatusOK, b.String())
	}
}

func header(b *strings.Builder, name, typ, help string) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s %s\n", name, typ)
}

// histLines writes the _bucket/_sum/_count triplet for one histogram.
// labels, when non-empty, are injected ahead of the le label.
func histLines(b *strings.Builder, name, labels string, h *histogram) {
	cum := h.cumulative()
	total := h.Count()

	prefix := ""
	suffix := ""
	if labels != "" {
		prefix = labels + ","
		suffix = "{" + labels + "}"
	}

	for i, bound := range h.bounds {
		fmt.Fprintf(b, "%s_bucket{%sle=\"%g\"} %d\n", name, prefix, bound, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{%sle=\"+Inf\"} %d\n", name, prefix, total)
	fmt.Fprintf(b, "%s_sum%s %g\n", name, suffix, h.Sum())
	fmt.Fprintf(b, "%s_count%s %d\n", name, suffix, total)
}
