// Package telemetry instruments the trial matching server with
// OpenTelemetry-flavored observability built on the standard library:
// span records for tracing, counter/gauge/histogram metrics, and a
// Prometheus text endpoint. The go.opentelemetry.io SDK is deliberately
// not linked; only its semantic conventions are followed.
package telemetry

import (
	"context"
	"sync"
)

// TelemetryConfig configures the provider. The enable flags are
// pointers so an unset field means "on".
type TelemetryConfig struct {
	ServiceName    string `json:"service_name"`
	ServiceVersion string `json:"service_version"`
	MetricsEnabled *bool  `json:"metrics_enabled"`
	TracingEnabled *bool  `json:"tracing_enabled"`
	Environment    string `json:"environment"`
}

func (c *TelemetryConfig) metricsOn() bool { return c.MetricsEnabled == nil || *c.MetricsEnabled }

func (c *TelemetryConfig) tracingOn() bool { return c.TracingEnabled == nil || *c.TracingEnabled }

func (c *TelemetryConfig) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "trialsense"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.0.0"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
}

// BoolPtr builds the *bool enable flags from a literal.
func BoolPtr(b bool) *bool { return &b }

// TelemetryProvider is the process-wide observability hub: it records
// spans, owns the metric stores, and serves the Prometheus endpoint.
type TelemetryProvider struct {
	cfg TelemetryConfig

	spansMu sync.Mutex
	spans   []*Span

	hmu     sync.RWMutex
	plain   map[string]*histogram
	byLabel map[string]*histogramSet

	counters *int64map
	gauges   *int64map

	shutdownOnce sync.Once
	done         chan struct{}
}

func NewTelemetryProvider(cfg TelemetryConfig) *TelemetryProvider {
	cfg.applyDefaults()
	return &TelemetryProvider{
		cfg:      cfg,
		plain:    make(map[string]*histogram),
		byLabel:  make(map[string]*histogramSet),
		counters: newInt64Map(),
		gauges:   newInt64Map(),
		done:     make(chan struct{}),
	}
}

// Shutdown is idempotent. The context parameter keeps signature parity
// with SDK providers; nothing here blocks.
func (tp *TelemetryProvider) Shutdown(context.Context) error {
	tp.shutdownOnce.Do(func() { close(tp.done) })
	return nil
}

// Resource reports the service identity attributes attached to all
// telemetry, using OTel resource naming.
func (tp *TelemetryProvider) Resource() map[string]string {
	return map[string]string{
		"service.name":           tp.cfg.ServiceName,
		"service.version":        tp.cfg.ServiceVersion,
		"deployment.environment": tp.cfg.Environment,
	}
}

// PipelineStageCounter counts one match pipeline stage execution with
// its outcome ("completed" or "failed").
func (tp *TelemetryProvider) PipelineStageCounter(stage, outcome string) {
	tp.counters.add("pipeline.stage.count|"+stage+"|"+outcome, 1)
}

// RadarScanCounter counts one safety scan of a monitored drug.
func (tp *TelemetryProvider) RadarScanCounter(target, outcome string) {
	tp.counters.add("radar.scan.count|"+target+"|"+outcome, 1)
}

// AIRequestCounter counts one model call.
func (tp *TelemetryProvider) AIRequestCounter(operation, outcome string) {
	tp.counters.add("ai.request.count|"+operation+"|"+outcome, 1)
}

// HealthMetricsRecorder updates the operational gauges fed by the
// background refresher in the server main loop.
type HealthMetricsRecorder struct {
	tp *TelemetryProvider
}

func (tp *TelemetryProvider) HealthMetrics() *HealthMetricsRecorder {
	return &HealthMetricsRecorder{tp: tp}
}

func (h *HealthMetricsRecorder) SetDBPoolActive(n int64) {
	h.tp.gauges.set("db.pool.active_connections", n)
}

func (h *HealthMetricsRecorder) SetDBPoolIdle(n int64) {
	h.tp.gauges.set("db.pool.idle_connections", n)
}

// SetNewAlerts publishes the unread radar alert count.
func (h *HealthMetricsRecorder) SetNewAlerts(n int64) {
	h.tp.gauges.set("radar.alerts.new", n)
}
