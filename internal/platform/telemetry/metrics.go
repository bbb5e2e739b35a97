package telemetry

import (
	"math"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// Duration buckets in seconds. The tail runs longer than typical HTTP
// defaults because match and radar requests block on model completions.
var defaultDurationBuckets = []float64{
	0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0,
}

// Size buckets in bytes for request and response bodies.
var defaultSizeBuckets = []float64{
	100, 1_000, 10_000, 100_000, 1_000_000, 10_000_000,
}

// histogram is a lock-free fixed-boundary histogram. Bucket cells hold
// per-bucket counts, not running totals; cumulative accumulates them at
// export time.
type histogram struct {
	bounds  []float64
	buckets []atomic.Int64
	n       atomic.Int64
	sumBits atomic.Uint64
}

func newHistogram(bounds []float64) *histogram {
	return &histogram{bounds: bounds, buckets: make([]atomic.Int64, len(bounds))}
}

// Observe files v into the first bucket whose upper bound admits it.
// Values beyond the last bound count only toward n, which backs the
// +Inf bucket.
func (h *histogram) Observe(v float64) {
	h.n.Add(1)
	for {
		old := h.sumBits.Load()
		if h.sumBits.CompareAndSwap(old, math.Float64bits(math.Float64frombits(old)+v)) {
			break
		}
	}
	if i := sort.SearchFloat64s(h.bounds, v); i < len(h.bounds) {
		h.buckets[i].Add(1)
	}
}

func (h *histogram) Count() int64 { return h.n.Load() }

func (h *histogram) Sum() float64 { return math.Float64frombits(h.sumBits.Load()) }

// cumulative returns running bucket totals in exposition order.
func (h *histogram) cumulative() []int64 {
	out := make([]int64, len(h.buckets))
	var run int64
	for i := range h.buckets {
		run += h.buckets[i].Load()
		out[i] = run
	}
	return out
}

// histogramSet keys histograms by a label tuple.
type histogramSet struct {
	mu sync.RWMutex
	m  map[string]*histogram
}

func newHistogramSet() *histogramSet {
	return &histogramSet{m: make(map[string]*histogram)}
}

func (s *histogramSet) at(key string) *histogram {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.m[key]
}

func (s *histogramSet) getOrCreate(key string, bounds []float64) *histogram {
	s.mu.RLock()
	h, ok := s.m[key]
	s.mu.RUnlock()
	if ok {
		return h
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok = s.m[key]; !ok {
		h = newHistogram(bounds)
		s.m[key] = h
	}
	return h
}

func (s *histogramSet) snapshot() map[string]*histogram {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*histogram, len(s.m))
	for k, v := range s.m {
		out[k] = v
	}
	return out
}

// LabelsKey canonicalizes the (method, route, status) tuple used to key
// per-route request duration histograms.
func LabelsKey(method, route, statusCode string) string {
	return method + "|" + route + "|" + statusCode
}

// int64map backs both counters and gauges: named atomic cells created
// on first touch.
type int64map struct {
	mu sync.RWMutex
	m  map[string]*atomic.Int64
}

func newInt64Map() *int64map {
	return &int64map{m: make(map[string]*atomic.Int64)}
}

func (im *int64map) cell(name string) *atomic.Int64 {
	im.mu.RLock()
	c, ok := im.m[name]
	im.mu.RUnlock()
	if ok {
		return c
	}
	im.mu.Lock()
	defer im.mu.Unlock()
	if c, ok = im.m[name]; !ok {
		c = new(atomic.Int64)
		im.m[name] = c
	}
	return c
}

func (im *int64map) add(name string, delta int64) { im.cell(name).Add(delta) }

func (im *int64map) set(name string, v int64) { im.cell(name).Store(v) }

// get reads a cell without creating it; absent cells read zero.
func (im *int64map) get(name string) int64 {
	im.mu.RLock()
	c, ok := im.m[name]
	im.mu.RUnlock()
	if !ok {
		return 0
	}
	return c.Load()
}

func (im *int64map) snapshot() map[string]int64 {
	im.mu.RLock()
	defer im.mu.RUnlock()
	out := make(map[string]int64, len(im.m))
	for k, c := range im.m {
		out[k] = c.Load()
	}
	return out
}

// GetHistogram returns the named unlabeled histogram, or nil if nothing
// has been observed under that name.
func (tp *TelemetryProvider) GetHistogram(name string) *histogram {
	tp.hmu.RLock()
	defer tp.hmu.RUnlock()
	return tp.plain[name]
}

// GetLabeledHistogram returns one keyed histogram under name, or nil.
func (tp *TelemetryProvider) GetLabeledHistogram(name, key string) *histogram {
	tp.hmu.RLock()
	s, ok := tp.byLabel[name]
	tp.hmu.RUnlock()
	if !ok {
		return nil
	}
	return s.at(key)
}

// GetGauge reads a gauge; absent gauges read zero.
func (tp *TelemetryProvider) GetGauge(name string) int64 {
	return tp.gauges.get(name)
}

// GetCounter reads a two-label counter; absent counters read zero.
func (tp *TelemetryProvider) GetCounter(name, label1, label2 string) int64 {
	return tp.counters.get(name + "|" + label1 + "|" + label2)
}

func (tp *TelemetryProvider) histogramNamed(name string, bounds []float64) *histogram {
	tp.hmu.RLock()
	h, ok := tp.plain[name]
	tp.hmu.RUnlock()
	if ok {
		return h
	}
	tp.hmu.Lock()
	defer tp.hmu.Unlock()
	if h, ok = tp.plain[name]; !ok {
		h = newHistogram(bounds)
		tp.plain[name] = h
	}
	return h
}

func (tp *TelemetryProvider) labeledNamed(name string) *histogramSet {
	tp.hmu.RLock()
	s, ok := tp.byLabel[name]
	tp.hmu.RUnlock()
	if ok {
		return s
	}
	tp.hmu.Lock()
	defer tp.hmu.Unlock()
	if s, ok = tp.byLabel[name]; !ok {
		s = newHistogramSet()
		tp.byLabel[name] = s
	}
	return s
}

// MetricsMiddleware records the OTel HTTP server metric set: request
// duration (global and per method/route/status), in-flight requests,
// and body sizes.
func (tp *TelemetryProvider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !tp.cfg.metricsOn() {
				return next(c)
			}

			tp.gauges.add("http.server.active_requests", 1)
			start := time.Now()

			err := next(c)

			tp.gauges.add("http.server.active_requests", -1)
			elapsed := time.Since(start).Seconds()

			req := c.Request()
			route := c.Path()
			if route == "" {
				route = req.URL.Path
			}
			status := strconv.Itoa(c.Response().Status)

			tp.histogramNamed("http.server.request.duration", defaultDurationBuckets).Observe(elapsed)
			tp.labeledNamed("http.server.request.duration").
				getOrCreate(LabelsKey(req.Method, route, status), defaultDurationBuckets).
				Observe(elapsed)

			if req.ContentLength > 0 {
				tp.histogramNamed("http.server.request.size", defaultSizeBuckets).Observe(float64(req.ContentLength))
			}
			if size := c.Response().Size; size > 0 {
				tp.histogramNamed("http.server.response.size", defaultSizeBuckets).Observe(float64(size))
			}
			return err
		}
	}
}
