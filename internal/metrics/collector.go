// Package metrics keeps process-wide counters for the transport, the
// parsers and receipt correlation, and renders them in the Prometheus text
// exposition format.
package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Default is the registry the predefined metrics below live in.
var Default = NewRegistry()

// Registry holds named counters, gauges and histograms.
type Registry struct {
	mu         sync.Mutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
	startTime  time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
		startTime:  time.Now(),
	}
}

// Counter only goes up.
type Counter struct {
	name  string
	help  string
	value atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

type Gauge struct {
	name  string
	help  string
	value atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram counts observations into cumulative buckets.
type Histogram struct {
	name   string
	help   string
	mu     sync.Mutex
	bounds []float64
	counts []int64
	count  int64
	sum    float64
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.counts[i]++
		}
	}
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Counter returns the counter registered under name, creating it if needed.
func (r *Registry) Counter(name, help string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[name]; ok {
		return c
	}
	c := &Counter{name: name, help: help}
	r.counters[name] = c
	return c
}

func (r *Registry) Gauge(name, help string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gauges[name]; ok {
		return g
	}
	g := &Gauge{name: name, help: help}
	r.gauges[name] = g
	return g
}

func (r *Registry) Histogram(name, help string, buckets []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[name]; ok {
		return h
	}
	bounds := append([]float64(nil), buckets...)
	sort.Float64s(bounds)
	if len(bounds) == 0 || !math.IsInf(bounds[len(bounds)-1], 1) {
		bounds = append(bounds, math.Inf(1))
	}
	h := &Histogram{name: name, help: help, bounds: bounds, counts: make([]int64, len(bounds))}
	r.histograms[name] = h
	return h
}

// WriteTo renders every metric in name order.
func (r *Registry) WriteTo(w io.Writer) (int64, error) {
	r.mu.Lock()
	counters := sortedValues(r.counters)
	gauges := sortedValues(r.gauges)
	histograms := sortedValues(r.histograms)
	r.mu.Unlock()

	var sb strings.Builder
	fmt.Fprintf(&sb, "# HELP signalgate_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(&sb, "# TYPE signalgate_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "signalgate_uptime_seconds %d\n", int64(time.Since(r.startTime).Seconds()))

	for _, c := range counters {
		fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", c.name, c.help, c.name, c.name, c.Value())
	}
	for _, g := range gauges {
		fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s gauge\n%s %d\n", g.name, g.help, g.name, g.name, g.Value())
	}
	for _, h := range histograms {
		h.mu.Lock()
		fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s histogram\n", h.name, h.help, h.name)
		for i, le := range h.bounds {
			bound := fmt.Sprintf("%g", le)
			if math.IsInf(le, 1) {
				bound = "+Inf"
			}
			fmt.Fprintf(&sb, "%s_bucket{le=\"%s\"} %d\n", h.name, bound, h.counts[i])
		}
		fmt.Fprintf(&sb, "%s_sum %f\n%s_count %d\n", h.name, h.sum, h.name, h.count)
		h.mu.Unlock()
	}

	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}

// Handler serves the registry over HTTP.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		r.WriteTo(w)
	}
}

func sortedValues[T any](m map[string]T) []T {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}

var (
	TransportCalls    = Default.Counter("signalgate_transport_calls_total", "signal-cli invocations")
	TransportFailures = Default.Counter("signalgate_transport_failures_total", "signal-cli invocations that failed")
	TransportTimeouts = Default.Counter("signalgate_transport_timeouts_total", "signal-cli invocations killed on timeout")
	ParseErrors       = Default.Counter("signalgate_parse_errors_total", "signal-cli outputs rejected by the parser")
	MessagesReceived  = Default.Counter("signalgate_messages_received_total", "Envelopes parsed from receive output")
	ReceiptsConfirmed = Default.Counter("signalgate_receipts_confirmed_total", "Sends confirmed by a delivery receipt")
	ReceiptsNotFound  = Default.Counter("signalgate_receipts_not_found_total", "Sends whose receipt wait gave up")
	RelayForwarded    = Default.Counter("signalgate_relay_forwarded_total", "Messages forwarded to Telegram")

	GateWaiters = Default.Gauge("signalgate_gate_waiters", "Callers waiting for the transport gate")

	TransportLatency = Default.Histogram("signalgate_transport_latency_seconds", "signal-cli invocation latency in seconds",
		[]float64{0.5, 1, 2, 5, 10, 30, 60})
)
