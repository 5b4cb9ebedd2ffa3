// Package metrics2 is a small named-metric registry backed by
// Prometheus. Components declare the metrics they need once (in a
// constructor) and touch them on the hot path, the same way the rest of
// this codebase uses it: GetCounter, GetFloat64SummaryMetric and
// GetInt64Metric each return a process-wide singleton for the given
// name, created lazily on first use.
package metrics2

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"go.kpiflow.build/go/sklog"
)

func init() {
	sklog.SetMetricsCallback(func(severity string) {
		GetCounter("kpiflow_log_lines_" + sanitize(severity)).Inc()
	})
}

// Counter is a monotonically increasing named value.
type Counter interface {
	Inc()
	IncBy(n int64)
	Get() int64
}

// Int64Metric is an arbitrary (not necessarily monotonic) integer gauge.
type Int64Metric interface {
	Update(v int64)
	Get() int64
}

// Float64SummaryMetric records a distribution of observed float64
// values (e.g. operation durations or batch sizes).
type Float64SummaryMetric interface {
	Observe(v float64)
}

// Timer measures the duration of an operation and records it into a
// Float64SummaryMetric (in seconds) when Stop is called.
type Timer struct {
	metric Float64SummaryMetric
	start  time.Time
}

// Stop records the elapsed time since NewTimer was called.
func (t *Timer) Stop() {
	t.metric.Observe(time.Since(t.start).Seconds())
}

var (
	mu       sync.Mutex
	counters = map[string]*promCounter{}
	gauges   = map[string]*promGauge{}
	summary  = map[string]*promSummary{}
)

type promCounter struct {
	val int64
	vec prometheus.Counter
	mu  sync.Mutex
}

func (c *promCounter) Inc() { c.IncBy(1) }

func (c *promCounter) IncBy(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.val += n
	c.vec.Add(float64(n))
}

func (c *promCounter) Get() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.val
}

type promGauge struct {
	val int64
	vec prometheus.Gauge
	mu  sync.Mutex
}

func (g *promGauge) Update(v int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.val = v
	g.vec.Set(float64(v))
}

func (g *promGauge) Get() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.val
}

type promSummary struct {
	vec prometheus.Summary
}

func (s *promSummary) Observe(v float64) {
	s.vec.Observe(v)
}

// GetCounter returns the process-wide Counter registered under name,
// creating it on first use.
func GetCounter(name string) Counter {
	mu.Lock()
	defer mu.Unlock()
	if c, ok := counters[name]; ok {
		return c
	}
	c := &promCounter{vec: prometheus.NewCounter(prometheus.CounterOpts{Name: sanitize(name)})}
	prometheus.DefaultRegisterer.Register(c.vec) // nolint:errcheck -- duplicate registration across calls is a programmer error we surface via panic-free no-op
	counters[name] = c
	return c
}

// GetInt64Metric returns the process-wide Int64Metric registered under
// name, creating it on first use.
func GetInt64Metric(name string) Int64Metric {
	mu.Lock()
	defer mu.Unlock()
	if g, ok := gauges[name]; ok {
		return g
	}
	g := &promGauge{vec: prometheus.NewGauge(prometheus.GaugeOpts{Name: sanitize(name)})}
	prometheus.DefaultRegisterer.Register(g.vec) // nolint:errcheck
	gauges[name] = g
	return g
}

// GetFloat64SummaryMetric returns the process-wide Float64SummaryMetric
// registered under name, creating it on first use.
func GetFloat64SummaryMetric(name string) Float64SummaryMetric {
	mu.Lock()
	defer mu.Unlock()
	if s, ok := summary[name]; ok {
		return s
	}
	s := &promSummary{vec: prometheus.NewSummary(prometheus.SummaryOpts{
		Name:       sanitize(name),
		Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
	})}
	prometheus.DefaultRegisterer.Register(s.vec) // nolint:errcheck
	summary[name] = s
	return s
}

// NewTimer starts a Timer that will record its elapsed duration into
// the named Float64SummaryMetric when Stop is called.
func NewTimer(name string) *Timer {
	return &Timer{metric: GetFloat64SummaryMetric(name), start: time.Now()}
}

// NewTimerFrom starts a Timer against an already-resolved metric, for
// callers that hold their summary metric in a struct field populated
// once in a constructor rather than looking it up by name on every call.
func NewTimerFrom(metric Float64SummaryMetric) *Timer {
	return &Timer{metric: metric, start: time.Now()}
}

// sanitize replaces characters Prometheus metric names disallow.
func sanitize(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
