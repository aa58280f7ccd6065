package metrics

import (
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Opts struct {
	Name string
	Help string
}

type collector interface {
	name() string
	writePrometheus(*strings.Builder)
}

type Registry struct {
	mu         sync.RWMutex
	collectors map[string]collector
}

func NewRegistry() *Registry {
	return &Registry{
		collectors: map[string]collector{},
	}
}

func (r *Registry) MustRegister(items ...collector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range items {
		name := item.name()
		if _, exists := r.collectors[name]; exists {
			panic("metrics collector already registered: " + name)
		}
		r.collectors[name] = item
	}
}

// Expose renders every registered collector in the Prometheus text format.
func (r *Registry) Expose() string {
	r.mu.RLock()
	names := make([]string, 0, len(r.collectors))
	for name := range r.collectors {
		names = append(names, name)
	}
	sort.Strings(names)
	collectors := make([]collector, 0, len(names))
	for _, name := range names {
		collectors = append(collectors, r.collectors[name])
	}
	r.mu.RUnlock()

	var sb strings.Builder
	for _, c := range collectors {
		c.writePrometheus(&sb)
	}
	return sb.String()
}

func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(r.Expose()))
	})
}

var Default = NewRegistry()
var processStart = time.Now()

func DefaultHandler() http.Handler {
	return Default.Handler()
}

type Gauge struct {
	opts  Opts
	mu    sync.RWMutex
	value float64
}

func NewGauge(opts Opts) *Gauge {
	return &Gauge{opts: opts}
}

func (g *Gauge) name() string {
	return g.opts.Name
}

func (g *Gauge) Set(v float64) {
	g.mu.Lock()
	g.value = v
	g.mu.Unlock()
}

func (g *Gauge) Add(v float64) {
	g.mu.Lock()
	g.value += v
	g.mu.Unlock()
}

func (g *Gauge) Inc() { g.Add(1) }
func (g *Gauge) Dec() { g.Add(-1) }

func (g *Gauge) Value() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.value
}

func (g *Gauge) writePrometheus(sb *strings.Builder) {
	writeMetricHead(sb, g.opts.Name, "gauge", g.opts.Help)
	fmt.Fprintf(sb, "%s %s\n", g.opts.Name, floatToString(g.Value()))
}

type GaugeFunc struct {
	opts Opts
	fn   func() float64
}

func NewGaugeFunc(opts Opts, fn func() float64) *GaugeFunc {
	return &GaugeFunc{opts: opts, fn: fn}
}

func (g *GaugeFunc) name() string {
	return g.opts.Name
}

func (g *GaugeFunc) writePrometheus(sb *strings.Builder) {
	writeMetricHead(sb, g.opts.Name, "gauge", g.opts.Help)
	v := 0.0
	if g.fn != nil {
		v = g.fn()
	}
	fmt.Fprintf(sb, "%s %s\n", g.opts.Name, floatToString(v))
}

// labeled holds one float per label-value combination. CounterVec and GaugeVec share it.
type labeled struct {
	opts       Opts
	kind       string
	labelNames []string

	mu     sync.RWMutex
	values map[string]float64
}

func (l *labeled) init(opts Opts, kind string, labelNames []string) {
	l.opts = opts
	l.kind = kind
	l.labelNames = make([]string, len(labelNames))
	copy(l.labelNames, labelNames)
	l.values = map[string]float64{}
}

func (l *labeled) name() string {
	return l.opts.Name
}

func (l *labeled) update(labelValues []string, fn func(float64) float64) {
	if len(labelValues) != len(l.labelNames) {
		return
	}
	key := strings.Join(labelValues, "\xff")
	l.mu.Lock()
	l.values[key] = fn(l.values[key])
	l.mu.Unlock()
}

func (l *labeled) get(labelValues []string) float64 {
	key := strings.Join(labelValues, "\xff")
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.values[key]
}

func (l *labeled) writePrometheus(sb *strings.Builder) {
	writeMetricHead(sb, l.opts.Name, l.kind, l.opts.Help)

	l.mu.RLock()
	keys := make([]string, 0, len(l.values))
	for key := range l.values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	values := make([]float64, len(keys))
	for i, key := range keys {
		values[i] = l.values[key]
	}
	l.mu.RUnlock()

	for i, key := range keys {
		labelValues := strings.Split(key, "\xff")
		sb.WriteString(l.opts.Name)
		sb.WriteString("{")
		for idx, labelName := range l.labelNames {
			if idx > 0 {
				sb.WriteString(",")
			}
			sb.WriteString(labelName)
			sb.WriteString(`="`)
			sb.WriteString(escapeLabelValue(labelValues[idx]))
			sb.WriteString(`"`)
		}
		sb.WriteString("} ")
		sb.WriteString(floatToString(values[i]))
		sb.WriteString("\n")
	}
}

type CounterVec struct {
	labeled
}

func NewCounterVec(opts Opts, labelNames []string) *CounterVec {
	c := &CounterVec{}
	c.init(opts, "counter", labelNames)
	return c
}

func (c *CounterVec) WithLabelValues(values ...string) *Counter {
	return &Counter{parent: c, labelValues: values}
}

type Counter struct {
	parent      *CounterVec
	labelValues []string
}

func (c *Counter) Add(v float64) {
	if c == nil || c.parent == nil || v < 0 {
		return
	}
	c.parent.update(c.labelValues, func(cur float64) float64 { return cur + v })
}

func (c *Counter) Inc() { c.Add(1) }

func (c *Counter) Value() float64 {
	if c == nil || c.parent == nil {
		return 0
	}
	return c.parent.get(c.labelValues)
}

// GaugeVec is a labeled gauge, used for one-hot state reporting.
type GaugeVec struct {
	labeled
}

func NewGaugeVec(opts Opts, labelNames []string) *GaugeVec {
	g := &GaugeVec{}
	g.init(opts, "gauge", labelNames)
	return g
}

func (g *GaugeVec) Set(v float64, labelValues ...string) {
	g.update(labelValues, func(float64) float64 { return v })
}

func (g *GaugeVec) Value(labelValues ...string) float64 {
	return g.get(labelValues)
}

func writeMetricHead(sb *strings.Builder, name, metricType, help string) {
	fmt.Fprintf(sb, "# HELP %s %s\n", name, help)
	fmt.Fprintf(sb, "# TYPE %s %s\n", name, metricType)
}

func floatToString(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func escapeLabelValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, "\n", `\n`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return v
}

func init() {
	Default.MustRegister(
		NewGaugeFunc(Opts{
			Name: "process_uptime_seconds",
			Help: "Seconds since process start.",
		}, func() float64 {
			return time.Since(processStart).Seconds()
		}),
		NewGaugeFunc(Opts{
			Name: "go_goroutines",
			Help: "Number of goroutines.",
		}, func() float64 {
			return float64(runtime.NumGoroutine())
		}),
		NewGaugeFunc(Opts{
			Name: "go_memstats_heap_inuse_bytes",
			Help: "Heap in-use bytes.",
		}, func() float64 {
			var mem runtime.MemStats
			runtime.ReadMemStats(&mem)
			return float64(mem.HeapInuse)
		}),
	)
}
