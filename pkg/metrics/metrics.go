// Package metrics is a small Prometheus text-format registry covering the
// counters, gauges, and histograms the docent binaries export, without
// pulling in a client library. Series with labels are named with Labels,
// so each label combination is its own line under one family header.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBuckets span the latencies seen across the pipeline, from
// sub-second store queries to multi-minute generation calls. Seconds.
var DefaultBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

// Counter is a monotonically increasing value.
type Counter struct{ n atomic.Uint64 }

func (c *Counter) Inc()          { c.n.Add(1) }
func (c *Counter) Add(n uint64)  { c.n.Add(n) }
func (c *Counter) Value() uint64 { return c.n.Load() }

// Gauge is a value that can move in both directions.
type Gauge struct{ n atomic.Int64 }

func (g *Gauge) Set(v int64)  { g.n.Store(v) }
func (g *Gauge) Add(d int64)  { g.n.Add(d) }
func (g *Gauge) Inc()         { g.n.Add(1) }
func (g *Gauge) Dec()         { g.n.Add(-1) }
func (g *Gauge) Value() int64 { return g.n.Load() }

// Histogram counts observations into fixed upper-bound buckets. Each count
// lands in the first bucket that fits; Render accumulates cumulatively.
type Histogram struct {
	mu     sync.Mutex
	bounds []float64
	counts []uint64
	sum    float64
	total  uint64
}

// Observe records one value.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	h.sum += v
	h.total++
	for i, b := range h.bounds {
		if v <= b {
			h.counts[i]++
			break
		}
	}
	h.mu.Unlock()
}

// Since observes the seconds elapsed from start.
func (h *Histogram) Since(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

func (h *Histogram) snapshot() (bounds []float64, counts []uint64, sum float64, total uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := make([]uint64, len(h.counts))
	copy(c, h.counts)
	return h.bounds, c, h.sum, h.total
}

type kind int

const (
	kindCounter kind = iota
	kindGauge
	kindHistogram
)

func (k kind) String() string {
	switch k {
	case kindCounter:
		return "counter"
	case kindGauge:
		return "gauge"
	default:
		return "histogram"
	}
}

// family groups every labelled series of one metric name under a single
// HELP and TYPE header.
type family struct {
	name   string
	help   string
	kind   kind
	series map[string]any
}

// Registry hands out metrics by name and renders them in the Prometheus
// text exposition format. Families appear in creation order, series within
// a family in lexical order.
type Registry struct {
	mu       sync.Mutex
	families []*family
	byName   map[string]*family
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*family)}
}

// family returns the family for a base name, creating it on first use.
// Must hold mu.
func (r *Registry) family(base string, k kind, help string) *family {
	f, ok := r.byName[base]
	if !ok {
		f = &family{name: base, kind: k, series: make(map[string]any)}
		r.byName[base] = f
		r.families = append(r.families, f)
	}
	if f.help == "" {
		f.help = help
	}
	return f
}

// Counter returns the counter registered under name, creating it on first
// use. Bake label pairs into the name with Labels to get distinct series
// of the same family.
func (r *Registry) Counter(name, help string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	base, _ := splitSeries(name)
	f := r.family(base, kindCounter, help)
	if m, ok := f.series[name]; ok {
		return m.(*Counter)
	}
	c := &Counter{}
	f.series[name] = c
	return c
}

// Gauge returns the gauge registered under name, creating it on first use.
func (r *Registry) Gauge(name, help string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	base, _ := splitSeries(name)
	f := r.family(base, kindGauge, help)
	if m, ok := f.series[name]; ok {
		return m.(*Gauge)
	}
	g := &Gauge{}
	f.series[name] = g
	return g
}

// Histogram returns the histogram registered under name, creating it on
// first use. With no explicit bounds it uses DefaultBuckets.
func (r *Registry) Histogram(name, help string, bounds ...float64) *Histogram {
	if len(bounds) == 0 {
		bounds = DefaultBuckets
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	base, _ := splitSeries(name)
	f := r.family(base, kindHistogram, help)
	if m, ok := f.series[name]; ok {
		return m.(*Histogram)
	}
	bs := make([]float64, len(bounds))
	copy(bs, bounds)
	sort.Float64s(bs)
	h := &Histogram{bounds: bs, counts: make([]uint64, len(bs))}
	f.series[name] = h
	return h
}

// Labels bakes label pairs into a metric name, so
// Labels("docent_jobs_total", "outcome", "ok") names the series
// `docent_jobs_total{outcome="ok"}`. An odd pair count returns the name
// unchanged.
func Labels(name string, kv ...string) string {
	if len(kv) == 0 || len(kv)%2 != 0 {
		return name
	}
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i := 0; i < len(kv); i += 2 {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%q", kv[i], kv[i+1])
	}
	b.WriteByte('}')
	return b.String()
}

// splitSeries splits `name{k="v"}` into the family name and the label body.
func splitSeries(series string) (base, labels string) {
	i := strings.IndexByte(series, '{')
	if i < 0 {
		return series, ""
	}
	return series[:i], strings.TrimSuffix(series[i+1:], "}")
}

// Render returns the registry in the Prometheus text exposition format.
func (r *Registry) Render() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	for _, f := range r.families {
		if f.help != "" {
			fmt.Fprintf(&b, "# HELP %s %s\n", f.name, f.help)
		}
		fmt.Fprintf(&b, "# TYPE %s %s\n", f.name, f.kind)
		for _, name := range sortedSeries(f) {
			switch m := f.series[name].(type) {
			case *Counter:
				fmt.Fprintf(&b, "%s %d\n", name, m.Value())
			case *Gauge:
				fmt.Fprintf(&b, "%s %d\n", name, m.Value())
			case *Histogram:
				renderHistogram(&b, f.name, name, m)
			}
		}
	}
	return b.String()
}

func sortedSeries(f *family) []string {
	names := make([]string, 0, len(f.series))
	for n := range f.series {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func renderHistogram(b *strings.Builder, base, series string, h *Histogram) {
	bounds, counts, sum, total := h.snapshot()
	_, labels := splitSeries(series)
	var cum uint64
	for i, bound := range bounds {
		cum += counts[i]
		fmt.Fprintf(b, "%s_bucket%s %d\n", base, withLE(labels, fmt.Sprintf("%g", bound)), cum)
	}
	fmt.Fprintf(b, "%s_bucket%s %d\n", base, withLE(labels, "+Inf"), total)
	fmt.Fprintf(b, "%s_sum%s %g\n", base, wrapLabels(labels), sum)
	fmt.Fprintf(b, "%s_count%s %d\n", base, wrapLabels(labels), total)
}

// withLE appends the le bucket label to an existing label body.
func withLE(labels, bound string) string {
	le := fmt.Sprintf("le=%q", bound)
	if labels == "" {
		return "{" + le + "}"
	}
	return "{" + labels + "," + le + "}"
}

func wrapLabels(labels string) string {
	if labels == "" {
		return ""
	}
	return "{" + labels + "}"
}

// Handler serves the registry for a Prometheus scrape.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		io.WriteString(w, r.Render())
	})
}
