// Package telemetry keeps in-process counters and latency histograms for the
// konsultasi service and renders them in the Prometheus text format.
package telemetry

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultBuckets are latency boundaries in seconds.
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

type histogram struct {
	boundaries []float64
	counts     []int64 // non-cumulative, one per boundary
	count      int64
	sum        float64
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{boundaries: boundaries, counts: make([]int64, len(boundaries))}
}

func (h *histogram) observe(v float64) {
	h.count++
	h.sum += v
	for i, b := range h.boundaries {
		if v <= b {
			h.counts[i]++
			return
		}
	}
}

type opKey struct {
	operation, outcome string
}

type httpKey struct {
	method, route string
	status        int
}

// Registry implements konsultasi.Metrics.
type Registry struct {
	mu        sync.Mutex
	buckets   []float64
	ops       map[opKey]int64
	durations map[string]*histogram
	requests  map[httpKey]int64
}

func NewRegistry() *Registry {
	return &Registry{
		buckets:   DefaultBuckets,
		ops:       make(map[opKey]int64),
		durations: make(map[string]*histogram),
		requests:  make(map[httpKey]int64),
	}
}

func (r *Registry) IncOperation(operation, outcome string) {
	r.mu.Lock()
	r.ops[opKey{operation, outcome}]++
	r.mu.Unlock()
}

func (r *Registry) ObserveDuration(operation string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.durations[operation]
	if !ok {
		h = newHistogram(r.buckets)
		r.durations[operation] = h
	}
	h.observe(d.Seconds())
}

func (r *Registry) IncHTTPRequest(method, route string, status int) {
	r.mu.Lock()
	r.requests[httpKey{method, route, status}]++
	r.mu.Unlock()
}

// Operation returns the counter for one operation and outcome.
func (r *Registry) Operation(operation, outcome string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ops[opKey{operation, outcome}]
}

func escapeLabel(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return strings.ReplaceAll(v, "\n", `\n`)
}

// WriteText renders every metric in the Prometheus exposition format.
func (r *Registry) WriteText(b *strings.Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b.WriteString("# HELP konsultasi_operations_total Service operations by outcome.\n")
	b.WriteString("# TYPE konsultasi_operations_total counter\n")
	opKeys := make([]opKey, 0, len(r.ops))
	for k := range r.ops {
		opKeys = append(opKeys, k)
	}
	sort.Slice(opKeys, func(i, j int) bool {
		if opKeys[i].operation != opKeys[j].operation {
			return opKeys[i].operation < opKeys[j].operation
		}
		return opKeys[i].outcome < opKeys[j].outcome
	})
	for _, k := range opKeys {
		fmt.Fprintf(b, "konsultasi_operations_total{operation=\"%s\",outcome=\"%s\"} %d\n",
			escapeLabel(k.operation), escapeLabel(k.outcome), r.ops[k])
	}

	b.WriteString("# HELP konsultasi_operation_duration_seconds Service operation latency.\n")
	b.WriteString("# TYPE konsultasi_operation_duration_seconds histogram\n")
	ops := make([]string, 0, len(r.durations))
	for op := range r.durations {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	for _, op := range ops {
		h := r.durations[op]
		label := escapeLabel(op)
		var cum int64
		for i, boundary := range h.boundaries {
			cum += h.counts[i]
			fmt.Fprintf(b, "konsultasi_operation_duration_seconds_bucket{operation=\"%s\",le=\"%g\"} %d\n", label, boundary, cum)
		}
		fmt.Fprintf(b, "konsultasi_operation_duration_seconds_bucket{operation=\"%s\",le=\"+Inf\"} %d\n", label, h.count)
		fmt.Fprintf(b, "konsultasi_operation_duration_seconds_sum{operation=\"%s\"} %g\n", label, h.sum)
		fmt.Fprintf(b, "konsultasi_operation_duration_seconds_count{operation=\"%s\"} %d\n", label, h.count)
	}

	b.WriteString("# HELP http_requests_total HTTP requests by route and status.\n")
	b.WriteString("# TYPE http_requests_total counter\n")
	reqKeys := make([]httpKey, 0, len(r.requests))
	for k := range r.requests {
		reqKeys = append(reqKeys, k)
	}
	sort.Slice(reqKeys, func(i, j int) bool {
		a, c := reqKeys[i], reqKeys[j]
		if a.route != c.route {
			return a.route < c.route
		}
		if a.method != c.method {
			return a.method < c.method
		}
		return a.status < c.status
	})
	for _, k := range reqKeys {
		fmt.Fprintf(b, "http_requests_total{method=\"%s\",route=\"%s\",status=\"%d\"} %d\n",
			k.method, escapeLabel(k.route), k.status, r.requests[k])
	}
}

// Handler serves the registry at /metrics.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		var b strings.Builder
		r.WriteText(&b)
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(b.String()))
	}
}
