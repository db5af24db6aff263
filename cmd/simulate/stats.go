package main

import (
	"fmt"
	"io"
	"slices"
	"sync"
	"text/tabwriter"
	"time"
)

type outcome int

const (
	outcomeOK outcome = iota
	outcomeConflict
	outcomeRejected // 4xx other than 409, usually a lost race on state
	outcomeError
	outcomeCount
)

// opStats collects results of one simulated operation kind.
type opStats struct {
	name string

	mu        sync.Mutex
	counts    [outcomeCount]int
	latencies []time.Duration
}

func (o *opStats) record(latency time.Duration, out outcome) {
	o.mu.Lock()
	o.counts[out]++
	o.latencies = append(o.latencies, latency)
	o.mu.Unlock()
}

type latencySummary struct {
	avg, p50, p95, p99, max time.Duration
}

func summarize(latencies []time.Duration) latencySummary {
	if len(latencies) == 0 {
		return latencySummary{}
	}
	sorted := slices.Clone(latencies)
	slices.Sort(sorted)

	var sum time.Duration
	for _, l := range sorted {
		sum += l
	}
	at := func(q float64) time.Duration {
		return sorted[min(int(float64(len(sorted))*q), len(sorted)-1)]
	}
	return latencySummary{
		avg: sum / time.Duration(len(sorted)),
		p50: at(0.50),
		p95: at(0.95),
		p99: at(0.99),
		max: sorted[len(sorted)-1],
	}
}

// writeReport prints one row per operation that ran at least once.
func writeReport(w io.Writer, elapsed time.Duration, workers int, ops []*opStats) error {
	fmt.Fprintf(w, "\nsimulation: %s, %d workers\n\n", elapsed.Round(time.Second), workers)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "operation\ttotal\tok\tconflict\trejected\terror\trps\tavg\tp50\tp95\tp99\tmax\t")
	for _, op := range ops {
		op.mu.Lock()
		total := len(op.latencies)
		counts := op.counts
		sum := summarize(op.latencies)
		op.mu.Unlock()
		if total == 0 {
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%.1f\t%s\t%s\t%s\t%s\t%s\t\n",
			op.name, total,
			counts[outcomeOK], counts[outcomeConflict], counts[outcomeRejected], counts[outcomeError],
			float64(total)/elapsed.Seconds(),
			ms(sum.avg), ms(sum.p50), ms(sum.p95), ms(sum.p99), ms(sum.max))
	}
	return tw.Flush()
}

func ms(d time.Duration) string {
	return d.Round(100 * time.Microsecond).String()
}
