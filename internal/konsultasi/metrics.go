package konsultasi

import "time"

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics is the observability port the service reports to.
type Metrics interface {
	IncOperation(operation, outcome string)
	ObserveDuration(operation string, d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) IncOperation(string, string)           {}
func (nopMetrics) ObserveDuration(string, time.Duration) {}
