// Package metrics defines observability hooks for run, job, and step
// outcomes, with a Prometheus-backed implementation.
package metrics

import "time"

// ResultLabel enumerates result categories for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultFailed   ResultLabel = "failed"
	ResultAllowed  ResultLabel = "allowed_failure"
	ResultCanceled ResultLabel = "canceled"
)

// CacheResultLabel enumerates cache restore outcomes.
type CacheResultLabel string

const (
	CacheHit     CacheResultLabel = "hit"
	CacheMiss    CacheResultLabel = "miss"
	CacheTimeout CacheResultLabel = "timeout"
)

// Recorder defines observability hooks for run and job metrics. Implementations
// may forward to Prometheus, OpenTelemetry, etc. All methods must be safe for nil
// receivers when using the NoopRecorder (allowing optional injection).
type Recorder interface {
	ObserveStepDuration(channel, phase string, d time.Duration)
	ObserveJobDuration(channel string, d time.Duration)
	ObserveRunDuration(d time.Duration)
	IncJobOutcome(channel string, result ResultLabel)
	IncRunOutcome(result ResultLabel)
	IncCacheRestore(result CacheResultLabel)
	ObserveCheckoutDuration(d time.Duration, success bool)
	IncCheckoutRetry()
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStepDuration(string, string, time.Duration) {}
func (NoopRecorder) ObserveJobDuration(string, time.Duration)         {}
func (NoopRecorder) ObserveRunDuration(time.Duration)                 {}
func (NoopRecorder) IncJobOutcome(string, ResultLabel)                {}
func (NoopRecorder) IncRunOutcome(ResultLabel)                        {}
func (NoopRecorder) IncCacheRestore(CacheResultLabel)                 {}
func (NoopRecorder) ObserveCheckoutDuration(time.Duration, bool)      {}
func (NoopRecorder) IncCheckoutRetry()                                {}
