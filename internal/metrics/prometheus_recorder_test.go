package metrics

import (
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusRecorderCounters(t *testing.T) {
	reg := prom.NewRegistry()
	rec := NewPrometheusRecorder(reg)

	rec.IncJobOutcome("stable", ResultSuccess)
	rec.IncJobOutcome("nightly", ResultAllowed)
	rec.IncRunOutcome(ResultFailed)
	rec.IncCacheRestore(CacheTimeout)
	rec.IncCheckoutRetry()

	if got := testutil.ToFloat64(rec.jobOutcome.WithLabelValues("stable", string(ResultSuccess))); got != 1 {
		t.Fatalf("expected stable success count 1, got %v", got)
	}
	if got := testutil.ToFloat64(rec.jobOutcome.WithLabelValues("nightly", string(ResultAllowed))); got != 1 {
		t.Fatalf("expected nightly allowed count 1, got %v", got)
	}
	if got := testutil.ToFloat64(rec.runOutcome.WithLabelValues(string(ResultFailed))); got != 1 {
		t.Fatalf("expected run failed count 1, got %v", got)
	}
	if got := testutil.ToFloat64(rec.cacheRestore.WithLabelValues(string(CacheTimeout))); got != 1 {
		t.Fatalf("expected cache timeout count 1, got %v", got)
	}
	if got := testutil.ToFloat64(rec.checkoutRetries); got != 1 {
		t.Fatalf("expected checkout retry count 1, got %v", got)
	}
}

func TestPrometheusRecorderHistogramsDoNotPanic(t *testing.T) {
	rec := NewPrometheusRecorder(prom.NewRegistry())
	rec.ObserveStepDuration("stable", "test", 2*time.Second)
	rec.ObserveJobDuration("beta", time.Minute)
	rec.ObserveRunDuration(5 * time.Minute)
	rec.ObserveCheckoutDuration(10*time.Second, true)
}

// Nil receivers must be safe so the recorder can be injected optionally.
func TestNilRecorderIsSafe(t *testing.T) {
	var rec *PrometheusRecorder
	rec.ObserveStepDuration("stable", "setup", time.Second)
	rec.IncJobOutcome("stable", ResultSuccess)
	rec.IncRunOutcome(ResultSuccess)
	rec.IncCacheRestore(CacheHit)
	rec.ObserveCheckoutDuration(time.Second, false)
	rec.IncCheckoutRetry()
}

func TestNoopRecorderImplementsRecorder(t *testing.T) {
	var _ Recorder = NoopRecorder{}
	var _ Recorder = &PrometheusRecorder{}
}
