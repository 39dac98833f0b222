package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once             sync.Once
	stepDuration     *prom.HistogramVec
	jobDuration      *prom.HistogramVec
	runDuration      prom.Histogram
	jobOutcome       *prom.CounterVec
	runOutcome       *prom.CounterVec
	cacheRestore     *prom.CounterVec
	checkoutDuration *prom.HistogramVec
	checkoutRetries  prom.Counter
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.stepDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "gantry",
			Name:      "step_duration_seconds",
			Help:      "Duration of individual pipeline steps",
			Buckets:   prom.DefBuckets,
		}, []string{"channel", "phase"})
		pr.jobDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "gantry",
			Name:      "job_duration_seconds",
			Help:      "Duration of matrix jobs",
			Buckets:   prom.DefBuckets,
		}, []string{"channel"})
		pr.runDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "gantry",
			Name:      "run_duration_seconds",
			Help:      "Total run duration",
			Buckets:   prom.DefBuckets,
		})
		pr.jobOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "gantry",
			Name:      "job_outcomes_total",
			Help:      "Job outcomes by channel and result",
		}, []string{"channel", "result"})
		pr.runOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "gantry",
			Name:      "run_outcomes_total",
			Help:      "Run outcomes by final status",
		}, []string{"result"})
		pr.cacheRestore = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "gantry",
			Name:      "cache_restore_results_total",
			Help:      "Cache restore results (hit, miss, timeout)",
		}, []string{"result"})
		pr.checkoutDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "gantry",
			Name:      "checkout_duration_seconds",
			Help:      "Duration of source checkout operations",
			Buckets:   prom.DefBuckets,
		}, []string{"result"})
		pr.checkoutRetries = prom.NewCounter(prom.CounterOpts{
			Namespace: "gantry",
			Name:      "checkout_retries_total",
			Help:      "Total checkout retries (transient failures)",
		})
		reg.MustRegister(pr.stepDuration, pr.jobDuration, pr.runDuration, pr.jobOutcome, pr.runOutcome, pr.cacheRestore, pr.checkoutDuration, pr.checkoutRetries)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveStepDuration(channel, phase string, d time.Duration) {
	if p == nil || p.stepDuration == nil {
		return
	}
	p.stepDuration.WithLabelValues(channel, phase).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveJobDuration(channel string, d time.Duration) {
	if p == nil || p.jobDuration == nil {
		return
	}
	p.jobDuration.WithLabelValues(channel).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveRunDuration(d time.Duration) {
	if p == nil || p.runDuration == nil {
		return
	}
	p.runDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncJobOutcome(channel string, result ResultLabel) {
	if p == nil || p.jobOutcome == nil {
		return
	}
	p.jobOutcome.WithLabelValues(channel, string(result)).Inc()
}

func (p *PrometheusRecorder) IncRunOutcome(result ResultLabel) {
	if p == nil || p.runOutcome == nil {
		return
	}
	p.runOutcome.WithLabelValues(string(result)).Inc()
}

func (p *PrometheusRecorder) IncCacheRestore(result CacheResultLabel) {
	if p == nil || p.cacheRestore == nil {
		return
	}
	p.cacheRestore.WithLabelValues(string(result)).Inc()
}

func (p *PrometheusRecorder) ObserveCheckoutDuration(d time.Duration, success bool) {
	if p == nil || p.checkoutDuration == nil {
		return
	}
	res := "failed"
	if success {
		res = "success"
	}
	p.checkoutDuration.WithLabelValues(res).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncCheckoutRetry() {
	if p == nil || p.checkoutRetries == nil {
		return
	}
	p.checkoutRetries.Inc()
}
