package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
)

const namespace = "titan_sync"

// Recorder holds the metrics of a single sync run. Metrics are written to a
// node-exporter textfile at the end of the run instead of being served.
type Recorder struct {
	reg *prometheus.Registry

	fetched         *prometheus.CounterVec
	tokenRefreshes  prometheus.Counter
	upserts         *prometheus.CounterVec
	stepDuration    *prometheus.GaugeVec
	lastRunDuration prometheus.Gauge
	lastRunSuccess  prometheus.Gauge
	lastRunTime     prometheus.Gauge
}

// NewRecorder creates a Recorder with its own registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		fetched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_fetched_total",
				Help:      "Records collected from ServiceTitan, by entity.",
			},
			[]string{"entity"},
		),
		tokenRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "Access tokens acquired from the auth endpoint.",
		}),
		upserts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upserts_total",
				Help:      "Records written to the sink, by outcome.",
			},
			[]string{"outcome"},
		),
		stepDuration: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of each pipeline step in the last run.",
			},
			[]string{"step"},
		),
		lastRunDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_duration_seconds",
			Help:      "Wall time of the last run.",
		}),
		lastRunSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_success",
			Help:      "1 if the last run succeeded, 0 otherwise.",
		}),
		lastRunTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
	}
	r.reg.MustRegister(
		r.fetched,
		r.tokenRefreshes,
		r.upserts,
		r.stepDuration,
		r.lastRunDuration,
		r.lastRunSuccess,
		r.lastRunTime,
	)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.reg
}

// ObserveFetched adds n records for entity.
func (r *Recorder) ObserveFetched(entity string, n int) {
	r.fetched.WithLabelValues(entity).Add(float64(n))
}

// TokenRefreshed counts one token acquisition.
func (r *Recorder) TokenRefreshed() {
	r.tokenRefreshes.Inc()
}

// ObserveUpsert counts one sink write with the given outcome.
func (r *Recorder) ObserveUpsert(outcome string) {
	r.upserts.WithLabelValues(outcome).Inc()
}

// ObserveStep records how long a pipeline step took.
func (r *Recorder) ObserveStep(step string, d time.Duration) {
	r.stepDuration.WithLabelValues(step).Set(d.Seconds())
}

// ObserveRun records the overall result of the run.
func (r *Recorder) ObserveRun(d time.Duration, success bool, finished time.Time) {
	r.lastRunDuration.Set(d.Seconds())
	if success {
		r.lastRunSuccess.Set(1)
	} else {
		r.lastRunSuccess.Set(0)
	}
	r.lastRunTime.Set(float64(finished.Unix()))
}

// WriteTextfile writes all metrics to path in the Prometheus text format.
// An empty path is a no-op.
func (r *Recorder) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	return eris.Wrap(prometheus.WriteToTextfile(path, r.reg), "monitoring: write textfile")
}
