package report

import (
	"pgroute/internal/engine"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the run's Prometheus collectors on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	JobsTotal    *prometheus.CounterVec
	RowsTotal    *prometheus.CounterVec
	JobDuration  *prometheus.HistogramVec
	LastRunStart prometheus.Gauge
	LastRunEnd   prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		JobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgroute_copy_jobs_total",
				Help: "Copy jobs by target and outcome",
			},
			[]string{"target", "status"},
		),
		RowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgroute_copy_rows_total",
				Help: "Rows inserted into each target",
			},
			[]string{"target"},
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pgroute_copy_duration_seconds",
				Help:    "Wall time of one copy job",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"target"},
		),
		LastRunStart: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pgroute_last_run_start_timestamp_seconds",
			Help: "Start of the last run",
		}),
		LastRunEnd: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pgroute_last_run_end_timestamp_seconds",
			Help: "End of the last run",
		}),
	}
	m.Registry.MustRegister(m.JobsTotal, m.RowsTotal, m.JobDuration, m.LastRunStart, m.LastRunEnd)
	return m
}

// Observe records one report.
func (m *Metrics) Observe(r *engine.RunReport) {
	for _, res := range r.Results {
		m.JobsTotal.WithLabelValues(res.Target, string(res.Status)).Inc()
		if res.Rows > 0 {
			m.RowsTotal.WithLabelValues(res.Target).Add(float64(res.Rows))
		}
		if res.Duration > 0 {
			m.JobDuration.WithLabelValues(res.Target).Observe(res.Duration.Seconds())
		}
	}
	m.LastRunStart.Set(float64(r.StartedAt.Unix()))
	m.LastRunEnd.Set(float64(r.FinishedAt.Unix()))
}

// TextfileSink writes metrics for the node-exporter textfile collector.
type TextfileSink struct {
	Path    string
	Metrics *Metrics
}

func (s TextfileSink) Write(r *engine.RunReport) error {
	m := s.Metrics
	if m == nil {
		m = NewMetrics()
	}
	m.Observe(r)
	if err := prometheus.WriteToTextfile(s.Path, m.Registry); err != nil {
		return errors.Wrapf(err, "failed to write metrics to %s", s.Path)
	}
	return nil
}
