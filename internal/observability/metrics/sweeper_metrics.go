package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	SweepReasonDeadlineExceeded = "deadline_exceeded"
	SweepReasonDBLockTimeout    = "db_lock_timeout"
	SweepReasonDB               = "db"
	SweepReasonUnknown          = "unknown"
)

// SweeperMetrics captures background sweeper health.
type SweeperMetrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	errors   *prometheus.CounterVec
	swept    *prometheus.CounterVec
}

func NewSweeperMetrics(cfg Config) (*SweeperMetrics, error) {
	return newSweeperMetrics(prometheus.DefaultRegisterer, cfg)
}

func newSweeperMetrics(registerer prometheus.Registerer, cfg Config) (*SweeperMetrics, error) {
	constLabels := serviceLabels(cfg)
	m := &SweeperMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "accessflow_sweeper_runs_total",
			Help:        "Sweeper runs by job.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "accessflow_sweeper_duration_seconds",
			Help:        "Sweeper run latency by job.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			ConstLabels: constLabels,
		}, []string{"job"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "accessflow_sweeper_errors_total",
			Help:        "Sweeper errors by low-cardinality reason.",
			ConstLabels: constLabels,
		}, []string{"job", "reason"}),
		swept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "accessflow_sweeper_items_total",
			Help:        "Rows changed by sweeper runs.",
			ConstLabels: constLabels,
		}, []string{"job"}),
	}
	for _, c := range []prometheus.Collector{m.runs, m.duration, m.errors, m.swept} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveRun records one finished run. Safe on a nil receiver.
func (m *SweeperMetrics) ObserveRun(job string, took time.Duration, changed int64, err error) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(job).Inc()
	m.duration.WithLabelValues(job).Observe(took.Seconds())
	if changed > 0 {
		m.swept.WithLabelValues(job).Add(float64(changed))
	}
	if err != nil {
		m.errors.WithLabelValues(job, ClassifySweepError(err)).Inc()
	}
}

func ClassifySweepError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return SweepReasonDeadlineExceeded
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "55P03" {
			return SweepReasonDBLockTimeout
		}
		return SweepReasonDB
	}
	return SweepReasonUnknown
}
