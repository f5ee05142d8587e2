package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifySweepError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"deadline", fmt.Errorf("sweep: %w", context.DeadlineExceeded), SweepReasonDeadlineExceeded},
		{"lock_timeout", &pgconn.PgError{Code: "55P03"}, SweepReasonDBLockTimeout},
		{"db", &pgconn.PgError{Code: "23505"}, SweepReasonDB},
		{"unknown", errors.New("boom"), SweepReasonUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifySweepError(tc.err))
		})
	}
}

func TestSweeperMetricsObserveRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := newSweeperMetrics(reg, Config{ServiceName: "test", Environment: "test"})
	require.NoError(t, err)

	m.ObserveRun("grace_expiry", 10*time.Millisecond, 3, nil)
	m.ObserveRun("grace_expiry", 10*time.Millisecond, 0, context.DeadlineExceeded)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.runs.WithLabelValues("grace_expiry")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.swept.WithLabelValues("grace_expiry")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.errors.WithLabelValues("grace_expiry", SweepReasonDeadlineExceeded)))
}
