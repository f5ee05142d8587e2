package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/accessflow/internal/clock"
	obsmetrics "github.com/smallbiznis/accessflow/internal/observability/metrics"
	"github.com/smallbiznis/accessflow/internal/queue"
	"github.com/smallbiznis/accessflow/internal/redis"
	subscriptiondomain "github.com/smallbiznis/accessflow/internal/subscription/domain"
	"github.com/smallbiznis/accessflow/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSubscriptions struct {
	subscriptiondomain.Service

	mu      sync.Mutex
	calls   []time.Time
	pending int64
	err     error
	block   bool
}

func (f *fakeSubscriptions) ExpireElapsedGrace(ctx context.Context, now time.Time, limit int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, now)
	if f.block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	if f.err != nil {
		return 0, f.err
	}
	n := f.pending
	if n > int64(limit) {
		n = int64(limit)
	}
	f.pending -= n
	return n, nil
}

type fakeQueue struct {
	queue.Queue
	depths map[string]int64
}

func (f *fakeQueue) Depth(_ context.Context, name string) (int64, error) {
	return f.depths[name], nil
}

func newScheduler(t *testing.T, subs *fakeSubscriptions, mutate func(*Params)) *Scheduler {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	p := Params{
		Log:             zap.NewNop(),
		GenID:           node,
		Clock:           clock.NewFakeClock(time.Date(2026, 5, 14, 12, 0, 0, 0, time.UTC)),
		SubscriptionSvc: subs,
		Config:          Config{BatchSize: 2},
	}
	if mutate != nil {
		mutate(&p)
	}
	s, err := New(p)
	require.NoError(t, err)
	return s
}

func TestNewRequiresSubscriptionService(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop(), Clock: clock.System{}})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestExpireGraceDrainsInBatches(t *testing.T) {
	subs := &fakeSubscriptions{pending: 5}
	s := newScheduler(t, subs, nil)

	changed, err := s.ExpireGraceJob(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), changed)
	assert.Len(t, subs.calls, 3)
	assert.Equal(t, time.Date(2026, 5, 14, 12, 0, 0, 0, time.UTC), subs.calls[0])
}

func TestRunOnceRecordsSweeperMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	m, err := obsmetrics.NewSweeperMetrics(obsmetrics.Config{ServiceName: "accessflow", Environment: "test"})
	require.NoError(t, err)

	subs := &fakeSubscriptions{pending: 1}
	s := newScheduler(t, subs, func(p *Params) { p.SweeperMetrics = m })

	require.NoError(t, s.RunOnce(context.Background()))

	labels := map[string]string{"service": "accessflow", "env": "test", "job": JobExpireGrace}
	assert.Equal(t, float64(1), getCounterValue(t, registry, "accessflow_sweeper_runs_total", labels))
	assert.Equal(t, float64(1), getCounterValue(t, registry, "accessflow_sweeper_items_total", labels))
}

func TestRunOnceReturnsJobErrors(t *testing.T) {
	subs := &fakeSubscriptions{err: errors.New("db down")}
	s := newScheduler(t, subs, nil)

	err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), JobExpireGrace)
}

func TestRunJobTimeoutIsSoft(t *testing.T) {
	subs := &fakeSubscriptions{block: true}
	s := newScheduler(t, subs, nil)

	err := s.runJob(context.Background(), JobExpireGrace, 5*time.Millisecond, s.ExpireGraceJob)
	assert.NoError(t, err)
}

func TestRunJobSkipsWhenLeaseHeldElsewhere(t *testing.T) {
	client, _ := testutil.OpenRedis(t)
	locker := redis.NewLocker(client)
	ctx := context.Background()

	_, ok, err := locker.TryLock(ctx, lockPrefix+JobExpireGrace, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	subs := &fakeSubscriptions{pending: 3}
	s := newScheduler(t, subs, func(p *Params) { p.Locker = locker })

	require.NoError(t, s.RunOnce(ctx))
	assert.Empty(t, subs.calls)
}

func TestRunJobReleasesLease(t *testing.T) {
	client, _ := testutil.OpenRedis(t)
	locker := redis.NewLocker(client)
	ctx := context.Background()

	subs := &fakeSubscriptions{}
	s := newScheduler(t, subs, func(p *Params) { p.Locker = locker })
	require.NoError(t, s.RunOnce(ctx))
	require.NoError(t, s.RunOnce(ctx))
	assert.Len(t, subs.calls, 2)
}

func TestQueueDepthJobReadsEveryQueue(t *testing.T) {
	q := &fakeQueue{depths: map[string]int64{queue.Captions: 4}}
	s := newScheduler(t, &fakeSubscriptions{}, func(p *Params) { p.Queue = q })

	changed, err := s.QueueDepthJob(context.Background())
	require.NoError(t, err)
	assert.Zero(t, changed)
}

func TestEnabledJobsFilter(t *testing.T) {
	subs := &fakeSubscriptions{pending: 1}
	s := newScheduler(t, subs, func(p *Params) { p.Config.EnabledJobs = []string{JobQueueDepth} })

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Empty(t, subs.calls)
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
