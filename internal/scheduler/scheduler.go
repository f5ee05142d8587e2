package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/accessflow/internal/clock"
	obsmetrics "github.com/smallbiznis/accessflow/internal/observability/metrics"
	"github.com/smallbiznis/accessflow/internal/queue"
	"github.com/smallbiznis/accessflow/internal/redis"
	subscriptiondomain "github.com/smallbiznis/accessflow/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

const lockPrefix = "scheduler:lock:"

type Params struct {
	fx.In

	Log             *zap.Logger
	GenID           *snowflake.Node
	Clock           clock.Clock
	SubscriptionSvc subscriptiondomain.Service
	Queue           queue.Queue                `optional:"true"`
	Locker          *redis.Locker              `optional:"true"`
	SweeperMetrics  *obsmetrics.SweeperMetrics `optional:"true"`
	ObsMetrics      *obsmetrics.Metrics        `optional:"true"`
	Config          Config                     `optional:"true"`
}

// Scheduler runs periodic maintenance: persisting expiry for tenants whose
// grace window has passed and sampling work queue depth.
type Scheduler struct {
	log             *zap.Logger
	cfg             Config
	genID           *snowflake.Node
	clock           clock.Clock
	subscriptionSvc subscriptiondomain.Service
	queue           queue.Queue
	locker          *redis.Locker
	sweeperMetrics  *obsmetrics.SweeperMetrics
	obsMetrics      *obsmetrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.SubscriptionSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:             p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:             p.Config.withDefaults(),
		genID:           p.GenID,
		clock:           p.Clock,
		subscriptionSvc: p.SubscriptionSvc,
		queue:           p.Queue,
		locker:          p.Locker,
		sweeperMetrics:  p.SweeperMetrics,
		obsMetrics:      p.ObsMetrics,
	}, nil
}

// runJob runs fn under the job's cluster lease and timeout. A deadline is a
// soft failure: the next tick picks up where this one stopped.
func (s *Scheduler) runJob(parent context.Context, name string, timeout time.Duration, fn func(ctx context.Context) (int64, error)) error {
	token, held, err := s.acquire(parent, name)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if !held {
		s.logger(parent).Debug("scheduler.job.skipped", zap.String("job", name), zap.String("reason", "lease_held"))
		return nil
	}
	defer s.release(name, token)

	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	run := s.newJobRun(name)
	s.logJobStart(ctx, run)

	start := time.Now()
	run.changed, run.err = fn(ctx)
	took := time.Since(start)

	s.sweeperMetrics.ObserveRun(name, took, run.changed, run.err)
	s.logJobFinish(ctx, run, took)
	if run.err == nil {
		return nil
	}
	if errors.Is(run.err, context.DeadlineExceeded) || errors.Is(run.err, context.Canceled) {
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(run.err),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", name, run.err)
}

// acquire takes the job lease. Without a locker, or when the lock store is
// unreachable, the job runs anyway: every job here is safe to run twice.
func (s *Scheduler) acquire(ctx context.Context, name string) (string, bool, error) {
	if s.locker == nil {
		return "", true, nil
	}
	token, ok, err := s.locker.TryLock(ctx, lockPrefix+name, s.cfg.LockTTL)
	if err != nil {
		s.logger(ctx).Warn("scheduler lease unavailable, running unlocked", zap.String("job", name), zap.Error(err))
		return "", true, nil
	}
	return token, ok, nil
}

func (s *Scheduler) release(name, token string) {
	if s.locker == nil || token == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.locker.Release(ctx, lockPrefix+name, token); err != nil {
		s.log.Warn("release scheduler lease", zap.String("job", name), zap.Error(err))
	}
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) (int64, error)
	}{
		{JobExpireGrace, s.isJobEnabled(JobExpireGrace), s.ExpireGraceJob},
		{JobQueueDepth, s.queue != nil && s.isJobEnabled(JobQueueDepth), s.QueueDepthJob},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.JobTimeout, job.Run))
		}
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// ExpireGraceJob drains tenants whose grace window elapsed, one batch at a time.
func (s *Scheduler) ExpireGraceJob(ctx context.Context) (int64, error) {
	var total int64
	for {
		changed, err := s.subscriptionSvc.ExpireElapsedGrace(ctx, s.clock.Now(), s.cfg.BatchSize)
		total += changed
		if err != nil {
			return total, err
		}
		if changed < int64(s.cfg.BatchSize) {
			return total, nil
		}
	}
}

func (s *Scheduler) QueueDepthJob(ctx context.Context) (int64, error) {
	var errs error
	for _, name := range queue.Names {
		depth, err := s.queue.Depth(ctx, name)
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("depth %s: %w", name, err))
			continue
		}
		s.obsMetrics.RecordQueueDepth(ctx, name, depth)
	}
	return 0, errs
}
