// Package queue is the work-queue boundary between the control plane and the
// media workers. Workers consume the wait lists and report results back into
// the job hashes.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/samber/lo"
	"go.uber.org/fx"
)

var Module = fx.Module("queue",
	fx.Provide(NewRedisQueue),
	fx.Provide(func(q *RedisQueue) Queue { return q }),
)

const (
	Captions         = "captions"
	AudioDescription = "audio-description"
	ColorAnalysis    = "color-analysis"
	VideoTransform   = "video-transform"
)

// Names lists every queue in pipeline order.
var Names = []string{Captions, AudioDescription, ColorAnalysis, VideoTransform}

type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Job is a submission. Data is stored as JSON.
type Job struct {
	Name string
	Data map[string]any
}

type JobState struct {
	ID           string
	Queue        string
	Name         string
	State        State
	Data         map[string]any
	FailedReason string
	ReturnValue  string
	CreatedAt    time.Time
}

type Queue interface {
	Enqueue(ctx context.Context, queue string, job Job) (string, error)
	// Get returns ErrJobNotFound once a job has aged out of retention.
	Get(ctx context.Context, queue, jobID string) (*JobState, error)
	Depth(ctx context.Context, queue string) (int64, error)
}

var (
	ErrJobNotFound  = errors.New("job_not_found")
	ErrUnknownQueue = errors.New("unknown_queue")
)

func valid(queue string) bool {
	return lo.Contains(Names, queue)
}
