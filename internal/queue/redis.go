package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/accessflow/internal/clock"
)

// DefaultRetention bounds how long finished and pending job hashes stay readable.
const DefaultRetention = 7 * 24 * time.Hour

type RedisQueue struct {
	client    *redis.Client
	clock     clock.Clock
	retention time.Duration
}

func NewRedisQueue(client *redis.Client, clk clock.Clock) *RedisQueue {
	return &RedisQueue{client: client, clock: clk, retention: DefaultRetention}
}

func (q *RedisQueue) WithRetention(d time.Duration) *RedisQueue {
	if d > 0 {
		q.retention = d
	}
	return q
}

func jobKey(queue, id string) string { return "queue:" + queue + ":job:" + id }
func waitKey(queue string) string    { return "queue:" + queue + ":wait" }

// Enqueue stores the job hash and appends it to the wait list in one MULTI.
// Failures are returned as-is; callers decide whether to retry.
func (q *RedisQueue) Enqueue(ctx context.Context, queue string, job Job) (string, error) {
	if !valid(queue) {
		return "", ErrUnknownQueue
	}
	data, err := json.Marshal(job.Data)
	if err != nil {
		return "", fmt.Errorf("encode job data: %w", err)
	}

	now := q.clock.Now()
	id := ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
	key := jobKey(queue, id)

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"name", job.Name,
			"data", string(data),
			"state", string(StateWaiting),
			"created_at", now.UnixMilli(),
		)
		pipe.Expire(ctx, key, q.retention)
		pipe.RPush(ctx, waitKey(queue), id)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", queue, err)
	}
	return id, nil
}

func (q *RedisQueue) Get(ctx context.Context, queue, jobID string) (*JobState, error) {
	if !valid(queue) {
		return nil, ErrUnknownQueue
	}
	fields, err := q.client.HGetAll(ctx, jobKey(queue, jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get %s job: %w", queue, err)
	}
	if len(fields) == 0 {
		return nil, ErrJobNotFound
	}

	state := &JobState{
		ID:           jobID,
		Queue:        queue,
		Name:         fields["name"],
		State:        State(fields["state"]),
		FailedReason: fields["failed_reason"],
		ReturnValue:  fields["return_value"],
	}
	if raw := fields["data"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &state.Data); err != nil {
			return nil, fmt.Errorf("decode job data: %w", err)
		}
	}
	if ms, err := strconv.ParseInt(fields["created_at"], 10, 64); err == nil {
		state.CreatedAt = time.UnixMilli(ms).UTC()
	}
	return state, nil
}

func (q *RedisQueue) Depth(ctx context.Context, queue string) (int64, error) {
	if !valid(queue) {
		return 0, ErrUnknownQueue
	}
	return q.client.LLen(ctx, waitKey(queue)).Result()
}

// Complete marks a job as succeeded with the worker's return value.
func (q *RedisQueue) Complete(ctx context.Context, queue, jobID, returnValue string) error {
	return q.finish(ctx, queue, jobID, StateCompleted, "return_value", returnValue)
}

// Fail marks a job as failed with reason.
func (q *RedisQueue) Fail(ctx context.Context, queue, jobID, reason string) error {
	return q.finish(ctx, queue, jobID, StateFailed, "failed_reason", reason)
}

func (q *RedisQueue) finish(ctx context.Context, queue, jobID string, state State, field, value string) error {
	if !valid(queue) {
		return ErrUnknownQueue
	}
	key := jobKey(queue, jobID)
	n, err := q.client.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrJobNotFound
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "state", string(state), field, value)
		pipe.LRem(ctx, waitKey(queue), 0, jobID)
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}
