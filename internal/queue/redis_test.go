package queue

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/accessflow/internal/clock"
	"github.com/smallbiznis/accessflow/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueAndGet(t *testing.T) {
	client, _ := testutil.OpenRedis(t)
	clk := clock.NewFakeClock(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	q := NewRedisQueue(client, clk)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, Captions, Job{Name: "captions", Data: map[string]any{"source_url": "https://x.test/a.mp4"}})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	state, err := q.Get(ctx, Captions, id)
	require.NoError(t, err)
	assert.Equal(t, StateWaiting, state.State)
	assert.Equal(t, "captions", state.Name)
	assert.Equal(t, "https://x.test/a.mp4", state.Data["source_url"])
	assert.Equal(t, clk.Now(), state.CreatedAt)

	depth, err := q.Depth(ctx, Captions)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestCompleteAndFail(t *testing.T) {
	client, _ := testutil.OpenRedis(t)
	q := NewRedisQueue(client, clock.System{})
	ctx := context.Background()

	ok, err := q.Enqueue(ctx, ColorAnalysis, Job{Name: "color"})
	require.NoError(t, err)
	bad, err := q.Enqueue(ctx, ColorAnalysis, Job{Name: "color"})
	require.NoError(t, err)

	require.NoError(t, q.Complete(ctx, ColorAnalysis, ok, "report.json"))
	require.NoError(t, q.Fail(ctx, ColorAnalysis, bad, "decoder crashed"))

	state, err := q.Get(ctx, ColorAnalysis, ok)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, state.State)
	assert.Equal(t, "report.json", state.ReturnValue)

	state, err = q.Get(ctx, ColorAnalysis, bad)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, state.State)
	assert.Equal(t, "decoder crashed", state.FailedReason)

	depth, err := q.Depth(ctx, ColorAnalysis)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestGetExpiredJob(t *testing.T) {
	client, mr := testutil.OpenRedis(t)
	q := NewRedisQueue(client, clock.System{}).WithRetention(time.Minute)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, Captions, Job{Name: "captions"})
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)

	_, err = q.Get(ctx, Captions, id)
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.ErrorIs(t, q.Complete(ctx, Captions, id, ""), ErrJobNotFound)
}

func TestUnknownQueue(t *testing.T) {
	client, _ := testutil.OpenRedis(t)
	q := NewRedisQueue(client, clock.System{})

	_, err := q.Enqueue(context.Background(), "transcode", Job{})
	assert.ErrorIs(t, err, ErrUnknownQueue)
}

func TestEnqueueStoreDown(t *testing.T) {
	client, mr := testutil.OpenRedis(t)
	q := NewRedisQueue(client, clock.System{})
	mr.Close()

	_, err := q.Enqueue(context.Background(), Captions, Job{Name: "captions"})
	assert.Error(t, err)
}
