package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/accessflow/internal/clock"
	"github.com/smallbiznis/accessflow/internal/config"
	"go.uber.org/zap"
)

const keyPrefix = "ratelimit:"

type Result struct {
	Allowed      bool
	Limit        int
	Remaining    int
	ResetSeconds int
}

// TokenBucket is a per-tenant bucket kept in redis as a hash of
// tokens and next_refill_at (unix ms).
//
// Read, compute and write are separate round trips, so concurrent requests
// for one tenant can observe the same state and both be admitted. The limit
// is soft by contract.
type TokenBucket struct {
	client       *redis.Client
	clock        clock.Clock
	log          *zap.Logger
	enabled      bool
	capacity     int
	refillAmount int
	interval     time.Duration
}

type bucketState struct {
	tokens       int
	nextRefillAt time.Time
}

func NewTokenBucket(client *redis.Client, clk clock.Clock, cfg config.Config, log *zap.Logger) *TokenBucket {
	rl := cfg.RateLimit
	return &TokenBucket{
		client:       client,
		clock:        clk,
		log:          log.Named("ratelimit"),
		enabled:      rl.Enabled,
		capacity:     rl.Capacity,
		refillAmount: rl.RefillAmount,
		interval:     rl.RefillInterval,
	}
}

func (b *TokenBucket) Enabled() bool {
	return b != nil && b.enabled
}

func (b *TokenBucket) Capacity() int {
	return b.capacity
}

// Consume takes one token for tenantKey.
func (b *TokenBucket) Consume(ctx context.Context, tenantKey string) (Result, error) {
	if !b.Enabled() {
		return Result{Allowed: true, Limit: b.capacity, Remaining: b.capacity}, nil
	}
	if tenantKey == "" {
		return Result{}, errors.New("rate limiter key is empty")
	}

	key := keyPrefix + tenantKey
	now := b.clock.Now()

	state, err := b.load(ctx, key, now)
	if err != nil {
		return Result{}, err
	}

	next, res := b.decide(state, now)
	if !res.Allowed {
		return res, nil
	}

	if err := b.save(ctx, key, next); err != nil {
		return Result{}, err
	}
	return res, nil
}

func (b *TokenBucket) load(ctx context.Context, key string, now time.Time) (bucketState, error) {
	vals, err := b.client.HMGet(ctx, key, "tokens", "next_refill_at").Result()
	if err != nil {
		return bucketState{}, fmt.Errorf("rate limiter read: %w", err)
	}

	state := bucketState{tokens: b.capacity, nextRefillAt: now.Add(b.interval)}
	tokens, okTokens := parseInt(vals[0])
	nextMs, okNext := parseInt(vals[1])
	if okTokens && okNext {
		state.tokens = int(tokens)
		state.nextRefillAt = time.UnixMilli(nextMs)
	}
	return state, nil
}

// decide applies refill then consumption. The returned state is only
// meaningful when the result is allowed.
func (b *TokenBucket) decide(state bucketState, now time.Time) (bucketState, Result) {
	if !now.Before(state.nextRefillAt) {
		state.tokens = min(b.capacity, state.tokens+b.refillAmount)
		state.nextRefillAt = now.Add(b.interval)
	}

	res := Result{
		Limit:        b.capacity,
		ResetSeconds: secondsUntil(now, state.nextRefillAt),
	}
	if state.tokens <= 0 {
		return state, res
	}

	state.tokens--
	res.Allowed = true
	res.Remaining = state.tokens
	return state, res
}

func (b *TokenBucket) save(ctx context.Context, key string, state bucketState) error {
	_, err := b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"tokens", state.tokens,
			"next_refill_at", state.nextRefillAt.UnixMilli(),
		)
		pipe.PExpire(ctx, key, b.bucketTTL())
		return nil
	})
	if err != nil {
		return fmt.Errorf("rate limiter write: %w", err)
	}
	return nil
}

// An expired bucket reads as full. The TTL covers the refills an idle
// bucket would need to get there.
func (b *TokenBucket) bucketTTL() time.Duration {
	steps := 1
	if b.refillAmount > 0 {
		steps = int(math.Ceil(float64(b.capacity)/float64(b.refillAmount))) + 1
	}
	return time.Duration(steps) * b.interval
}

func secondsUntil(now, t time.Time) int {
	d := t.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

func parseInt(v interface{}) (int64, bool) {
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
