package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/accessflow/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("idempotency",
	fx.Provide(NewStore),
)

const (
	keyPrefix    = "idem:"
	bundlePrefix = "bundle:"
)

// Key derives the deterministic cache key for one logical pipeline request.
func Key(sourceURL, presetID, tenantID string) string {
	sum := sha256.Sum256([]byte(sourceURL + "|" + presetID + "|" + tenantID))
	return hex.EncodeToString(sum[:])
}

// Store keeps serialized bundles under their idempotency key and under a
// secondary bundle-id index. Writes are last-writer-wins; the TTL is the only
// cleanup.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStore(client *redis.Client, cfg config.Config) *Store {
	return &Store{client: client, ttl: cfg.Idempotency.TTL}
}

func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Get returns the value stored for key. A miss is (nil, false, nil).
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return s.get(ctx, keyPrefix+key)
}

// GetByBundleID resolves a bundle through the secondary index.
func (s *Store) GetByBundleID(ctx context.Context, bundleID string) ([]byte, bool, error) {
	return s.get(ctx, bundlePrefix+bundleID)
}

// Put writes value under both the idempotency key and the bundle index.
// A non-positive ttl uses the configured default.
func (s *Store) Put(ctx context.Context, key, bundleID string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.ttl
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, keyPrefix+key, value, ttl)
		pipe.Set(ctx, bundlePrefix+bundleID, value, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("idempotency put: %w", err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("idempotency get: %w", err)
	}
	return raw, true, nil
}
