package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// Locker is a best-effort single-holder lease, used so that only one node
// runs a background sweep at a time.
type Locker struct {
	client  *goredis.Client
	release *goredis.Script
}

func NewLocker(client *goredis.Client) *Locker {
	return &Locker{client: client, release: goredis.NewScript(lockReleaseScript)}
}

// TryLock acquires key for ttl. The returned token is required to release it.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if key == "" || ttl <= 0 {
		return "", false, errors.New("lock key and ttl are required")
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// Release drops the lease only if token still holds it.
func (l *Locker) Release(ctx context.Context, key, token string) error {
	if token == "" {
		return nil
	}
	return l.release.Run(ctx, l.client, []string{key}, token).Err()
}
