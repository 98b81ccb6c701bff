package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// KEYS[1]=zset ARGV[1]=now ms ARGV[2]=window ms ARGV[3]=limit ARGV[4]=member
const slidingWindowLua = `
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', tonumber(ARGV[1]) - tonumber(ARGV[2]))
local count = redis.call('ZCARD', KEYS[1])
if count >= tonumber(ARGV[3]) then
  return 0
end
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`

var slidingWindow = redis.NewScript(slidingWindowLua)

// Redis is a sliding window limiter shared by every engine process using the same Redis.
type Redis struct {
	client redis.UniversalClient
	clock  clockwork.Clock
	prefix string
}

func NewRedis(client redis.UniversalClient, clock clockwork.Clock, prefix string) *Redis {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Redis{client: client, clock: clock, prefix: prefix}
}

func (r *Redis) Allow(ctx context.Context, key, id string, limit int, window time.Duration) (bool, error) {
	now := r.clock.Now().UnixMilli()

	if id == "" {
		id = uuid.NewString()
	}

	res, err := slidingWindow.Run(ctx, r.client,
		[]string{r.prefix + key},
		now, window.Milliseconds(), limit, id,
	).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit check for %s: %w", key, err)
	}

	return res == 1, nil
}

func (r *Redis) Release(ctx context.Context, key, id string) error {
	if err := r.client.ZRem(ctx, r.prefix+key, id).Err(); err != nil {
		return fmt.Errorf("release admission %s for %s: %w", id, key, err)
	}

	return nil
}
