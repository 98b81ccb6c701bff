package cmd

import (
	"context"
	"fmt"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/dedupe"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/ratelimit"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

const redisPrefix = "cortex:automation:"

// NewAdmissionStores returns the rate limiter and dedupe store. An empty
// redisURL keeps both in memory, which is only correct for a single engine.
func NewAdmissionStores(
	ctx context.Context,
	redisURL string,
	clock clockwork.Clock,
) (ratelimit.Limiter, dedupe.Store, func() error, error) {
	if redisURL == "" {
		return ratelimit.NewMemory(clock), dedupe.NewMemory(clock), func() error { return nil }, nil
	}

	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, nil, nil, fmt.Errorf("failed to reach redis: %w", err)
	}

	return ratelimit.NewRedis(client, clock, redisPrefix+"rate:"),
		dedupe.NewRedis(client, redisPrefix+"dedupe:"),
		client.Close,
		nil
}
