// Package ratelimit enforces the per-workflow sliding window on run admission.
package ratelimit

import (
	"context"
	"time"
)

// Window is the span every workflow's maxExecutionsPerHour is counted over.
const Window = time.Hour

// Limiter admits at most limit events per key within any trailing window.
// Allow both checks and records, atomically: a denied call records nothing.
// id names the recorded admission so Release can take it back when the
// admission is abandoned.
type Limiter interface {
	Allow(ctx context.Context, key, id string, limit int, window time.Duration) (bool, error)
	Release(ctx context.Context, key, id string) error
}

// Key returns the limiter key of a workflow.
func Key(workflowID string) string {
	return "ratelimit:" + workflowID
}
