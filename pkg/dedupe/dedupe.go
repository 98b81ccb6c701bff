// Package dedupe remembers fire intents so the same intent never starts two runs.
package dedupe

import (
	"context"
	"time"
)

// DefaultWindow is how long a dedupe key is remembered when the workflow sets none.
const DefaultWindow = 24 * time.Hour

// Store claims dedupe keys. Claim returns false when key is already held.
type Store interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Key scopes an intent's dedupe key to its workflow.
func Key(workflowID, intentKey string) string {
	return "dedupe:" + workflowID + ":" + intentKey
}
