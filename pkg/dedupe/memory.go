package dedupe

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// sweepEvery is how many claims pass between sweeps of expired keys.
const sweepEvery = 1024

// Memory is an in-process dedupe store.
type Memory struct {
	clock  clockwork.Clock
	mu     sync.Mutex
	keys   map[string]time.Time
	claims int
}

func NewMemory(clock clockwork.Clock) *Memory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Memory{clock: clock, keys: make(map[string]time.Time)}
}

func (m *Memory) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()

	m.claims++
	if m.claims%sweepEvery == 0 {
		m.sweep(now)
	}

	if expires, ok := m.keys[key]; ok && now.Before(expires) {
		return false, nil
	}

	m.keys[key] = now.Add(ttl)

	return true, nil
}

func (m *Memory) Release(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.keys, key)
	m.mu.Unlock()

	return nil
}

// Seed holds key until expires, used to restore claims after a restart.
// A key already held longer keeps its later expiry.
func (m *Memory) Seed(key string, expires time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.clock.Now().Before(expires) {
		return
	}

	if current, ok := m.keys[key]; ok && current.After(expires) {
		return
	}

	m.keys[key] = expires
}

// Len returns the number of keys held, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.keys)
}

func (m *Memory) sweep(now time.Time) {
	for k, expires := range m.keys {
		if !now.Before(expires) {
			delete(m.keys, k)
		}
	}
}
