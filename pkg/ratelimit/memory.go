package ratelimit

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type admission struct {
	at time.Time
	id string
}

// Memory is an in-process sliding window limiter.
type Memory struct {
	clock  clockwork.Clock
	mu     sync.Mutex
	events map[string][]admission
}

func NewMemory(clock clockwork.Clock) *Memory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Memory{clock: clock, events: make(map[string][]admission)}
}

func (m *Memory) Allow(_ context.Context, key, id string, limit int, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	events := prune(m.events[key], now.Add(-window))

	if len(events) >= limit {
		m.events[key] = events

		return false, nil
	}

	m.events[key] = append(events, admission{at: now, id: id})

	return true, nil
}

func (m *Memory) Release(_ context.Context, key, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events[key] = slices.DeleteFunc(m.events[key], func(a admission) bool { return a.id == id })

	return nil
}

// Seed records a past admission, used to restore the window after a restart.
func (m *Memory) Seed(key, id string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	events := append(m.events[key], admission{at: at, id: id})
	sort.Slice(events, func(i, j int) bool { return events[i].at.Before(events[j].at) })
	m.events[key] = events
}

// Count returns the admissions still inside window.
func (m *Memory) Count(key string, window time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	events := prune(m.events[key], m.clock.Now().Add(-window))
	m.events[key] = events

	return len(events)
}

// prune drops events at or before cutoff. events is sorted.
func prune(events []admission, cutoff time.Time) []admission {
	i := sort.Search(len(events), func(i int) bool { return events[i].at.After(cutoff) })
	if i == 0 {
		return events
	}

	return append(events[:0:0], events[i:]...)
}
