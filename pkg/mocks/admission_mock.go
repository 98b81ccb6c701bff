package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockLimiter is a mock implementation of ratelimit.Limiter interface.
type MockLimiter struct {
	mock.Mock
}

func (m *MockLimiter) Allow(ctx context.Context, key, id string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, id, limit, window)

	return args.Bool(0), args.Error(1)
}

func (m *MockLimiter) Release(ctx context.Context, key, id string) error {
	args := m.Called(ctx, key, id)

	return args.Error(0)
}

// MockDedupeStore is a mock implementation of dedupe.Store interface.
type MockDedupeStore struct {
	mock.Mock
}

func (m *MockDedupeStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)

	return args.Bool(0), args.Error(1)
}

func (m *MockDedupeStore) Release(ctx context.Context, key string) error {
	args := m.Called(ctx, key)

	return args.Error(0)
}
