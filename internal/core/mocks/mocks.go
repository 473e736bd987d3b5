package mocks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/boardflow/boardflow-backend/internal/core/domain"
	"github.com/boardflow/boardflow-backend/internal/core/ports"
)

// MockActivityRepository is a mock implementation of ports.ActivityRepository
type MockActivityRepository struct {
	mock.Mock
}

func NewMockActivityRepository() *MockActivityRepository {
	return &MockActivityRepository{}
}

func (m *MockActivityRepository) Create(ctx context.Context, activity *domain.Activity) (*domain.Activity, error) {
	args := m.Called(ctx, activity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Activity), args.Error(1)
}

func (m *MockActivityRepository) ListByBoard(ctx context.Context, boardID string, limit int) ([]*domain.Activity, error) {
	args := m.Called(ctx, boardID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Activity), args.Error(1)
}

func (m *MockActivityRepository) CountByUserSince(ctx context.Context, userID uuid.UUID, boardID string, since time.Time) (int64, error) {
	args := m.Called(ctx, userID, boardID, since)
	return args.Get(0).(int64), args.Error(1)
}

// MockCache is a mock implementation of ports.Cache
type MockCache struct {
	mock.Mock
}

func NewMockCache() *MockCache {
	return &MockCache{}
}

func (m *MockCache) Get(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *MockCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	args := m.Called(ctx, key, value, ttl)
	return args.Error(0)
}

func (m *MockCache) Delete(ctx context.Context, keys ...string) error {
	callArgs := make([]interface{}, 0, len(keys)+1)
	callArgs = append(callArgs, ctx)
	for _, key := range keys {
		callArgs = append(callArgs, key)
	}
	args := m.Called(callArgs...)
	return args.Error(0)
}

func (m *MockCache) DeleteByPattern(ctx context.Context, pattern string) error {
	args := m.Called(ctx, pattern)
	return args.Error(0)
}

// MockRateLimiter is a mock implementation of ports.RateLimiter
type MockRateLimiter struct {
	mock.Mock
}

func NewMockRateLimiter() *MockRateLimiter {
	return &MockRateLimiter{}
}

func (m *MockRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}

// MockEventRelay is a mock implementation of ports.EventRelay
type MockEventRelay struct {
	mock.Mock
}

func NewMockEventRelay() *MockEventRelay {
	return &MockEventRelay{}
}

func (m *MockEventRelay) Publish(ctx context.Context, event domain.Event) {
	m.Called(ctx, event)
}

func (m *MockEventRelay) Subscribe(boardID string) error {
	args := m.Called(boardID)
	return args.Error(0)
}

func (m *MockEventRelay) Unsubscribe(boardID string) {
	m.Called(boardID)
}

// MockTokenVerifier is a mock implementation of ports.TokenVerifier
type MockTokenVerifier struct {
	mock.Mock
}

func NewMockTokenVerifier() *MockTokenVerifier {
	return &MockTokenVerifier{}
}

func (m *MockTokenVerifier) Verify(token string) (*domain.Identity, error) {
	args := m.Called(token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Identity), args.Error(1)
}

// MockSubscription is a mock implementation of ports.Subscription
type MockSubscription struct {
	mock.Mock
}

func NewMockSubscription() *MockSubscription {
	return &MockSubscription{}
}

func (m *MockSubscription) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockEventBus is a mock implementation of ports.EventBus
type MockEventBus struct {
	mock.Mock
}

func NewMockEventBus() *MockEventBus {
	return &MockEventBus{}
}

func (m *MockEventBus) Publish(ctx context.Context, channel string, payload []byte) error {
	args := m.Called(ctx, channel, payload)
	return args.Error(0)
}

func (m *MockEventBus) Subscribe(channel string, handler func(payload []byte)) (ports.Subscription, error) {
	args := m.Called(channel, handler)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(ports.Subscription), args.Error(1)
}
