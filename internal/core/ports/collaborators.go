package ports

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/boardflow/boardflow-backend/internal/core/domain"
)

// ActivityRepository defines the port for activity persistence.
type ActivityRepository interface {
	Create(ctx context.Context, activity *domain.Activity) (*domain.Activity, error)
	ListByBoard(ctx context.Context, boardID string, limit int) ([]*domain.Activity, error)
	CountByUserSince(ctx context.Context, userID uuid.UUID, boardID string, since time.Time) (int64, error)
}

// Cache defines the port for the shared cache collaborator.
// Get returns apperrors.ErrCacheMiss when the key is absent or expired.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// RateLimiter defines the port for shared fixed-window rate limiting.
// Multiple processes may increment the same key concurrently, so
// implementations must use atomic increment-and-expire.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Subscription is an open bus subscription that can be torn down.
type Subscription interface {
	Close() error
}

// EventBus defines the port for the cross-process pub/sub collaborator.
// Handlers run on the bus's receive goroutine and must not block.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(channel string, handler func(payload []byte)) (Subscription, error)
}

// TokenVerifier defines the port for the external auth collaborator.
type TokenVerifier interface {
	Verify(token string) (*domain.Identity, error)
}
