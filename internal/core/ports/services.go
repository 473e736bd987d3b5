package ports

import (
	"context"

	"github.com/google/uuid"

	"github.com/boardflow/boardflow-backend/internal/core/domain"
)

// PresenceTracker defines the port for the per-process presence projection.
type PresenceTracker interface {
	// RecordJoin increments the user's reference count on the board and
	// reports whether this was the 0 -> 1 transition.
	RecordJoin(userID uuid.UUID, boardID string) bool

	// RecordLeave decrements the reference count and reports whether this
	// was the 1 -> 0 transition. A leave without a matching join is a no-op.
	RecordLeave(userID uuid.UUID, boardID string) bool

	// Touch bumps the user's lastActivityAt on the board.
	Touch(userID uuid.UUID, boardID string)

	// Snapshot returns the users currently present on the board, ordered
	// by join time.
	Snapshot(boardID string) []domain.PresenceEntry

	// Apply reconciles the projection from a presence event observed on
	// the bus (a join or leave that happened on another process).
	Apply(event domain.Event)
}

// EventRelay defines the port for the cross-process event relay.
type EventRelay interface {
	// Publish broadcasts the event to every process watching the board.
	// Best effort: bus failures are logged, never returned.
	Publish(ctx context.Context, event domain.Event)

	// Subscribe opens (or references) the bus subscription for the board.
	// Each Subscribe must be paired with an Unsubscribe.
	Subscribe(boardID string) error
	Unsubscribe(boardID string)
}

// RecordActivityParams defines the input for recording a board activity.
type RecordActivityParams struct {
	UserID  uuid.UUID
	BoardID string
	Type    domain.ActivityType
	Payload map[string]interface{}
}

// ActivityService defines the port for the activity pipeline.
type ActivityService interface {
	// RecordActivity persists the activity and fans it out. Rate-limited
	// calls are dropped silently; persistence failures propagate.
	RecordActivity(ctx context.Context, params RecordActivityParams) error

	// ListBoardActivities returns the recent feed for a board, served
	// through the cache when possible.
	ListBoardActivities(ctx context.Context, boardID string, limit int) ([]*domain.Activity, error)
}

// EventDeliverer is implemented by the connection registry: it pushes an
// inbound event to every local connection subscribed to the board.
type EventDeliverer interface {
	Deliver(boardID string, event domain.Event)
}
