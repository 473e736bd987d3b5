package services

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boardflow/boardflow-backend/internal/core/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPresenceService_JoinEdges(t *testing.T) {
	svc := NewPresenceService(testLogger())
	userID := uuid.New()

	// Only the first join of a user on a board is an edge.
	assert.True(t, svc.RecordJoin(userID, "board-1"))
	assert.False(t, svc.RecordJoin(userID, "board-1"))
	assert.False(t, svc.RecordJoin(userID, "board-1"))

	// Same user on a different board is a separate edge.
	assert.True(t, svc.RecordJoin(userID, "board-2"))
}

func TestPresenceService_LeaveEdges(t *testing.T) {
	svc := NewPresenceService(testLogger())
	userID := uuid.New()

	svc.RecordJoin(userID, "board-1")
	svc.RecordJoin(userID, "board-1")

	// Two references: first leave is not an edge, second is.
	assert.False(t, svc.RecordLeave(userID, "board-1"))
	assert.True(t, svc.RecordLeave(userID, "board-1"))

	// The user is gone; further leaves are no-ops, never negative counts.
	assert.False(t, svc.RecordLeave(userID, "board-1"))
	assert.True(t, svc.RecordJoin(userID, "board-1"))
}

func TestPresenceService_LeaveWithoutJoin(t *testing.T) {
	svc := NewPresenceService(testLogger())

	assert.False(t, svc.RecordLeave(uuid.New(), "board-1"))
	assert.Empty(t, svc.Snapshot("board-1"))
}

func TestPresenceService_SnapshotOrdering(t *testing.T) {
	svc := NewPresenceService(testLogger())

	first := uuid.New()
	second := uuid.New()
	third := uuid.New()

	svc.RecordJoin(first, "board-1")
	time.Sleep(2 * time.Millisecond)
	svc.RecordJoin(second, "board-1")
	time.Sleep(2 * time.Millisecond)
	svc.RecordJoin(third, "board-1")

	snapshot := svc.Snapshot("board-1")
	require.Len(t, snapshot, 3)
	assert.Equal(t, first, snapshot[0].UserID)
	assert.Equal(t, second, snapshot[1].UserID)
	assert.Equal(t, third, snapshot[2].UserID)

	for _, entry := range snapshot {
		assert.Equal(t, "board-1", entry.BoardID)
		assert.False(t, entry.JoinedAt.IsZero())
	}
}

func TestPresenceService_SnapshotScopedToBoard(t *testing.T) {
	svc := NewPresenceService(testLogger())
	userID := uuid.New()

	svc.RecordJoin(userID, "board-1")

	assert.Len(t, svc.Snapshot("board-1"), 1)
	assert.Empty(t, svc.Snapshot("board-2"))
}

func TestPresenceService_TouchUpdatesActivity(t *testing.T) {
	svc := NewPresenceService(testLogger())
	userID := uuid.New()

	svc.RecordJoin(userID, "board-1")
	before := svc.Snapshot("board-1")[0].LastActivityAt

	time.Sleep(2 * time.Millisecond)
	svc.Touch(userID, "board-1")

	after := svc.Snapshot("board-1")[0].LastActivityAt
	assert.True(t, after.After(before))

	// Touch for an unknown user must not create an entry.
	svc.Touch(uuid.New(), "board-1")
	assert.Len(t, svc.Snapshot("board-1"), 1)
}

func TestPresenceService_ApplyRemoteEdges(t *testing.T) {
	svc := NewPresenceService(testLogger())
	userID := uuid.New()

	join := domain.NewEvent(domain.EventPresenceJoin, "board-1", domain.PresencePayload{UserID: userID.String()})
	svc.Apply(join)

	snapshot := svc.Snapshot("board-1")
	require.Len(t, snapshot, 1)
	assert.Equal(t, userID, snapshot[0].UserID)

	leave := domain.NewEvent(domain.EventPresenceLeave, "board-1", domain.PresencePayload{UserID: userID.String()})
	svc.Apply(leave)

	assert.Empty(t, svc.Snapshot("board-1"))
}

func TestPresenceService_ApplyDecodedPayload(t *testing.T) {
	svc := NewPresenceService(testLogger())
	userID := uuid.New()

	// Events that crossed the bus arrive with JSON-decoded generic payloads.
	event := domain.NewEvent(domain.EventPresenceJoin, "board-1", map[string]interface{}{
		"userId": userID.String(),
	})
	svc.Apply(event)

	snapshot := svc.Snapshot("board-1")
	require.Len(t, snapshot, 1)
	assert.Equal(t, userID, snapshot[0].UserID)
}

func TestPresenceService_ApplyIgnoresMalformed(t *testing.T) {
	svc := NewPresenceService(testLogger())

	svc.Apply(domain.NewEvent(domain.EventPresenceJoin, "board-1", "not a payload"))
	svc.Apply(domain.NewEvent(domain.EventPresenceJoin, "board-1", map[string]interface{}{"userId": "not-a-uuid"}))
	svc.Apply(domain.NewEvent(domain.EventPresenceJoin, "board-1", nil))

	assert.Empty(t, svc.Snapshot("board-1"))
}
