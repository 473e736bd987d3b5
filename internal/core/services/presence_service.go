package services

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/boardflow/boardflow-backend/internal/core/domain"
	"github.com/boardflow/boardflow-backend/internal/core/ports"
)

// PresenceService is the per-process presence projection. Local joins and
// leaves mutate it directly; joins and leaves that happen on other processes
// reach it through Apply via the event relay. It is a reference-counted,
// eventually-consistent replica, never an authority.
type PresenceService struct {
	mu     sync.RWMutex
	boards map[string]map[uuid.UUID]*presenceEntry
	logger *slog.Logger
}

type presenceEntry struct {
	joinedAt       time.Time
	lastActivityAt time.Time
	refCount       int
}

var _ ports.PresenceTracker = (*PresenceService)(nil)

// NewPresenceService creates an empty presence projection.
func NewPresenceService(logger *slog.Logger) *PresenceService {
	return &PresenceService{
		boards: make(map[string]map[uuid.UUID]*presenceEntry),
		logger: logger.With("component", "presence"),
	}
}

// RecordJoin increments the user's reference count on the board. Returns
// true only on the 0 -> 1 transition, which is the only join that should
// emit a presence:join event.
func (s *PresenceService) RecordJoin(userID uuid.UUID, boardID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	board := s.boards[boardID]
	if board == nil {
		board = make(map[uuid.UUID]*presenceEntry)
		s.boards[boardID] = board
	}

	now := time.Now().UTC()
	if entry, ok := board[userID]; ok {
		entry.refCount++
		entry.lastActivityAt = now
		return false
	}

	board[userID] = &presenceEntry{
		joinedAt:       now,
		lastActivityAt: now,
		refCount:       1,
	}

	s.logger.Debug("presence join",
		"user_id", userID,
		"board_id", boardID,
	)
	return true
}

// RecordLeave decrements the reference count. Returns true only on the
// 1 -> 0 transition. A leave with no matching join is ignored so the count
// never goes negative.
func (s *PresenceService) RecordLeave(userID uuid.UUID, boardID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	board, ok := s.boards[boardID]
	if !ok {
		return false
	}
	entry, ok := board[userID]
	if !ok {
		return false
	}

	entry.refCount--
	if entry.refCount > 0 {
		return false
	}

	delete(board, userID)
	if len(board) == 0 {
		delete(s.boards, boardID)
	}

	s.logger.Debug("presence leave",
		"user_id", userID,
		"board_id", boardID,
	)
	return true
}

// Touch bumps lastActivityAt for a connected user. Unknown users are ignored.
func (s *PresenceService) Touch(userID uuid.UUID, boardID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.boards[boardID][userID]; ok {
		entry.lastActivityAt = time.Now().UTC()
	}
}

// Snapshot returns the users currently present on the board ordered by join
// time, used to seed newly connecting clients.
func (s *PresenceService) Snapshot(boardID string) []domain.PresenceEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	board := s.boards[boardID]
	entries := make([]domain.PresenceEntry, 0, len(board))
	for userID, entry := range board {
		entries = append(entries, domain.PresenceEntry{
			UserID:         userID,
			BoardID:        boardID,
			JoinedAt:       entry.joinedAt,
			LastActivityAt: entry.lastActivityAt,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].JoinedAt.Equal(entries[j].JoinedAt) {
			return entries[i].UserID.String() < entries[j].UserID.String()
		}
		return entries[i].JoinedAt.Before(entries[j].JoinedAt)
	})
	return entries
}

// Apply reconciles the projection from a presence event observed on the bus.
// The relay filters out this process's own events before calling Apply, so
// every event seen here represents a membership edge on another process.
func (s *PresenceService) Apply(event domain.Event) {
	payload, ok := event.Data.(domain.PresencePayload)
	if !ok {
		raw, isMap := event.Data.(map[string]interface{})
		if !isMap {
			return
		}
		id, _ := raw["userId"].(string)
		payload = domain.PresencePayload{UserID: id}
	}

	userID, err := uuid.Parse(payload.UserID)
	if err != nil {
		s.logger.Warn("ignoring presence event with invalid user id",
			"user_id", payload.UserID,
			"board_id", event.BoardID,
		)
		return
	}

	switch event.Type {
	case domain.EventPresenceJoin:
		s.RecordJoin(userID, event.BoardID)
	case domain.EventPresenceLeave:
		s.RecordLeave(userID, event.BoardID)
	}
}
