package domain

import (
	"time"

	"github.com/google/uuid"
)

// PresenceEntry describes one user currently present on a board.
type PresenceEntry struct {
	UserID         uuid.UUID `json:"userId"`
	BoardID        string    `json:"boardId"`
	JoinedAt       time.Time `json:"joinedAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}
