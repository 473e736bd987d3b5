package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/boardflow/boardflow-backend/internal/core/errors"
)

// ActivityType classifies a recorded board activity.
type ActivityType string

const (
	ActivityTaskCreated  ActivityType = "task_created"
	ActivityTaskUpdated  ActivityType = "task_updated"
	ActivityTaskMoved    ActivityType = "task_moved"
	ActivityTaskDeleted  ActivityType = "task_deleted"
	ActivityBoardRenamed ActivityType = "board_renamed"
	ActivityMemberAdded  ActivityType = "member_added"
)

// Activity is a single entry in a board's activity feed.
type Activity struct {
	ID        int64                  `json:"id"`
	BoardID   string                 `json:"boardId"`
	UserID    uuid.UUID              `json:"userId"`
	Type      ActivityType           `json:"type"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt time.Time              `json:"createdAt"`
}

// Validate checks the activity's required fields.
func (a *Activity) Validate() error {
	if strings.TrimSpace(a.BoardID) == "" {
		return apperrors.ErrBoardIDRequired
	}
	if a.UserID == uuid.Nil {
		return apperrors.ErrUserIDRequired
	}
	if strings.TrimSpace(string(a.Type)) == "" {
		return apperrors.ErrActivityTypeRequired
	}
	return nil
}

// Identity is the verified principal behind a connection or request.
type Identity struct {
	UserID uuid.UUID
	Email  string
}
