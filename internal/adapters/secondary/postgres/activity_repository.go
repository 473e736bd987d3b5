package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/boardflow/boardflow-backend/internal/core/domain"
	"github.com/boardflow/boardflow-backend/internal/core/ports"
)

// ActivityRepository is the secondary adapter for activity persistence.
type ActivityRepository struct {
	pool *pgxpool.Pool
}

// Ensure ActivityRepository implements the ports.ActivityRepository interface.
var _ ports.ActivityRepository = (*ActivityRepository)(nil)

// NewActivityRepository creates a new activity repository.
func NewActivityRepository(pool *pgxpool.Pool) ports.ActivityRepository {
	return &ActivityRepository{pool: pool}
}

// Create persists a new activity and returns it with its assigned ID.
func (r *ActivityRepository) Create(ctx context.Context, activity *domain.Activity) (*domain.Activity, error) {
	payload, err := json.Marshal(activity.Payload)
	if err != nil {
		return nil, err
	}

	const query = `
		INSERT INTO activities (board_id, user_id, type, payload)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	created := *activity
	err = r.pool.QueryRow(ctx, query,
		activity.BoardID,
		activity.UserID,
		string(activity.Type),
		payload,
	).Scan(&created.ID, &created.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// ListByBoard retrieves the most recent activities for a board.
func (r *ActivityRepository) ListByBoard(ctx context.Context, boardID string, limit int) ([]*domain.Activity, error) {
	const query = `
		SELECT id, board_id, user_id, type, payload, created_at
		FROM activities
		WHERE board_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, boardID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	activities := make([]*domain.Activity, 0, limit)
	for rows.Next() {
		var (
			activity domain.Activity
			rawType  string
			payload  []byte
		)
		if err := rows.Scan(
			&activity.ID,
			&activity.BoardID,
			&activity.UserID,
			&rawType,
			&payload,
			&activity.CreatedAt,
		); err != nil {
			return nil, err
		}

		activity.Type = domain.ActivityType(rawType)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &activity.Payload); err != nil {
				return nil, err
			}
		}
		activities = append(activities, &activity)
	}
	return activities, rows.Err()
}

// CountByUserSince counts a user's activities on a board since the cutoff.
func (r *ActivityRepository) CountByUserSince(ctx context.Context, userID uuid.UUID, boardID string, since time.Time) (int64, error) {
	const query = `
		SELECT COUNT(*)
		FROM activities
		WHERE user_id = $1 AND board_id = $2 AND created_at >= $3`

	var count int64
	err := r.pool.QueryRow(ctx, query, userID, boardID, since).Scan(&count)
	return count, err
}
