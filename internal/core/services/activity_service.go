package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/boardflow/boardflow-backend/internal/core/domain"
	"github.com/boardflow/boardflow-backend/internal/core/ports"
)

const activityFeedCacheTTL = 30 * time.Second

// ActivityLimits configures the pipeline's rate-limit windows.
type ActivityLimits struct {
	ShortWindow      time.Duration
	ShortWindowLimit int
	LongWindow       time.Duration
	LongWindowLimit  int
}

// DefaultActivityLimits returns the standard per-user, per-board caps.
func DefaultActivityLimits() ActivityLimits {
	return ActivityLimits{
		ShortWindow:      time.Minute,
		ShortWindowLimit: 30,
		LongWindow:       time.Hour,
		LongWindowLimit:  500,
	}
}

// ActivityPipeline rate-limits, sanitizes, persists, and fans out board
// activities. Drops are silent toward the caller: the mutation that produced
// the activity already succeeded, so failing the request over a dropped feed
// entry would be wrong. Persistence failures do propagate, and nothing is
// published for an activity that was not persisted.
type ActivityPipeline struct {
	repo    ports.ActivityRepository
	cache   ports.Cache
	limiter ports.RateLimiter
	relay   ports.EventRelay
	limits  ActivityLimits
	logger  *slog.Logger
}

var _ ports.ActivityService = (*ActivityPipeline)(nil)

// NewActivityPipeline creates the activity pipeline.
func NewActivityPipeline(
	repo ports.ActivityRepository,
	cache ports.Cache,
	limiter ports.RateLimiter,
	relay ports.EventRelay,
	limits ActivityLimits,
	logger *slog.Logger,
) *ActivityPipeline {
	return &ActivityPipeline{
		repo:    repo,
		cache:   cache,
		limiter: limiter,
		relay:   relay,
		limits:  limits,
		logger:  logger.With("component", "activity_pipeline"),
	}
}

// RecordActivity runs the full pipeline for one activity.
func (s *ActivityPipeline) RecordActivity(ctx context.Context, params ports.RecordActivityParams) error {
	activity := &domain.Activity{
		BoardID: params.BoardID,
		UserID:  params.UserID,
		Type:    params.Type,
		Payload: params.Payload,
	}
	if err := activity.Validate(); err != nil {
		return err
	}

	// Short window first; the first exceeded window wins for logging. The
	// originating request is never failed over a drop.
	if !s.withinLimit(ctx, params, "short", s.limits.ShortWindowLimit, s.limits.ShortWindow) {
		return nil
	}
	if !s.withinLimit(ctx, params, "long", s.limits.LongWindowLimit, s.limits.LongWindow) {
		return nil
	}

	activity.Payload = sanitizePayload(activity.Payload)

	created, err := s.repo.Create(ctx, activity)
	if err != nil {
		return fmt.Errorf("persist activity: %w", err)
	}

	if err := s.cache.DeleteByPattern(ctx, boardCachePattern(params.BoardID)); err != nil {
		s.logger.Warn("board cache invalidation failed",
			"board_id", params.BoardID,
			"error", err,
		)
	}

	s.relay.Publish(ctx, domain.NewEvent(domain.EventActivityCreated, params.BoardID, created))
	return nil
}

// ListBoardActivities serves the recent feed through the cache.
func (s *ActivityPipeline) ListBoardActivities(ctx context.Context, boardID string, limit int) ([]*domain.Activity, error) {
	key := activityFeedCacheKey(boardID, limit)

	if cached, err := s.cache.Get(ctx, key); err == nil {
		var activities []*domain.Activity
		if err := json.Unmarshal([]byte(cached), &activities); err == nil {
			return activities, nil
		}
		s.logger.Warn("discarding corrupt cached feed", "board_id", boardID, "error", err)
	}

	activities, err := s.repo.ListByBoard(ctx, boardID, limit)
	if err != nil {
		return nil, err
	}

	if encoded, err := json.Marshal(activities); err == nil {
		if err := s.cache.Set(ctx, key, string(encoded), activityFeedCacheTTL); err != nil {
			s.logger.Warn("failed to cache feed", "board_id", boardID, "error", err)
		}
	}
	return activities, nil
}

// withinLimit consults the shared counter store. When the store is
// unreachable it falls back to counting persisted activities for the window.
func (s *ActivityPipeline) withinLimit(ctx context.Context, params ports.RecordActivityParams, window string, limit int, duration time.Duration) bool {
	key := fmt.Sprintf("ratelimit:activity:%s:%s:%s", params.UserID, params.BoardID, window)

	allowed, err := s.limiter.Allow(ctx, key, limit, duration)
	if err != nil {
		s.logger.Warn("rate limit store unreachable, using persisted counts",
			"window", window,
			"error", err,
		)
		return s.withinPersistedCount(ctx, params, window, limit, duration)
	}
	if !allowed {
		s.logger.Warn("activity dropped by rate limit",
			"user_id", params.UserID,
			"board_id", params.BoardID,
			"activity_type", params.Type,
			"window", window,
		)
		return false
	}
	return true
}

// withinPersistedCount approximates the window from activities already in the
// store. Slower than the shared counters but keeps the cap roughly enforced
// during a counter-store outage. Fails open if the store cannot answer
// either: briefly under-enforcing a cap is better than dropping activities.
func (s *ActivityPipeline) withinPersistedCount(ctx context.Context, params ports.RecordActivityParams, window string, limit int, duration time.Duration) bool {
	count, err := s.repo.CountByUserSince(ctx, params.UserID, params.BoardID, time.Now().Add(-duration))
	if err != nil {
		s.logger.Warn("persisted count unavailable, failing open",
			"window", window,
			"error", err,
		)
		return true
	}

	if count >= int64(limit) {
		s.logger.Warn("activity dropped by persisted count",
			"user_id", params.UserID,
			"board_id", params.BoardID,
			"activity_type", params.Type,
			"window", window,
			"count", count,
		)
		return false
	}
	return true
}

func activityFeedCacheKey(boardID string, limit int) string {
	return fmt.Sprintf("cache:board:%s:activities:%d", boardID, limit)
}

func boardCachePattern(boardID string) string {
	return fmt.Sprintf("cache:board:%s:*", boardID)
}
