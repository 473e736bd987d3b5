package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/boardflow/boardflow-backend/internal/core/domain"
	apperrors "github.com/boardflow/boardflow-backend/internal/core/errors"
	"github.com/boardflow/boardflow-backend/internal/core/mocks"
	"github.com/boardflow/boardflow-backend/internal/core/ports"
)

type pipelineFixture struct {
	repo    *mocks.MockActivityRepository
	cache   *mocks.MockCache
	limiter *mocks.MockRateLimiter
	relay   *mocks.MockEventRelay
	svc     *ActivityPipeline
}

func newPipelineFixture() *pipelineFixture {
	f := &pipelineFixture{
		repo:    mocks.NewMockActivityRepository(),
		cache:   mocks.NewMockCache(),
		limiter: mocks.NewMockRateLimiter(),
		relay:   mocks.NewMockEventRelay(),
	}
	f.svc = NewActivityPipeline(f.repo, f.cache, f.limiter, f.relay, DefaultActivityLimits(), testLogger())
	return f
}

func validParams() ports.RecordActivityParams {
	return ports.RecordActivityParams{
		UserID:  uuid.New(),
		BoardID: "board-1",
		Type:    domain.ActivityTaskMoved,
		Payload: map[string]interface{}{"from": "todo", "to": "doing"},
	}
}

func TestActivityPipeline_RecordActivity(t *testing.T) {
	f := newPipelineFixture()
	params := validParams()

	f.limiter.On("Allow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true, nil).Twice()
	f.repo.On("Create", mock.Anything, mock.AnythingOfType("*domain.Activity")).
		Return(&domain.Activity{ID: 1, BoardID: params.BoardID, UserID: params.UserID, Type: params.Type, CreatedAt: time.Now()}, nil)
	f.cache.On("DeleteByPattern", mock.Anything, "cache:board:board-1:*").Return(nil)
	f.relay.On("Publish", mock.Anything, mock.MatchedBy(func(event domain.Event) bool {
		return event.Type == domain.EventActivityCreated && event.BoardID == params.BoardID
	})).Return()

	err := f.svc.RecordActivity(context.Background(), params)
	require.NoError(t, err)

	f.repo.AssertExpectations(t)
	f.relay.AssertExpectations(t)
}

func TestActivityPipeline_RecordActivityValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ports.RecordActivityParams)
		wantErr error
	}{
		{"missing board", func(p *ports.RecordActivityParams) { p.BoardID = " " }, apperrors.ErrBoardIDRequired},
		{"missing user", func(p *ports.RecordActivityParams) { p.UserID = uuid.Nil }, apperrors.ErrUserIDRequired},
		{"missing type", func(p *ports.RecordActivityParams) { p.Type = "" }, apperrors.ErrActivityTypeRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPipelineFixture()
			params := validParams()
			tt.mutate(&params)

			err := f.svc.RecordActivity(context.Background(), params)
			assert.ErrorIs(t, err, tt.wantErr)

			f.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		})
	}
}

func TestActivityPipeline_RateLimitedDropIsSilent(t *testing.T) {
	f := newPipelineFixture()
	params := validParams()

	// Short window exhausted: the activity is dropped before it reaches the
	// store, and the caller sees success.
	f.limiter.On("Allow", mock.Anything, mock.MatchedBy(func(key string) bool {
		return key == "ratelimit:activity:"+params.UserID.String()+":board-1:short"
	}), 30, time.Minute).Return(false, nil).Once()

	err := f.svc.RecordActivity(context.Background(), params)
	require.NoError(t, err)

	f.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	f.relay.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
	f.limiter.AssertExpectations(t)
}

func TestActivityPipeline_LongWindowAlsoEnforced(t *testing.T) {
	f := newPipelineFixture()
	params := validParams()

	f.limiter.On("Allow", mock.Anything, mock.Anything, 30, time.Minute).Return(true, nil).Once()
	f.limiter.On("Allow", mock.Anything, mock.Anything, 500, time.Hour).Return(false, nil).Once()

	err := f.svc.RecordActivity(context.Background(), params)
	require.NoError(t, err)

	f.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestActivityPipeline_LimiterOutageUsesPersistedCounts(t *testing.T) {
	f := newPipelineFixture()
	params := validParams()

	// Counter store down for both windows; the store count is consulted
	// instead and the activity is under every cap.
	f.limiter.On("Allow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(false, errors.New("connection refused")).Twice()
	f.repo.On("CountByUserSince", mock.Anything, params.UserID, params.BoardID, mock.Anything).
		Return(int64(3), nil).Twice()
	f.repo.On("Create", mock.Anything, mock.Anything).
		Return(&domain.Activity{ID: 1, BoardID: params.BoardID}, nil)
	f.cache.On("DeleteByPattern", mock.Anything, mock.Anything).Return(nil)
	f.relay.On("Publish", mock.Anything, mock.Anything).Return()

	err := f.svc.RecordActivity(context.Background(), params)
	require.NoError(t, err)

	f.repo.AssertExpectations(t)
}

func TestActivityPipeline_PersistedCountEnforcesCapDuringOutage(t *testing.T) {
	f := newPipelineFixture()
	params := validParams()

	// The short window cap is 30; the store already holds that many, so the
	// drop is enforced from persisted data and stays silent to the caller.
	f.limiter.On("Allow", mock.Anything, mock.Anything, 30, time.Minute).
		Return(false, errors.New("connection refused")).Once()
	f.repo.On("CountByUserSince", mock.Anything, params.UserID, params.BoardID, mock.Anything).
		Return(int64(30), nil).Once()

	err := f.svc.RecordActivity(context.Background(), params)
	require.NoError(t, err)

	f.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	f.relay.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
	f.repo.AssertExpectations(t)
}

func TestActivityPipeline_DoubleOutageFailsOpen(t *testing.T) {
	f := newPipelineFixture()
	params := validParams()

	// Neither the counter store nor the activity store can answer. The
	// activity still goes through.
	f.limiter.On("Allow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(false, errors.New("connection refused")).Twice()
	f.repo.On("CountByUserSince", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(int64(0), errors.New("connection reset")).Twice()
	f.repo.On("Create", mock.Anything, mock.Anything).
		Return(&domain.Activity{ID: 1, BoardID: params.BoardID}, nil)
	f.cache.On("DeleteByPattern", mock.Anything, mock.Anything).Return(nil)
	f.relay.On("Publish", mock.Anything, mock.Anything).Return()

	err := f.svc.RecordActivity(context.Background(), params)
	require.NoError(t, err)

	f.repo.AssertExpectations(t)
}

func TestActivityPipeline_PersistenceFailurePropagates(t *testing.T) {
	f := newPipelineFixture()
	params := validParams()

	f.limiter.On("Allow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true, nil).Twice()
	f.repo.On("Create", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset"))

	err := f.svc.RecordActivity(context.Background(), params)
	require.Error(t, err)

	// Nothing persisted means nothing published.
	f.relay.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestActivityPipeline_PayloadSanitized(t *testing.T) {
	f := newPipelineFixture()
	params := validParams()
	params.Payload = map[string]interface{}{
		"title":    "release plan",
		"Password": "hunter2",
		"nested": map[string]interface{}{
			"apiKey": "abc123",
			"note":   "keep",
		},
	}

	var persisted *domain.Activity
	f.limiter.On("Allow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true, nil).Twice()
	f.repo.On("Create", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			persisted = args.Get(1).(*domain.Activity)
		}).
		Return(&domain.Activity{ID: 1, BoardID: params.BoardID}, nil)
	f.cache.On("DeleteByPattern", mock.Anything, mock.Anything).Return(nil)
	f.relay.On("Publish", mock.Anything, mock.Anything).Return()

	err := f.svc.RecordActivity(context.Background(), params)
	require.NoError(t, err)

	require.NotNil(t, persisted)
	assert.Equal(t, "release plan", persisted.Payload["title"])
	assert.NotContains(t, persisted.Payload, "Password")
	nested := persisted.Payload["nested"].(map[string]interface{})
	assert.NotContains(t, nested, "apiKey")
	assert.Equal(t, "keep", nested["note"])

	// The caller's map is untouched.
	assert.Contains(t, params.Payload, "Password")
}

func TestActivityPipeline_CacheInvalidationFailureIsNonFatal(t *testing.T) {
	f := newPipelineFixture()
	params := validParams()

	f.limiter.On("Allow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true, nil).Twice()
	f.repo.On("Create", mock.Anything, mock.Anything).
		Return(&domain.Activity{ID: 1, BoardID: params.BoardID}, nil)
	f.cache.On("DeleteByPattern", mock.Anything, mock.Anything).Return(errors.New("connection refused"))
	f.relay.On("Publish", mock.Anything, mock.Anything).Return()

	err := f.svc.RecordActivity(context.Background(), params)
	require.NoError(t, err)

	f.relay.AssertExpectations(t)
}

func TestActivityPipeline_ListServesFromCache(t *testing.T) {
	f := newPipelineFixture()

	cached := []*domain.Activity{{ID: 7, BoardID: "board-1", Type: domain.ActivityTaskCreated}}
	encoded, err := json.Marshal(cached)
	require.NoError(t, err)

	f.cache.On("Get", mock.Anything, "cache:board:board-1:activities:50").Return(string(encoded), nil)

	activities, err := f.svc.ListBoardActivities(context.Background(), "board-1", 50)
	require.NoError(t, err)
	require.Len(t, activities, 1)
	assert.Equal(t, int64(7), activities[0].ID)

	f.repo.AssertNotCalled(t, "ListByBoard", mock.Anything, mock.Anything, mock.Anything)
}

func TestActivityPipeline_ListFallsBackToStore(t *testing.T) {
	f := newPipelineFixture()

	stored := []*domain.Activity{{ID: 3, BoardID: "board-1"}}
	f.cache.On("Get", mock.Anything, mock.Anything).Return("", apperrors.ErrCacheMiss)
	f.repo.On("ListByBoard", mock.Anything, "board-1", 50).Return(stored, nil)
	f.cache.On("Set", mock.Anything, "cache:board:board-1:activities:50", mock.Anything, mock.Anything).Return(nil)

	activities, err := f.svc.ListBoardActivities(context.Background(), "board-1", 50)
	require.NoError(t, err)
	assert.Equal(t, stored, activities)

	f.cache.AssertExpectations(t)
}

func TestActivityPipeline_ListStoreFailurePropagates(t *testing.T) {
	f := newPipelineFixture()

	f.cache.On("Get", mock.Anything, mock.Anything).Return("", apperrors.ErrCacheMiss)
	f.repo.On("ListByBoard", mock.Anything, "board-1", 50).Return(nil, errors.New("connection reset"))

	_, err := f.svc.ListBoardActivities(context.Background(), "board-1", 50)
	require.Error(t, err)
}
