package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/boardflow/boardflow-backend/internal/adapters/primary/http/middleware"
	"github.com/boardflow/boardflow-backend/internal/adapters/primary/validation"
	"github.com/boardflow/boardflow-backend/internal/core/domain"
	apperrors "github.com/boardflow/boardflow-backend/internal/core/errors"
	"github.com/boardflow/boardflow-backend/internal/core/ports"
)

const (
	defaultFeedLimit = 50
	maxFeedLimit     = 200

	// maxPayloadBytes caps the serialized activity payload.
	maxPayloadBytes = 8192
)

var allowedActivityTypes = []string{
	string(domain.ActivityTaskCreated),
	string(domain.ActivityTaskUpdated),
	string(domain.ActivityTaskMoved),
	string(domain.ActivityTaskDeleted),
	string(domain.ActivityBoardRenamed),
	string(domain.ActivityMemberAdded),
}

// ActivityHandler exposes the board activity feed and the write-path hook
// that feeds the realtime pipeline.
type ActivityHandler struct {
	activities   ports.ActivityService
	errorHandler *ErrorHandler
	logger       *slog.Logger
}

// NewActivityHandler creates a new activity handler.
func NewActivityHandler(activities ports.ActivityService, errorHandler *ErrorHandler, logger *slog.Logger) *ActivityHandler {
	return &ActivityHandler{
		activities:   activities,
		errorHandler: errorHandler,
		logger:       logger,
	}
}

// RegisterRoutes registers the activity routes on the router.
func (h *ActivityHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.HandleRecordActivity)
	r.Get("/", h.HandleListActivities)
}

// RecordActivityRequest is the write-path request body.
type RecordActivityRequest struct {
	Type    string                 `json:"type"`
	Payload map[string]interface{} `json:"payload"`
}

// HandleRecordActivity records an activity for the board. Responds 202: the
// feed entry is accepted for asynchronous fan-out, and a rate-limited drop
// is indistinguishable from success.
func (h *ActivityHandler) HandleRecordActivity(w http.ResponseWriter, r *http.Request) {
	identity, ok := mw.IdentityFromContext(r.Context())
	if !ok {
		h.errorHandler.Handle(w, r, apperrors.NewUnauthorizedError("Authentication required"))
		return
	}

	req, err := validation.DecodeAndValidate[RecordActivityRequest](r)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	encodedPayload, err := json.Marshal(req.Payload)
	if err != nil {
		h.errorHandler.Handle(w, r, apperrors.NewBadRequestError(err, "Invalid payload"))
		return
	}

	v := validation.NewValidator()
	v.Required("type", req.Type)
	v.OneOf("type", req.Type, allowedActivityTypes)
	v.Custom("payload", len(encodedPayload) <= maxPayloadBytes, "Payload exceeds the maximum size")
	if v.HasErrors() {
		h.errorHandler.Handle(w, r, v.Errors())
		return
	}

	params := ports.RecordActivityParams{
		UserID:  identity.UserID,
		BoardID: chi.URLParam(r, "boardID"),
		Type:    domain.ActivityType(req.Type),
		Payload: req.Payload,
	}

	if err := h.activities.RecordActivity(r.Context(), params); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, SuccessResponse{Message: "activity recorded"})
}

// HandleListActivities returns the board's recent activity feed.
func (h *ActivityHandler) HandleListActivities(w http.ResponseWriter, r *http.Request) {
	if _, ok := mw.IdentityFromContext(r.Context()); !ok {
		h.errorHandler.Handle(w, r, apperrors.NewUnauthorizedError("Authentication required"))
		return
	}

	limit := validation.ParseIntQueryParam(r, "limit", defaultFeedLimit)
	if limit > maxFeedLimit {
		limit = maxFeedLimit
	}

	activities, err := h.activities.ListBoardActivities(r.Context(), chi.URLParam(r, "boardID"), limit)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	WriteList(w, activities)
}
