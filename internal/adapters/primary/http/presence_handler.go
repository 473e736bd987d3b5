package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/boardflow/boardflow-backend/internal/adapters/primary/http/middleware"
	apperrors "github.com/boardflow/boardflow-backend/internal/core/errors"
	"github.com/boardflow/boardflow-backend/internal/core/ports"
)

// PresenceHandler serves presence snapshots for initial board render.
// Live updates flow over the websocket; this endpoint only seeds them.
type PresenceHandler struct {
	presence     ports.PresenceTracker
	errorHandler *ErrorHandler
	logger       *slog.Logger
}

// NewPresenceHandler creates a new presence handler.
func NewPresenceHandler(presence ports.PresenceTracker, errorHandler *ErrorHandler, logger *slog.Logger) *PresenceHandler {
	return &PresenceHandler{
		presence:     presence,
		errorHandler: errorHandler,
		logger:       logger,
	}
}

// HandleSnapshot returns the users currently present on the board.
func (h *PresenceHandler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	if _, ok := mw.IdentityFromContext(r.Context()); !ok {
		h.errorHandler.Handle(w, r, apperrors.NewUnauthorizedError("Authentication required"))
		return
	}

	boardID := chi.URLParam(r, "boardID")
	if boardID == "" {
		h.errorHandler.Handle(w, r, apperrors.NewBadRequestError(apperrors.ErrBoardIDRequired, "Board ID is required"))
		return
	}

	WriteList(w, h.presence.Snapshot(boardID))
}
