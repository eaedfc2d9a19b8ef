package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/dayframe/calsync/models"
	"github.com/dayframe/calsync/syncer"
	"github.com/dayframe/calsync/web/auth"
)

const (
	syncModeFull        = "full"
	syncModeIncremental = "incremental"
)

// syncRequest selects which pass to run. Mode defaults to incremental,
// which degrades to a full pass on its own when no cursor exists yet.
type syncRequest struct {
	Mode string `json:"mode" validate:"omitempty,oneof=full incremental"`
}

// Run triggers a synchronous sync pass for the caller and reports its
// counters. A pass already holding the per-user lock yields 409.
func (h *SyncHandlers) Run(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		renderJSON(w, http.StatusUnprocessableEntity, models.APIError{Code: http.StatusUnprocessableEntity, Message: err.Error()})
		return
	}

	if req.Mode == "" {
		req.Mode = syncModeIncremental
	}

	if err := h.Deps.Validate.Struct(&req); err != nil {
		renderJSON(w, http.StatusBadRequest, models.APIError{Code: http.StatusBadRequest, Message: "mode must be full or incremental"})
		return
	}

	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		renderJSON(w, http.StatusUnauthorized, models.APIError{Code: http.StatusUnauthorized, Message: "User not authenticated"})
		return
	}

	var result *syncer.Result
	if req.Mode == syncModeFull {
		result, err = h.Deps.Sync.FullSync(r.Context(), userID)
	} else {
		result, err = h.Deps.Sync.IncrementalSync(r.Context(), userID)
	}

	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			renderJSON(w, http.StatusNotFound, models.APIError{Code: http.StatusNotFound, Message: "no integration connected"})
		case errors.Is(err, syncer.ErrSyncInProgress):
			renderJSON(w, http.StatusConflict, models.APIError{Code: http.StatusConflict, Message: "sync already in progress"})
		default:
			h.Deps.Logger.Error("sync pass",
				zap.String("user_id", userID),
				zap.String("mode", req.Mode),
				zap.Error(err),
			)
			renderJSON(w, http.StatusInternalServerError, models.APIError{Code: http.StatusInternalServerError, Message: "sync failed: " + err.Error()})
		}

		return
	}

	renderJSON(w, http.StatusOK, models.SyncResponse{
		Mode:     req.Mode,
		Full:     result.Full,
		Inserted: result.Inserted,
		Skipped:  result.Skipped,
		Failed:   result.Failed,
		Cursor:   result.Cursor,
	})
}
