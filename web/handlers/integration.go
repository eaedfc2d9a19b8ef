package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/dayframe/calsync/credentials"
	"github.com/dayframe/calsync/models"
	"github.com/dayframe/calsync/web/auth"
)

// Connect starts the provider authorization flow and returns the consent
// URL for the client to open in a browser.
func (h *IntegrationHandlers) Connect(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		renderJSON(w, http.StatusUnauthorized, models.APIError{Code: http.StatusUnauthorized, Message: "User not authenticated"})
		return
	}

	url, err := h.Deps.Credentials.BeginAuthorization(r.Context(), userID)
	if err != nil {
		h.Deps.Logger.Error("begin authorization",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		renderJSON(w, http.StatusInternalServerError, models.APIError{Code: http.StatusInternalServerError, Message: "failed to start authorization"})
		return
	}

	renderJSON(w, http.StatusOK, models.ConnectResponse{AuthorizationURL: url})
}

// Callback finishes the provider authorization flow. It is reached by a
// browser redirect from the provider, so the request carries no API token;
// the single-use state parameter identifies the user instead.
func (h *IntegrationHandlers) Callback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")

	if state == "" || code == "" {
		renderJSON(w, http.StatusBadRequest, models.APIError{Code: http.StatusBadRequest, Message: "missing state or code parameter"})
		return
	}

	userID, err := h.Deps.Credentials.CompleteAuthorization(r.Context(), state, code)
	if err != nil {
		if errors.Is(err, credentials.ErrInvalidAuthorizationState) {
			renderJSON(w, http.StatusBadRequest, models.APIError{Code: http.StatusBadRequest, Message: "invalid or expired state parameter"})
			return
		}

		h.Deps.Logger.Error("complete authorization", zap.Error(err))
		renderJSON(w, http.StatusInternalServerError, models.APIError{Code: http.StatusInternalServerError, Message: "failed to complete authorization: " + err.Error()})
		return
	}

	renderJSON(w, http.StatusOK, models.CallbackResponse{Connected: true, UserID: userID})
}

// Status reports whether the caller has a provider integration and how its
// last sync pass went.
func (h *IntegrationHandlers) Status(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		renderJSON(w, http.StatusUnauthorized, models.APIError{Code: http.StatusUnauthorized, Message: "User not authenticated"})
		return
	}

	integration, err := h.Deps.Integrations.Get(r.Context(), userID, h.Deps.Provider)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			renderJSON(w, http.StatusOK, models.IntegrationStatusResponse{Connected: false})
			return
		}

		h.Deps.Logger.Error("integration status",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		renderJSON(w, http.StatusInternalServerError, models.APIError{Code: http.StatusInternalServerError, Message: "failed to load integration"})
		return
	}

	resp := models.IntegrationStatusResponse{
		Connected:    true,
		Provider:     integration.Provider,
		Status:       integration.Status,
		LastError:    integration.LastError,
		LabelFilters: integration.LabelFilters,
	}
	if !integration.LastSyncAt.IsZero() {
		resp.LastSyncAt = &integration.LastSyncAt
	}

	renderJSON(w, http.StatusOK, resp)
}

// Disconnect removes the caller's provider integration. Disconnecting when
// nothing is connected succeeds, matching the credential store.
func (h *IntegrationHandlers) Disconnect(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		renderJSON(w, http.StatusUnauthorized, models.APIError{Code: http.StatusUnauthorized, Message: "User not authenticated"})
		return
	}

	if err := h.Deps.Credentials.Disconnect(r.Context(), userID); err != nil {
		h.Deps.Logger.Error("disconnect integration",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		renderJSON(w, http.StatusInternalServerError, models.APIError{Code: http.StatusInternalServerError, Message: "failed to disconnect"})
		return
	}

	w.WriteHeader(http.StatusOK)
}
