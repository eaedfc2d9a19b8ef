package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/dayframe/calsync/models"
	"github.com/dayframe/calsync/web/auth"
)

const (
	defaultLogLimit = 50
	maxLogLimit     = 500
)

// subscribeRequest mirrors the browser PushSubscription JSON plus alarm
// preferences. Alarm is optional; a subscription without one starts with
// alarms on at the default lead time.
type subscribeRequest struct {
	Endpoint string           `json:"endpoint" validate:"required,url"`
	Keys     subscriptionKeys `json:"keys" validate:"required"`
	Alarm    *alarmSettings   `json:"alarm"`
}

type subscriptionKeys struct {
	P256dh string `json:"p256dh" validate:"required"`
	Auth   string `json:"auth" validate:"required"`
}

type alarmSettings struct {
	Enabled          bool `json:"enabled"`
	MinutesBefore    int  `json:"minutes_before" validate:"gte=0,lte=1440"`
	SoundEnabled     bool `json:"sound_enabled"`
	ShowNotification bool `json:"show_notification"`
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint" validate:"required,url"`
}

// testPushRequest optionally narrows the test delivery to one endpoint.
type testPushRequest struct {
	Endpoint string `json:"endpoint" validate:"omitempty,url"`
}

// Subscribe registers or refreshes a push subscription for the caller.
// Re-subscribing an existing endpoint updates its keys and alarm settings
// in place.
func (h *PushHandlers) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderJSON(w, http.StatusUnprocessableEntity, models.APIError{Code: http.StatusUnprocessableEntity, Message: err.Error()})
		return
	}

	if err := h.Deps.Validate.Struct(&req); err != nil {
		renderJSON(w, http.StatusBadRequest, models.APIError{Code: http.StatusBadRequest, Message: err.Error()})
		return
	}

	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		renderJSON(w, http.StatusUnauthorized, models.APIError{Code: http.StatusUnauthorized, Message: "User not authenticated"})
		return
	}

	sub := &models.PushSubscription{
		UserID:   userID,
		Endpoint: req.Endpoint,
		Keys:     models.SubscriptionKeys{P256dh: req.Keys.P256dh, Auth: req.Keys.Auth},
		Alarm: models.AlarmSettings{
			Enabled:          true,
			MinutesBefore:    models.DefaultAlarmMinutesBefore,
			ShowNotification: true,
		},
	}

	if req.Alarm != nil {
		sub.Alarm = models.AlarmSettings{
			Enabled:          req.Alarm.Enabled,
			MinutesBefore:    req.Alarm.MinutesBefore,
			SoundEnabled:     req.Alarm.SoundEnabled,
			ShowNotification: req.Alarm.ShowNotification,
		}
	}

	if err := h.Deps.Subscriptions.Save(r.Context(), sub); err != nil {
		h.Deps.Logger.Error("save push subscription",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		renderJSON(w, http.StatusInternalServerError, models.APIError{Code: http.StatusInternalServerError, Message: "failed to save subscription"})
		return
	}

	renderJSON(w, http.StatusCreated, sub)
}

// Unsubscribe removes one of the caller's push subscriptions by endpoint.
func (h *PushHandlers) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req unsubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderJSON(w, http.StatusUnprocessableEntity, models.APIError{Code: http.StatusUnprocessableEntity, Message: err.Error()})
		return
	}

	if err := h.Deps.Validate.Struct(&req); err != nil {
		renderJSON(w, http.StatusBadRequest, models.APIError{Code: http.StatusBadRequest, Message: err.Error()})
		return
	}

	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		renderJSON(w, http.StatusUnauthorized, models.APIError{Code: http.StatusUnauthorized, Message: "User not authenticated"})
		return
	}

	if err := h.Deps.Subscriptions.Delete(r.Context(), userID, req.Endpoint); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			renderJSON(w, http.StatusNotFound, models.APIError{Code: http.StatusNotFound, Message: "subscription not found"})
			return
		}

		h.Deps.Logger.Error("delete push subscription",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		renderJSON(w, http.StatusInternalServerError, models.APIError{Code: http.StatusInternalServerError, Message: "failed to delete subscription"})
		return
	}

	w.WriteHeader(http.StatusOK)
}

// Test sends a canned notification to the caller's subscriptions without
// touching events or the delivery log. With an endpoint in the body only
// that subscription is exercised.
func (h *PushHandlers) Test(w http.ResponseWriter, r *http.Request) {
	var req testPushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		renderJSON(w, http.StatusUnprocessableEntity, models.APIError{Code: http.StatusUnprocessableEntity, Message: err.Error()})
		return
	}

	if err := h.Deps.Validate.Struct(&req); err != nil {
		renderJSON(w, http.StatusBadRequest, models.APIError{Code: http.StatusBadRequest, Message: err.Error()})
		return
	}

	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		renderJSON(w, http.StatusUnauthorized, models.APIError{Code: http.StatusUnauthorized, Message: "User not authenticated"})
		return
	}

	subs, err := h.Deps.Subscriptions.ListByUser(r.Context(), userID)
	if err != nil {
		h.Deps.Logger.Error("list push subscriptions",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		renderJSON(w, http.StatusInternalServerError, models.APIError{Code: http.StatusInternalServerError, Message: "failed to list subscriptions"})
		return
	}

	if req.Endpoint != "" {
		matched := subs[:0]
		for i := range subs {
			if subs[i].Endpoint == req.Endpoint {
				matched = append(matched, subs[i])
			}
		}
		subs = matched
	}

	if len(subs) == 0 {
		renderJSON(w, http.StatusNotFound, models.APIError{Code: http.StatusNotFound, Message: "no matching push subscription"})
		return
	}

	var sent, failed int
	var errs error

	for i := range subs {
		if err := h.Deps.Push.SendTest(r.Context(), &subs[i]); err != nil {
			failed++
			errs = multierr.Append(errs, err)

			continue
		}

		sent++
	}

	if sent == 0 {
		h.Deps.Logger.Warn("test push failed",
			zap.String("user_id", userID),
			zap.Error(errs),
		)
		renderJSON(w, http.StatusBadGateway, models.APIError{Code: http.StatusBadGateway, Message: "test push failed: " + errs.Error()})
		return
	}

	renderJSON(w, http.StatusOK, models.TestPushResponse{Sent: sent, Failed: failed})
}

// NotificationLog returns the caller's most recent delivery attempts,
// newest first. Out-of-range limit values fall back to the default.
func (h *PushHandlers) NotificationLog(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		renderJSON(w, http.StatusUnauthorized, models.APIError{Code: http.StatusUnauthorized, Message: "User not authenticated"})
		return
	}

	limit := defaultLogLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil && l > 0 && l <= maxLogLimit {
			limit = l
		}
	}

	entries, err := h.Deps.Logs.ListByUser(r.Context(), userID, limit)
	if err != nil {
		h.Deps.Logger.Error("list notification log",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		renderJSON(w, http.StatusInternalServerError, models.APIError{Code: http.StatusInternalServerError, Message: "failed to list notification log"})
		return
	}

	if entries == nil {
		entries = []models.NotificationLog{}
	}

	renderJSON(w, http.StatusOK, entries)
}
