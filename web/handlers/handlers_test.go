package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dayframe/calsync/credentials"
	"github.com/dayframe/calsync/models"
	"github.com/dayframe/calsync/syncer"
	"github.com/dayframe/calsync/web/auth"
)

type fakeCredentials struct {
	authURL    string
	beginErr   error
	userID     string
	disconnect []string
}

func (f *fakeCredentials) BeginAuthorization(_ context.Context, _ string) (string, error) {
	return f.authURL, f.beginErr
}

func (f *fakeCredentials) CompleteAuthorization(_ context.Context, state, _ string) (string, error) {
	if state != "good-state" {
		return "", credentials.ErrInvalidAuthorizationState
	}

	return f.userID, nil
}

func (f *fakeCredentials) Disconnect(_ context.Context, userID string) error {
	f.disconnect = append(f.disconnect, userID)

	return nil
}

type fakeSyncService struct {
	mu       sync.Mutex
	fullRuns int
	incrRuns int
	result   *syncer.Result
	err      error
}

func (f *fakeSyncService) FullSync(_ context.Context, _ string) (*syncer.Result, error) {
	f.mu.Lock()
	f.fullRuns++
	f.mu.Unlock()

	return f.result, f.err
}

func (f *fakeSyncService) IncrementalSync(_ context.Context, _ string) (*syncer.Result, error) {
	f.mu.Lock()
	f.incrRuns++
	f.mu.Unlock()

	return f.result, f.err
}

type fakePushService struct {
	sent []string
	err  error
}

func (f *fakePushService) SendTest(_ context.Context, sub *models.PushSubscription) error {
	if f.err != nil {
		return f.err
	}

	f.sent = append(f.sent, sub.Endpoint)

	return nil
}

type fakeSubscriptionStore struct {
	saved []models.PushSubscription
	subs  []models.PushSubscription
}

func (f *fakeSubscriptionStore) Save(_ context.Context, sub *models.PushSubscription) error {
	f.saved = append(f.saved, *sub)

	return nil
}

func (f *fakeSubscriptionStore) ListByUser(_ context.Context, userID string) ([]models.PushSubscription, error) {
	var out []models.PushSubscription

	for _, sub := range f.subs {
		if sub.UserID == userID {
			out = append(out, sub)
		}
	}

	return out, nil
}

func (f *fakeSubscriptionStore) ListAlarmEnabled(_ context.Context) ([]models.PushSubscription, error) {
	return f.subs, nil
}

func (f *fakeSubscriptionStore) Delete(_ context.Context, userID, endpoint string) error {
	for i, sub := range f.subs {
		if sub.UserID == userID && sub.Endpoint == endpoint {
			f.subs = append(f.subs[:i], f.subs[i+1:]...)

			return nil
		}
	}

	return models.ErrNotFound
}

func (f *fakeSubscriptionStore) DeleteByEndpoint(_ context.Context, _ string) error { return nil }

type fakeLogStore struct {
	entries   []models.NotificationLog
	lastLimit int
}

func (f *fakeLogStore) Append(_ context.Context, _ *models.NotificationLog) error { return nil }

func (f *fakeLogStore) ListByUser(_ context.Context, _ string, limit int) ([]models.NotificationLog, error) {
	f.lastLimit = limit

	if limit < len(f.entries) {
		return f.entries[:limit], nil
	}

	return f.entries, nil
}

type fakeIntegrationStore struct {
	integration *models.Integration
	err         error
}

func (f *fakeIntegrationStore) Get(_ context.Context, _, _ string) (*models.Integration, error) {
	if f.err != nil {
		return nil, f.err
	}

	if f.integration == nil {
		return nil, models.ErrNotFound
	}

	return f.integration, nil
}

func (f *fakeIntegrationStore) Save(_ context.Context, _ *models.Integration) error { return nil }

func (f *fakeIntegrationStore) UpdateTokens(_ context.Context, _, _ string, _, _ []byte, _ time.Time) error {
	return nil
}

func (f *fakeIntegrationStore) UpdateSyncStatus(_ context.Context, _, _, _, _ string) error {
	return nil
}

func (f *fakeIntegrationStore) UpdateSyncCursor(_ context.Context, _, _, _ string, _ time.Time) error {
	return nil
}

func (f *fakeIntegrationStore) ListByProvider(_ context.Context, _ string) ([]models.Integration, error) {
	return nil, nil
}

func (f *fakeIntegrationStore) Delete(_ context.Context, _, _ string) error { return nil }

func authedRequest(method, target string, body []byte, userID string) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if userID != "" {
		req = req.WithContext(auth.WithUserID(req.Context(), userID))
	}

	return req
}

func TestPushHandlers_Subscribe_Validation(t *testing.T) {
	tests := []struct {
		name           string
		body           map[string]interface{}
		authenticated  bool
		expectedStatus int
	}{
		{
			name: "Valid Request",
			body: map[string]interface{}{
				"endpoint": "https://push.example.com/send/abc",
				"keys":     map[string]string{"p256dh": "pkey", "auth": "akey"},
			},
			authenticated:  true,
			expectedStatus: http.StatusCreated,
		},
		{
			name: "Missing Auth",
			body: map[string]interface{}{
				"endpoint": "https://push.example.com/send/abc",
				"keys":     map[string]string{"p256dh": "pkey", "auth": "akey"},
			},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name: "Missing Endpoint",
			body: map[string]interface{}{
				"keys": map[string]string{"p256dh": "pkey", "auth": "akey"},
			},
			authenticated:  true,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "Endpoint Not A URL",
			body: map[string]interface{}{
				"endpoint": "not-a-url",
				"keys":     map[string]string{"p256dh": "pkey", "auth": "akey"},
			},
			authenticated:  true,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "Missing Keys",
			body: map[string]interface{}{
				"endpoint": "https://push.example.com/send/abc",
			},
			authenticated:  true,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "Missing Auth Key",
			body: map[string]interface{}{
				"endpoint": "https://push.example.com/send/abc",
				"keys":     map[string]string{"p256dh": "pkey"},
			},
			authenticated:  true,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "Alarm Lead Too Long",
			body: map[string]interface{}{
				"endpoint": "https://push.example.com/send/abc",
				"keys":     map[string]string{"p256dh": "pkey", "auth": "akey"},
				"alarm":    map[string]interface{}{"enabled": true, "minutes_before": 1441},
			},
			authenticated:  true,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "Valid With Alarm",
			body: map[string]interface{}{
				"endpoint": "https://push.example.com/send/abc",
				"keys":     map[string]string{"p256dh": "pkey", "auth": "akey"},
				"alarm":    map[string]interface{}{"enabled": true, "minutes_before": 30, "show_notification": true},
			},
			authenticated:  true,
			expectedStatus: http.StatusCreated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeSubscriptionStore{}
			group := NewHandlerGroup(Dependencies{Subscriptions: store})

			bodyBytes, err := json.Marshal(tt.body)
			require.NoError(t, err)

			userID := ""
			if tt.authenticated {
				userID = "user-1"
			}

			w := httptest.NewRecorder()
			group.Push.Subscribe(w, authedRequest(http.MethodPost, "/api/push/subscriptions", bodyBytes, userID))

			assert.Equal(t, tt.expectedStatus, w.Code, "body: %s", w.Body.String())
		})
	}
}

func TestPushHandlers_Subscribe_DefaultsAlarm(t *testing.T) {
	store := &fakeSubscriptionStore{}
	group := NewHandlerGroup(Dependencies{Subscriptions: store})

	body := []byte(`{"endpoint":"https://push.example.com/send/abc","keys":{"p256dh":"pkey","auth":"akey"}}`)

	w := httptest.NewRecorder()
	group.Push.Subscribe(w, authedRequest(http.MethodPost, "/api/push/subscriptions", body, "user-1"))

	require.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, store.saved, 1)

	saved := store.saved[0]
	assert.Equal(t, "user-1", saved.UserID)
	assert.True(t, saved.Alarm.Enabled)
	assert.True(t, saved.Alarm.ShowNotification)
	assert.Equal(t, models.DefaultAlarmMinutesBefore, saved.Alarm.MinutesBefore)
}

func TestPushHandlers_Subscribe_KeepsExplicitAlarm(t *testing.T) {
	store := &fakeSubscriptionStore{}
	group := NewHandlerGroup(Dependencies{Subscriptions: store})

	body := []byte(`{
		"endpoint": "https://push.example.com/send/abc",
		"keys": {"p256dh": "pkey", "auth": "akey"},
		"alarm": {"enabled": false, "minutes_before": 45, "sound_enabled": true}
	}`)

	w := httptest.NewRecorder()
	group.Push.Subscribe(w, authedRequest(http.MethodPost, "/api/push/subscriptions", body, "user-1"))

	require.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, store.saved, 1)

	saved := store.saved[0]
	assert.False(t, saved.Alarm.Enabled)
	assert.Equal(t, 45, saved.Alarm.MinutesBefore)
	assert.True(t, saved.Alarm.SoundEnabled)
	assert.False(t, saved.Alarm.ShowNotification)
}

func TestPushHandlers_Unsubscribe(t *testing.T) {
	store := &fakeSubscriptionStore{
		subs: []models.PushSubscription{
			{UserID: "user-1", Endpoint: "https://push.example.com/send/abc"},
		},
	}
	group := NewHandlerGroup(Dependencies{Subscriptions: store})

	body := []byte(`{"endpoint":"https://push.example.com/send/abc"}`)

	w := httptest.NewRecorder()
	group.Push.Unsubscribe(w, authedRequest(http.MethodDelete, "/api/push/subscriptions", body, "user-1"))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	group.Push.Unsubscribe(w, authedRequest(http.MethodDelete, "/api/push/subscriptions", body, "user-1"))
	assert.Equal(t, http.StatusNotFound, w.Code, "second delete should miss")
}

func TestPushHandlers_Test(t *testing.T) {
	t.Run("no subscriptions", func(t *testing.T) {
		group := NewHandlerGroup(Dependencies{
			Subscriptions: &fakeSubscriptionStore{},
			Push:          &fakePushService{},
		})

		w := httptest.NewRecorder()
		group.Push.Test(w, authedRequest(http.MethodPost, "/api/push/test", nil, "user-1"))

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("delivers to every subscription", func(t *testing.T) {
		sender := &fakePushService{}
		group := NewHandlerGroup(Dependencies{
			Subscriptions: &fakeSubscriptionStore{
				subs: []models.PushSubscription{
					{UserID: "user-1", Endpoint: "https://push.example.com/send/a"},
					{UserID: "user-1", Endpoint: "https://push.example.com/send/b"},
					{UserID: "user-2", Endpoint: "https://push.example.com/send/c"},
				},
			},
			Push: sender,
		})

		w := httptest.NewRecorder()
		group.Push.Test(w, authedRequest(http.MethodPost, "/api/push/test", nil, "user-1"))

		require.Equal(t, http.StatusOK, w.Code)

		var resp models.TestPushResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, 2, resp.Sent)
		assert.Zero(t, resp.Failed)
		assert.Len(t, sender.sent, 2)
	})

	t.Run("narrows to requested endpoint", func(t *testing.T) {
		sender := &fakePushService{}
		group := NewHandlerGroup(Dependencies{
			Subscriptions: &fakeSubscriptionStore{
				subs: []models.PushSubscription{
					{UserID: "user-1", Endpoint: "https://push.example.com/send/a"},
					{UserID: "user-1", Endpoint: "https://push.example.com/send/b"},
				},
			},
			Push: sender,
		})

		body := []byte(`{"endpoint":"https://push.example.com/send/b"}`)

		w := httptest.NewRecorder()
		group.Push.Test(w, authedRequest(http.MethodPost, "/api/push/test", body, "user-1"))

		require.Equal(t, http.StatusOK, w.Code)
		require.Len(t, sender.sent, 1)
		assert.Equal(t, "https://push.example.com/send/b", sender.sent[0])
	})

	t.Run("all deliveries failing reports bad gateway", func(t *testing.T) {
		group := NewHandlerGroup(Dependencies{
			Subscriptions: &fakeSubscriptionStore{
				subs: []models.PushSubscription{
					{UserID: "user-1", Endpoint: "https://push.example.com/send/a"},
				},
			},
			Push: &fakePushService{err: errors.New("push service down")},
		})

		w := httptest.NewRecorder()
		group.Push.Test(w, authedRequest(http.MethodPost, "/api/push/test", nil, "user-1"))

		assert.Equal(t, http.StatusBadGateway, w.Code)
	})
}

func TestPushHandlers_NotificationLog(t *testing.T) {
	entries := make([]models.NotificationLog, 3)
	for i := range entries {
		entries[i] = models.NotificationLog{UserID: "user-1", Endpoint: "https://push.example.com/send/a", Success: true}
	}

	tests := []struct {
		name          string
		query         string
		expectedLimit int
	}{
		{name: "default limit", query: "", expectedLimit: defaultLogLimit},
		{name: "explicit limit", query: "?limit=2", expectedLimit: 2},
		{name: "limit above cap falls back", query: "?limit=10000", expectedLimit: defaultLogLimit},
		{name: "non-numeric limit falls back", query: "?limit=abc", expectedLimit: defaultLogLimit},
		{name: "zero limit falls back", query: "?limit=0", expectedLimit: defaultLogLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs := &fakeLogStore{entries: entries}
			group := NewHandlerGroup(Dependencies{Logs: logs})

			w := httptest.NewRecorder()
			group.Push.NotificationLog(w, authedRequest(http.MethodGet, "/api/notifications/log"+tt.query, nil, "user-1"))

			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.expectedLimit, logs.lastLimit)
		})
	}

	t.Run("empty history renders as empty array", func(t *testing.T) {
		group := NewHandlerGroup(Dependencies{Logs: &fakeLogStore{}})

		w := httptest.NewRecorder()
		group.Push.NotificationLog(w, authedRequest(http.MethodGet, "/api/notifications/log", nil, "user-1"))

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "[]", string(bytes.TrimSpace(w.Body.Bytes())))
	})
}

func TestSyncHandlers_Run(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		svc            *fakeSyncService
		expectedStatus int
		expectFull     int
		expectIncr     int
	}{
		{
			name:           "empty body defaults to incremental",
			body:           "",
			svc:            &fakeSyncService{result: &syncer.Result{Inserted: 2, Cursor: "777"}},
			expectedStatus: http.StatusOK,
			expectIncr:     1,
		},
		{
			name:           "explicit full mode",
			body:           `{"mode":"full"}`,
			svc:            &fakeSyncService{result: &syncer.Result{Inserted: 5, Full: true}},
			expectedStatus: http.StatusOK,
			expectFull:     1,
		},
		{
			name:           "unknown mode rejected",
			body:           `{"mode":"weekly"}`,
			svc:            &fakeSyncService{},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "malformed body rejected",
			body:           `{"mode":`,
			svc:            &fakeSyncService{},
			expectedStatus: http.StatusUnprocessableEntity,
		},
		{
			name:           "concurrent pass conflicts",
			body:           `{"mode":"incremental"}`,
			svc:            &fakeSyncService{err: syncer.ErrSyncInProgress},
			expectedStatus: http.StatusConflict,
			expectIncr:     1,
		},
		{
			name:           "no integration",
			body:           `{"mode":"incremental"}`,
			svc:            &fakeSyncService{err: models.ErrNotFound},
			expectedStatus: http.StatusNotFound,
			expectIncr:     1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			group := NewHandlerGroup(Dependencies{Sync: tt.svc})

			w := httptest.NewRecorder()
			group.Sync.Run(w, authedRequest(http.MethodPost, "/api/sync", []byte(tt.body), "user-1"))

			assert.Equal(t, tt.expectedStatus, w.Code, "body: %s", w.Body.String())
			assert.Equal(t, tt.expectFull, tt.svc.fullRuns)
			assert.Equal(t, tt.expectIncr, tt.svc.incrRuns)
		})
	}

	t.Run("reports counters", func(t *testing.T) {
		svc := &fakeSyncService{result: &syncer.Result{Inserted: 3, Skipped: 1, Failed: 2, Cursor: "900", Full: true}}
		group := NewHandlerGroup(Dependencies{Sync: svc})

		w := httptest.NewRecorder()
		group.Sync.Run(w, authedRequest(http.MethodPost, "/api/sync", []byte(`{"mode":"full"}`), "user-1"))

		require.Equal(t, http.StatusOK, w.Code)

		var resp models.SyncResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "full", resp.Mode)
		assert.True(t, resp.Full)
		assert.Equal(t, 3, resp.Inserted)
		assert.Equal(t, 1, resp.Skipped)
		assert.Equal(t, 2, resp.Failed)
		assert.Equal(t, "900", resp.Cursor)
	})
}

func TestIntegrationHandlers_Connect(t *testing.T) {
	creds := &fakeCredentials{authURL: "https://accounts.example.com/consent?state=xyz"}
	group := NewHandlerGroup(Dependencies{Credentials: creds})

	w := httptest.NewRecorder()
	group.Integration.Connect(w, authedRequest(http.MethodGet, "/api/integrations/google/connect", nil, "user-1"))

	require.Equal(t, http.StatusOK, w.Code)

	var resp models.ConnectResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, creds.authURL, resp.AuthorizationURL)

	w = httptest.NewRecorder()
	group.Integration.Connect(w, authedRequest(http.MethodGet, "/api/integrations/google/connect", nil, ""))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestIntegrationHandlers_Callback(t *testing.T) {
	group := NewHandlerGroup(Dependencies{Credentials: &fakeCredentials{userID: "user-1"}})

	tests := []struct {
		name           string
		target         string
		expectedStatus int
	}{
		{name: "missing state", target: "/api/integrations/google/callback?code=abc", expectedStatus: http.StatusBadRequest},
		{name: "missing code", target: "/api/integrations/google/callback?state=good-state", expectedStatus: http.StatusBadRequest},
		{name: "unknown state", target: "/api/integrations/google/callback?state=stale&code=abc", expectedStatus: http.StatusBadRequest},
		{name: "success", target: "/api/integrations/google/callback?state=good-state&code=abc", expectedStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			group.Integration.Callback(w, httptest.NewRequest(http.MethodGet, tt.target, nil))

			assert.Equal(t, tt.expectedStatus, w.Code, "body: %s", w.Body.String())
		})
	}

	t.Run("reports resolved user", func(t *testing.T) {
		w := httptest.NewRecorder()
		group.Integration.Callback(w, httptest.NewRequest(http.MethodGet, "/api/integrations/google/callback?state=good-state&code=abc", nil))

		require.Equal(t, http.StatusOK, w.Code)

		var resp models.CallbackResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Connected)
		assert.Equal(t, "user-1", resp.UserID)
	})
}

func TestIntegrationHandlers_Status(t *testing.T) {
	t.Run("not connected", func(t *testing.T) {
		group := NewHandlerGroup(Dependencies{Integrations: &fakeIntegrationStore{}})

		w := httptest.NewRecorder()
		group.Integration.Status(w, authedRequest(http.MethodGet, "/api/integrations/google/status", nil, "user-1"))

		require.Equal(t, http.StatusOK, w.Code)

		var resp models.IntegrationStatusResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.False(t, resp.Connected)
		assert.Empty(t, resp.Provider)
	})

	t.Run("connected", func(t *testing.T) {
		syncedAt := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
		group := NewHandlerGroup(Dependencies{Integrations: &fakeIntegrationStore{
			integration: &models.Integration{
				UserID:       "user-1",
				Provider:     "google",
				Status:       models.SyncStatusIdle,
				LastSyncAt:   syncedAt,
				LabelFilters: []string{"INBOX"},
			},
		}})

		w := httptest.NewRecorder()
		group.Integration.Status(w, authedRequest(http.MethodGet, "/api/integrations/google/status", nil, "user-1"))

		require.Equal(t, http.StatusOK, w.Code)

		var resp models.IntegrationStatusResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Connected)
		assert.Equal(t, "google", resp.Provider)
		assert.Equal(t, models.SyncStatusIdle, resp.Status)
		require.NotNil(t, resp.LastSyncAt)
		assert.True(t, resp.LastSyncAt.Equal(syncedAt))
		assert.Equal(t, []string{"INBOX"}, resp.LabelFilters)
	})
}

func TestIntegrationHandlers_Disconnect(t *testing.T) {
	creds := &fakeCredentials{}
	group := NewHandlerGroup(Dependencies{Credentials: creds})

	w := httptest.NewRecorder()
	group.Integration.Disconnect(w, authedRequest(http.MethodDelete, "/api/integrations/google", nil, "user-1"))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"user-1"}, creds.disconnect)
}

func TestWebHandlers_HealthCheck(t *testing.T) {
	group := NewHandlerGroup(Dependencies{})

	w := httptest.NewRecorder()
	group.Web.HealthCheck(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Status  string            `json:"status"`
		Service string            `json:"service"`
		Checks  map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "calsync", resp.Service)
	assert.Equal(t, "not_configured", resp.Checks["database"])
}
