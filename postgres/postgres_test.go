package postgres

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dayframe/calsync/models"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := os.Getenv("PG_TEST_DSN")
	if dsn == "" {
		t.Skip("Skipping PostgreSQL repository test: PG_TEST_DSN not set")
	}

	db, err := Open(dsn)
	require.NoError(t, err, "failed to connect to PostgreSQL")

	t.Cleanup(func() { db.Close() })

	return db
}

func testIntegration(userID string) *models.Integration {
	return &models.Integration{
		UserID:       userID,
		Provider:     "google",
		AccessToken:  []byte("enc-access"),
		RefreshToken: []byte("enc-refresh"),
		Expiry:       time.Now().Add(time.Hour).UTC().Truncate(time.Second),
		Status:       models.SyncStatusIdle,
		LabelFilters: []string{models.DefaultLabelFilter},
	}
}

func TestIntegrationRepository(t *testing.T) {
	db := openTestDB(t)
	repo := NewIntegrationRepository(db)

	ctx := context.Background()
	userID := uuid.New().String()

	integration := testIntegration(userID)

	t.Cleanup(func() { _ = repo.Delete(ctx, userID, "google") })

	t.Run("Save assigns an id", func(t *testing.T) {
		require.NoError(t, repo.Save(ctx, integration))
		assert.NotEmpty(t, integration.ID)
	})

	t.Run("Get round trips the row", func(t *testing.T) {
		got, err := repo.Get(ctx, userID, "google")
		require.NoError(t, err)

		assert.Equal(t, integration.ID, got.ID)
		assert.Equal(t, []byte("enc-access"), got.AccessToken)
		assert.Equal(t, []byte("enc-refresh"), got.RefreshToken)
		assert.Equal(t, models.SyncStatusIdle, got.Status)
		assert.Equal(t, []string{"INBOX"}, got.LabelFilters)
		assert.True(t, got.LastSyncAt.IsZero())
	})

	t.Run("Get unknown user returns ErrNotFound", func(t *testing.T) {
		_, err := repo.Get(ctx, uuid.New().String(), "google")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("UpdateSyncCursor sets cursor and sync time", func(t *testing.T) {
		syncedAt := time.Now().UTC().Truncate(time.Second)
		require.NoError(t, repo.UpdateSyncCursor(ctx, userID, "google", "12345", syncedAt))

		got, err := repo.Get(ctx, userID, "google")
		require.NoError(t, err)
		assert.Equal(t, "12345", got.SyncCursor)
		assert.True(t, got.LastSyncAt.Equal(syncedAt))
	})

	t.Run("Save conflict keeps cursor and filters", func(t *testing.T) {
		again := testIntegration(userID)
		again.AccessToken = []byte("enc-access-2")
		again.LabelFilters = []string{"rewritten"}
		require.NoError(t, repo.Save(ctx, again))

		// The existing row keeps its id.
		assert.Equal(t, integration.ID, again.ID)

		got, err := repo.Get(ctx, userID, "google")
		require.NoError(t, err)
		assert.Equal(t, []byte("enc-access-2"), got.AccessToken)
		assert.Equal(t, "12345", got.SyncCursor)
		assert.Equal(t, []string{"INBOX"}, got.LabelFilters)
	})

	t.Run("UpdateSyncStatus records the error text", func(t *testing.T) {
		require.NoError(t, repo.UpdateSyncStatus(ctx, userID, "google", models.SyncStatusError, "provider timeout"))

		got, err := repo.Get(ctx, userID, "google")
		require.NoError(t, err)
		assert.Equal(t, models.SyncStatusError, got.Status)
		assert.Equal(t, "provider timeout", got.LastError)
	})

	t.Run("UpdateTokens rewrites credentials only", func(t *testing.T) {
		expiry := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)
		require.NoError(t, repo.UpdateTokens(ctx, userID, "google", []byte("a2"), []byte("r2"), expiry))

		got, err := repo.Get(ctx, userID, "google")
		require.NoError(t, err)
		assert.Equal(t, []byte("a2"), got.AccessToken)
		assert.Equal(t, "12345", got.SyncCursor)
	})

	t.Run("ListByProvider includes the row", func(t *testing.T) {
		rows, err := repo.ListByProvider(ctx, "google")
		require.NoError(t, err)

		found := false
		for _, row := range rows {
			if row.UserID == userID {
				found = true
				break
			}
		}

		assert.True(t, found, "expected integration in provider listing")
	})

	t.Run("Delete removes the row", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, userID, "google"))

		_, err := repo.Get(ctx, userID, "google")
		assert.ErrorIs(t, err, models.ErrNotFound)

		assert.ErrorIs(t, repo.Delete(ctx, userID, "google"), models.ErrNotFound)
	})
}

func TestEventRepository(t *testing.T) {
	db := openTestDB(t)
	repo := NewEventRepository(db)

	ctx := context.Background()
	userID := uuid.New().String()
	start := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	event := &models.Event{
		UserID:     userID,
		Title:      "Standup",
		StartDate:  start,
		EndDate:    start.Add(30 * time.Minute),
		Type:       models.EventTypeEvent,
		Status:     models.EventStatusScheduled,
		SyncSource: "google",
		ExternalID: "uid-" + uuid.New().String(),
	}

	t.Cleanup(func() {
		if event.ID != "" {
			_ = repo.Delete(ctx, event.ID)
		}
	})

	t.Run("Create assigns an id", func(t *testing.T) {
		require.NoError(t, repo.Create(ctx, event))
		assert.NotEmpty(t, event.ID)
	})

	t.Run("duplicate external id returns ErrDuplicate", func(t *testing.T) {
		dup := *event
		dup.ID = ""

		assert.ErrorIs(t, repo.Create(ctx, &dup), models.ErrDuplicate)
	})

	t.Run("manual events are not deduplicated", func(t *testing.T) {
		first := &models.Event{
			UserID:     userID,
			Title:      "Dentist",
			StartDate:  start,
			EndDate:    start.Add(time.Hour),
			Type:       models.EventTypeEvent,
			Status:     models.EventStatusScheduled,
			SyncSource: models.SyncSourceManual,
		}
		second := &models.Event{
			UserID:     userID,
			Title:      "Dentist again",
			StartDate:  start,
			EndDate:    start.Add(time.Hour),
			Type:       models.EventTypeEvent,
			Status:     models.EventStatusScheduled,
			SyncSource: models.SyncSourceManual,
		}

		require.NoError(t, repo.Create(ctx, first))
		require.NoError(t, repo.Create(ctx, second))

		t.Cleanup(func() {
			_ = repo.Delete(ctx, first.ID)
			_ = repo.Delete(ctx, second.ID)
		})
	})

	t.Run("GetByExternalID finds the import", func(t *testing.T) {
		got, err := repo.GetByExternalID(ctx, userID, "google", event.ExternalID)
		require.NoError(t, err)
		assert.Equal(t, event.ID, got.ID)

		_, err = repo.GetByExternalID(ctx, userID, "google", "missing")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("ListUpcoming honors the window", func(t *testing.T) {
		rows, err := repo.ListUpcoming(ctx, userID, start.Add(-time.Minute), start.Add(time.Minute))
		require.NoError(t, err)
		require.NotEmpty(t, rows)

		rows, err = repo.ListUpcoming(ctx, userID, start.Add(time.Minute), start.Add(2*time.Minute))
		require.NoError(t, err)

		for _, row := range rows {
			assert.NotEqual(t, event.ID, row.ID)
		}
	})

	t.Run("MarkNotified stores the timestamp", func(t *testing.T) {
		sentAt := time.Now().UTC().Truncate(time.Second)
		require.NoError(t, repo.MarkNotified(ctx, event.ID, sentAt))

		got, err := repo.Get(ctx, event.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LastNotificationSent)
		assert.True(t, got.LastNotificationSent.Equal(sentAt))
	})

	t.Run("Delete removes the row", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, event.ID))
		assert.ErrorIs(t, repo.Delete(ctx, event.ID), models.ErrNotFound)
		event.ID = ""
	})
}

func TestPushSubscriptionRepository(t *testing.T) {
	db := openTestDB(t)
	repo := NewPushSubscriptionRepository(db)

	ctx := context.Background()
	userID := uuid.New().String()
	endpoint := "https://push.example.com/" + uuid.New().String()

	sub := &models.PushSubscription{
		UserID:   userID,
		Endpoint: endpoint,
		Keys:     models.SubscriptionKeys{P256dh: "p256dh", Auth: "auth"},
		Alarm: models.AlarmSettings{
			Enabled:          true,
			MinutesBefore:    15,
			SoundEnabled:     true,
			ShowNotification: true,
		},
	}

	t.Cleanup(func() { _ = repo.DeleteByEndpoint(ctx, endpoint) })

	t.Run("Save assigns an id", func(t *testing.T) {
		require.NoError(t, repo.Save(ctx, sub))
		assert.NotEmpty(t, sub.ID)
	})

	t.Run("Save upserts alarm settings in place", func(t *testing.T) {
		again := *sub
		again.ID = ""
		again.Alarm.MinutesBefore = 30
		require.NoError(t, repo.Save(ctx, &again))

		assert.Equal(t, sub.ID, again.ID)

		rows, err := repo.ListByUser(ctx, userID)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, 30, rows[0].Alarm.MinutesBefore)
	})

	t.Run("ListAlarmEnabled filters disabled alarms", func(t *testing.T) {
		rows, err := repo.ListAlarmEnabled(ctx)
		require.NoError(t, err)

		found := false
		for _, row := range rows {
			if row.Endpoint == endpoint {
				found = true
				break
			}
		}

		assert.True(t, found)

		off := *sub
		off.ID = ""
		off.Alarm.Enabled = false
		require.NoError(t, repo.Save(ctx, &off))

		rows, err = repo.ListAlarmEnabled(ctx)
		require.NoError(t, err)

		for _, row := range rows {
			assert.NotEqual(t, endpoint, row.Endpoint)
		}
	})

	t.Run("Delete removes the row", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, userID, endpoint))
		assert.ErrorIs(t, repo.Delete(ctx, userID, endpoint), models.ErrNotFound)
	})

	t.Run("DeleteByEndpoint clears all users", func(t *testing.T) {
		other := *sub
		other.ID = ""
		other.UserID = uuid.New().String()
		require.NoError(t, repo.Save(ctx, sub))
		require.NoError(t, repo.Save(ctx, &other))

		require.NoError(t, repo.DeleteByEndpoint(ctx, endpoint))

		rows, err := repo.ListByUser(ctx, userID)
		require.NoError(t, err)
		assert.Empty(t, rows)

		rows, err = repo.ListByUser(ctx, other.UserID)
		require.NoError(t, err)
		assert.Empty(t, rows)
	})
}

func TestNotificationLogRepository(t *testing.T) {
	db := openTestDB(t)
	repo := NewNotificationLogRepository(db)

	ctx := context.Background()
	userID := uuid.New().String()

	for i := 0; i < 3; i++ {
		entry := &models.NotificationLog{
			UserID:    userID,
			EventID:   uuid.New().String(),
			Endpoint:  "https://push.example.com/ep",
			Payload:   `{"title":"Standup"}`,
			Success:   i%2 == 0,
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second).UTC(),
		}
		require.NoError(t, repo.Append(ctx, entry))
	}

	t.Run("ListByUser returns newest first within the limit", func(t *testing.T) {
		rows, err := repo.ListByUser(ctx, userID, 2)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.True(t, rows[0].CreatedAt.After(rows[1].CreatedAt))
	})

	t.Run("ListByUser for unknown user is empty", func(t *testing.T) {
		rows, err := repo.ListByUser(ctx, uuid.New().String(), 10)
		require.NoError(t, err)
		assert.Empty(t, rows)
	})
}
