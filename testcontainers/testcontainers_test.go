package testcontainers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestContext(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	t.Run("starts both stores", func(t *testing.T) {
		WithTestContext(t, func(tc *TestContext) {
			pong, err := tc.Redis.Ping(tc.Context()).Result()
			require.NoError(t, err)
			assert.Equal(t, "PONG", pong)

			require.NoError(t, tc.DB.Ping(tc.Context()))
		})
	})

	t.Run("provisions the application schema", func(t *testing.T) {
		WithTestContext(t, func(tc *TestContext) {
			_, err := tc.DB.Exec(tc.Context(), `
				INSERT INTO user_integrations
					(id, user_id, provider, access_token, refresh_token, expiry, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, now(), now(), now())
			`, "integration-1", "user-1", "google", []byte("access"), []byte("refresh"))
			require.NoError(t, err)

			var provider string
			err = tc.DB.QueryRow(tc.Context(), `
				SELECT provider FROM user_integrations WHERE user_id = $1
			`, "user-1").Scan(&provider)
			require.NoError(t, err)
			assert.Equal(t, "google", provider)

			for _, table := range []string{"events", "push_subscriptions", "notification_log"} {
				var count int
				err = tc.DB.QueryRow(tc.Context(), "SELECT COUNT(*) FROM "+table).Scan(&count)
				require.NoErrorf(t, err, "table %s should exist", table)
				assert.Zero(t, count)
			}
		})
	})

	t.Run("isolates contexts", func(t *testing.T) {
		WithTestContext(t, func(tc1 *TestContext) {
			WithTestContext(t, func(tc2 *TestContext) {
				assert.NotEqual(t, tc1.RedisConfig.Port, tc2.RedisConfig.Port)
				assert.NotEqual(t, tc1.PostgresConfig.Port, tc2.PostgresConfig.Port)
			})
		})
	})

	t.Run("round-trips redis values", func(t *testing.T) {
		WithTestContext(t, func(tc *TestContext) {
			require.NoError(t, tc.Redis.Set(tc.Context(), "sync:cursor", "12345", time.Minute).Err())

			val, err := tc.Redis.Get(tc.Context(), "sync:cursor").Result()
			require.NoError(t, err)
			assert.Equal(t, "12345", val)
		})
	})
}
