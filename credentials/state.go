package credentials

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"
)

// StateCache holds single-use OAuth state tokens for the duration of an
// authorization round trip. Consume returns the user the state was issued
// to, or an empty string when the state is unknown, already used, or
// expired.
type StateCache interface {
	Put(ctx context.Context, state, userID string, ttl time.Duration) error
	Consume(ctx context.Context, state string) (string, error)
}

// randomState returns a URL-safe token with 256 bits of entropy.
func randomState() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

type stateEntry struct {
	userID    string
	expiresAt time.Time
}

// memoryStateCache is the single-instance default. Expired entries are
// swept on each Put, which is enough given the 10 minute TTL and the low
// rate of authorization attempts.
type memoryStateCache struct {
	mu      sync.Mutex
	entries map[string]stateEntry
}

// NewMemoryStateCache returns an in-process StateCache.
func NewMemoryStateCache() StateCache {
	return &memoryStateCache{entries: make(map[string]stateEntry)}
}

func (c *memoryStateCache) Put(_ context.Context, state, userID string, ttl time.Duration) error {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for key, entry := range c.entries {
		if entry.expiresAt.Before(now) {
			delete(c.entries, key)
		}
	}

	c.entries[state] = stateEntry{userID: userID, expiresAt: now.Add(ttl)}

	return nil
}

func (c *memoryStateCache) Consume(_ context.Context, state string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[state]
	if !ok {
		return "", nil
	}

	delete(c.entries, state)

	if entry.expiresAt.Before(time.Now()) {
		return "", nil
	}

	return entry.userID, nil
}
