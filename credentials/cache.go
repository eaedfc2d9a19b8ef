package credentials

import (
	"sync"
	"time"
)

// tokenCacheTTL caps how long a decrypted access token may be served from
// memory, whatever its real expiry says.
const tokenCacheTTL = time.Hour

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// tokenCache keeps plaintext access tokens in memory so repeated lookups
// within a sync pass skip the repository and the cipher. Expiry is lazy: a
// stale entry is dropped on the read that finds it.
type tokenCache struct {
	mu      sync.RWMutex
	entries map[string]cachedToken
}

func newTokenCache() *tokenCache {
	return &tokenCache{entries: make(map[string]cachedToken)}
}

func (c *tokenCache) Get(userID string) (string, bool) {
	c.mu.RLock()
	entry, ok := c.entries[userID]
	c.mu.RUnlock()

	if !ok {
		return "", false
	}

	if entry.expiresAt.Before(time.Now()) {
		c.Drop(userID)
		return "", false
	}

	return entry.token, true
}

func (c *tokenCache) Put(userID, token string, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[userID] = cachedToken{token: token, expiresAt: expiresAt}
}

func (c *tokenCache) Drop(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, userID)
}

// cacheDeadline clamps a token expiry to the cache TTL. Tokens without an
// expiry are cached for the full TTL.
func cacheDeadline(now, expiry time.Time) time.Time {
	limit := now.Add(tokenCacheTTL)
	if expiry.IsZero() || expiry.After(limit) {
		return limit
	}

	return expiry
}
