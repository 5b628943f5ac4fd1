package oauth

import (
	"context"
	"sync"
	"time"

	"github.com/cursolabs/cursopay/internal/clock"
)

// RefreshAtFraction is the share of a token's lifetime after which the cache
// fetches a fresh one. 0.89 leaves an 11% margin before provider-side expiry,
// wide enough that a token handed to a slow request never expires mid-flight.
const RefreshAtFraction = 0.89

// Token is a provider-issued client-credentials token.
type Token struct {
	AccessToken string
	ExpiresIn   time.Duration
}

// FetchFunc obtains a fresh token from the provider.
type FetchFunc func(ctx context.Context) (Token, error)

type entry struct {
	accessToken string
	refreshAt   time.Time
}

// Cache caches OAuth client-credentials tokens per client id. PayPal and
// Mercado Pago both hand out tokens valid for hours; fetching one per request
// would be wasteful and trips provider rate limits.
type Cache struct {
	mu      sync.Mutex
	clock   clock.Clock
	entries map[string]entry
}

func NewCache(clk clock.Clock) *Cache {
	return &Cache{
		clock:   clk,
		entries: make(map[string]entry),
	}
}

// Token returns the cached token for clientID, fetching a fresh one when none
// is cached or the refresh point has passed. The provider call runs under the
// lock so concurrent callers do not stampede the token endpoint.
func (c *Cache) Token(ctx context.Context, clientID string, fetch FetchFunc) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now(ctx)
	if e, ok := c.entries[clientID]; ok && now.Before(e.refreshAt) {
		return e.accessToken, nil
	}

	token, err := fetch(ctx)
	if err != nil {
		return "", err
	}

	lifetime := time.Duration(float64(token.ExpiresIn) * RefreshAtFraction)
	c.entries[clientID] = entry{
		accessToken: token.AccessToken,
		refreshAt:   now.Add(lifetime),
	}
	return token.AccessToken, nil
}

// Invalidate drops the cached token for clientID, forcing the next call to
// fetch. Used after a 401 from the provider.
func (c *Cache) Invalidate(clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, clientID)
}
