package gateway

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// positionTimeout caps how long a maps query waits for coordinates.
// Position lookup is best-effort: a timeout or error just means the
// request goes out without retrieval bias.
const positionTimeout = 5 * time.Second

// LocationProvider supplies the caller's current geographic coordinates
// for biasing maps retrieval. Implementations may be slow (GPS, IP
// lookup); the gateway enforces the timeout.
type LocationProvider interface {
	CurrentPosition(ctx context.Context) (*LatLng, error)
}

// StaticLocation is a fixed-coordinate provider, used when the install
// location is configured rather than detected.
type StaticLocation LatLng

// CurrentPosition returns the fixed coordinates.
func (s StaticLocation) CurrentPosition(ctx context.Context) (*LatLng, error) {
	pos := LatLng(s)
	return &pos, nil
}

const positionCacheKey = "position"

// CachedLocation memoizes another provider's answer for a TTL so repeated
// maps queries don't pay the lookup cost every turn.
type CachedLocation struct {
	inner LocationProvider
	cache *cache.Cache
}

// NewCachedLocation wraps a provider with a TTL cache.
func NewCachedLocation(inner LocationProvider, ttl time.Duration) *CachedLocation {
	return &CachedLocation{
		inner: inner,
		cache: cache.New(ttl, 2*ttl),
	}
}

// CurrentPosition returns the cached coordinates when fresh, otherwise
// asks the inner provider and caches its answer. Failures are never
// cached.
func (c *CachedLocation) CurrentPosition(ctx context.Context) (*LatLng, error) {
	if cached, ok := c.cache.Get(positionCacheKey); ok {
		pos := cached.(LatLng)
		return &pos, nil
	}

	pos, err := c.inner.CurrentPosition(ctx)
	if err != nil || pos == nil {
		return nil, err
	}
	c.cache.SetDefault(positionCacheKey, *pos)
	return pos, nil
}

// resolvePosition asks the provider for coordinates under the best-effort
// timeout. Any failure yields nil: the caller proceeds without bias.
func resolvePosition(ctx context.Context, provider LocationProvider) *LatLng {
	if provider == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, positionTimeout)
	defer cancel()

	type result struct {
		pos *LatLng
		err error
	}
	ch := make(chan result, 1)
	go func() {
		pos, err := provider.CurrentPosition(ctx)
		ch <- result{pos, err}
	}()

	select {
	case <-ctx.Done():
		return nil
	case res := <-ch:
		if res.err != nil {
			return nil
		}
		return res.pos
	}
}
