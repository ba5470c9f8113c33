package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tradeforge/tradeforge/internal/core"
)

// CachedProvider wraps a provider with a TTL cache keyed by the full
// request. The live engine ticks many settings against the same symbol,
// so identical requests within the TTL hit the upstream only once.
type CachedProvider struct {
	provider Provider
	mu       sync.Mutex
	cache    map[string][]core.Bar
	cacheAt  map[string]time.Time
	ttl      time.Duration
	now      func() time.Time
}

// NewCachedProvider creates a caching wrapper around provider.
func NewCachedProvider(provider Provider, ttl time.Duration) *CachedProvider {
	return &CachedProvider{
		provider: provider,
		cache:    make(map[string][]core.Bar),
		cacheAt:  make(map[string]time.Time),
		ttl:      ttl,
		now:      time.Now,
	}
}

// GetBars returns cached bars or fetches from the underlying provider.
// Errors are not cached.
func (p *CachedProvider) GetBars(ctx context.Context, symbol, interval string, start, end time.Time) ([]core.Bar, error) {
	key := fmt.Sprintf("%s|%s|%d|%d", symbol, interval, start.UnixMilli(), end.UnixMilli())

	p.mu.Lock()
	if cached, ok := p.cache[key]; ok && p.now().Sub(p.cacheAt[key]) < p.ttl {
		p.mu.Unlock()
		return cached, nil
	}
	p.mu.Unlock()

	bars, err := p.provider.GetBars(ctx, symbol, interval, start, end)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.cache[key] = bars
	p.cacheAt[key] = p.now()
	p.mu.Unlock()
	return bars, nil
}
