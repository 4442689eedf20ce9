package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"farescan/internal/fetch"
)

// entry stores cached quotes for a single request key with expiry.
type entry struct {
	expiresAt time.Time
	quotes    []fetch.Quote
}

// Fetcher caches results per (route, date, adults, market) for a TTL.
// Useful behind the HTTP server where the same search is replayed; the
// one-shot CLI runs without it. Viewpoint egress is deliberately not part
// of the key: a repeated search for the same market reuses the quotes even
// if the proxy changed underneath.
type Fetcher struct {
	F        fetch.Fetcher
	TTL      time.Duration
	MaxItems int

	mu    sync.RWMutex
	items map[string]entry
}

func (c *Fetcher) Name() string { return c.F.Name() }

func requestKey(req fetch.Request) string {
	return fmt.Sprintf("%s|%s|%s|%d|%s", req.Origin, req.Destination, req.Date, req.Adults, req.Market.Code)
}

// Fetch returns cached quotes for the request when still fresh, otherwise
// delegates and stores the result. Failed fetches are not cached.
func (c *Fetcher) Fetch(ctx context.Context, req fetch.Request) ([]fetch.Quote, error) {
	if c.F == nil {
		return nil, fmt.Errorf("cache: no upstream fetcher")
	}
	if c.TTL <= 0 {
		return c.F.Fetch(ctx, req)
	}

	key := requestKey(req)
	now := time.Now()

	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()
	if ok && now.Before(e.expiresAt) {
		return e.quotes, nil
	}

	quotes, err := c.F.Fetch(ctx, req)
	if err != nil {
		// Serve stale data over nothing when the upstream just broke.
		if ok {
			return e.quotes, nil
		}
		return nil, err
	}

	c.mu.Lock()
	if c.items == nil {
		c.items = make(map[string]entry)
	}
	c.items[key] = entry{expiresAt: now.Add(c.TTL), quotes: quotes}
	// best-effort cap: drop expired entries first, then arbitrary ones
	if c.MaxItems > 0 && len(c.items) > c.MaxItems {
		for k, v := range c.items {
			if now.After(v.expiresAt) {
				delete(c.items, k)
			}
			if len(c.items) <= c.MaxItems {
				break
			}
		}
		for k := range c.items {
			if len(c.items) <= c.MaxItems {
				break
			}
			delete(c.items, k)
		}
	}
	c.mu.Unlock()

	return quotes, nil
}
