package ratelimit

import (
	"context"
	"sync"
	"time"

	"farescan/internal/fetch"
)

// MinInterval wraps a fetcher and enforces a minimum time between calls.
// Booking sites throttle aggressively; spacing out calls keeps a source
// from banning the scanner mid-run. Concurrent calls wait until the
// interval has elapsed since the last call, or return early if the context
// is canceled.
type MinInterval struct {
	F        fetch.Fetcher
	Interval time.Duration

	mu   sync.Mutex
	last time.Time
}

func (m *MinInterval) Name() string { return m.F.Name() }

func (m *MinInterval) Fetch(ctx context.Context, req fetch.Request) ([]fetch.Quote, error) {
	if m.Interval > 0 {
		m.mu.Lock()
		wait := time.Until(m.last.Add(m.Interval))
		m.mu.Unlock()
		if wait > 0 {
			t := time.NewTimer(wait)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-t.C:
			}
		}
	}
	qs, err := m.F.Fetch(ctx, req)
	if m.Interval > 0 {
		m.mu.Lock()
		m.last = time.Now()
		m.mu.Unlock()
	}
	return qs, err
}
