package rates

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"farescan/internal/httpx"
)

func TestIsValid(t *testing.T) {
	noon := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name    string
		fetched time.Time
		now     time.Time
		want    bool
	}{
		{"same day morning", noon.Add(-3 * time.Hour), noon, true},
		{"same day any hour", time.Date(2026, 3, 15, 0, 1, 0, 0, time.UTC), time.Date(2026, 3, 15, 23, 59, 0, 0, time.UTC), true},
		{"yesterday before noon", noon.AddDate(0, 0, -1), noon.Add(-time.Minute), true},
		{"yesterday at noon", noon.AddDate(0, 0, -1), noon, false},
		{"yesterday evening check", noon.AddDate(0, 0, -1), noon.Add(6 * time.Hour), false},
		{"two days ago", noon.AddDate(0, 0, -2), noon.Add(-3 * time.Hour), false},
		{"future fetch same day", noon.Add(time.Hour), noon, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, isValid(tc.fetched, tc.now))
		})
	}
}

func TestTableRateAndConvert(t *testing.T) {
	tbl := &Table{Rates: map[string]float64{"EUR": 4.3, "PLN": 1.0}}

	require.InDelta(t, 430.0, tbl.Convert(100, "EUR"), 1e-9)
	require.InDelta(t, 100.0, tbl.Convert(100, "PLN"), 1e-9)
	// lookup is case and whitespace tolerant
	require.InDelta(t, 4.3, tbl.Rate(" eur "), 1e-9)
	// not in the table but in the static fallback
	require.InDelta(t, 0.4, tbl.Rate("MAD"), 1e-9)
	// completely unknown currency converts one-to-one
	require.InDelta(t, 100.0, tbl.Convert(100, "XXX"), 1e-9)
}

func TestTableRate_NilReceiverUsesFallback(t *testing.T) {
	var tbl *Table
	require.InDelta(t, 4.3, tbl.Rate("EUR"), 1e-9)
}

func newAuthority(t *testing.T, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"rates":[{"mid":4.25}]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newCache(t *testing.T, baseURL string) *Cache {
	t.Helper()
	c := New(filepath.Join(t.TempDir(), "rates.json"), httpx.New(2*time.Second))
	c.BaseURL = baseURL
	return c
}

func TestCache_FetchAndPersist(t *testing.T) {
	var hits atomic.Int64
	srv := newAuthority(t, &hits)

	c := newCache(t, srv.URL)
	tbl := c.Rates(context.Background(), false)

	require.Equal(t, SourceLive, tbl.Source)
	require.InDelta(t, 4.25, tbl.Rates["EUR"], 1e-9)
	require.InDelta(t, 1.0, tbl.Rates[Canonical], 1e-9)
	// currencies the authority does not publish still resolve via fallback
	require.InDelta(t, 0.4, tbl.Rate("MAD"), 1e-9)
	require.Positive(t, hits.Load())

	// second call on the same day is served from disk, no network
	before := hits.Load()
	tbl2 := c.Rates(context.Background(), false)
	require.Equal(t, before, hits.Load())
	require.InDelta(t, 4.25, tbl2.Rates["EUR"], 1e-9)
}

func TestCache_ForceRefreshBypassesDisk(t *testing.T) {
	var hits atomic.Int64
	srv := newAuthority(t, &hits)

	c := newCache(t, srv.URL)
	c.Rates(context.Background(), false)
	before := hits.Load()
	c.Rates(context.Background(), true)
	require.Greater(t, hits.Load(), before)
}

func TestCache_ExpiredFileRefetches(t *testing.T) {
	var hits atomic.Int64
	srv := newAuthority(t, &hits)

	c := newCache(t, srv.URL)
	c.Now = func() time.Time { return time.Date(2026, 3, 13, 9, 0, 0, 0, time.UTC) }
	c.Rates(context.Background(), false)
	first := hits.Load()

	// two days later the persisted table is stale
	c.Now = func() time.Time { return time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC) }
	c.Rates(context.Background(), false)
	require.Greater(t, hits.Load(), first)
}

func TestCache_YesterdayMorningStillValid(t *testing.T) {
	var hits atomic.Int64
	srv := newAuthority(t, &hits)

	c := newCache(t, srv.URL)
	c.Now = func() time.Time { return time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC) }
	c.Rates(context.Background(), false)
	before := hits.Load()

	// next morning, before the publication window
	c.Now = func() time.Time { return time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC) }
	c.Rates(context.Background(), false)
	require.Equal(t, before, hits.Load())

	// after noon the table must be refetched
	c.Now = func() time.Time { return time.Date(2026, 3, 15, 13, 0, 0, 0, time.UTC) }
	c.Rates(context.Background(), false)
	require.Greater(t, hits.Load(), before)
}

func TestCache_CorruptFileIsAMiss(t *testing.T) {
	var hits atomic.Int64
	srv := newAuthority(t, &hits)

	c := newCache(t, srv.URL)
	require.NoError(t, os.WriteFile(c.Path, []byte("{not json"), 0o644))

	tbl := c.Rates(context.Background(), false)
	require.Equal(t, SourceLive, tbl.Source)
	require.Positive(t, hits.Load())
}

func TestCache_AuthorityDownUsesFallbackTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	c := newCache(t, srv.URL)
	tbl := c.Rates(context.Background(), false)
	require.Equal(t, SourceFallback, tbl.Source)
	require.InDelta(t, 4.3, tbl.Rates["EUR"], 1e-9)
	require.InDelta(t, 4.0, tbl.Rates["USD"], 1e-9)
}
