package wizzair

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"farescan/internal/fetch"
	"farescan/internal/market"
)

const searchFixture = `{
  "outboundFlights": [
    {
      "departureDateTime": "2026-03-15T10:30:00",
      "arrivalDateTime": "2026-03-15T12:15:00",
      "flightNumber": "W6 1234",
      "fares": [
        {"fullBasePrice": {"amount": 259.0, "currencyCode": "PLN"}, "basePrice": {"amount": 199.0, "currencyCode": "PLN"}},
        {"fullBasePrice": {"amount": 0}, "basePrice": {"amount": 149.0, "currencyCode": "PLN"}},
        {"fullBasePrice": {"amount": 0}, "basePrice": {"amount": 0}}
      ]
    }
  ]
}`

func request(t *testing.T, marketName string) fetch.Request {
	t.Helper()
	mk, err := market.Lookup(marketName)
	require.NoError(t, err)
	return fetch.Request{Origin: "POZ", Destination: "AMS", Date: "2026-03-15", Adults: 2, Market: mk}
}

// siteRecorder captures what the fetcher sent to the search endpoint.
type siteRecorder struct {
	mu      sync.Mutex
	path    string
	lang    string
	payload map[string]any
}

func newSite(t *testing.T, buildNumber, searchBody string) (*httptest.Server, *siteRecorder) {
	t.Helper()
	rec := &siteRecorder{}
	mux := http.NewServeMux()
	mux.HandleFunc("/buildnumber", func(w http.ResponseWriter, r *http.Request) {
		if buildNumber == "" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(buildNumber + "\n"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		rec.mu.Lock()
		rec.path = r.URL.Path
		rec.lang = r.Header.Get("Accept-Language")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&rec.payload))
		rec.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(searchBody))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, rec
}

func TestFetch_ParsesFares(t *testing.T) {
	srv, rec := newSite(t, "14.2.1", searchFixture)

	f := New(Config{BaseURL: srv.URL, SiteURL: srv.URL})
	quotes, err := f.Fetch(context.Background(), request(t, "poland"))
	require.NoError(t, err)

	require.Equal(t, "/14.2.1/Api/search/search", rec.path)
	require.Equal(t, "pl-PL", rec.lang)
	first := rec.payload["flightList"].([]any)[0].(map[string]any)
	require.Equal(t, "POZ", first["departureStation"])
	require.Equal(t, "AMS", first["arrivalStation"])
	require.Equal(t, float64(2), rec.payload["adultCount"])

	// zero-amount fares are dropped, basePrice backstops fullBasePrice
	require.Len(t, quotes, 2)
	require.Equal(t, 259.0, quotes[0].Price)
	require.Equal(t, 149.0, quotes[1].Price)
	for _, q := range quotes {
		require.Equal(t, "PLN", q.Currency)
		require.Equal(t, "W6", q.Carrier)
		require.Equal(t, "wizzair_pl", q.Source)
	}
}

func TestFetch_BuildNumberProbeFailureUsesPinnedVersion(t *testing.T) {
	srv, rec := newSite(t, "", searchFixture)

	f := New(Config{BaseURL: srv.URL, SiteURL: srv.URL})
	_, err := f.Fetch(context.Background(), request(t, "poland"))
	require.NoError(t, err)
	require.Equal(t, "/13.8.0/Api/search/search", rec.path)
}

func TestFetch_UnknownMarketUsesDefaultLocale(t *testing.T) {
	srv, rec := newSite(t, "14.2.1", `{"outboundFlights":[]}`)

	f := New(Config{BaseURL: srv.URL, SiteURL: srv.URL})
	_, err := f.Fetch(context.Background(), request(t, "japan"))
	require.NoError(t, err)
	require.Equal(t, "en-GB", rec.lang)
}

func TestFetch_NonOKStatusFailsClosed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/buildnumber", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("14.2.1"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "captcha", http.StatusForbidden)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	f := New(Config{BaseURL: srv.URL, SiteURL: srv.URL})
	quotes, err := f.Fetch(context.Background(), request(t, "poland"))
	require.Error(t, err)
	require.Empty(t, quotes)
}

func TestFetch_SchemaDriftYieldsNoQuotes(t *testing.T) {
	srv, _ := newSite(t, "14.2.1", `{"returnFlights":[{"fares":[{"price":10}]}]}`)

	f := New(Config{BaseURL: srv.URL, SiteURL: srv.URL})
	quotes, err := f.Fetch(context.Background(), request(t, "poland"))
	require.NoError(t, err)
	require.Empty(t, quotes)
}
