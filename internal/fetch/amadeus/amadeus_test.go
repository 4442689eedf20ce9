package amadeus_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"farescan/internal/fetch"
	"farescan/internal/fetch/amadeus"
	"farescan/internal/fetch/synthetic"
	"farescan/internal/market"
)

const searchFixture = `{
  "data": [
    {
      "price": {"total": "430.00", "currency": "PLN"},
      "itineraries": [{"segments": [
        {"carrierCode": "LO", "departure": {"at": "2026-03-15T08:15:00"}, "arrival": {"at": "2026-03-15T10:05:00"}}
      ]}]
    },
    {
      "price": {"total": "512.30", "currency": "PLN"},
      "itineraries": [{"segments": [
        {"carrierCode": "LH", "departure": {"at": "2026-03-15T06:00:00"}, "arrival": {"at": "2026-03-15T07:30:00"}},
        {"carrierCode": "LH", "departure": {"at": "2026-03-15T09:00:00"}, "arrival": {"at": "2026-03-15T10:20:00"}}
      ]}]
    },
    {
      "price": {"total": "garbage", "currency": "PLN"},
      "itineraries": [{"segments": [
        {"carrierCode": "FR", "departure": {"at": "2026-03-15T12:00:00"}, "arrival": {"at": "2026-03-15T13:40:00"}}
      ]}]
    }
  ]
}`

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func TestNewClient_MissingCredentials(t *testing.T) {
	_, err := amadeus.NewClient("", "secret")
	require.Error(t, err)
	_, err = amadeus.NewClient("id", "")
	require.Error(t, err)
}

func TestToken_CachedUntilExpiry(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockHTTP := NewMockHTTPClient(ctrl)
	mockHTTP.EXPECT().Do(gomock.Any()).DoAndReturn(func(req *http.Request) (*http.Response, error) {
		require.Equal(t, http.MethodPost, req.Method)
		require.Equal(t, "application/x-www-form-urlencoded", req.Header.Get("Content-Type"))
		b, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		require.Contains(t, string(b), "grant_type=client_credentials")
		return jsonResponse(200, `{"access_token":"tok1","expires_in":1799}`), nil
	}).Times(1)

	c, err := amadeus.NewClient("id", "secret", amadeus.WithHTTPClient(mockHTTP))
	require.NoError(t, err)

	tok, err := c.Token(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "tok1", tok)

	// second call hits the cache, not the endpoint
	tok, err = c.Token(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "tok1", tok)
}

func TestToken_EndpointError(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockHTTP := NewMockHTTPClient(ctrl)
	mockHTTP.EXPECT().Do(gomock.Any()).Return(jsonResponse(500, `{"error":"boom"}`), nil)

	c, err := amadeus.NewClient("id", "secret", amadeus.WithHTTPClient(mockHTTP))
	require.NoError(t, err)

	_, err = c.Token(context.Background(), "")
	require.ErrorContains(t, err, "token endpoint returned 500")
}

// testEndpoints serves the token and search paths and records token usage.
func testEndpoints(t *testing.T, rejectFirstSearch bool) (tokenURL, searchURL string, tokensIssued *atomic.Int64) {
	t.Helper()
	var issued atomic.Int64
	var searches atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/security/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		n := issued.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if n == 1 {
			_, _ = w.Write([]byte(`{"access_token":"tok1","expires_in":1799}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"tok2","expires_in":1799}`))
	})
	mux.HandleFunc("/v2/shopping/flight-offers", func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if rejectFirstSearch && searches.Add(1) == 1 {
			require.Equal(t, "Bearer tok1", auth)
			http.Error(w, "token expired", http.StatusUnauthorized)
			return
		}
		require.NotEmpty(t, auth)
		require.Equal(t, "POZ", r.URL.Query().Get("originLocationCode"))
		require.Equal(t, "AMS", r.URL.Query().Get("destinationLocationCode"))
		require.Equal(t, "2026-03-15", r.URL.Query().Get("departureDate"))
		require.Equal(t, "PLN", r.URL.Query().Get("currencyCode"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(searchFixture))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL + "/v1/security/oauth2/token", srv.URL + "/v2/shopping/flight-offers", &issued
}

func TestSearchOffers_ParsesOffers(t *testing.T) {
	tokenURL, searchURL, _ := testEndpoints(t, false)
	c, err := amadeus.NewClient("id", "secret",
		amadeus.WithTokenURL(tokenURL), amadeus.WithSearchURL(searchURL))
	require.NoError(t, err)

	offers, err := c.SearchOffers(context.Background(), "POZ", "AMS", "2026-03-15", 1, "PLN", "")
	require.NoError(t, err)
	// the unparsable third offer is skipped
	require.Len(t, offers, 2)

	require.Equal(t, amadeus.Offer{
		Price: 430.00, Currency: "PLN", Carrier: "LO",
		DepartureAt: "2026-03-15T08:15:00", ArrivalAt: "2026-03-15T10:05:00", Stops: 0,
	}, offers[0])

	// connection: carrier of the first leg, arrival of the last
	require.Equal(t, "LH", offers[1].Carrier)
	require.Equal(t, "2026-03-15T10:20:00", offers[1].ArrivalAt)
	require.Equal(t, 1, offers[1].Stops)
}

func TestSearchOffers_ReauthenticatesOnRejectedToken(t *testing.T) {
	tokenURL, searchURL, issued := testEndpoints(t, true)
	c, err := amadeus.NewClient("id", "secret",
		amadeus.WithTokenURL(tokenURL), amadeus.WithSearchURL(searchURL))
	require.NoError(t, err)

	offers, err := c.SearchOffers(context.Background(), "POZ", "AMS", "2026-03-15", 1, "PLN", "")
	require.NoError(t, err)
	require.Len(t, offers, 2)
	require.Equal(t, int64(2), issued.Load(), "token fetched again after rejection")
}

func demoRequest(t *testing.T) fetch.Request {
	t.Helper()
	mk, err := market.Lookup("poland")
	require.NoError(t, err)
	return fetch.Request{Origin: "POZ", Destination: "AMS", Date: "2026-03-15", Adults: 1, Market: mk}
}

func TestFetcher_DegradesToFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_client", http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	c, err := amadeus.NewClient("id", "bad-secret",
		amadeus.WithTokenURL(srv.URL), amadeus.WithSearchURL(srv.URL))
	require.NoError(t, err)

	f := amadeus.New(c, synthetic.New(1))
	quotes, err := f.Fetch(context.Background(), demoRequest(t))
	require.NoError(t, err)
	require.NotEmpty(t, quotes)
	for _, q := range quotes {
		require.Equal(t, "synthetic", q.Source)
	}
}

func TestFetcher_NoFallbackSurfacesError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_client", http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	c, err := amadeus.NewClient("id", "bad-secret",
		amadeus.WithTokenURL(srv.URL), amadeus.WithSearchURL(srv.URL))
	require.NoError(t, err)

	_, err = amadeus.New(c, nil).Fetch(context.Background(), demoRequest(t))
	require.Error(t, err)
}

func TestFetcher_MapsOffersToQuotes(t *testing.T) {
	tokenURL, searchURL, _ := testEndpoints(t, false)
	c, err := amadeus.NewClient("id", "secret",
		amadeus.WithTokenURL(tokenURL), amadeus.WithSearchURL(searchURL))
	require.NoError(t, err)

	quotes, err := amadeus.New(c, nil).Fetch(context.Background(), demoRequest(t))
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	require.Equal(t, "amadeus", quotes[0].Source)
	require.Equal(t, 430.00, quotes[0].Price)
	require.Equal(t, "PLN", quotes[0].Currency)
}
