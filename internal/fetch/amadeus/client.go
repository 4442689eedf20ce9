package amadeus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"farescan/internal/httpx"
)

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=amadeus_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

const (
	defaultTokenURL  = "https://test.api.amadeus.com/v1/security/oauth2/token"
	defaultSearchURL = "https://test.api.amadeus.com/v2/shopping/flight-offers"
	maxOffers        = 10
)

// Client talks to the aggregator's OAuth2 token endpoint and quote-search
// endpoint. The access token is cached until shortly before expiry and
// refreshed automatically; a rejected token is re-authenticated once.
type Client struct {
	tokenURL     string
	searchURL    string
	clientID     string
	clientSecret string
	// httpClient overrides per-call fresh clients when set (tests, pooling).
	httpClient HTTPClient
	header     http.Header
	timeout    time.Duration

	mu           sync.Mutex
	token        string
	tokenExpires time.Time
}

// Option is a configuration option for the aggregator client.
type Option func(*Client)

// WithTokenURL overrides the OAuth2 token endpoint.
func WithTokenURL(u string) Option {
	return func(c *Client) { c.tokenURL = u }
}

// WithSearchURL overrides the quote-search endpoint.
func WithSearchURL(u string) Option {
	return func(c *Client) { c.searchURL = u }
}

// WithHTTPClient pins all requests to one HTTP client instead of a fresh
// per-call client.
func WithHTTPClient(hc HTTPClient) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithHeader adds headers sent with every request.
func WithHeader(header http.Header) Option {
	return func(c *Client) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// NewClient creates an aggregator API client. Both credentials are
// required; callers without them should use the synthetic source instead.
func NewClient(clientID, clientSecret string, options ...Option) (*Client, error) {
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("amadeus: missing credentials")
	}
	c := &Client{
		tokenURL:     defaultTokenURL,
		searchURL:    defaultSearchURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		header:       http.Header{},
		timeout:      15 * time.Second,
	}
	for _, option := range options {
		option(c)
	}
	return c, nil
}

// Offer is one priced itinerary from the search endpoint.
type Offer struct {
	Price       float64
	Currency    string
	Carrier     string
	DepartureAt string
	ArrivalAt   string
	Stops       int
}

// do sends a request through the pinned client if set, otherwise through a
// fresh cookie-free client, optionally egressing via proxyAddr.
func (c *Client) do(req *http.Request, proxyAddr string) (*http.Response, error) {
	for key, values := range c.header {
		for _, value := range values {
			if req.Header.Get(key) == "" {
				req.Header.Add(key, value)
			}
		}
	}
	if c.httpClient != nil {
		return c.httpClient.Do(req)
	}
	return httpx.Fresh(c.timeout, proxyAddr).HTTP.Do(req)
}

// Token returns a cached access token, fetching a new one when missing or
// within a minute of expiry.
func (c *Client) Token(ctx context.Context, proxyAddr string) (string, error) {
	c.mu.Lock()
	if c.token != "" && time.Now().Before(c.tokenExpires) {
		t := c.token
		c.mu.Unlock()
		return t, nil
	}
	c.mu.Unlock()

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.do(req, proxyAddr)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<10))
		return "", fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(b))
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode token: %w", err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned empty token")
	}

	c.mu.Lock()
	c.token = body.AccessToken
	c.tokenExpires = time.Now().Add(time.Duration(body.ExpiresIn-60) * time.Second)
	c.mu.Unlock()
	return body.AccessToken, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.tokenExpires = time.Time{}
	c.mu.Unlock()
}

// SearchOffers queries the flight-offers endpoint. An expired token is
// re-authenticated once and the search retried.
func (c *Client) SearchOffers(ctx context.Context, origin, destination, date string, adults int, currency, proxyAddr string) ([]Offer, error) {
	offers, retry, err := c.searchOnce(ctx, origin, destination, date, adults, currency, proxyAddr)
	if retry {
		c.invalidateToken()
		offers, _, err = c.searchOnce(ctx, origin, destination, date, adults, currency, proxyAddr)
	}
	return offers, err
}

func (c *Client) searchOnce(ctx context.Context, origin, destination, date string, adults int, currency, proxyAddr string) ([]Offer, bool, error) {
	token, err := c.Token(ctx, proxyAddr)
	if err != nil {
		return nil, false, err
	}

	q := url.Values{
		"originLocationCode":      {origin},
		"destinationLocationCode": {destination},
		"departureDate":           {date},
		"adults":                  {strconv.Itoa(adults)},
		"currencyCode":            {currency},
		"max":                     {strconv.Itoa(maxOffers)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.searchURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req, proxyAddr)
	if err != nil {
		return nil, false, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, true, fmt.Errorf("search rejected token")
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<10))
		return nil, false, fmt.Errorf("search returned %d: %s", resp.StatusCode, string(b))
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, false, fmt.Errorf("decode search: %w", err)
	}

	offers := make([]Offer, 0, len(body.Data))
	for _, d := range body.Data {
		price, err := strconv.ParseFloat(d.Price.Total, 64)
		if err != nil || price <= 0 || len(d.Itineraries) == 0 || len(d.Itineraries[0].Segments) == 0 {
			continue
		}
		segs := d.Itineraries[0].Segments
		cur := d.Price.Currency
		if cur == "" {
			cur = currency
		}
		offers = append(offers, Offer{
			Price:       price,
			Currency:    cur,
			Carrier:     segs[0].CarrierCode,
			DepartureAt: segs[0].Departure.At,
			ArrivalAt:   segs[len(segs)-1].Arrival.At,
			Stops:       len(segs) - 1,
		})
	}
	return offers, false, nil
}

type searchResponse struct {
	Data []struct {
		Price struct {
			Total    string `json:"total"`
			Currency string `json:"currency"`
		} `json:"price"`
		Itineraries []struct {
			Duration string `json:"duration"`
			Segments []struct {
				CarrierCode string `json:"carrierCode"`
				Departure   struct {
					At string `json:"at"`
				} `json:"departure"`
				Arrival struct {
					At string `json:"at"`
				} `json:"arrival"`
			} `json:"segments"`
		} `json:"itineraries"`
	} `json:"data"`
}
