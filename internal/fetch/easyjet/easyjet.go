package easyjet

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"farescan/internal/fetch"
	"farescan/internal/httpx"
)

// countryConfig carries the per-market site path segment, language and
// quoting currency. EasyJet serves country editions under path prefixes
// rather than separate hosts.
type countryConfig struct {
	Path     string
	Lang     string
	Currency string
}

var countryConfigs = map[string]countryConfig{
	"GB": {Path: "", Lang: "en", Currency: "GBP"},
	"DE": {Path: "/de", Lang: "de", Currency: "EUR"},
	"FR": {Path: "/fr", Lang: "fr", Currency: "EUR"},
	"ES": {Path: "/es", Lang: "es", Currency: "EUR"},
	"IT": {Path: "/it", Lang: "it", Currency: "EUR"},
	"NL": {Path: "/nl", Lang: "nl", Currency: "EUR"},
	"CH": {Path: "/ch-de", Lang: "de", Currency: "CHF"},
}

var defaultCountry = countryConfig{Path: "", Lang: "en", Currency: "GBP"}

type Config struct {
	Name    string
	BaseURL string // default https://www.easyjet.com
	Timeout time.Duration
}

// Fetcher queries the EasyJet flight-search endpoint of the market's
// country edition.
type Fetcher struct {
	cfg Config
}

func New(cfg Config) *Fetcher {
	if cfg.Name == "" {
		cfg.Name = "easyjet"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.easyjet.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Fetcher{cfg: cfg}
}

func (f *Fetcher) Name() string { return f.cfg.Name }

func (f *Fetcher) Fetch(ctx context.Context, req fetch.Request) ([]fetch.Quote, error) {
	cc, ok := countryConfigs[req.Market.Code]
	if !ok {
		cc = defaultCountry
	}

	q := url.Values{
		"origin":       {req.Origin},
		"destination":  {req.Destination},
		"outboundDate": {req.Date},
		"adults":       {strconv.Itoa(req.Adults)},
		"children":     {"0"},
		"infants":      {"0"},
		"currency":     {cc.Currency},
	}
	endpoint := fmt.Sprintf("%s%s/api/flights/search?%s", f.cfg.BaseURL, cc.Path, q.Encode())

	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("Accept", "application/json")
	hreq.Header.Set("Accept-Language", fmt.Sprintf("%s-%s", cc.Lang, req.Market.Code))

	client := httpx.Fresh(f.cfg.Timeout, req.Proxy)
	resp, err := client.Do(ctx, hreq)
	if err != nil {
		log.Printf("easyjet (%s): %v", req.Market.Code, err)
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("search returned %d", resp.StatusCode)
		log.Printf("easyjet (%s): %v", req.Market.Code, err)
		return nil, err
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		log.Printf("easyjet (%s): decode: %v", req.Market.Code, err)
		return nil, fmt.Errorf("decode: %w", err)
	}

	flights := body.Flights
	if len(flights) == 0 {
		flights = body.Outbound
	}

	source := "easyjet_" + strings.ToLower(req.Market.Code)
	var out []fetch.Quote
	for _, fl := range flights {
		price := fl.Price
		if price <= 0 {
			price = fl.LowestPrice
		}
		if price <= 0 {
			continue
		}
		currency := fl.Currency
		if currency == "" {
			currency = cc.Currency
		}
		out = append(out, fetch.Quote{
			Price:         price,
			Currency:      currency,
			Carrier:       "U2",
			DepartureTime: fl.DepartureTime,
			ArrivalTime:   fl.ArrivalTime,
			Stops:         0,
			Source:        source,
		})
	}
	log.Printf("easyjet (%s): %d quotes", req.Market.Code, len(out))
	return out, nil
}

type flightEntry struct {
	Price         float64 `json:"price"`
	LowestPrice   float64 `json:"lowestPrice"`
	Currency      string  `json:"currency"`
	DepartureTime string  `json:"departureTime"`
	ArrivalTime   string  `json:"arrivalTime"`
	FlightNumber  string  `json:"flightNumber"`
}

type searchResponse struct {
	Flights  []flightEntry `json:"flights"`
	Outbound []flightEntry `json:"outbound"`
}
