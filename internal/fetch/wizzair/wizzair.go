package wizzair

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"farescan/internal/fetch"
	"farescan/internal/httpx"
)

// countryConfig carries the per-market language header and market path
// segment the site expects.
type countryConfig struct {
	Lang   string
	Market string
}

var countryConfigs = map[string]countryConfig{
	"PL": {Lang: "pl-PL", Market: "pl-pl"},
	"DE": {Lang: "de-DE", Market: "de-de"},
	"GB": {Lang: "en-GB", Market: "en-gb"},
	"HU": {Lang: "hu-HU", Market: "hu-hu"},
	"RO": {Lang: "ro-RO", Market: "ro-ro"},
	"BG": {Lang: "bg-BG", Market: "bg-bg"},
	"IT": {Lang: "it-IT", Market: "it-it"},
	"ES": {Lang: "es-ES", Market: "es-es"},
	"AT": {Lang: "de-AT", Market: "de-at"},
	"UA": {Lang: "uk-UA", Market: "uk-ua"},
}

var defaultCountry = countryConfig{Lang: "en-GB", Market: "en-gb"}

// fallbackAPIVersion is used when the build-number probe fails; the search
// path is version-pinned and drifts with site releases.
const fallbackAPIVersion = "13.8.0"

type Config struct {
	Name     string
	BaseURL  string // API host, default https://be.wizzair.com
	SiteURL  string // referer host, default https://wizzair.com
	Timeout  time.Duration
}

// Fetcher queries Wizzair's search API, resolving the version-pinned
// endpoint from the build-number probe first.
type Fetcher struct {
	cfg Config
}

func New(cfg Config) *Fetcher {
	if cfg.Name == "" {
		cfg.Name = "wizzair"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://be.wizzair.com"
	}
	if cfg.SiteURL == "" {
		cfg.SiteURL = "https://wizzair.com"
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
	client := httpx.Fresh(f.cfg.Timeout, req.Proxy)

	version := f.apiVersion(ctx, client)

	payload := map[string]any{
		"flightList": []map[string]string{{
			"departureStation": req.Origin,
			"arrivalStation":   req.Destination,
			"departureDate":    req.Date,
		}},
		"adultCount":   req.Adults,
		"childCount":   0,
		"infantCount":  0,
		"wdc":          false,
		"isRescueFare": false,
	}
	body, _ := json.Marshal(payload)

	endpoint := fmt.Sprintf("%s/%s/Api/search/search", f.cfg.BaseURL, version)
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("Content-Type", "application/json;charset=UTF-8")
	hreq.Header.Set("Accept", "application/json, text/plain, */*")
	hreq.Header.Set("Accept-Language", cc.Lang)
	hreq.Header.Set("Origin", f.cfg.SiteURL)
	hreq.Header.Set("Referer", fmt.Sprintf("%s/%s/", f.cfg.SiteURL, cc.Market))

	resp, err := client.Do(ctx, hreq)
	if err != nil {
		log.Printf("wizzair (%s): %v", req.Market.Code, err)
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("search returned %d", resp.StatusCode)
		log.Printf("wizzair (%s): %v", req.Market.Code, err)
		return nil, err
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		log.Printf("wizzair (%s): decode: %v", req.Market.Code, err)
		return nil, fmt.Errorf("decode: %w", err)
	}

	source := "wizzair_" + strings.ToLower(req.Market.Code)
	var out []fetch.Quote
	for _, fl := range sr.OutboundFlights {
		for _, fare := range fl.Fares {
			price := fare.FullBasePrice
			if price.Amount <= 0 {
				price = fare.BasePrice
			}
			if price.Amount <= 0 {
				continue
			}
			currency := price.CurrencyCode
			if currency == "" {
				currency = "EUR"
			}
			out = append(out, fetch.Quote{
				Price:         price.Amount,
				Currency:      currency,
				Carrier:       "W6",
				DepartureTime: fl.DepartureDateTime,
				ArrivalTime:   fl.ArrivalDateTime,
				Stops:         0,
				Source:        source,
			})
		}
	}
	log.Printf("wizzair (%s): %d quotes", req.Market.Code, len(out))
	return out, nil
}

// apiVersion asks the build-number probe for the current API version and
// falls back to a pinned one when the probe is unreachable.
func (f *Fetcher) apiVersion(ctx context.Context, client *httpx.Client) string {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.BaseURL+"/buildnumber", nil)
	if err != nil {
		return fallbackAPIVersion
	}
	resp, err := client.Do(ctx, req)
	if err != nil {
		return fallbackAPIVersion
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fallbackAPIVersion
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return fallbackAPIVersion
	}
	v := strings.TrimSpace(string(b))
	if v == "" {
		return fallbackAPIVersion
	}
	return v
}

type priceInfo struct {
	Amount       float64 `json:"amount"`
	CurrencyCode string  `json:"currencyCode"`
}

type searchResponse struct {
	OutboundFlights []struct {
		DepartureDateTime string `json:"departureDateTime"`
		ArrivalDateTime   string `json:"arrivalDateTime"`
		FlightNumber      string `json:"flightNumber"`
		Fares             []struct {
			FullBasePrice priceInfo `json:"fullBasePrice"`
			BasePrice     priceInfo `json:"basePrice"`
		} `json:"fares"`
	} `json:"outboundFlights"`
}
