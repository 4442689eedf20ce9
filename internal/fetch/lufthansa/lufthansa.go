package lufthansa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"farescan/internal/fetch"
	"farescan/internal/httpx"
)

type countryConfig struct {
	Lang     string
	Country  string // site path segment
	Currency string
}

var countryConfigs = map[string]countryConfig{
	"DE": {Lang: "de", Country: "de", Currency: "EUR"},
	"GB": {Lang: "en", Country: "gb", Currency: "GBP"},
	"US": {Lang: "en", Country: "us", Currency: "USD"},
	"AT": {Lang: "de", Country: "at", Currency: "EUR"},
	"CH": {Lang: "de", Country: "ch", Currency: "CHF"},
	"PL": {Lang: "pl", Country: "pl", Currency: "PLN"},
}

var defaultCountry = countryConfig{Lang: "de", Country: "de", Currency: "EUR"}

type Config struct {
	Name    string
	BaseURL string // default https://www.lufthansa.com
	Timeout time.Duration
}

// Fetcher queries the Lufthansa booking search endpoint with a flightQuery
// payload in the market's country edition.
type Fetcher struct {
	cfg Config
}

func New(cfg Config) *Fetcher {
	if cfg.Name == "" {
		cfg.Name = "lufthansa"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.lufthansa.com"
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

	payload := map[string]any{
		"flightQuery": map[string]any{
			"origin":        req.Origin,
			"destination":   req.Destination,
			"departureDate": req.Date,
			"cabinClass":    "economy",
			"travelers":     map[string]int{"adults": req.Adults, "children": 0, "infants": 0},
			"tripType":      "ONE_WAY",
		},
		"currency": cc.Currency,
	}
	body, _ := json.Marshal(payload)

	endpoint := fmt.Sprintf("%s/%s/%s/flight/search", f.cfg.BaseURL, cc.Country, cc.Lang)
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "application/json")
	hreq.Header.Set("Accept-Language", fmt.Sprintf("%s-%s", cc.Lang, req.Market.Code))

	client := httpx.Fresh(f.cfg.Timeout, req.Proxy)
	resp, err := client.Do(ctx, hreq)
	if err != nil {
		log.Printf("lufthansa (%s): %v", req.Market.Code, err)
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("search returned %d", resp.StatusCode)
		log.Printf("lufthansa (%s): %v", req.Market.Code, err)
		return nil, err
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		log.Printf("lufthansa (%s): decode: %v", req.Market.Code, err)
		return nil, fmt.Errorf("decode: %w", err)
	}

	offers := sr.Offers
	if len(offers) == 0 {
		offers = sr.Flights
	}

	source := "lufthansa_" + strings.ToLower(req.Market.Code)
	var out []fetch.Quote
	for _, o := range offers {
		price := o.Price.Amount
		if price <= 0 {
			price = o.TotalPrice
		}
		if price <= 0 {
			continue
		}
		currency := o.Price.Currency
		if currency == "" {
			currency = cc.Currency
		}
		out = append(out, fetch.Quote{
			Price:         price,
			Currency:      currency,
			Carrier:       "LH",
			DepartureTime: o.DepartureTime,
			ArrivalTime:   o.ArrivalTime,
			Stops:         o.Stops,
			Source:        source,
		})
	}
	log.Printf("lufthansa (%s): %d quotes", req.Market.Code, len(out))
	return out, nil
}

type offer struct {
	Price struct {
		Amount   float64 `json:"amount"`
		Currency string  `json:"currency"`
	} `json:"price"`
	TotalPrice    float64 `json:"totalPrice"`
	DepartureTime string  `json:"departureTime"`
	ArrivalTime   string  `json:"arrivalTime"`
	FlightNumber  string  `json:"flightNumber"`
	Stops         int     `json:"stops"`
}

type searchResponse struct {
	Offers  []offer `json:"offers"`
	Flights []offer `json:"flights"`
}
