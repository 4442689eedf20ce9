package lot

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

type countryConfig struct {
	Lang     string
	Currency string
}

var countryConfigs = map[string]countryConfig{
	"PL": {Lang: "pl", Currency: "PLN"},
	"DE": {Lang: "de", Currency: "EUR"},
	"GB": {Lang: "en", Currency: "GBP"},
	"US": {Lang: "en", Currency: "USD"},
}

var defaultCountry = countryConfig{Lang: "en", Currency: "EUR"}

type Config struct {
	Name    string
	BaseURL string // default https://www.lot.com
	Timeout time.Duration
}

// Fetcher queries the LOT booking search endpoint with market-local
// language and currency.
type Fetcher struct {
	cfg Config
}

func New(cfg Config) *Fetcher {
	if cfg.Name == "" {
		cfg.Name = "lot"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.lot.com"
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
		"origin":        {req.Origin},
		"destination":   {req.Destination},
		"departureDate": {req.Date},
		"adults":        {strconv.Itoa(req.Adults)},
		"children":      {"0"},
		"infants":       {"0"},
		"cabinClass":    {"ECONOMY"},
		"tripType":      {"ONE_WAY"},
		"currency":      {cc.Currency},
	}
	endpoint := fmt.Sprintf("%s/%s/booking/search?%s", f.cfg.BaseURL, cc.Lang, q.Encode())

	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("Accept", "application/json")
	hreq.Header.Set("Accept-Language", fmt.Sprintf("%s-%s", cc.Lang, req.Market.Code))

	client := httpx.Fresh(f.cfg.Timeout, req.Proxy)
	resp, err := client.Do(ctx, hreq)
	if err != nil {
		log.Printf("lot (%s): %v", req.Market.Code, err)
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("search returned %d", resp.StatusCode)
		log.Printf("lot (%s): %v", req.Market.Code, err)
		return nil, err
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		log.Printf("lot (%s): decode: %v", req.Market.Code, err)
		return nil, fmt.Errorf("decode: %w", err)
	}

	offers := body.Offers
	if len(offers) == 0 {
		offers = body.Flights
	}

	source := "lot_" + strings.ToLower(req.Market.Code)
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
			Carrier:       "LO",
			DepartureTime: o.DepartureTime,
			ArrivalTime:   o.ArrivalTime,
			Stops:         o.Stops,
			Source:        source,
		})
	}
	log.Printf("lot (%s): %d quotes", req.Market.Code, len(out))
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
