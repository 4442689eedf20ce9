package ryanair

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

// countryLang maps ISO country codes to the locale segment of the booking
// API path. The locale is what makes the site quote market-local prices.
var countryLang = map[string]string{
	"PL": "pl-pl", "DE": "de-de", "GB": "en-gb", "FR": "fr-fr",
	"ES": "es-es", "IT": "it-it", "NL": "nl-nl", "BE": "nl-be",
	"AT": "de-at", "IE": "en-ie", "PT": "pt-pt", "TR": "tr-tr",
	"US": "en-us",
}

const defaultLang = "en-gb"

type Config struct {
	Name    string
	BaseURL string // scheme://host, default https://www.ryanair.com
	Timeout time.Duration
}

// Fetcher queries Ryanair's version-pinned availability endpoint per
// market. Every call goes out through a fresh cookie-free client.
type Fetcher struct {
	cfg Config
}

func New(cfg Config) *Fetcher {
	if cfg.Name == "" {
		cfg.Name = "ryanair"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.ryanair.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Fetcher{cfg: cfg}
}

func (f *Fetcher) Name() string { return f.cfg.Name }

// Fetch fails closed: any transport or parse problem logs and returns the
// error with no quotes; the orchestrator records it and moves on.
func (f *Fetcher) Fetch(ctx context.Context, req fetch.Request) ([]fetch.Quote, error) {
	lang, ok := countryLang[req.Market.Code]
	if !ok {
		lang = defaultLang
	}

	q := url.Values{
		"ADT":                      {strconv.Itoa(req.Adults)},
		"CHD":                      {"0"},
		"INF":                      {"0"},
		"TEEN":                     {"0"},
		"DateOut":                  {req.Date},
		"Origin":                   {req.Origin},
		"Destination":              {req.Destination},
		"Disc":                     {"0"},
		"IncludeConnectingFlights": {"false"},
		"RoundTrip":                {"false"},
		"FlexDaysOut":              {"0"},
		"FlexDaysBeforeOut":        {"0"},
		"ToUs":                     {"AGREED"},
	}
	endpoint := fmt.Sprintf("%s/api/booking/v4/%s/availability?%s", f.cfg.BaseURL, lang, q.Encode())

	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("Accept", "application/json")
	hreq.Header.Set("Accept-Language", strings.ReplaceAll(lang, "-", "_"))

	client := httpx.Fresh(f.cfg.Timeout, req.Proxy)
	resp, err := client.Do(ctx, hreq)
	if err != nil {
		log.Printf("ryanair (%s): %v", req.Market.Code, err)
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("availability returned %d", resp.StatusCode)
		log.Printf("ryanair (%s): %v", req.Market.Code, err)
		return nil, err
	}

	var body availabilityResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		log.Printf("ryanair (%s): decode: %v", req.Market.Code, err)
		return nil, fmt.Errorf("decode: %w", err)
	}

	currency := body.Currency
	if currency == "" {
		currency = "EUR"
	}
	source := "ryanair_" + strings.ToLower(req.Market.Code)

	var out []fetch.Quote
	for _, trip := range body.Trips {
		for _, d := range trip.Dates {
			for _, fl := range d.Flights {
				if fl.FaresLeft <= 0 {
					continue
				}
				for _, fare := range fl.RegularFare.Fares {
					if fare.Amount <= 0 {
						continue
					}
					var dep, arr string
					if len(fl.Time) > 0 {
						dep = fl.Time[0]
					}
					if len(fl.Time) > 1 {
						arr = fl.Time[1]
					}
					out = append(out, fetch.Quote{
						Price:         fare.Amount,
						Currency:      currency,
						Carrier:       "FR",
						DepartureTime: dep,
						ArrivalTime:   arr,
						Stops:         0,
						Source:        source,
					})
				}
			}
		}
	}
	log.Printf("ryanair (%s): %d quotes in %s", req.Market.Code, len(out), currency)
	return out, nil
}

// Undocumented endpoint; missing or renamed fields simply yield no quotes.
type availabilityResponse struct {
	Currency string `json:"currency"`
	Trips    []struct {
		Dates []struct {
			Flights []struct {
				FaresLeft    int      `json:"faresLeft"`
				FlightNumber string   `json:"flightNumber"`
				Time         []string `json:"time"`
				RegularFare  struct {
					Fares []struct {
						Amount float64 `json:"amount"`
					} `json:"fares"`
				} `json:"regularFare"`
			} `json:"flights"`
		} `json:"dates"`
	} `json:"trips"`
}
