package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"farescan/internal/httpx"
)

// Source kinds recorded in the persisted table.
const (
	SourceLive     = "live"
	SourceFallback = "fallback"
)

// Canonical is the currency every quote is normalized into.
const Canonical = "PLN"

// fallbackRates is the static table used for currencies the authority does
// not list, and for everything when the authority is unreachable.
var fallbackRates = map[string]float64{
	"PLN": 1.0,
	// Europe
	"EUR": 4.3, "GBP": 5.1, "CHF": 4.6, "SEK": 0.38, "NOK": 0.37,
	"DKK": 0.58, "CZK": 0.17, "HUF": 0.011, "RON": 0.86, "BGN": 2.2,
	"UAH": 0.097, "ALL": 0.042, "TRY": 0.12,
	// Americas
	"USD": 4.0, "CAD": 2.9, "MXN": 0.23, "BRL": 0.78, "ARS": 0.004,
	// Asia & Middle East
	"JPY": 0.027, "KRW": 0.0029, "CNY": 0.55, "INR": 0.048, "THB": 0.12,
	"SGD": 3.0, "MYR": 0.9, "IDR": 0.00025, "VND": 0.00016, "PHP": 0.07,
	"AED": 1.09, "ILS": 1.1, "SAR": 1.07,
	// Oceania & Africa
	"AUD": 2.6, "NZD": 2.4, "ZAR": 0.22, "EGP": 0.08, "MAD": 0.4,
}

// supported lists the currencies the daily-rate authority publishes.
var supported = []string{
	"EUR", "USD", "GBP", "CHF", "SEK", "NOK", "DKK", "CZK", "HUF", "RON",
	"BGN", "TRY", "CAD", "AUD", "NZD", "JPY", "CNY", "INR", "THB", "SGD",
	"MYR", "IDR", "PHP", "ZAR", "BRL", "MXN", "ILS", "KRW", "AED",
}

// Table is one refresh of currency -> canonical rates. Read-only after
// construction; safe to share across concurrent fetchers.
type Table struct {
	Rates     map[string]float64 `json:"rates"`
	FetchedAt time.Time          `json:"timestamp"`
	Source    string             `json:"source"`
}

// Rate returns the rate to canonical for a currency, falling back to the
// static table and finally 1.0. It never fails: a quote in an odd currency
// is better converted roughly than dropped.
func (t *Table) Rate(currency string) float64 {
	cur := strings.ToUpper(strings.TrimSpace(currency))
	if t != nil {
		if r, ok := t.Rates[cur]; ok {
			return r
		}
	}
	if r, ok := fallbackRates[cur]; ok {
		return r
	}
	return 1.0
}

// Convert converts a price in the given currency to the canonical currency.
func (t *Table) Convert(price float64, currency string) float64 {
	return price * t.Rate(currency)
}

// Cache fetches and persists the daily exchange-rate table. The authority
// publishes once per day around noon, so a persisted table is reused until
// the next publication window (see isValid).
type Cache struct {
	Path    string // persisted cache file
	BaseURL string // authority endpoint, e.g. https://api.nbp.pl/api/exchangerates/rates/a
	Client  *httpx.Client

	// Now is the clock; tests override it.
	Now func() time.Time
}

const defaultBaseURL = "https://api.nbp.pl/api/exchangerates/rates/a"

func New(path string, client *httpx.Client) *Cache {
	if path == "" {
		path = ".exchange_rates_cache.json"
	}
	if client == nil {
		client = httpx.New(5 * time.Second)
	}
	return &Cache{Path: path, BaseURL: defaultBaseURL, Client: client, Now: time.Now}
}

// Rates returns the current table, preferring the persisted cache when it is
// still valid. Total authority unreachability is not an error: the static
// fallback table is returned and recorded as such.
func (c *Cache) Rates(ctx context.Context, forceRefresh bool) *Table {
	if !forceRefresh {
		if t := c.load(); t != nil {
			log.Printf("rates: using cached table from %s (%s)", t.FetchedAt.Format("2006-01-02 15:04"), t.Source)
			return t
		}
	}
	return c.refresh(ctx)
}

func (c *Cache) refresh(ctx context.Context) *Table {
	log.Printf("rates: fetching fresh exchange rates")
	out := map[string]float64{Canonical: 1.0}
	fetched := 0
	for _, cur := range supported {
		rate, err := c.fetchOne(ctx, cur)
		if err != nil {
			log.Printf("rates: %s skipped: %v", cur, err)
			continue
		}
		out[cur] = rate
		fetched++
	}

	t := &Table{FetchedAt: c.Now(), Source: SourceLive}
	if fetched == 0 {
		log.Printf("rates: authority unreachable, using fallback table")
		t.Source = SourceFallback
		out = make(map[string]float64, len(fallbackRates))
		for cur, r := range fallbackRates {
			out[cur] = r
		}
	} else {
		// currencies the authority does not publish come from the fallback
		for cur, r := range fallbackRates {
			if _, ok := out[cur]; !ok {
				out[cur] = r
			}
		}
		log.Printf("rates: fetched %d live rates", fetched)
	}
	t.Rates = out

	if err := c.persist(t); err != nil {
		log.Printf("rates: persist failed: %v", err)
	}
	return t
}

// fetchOne queries the authority for a single currency. Each per-currency
// fetch fails independently; callers skip failures.
func (c *Cache) fetchOne(ctx context.Context, currency string) (float64, error) {
	if currency == Canonical {
		return 1.0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	url := fmt.Sprintf("%s/%s/?format=json", c.BaseURL, strings.ToLower(currency))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.Client.Do(ctx, req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("authority returned %d", resp.StatusCode)
	}

	var body struct {
		Rates []struct {
			Mid float64 `json:"mid"`
		} `json:"rates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode: %w", err)
	}
	if len(body.Rates) == 0 || body.Rates[0].Mid <= 0 {
		return 0, fmt.Errorf("no rate in response")
	}
	return body.Rates[0].Mid, nil
}

// load reads the persisted table; a missing, malformed or expired file is a
// cache miss, never an error.
func (c *Cache) load() *Table {
	b, err := os.ReadFile(c.Path)
	if err != nil {
		return nil
	}
	var t Table
	if err := json.Unmarshal(b, &t); err != nil {
		log.Printf("rates: corrupt cache file, refetching: %v", err)
		return nil
	}
	if len(t.Rates) == 0 || !isValid(t.FetchedAt, c.Now()) {
		return nil
	}
	return &t
}

// persist writes the table atomically so a concurrent reader never sees a
// half-written file.
func (c *Cache) persist(t *Table) error {
	b, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(c.Path)
	tmp, err := os.CreateTemp(dir, ".rates-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), c.Path)
}

// isValid reports whether a table fetched at t may still be used at now.
// The authority publishes once daily around noon: a table from today is
// always current, and yesterday's table is current until noon today.
func isValid(t, now time.Time) bool {
	ty, tm, td := t.Date()
	ny, nm, nd := now.Date()
	if ty == ny && tm == nm && td == nd {
		return true
	}
	yesterday := now.AddDate(0, 0, -1)
	yy, ym, yd := yesterday.Date()
	if ty == yy && tm == ym && td == yd && now.Hour() < 12 {
		return true
	}
	return false
}
