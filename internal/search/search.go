package search

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"farescan/internal/fetch"
	"farescan/internal/market"
	"farescan/internal/rates"
	"farescan/internal/viewpoint"
)

// MarketResult is everything collected for one market viewpoint. It is
// plain data with no live handles, safe to hand to reporting collaborators.
type MarketResult struct {
	Market    string               `json:"market"`
	Currency  string               `json:"currency"`
	Quotes    []fetch.Quote        `json:"quotes"`
	Viewpoint viewpoint.Descriptor `json:"viewpoint"`
	Errors    []string             `json:"errors,omitempty"`
}

// Acquirer obtains a network viewpoint for a market. Satisfied by
// *viewpoint.Manager.
type Acquirer interface {
	Acquire(ctx context.Context, mk market.Info) (viewpoint.Descriptor, func())
}

// Searcher fans one itinerary out across markets and price sources.
// Markets run strictly sequentially because viewpoint switches are
// process-wide side effects; fetchers within a market run concurrently.
type Searcher struct {
	Fetchers   []fetch.Fetcher
	Viewpoints Acquirer     // nil means no identity switching at all
	Rates      *rates.Cache // consulted once per run when Table is unset
	Table      *rates.Table // preloaded rate table, mainly for tests

	ForceRefreshRates bool
	FetchTimeout      time.Duration // per-fetcher limit, default 30s
}

// SearchMarkets collects quotes for the itinerary from every market's
// perspective. The only fatal condition is an invalid request; per-market
// and per-source failures are recorded in the result and never abort the
// run.
func (s *Searcher) SearchMarkets(ctx context.Context, markets []string, origin, destination, date string, adults int) (map[string]MarketResult, error) {
	if len(markets) == 0 {
		return nil, fmt.Errorf("no markets requested")
	}
	if origin == "" || destination == "" {
		return nil, fmt.Errorf("origin and destination are required")
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return nil, fmt.Errorf("invalid departure date %q: %w", date, err)
	}
	if adults < 1 {
		adults = 1
	}
	origin = strings.ToUpper(origin)
	destination = strings.ToUpper(destination)

	// One table per run, read-only afterwards; shared freely by the
	// concurrent fetch tasks below.
	table := s.Table
	if table == nil && s.Rates != nil {
		table = s.Rates.Rates(ctx, s.ForceRefreshRates)
	}
	if table == nil {
		table = &rates.Table{}
	}

	out := make(map[string]MarketResult, len(markets))
	for _, name := range markets {
		out[name] = s.searchOne(ctx, name, origin, destination, date, adults, table)
	}
	return out, nil
}

// SearchDateRange runs the market search for every date in an inclusive
// window around center, keyed by date. The rate table is loaded once and
// reused for all dates.
func (s *Searcher) SearchDateRange(ctx context.Context, markets []string, origin, destination, center string, daysBefore, daysAfter, adults int) (map[string]map[string]MarketResult, error) {
	centerDay, err := time.Parse("2006-01-02", center)
	if err != nil {
		return nil, fmt.Errorf("invalid center date %q: %w", center, err)
	}
	if daysBefore < 0 {
		daysBefore = 0
	}
	if daysAfter < 0 {
		daysAfter = 0
	}

	table := s.Table
	if table == nil && s.Rates != nil {
		table = s.Rates.Rates(ctx, s.ForceRefreshRates)
	}
	pinned := *s
	pinned.Table = table

	out := make(map[string]map[string]MarketResult, daysBefore+daysAfter+1)
	for offset := -daysBefore; offset <= daysAfter; offset++ {
		day := centerDay.AddDate(0, 0, offset).Format("2006-01-02")
		results, err := pinned.SearchMarkets(ctx, markets, origin, destination, day, adults)
		if err != nil {
			return nil, err
		}
		out[day] = results
	}
	return out, nil
}

func (s *Searcher) searchOne(ctx context.Context, name, origin, destination, date string, adults int, table *rates.Table) MarketResult {
	mk, err := market.Lookup(name)
	if err != nil {
		return MarketResult{Market: name, Errors: []string{err.Error()}}
	}
	log.Printf("search: %s-%s on %s from the %s perspective", origin, destination, date, mk.Name)

	desc, release := s.acquire(ctx, mk)
	defer release()

	req := fetch.Request{
		Origin:      origin,
		Destination: destination,
		Date:        date,
		Adults:      adults,
		Market:      mk,
	}
	if desc.Method == viewpoint.MethodProxy {
		req.Proxy = desc.Endpoint
	}

	quotes, errs := s.fanOut(ctx, req)
	quotes = fetch.Dedupe(quotes)
	for i := range quotes {
		quotes[i].CanonicalPrice = table.Convert(quotes[i].Price, quotes[i].Currency)
	}

	return MarketResult{
		Market:    mk.Name,
		Currency:  mk.Currency,
		Quotes:    quotes,
		Viewpoint: desc,
		Errors:    errs,
	}
}

func (s *Searcher) acquire(ctx context.Context, mk market.Info) (viewpoint.Descriptor, func()) {
	if s.Viewpoints == nil {
		return viewpoint.Descriptor{Market: mk.Code, Method: viewpoint.MethodNone, Healthy: true}, func() {}
	}
	return s.Viewpoints.Acquire(ctx, mk)
}

// fanOut runs every fetcher concurrently and gathers all results. Each
// fetcher is isolated: a failure or timeout is recorded as an error string
// and never cancels or corrupts the others.
func (s *Searcher) fanOut(ctx context.Context, req fetch.Request) ([]fetch.Quote, []string) {
	timeout := s.FetchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	results := make([][]fetch.Quote, len(s.Fetchers))
	failures := make([]string, len(s.Fetchers))

	var g errgroup.Group
	for i, f := range s.Fetchers {
		i, f := i, f
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			qs, err := f.Fetch(fctx, req)
			if err != nil {
				failures[i] = fmt.Sprintf("%s: %v", f.Name(), err)
				return nil
			}
			results[i] = qs
			return nil
		})
	}
	_ = g.Wait()

	var quotes []fetch.Quote
	for _, qs := range results {
		quotes = append(quotes, qs...)
	}
	var errs []string
	for _, e := range failures {
		if e != "" {
			errs = append(errs, e)
		}
	}
	sort.Strings(errs)
	return quotes, errs
}

// Cheapest returns the lowest canonical-priced quote, or false when the
// result has none.
func (r MarketResult) Cheapest() (fetch.Quote, bool) {
	if len(r.Quotes) == 0 {
		return fetch.Quote{}, false
	}
	best := r.Quotes[0]
	for _, q := range r.Quotes[1:] {
		if q.CanonicalPrice < best.CanonicalPrice {
			best = q
		}
	}
	return best, true
}
