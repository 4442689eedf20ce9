package fetch

import (
	"context"

	"farescan/internal/market"
)

// Quote is the normalized shape returned by all fetchers.
// It is immutable once produced; the orchestrator fills CanonicalPrice
// after conversion.
type Quote struct {
	Price          float64 `json:"price"`
	Currency       string  `json:"currency"`
	Carrier        string  `json:"carrier"` // IATA carrier code, "" when unknown
	DepartureTime  string  `json:"departure_time"`
	ArrivalTime    string  `json:"arrival_time"`
	Stops          int     `json:"stops"`
	Source         string  `json:"source"`
	CanonicalPrice float64 `json:"canonical_price,omitempty"`
}

// Request describes one itinerary query as seen from a market viewpoint.
// Proxy is the egress proxy "host:port" picked by the viewpoint manager,
// empty when no identity switch is in effect.
type Request struct {
	Origin      string
	Destination string
	Date        string // YYYY-MM-DD
	Adults      int
	Market      market.Info
	Proxy       string
}

// Fetcher is one independent price source. Implementations fail closed:
// transport and parse errors come back as an error with no quotes, and the
// orchestrator records them without disturbing sibling fetchers. Each call
// must use a fresh network context with no cookies from previous calls.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, req Request) ([]Quote, error)
}

// key identifies a quote for dedup purposes. Distinct itineraries can
// collide when the same carrier sells two departures at the same price;
// the upstream sources rarely disambiguate those, so the coarse key stays.
type key struct {
	source  string
	carrier string
	price   float64
}

// Dedupe drops quotes that repeat a (source, carrier, price) triple.
// First occurrence wins; merging a list with itself yields the original set.
func Dedupe(quotes []Quote) []Quote {
	seen := make(map[key]struct{}, len(quotes))
	out := make([]Quote, 0, len(quotes))
	for _, q := range quotes {
		k := key{source: q.Source, carrier: q.Carrier, price: q.Price}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, q)
	}
	return out
}
