package amadeus

import (
	"context"
	"log"

	"farescan/internal/fetch"
)

// Fetcher adapts the aggregator client to the common fetch capability.
// Authentication and transport failures degrade to the fallback fetcher
// (normally the synthetic source) so one dead aggregator never sinks a run.
type Fetcher struct {
	client   *Client
	fallback fetch.Fetcher
}

func New(client *Client, fallback fetch.Fetcher) *Fetcher {
	return &Fetcher{client: client, fallback: fallback}
}

func (f *Fetcher) Name() string { return "amadeus" }

func (f *Fetcher) Fetch(ctx context.Context, req fetch.Request) ([]fetch.Quote, error) {
	offers, err := f.client.SearchOffers(ctx, req.Origin, req.Destination, req.Date, req.Adults, req.Market.Currency, req.Proxy)
	if err != nil {
		if f.fallback != nil {
			log.Printf("amadeus: degraded to %s: %v", f.fallback.Name(), err)
			return f.fallback.Fetch(ctx, req)
		}
		return nil, err
	}

	out := make([]fetch.Quote, 0, len(offers))
	for _, o := range offers {
		out = append(out, fetch.Quote{
			Price:         o.Price,
			Currency:      o.Currency,
			Carrier:       o.Carrier,
			DepartureTime: o.DepartureAt,
			ArrivalTime:   o.ArrivalAt,
			Stops:         o.Stops,
			Source:        "amadeus",
		})
	}
	log.Printf("amadeus: %d offers for %s-%s (%s)", len(out), req.Origin, req.Destination, req.Market.Currency)
	return out, nil
}
