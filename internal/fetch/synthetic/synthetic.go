package synthetic

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"farescan/internal/fetch"
)

// priceRanges are plausible one-way fare bounds per quoting currency.
// Currencies not listed use a generic range.
var priceRanges = map[string][2]float64{
	"PLN": {400, 1200},
	"EUR": {90, 280},
	"USD": {100, 300},
	"TRY": {3000, 9000},
	"ALL": {10000, 30000},
}

var carriers = []string{"LO", "W6", "FR", "LH", "KL"}

// Source generates demo quotes in a currency-appropriate price range.
// It stands in for the aggregator when no credentials are configured or
// authentication fails; the source tag tells it apart from real data.
type Source struct {
	Count int // quotes per call, default 5
	rng   *rand.Rand
}

func New(seed int64) *Source {
	return &Source{Count: 5, rng: rand.New(rand.NewSource(seed))}
}

func (s *Source) Name() string { return "synthetic" }

func (s *Source) Fetch(_ context.Context, req fetch.Request) ([]fetch.Quote, error) {
	currency := req.Market.Currency
	bounds, ok := priceRanges[currency]
	if !ok {
		bounds = [2]float64{100, 500}
	}

	n := s.Count
	if n <= 0 {
		n = 5
	}
	out := make([]fetch.Quote, 0, n)
	for i := 0; i < n; i++ {
		price := bounds[0] + s.rng.Float64()*(bounds[1]-bounds[0])
		depHour := 6 + s.rng.Intn(15)
		arrHour := depHour + 2 + s.rng.Intn(4)
		if arrHour > 23 {
			arrHour = 23
		}
		minute := []string{"00", "30"}[s.rng.Intn(2)]
		out = append(out, fetch.Quote{
			Price:         math.Round(price*100) / 100,
			Currency:      currency,
			Carrier:       carriers[s.rng.Intn(len(carriers))],
			DepartureTime: fmt.Sprintf("%sT%02d:%s:00", req.Date, depHour, minute),
			ArrivalTime:   fmt.Sprintf("%sT%02d:%s:00", req.Date, arrHour, minute),
			Stops:         []int{0, 0, 0, 1, 1, 2}[s.rng.Intn(6)],
			Source:        "synthetic",
		})
	}
	return out, nil
}
