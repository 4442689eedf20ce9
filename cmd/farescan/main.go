package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"farescan/internal/config"
	"farescan/internal/fetch"
	"farescan/internal/fetch/amadeus"
	"farescan/internal/fetch/easyjet"
	"farescan/internal/fetch/lot"
	"farescan/internal/fetch/lufthansa"
	"farescan/internal/fetch/ratelimit"
	"farescan/internal/fetch/ryanair"
	"farescan/internal/fetch/synthetic"
	"farescan/internal/fetch/wizzair"
	"farescan/internal/httpx"
	"farescan/internal/rates"
	"farescan/internal/search"
	"farescan/internal/viewpoint"
)

func main() {
	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "farescan",
		Usage: "collect flight quotes for one itinerary across market viewpoints",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "markets", Value: "poland,germany,turkey", Usage: "comma-separated market names"},
			&cli.StringFlag{Name: "origin", Value: "POZ", Usage: "origin IATA code"},
			&cli.StringFlag{Name: "destination", Value: "AMS", Usage: "destination IATA code"},
			&cli.StringFlag{Name: "date", Required: true, Usage: "departure date YYYY-MM-DD"},
			&cli.IntFlag{Name: "adults", Value: 1},
			&cli.IntFlag{Name: "days-before", Usage: "also scan N days before the date"},
			&cli.IntFlag{Name: "days-after", Usage: "also scan N days after the date"},
			&cli.StringFlag{Name: "config", Value: "", Usage: "path to config.json"},
			&cli.BoolFlag{Name: "refresh-rates", Usage: "bypass the exchange-rate cache"},
			&cli.BoolFlag{Name: "skip-rotation", Usage: "query all markets without identity switching"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if c.Bool("skip-rotation") {
		cfg.Viewpoint.SkipRotation = true
	}

	httpClient := httpx.New(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second)

	rateCache := rates.New(cfg.Rates.CacheFile, httpClient)
	if cfg.Rates.AuthorityURL != "" {
		rateCache.BaseURL = cfg.Rates.AuthorityURL
	}

	manager := viewpoint.NewManager(viewpoint.Config{
		UseTunnel:    cfg.Viewpoint.UseTunnel,
		SkipRotation: cfg.Viewpoint.SkipRotation,
		TunnelCmd:    cfg.Viewpoint.TunnelCmd,
		ProbeURL:     cfg.Viewpoint.ProbeURL,
		ProxySources: cfg.Viewpoint.ProxySources,
		ProxyLimit:   cfg.Viewpoint.ProxyLimit,
	}, httpClient)

	fetchers := buildFetchers(cfg)
	if len(fetchers) == 0 {
		return fmt.Errorf("no price sources configured")
	}

	searcher := &search.Searcher{
		Fetchers:          fetchers,
		Viewpoints:        manager,
		Rates:             rateCache,
		ForceRefreshRates: c.Bool("refresh-rates"),
		FetchTimeout:      time.Duration(cfg.Search.FetchTimeoutSec) * time.Second,
	}

	markets := splitCSV(c.String("markets"))
	origin, destination := c.String("origin"), c.String("destination")
	date, adults := c.String("date"), c.Int("adults")

	if c.Int("days-before") > 0 || c.Int("days-after") > 0 {
		byDate, err := searcher.SearchDateRange(c.Context, markets, origin, destination, date, c.Int("days-before"), c.Int("days-after"), adults)
		if err != nil {
			return err
		}
		for day, results := range byDate {
			reportRun(day+" ", results)
		}
		return printJSON(byDate)
	}

	results, err := searcher.SearchMarkets(c.Context, markets, origin, destination, date, adults)
	if err != nil {
		return err
	}
	reportRun("", results)
	return printJSON(results)
}

func reportRun(prefix string, results map[string]search.MarketResult) {
	for name, r := range results {
		if q, ok := r.Cheapest(); ok {
			log.Printf("%s%s: %d quotes, cheapest %.2f %s (%.2f %s)", prefix, name, len(r.Quotes), q.Price, q.Currency, q.CanonicalPrice, rates.Canonical)
		} else {
			log.Printf("%s%s: no quotes (%s)", prefix, name, strings.Join(r.Errors, "; "))
		}
	}
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func buildFetchers(cfg config.Config) []fetch.Fetcher {
	var out []fetch.Fetcher

	if cfg.Amadeus.Enabled {
		demo := synthetic.New(time.Now().UnixNano())
		if cfg.Amadeus.ClientID == "" || cfg.Amadeus.ClientSecret == "" {
			log.Println("warning: amadeus credentials not set; using synthetic demo quotes")
			out = append(out, demo)
		} else {
			var opts []amadeus.Option
			if cfg.Amadeus.TokenURL != "" {
				opts = append(opts, amadeus.WithTokenURL(cfg.Amadeus.TokenURL))
			}
			if cfg.Amadeus.SearchURL != "" {
				opts = append(opts, amadeus.WithSearchURL(cfg.Amadeus.SearchURL))
			}
			client, err := amadeus.NewClient(cfg.Amadeus.ClientID, cfg.Amadeus.ClientSecret, opts...)
			if err != nil {
				log.Printf("amadeus client error: %v", err)
			} else {
				f := withLimits(amadeus.New(client, demo), cfg.Amadeus.MaxRequestsPerMinute, cfg.Amadeus.Burst, cfg.Amadeus.MinRequestIntervalSec)
				out = append(out, f)
			}
		}
	}

	for _, name := range cfg.Airlines.Enabled {
		var f fetch.Fetcher
		switch strings.ToLower(name) {
		case "ryanair":
			f = ryanair.New(ryanair.Config{})
		case "wizzair":
			f = wizzair.New(wizzair.Config{})
		case "lot":
			f = lot.New(lot.Config{})
		case "easyjet":
			f = easyjet.New(easyjet.Config{})
		case "lufthansa":
			f = lufthansa.New(lufthansa.Config{})
		default:
			log.Printf("warning: unknown airline %q, skipping", name)
			continue
		}
		out = append(out, withLimits(f, cfg.Airlines.MaxRequestsPerMinute, cfg.Airlines.Burst, cfg.Airlines.MinRequestIntervalSec))
	}
	return out
}

// withLimits prefers a token bucket with burst if RPM is set, otherwise a
// minimum interval; unconfigured sources go through untouched.
func withLimits(f fetch.Fetcher, rpm, burst, minIntervalSec int) fetch.Fetcher {
	if rpm > 0 {
		if burst <= 0 {
			burst = 1
		}
		return &ratelimit.TokenBucketFetcher{F: f, TB: ratelimit.NewTokenBucket(float64(rpm)/60.0, burst)}
	}
	if minIntervalSec > 0 {
		return &ratelimit.MinInterval{F: f, Interval: time.Duration(minIntervalSec) * time.Second}
	}
	return f
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
