package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"farescan/internal/config"
	"farescan/internal/fetch"
	"farescan/internal/fetch/amadeus"
	"farescan/internal/fetch/cache"
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

type searchResponse struct {
	Results map[string]search.MarketResult `json:"results"`
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if cfg.Amadeus.Enabled && cfg.Amadeus.ClientID == "" {
		log.Println("warning: amadeus.enabled=true but AMADEUS_CLIENT_ID not set; synthetic quotes will be served")
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

	searcher := &search.Searcher{
		Fetchers:     buildFetchers(cfg),
		Viewpoints:   manager,
		Rates:        rateCache,
		FetchTimeout: time.Duration(cfg.Search.FetchTimeoutSec) * time.Second,
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/api/search", func(w http.ResponseWriter, req *http.Request) {
		handleSearch(w, req, searcher)
	}).Methods(http.MethodGet)
	r.HandleFunc("/api/rates", func(w http.ResponseWriter, req *http.Request) {
		handleRates(w, req, rateCache)
	}).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           withJSONHeaders(recoverPanic(c.Handler(r))),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      2 * time.Minute, // searches cross several markets
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("server listening on :%s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func buildFetchers(cfg config.Config) []fetch.Fetcher {
	var out []fetch.Fetcher

	if cfg.Amadeus.Enabled {
		demo := synthetic.New(time.Now().UnixNano())
		if cfg.Amadeus.ClientID == "" || cfg.Amadeus.ClientSecret == "" {
			out = append(out, withCache(demo, cfg))
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
				out = append(out, withCache(f, cfg))
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
		f = withLimits(f, cfg.Airlines.MaxRequestsPerMinute, cfg.Airlines.Burst, cfg.Airlines.MinRequestIntervalSec)
		out = append(out, withCache(f, cfg))
	}
	return out
}

// Prefer token bucket with burst if RPM is set, otherwise use min-interval.
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

func withCache(f fetch.Fetcher, cfg config.Config) fetch.Fetcher {
	if cfg.Search.CacheTTLSeconds <= 0 {
		return f
	}
	return &cache.Fetcher{
		F:        f,
		TTL:      time.Duration(cfg.Search.CacheTTLSeconds) * time.Second,
		MaxItems: cfg.Search.CacheMaxItems,
	}
}

func handleSearch(w http.ResponseWriter, r *http.Request, s *search.Searcher) {
	q := r.URL.Query()
	markets := splitCSV(q.Get("markets"))
	adults := 1
	if v := q.Get("adults"); v != "" {
		if x, err := strconv.Atoi(v); err == nil && x > 0 {
			adults = x
		}
	}

	results, err := s.SearchMarkets(r.Context(), markets, q.Get("origin"), q.Get("destination"), q.Get("date"), adults)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(searchResponse{Results: results})
}

func handleRates(w http.ResponseWriter, r *http.Request, rc *rates.Cache) {
	force := r.URL.Query().Get("refresh") == "true"
	table := rc.Rates(r.Context(), force)
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(table)
}

func withJSONHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		next.ServeHTTP(w, r)
	})
}

// recoverPanic protects handlers from panics.
func recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
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
