package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

type Server struct {
	Port              string `json:"port"`
	RequestTimeoutSec int    `json:"request_timeout_sec"`
}

type Search struct {
	FetchTimeoutSec int `json:"fetch_timeout_sec"`
	CacheTTLSeconds int `json:"cache_ttl_sec"` // per-request quote cache, server only
	CacheMaxItems   int `json:"cache_max_items"`
}

type Amadeus struct {
	Enabled      bool   `json:"enabled"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	TokenURL     string `json:"token_url"`
	SearchURL    string `json:"search_url"`
	// MinRequestIntervalSec spaces out aggregator calls when set.
	MinRequestIntervalSec int `json:"min_request_interval_sec"`
	MaxRequestsPerMinute  int `json:"max_requests_per_minute"`
	Burst                 int `json:"burst"`
}

type Airlines struct {
	Enabled               []string `json:"enabled"` // ryanair, wizzair, lot, easyjet, lufthansa
	MinRequestIntervalSec int      `json:"min_request_interval_sec"`
	MaxRequestsPerMinute  int      `json:"max_requests_per_minute"`
	Burst                 int      `json:"burst"`
}

type Viewpoint struct {
	UseTunnel    bool     `json:"use_tunnel"`
	SkipRotation bool     `json:"skip_rotation"`
	TunnelCmd    string   `json:"tunnel_cmd"`
	ProbeURL     string   `json:"probe_url"`
	ProxySources []string `json:"proxy_sources"`
	ProxyLimit   int      `json:"proxy_limit"`
}

type Rates struct {
	CacheFile    string `json:"cache_file"`
	AuthorityURL string `json:"authority_url"`
}

type Config struct {
	Server    Server    `json:"server"`
	Search    Search    `json:"search"`
	Amadeus   Amadeus   `json:"amadeus"`
	Airlines  Airlines  `json:"airlines"`
	Viewpoint Viewpoint `json:"viewpoint"`
	Rates     Rates     `json:"rates"`
}

func Default() Config {
	return Config{
		Server: Server{Port: "8080", RequestTimeoutSec: 60},
		Search: Search{
			FetchTimeoutSec: 30,
			CacheTTLSeconds: 0,
			CacheMaxItems:   1000,
		},
		Amadeus: Amadeus{
			Enabled: true,
		},
		Airlines: Airlines{
			Enabled: []string{"ryanair", "wizzair", "lot", "easyjet", "lufthansa"},
		},
		Viewpoint: Viewpoint{
			UseTunnel:    false,
			SkipRotation: false,
			TunnelCmd:    "nordvpn",
		},
		Rates: Rates{
			CacheFile: ".exchange_rates_cache.json",
		},
	}
}

// Load reads JSON config from path. If path is empty or file does not exist,
// it returns defaults. Environment variables override select fields for secrecy.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		if _, err := os.Stat("config.json"); err == nil {
			path = "config.json"
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := json.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("REQUEST_TIMEOUT_SEC"); v != "" {
		if x := atoi(v); x > 0 {
			cfg.Server.RequestTimeoutSec = x
		}
	}
	if v := os.Getenv("FETCH_TIMEOUT_SEC"); v != "" {
		if x := atoi(v); x > 0 {
			cfg.Search.FetchTimeoutSec = x
		}
	}
	if v := os.Getenv("SEARCH_CACHE_TTL_SEC"); v != "" {
		if x := atoi(v); x >= 0 {
			cfg.Search.CacheTTLSeconds = x
		}
	}

	if v := os.Getenv("AMADEUS_CLIENT_ID"); v != "" {
		cfg.Amadeus.ClientID = v
	}
	if v := os.Getenv("AMADEUS_CLIENT_SECRET"); v != "" {
		cfg.Amadeus.ClientSecret = v
	}
	if v := os.Getenv("AMADEUS_TOKEN_URL"); v != "" {
		cfg.Amadeus.TokenURL = v
	}
	if v := os.Getenv("AMADEUS_SEARCH_URL"); v != "" {
		cfg.Amadeus.SearchURL = v
	}
	if v := os.Getenv("AMADEUS_MIN_INTERVAL_SEC"); v != "" {
		if x := atoi(v); x >= 0 {
			cfg.Amadeus.MinRequestIntervalSec = x
		}
	}
	if v := os.Getenv("AMADEUS_MAX_RPM"); v != "" {
		if x := atoi(v); x >= 0 {
			cfg.Amadeus.MaxRequestsPerMinute = x
		}
	}

	if v := os.Getenv("AIRLINES"); v != "" {
		cfg.Airlines.Enabled = splitCSV(v)
	}
	if v := os.Getenv("AIRLINES_MIN_INTERVAL_SEC"); v != "" {
		if x := atoi(v); x >= 0 {
			cfg.Airlines.MinRequestIntervalSec = x
		}
	}
	if v := os.Getenv("AIRLINES_MAX_RPM"); v != "" {
		if x := atoi(v); x >= 0 {
			cfg.Airlines.MaxRequestsPerMinute = x
		}
	}

	if v := os.Getenv("USE_TUNNEL"); v != "" {
		if b, ok := parseBool(v); ok {
			cfg.Viewpoint.UseTunnel = b
		}
	}
	if v := os.Getenv("SKIP_ROTATION"); v != "" {
		if b, ok := parseBool(v); ok {
			cfg.Viewpoint.SkipRotation = b
		}
	}
	if v := os.Getenv("TUNNEL_CMD"); v != "" {
		cfg.Viewpoint.TunnelCmd = v
	}
	if v := os.Getenv("PROBE_URL"); v != "" {
		cfg.Viewpoint.ProbeURL = v
	}
	if v := os.Getenv("PROXY_SOURCES"); v != "" {
		cfg.Viewpoint.ProxySources = splitCSV(v)
	}

	if v := os.Getenv("RATES_CACHE_FILE"); v != "" {
		cfg.Rates.CacheFile = v
	}
	if v := os.Getenv("RATES_AUTHORITY_URL"); v != "" {
		cfg.Rates.AuthorityURL = v
	}
}

func atoi(s string) int {
	var x int
	_, _ = fmt.Sscanf(s, "%d", &x)
	return x
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "y":
		return true, true
	case "0", "false", "no", "n":
		return false, true
	}
	return false, false
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
