package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.Equal(t, "8080", cfg.Server.Port)
	require.True(t, cfg.Amadeus.Enabled)
	require.Equal(t, []string{"ryanair", "wizzair", "lot", "easyjet", "lufthansa"}, cfg.Airlines.Enabled)
	require.Equal(t, "nordvpn", cfg.Viewpoint.TunnelCmd)
	require.Equal(t, ".exchange_rates_cache.json", cfg.Rates.CacheFile)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"server": {"port": "9090", "request_timeout_sec": 20},
		"airlines": {"enabled": ["ryanair"]},
		"viewpoint": {"use_tunnel": true, "proxy_limit": 3}
	}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "9090", cfg.Server.Port)
	require.Equal(t, 20, cfg.Server.RequestTimeoutSec)
	require.Equal(t, []string{"ryanair"}, cfg.Airlines.Enabled)
	require.True(t, cfg.Viewpoint.UseTunnel)
	require.Equal(t, 3, cfg.Viewpoint.ProxyLimit)
	// untouched sections keep their defaults
	require.Equal(t, 30, cfg.Search.FetchTimeoutSec)
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"server": `), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "3000")
	t.Setenv("AMADEUS_CLIENT_ID", "id-from-env")
	t.Setenv("AMADEUS_CLIENT_SECRET", "secret-from-env")
	t.Setenv("AIRLINES", "wizzair, lot")
	t.Setenv("USE_TUNNEL", "true")
	t.Setenv("SKIP_ROTATION", "0")
	t.Setenv("RATES_CACHE_FILE", "/tmp/rates.json")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	require.Equal(t, "3000", cfg.Server.Port)
	require.Equal(t, "id-from-env", cfg.Amadeus.ClientID)
	require.Equal(t, "secret-from-env", cfg.Amadeus.ClientSecret)
	require.Equal(t, []string{"wizzair", "lot"}, cfg.Airlines.Enabled)
	require.True(t, cfg.Viewpoint.UseTunnel)
	require.False(t, cfg.Viewpoint.SkipRotation)
	require.Equal(t, "/tmp/rates.json", cfg.Rates.CacheFile)
}

func TestLoad_EnvWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"server": {"port": "9090"}}`), 0o644))
	t.Setenv("PORT", "3000")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "3000", cfg.Server.Port)
}

func TestParseBool(t *testing.T) {
	for _, v := range []string{"1", "true", "YES", "y"} {
		b, ok := parseBool(v)
		require.True(t, ok, v)
		require.True(t, b, v)
	}
	for _, v := range []string{"0", "false", "NO", "n"} {
		b, ok := parseBool(v)
		require.True(t, ok, v)
		require.False(t, b, v)
	}
	_, ok := parseBool("maybe")
	require.False(t, ok)
}
