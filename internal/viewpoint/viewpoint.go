package viewpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"farescan/internal/httpx"
	"farescan/internal/market"
)

// Method is the network-identity mechanism in effect for one market.
type Method string

const (
	MethodTunnel Method = "tunnel"
	MethodProxy  Method = "proxy"
	MethodNone   Method = "none"
)

// Descriptor describes the viewpoint picked for a market. It is created on
// acquisition, held for all of that market's fetches and never reused
// across markets. Healthy is false when the viewpoint was accepted without
// a successful verification (degraded-confidence path, not an error).
type Descriptor struct {
	Market   string `json:"market"` // ISO country code
	Method   Method `json:"method"`
	Endpoint string `json:"endpoint,omitempty"` // proxy host:port when Method == proxy
	Healthy  bool   `json:"healthy"`
}

// Runner executes the external tunnel control binary. Swapped out in tests.
type Runner interface {
	Run(ctx context.Context, args ...string) (string, error)
}

type execRunner struct {
	cmd string
}

func (r execRunner) Run(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, r.cmd, args...).CombinedOutput()
	return string(out), err
}

// tunnel attempt outcomes. The control binary does not report success
// reliably on every platform, so "unconfirmed" proceeds on purpose.
type tunnelStatus int

const (
	tunnelConfirmed tunnelStatus = iota
	tunnelUnconfirmed
	tunnelFailed
)

// defaultProxySources are public proxy directories queried per country.
var defaultProxySources = []string{
	"https://api.proxyscrape.com/v2/?request=displayproxies&protocol=http&timeout=10000&country={country}&ssl=yes",
	"https://www.proxy-list.download/api/v1/get?type=http&country={country}",
}

// backupProxies is the static last-resort list per country. Free public
// proxies, often slow; the price APIs only need locale/currency correctness
// so an unreachable entry is still acceptable.
var backupProxies = map[string][]string{
	"PL": {"91.202.230.104:8080", "185.238.228.243:8080"},
	"DE": {"138.201.198.164:8080", "5.161.105.105:80"},
	"GB": {"178.62.103.98:8080", "167.71.142.195:8080"},
	"FR": {"91.121.208.136:8080", "163.172.182.165:8080"},
	"US": {"155.94.241.133:1994", "38.154.227.167:5868"},
	"TR": {"31.28.8.74:1923", "185.15.172.212:3128"},
	"NL": {"185.217.137.216:1337", "45.140.143.77:8080"},
	"ES": {"161.49.215.28:8080", "45.167.253.225:999"},
	"IT": {"146.196.110.136:55443", "93.188.161.148:80"},
	"JP": {"43.134.68.153:3128", "43.153.207.93:3128"},
	"IN": {"103.159.96.141:8080", "103.169.130.42:8080"},
	"AU": {"103.152.112.162:80", "43.154.134.238:50001"},
}

// Config controls how viewpoints are obtained.
type Config struct {
	UseTunnel    bool     // try the dedicated-tunnel method first
	SkipRotation bool     // skip all identity switching (low-cost bulk runs)
	TunnelCmd    string   // control binary, default "nordvpn"
	ProbeURL     string   // IP-geolocation probe, default ip-api.com
	ProxySources []string // directory URL templates with a {country} slot
	ProxyLimit   int      // max candidates cached per market, default 5
}

// Manager obtains a network viewpoint per market through an ordered
// fallback chain: dedicated tunnel, then rotating proxy, then none.
// Identity switches are process-wide side effects, so the manager is driven
// by one sequential market loop; it holds a single active-viewpoint slot.
type Manager struct {
	cfg    Config
	client *httpx.Client
	runner Runner

	proxyCache map[string][]string
	sf         singleflight.Group

	current *Descriptor
}

func NewManager(cfg Config, hc *httpx.Client) *Manager {
	if cfg.TunnelCmd == "" {
		cfg.TunnelCmd = "nordvpn"
	}
	if cfg.ProbeURL == "" {
		cfg.ProbeURL = "http://ip-api.com/json/"
	}
	if len(cfg.ProxySources) == 0 {
		cfg.ProxySources = defaultProxySources
	}
	if cfg.ProxyLimit <= 0 {
		cfg.ProxyLimit = 5
	}
	if hc == nil {
		hc = httpx.New(10 * time.Second)
	}
	return &Manager{
		cfg:        cfg,
		client:     hc,
		runner:     execRunner{cmd: cfg.TunnelCmd},
		proxyCache: make(map[string][]string),
	}
}

// SetRunner replaces the tunnel control runner. Used by tests.
func (m *Manager) SetRunner(r Runner) { m.runner = r }

// Current returns the active viewpoint, or nil outside an acquire/release
// window.
func (m *Manager) Current() *Descriptor { return m.current }

// Acquire obtains a viewpoint for the market, walking the fallback chain
// until one is accepted. It never fails: the no-viewpoint method accepts
// unconditionally. The returned release is idempotent and must run even
// when fetches error; for the tunnel method it tears the tunnel down, for
// the others it only clears local state.
func (m *Manager) Acquire(ctx context.Context, mk market.Info) (Descriptor, func()) {
	if !m.cfg.SkipRotation {
		if m.cfg.UseTunnel {
			if d, ok := m.acquireTunnel(ctx, mk.Code); ok {
				return m.hold(d, true)
			}
			log.Printf("viewpoint: tunnel unavailable for %s, trying proxies", mk.Code)
		}
		if d, ok := m.acquireProxy(ctx, mk.Code); ok {
			return m.hold(d, false)
		}
		log.Printf("viewpoint: no proxy for %s, continuing without identity switch", mk.Code)
	}
	return m.hold(Descriptor{Market: mk.Code, Method: MethodNone, Healthy: true}, false)
}

func (m *Manager) hold(d Descriptor, teardown bool) (Descriptor, func()) {
	m.current = &d
	var once sync.Once
	release := func() {
		once.Do(func() {
			if teardown {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if _, err := m.runner.Run(ctx, "disconnect"); err != nil {
					log.Printf("viewpoint: tunnel disconnect: %v", err)
				}
			}
			m.current = nil
		})
	}
	return d, release
}

// acquireTunnel switches network egress to the market's country via the
// external control binary and verifies with a geolocation probe. Command
// failure, timeout or verification mismatch is never fatal; the caller
// falls through to the next method.
func (m *Manager) acquireTunnel(ctx context.Context, countryCode string) (Descriptor, bool) {
	status := m.switchTunnel(ctx, countryCode)
	switch status {
	case tunnelConfirmed:
		log.Printf("viewpoint: tunnel confirmed for %s", countryCode)
		return Descriptor{Market: countryCode, Method: MethodTunnel, Healthy: true}, true
	case tunnelUnconfirmed:
		// Verification did not line up but the connect command itself went
		// through; proceed with degraded confidence rather than aborting.
		log.Printf("viewpoint: tunnel to %s unconfirmed, proceeding anyway", countryCode)
		return Descriptor{Market: countryCode, Method: MethodTunnel, Healthy: false}, true
	default:
		return Descriptor{}, false
	}
}

func (m *Manager) switchTunnel(ctx context.Context, countryCode string) tunnelStatus {
	dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if _, err := m.runner.Run(dctx, "disconnect"); err != nil {
		log.Printf("viewpoint: tunnel disconnect before switch: %v", err)
	}
	cancel()

	cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	out, err := m.runner.Run(cctx, "connect", countryCode)
	if err != nil {
		log.Printf("viewpoint: tunnel connect %s: %v", countryCode, err)
		return tunnelFailed
	}

	if loc, err := m.geoProbe(ctx, ""); err == nil {
		if strings.EqualFold(loc, countryCode) {
			return tunnelConfirmed
		}
		log.Printf("viewpoint: probe says %s, wanted %s", loc, countryCode)
		return tunnelUnconfirmed
	}
	// Probe unreachable: fall back to the loose stdout marker. Absence of
	// the marker still means "possibly connected".
	if strings.Contains(strings.ToLower(out), "connected") {
		return tunnelConfirmed
	}
	return tunnelUnconfirmed
}

// acquireProxy picks a candidate proxy for the country: first healthy one,
// or the first untested candidate when none test healthy, since the price
// APIs only need currency/locale correctness.
func (m *Manager) acquireProxy(ctx context.Context, countryCode string) (Descriptor, bool) {
	candidates := m.proxiesFor(ctx, countryCode)
	if len(candidates) == 0 {
		return Descriptor{}, false
	}
	for _, p := range candidates {
		if m.testProxy(ctx, p) {
			log.Printf("viewpoint: proxy %s healthy for %s", p, countryCode)
			return Descriptor{Market: countryCode, Method: MethodProxy, Endpoint: p, Healthy: true}, true
		}
	}
	log.Printf("viewpoint: no healthy proxy for %s, using %s untested", countryCode, candidates[0])
	return Descriptor{Market: countryCode, Method: MethodProxy, Endpoint: candidates[0], Healthy: false}, true
}

// proxiesFor returns the cached candidate list for a country, refilling
// from the proxy directories on miss and the static backup list last.
// Refills are coalesced per country.
func (m *Manager) proxiesFor(ctx context.Context, countryCode string) []string {
	if cached, ok := m.proxyCache[countryCode]; ok {
		return cached
	}
	v, _, _ := m.sf.Do(countryCode, func() (any, error) {
		return m.fetchProxies(ctx, countryCode), nil
	})
	list := v.([]string)
	m.proxyCache[countryCode] = list
	return list
}

func (m *Manager) fetchProxies(ctx context.Context, countryCode string) []string {
	var out []string
	for _, tmpl := range m.cfg.ProxySources {
		url := strings.ReplaceAll(tmpl, "{country}", countryCode)
		list, err := m.fetchProxyList(ctx, url)
		if err != nil {
			log.Printf("viewpoint: proxy directory %s: %v", url, err)
			continue
		}
		out = append(out, list...)
		if len(out) >= m.cfg.ProxyLimit {
			break
		}
	}
	if len(out) == 0 {
		out = backupProxies[countryCode]
	}
	if len(out) > m.cfg.ProxyLimit {
		out = out[:m.cfg.ProxyLimit]
	}
	return out
}

func (m *Manager) fetchProxyList(ctx context.Context, url string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("directory returned %d", resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, err
	}
	var list []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			list = append(list, line)
		}
	}
	return list, nil
}

// testProxy health-checks one candidate with a short timeout.
func (m *Manager) testProxy(ctx context.Context, proxy string) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	client := httpx.Fresh(5*time.Second, proxy)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.ProbeURL, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(ctx, req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// geoProbe resolves the country code the current egress IP appears from.
// proxy is optional; empty probes the direct connection.
func (m *Manager) geoProbe(ctx context.Context, proxy string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	client := m.client
	if proxy != "" {
		client = httpx.Fresh(5*time.Second, proxy)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.ProbeURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(ctx, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("probe returned %d", resp.StatusCode)
	}
	var body struct {
		CountryCode string `json:"countryCode"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if body.CountryCode == "" {
		return "", fmt.Errorf("probe response missing country")
	}
	return body.CountryCode, nil
}
