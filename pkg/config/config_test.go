package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(NewViper(), "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BaseDomain != "https://www.wcoflix.tv" {
		t.Errorf("BaseDomain = %q", cfg.BaseDomain)
	}
	if cfg.UserAgent != DefaultUserAgent {
		t.Errorf("UserAgent = %q", cfg.UserAgent)
	}
	if cfg.Strategy != StrategyAuto {
		t.Errorf("Strategy = %q", cfg.Strategy)
	}
	if cfg.Browser.PollInterval != 300*time.Millisecond {
		t.Errorf("PollInterval = %v", cfg.Browser.PollInterval)
	}
	if cfg.Browser.MaxPollAttempts != 100 || cfg.Browser.IframeGraceAttempts != 15 {
		t.Errorf("poll attempts = %d/%d", cfg.Browser.MaxPollAttempts, cfg.Browser.IframeGraceAttempts)
	}
	if got := cfg.Browser.PollTimeout(); got != 30*time.Second {
		t.Errorf("PollTimeout() = %v, want 30s", got)
	}
	if cfg.RequestTimeout != 10*time.Second {
		t.Errorf("RequestTimeout = %v", cfg.RequestTimeout)
	}
	if cfg.ResolveTimeout != 90*time.Second {
		t.Errorf("ResolveTimeout = %v", cfg.ResolveTimeout)
	}
	if cfg.ScanLinkedScripts {
		t.Error("ScanLinkedScripts should be off by default")
	}
	if len(cfg.GlobalProxies) != 0 || len(cfg.TransportRoutes) != 0 {
		t.Errorf("expected no proxies or routes by default")
	}
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("WCO_BASE_DOMAIN", "https://mirror.example.com/")
	t.Setenv("WCO_STRATEGY", "HTTP")
	t.Setenv("WCO_REQUEST_TIMEOUT", "45")
	t.Setenv("WCO_BROWSER_POLL_INTERVAL", "250ms")
	t.Setenv("WCO_GLOBAL_PROXIES", "socks5://a:1080, http://b:8080,")
	t.Setenv("WCO_LOG_JSON", "true")

	cfg, err := Load(NewViper(), "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BaseDomain != "https://mirror.example.com" {
		t.Errorf("BaseDomain = %q, want trailing slash trimmed", cfg.BaseDomain)
	}
	if cfg.Strategy != StrategyHTTP {
		t.Errorf("Strategy = %q", cfg.Strategy)
	}
	if cfg.RequestTimeout != 45*time.Second {
		t.Errorf("RequestTimeout = %v, want 45s", cfg.RequestTimeout)
	}
	if cfg.Browser.PollInterval != 250*time.Millisecond {
		t.Errorf("PollInterval = %v", cfg.Browser.PollInterval)
	}
	if len(cfg.GlobalProxies) != 2 || cfg.GlobalProxies[1] != "http://b:8080" {
		t.Errorf("GlobalProxies = %v", cfg.GlobalProxies)
	}
	if !cfg.LogJSON {
		t.Error("LogJSON should be true")
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wco.yaml")
	content := `
strategy: browser
browser:
  backend: flaresolverr
  max_depth: 3
flaresolverr:
  url: http://localhost:8191
  timeout: 90s
fingerprint_domains:
  - wcoflix.tv
  - embed.example.com
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(NewViper(), path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Strategy != StrategyBrowser || cfg.Browser.Backend != BackendFlareSolverr {
		t.Errorf("strategy/backend = %s/%s", cfg.Strategy, cfg.Browser.Backend)
	}
	if cfg.Browser.MaxDepth != 3 {
		t.Errorf("MaxDepth = %d", cfg.Browser.MaxDepth)
	}
	if cfg.FlareSolverr.Timeout != 90*time.Second {
		t.Errorf("FlareSolverr.Timeout = %v", cfg.FlareSolverr.Timeout)
	}
	if len(cfg.FingerprintDomains) != 2 || cfg.FingerprintDomains[0] != "wcoflix.tv" {
		t.Errorf("FingerprintDomains = %v", cfg.FingerprintDomains)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"unknown strategy", "WCO_STRATEGY", "magic"},
		{"unknown backend", "WCO_BROWSER_BACKEND", "firefox"},
		{"flaresolverr without url", "WCO_BROWSER_BACKEND", "flaresolverr"},
		{"zero concurrency", "WCO_EXCHANGE_CONCURRENCY", "0"},
		{"bad duration", "WCO_READ_TIMEOUT", "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			if _, err := Load(NewViper(), ""); err == nil {
				t.Errorf("expected error for %s=%s", tt.key, tt.val)
			}
		})
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	if _, err := Load(NewViper(), filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for an explicit config file that does not exist")
	}
}

func TestParseTransportRoutes(t *testing.T) {
	routes := parseTransportRoutes("{URL=wcoflix.tv, PROXY=socks5://127.0.0.1:1080}, {URL=cdn.example.com, DIRECT=true, DISABLE_SSL=true}, {PROXY=http://x}")

	if len(routes) != 2 {
		t.Fatalf("expected 2 routes, got %d: %+v", len(routes), routes)
	}
	if routes[0].URLPattern != "wcoflix.tv" || routes[0].Proxy != "socks5://127.0.0.1:1080" {
		t.Errorf("route 0 = %+v", routes[0])
	}
	if !routes[1].Direct || !routes[1].DisableSSL {
		t.Errorf("route 1 = %+v", routes[1])
	}
	if parseTransportRoutes("") != nil {
		t.Error("empty input should yield nil")
	}
}
