// Package config handles application configuration from defaults, environment
// variables, an optional config file and command line flags.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. WCO_BASE_DOMAIN.
const EnvPrefix = "WCO"

// EnvKeyReplacer maps nested keys to environment variable names.
var EnvKeyReplacer = strings.NewReplacer(".", "_")

// Resolution strategies.
const (
	StrategyHTTP    = "http"
	StrategyBrowser = "browser"
	StrategyAuto    = "auto"
)

// Browser backends.
const (
	BackendChrome       = "chrome"
	BackendFlareSolverr = "flaresolverr"
)

// DefaultUserAgent is the desktop Firefox UA the origin expects.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:146.0) Gecko/20100101 Firefox/146.0"

// Config holds all application configuration.
type Config struct {
	// Resolution settings
	BaseDomain          string
	UserAgent           string
	RequestTimeout      time.Duration
	ResolveTimeout      time.Duration
	MaxRedirects        int
	Strategy            string
	ExchangeConcurrency int
	ScanLinkedScripts   bool
	MaxLinkedScripts    int

	// Transport settings
	FingerprintDomains []string
	GlobalProxies      []string
	TransportRoutes    []TransportRoute

	Browser      BrowserConfig
	FlareSolverr FlareSolverrConfig
	Mirrors      MirrorsConfig
	Positions    PositionsConfig

	// Server settings
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Authentication
	APIPassword string

	// Logging
	LogLevel string
	LogJSON  bool
}

// BrowserConfig configures the browser-backed renderer.
type BrowserConfig struct {
	Backend             string
	ExecPath            string
	Headless            bool
	PollInterval        time.Duration
	MaxPollAttempts     int
	IframeGraceAttempts int
	MaxDepth            int
}

// FlareSolverrConfig configures the remote browser service.
type FlareSolverrConfig struct {
	URL     string
	Timeout time.Duration
}

// MirrorsConfig configures the domain status service.
type MirrorsConfig struct {
	URL        string
	AutoSelect bool
}

// PositionsConfig configures the playback position store.
type PositionsConfig struct {
	Path     string
	Lifetime time.Duration
}

// TransportRoute defines URL-specific proxy routing.
type TransportRoute struct {
	URLPattern string
	Proxy      string
	DisableSSL bool
	Direct     bool // If true, bypass global proxy and connect directly
}

// Defaults lists every known key with its factory value.
var Defaults = map[string]any{
	"base_domain":                   "https://www.wcoflix.tv",
	"user_agent":                    DefaultUserAgent,
	"request_timeout":               "10s",
	"resolve_timeout":               "90s",
	"max_redirects":                 10,
	"strategy":                      StrategyAuto,
	"exchange_concurrency":          3,
	"scan_linked_scripts":           false,
	"max_linked_scripts":            5,
	"fingerprint_domains":           "",
	"global_proxies":                "",
	"transport_routes":              "",
	"browser.backend":               BackendChrome,
	"browser.exec_path":             "",
	"browser.headless":              true,
	"browser.poll_interval":         "300ms",
	"browser.max_poll_attempts":     100,
	"browser.iframe_grace_attempts": 15,
	"browser.max_depth":             2,
	"flaresolverr.url":              "",
	"flaresolverr.timeout":          "60s",
	"mirrors.url":                   "https://www.wcostatus.com/check.php",
	"mirrors.auto_select":           false,
	"positions.path":                "",
	"positions.lifetime":            "720h",
	"port":                          7860,
	"api_password":                  "",
	"read_timeout":                  "30s",
	"write_timeout":                 "120s",
	"idle_timeout":                  "60s",
	"log.level":                     "info",
	"log.json":                      false,
}

// NewViper returns a viper instance with defaults and environment bindings.
// Command line flags may be bound to it before calling Load.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(EnvKeyReplacer)

	for key, value := range Defaults {
		v.SetDefault(key, value)
		v.MustBindEnv(key)
	}
	return v
}

// Load builds a Config from v. If configFile is non-empty it is read first.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if v == nil {
		v = NewViper()
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config %s: %w", configFile, err)
			}
		}
	}

	cfg := &Config{
		BaseDomain:          strings.TrimRight(strings.TrimSpace(v.GetString("base_domain")), "/"),
		UserAgent:           v.GetString("user_agent"),
		MaxRedirects:        v.GetInt("max_redirects"),
		Strategy:            strings.ToLower(v.GetString("strategy")),
		ExchangeConcurrency: v.GetInt("exchange_concurrency"),
		ScanLinkedScripts:   v.GetBool("scan_linked_scripts"),
		MaxLinkedScripts:    v.GetInt("max_linked_scripts"),
		FingerprintDomains:  getStringSlice(v, "fingerprint_domains"),
		GlobalProxies:       getStringSlice(v, "global_proxies"),
		TransportRoutes:     parseTransportRoutes(v.GetString("transport_routes")),
		Browser: BrowserConfig{
			Backend:             strings.ToLower(v.GetString("browser.backend")),
			ExecPath:            v.GetString("browser.exec_path"),
			Headless:            v.GetBool("browser.headless"),
			MaxPollAttempts:     v.GetInt("browser.max_poll_attempts"),
			IframeGraceAttempts: v.GetInt("browser.iframe_grace_attempts"),
			MaxDepth:            v.GetInt("browser.max_depth"),
		},
		FlareSolverr: FlareSolverrConfig{
			URL: v.GetString("flaresolverr.url"),
		},
		Mirrors: MirrorsConfig{
			URL:        v.GetString("mirrors.url"),
			AutoSelect: v.GetBool("mirrors.auto_select"),
		},
		Positions: PositionsConfig{
			Path: v.GetString("positions.path"),
		},
		Port:        v.GetInt("port"),
		APIPassword: v.GetString("api_password"),
		LogLevel:    v.GetString("log.level"),
		LogJSON:     v.GetBool("log.json"),
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"request_timeout", &cfg.RequestTimeout},
		{"resolve_timeout", &cfg.ResolveTimeout},
		{"browser.poll_interval", &cfg.Browser.PollInterval},
		{"flaresolverr.timeout", &cfg.FlareSolverr.Timeout},
		{"positions.lifetime", &cfg.Positions.Lifetime},
		{"read_timeout", &cfg.ReadTimeout},
		{"write_timeout", &cfg.WriteTimeout},
		{"idle_timeout", &cfg.IdleTimeout},
	}
	for _, d := range durations {
		val, err := getDuration(v, d.key)
		if err != nil {
			return nil, err
		}
		*d.dst = val
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerated and numeric settings.
func (c *Config) Validate() error {
	if !lo.Contains([]string{StrategyHTTP, StrategyBrowser, StrategyAuto}, c.Strategy) {
		return fmt.Errorf("invalid strategy %q: want http, browser or auto", c.Strategy)
	}
	if !lo.Contains([]string{BackendChrome, BackendFlareSolverr}, c.Browser.Backend) {
		return fmt.Errorf("invalid browser backend %q: want chrome or flaresolverr", c.Browser.Backend)
	}
	if c.Browser.Backend == BackendFlareSolverr && c.FlareSolverr.URL == "" && c.Strategy != StrategyHTTP {
		return fmt.Errorf("browser backend flaresolverr requires flaresolverr.url")
	}
	if c.ExchangeConcurrency < 1 {
		return fmt.Errorf("exchange_concurrency must be at least 1, got %d", c.ExchangeConcurrency)
	}
	if c.MaxRedirects < 0 {
		return fmt.Errorf("max_redirects must not be negative, got %d", c.MaxRedirects)
	}
	if c.Browser.MaxPollAttempts < 1 {
		return fmt.Errorf("browser.max_poll_attempts must be at least 1, got %d", c.Browser.MaxPollAttempts)
	}
	if c.Browser.PollInterval <= 0 {
		return fmt.Errorf("browser.poll_interval must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user_agent must not be empty")
	}
	return nil
}

// PollTimeout is the longest a single browser render may poll.
func (b BrowserConfig) PollTimeout() time.Duration {
	return time.Duration(b.MaxPollAttempts) * b.PollInterval
}

// parseTransportRoutes parses the transport_routes setting.
// Format: {URL=pattern, PROXY=url, DISABLE_SSL=true}, {URL=pattern2}
func parseTransportRoutes(s string) []TransportRoute {
	if s == "" {
		return nil
	}

	var routes []TransportRoute
	s = strings.TrimSpace(s)

	parts := strings.Split(s, "}, {")
	for _, part := range parts {
		part = strings.Trim(part, "{} ")
		if part == "" {
			continue
		}

		route := TransportRoute{}
		for _, field := range strings.Split(part, ", ") {
			key, value, ok := strings.Cut(field, "=")
			if !ok {
				continue
			}
			key = strings.TrimSpace(key)
			value = strings.TrimSpace(value)

			switch strings.ToUpper(key) {
			case "URL":
				route.URLPattern = value
			case "PROXY":
				route.Proxy = value
			case "DISABLE_SSL":
				route.DisableSSL = strings.EqualFold(value, "true")
			case "DIRECT":
				route.Direct = strings.EqualFold(value, "true")
			}
		}
		if route.URLPattern != "" {
			routes = append(routes, route)
		}
	}

	return routes
}

// getDuration accepts Go duration strings ("90s") or bare integers as seconds.
func getDuration(v *viper.Viper, key string) (time.Duration, error) {
	switch val := v.Get(key).(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return val, nil
	case int:
		return time.Duration(val) * time.Second, nil
	case int64:
		return time.Duration(val) * time.Second, nil
	case float64:
		return time.Duration(val * float64(time.Second)), nil
	case string:
		val = strings.TrimSpace(val)
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second, nil
		}
		d, err := time.ParseDuration(val)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q", key, val)
		}
		return d, nil
	default:
		return 0, fmt.Errorf("invalid duration for %s: %v", key, val)
	}
}

// getStringSlice reads comma separated strings from env/flags or a list from a file.
func getStringSlice(v *viper.Viper, key string) []string {
	var parts []string
	switch val := v.Get(key).(type) {
	case string:
		parts = strings.Split(val, ",")
	case []string:
		parts = val
	case []any:
		parts = lo.Map(val, func(item any, _ int) string { return fmt.Sprint(item) })
	default:
		parts = v.GetStringSlice(key)
	}
	parts = lo.Map(parts, func(p string, _ int) string { return strings.TrimSpace(p) })
	return lo.Compact(parts)
}
