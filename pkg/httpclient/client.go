// Package httpclient provides the outbound HTTP client used for every request
// to the streaming site, its embed hosts and the mirror status service.
package httpclient

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"wco-resolver-go/pkg/config"
	"wco-resolver-go/pkg/logging"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
	"golang.org/x/net/proxy"
)

// Route names the transport a request was sent through.
type Route string

const (
	RouteDefault     Route = "default"
	RouteFingerprint Route = "fingerprint"
	RouteTransport   Route = "transport_route"
	RouteGlobalProxy Route = "global_proxy"
)

// Client wraps http.Client with TLS fingerprinting, proxy routing and
// bounded redirects.
type Client struct {
	defaultClient     *http.Client
	fingerprintClient *http.Client // Firefox-like TLS hello, matches the spoofed UA
	proxyClients      map[string]*http.Client
	routes            []config.TransportRoute
	globalProxies     []string
	fingerprintHosts  []string
	maxRedirects      int
	timeout           time.Duration
	mu                sync.RWMutex
	log               *logging.Logger
}

// dialContext forces IPv4 connections.
func dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if network == "tcp" {
		network = "tcp4"
	}
	d := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 60 * time.Second,
	}
	return d.DialContext(ctx, network, addr)
}

// New creates a new HTTP client with the given configuration.
func New(cfg *config.Config, log *logging.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &Client{
		proxyClients:     make(map[string]*http.Client),
		routes:           cfg.TransportRoutes,
		globalProxies:    cfg.GlobalProxies,
		fingerprintHosts: lowerAll(cfg.FingerprintDomains),
		maxRedirects:     cfg.MaxRedirects,
		timeout:          timeout,
		log:              log.WithComponent("httpclient"),
	}

	c.defaultClient = c.wrap(&http.Transport{
		DialContext:           dialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: timeout,
	})
	c.fingerprintClient = c.wrap(newFingerprintRoundTripper())

	return c
}

// NewStreaming creates a client with the same routing but no overall request
// timeout, for media bodies that outlive request_timeout. Response headers
// are still bounded on the default route; callers bound the rest with ctx.
func NewStreaming(cfg *config.Config, log *logging.Logger) *Client {
	c := New(cfg, log)
	c.timeout = 0
	c.defaultClient.Timeout = 0
	c.fingerprintClient.Timeout = 0
	return c
}

// wrap builds an http.Client around rt with the shared timeout and redirect policy.
func (c *Client) wrap(rt http.RoundTripper) *http.Client {
	return &http.Client{
		Transport:     rt,
		Timeout:       c.timeout,
		CheckRedirect: c.checkRedirect,
	}
}

func (c *Client) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) > c.maxRedirects {
		return fmt.Errorf("stopped after %d redirects", c.maxRedirects)
	}
	return nil
}

// fingerprintRoundTripper speaks TLS with a Firefox client hello and
// negotiates HTTP/2 when the server offers it.
type fingerprintRoundTripper struct {
	dialer      *net.Dialer
	h2Transport *http2.Transport
}

func newFingerprintRoundTripper() *fingerprintRoundTripper {
	return &fingerprintRoundTripper{
		dialer: &net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 60 * time.Second,
		},
		h2Transport: &http2.Transport{},
	}
}

func (t *fingerprintRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return http.DefaultTransport.RoundTrip(req)
	}

	addr := req.URL.Host
	if req.URL.Port() == "" {
		addr = net.JoinHostPort(req.URL.Hostname(), "443")
	}

	conn, err := t.dialer.DialContext(req.Context(), "tcp4", addr)
	if err != nil {
		return nil, err
	}

	tlsConn := utls.UClient(conn, &utls.Config{ServerName: req.URL.Hostname()}, utls.HelloFirefox_120)
	if err := tlsConn.HandshakeContext(req.Context()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", req.URL.Hostname(), err)
	}

	if tlsConn.ConnectionState().NegotiatedProtocol == "h2" {
		h2Conn, err := t.h2Transport.NewClientConn(tlsConn)
		if err != nil {
			tlsConn.Close()
			return nil, err
		}
		resp, err := h2Conn.RoundTrip(req)
		if err != nil {
			tlsConn.Close()
			return nil, err
		}
		resp.Body = &connCloser{resp.Body, tlsConn}
		return resp, nil
	}

	return roundTripHTTP1(tlsConn, req)
}

func roundTripHTTP1(conn net.Conn, req *http.Request) (*http.Response, error) {
	if err := req.Write(conn); err != nil {
		conn.Close()
		return nil, err
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		conn.Close()
		return nil, err
	}

	resp.Body = &connCloser{resp.Body, conn}
	return resp, nil
}

// connCloser closes the one-shot connection together with the body.
type connCloser struct {
	io.ReadCloser
	conn net.Conn
}

func (c *connCloser) Close() error {
	c.ReadCloser.Close()
	return c.conn.Close()
}

// needsFingerprint reports whether the target host is one of the configured
// fingerprint domains or a subdomain of one.
func (c *Client) needsFingerprint(target *url.URL) bool {
	host := strings.ToLower(target.Hostname())
	for _, domain := range c.fingerprintHosts {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// Do executes an HTTP request, routing through proxies as configured.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	route, client := c.clientFor(req.URL)
	c.log.Debug("outbound request", "url", req.URL.String(), "route", route)
	return client.Do(req)
}

// clientFor picks the client for a URL. Precedence: fingerprint domains,
// transport routes, global proxy, default.
func (c *Client) clientFor(target *url.URL) (Route, *http.Client) {
	if c.needsFingerprint(target) {
		return RouteFingerprint, c.fingerprintClient
	}

	raw := target.String()
	for _, route := range c.routes {
		if !strings.Contains(raw, route.URLPattern) {
			continue
		}
		switch {
		case route.Direct && route.DisableSSL:
			return RouteTransport, c.proxyClient("", true)
		case route.Direct:
			return RouteTransport, c.defaultClient
		case route.Proxy != "":
			return RouteTransport, c.proxyClient(route.Proxy, route.DisableSSL)
		case route.DisableSSL:
			return RouteTransport, c.proxyClient("", true)
		}
	}

	if len(c.globalProxies) > 0 {
		return RouteGlobalProxy, c.proxyClient(c.globalProxies[0], false)
	}

	return RouteDefault, c.defaultClient
}

// proxyClient returns a cached proxy client or creates a new one.
func (c *Client) proxyClient(proxyURL string, disableSSL bool) *http.Client {
	cacheKey := proxyURL
	if disableSSL {
		cacheKey += ":insecure"
	}

	c.mu.RLock()
	if client, ok := c.proxyClients[cacheKey]; ok {
		c.mu.RUnlock()
		return client
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.proxyClients[cacheKey]; ok {
		return client
	}

	client := c.newProxyClient(proxyURL, disableSSL)
	c.proxyClients[cacheKey] = client
	c.log.Debug("created proxy client", "proxy", proxyURL, "disable_ssl", disableSSL)

	return client
}

func (c *Client) newProxyClient(proxyURL string, disableSSL bool) *http.Client {
	transport := &http.Transport{
		DialContext:           dialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if disableSSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	if proxyURL == "" {
		return c.wrap(transport)
	}

	parsed, err := url.Parse(proxyURL)
	if err != nil {
		c.log.Error("failed to parse proxy URL", "url", proxyURL, "error", err)
		return c.defaultClient
	}

	switch parsed.Scheme {
	case "socks5", "socks5h":
		dialer, err := proxy.FromURL(parsed, proxy.Direct)
		if err != nil {
			c.log.Error("failed to create SOCKS5 dialer", "error", err)
			return c.defaultClient
		}
		if contextDialer, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = contextDialer.DialContext
		} else {
			transport.Dial = dialer.Dial
		}
	case "http", "https":
		transport.Proxy = http.ProxyURL(parsed)
	default:
		c.log.Warn("unsupported proxy scheme", "scheme", parsed.Scheme)
		return c.defaultClient
	}

	return c.wrap(transport)
}

// FilteredHeaders drops hop-by-hop and identifying headers from caller
// supplied request headers.
func FilteredHeaders(headers map[string]string) map[string]string {
	blocked := map[string]bool{
		"x-forwarded-for": true,
		"x-real-ip":       true,
		"forwarded":       true,
		"via":             true,
		"host":            true,
		"connection":      true,
		"accept-encoding": true,
		"content-length":  true,
	}

	filtered := make(map[string]string, len(headers))
	for key, value := range headers {
		if !blocked[strings.ToLower(key)] {
			filtered[key] = value
		}
	}
	return filtered
}

// ParseHeaderParams reads h_ prefixed query parameters as request headers.
// Underscores in the name become hyphens, so h_User_Agent is User-Agent.
func ParseHeaderParams(query url.Values) map[string]string {
	headers := make(map[string]string)
	for key, values := range query {
		if strings.HasPrefix(key, "h_") && len(values) > 0 {
			headers[strings.ReplaceAll(key[2:], "_", "-")] = values[0]
		}
	}
	return headers
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
