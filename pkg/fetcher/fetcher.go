// Package fetcher issues the page and API requests of the resolution
// pipeline with a consistent browser-like header set.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"wco-resolver-go/pkg/httpclient"
	"wco-resolver-go/pkg/interfaces"
	"wco-resolver-go/pkg/logging"
	"wco-resolver-go/pkg/types"
)

// maxBodySize caps how much of a response body is read.
const maxBodySize = 8 << 20

// NetworkError reports a transport failure or a non-2xx response.
type NetworkError struct {
	URL     string
	Status  int // 0 when no response was received
	Message string
	Err     error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("GET %s: HTTP %d", e.URL, e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("GET %s: %s: %v", e.URL, e.Message, e.Err)
	}
	return fmt.Sprintf("GET %s: %s", e.URL, e.Message)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Fetcher performs GET requests with a fixed user agent.
type Fetcher struct {
	client    interfaces.HTTPClient
	userAgent string
	log       *logging.Logger
}

// New creates a Fetcher. client is usually an *httpclient.Client.
func New(client interfaces.HTTPClient, userAgent string, log *logging.Logger) *Fetcher {
	return &Fetcher{
		client:    client,
		userAgent: userAgent,
		log:       log.WithComponent("fetcher"),
	}
}

// Fetch GETs rawURL and returns its body. Non-2xx statuses are errors.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, opts types.FetchOptions) (*types.Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &NetworkError{URL: rawURL, Message: "invalid request", Err: err}
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	if opts.XHR {
		req.Header.Set("Accept", "application/json, text/javascript, */*; q=0.01")
		req.Header.Set("X-Requested-With", "XMLHttpRequest")
	}
	if opts.Referer != "" {
		req.Header.Set("Referer", opts.Referer)
	}
	for key, value := range httpclient.FilteredHeaders(opts.Headers) {
		req.Header.Set(key, value)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: rawURL, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &NetworkError{URL: rawURL, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &NetworkError{URL: rawURL, Message: "read body", Err: err}
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	f.log.Debug("fetched page", "url", finalURL, "status", resp.StatusCode, "bytes", len(body))

	return &types.Page{URL: finalURL, Body: string(body)}, nil
}

var _ interfaces.PageFetcher = (*Fetcher)(nil)
