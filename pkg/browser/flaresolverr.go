package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"wco-resolver-go/pkg/interfaces"
	"wco-resolver-go/pkg/logging"
	"wco-resolver-go/pkg/types"

	"github.com/samber/mo"
)

// flareRequest is the request body of the FlareSolverr v1 API.
type flareRequest struct {
	Cmd           string `json:"cmd"`
	URL           string `json:"url"`
	MaxTimeout    int    `json:"maxTimeout"`
	WaitInSeconds int    `json:"waitInSeconds,omitempty"`
	Session       string `json:"session,omitempty"`
}

// flareSolution is the rendered page FlareSolverr returns.
type flareSolution struct {
	URL       string `json:"url"`
	Status    int    `json:"status"`
	Response  string `json:"response"`
	UserAgent string `json:"userAgent"`
}

type flareResponse struct {
	Status   string        `json:"status"`
	Message  string        `json:"message"`
	Version  string        `json:"version"`
	Solution flareSolution `json:"solution"`
}

// FlareOptions configures the FlareSolverr backend.
type FlareOptions struct {
	BaseURL string
	Timeout time.Duration
	// Wait is how long FlareSolverr keeps the page open after load so the
	// player script can populate the DOM.
	Wait time.Duration
}

// FlareRenderer renders pages through a FlareSolverr instance. FlareSolverr
// cannot run custom scripts, so the settle conditions are evaluated on the
// returned markup.
type FlareRenderer struct {
	opts       FlareOptions
	httpClient interfaces.HTTPClient
	log        *logging.Logger
}

// NewFlareRenderer creates a FlareSolverr-backed renderer.
func NewFlareRenderer(opts FlareOptions, log *logging.Logger) *FlareRenderer {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	return &FlareRenderer{
		opts: opts,
		httpClient: &http.Client{
			Timeout: opts.Timeout + opts.Wait + 10*time.Second,
		},
		log: log.WithComponent("flaresolverr"),
	}
}

// IsConfigured reports whether a FlareSolverr URL is set.
func (r *FlareRenderer) IsConfigured() bool {
	return r.opts.BaseURL != ""
}

// Render fetches url through FlareSolverr. The referer cannot be forced
// through the v1 API and is only logged.
func (r *FlareRenderer) Render(ctx context.Context, url, referer string) (*types.RenderResult, error) {
	if !r.IsConfigured() {
		return nil, loadFailed(url, "flaresolverr url not configured", nil)
	}
	r.log.Debug("rendering via FlareSolverr", "url", url, "referer", referer)

	start := time.Now()
	resp, err := r.get(ctx, url)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, loadFailed(url, "flaresolverr request failed", err)
	}
	if resp.Solution.Status >= http.StatusBadRequest {
		return nil, loadFailed(url, fmt.Sprintf("origin returned HTTP %d", resp.Solution.Status), nil)
	}

	videoSrc, matched := settledOffline(resp.Solution.Response)

	return &types.RenderResult{
		URL:            url,
		HTML:           resp.Solution.Response,
		DirectVideoURL: mo.EmptyableToOption(videoSrc),
		Matched:        matched,
		Attempts:       1,
		Elapsed:        time.Since(start),
	}, nil
}

func (r *FlareRenderer) get(ctx context.Context, targetURL string) (*flareResponse, error) {
	body, err := json.Marshal(flareRequest{
		Cmd:           "request.get",
		URL:           targetURL,
		MaxTimeout:    int(r.opts.Timeout.Milliseconds()),
		WaitInSeconds: int(r.opts.Wait.Seconds()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := strings.TrimRight(r.opts.BaseURL, "/") + "/v1"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("FlareSolverr returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var fsResp flareResponse
	if err := json.Unmarshal(respBody, &fsResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if fsResp.Status != "ok" {
		return nil, fmt.Errorf("FlareSolverr error: %s", fsResp.Message)
	}

	r.log.Debug("FlareSolverr request successful",
		"url", targetURL,
		"status", fsResp.Solution.Status,
		"response_length", len(fsResp.Solution.Response))

	return &fsResp, nil
}

// Close is a no-op; FlareSolverr manages its own browsers.
func (r *FlareRenderer) Close() error {
	return nil
}

var _ interfaces.Renderer = (*FlareRenderer)(nil)
