// Package mirrors queries the domain status service that lists the site's
// currently reachable mirrors.
package mirrors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"wco-resolver-go/pkg/interfaces"
	"wco-resolver-go/pkg/logging"
	"wco-resolver-go/pkg/types"

	"github.com/samber/lo"
)

// DefaultStatusURL is the public status endpoint.
const DefaultStatusURL = "https://www.wcostatus.com/check.php"

// Client fetches mirror status.
type Client struct {
	client    interfaces.HTTPClient
	statusURL string
	userAgent string
	log       *logging.Logger
}

// NewClient creates a mirror status client. An empty statusURL selects
// DefaultStatusURL.
func NewClient(client interfaces.HTTPClient, statusURL, userAgent string, log *logging.Logger) *Client {
	if statusURL == "" {
		statusURL = DefaultStatusURL
	}
	return &Client{
		client:    client,
		statusURL: statusURL,
		userAgent: userAgent,
		log:       log.WithComponent("mirrors"),
	}
}

// Fetch returns every entry the status service reports, reachable or not.
func (c *Client) Fetch(ctx context.Context) ([]types.Mirror, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.statusURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch mirror status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mirror status returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read mirror status: %w", err)
	}
	return ParseStatus(body)
}

// ParseStatus decodes the status service's JSON array. Status may be a
// number or a numeric string; entries it cannot read get status 0.
func ParseStatus(body []byte) ([]types.Mirror, error) {
	var entries []map[string]any
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decode mirror status: %w", err)
	}

	return lo.Map(entries, func(entry map[string]any, _ int) types.Mirror {
		domain, _ := entry["domain"].(string)
		return types.Mirror{Status: statusOf(entry["status"]), Domain: strings.TrimSpace(domain)}
	}), nil
}

func statusOf(v any) int {
	switch s := v.(type) {
	case float64:
		return int(s)
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(s))
		return n
	default:
		return 0
	}
}

// Available returns the domains currently answering 200, in service order.
func (c *Client) Available(ctx context.Context) ([]string, error) {
	all, err := c.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	domains := Reachable(all)
	c.log.Debug("mirror status", "reported", len(all), "available", len(domains))
	return domains, nil
}

// Reachable keeps mirrors with status 200 and an http(s) domain.
func Reachable(all []types.Mirror) []string {
	return lo.FilterMap(all, func(m types.Mirror, _ int) (string, bool) {
		return strings.TrimRight(m.Domain, "/"), m.Status == http.StatusOK && strings.HasPrefix(m.Domain, "http")
	})
}
