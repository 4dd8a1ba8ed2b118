// Package tokens talks to the embed host's token endpoint and exchanges each
// quality's playback token for a signed media URL.
package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"wco-resolver-go/pkg/interfaces"
	"wco-resolver-go/pkg/logging"
	"wco-resolver-go/pkg/types"

	"golang.org/x/sync/errgroup"
)

// Kind classifies token client failures.
type Kind string

const (
	KindAPIUnreachable       Kind = "api_unreachable"
	KindMalformedPayload     Kind = "malformed_payload"
	KindRedirectUnresolvable Kind = "redirect_unresolvable"
)

// Error is returned by every token client operation.
type Error struct {
	Kind    Kind
	Quality types.Quality // set for exchange failures
	Detail  string
	Err     error

	transport bool // the request itself failed
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Quality != "" {
		b.WriteString(" [" + string(e.Quality) + "]")
	}
	if e.Detail != "" {
		b.WriteString(": " + e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NotFound reports whether the endpoint answered with nothing usable, as
// opposed to not answering at all.
func (e *Error) NotFound() bool {
	switch e.Kind {
	case KindMalformedPayload:
		return true
	case KindRedirectUnresolvable:
		return !e.transport
	}
	return false
}

var _ types.NotFoundError = (*Error)(nil)

// payloadFields maps token endpoint fields to quality labels.
var payloadFields = []struct {
	field   string
	quality types.Quality
}{
	{"fhd", types.Q1080p},
	{"hd", types.Q720p},
	{"enc", types.QSD},
}

// Client resolves and exchanges playback tokens.
type Client struct {
	fetcher     interfaces.PageFetcher
	concurrency int
	log         *logging.Logger
}

// New creates a token client. concurrency bounds parallel exchanges.
func New(fetcher interfaces.PageFetcher, log *logging.Logger, concurrency int) *Client {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Client{
		fetcher:     fetcher,
		concurrency: concurrency,
		log:         log.WithComponent("tokens"),
	}
}

// ResolveTokens calls the token endpoint at apiURL (already resolved against
// the iframe host) and returns the tokens it offers, best quality first.
func (c *Client) ResolveTokens(ctx context.Context, apiURL, referer string) ([]types.RawToken, error) {
	page, err := c.fetcher.Fetch(ctx, apiURL, types.FetchOptions{Referer: referer, XHR: true})
	if err != nil {
		return nil, &Error{Kind: KindAPIUnreachable, Detail: apiURL, Err: err}
	}

	tokens, err := ParseTokenPayload(page.Body)
	if err != nil {
		return nil, err
	}

	c.log.Debug("token endpoint answered", "url", apiURL, "qualities", len(tokens))
	return tokens, nil
}

// ParseTokenPayload decodes the token endpoint body. The body is a JSON
// object, possibly wrapped in a JSON string. "server" is required; each
// quality field is optional and skipped when absent or empty.
func ParseTokenPayload(body string) ([]types.RawToken, error) {
	body = strings.TrimSpace(body)
	if strings.HasPrefix(body, `"`) {
		var inner string
		if err := json.Unmarshal([]byte(body), &inner); err != nil {
			return nil, &Error{Kind: KindMalformedPayload, Detail: "quoted payload", Err: err}
		}
		body = strings.TrimSpace(inner)
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return nil, &Error{Kind: KindMalformedPayload, Detail: "not a JSON object", Err: err}
	}

	server, _ := fields["server"].(string)
	server = strings.TrimSpace(server)
	if server == "" {
		return nil, &Error{Kind: KindMalformedPayload, Detail: "missing server"}
	}

	var tokens []types.RawToken
	for _, pf := range payloadFields {
		token, _ := fields[pf.field].(string)
		if token = strings.TrimSpace(token); token == "" {
			continue
		}
		tokens = append(tokens, types.RawToken{Server: server, Quality: pf.quality, Token: token})
	}
	return tokens, nil
}

// ExchangeURL builds the redirect endpoint URL for a token.
func ExchangeURL(token types.RawToken) string {
	return strings.TrimRight(token.Server, "/") + "/getvid?evid=" + token.Token + "&json"
}

// ExchangeToken trades one token for its final media URL.
func (c *Client) ExchangeToken(ctx context.Context, token types.RawToken, referer string) (string, error) {
	page, err := c.fetcher.Fetch(ctx, ExchangeURL(token), types.FetchOptions{Referer: referer, XHR: true})
	if err != nil {
		return "", &Error{Kind: KindRedirectUnresolvable, Quality: token.Quality, Detail: "exchange request", Err: err, transport: true}
	}

	finalURL, err := UnwrapRedirectBody(page.Body)
	if err != nil {
		var tokErr *Error
		if errors.As(err, &tokErr) {
			tokErr.Quality = token.Quality
		}
		return "", err
	}
	return finalURL, nil
}

// UnwrapRedirectBody extracts the media URL from a redirect endpoint body.
// A body starting with a quote is a JSON string; anything else is taken as
// the literal URL. Both forms of the same URL yield the same result. A
// protocol-relative URL ("//host/path") is completed with https, and a
// result that is not an absolute http(s) URL is RedirectUnresolvable, so an
// error page never reaches the player as a media URL.
func UnwrapRedirectBody(body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", &Error{Kind: KindRedirectUnresolvable, Detail: "empty body"}
	}

	candidate := body
	if strings.HasPrefix(body, `"`) {
		if err := json.Unmarshal([]byte(body), &candidate); err != nil {
			return "", &Error{Kind: KindRedirectUnresolvable, Detail: "quoted body is not a JSON string", Err: err}
		}
		candidate = strings.TrimSpace(candidate)
	}

	if strings.HasPrefix(candidate, "//") {
		candidate = "https:" + candidate
	}
	parsed, err := url.Parse(candidate)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "", &Error{Kind: KindRedirectUnresolvable, Detail: fmt.Sprintf("unrecognized body %q", truncate(body, 80))}
	}
	return candidate, nil
}

// Exchange is the outcome of one quality's exchange.
type Exchange struct {
	Quality types.Quality
	URL     string
	Err     error
}

// ExchangeAll exchanges every token concurrently. A failing quality does
// not cancel the others. Results are ordered best quality first.
func (c *Client) ExchangeAll(ctx context.Context, tokens []types.RawToken, referer string) []Exchange {
	results := make([]Exchange, len(tokens))

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, token := range tokens {
		g.Go(func() error {
			finalURL, err := c.ExchangeToken(ctx, token, referer)
			results[i] = Exchange{Quality: token.Quality, URL: finalURL, Err: err}
			if err != nil {
				c.log.Warn("token exchange failed", "quality", token.Quality, "error", err)
			}
			return nil
		})
	}
	g.Wait()

	slices.SortStableFunc(results, func(a, b Exchange) int {
		return a.Quality.Rank() - b.Quality.Rank()
	})
	return results
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
