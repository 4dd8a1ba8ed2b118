// Package streams relays resolved media through the server, so players that
// cannot set request headers still send the ones a quality requires. HLS
// playlists are rewritten so their segments come back through the relay.
package streams

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"wco-resolver-go/pkg/httpclient"
	"wco-resolver-go/pkg/interfaces"
	"wco-resolver-go/pkg/logging"
)

const maxPlaylistBytes = 4 << 20

// Request is one relayed fetch.
type Request struct {
	URL     string
	Headers map[string]string
	Range   string
}

// Response is what the relay hands back to the player. Body is nil when the
// upstream status is passed through without content.
type Response struct {
	StatusCode  int
	ContentType string
	Headers     map[string]string
	Body        io.ReadCloser
}

// Relay fetches media with the headers a quality requires.
type Relay struct {
	client    interfaces.HTTPClient
	userAgent string
	log       *logging.Logger
}

// NewRelay creates a relay. userAgent is sent when the caller supplies none.
func NewRelay(client interfaces.HTTPClient, userAgent string, log *logging.Logger) *Relay {
	return &Relay{
		client:    client,
		userAgent: userAgent,
		log:       log.WithComponent("relay"),
	}
}

// Open fetches req.URL. Playlists are read whole and rewritten against
// relayBase; anything else is streamed with its range headers intact.
func (r *Relay) Open(ctx context.Context, req Request, relayBase string) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for key, value := range httpclient.FilteredHeaders(req.Headers) {
		httpReq.Header.Set(key, value)
	}
	if httpReq.Header.Get("User-Agent") == "" && r.userAgent != "" {
		httpReq.Header.Set("User-Agent", r.userAgent)
	}
	if req.Range != "" {
		httpReq.Header.Set("Range", req.Range)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch media: %w", err)
	}

	r.log.Debug("relay upstream answered", "url", req.URL, "status", resp.StatusCode)

	contentType := resp.Header.Get("Content-Type")
	if IsPlaylist(req.URL, contentType) {
		return r.playlist(resp, req, relayBase)
	}

	if contentType == "" {
		contentType = guessContentType(req.URL)
	}
	headers := map[string]string{"Accept-Ranges": "bytes"}
	for _, key := range []string{"Content-Length", "Content-Range", "Last-Modified", "ETag"} {
		if value := resp.Header.Get(key); value != "" {
			headers[key] = value
		}
	}

	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Headers:     headers,
		Body:        resp.Body,
	}, nil
}

func (r *Relay) playlist(resp *http.Response, req Request, relayBase string) (*Response, error) {
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		r.log.Warn("playlist fetch failed", "url", req.URL, "status", resp.StatusCode)
		return &Response{StatusCode: resp.StatusCode}, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPlaylistBytes))
	if err != nil {
		return nil, fmt.Errorf("read playlist: %w", err)
	}

	// Relative segment paths are relative to where the playlist ended up.
	playlistURL := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		playlistURL = resp.Request.URL.String()
	}

	rewritten, err := RewritePlaylist(body, playlistURL, relayBase, req.Headers)
	if err != nil {
		return nil, fmt.Errorf("rewrite playlist: %w", err)
	}

	return &Response{
		StatusCode:  http.StatusOK,
		ContentType: "application/vnd.apple.mpegurl",
		Headers: map[string]string{
			"Cache-Control": "no-cache, no-store, must-revalidate",
		},
		Body: io.NopCloser(bytes.NewReader(rewritten)),
	}, nil
}

var contentTypes = map[string]string{
	".mp4":  "video/mp4",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".ts":   "video/MP2T",
	".m4s":  "video/iso.segment",
	".m4v":  "video/x-m4v",
	".mov":  "video/quicktime",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".key":  "application/octet-stream",
}

// guessContentType guesses the content type from the path extension.
func guessContentType(urlStr string) string {
	if idx := strings.IndexAny(urlStr, "?#"); idx >= 0 {
		urlStr = urlStr[:idx]
	}
	if ct, ok := contentTypes[strings.ToLower(path.Ext(urlStr))]; ok {
		return ct
	}
	return "application/octet-stream"
}
