// Package types defines core domain types used throughout the application.
package types

import (
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/samber/mo"
)

// EpisodeRef identifies the episode page to resolve.
// PageURL may be absolute or relative to BaseDomain.
type EpisodeRef struct {
	PageURL    string `json:"page_url"`
	BaseDomain string `json:"base_domain"`
}

// AbsoluteURL returns the page URL normalized to an absolute URL.
func (r EpisodeRef) AbsoluteURL() (string, error) {
	page := strings.TrimSpace(r.PageURL)
	if page == "" {
		return "", fmt.Errorf("episode page URL is empty")
	}

	switch {
	case strings.HasPrefix(page, "http://"), strings.HasPrefix(page, "https://"):
		return page, nil
	case strings.HasPrefix(page, "//"):
		return "https:" + page, nil
	}

	base := strings.TrimRight(strings.TrimSpace(r.BaseDomain), "/")
	if base == "" {
		return "", fmt.Errorf("relative page URL %q without a base domain", page)
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	if !strings.HasPrefix(page, "/") {
		page = "/" + page
	}
	return base + page, nil
}

// Quality is a resolution tier label offered by the origin.
type Quality string

const (
	Q1080p Quality = "1080p"
	Q720p  Quality = "720p"
	QSD    Quality = "SD"
)

// Rank orders qualities by preference, highest first.
func (q Quality) Rank() int {
	switch q {
	case Q1080p:
		return 0
	case Q720p:
		return 1
	case QSD:
		return 2
	default:
		return 3
	}
}

// VideoQuality is one playable variant of an episode.
// Headers must be attached to every request issued for URL.
type VideoQuality struct {
	Label   Quality           `json:"label"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

// Clone returns a deep copy so callers cannot mutate shared header maps.
func (v VideoQuality) Clone() VideoQuality {
	return VideoQuality{
		Label:   v.Label,
		URL:     v.URL,
		Headers: maps.Clone(v.Headers),
	}
}

// RawToken is an opaque playback token returned by the token endpoint.
// It only lives for the duration of one resolution.
type RawToken struct {
	Server  string
	Quality Quality
	Token   string
}

// Mirror is one entry of the domain status service.
type Mirror struct {
	Status int    `json:"status"`
	Domain string `json:"domain"`
}

// RenderResult is what a browser render observed.
type RenderResult struct {
	URL            string
	HTML           string
	DirectVideoURL mo.Option[string]
	Matched        bool // false when the poll loop ran out of attempts
	Attempts       int
	Elapsed        time.Duration
}

// Outcome carries the result of an asynchronous resolution.
type Outcome struct {
	Ref       EpisodeRef
	Qualities []VideoQuality
	Err       error
}

// Succeeded reports whether the outcome holds at least one quality.
func (o Outcome) Succeeded() bool {
	return o.Err == nil && len(o.Qualities) > 0
}

// FetchOptions tunes a single page request.
type FetchOptions struct {
	Referer string
	Headers map[string]string
	// XHR adds X-Requested-With: XMLHttpRequest, as the player's own AJAX calls do.
	XHR bool
}

// Page is a fetched document.
type Page struct {
	URL  string // final URL after redirects
	Body string
}

// Position is a saved playback position for one episode.
type Position struct {
	Position  time.Duration `json:"position"`
	Duration  time.Duration `json:"duration"`
	UpdatedAt time.Time     `json:"updated_at"`
}
