// Package resolver turns episode references into playable video qualities.
// Two strategies implement interfaces.Resolver: HTTPResolver replays the
// player's network calls, BrowserResolver renders the page and observes it.
// Orchestrator chooses between them and Dispatcher runs resolutions off the
// caller's goroutine.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"wco-resolver-go/pkg/extractors"
	"wco-resolver-go/pkg/interfaces"
	"wco-resolver-go/pkg/logging"
	"wco-resolver-go/pkg/tokens"
	"wco-resolver-go/pkg/types"
	"wco-resolver-go/pkg/urlutil"

	"github.com/samber/lo"
	"github.com/samber/mo"
)

// HTTPOptions tunes the HTTP strategy.
type HTTPOptions struct {
	// ScanLinkedScripts fetches same-host <script src> bodies before the
	// scripted video search.
	ScanLinkedScripts bool
	MaxLinkedScripts  int
}

// HTTPResolver walks episode page, iframe, token endpoint and redirect
// endpoint with plain HTTP requests.
type HTTPResolver struct {
	fetcher interfaces.PageFetcher
	tokens  *tokens.Client
	opts    HTTPOptions
	log     *logging.Logger
}

// NewHTTPResolver creates the HTTP strategy.
func NewHTTPResolver(fetcher interfaces.PageFetcher, tokenClient *tokens.Client, opts HTTPOptions, log *logging.Logger) *HTTPResolver {
	return &HTTPResolver{
		fetcher: fetcher,
		tokens:  tokenClient,
		opts:    opts,
		log:     log.WithComponent("http-resolver"),
	}
}

// Name returns the resolver name.
func (r *HTTPResolver) Name() string {
	return "http"
}

// Resolve runs FetchEpisode → FindIframe → FetchIframe → FindAPIPath →
// TokenExchange → RedirectResolve. A video exposed directly on the episode
// or iframe page short-circuits the token path.
func (r *HTTPResolver) Resolve(ctx context.Context, ref types.EpisodeRef) ([]types.VideoQuality, error) {
	pageURL, err := ref.AbsoluteURL()
	if err != nil {
		return nil, types.Fail(types.StageFetchEpisode, "invalid episode reference", err)
	}
	referer := siteReferer(ref, pageURL)
	log := r.log.WithURL(pageURL)

	episode, err := r.fetcher.Fetch(ctx, pageURL, types.FetchOptions{Referer: referer})
	if err != nil {
		return nil, fail(ctx, types.StageFetchEpisode, "episode page", err)
	}

	if qualities, ok := r.directVideo(ctx, episode).Get(); ok {
		log.Info("video exposed on episode page")
		return qualities, nil
	}

	player := episode
	if iframeSrc, ok := extractors.FindIframeSrc(episode.Body).Get(); ok {
		iframeURL := urlutil.ResolveURL(iframeSrc, episode.URL)
		log.Debug("found player iframe", "iframe", iframeURL)

		player, err = r.fetcher.Fetch(ctx, iframeURL, types.FetchOptions{Referer: referer})
		if err != nil {
			return nil, fail(ctx, types.StageFetchIframe, "player iframe "+iframeURL, err)
		}
		// Keep the requested URL; the token endpoint expects it as referer.
		player = &types.Page{URL: iframeURL, Body: player.Body}
	} else if extractors.FindAPICallPath(episode.Body).IsAbsent() {
		return nil, types.Fail(types.StageFindIframe, "no player iframe on "+pageURL, nil)
	}

	apiPath, ok := extractors.FindAPICallPath(player.Body).Get()
	if !ok {
		if qualities, ok := r.directVideo(ctx, player).Get(); ok {
			log.Info("video exposed on player page")
			return qualities, nil
		}
		return nil, types.Fail(types.StageFindAPIPath, "no token request in "+player.URL, nil)
	}

	return r.exchange(ctx, player.URL, apiPath)
}

// exchange resolves tokens from the endpoint the player page calls and
// trades each for its media URL.
func (r *HTTPResolver) exchange(ctx context.Context, playerURL, apiPath string) ([]types.VideoQuality, error) {
	// The endpoint lives on the player's host, not the episode page's.
	apiURL := urlutil.ResolveURL(apiPath, playerURL)
	log := r.log.WithURL(playerURL).WithStage(string(types.StageTokenExchange))

	raw, err := r.tokens.ResolveTokens(ctx, apiURL, playerURL)
	if err != nil {
		return nil, fail(ctx, types.StageTokenExchange, apiURL, err)
	}
	if len(raw) == 0 {
		return nil, types.Fail(types.StageRedirectResolve, "token endpoint offered no qualities", nil)
	}

	headers := map[string]string{"Referer": urlutil.HostReferer(playerURL)}
	exchanges := r.tokens.ExchangeAll(ctx, raw, playerURL)

	var qualities []types.VideoQuality
	var errs []error
	for _, ex := range exchanges {
		if ex.Err != nil {
			errs = append(errs, ex.Err)
			continue
		}
		qualities = append(qualities, types.VideoQuality{Label: ex.Quality, URL: ex.URL, Headers: maps.Clone(headers)})
	}

	if len(qualities) == 0 {
		return nil, fail(ctx, types.StageRedirectResolve,
			fmt.Sprintf("none of %d qualities could be exchanged", len(exchanges)), errors.Join(errs...))
	}

	log.Info("resolved qualities",
		"qualities", lo.Map(qualities, func(q types.VideoQuality, _ int) types.Quality { return q.Label }),
		"failed", len(errs))
	return qualities, nil
}

// directVideo looks for a video the page exposes without the token path:
// a <video> element, then a URL in its scripts.
func (r *HTTPResolver) directVideo(ctx context.Context, page *types.Page) mo.Option[[]types.VideoQuality] {
	found := extractors.FindDirectVideoSrc(page.Body)
	if found.IsAbsent() {
		found = extractors.FindScriptedVideoURL(page.Body, r.linkedScripts(ctx, page))
	}

	videoURL, ok := found.Get()
	if !ok {
		return mo.None[[]types.VideoQuality]()
	}
	videoURL = urlutil.ResolveURL(videoURL, page.URL)

	return mo.Some([]types.VideoQuality{{
		Label:   extractors.InferQuality(videoURL),
		URL:     videoURL,
		Headers: map[string]string{"Referer": urlutil.HostReferer(page.URL)},
	}})
}

// linkedScripts fetches same-host external scripts of page, keyed by their
// src attribute. Failures are skipped.
func (r *HTTPResolver) linkedScripts(ctx context.Context, page *types.Page) map[string]string {
	if !r.opts.ScanLinkedScripts || r.opts.MaxLinkedScripts <= 0 {
		return nil
	}

	srcs := lo.Filter(extractors.LinkedScripts(page.Body), func(src string, _ int) bool {
		return urlutil.SameHost(urlutil.ResolveURL(src, page.URL), page.URL)
	})
	if len(srcs) > r.opts.MaxLinkedScripts {
		srcs = srcs[:r.opts.MaxLinkedScripts]
	}

	bodies := make(map[string]string, len(srcs))
	for _, src := range srcs {
		scriptURL := urlutil.ResolveURL(src, page.URL)
		script, err := r.fetcher.Fetch(ctx, scriptURL, types.FetchOptions{Referer: page.URL})
		if err != nil {
			r.log.Debug("skipping linked script", "script", scriptURL, "error", err)
			continue
		}
		bodies[src] = script.Body
	}
	return bodies
}

// Close releases resources.
func (r *HTTPResolver) Close() error {
	return nil
}

// siteReferer is the "<base>/" referer the site expects on page loads.
func siteReferer(ref types.EpisodeRef, pageURL string) string {
	if base, err := (types.EpisodeRef{PageURL: "/", BaseDomain: ref.BaseDomain}).AbsoluteURL(); err == nil {
		return base
	}
	return urlutil.HostReferer(pageURL)
}

// fail builds a stage failure, reporting Timeout when the context deadline
// caused it.
func fail(ctx context.Context, stage types.Stage, detail string, err error) *types.ResolutionError {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return types.Fail(types.StageTimeout, fmt.Sprintf("%s (during %s)", detail, stage), err)
	}
	return types.Fail(stage, detail, err)
}

var _ interfaces.Resolver = (*HTTPResolver)(nil)
