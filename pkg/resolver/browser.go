package resolver

import (
	"context"
	"errors"

	"wco-resolver-go/pkg/browser"
	"wco-resolver-go/pkg/extractors"
	"wco-resolver-go/pkg/interfaces"
	"wco-resolver-go/pkg/logging"
	"wco-resolver-go/pkg/types"
	"wco-resolver-go/pkg/urlutil"
)

// FollowFunc resolves an iframe discovered by the browser strategy.
type FollowFunc func(ctx context.Context, ref types.EpisodeRef) ([]types.VideoQuality, error)

// BrowserResolver renders the episode page and takes whatever video the
// rendered page exposes. It never calls the token endpoint itself; a
// discovered iframe is handed to Follow, or rendered in turn up to MaxDepth.
type BrowserResolver struct {
	renderer interfaces.Renderer
	maxDepth int
	follow   FollowFunc
	log      *logging.Logger
}

// NewBrowserResolver creates the browser strategy. renderer is normally a
// *browser.Surface so that concurrent resolutions supersede each other.
func NewBrowserResolver(renderer interfaces.Renderer, maxDepth int, log *logging.Logger) *BrowserResolver {
	return &BrowserResolver{
		renderer: renderer,
		maxDepth: maxDepth,
		log:      log.WithComponent("browser-resolver"),
	}
}

// SetFollow installs the resolver used for discovered iframes.
func (r *BrowserResolver) SetFollow(follow FollowFunc) {
	r.follow = follow
}

// Name returns the resolver name.
func (r *BrowserResolver) Name() string {
	return "browser"
}

// Resolve renders the episode page.
func (r *BrowserResolver) Resolve(ctx context.Context, ref types.EpisodeRef) ([]types.VideoQuality, error) {
	pageURL, err := ref.AbsoluteURL()
	if err != nil {
		return nil, types.Fail(types.StageFetchEpisode, "invalid episode reference", err)
	}
	return r.render(ctx, ref, pageURL, siteReferer(ref, pageURL), 0)
}

func (r *BrowserResolver) render(ctx context.Context, ref types.EpisodeRef, pageURL, referer string, depth int) ([]types.VideoQuality, error) {
	stage := types.StageFetchEpisode
	if depth > 0 {
		stage = types.StageFetchIframe
	}
	log := r.log.WithURL(pageURL).With("depth", depth)

	res, err := r.renderer.Render(ctx, pageURL, referer)
	if err != nil {
		if errors.Is(err, browser.ErrSuperseded) {
			return nil, err
		}
		var browserErr *browser.Error
		if errors.As(err, &browserErr) {
			return nil, types.Fail(stage, browserErr.Description, err)
		}
		return nil, fail(ctx, stage, "render "+pageURL, err)
	}

	if videoURL, ok := res.DirectVideoURL.Get(); ok {
		log.Info("video observed in rendered page")
		return []types.VideoQuality{observed(videoURL, pageURL)}, nil
	}

	found := extractors.FindDirectVideoSrc(res.HTML)
	if found.IsAbsent() {
		found = extractors.FindScriptedVideoURL(res.HTML, nil)
	}
	if videoURL, ok := found.Get(); ok {
		log.Info("video extracted from rendered markup")
		return []types.VideoQuality{observed(urlutil.ResolveURL(videoURL, pageURL), pageURL)}, nil
	}

	iframeSrc, ok := extractors.FindIframeSrc(res.HTML).Get()
	if !ok {
		if !res.Matched {
			return nil, types.Fail(types.StageTimeout, "page did not settle within the poll budget", nil)
		}
		return nil, types.Fail(types.StageFindIframe, "rendered page exposed no video or iframe", nil)
	}
	iframeURL := urlutil.ResolveURL(iframeSrc, pageURL)

	if r.follow != nil {
		qualities, err := r.follow(ctx, types.EpisodeRef{PageURL: iframeURL, BaseDomain: ref.BaseDomain})
		if err == nil {
			return qualities, nil
		}
		log.Debug("following iframe over http failed", "iframe", iframeURL, "error", err)
	}

	if depth >= r.maxDepth {
		return nil, types.Fail(types.StageFindAPIPath, "iframe "+iframeURL+" yielded no video", nil)
	}
	return r.render(ctx, ref, iframeURL, referer, depth+1)
}

// observed wraps a URL seen outside the token path.
func observed(videoURL, pageURL string) types.VideoQuality {
	return types.VideoQuality{
		Label:   extractors.InferQuality(videoURL),
		URL:     videoURL,
		Headers: map[string]string{"Referer": urlutil.HostReferer(pageURL)},
	}
}

// Close releases the renderer.
func (r *BrowserResolver) Close() error {
	return r.renderer.Close()
}

var _ interfaces.Resolver = (*BrowserResolver)(nil)
