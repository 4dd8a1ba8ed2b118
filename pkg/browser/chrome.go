package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"wco-resolver-go/pkg/interfaces"
	"wco-resolver-go/pkg/logging"
	"wco-resolver-go/pkg/types"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/samber/mo"
)

// ChromeOptions configures the local headless browser.
type ChromeOptions struct {
	ExecPath  string // empty means let chromedp find Chrome
	Headless  bool
	UserAgent string
	Poll      PollOptions
}

// ChromeRenderer drives a local Chrome through the DevTools protocol. The
// browser process is started on first use and shared by all renders; each
// render gets its own tab.
type ChromeRenderer struct {
	opts ChromeOptions
	log  *logging.Logger

	mu            sync.Mutex
	browserCtx    context.Context
	allocCancel   context.CancelFunc
	browserCancel context.CancelFunc
}

// NewChromeRenderer creates a renderer. Chrome is not started until the
// first Render call.
func NewChromeRenderer(opts ChromeOptions, log *logging.Logger) *ChromeRenderer {
	if opts.Poll.MaxAttempts == 0 {
		opts.Poll = DefaultPollOptions()
	}
	return &ChromeRenderer{
		opts: opts,
		log:  log.WithComponent("chrome"),
	}
}

func (r *ChromeRenderer) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", r.opts.Headless),
		chromedp.Flag("autoplay-policy", "no-user-gesture-required"),
		chromedp.Flag("mute-audio", true),
		chromedp.WindowSize(1280, 720),
	)
	if r.opts.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(r.opts.UserAgent))
	}
	if r.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(r.opts.ExecPath))
	}
	return opts
}

// browser returns the shared browser context, starting Chrome if needed.
func (r *ChromeRenderer) browser() (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browserCtx != nil && r.browserCtx.Err() == nil {
		return r.browserCtx, nil
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), r.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...any) {
		r.log.Debug(fmt.Sprintf(format, args...))
	}))

	// An empty Run starts the browser process.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	r.log.Info("chrome started", "headless", r.opts.Headless)
	r.browserCtx, r.allocCancel, r.browserCancel = browserCtx, allocCancel, browserCancel
	return browserCtx, nil
}

// Render loads url in a fresh tab with the given referer and cache
// disabled, then waits for the poll script to settle.
func (r *ChromeRenderer) Render(ctx context.Context, url, referer string) (*types.RenderResult, error) {
	browserCtx, err := r.browser()
	if err != nil {
		return nil, loadFailed(url, "browser unavailable", err)
	}

	tabCtx, cancelTab := chromedp.NewContext(browserCtx)
	defer cancelTab()
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	start := time.Now()
	headers := network.Headers{}
	if referer != "" {
		headers["Referer"] = referer
	}

	var res pollResult
	err = chromedp.Run(tabCtx,
		network.Enable(),
		network.ClearBrowserCache(),
		network.SetCacheDisabled(true),
		network.SetExtraHTTPHeaders(headers),
		chromedp.Navigate(url),
		chromedp.Evaluate(PollScript(r.opts.Poll), &res, awaitPromise),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, loadFailed(url, describe(err), err)
	}

	result := &types.RenderResult{
		URL:            url,
		HTML:           res.HTML,
		DirectVideoURL: mo.EmptyableToOption(res.VideoSrc),
		Matched:        res.Matched,
		Attempts:       res.Attempts,
		Elapsed:        time.Since(start),
	}

	r.log.Debug("render settled",
		"url", url,
		"matched", result.Matched,
		"attempts", result.Attempts,
		"direct_video", result.DirectVideoURL.IsPresent(),
		"duration_ms", result.Elapsed.Milliseconds())

	return result, nil
}

func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true)
}

// describe shortens DevTools errors such as "page load error net::ERR_NAME_NOT_RESOLVED".
func describe(err error) string {
	msg := err.Error()
	if idx := strings.Index(msg, "net::"); idx >= 0 {
		return msg[idx:]
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timed out"
	}
	return msg
}

// Close shuts the browser down.
func (r *ChromeRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browserCancel != nil {
		r.browserCancel()
		r.allocCancel()
		r.browserCtx, r.browserCancel, r.allocCancel = nil, nil, nil
	}
	return nil
}

var _ interfaces.Renderer = (*ChromeRenderer)(nil)
