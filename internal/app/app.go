// Package app provides the main application setup and dependency injection.
package app

import (
	"context"
	"fmt"
	"slices"
	"time"

	"wco-resolver-go/pkg/appctx"
	"wco-resolver-go/pkg/browser"
	"wco-resolver-go/pkg/config"
	"wco-resolver-go/pkg/fetcher"
	"wco-resolver-go/pkg/handlers/api"
	"wco-resolver-go/pkg/handlers/streams"
	"wco-resolver-go/pkg/httpclient"
	"wco-resolver-go/pkg/interfaces"
	"wco-resolver-go/pkg/logging"
	"wco-resolver-go/pkg/mirrors"
	"wco-resolver-go/pkg/position"
	"wco-resolver-go/pkg/registry"
	"wco-resolver-go/pkg/resolver"
	"wco-resolver-go/pkg/server"
	"wco-resolver-go/pkg/tokens"
	"wco-resolver-go/pkg/types"

	"github.com/spf13/afero"
)

// App is the main application container.
type App struct {
	Ctx        *appctx.Context
	Server     *server.Server
	HTTPClient *httpclient.Client
	Resolvers  *registry.ResolverRegistry
}

// New creates and initializes the application from a loaded configuration.
func New(cfg *config.Config, log *logging.Logger) (*App, error) {
	log.Info("initializing resolver", "base_domain", cfg.BaseDomain, "strategy", cfg.Strategy, "log_level", cfg.LogLevel)

	ctx := appctx.New(cfg, log)

	httpClient := httpclient.New(cfg, log)

	mirrorClient := mirrors.NewClient(httpClient, cfg.Mirrors.URL, cfg.UserAgent, log)
	ctx.WithMirrors(mirrorClient)
	if cfg.Mirrors.AutoSelect {
		selectMirror(mirrorClient, cfg, log)
	}

	reg := registry.NewResolverRegistry()
	orchestrator, err := registerResolvers(reg, cfg, httpClient, log)
	if err != nil {
		return nil, err
	}
	reg.SetFallback(orchestrator)
	ctx.WithResolvers(reg, resolver.NewDispatcher(reg.Default(), cfg.ResolveTimeout, log))

	ctx.WithPositions(position.NewStore(cfg.Positions.Path, cfg.Positions.Lifetime, afero.NewOsFs()))
	ctx.WithRelay(streams.NewRelay(httpclient.NewStreaming(cfg, log), cfg.UserAgent, log))

	srv := server.New(cfg, log)
	handlers := api.NewHandlers(ctx)
	handlers.RegisterRoutes(srv.Router())

	return &App{
		Ctx:        ctx,
		Server:     srv,
		HTTPClient: httpClient,
		Resolvers:  reg,
	}, nil
}

// Run starts the HTTP server.
func (a *App) Run() error {
	a.Ctx.Log.Info("starting resolver server", "port", a.Ctx.Config.Port)
	return a.Server.Start()
}

// Resolve resolves one episode outside the HTTP server.
func (a *App) Resolve(ctx context.Context, ref types.EpisodeRef) ([]types.VideoQuality, error) {
	if ref.BaseDomain == "" {
		ref.BaseDomain = a.Ctx.Config.BaseDomain
	}
	return a.Ctx.Dispatcher.Resolve(ctx, "cli", ref)
}

// Shutdown releases browsers and other resolver resources.
func (a *App) Shutdown() {
	a.Ctx.Log.Info("shutting down application")

	if err := a.Resolvers.Close(); err != nil {
		a.Ctx.Log.Warn("failed to close resolvers", "error", err)
	}
}

// registerResolvers registers the resolution strategies and returns the
// orchestrator that applies the configured policy.
// Add new strategies here by:
// 1. Implementing interfaces.Resolver in pkg/resolver/
// 2. Registering it below
func registerResolvers(
	reg *registry.ResolverRegistry,
	cfg *config.Config,
	client *httpclient.Client,
	log *logging.Logger,
) (*resolver.Orchestrator, error) {
	pageFetcher := fetcher.New(client, cfg.UserAgent, log)
	tokenClient := tokens.New(pageFetcher, log, cfg.ExchangeConcurrency)

	httpResolver := resolver.NewHTTPResolver(pageFetcher, tokenClient, resolver.HTTPOptions{
		ScanLinkedScripts: cfg.ScanLinkedScripts,
		MaxLinkedScripts:  cfg.MaxLinkedScripts,
	}, log)
	reg.Register(httpResolver)

	var browserResolver interfaces.Resolver
	if cfg.Strategy != config.StrategyHTTP {
		renderer, err := newRenderer(cfg, log)
		if err != nil {
			return nil, err
		}
		br := resolver.NewBrowserResolver(browser.NewSurface(renderer, log), cfg.Browser.MaxDepth, log)
		br.SetFollow(httpResolver.Resolve)
		reg.Register(br)
		browserResolver = br

		if poll := cfg.Browser.PollTimeout(); cfg.ResolveTimeout > 0 && cfg.ResolveTimeout < poll {
			log.Warn("resolve_timeout is shorter than one browser poll budget",
				"resolve_timeout", cfg.ResolveTimeout, "poll_budget", poll)
		}
	}

	log.Info("registered resolvers", "names", reg.Names())
	return resolver.NewOrchestrator(cfg.Strategy, httpResolver, browserResolver, log), nil
}

// newRenderer builds the configured browser backend.
func newRenderer(cfg *config.Config, log *logging.Logger) (interfaces.Renderer, error) {
	poll := browser.PollOptions{
		Interval:            cfg.Browser.PollInterval,
		MaxAttempts:         cfg.Browser.MaxPollAttempts,
		IframeGraceAttempts: cfg.Browser.IframeGraceAttempts,
	}

	switch cfg.Browser.Backend {
	case config.BackendFlareSolverr:
		flare := browser.NewFlareRenderer(browser.FlareOptions{
			BaseURL: cfg.FlareSolverr.URL,
			Timeout: cfg.FlareSolverr.Timeout,
			Wait:    time.Duration(poll.IframeGraceAttempts) * poll.Interval,
		}, log)
		if !flare.IsConfigured() {
			return nil, fmt.Errorf("flaresolverr backend selected without flaresolverr.url")
		}
		log.Info("FlareSolverr renderer enabled", "url", cfg.FlareSolverr.URL)
		return flare, nil
	default:
		return browser.NewChromeRenderer(browser.ChromeOptions{
			ExecPath:  cfg.Browser.ExecPath,
			Headless:  cfg.Browser.Headless,
			UserAgent: cfg.UserAgent,
			Poll:      poll,
		}, log), nil
	}
}

// selectMirror keeps the configured base domain when the status service
// lists it as reachable and otherwise switches to the first reachable
// mirror. Status service failures leave the configuration unchanged.
func selectMirror(client *mirrors.Client, cfg *config.Config, log *logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer cancel()

	available, err := client.Available(ctx)
	if err != nil {
		log.Warn("mirror auto-select failed, keeping base domain", "base_domain", cfg.BaseDomain, "error", err)
		return
	}
	if chosen, changed := chooseMirror(cfg.BaseDomain, available); changed {
		log.Info("switching base domain to reachable mirror", "from", cfg.BaseDomain, "to", chosen)
		cfg.BaseDomain = chosen
	}
}

func chooseMirror(current string, available []string) (string, bool) {
	if len(available) == 0 || slices.Contains(available, current) {
		return current, false
	}
	return available[0], true
}
