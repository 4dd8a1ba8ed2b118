package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wco-resolver-go/pkg/browser"
	"wco-resolver-go/pkg/config"
	"wco-resolver-go/pkg/interfaces"
	"wco-resolver-go/pkg/logging"
	"wco-resolver-go/pkg/types"
)

// Orchestrator applies the configured strategy: http only, browser only,
// or http with a browser fallback when extraction finds nothing.
type Orchestrator struct {
	strategy string
	http     interfaces.Resolver
	browser  interfaces.Resolver // nil when no browser backend is available
	log      *logging.Logger
}

// NewOrchestrator wires the strategies. browserResolver may be nil.
func NewOrchestrator(strategy string, httpResolver, browserResolver interfaces.Resolver, log *logging.Logger) *Orchestrator {
	return &Orchestrator{
		strategy: strategy,
		http:     httpResolver,
		browser:  browserResolver,
		log:      log.WithComponent("orchestrator"),
	}
}

// Name returns the resolver name.
func (o *Orchestrator) Name() string {
	return "orchestrator"
}

// Resolve runs one resolution attempt. There are no retries.
func (o *Orchestrator) Resolve(ctx context.Context, ref types.EpisodeRef) ([]types.VideoQuality, error) {
	start := time.Now()
	log := o.log.With("page_url", ref.PageURL, "strategy", o.strategy)

	var qualities []types.VideoQuality
	var err error

	switch o.strategy {
	case config.StrategyHTTP:
		qualities, err = o.http.Resolve(ctx, ref)
	case config.StrategyBrowser:
		if o.browser == nil {
			return nil, fmt.Errorf("browser strategy selected but no browser backend is configured")
		}
		qualities, err = o.browser.Resolve(ctx, ref)
	default:
		qualities, err = o.http.Resolve(ctx, ref)
		if err != nil && o.browser != nil && shouldFallback(err) {
			log.Info("http strategy found nothing, falling back to browser", "reason", err)
			browserQualities, browserErr := o.browser.Resolve(ctx, ref)
			if browserErr == nil {
				qualities, err = browserQualities, nil
			} else if errors.Is(browserErr, browser.ErrSuperseded) {
				err = browserErr
			} else {
				log.Warn("browser fallback failed", "error", browserErr)
			}
		}
	}

	if err != nil {
		log.WithDuration(time.Since(start)).Warn("resolution failed", "error", err)
		return nil, err
	}
	if len(qualities) == 0 {
		return nil, types.Fail(types.StageRedirectResolve, "no qualities resolved", nil)
	}

	log.WithDuration(time.Since(start)).Info("resolution succeeded", "qualities", len(qualities), "best", qualities[0].Label)
	return qualities, nil
}

// shouldFallback reports whether err is an extraction absence the browser
// strategy may recover from. Transport failures are final.
func shouldFallback(err error) bool {
	var resErr *types.ResolutionError
	if !errors.As(err, &resErr) {
		return false
	}
	return resErr.Stage == types.StageFindIframe || resErr.Stage == types.StageFindAPIPath
}

// Close releases both strategies.
func (o *Orchestrator) Close() error {
	errs := []error{o.http.Close()}
	if o.browser != nil {
		errs = append(errs, o.browser.Close())
	}
	return errors.Join(errs...)
}

var _ interfaces.Resolver = (*Orchestrator)(nil)
