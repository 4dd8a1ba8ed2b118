package resolver

import (
	"context"
	"errors"
	"sync"
	"time"

	"wco-resolver-go/pkg/browser"
	"wco-resolver-go/pkg/interfaces"
	"wco-resolver-go/pkg/logging"
	"wco-resolver-go/pkg/types"
)

// ErrSuperseded is delivered to a slot's older request once a newer request
// for the same slot has been submitted.
var ErrSuperseded = errors.New("resolution superseded by a newer request")

// IsSuperseded reports whether err means a newer request took over.
func IsSuperseded(err error) bool {
	return errors.Is(err, ErrSuperseded) || errors.Is(err, browser.ErrSuperseded)
}

// Dispatcher runs resolutions on their own goroutines and delivers results
// asynchronously. Within a slot the most recent submission wins: results of
// older submissions are discarded and replaced with ErrSuperseded. In-flight
// HTTP calls of a superseded resolution are not aborted.
type Dispatcher struct {
	resolver interfaces.Resolver
	timeout  time.Duration
	log      *logging.Logger

	mu    sync.Mutex
	seq   uint64
	slots map[string]uint64 // slot -> ticket of its latest submission
	wg    sync.WaitGroup
}

// NewDispatcher creates a dispatcher. timeout bounds each resolution; zero
// means no bound beyond the caller's context.
func NewDispatcher(resolver interfaces.Resolver, timeout time.Duration, log *logging.Logger) *Dispatcher {
	return &Dispatcher{
		resolver: resolver,
		timeout:  timeout,
		log:      log.WithComponent("dispatcher"),
		slots:    make(map[string]uint64),
	}
}

// Submit starts resolving ref in slot and returns a channel that receives
// exactly one Outcome and is then closed.
func (d *Dispatcher) Submit(ctx context.Context, slot string, ref types.EpisodeRef) <-chan types.Outcome {
	return d.SubmitWith(ctx, slot, d.resolver, ref)
}

// SubmitWith is Submit with an explicit resolver. Slots are shared across
// resolvers, so a newer request supersedes an older one whichever
// strategy either uses.
func (d *Dispatcher) SubmitWith(ctx context.Context, slot string, res interfaces.Resolver, ref types.EpisodeRef) <-chan types.Outcome {
	d.mu.Lock()
	d.seq++
	ticket := d.seq
	d.slots[slot] = ticket
	d.mu.Unlock()

	out := make(chan types.Outcome, 1)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer close(out)

		runCtx := ctx
		if d.timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, d.timeout)
			defer cancel()
		}

		qualities, err := res.Resolve(runCtx, ref)
		if !d.latest(slot, ticket) {
			d.log.Debug("discarding stale result", "slot", slot, "ticket", ticket)
			out <- types.Outcome{Ref: ref, Err: ErrSuperseded}
			return
		}
		d.release(slot, ticket)

		outcome := types.Outcome{Ref: ref, Qualities: qualities, Err: err}
		d.log.Debug("resolution finished", "slot", slot, "resolver", res.Name(), "succeeded", outcome.Succeeded())
		out <- outcome
	}()
	return out
}

// Resolve submits ref and waits for its outcome.
func (d *Dispatcher) Resolve(ctx context.Context, slot string, ref types.EpisodeRef) ([]types.VideoQuality, error) {
	return d.ResolveWith(ctx, slot, d.resolver, ref)
}

// ResolveWith is Resolve with an explicit resolver.
func (d *Dispatcher) ResolveWith(ctx context.Context, slot string, res interfaces.Resolver, ref types.EpisodeRef) ([]types.VideoQuality, error) {
	select {
	case outcome := <-d.SubmitWith(ctx, slot, res, ref):
		return outcome.Qualities, outcome.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *Dispatcher) latest(slot string, ticket uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.slots[slot] == ticket
}

// release forgets a slot whose latest request has finished.
func (d *Dispatcher) release(slot string, ticket uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.slots[slot] == ticket {
		delete(d.slots, slot)
	}
}

// Wait blocks until every submitted resolution has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
