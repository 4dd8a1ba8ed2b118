package browser

import (
	"context"
	"sync"

	"wco-resolver-go/pkg/interfaces"
	"wco-resolver-go/pkg/logging"
	"wco-resolver-go/pkg/types"
)

// Surface is a single-slot renderer. At most one render owns the underlying
// renderer at a time; starting a render cancels the one in flight, and the
// cancelled caller receives ErrSuperseded.
type Surface struct {
	renderer interfaces.Renderer
	log      *logging.Logger

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	// done closes once the latest render and every render before it have
	// let go of the renderer.
	done chan struct{}
}

// NewSurface wraps renderer in a single-slot queue.
func NewSurface(renderer interfaces.Renderer, log *logging.Logger) *Surface {
	return &Surface{
		renderer: renderer,
		log:      log.WithComponent("surface"),
	}
}

// Render takes the slot, waits for the previous owner to release the
// renderer and renders url. If another Render starts before this one
// returns, the result is discarded and ErrSuperseded is returned.
func (s *Surface) Render(ctx context.Context, url, referer string) (*types.RenderResult, error) {
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})

	s.mu.Lock()
	prevCancel, prevDone := s.cancel, s.done
	s.gen++
	ticket := s.gen
	s.cancel, s.done = cancel, done
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.gen == ticket {
			s.cancel = nil
		}
		s.mu.Unlock()
	}()

	if prevCancel != nil {
		s.log.Debug("superseding in-flight render", "ticket", ticket)
		prevCancel()
	}
	if prevDone != nil {
		select {
		case <-prevDone:
		case <-rctx.Done():
			// An earlier render may still hold the renderer; release after it does.
			go func() {
				<-prevDone
				close(done)
			}()
			return nil, s.interrupted(ctx, ticket)
		}
	}
	defer close(done)

	result, err := s.renderer.Render(rctx, url, referer)
	if !s.current(ticket) {
		return nil, ErrSuperseded
	}
	if err != nil {
		if rctx.Err() != nil {
			return nil, s.interrupted(ctx, ticket)
		}
		return nil, err
	}
	return result, nil
}

func (s *Surface) current(ticket uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == ticket
}

// interrupted reports why a render stopped early: a newer render or the
// caller's own context.
func (s *Surface) interrupted(ctx context.Context, ticket uint64) error {
	if !s.current(ticket) {
		return ErrSuperseded
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return context.Canceled
}

// Close releases the underlying renderer.
func (s *Surface) Close() error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	return s.renderer.Close()
}

var _ interfaces.Renderer = (*Surface)(nil)
