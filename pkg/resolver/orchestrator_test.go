package resolver

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"wco-resolver-go/pkg/browser"
	"wco-resolver-go/pkg/config"
	"wco-resolver-go/pkg/logging"
	"wco-resolver-go/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubResolver struct {
	name      string
	qualities []types.VideoQuality
	err       error
	calls     atomic.Int32
	closeErr  error
}

func (s *stubResolver) Name() string { return s.name }

func (s *stubResolver) Resolve(context.Context, types.EpisodeRef) ([]types.VideoQuality, error) {
	s.calls.Add(1)
	return s.qualities, s.err
}

func (s *stubResolver) Close() error { return s.closeErr }

var sdQuality = []types.VideoQuality{{Label: types.QSD, URL: "https://cdn.example.com/sd.mp4"}}

func TestOrchestrator_Fallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		httpErr      error
		browserErr   error
		wantBrowser  int32
		wantErrStage types.Stage
	}{
		{"no iframe falls back", types.Fail(types.StageFindIframe, "none", nil), nil, 1, ""},
		{"no api path falls back", types.Fail(types.StageFindAPIPath, "none", nil), nil, 1, ""},
		{"network failure is final", types.Fail(types.StageFetchEpisode, "down", errors.New("refused")), nil, 0, types.StageFetchEpisode},
		{"timeout is final", types.Fail(types.StageTimeout, "slow", nil), nil, 0, types.StageTimeout},
		{"browser failure keeps http error", types.Fail(types.StageFindIframe, "none", nil), types.Fail(types.StageTimeout, "poll", nil), 1, types.StageFindIframe},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			httpR := &stubResolver{name: "http", err: tt.httpErr}
			browserR := &stubResolver{name: "browser", qualities: sdQuality, err: tt.browserErr}
			o := NewOrchestrator(config.StrategyAuto, httpR, browserR, logging.Discard())

			qualities, err := o.Resolve(context.Background(), browserRef)

			assert.Equal(t, tt.wantBrowser, browserR.calls.Load())
			if tt.wantErrStage == "" {
				require.NoError(t, err)
				assert.Equal(t, sdQuality, qualities)
				return
			}
			assert.Equal(t, tt.wantErrStage, stageOf(t, err))
		})
	}
}

func TestOrchestrator_FallbackSuperseded(t *testing.T) {
	t.Parallel()

	httpR := &stubResolver{err: types.Fail(types.StageFindIframe, "none", nil)}
	browserR := &stubResolver{err: browser.ErrSuperseded}

	_, err := NewOrchestrator(config.StrategyAuto, httpR, browserR, logging.Discard()).Resolve(context.Background(), browserRef)

	assert.True(t, IsSuperseded(err))
}

func TestOrchestrator_Strategies(t *testing.T) {
	t.Parallel()

	httpR := &stubResolver{qualities: sdQuality}
	browserR := &stubResolver{qualities: sdQuality}

	_, err := NewOrchestrator(config.StrategyHTTP, httpR, browserR, logging.Discard()).Resolve(context.Background(), browserRef)
	require.NoError(t, err)
	_, err = NewOrchestrator(config.StrategyBrowser, httpR, browserR, logging.Discard()).Resolve(context.Background(), browserRef)
	require.NoError(t, err)

	assert.Equal(t, int32(1), httpR.calls.Load())
	assert.Equal(t, int32(1), browserR.calls.Load())

	_, err = NewOrchestrator(config.StrategyBrowser, httpR, nil, logging.Discard()).Resolve(context.Background(), browserRef)
	assert.Error(t, err)
}

func TestOrchestrator_EmptyResultIsFailure(t *testing.T) {
	t.Parallel()

	o := NewOrchestrator(config.StrategyHTTP, &stubResolver{}, nil, logging.Discard())

	_, err := o.Resolve(context.Background(), browserRef)

	assert.Equal(t, types.StageRedirectResolve, stageOf(t, err))
}

func TestOrchestrator_Close(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	o := NewOrchestrator(config.StrategyAuto, &stubResolver{}, &stubResolver{closeErr: boom}, logging.Discard())

	assert.ErrorIs(t, o.Close(), boom)
	assert.NoError(t, NewOrchestrator(config.StrategyHTTP, &stubResolver{}, nil, logging.Discard()).Close())
}

// gatedResolver blocks each call until released, keyed by page URL.
type gatedResolver struct {
	gates map[string]chan struct{}
}

func (g *gatedResolver) Name() string { return "gated" }

func (g *gatedResolver) Resolve(ctx context.Context, ref types.EpisodeRef) ([]types.VideoQuality, error) {
	select {
	case <-g.gates[ref.PageURL]:
		return []types.VideoQuality{{Label: types.QSD, URL: "https://cdn.example.com" + ref.PageURL + ".mp4"}}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *gatedResolver) Close() error { return nil }

func TestDispatcher_LatestWins(t *testing.T) {
	t.Parallel()

	r := &gatedResolver{gates: map[string]chan struct{}{
		"/first":  make(chan struct{}),
		"/second": make(chan struct{}),
	}}
	d := NewDispatcher(r, 0, logging.Discard())

	first := d.Submit(context.Background(), "player", types.EpisodeRef{PageURL: "/first"})
	second := d.Submit(context.Background(), "player", types.EpisodeRef{PageURL: "/second"})

	close(r.gates["/second"])
	outcome := <-second
	require.NoError(t, outcome.Err)
	assert.True(t, outcome.Succeeded())
	assert.Equal(t, "https://cdn.example.com/second.mp4", outcome.Qualities[0].URL)

	close(r.gates["/first"])
	stale := <-first
	assert.ErrorIs(t, stale.Err, ErrSuperseded)
	assert.Empty(t, stale.Qualities)
	assert.Equal(t, "/first", stale.Ref.PageURL)

	d.Wait()
}

func TestDispatcher_StaleAfterSlotReuse(t *testing.T) {
	t.Parallel()

	r := &gatedResolver{gates: map[string]chan struct{}{
		"/first":  make(chan struct{}),
		"/second": make(chan struct{}),
		"/third":  make(chan struct{}),
	}}
	d := NewDispatcher(r, 0, logging.Discard())

	first := d.Submit(context.Background(), "player", types.EpisodeRef{PageURL: "/first"})
	second := d.Submit(context.Background(), "player", types.EpisodeRef{PageURL: "/second"})
	close(r.gates["/second"])
	require.NoError(t, (<-second).Err)

	third := d.Submit(context.Background(), "player", types.EpisodeRef{PageURL: "/third"})
	close(r.gates["/first"])
	assert.ErrorIs(t, (<-first).Err, ErrSuperseded)

	close(r.gates["/third"])
	assert.True(t, (<-third).Succeeded())
}

func TestDispatcher_IndependentSlots(t *testing.T) {
	t.Parallel()

	r := &gatedResolver{gates: map[string]chan struct{}{
		"/a": make(chan struct{}),
		"/b": make(chan struct{}),
	}}
	d := NewDispatcher(r, 0, logging.Discard())

	a := d.Submit(context.Background(), "tab-1", types.EpisodeRef{PageURL: "/a"})
	b := d.Submit(context.Background(), "tab-2", types.EpisodeRef{PageURL: "/b"})
	close(r.gates["/a"])
	close(r.gates["/b"])

	assert.True(t, (<-a).Succeeded())
	assert.True(t, (<-b).Succeeded())
}

func TestDispatcher_SubmitWith(t *testing.T) {
	t.Parallel()

	fallback := &stubResolver{name: "orchestrator", qualities: sdQuality}
	chosen := &stubResolver{name: "http", qualities: []types.VideoQuality{{Label: types.Q720p, URL: "https://cdn.example.com/720.mp4"}}}
	gated := &gatedResolver{gates: map[string]chan struct{}{"/slow": make(chan struct{})}}
	d := NewDispatcher(fallback, 0, logging.Discard())

	qualities, err := d.ResolveWith(context.Background(), "player", chosen, browserRef)
	require.NoError(t, err)
	assert.Equal(t, chosen.qualities, qualities)
	assert.Equal(t, int32(0), fallback.calls.Load())

	// A slot is shared by every resolver submitted to it.
	slow := d.SubmitWith(context.Background(), "player", gated, types.EpisodeRef{PageURL: "/slow"})
	_, err = d.Resolve(context.Background(), "player", browserRef)
	require.NoError(t, err)
	close(gated.gates["/slow"])
	assert.ErrorIs(t, (<-slow).Err, ErrSuperseded)
	assert.Equal(t, int32(1), fallback.calls.Load())
}

func TestDispatcher_Timeout(t *testing.T) {
	t.Parallel()

	r := &gatedResolver{gates: map[string]chan struct{}{"/stuck": make(chan struct{})}}
	d := NewDispatcher(r, 20*time.Millisecond, logging.Discard())

	_, err := d.Resolve(context.Background(), "player", types.EpisodeRef{PageURL: "/stuck"})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDispatcher_ChannelClosesAfterOutcome(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(&stubResolver{qualities: sdQuality}, 0, logging.Discard())
	ch := d.Submit(context.Background(), "player", browserRef)

	_, ok := <-ch
	require.True(t, ok)
	_, ok = <-ch
	assert.False(t, ok)
}

func TestUserMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		prefix string
	}{
		{"nil", nil, ""},
		{"no iframe", types.Fail(types.StageFindIframe, "none", nil), "Could not find video source"},
		{"no api path", types.Fail(types.StageFindAPIPath, "none", nil), "Could not find video source"},
		{"no tokens", types.Fail(types.StageRedirectResolve, "empty", nil), "Could not find video source"},
		{"network", types.Fail(types.StageFetchEpisode, "down", errors.New("refused")), "Network error: could not reach"},
		{"exchange failures", types.Fail(types.StageRedirectResolve, "all failed", errors.New("502")), "Network error"},
		{"timeout", types.Fail(types.StageTimeout, "slow", nil), "Network error: the site took too long"},
		{"bare deadline", context.DeadlineExceeded, "Network error: the site took too long"},
		{"superseded", ErrSuperseded, "Request was replaced"},
		{"browser superseded", browser.ErrSuperseded, "Request was replaced"},
		{"other", errors.New("strange"), "Could not resolve video: strange"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			msg := UserMessage(tt.err)
			if tt.prefix == "" {
				assert.Empty(t, msg)
				return
			}
			assert.Contains(t, msg, tt.prefix)
		})
	}
}
