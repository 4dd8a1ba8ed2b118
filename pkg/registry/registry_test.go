package registry

import (
	"context"
	"errors"
	"testing"

	"wco-resolver-go/pkg/types"
)

type fakeResolver struct {
	name     string
	closed   int
	closeErr error
}

func (f *fakeResolver) Name() string { return f.name }

func (f *fakeResolver) Resolve(context.Context, types.EpisodeRef) ([]types.VideoQuality, error) {
	return nil, nil
}

func (f *fakeResolver) Close() error {
	f.closed++
	return f.closeErr
}

func TestResolverRegistry_Lookup(t *testing.T) {
	reg := NewResolverRegistry()
	httpR := &fakeResolver{name: "http"}
	browserR := &fakeResolver{name: "browser"}
	reg.Register(httpR)
	reg.Register(browserR)

	if got, ok := reg.GetByName("browser"); !ok || got != browserR {
		t.Errorf("GetByName(browser) = %v, %v", got, ok)
	}
	if _, ok := reg.GetByName("missing"); ok {
		t.Error("GetByName(missing) should report absence")
	}
	if reg.Default() != nil {
		t.Error("Default() should be nil before SetFallback")
	}

	names := reg.Names()
	if len(names) != 2 || names[0] != "http" || names[1] != "browser" {
		t.Errorf("Names() = %v", names)
	}
}

func TestResolverRegistry_ReplaceByName(t *testing.T) {
	reg := NewResolverRegistry()
	first := &fakeResolver{name: "http"}
	second := &fakeResolver{name: "http"}
	reg.Register(first)
	reg.Register(second)

	if all := reg.All(); len(all) != 1 || all[0] != second {
		t.Errorf("All() = %v, want only the replacement", all)
	}
}

func TestResolverRegistry_Close(t *testing.T) {
	reg := NewResolverRegistry()
	boom := errors.New("boom")
	ok := &fakeResolver{name: "http"}
	failing := &fakeResolver{name: "browser", closeErr: boom}
	fallback := &fakeResolver{name: "orchestrator"}
	reg.Register(ok)
	reg.Register(failing)
	reg.SetFallback(fallback)

	if err := reg.Close(); !errors.Is(err, boom) {
		t.Errorf("Close() = %v, want %v", err, boom)
	}
	if ok.closed != 1 || failing.closed != 1 {
		t.Errorf("close counts = %d/%d, want 1/1", ok.closed, failing.closed)
	}
	if fallback.closed != 0 {
		t.Error("fallback must not be closed by the registry")
	}
}
