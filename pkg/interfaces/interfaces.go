// Package interfaces defines the core abstractions of the resolution pipeline.
// Resolvers, renderers and stores implement these so that the orchestrator,
// the API handlers and the tests can swap implementations freely.
package interfaces

import (
	"context"
	"net/http"

	"wco-resolver-go/pkg/types"

	"github.com/samber/mo"
)

// HTTPClient abstracts HTTP operations for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// PageFetcher retrieves pages with the browser-like header set the origin expects.
type PageFetcher interface {
	// Fetch GETs url and returns the final URL and body.
	Fetch(ctx context.Context, url string, opts types.FetchOptions) (*types.Page, error)
}

// Resolver turns an episode page into playable video qualities.
//
// To add a new strategy:
// 1. Create a new file in pkg/resolver/
// 2. Implement this interface
// 3. Register it in the ResolverRegistry
type Resolver interface {
	// Name returns a unique identifier for this resolver.
	Name() string

	// Resolve returns at least one quality or a *types.ResolutionError.
	Resolve(ctx context.Context, ref types.EpisodeRef) ([]types.VideoQuality, error)

	// Close releases any resources held by the resolver.
	Close() error
}

// Renderer loads a page in a script-executing environment and reports what
// the page ended up showing.
type Renderer interface {
	// Render loads url with the given referer and polls until a video or
	// iframe settles, or the poll budget runs out.
	Render(ctx context.Context, url, referer string) (*types.RenderResult, error)

	// Close releases the underlying browser.
	Close() error
}

// PositionStore persists playback positions keyed by episode.
type PositionStore interface {
	Get(ref types.EpisodeRef) (mo.Option[types.Position], error)
	Save(ref types.EpisodeRef, pos types.Position) error
	Delete(ref types.EpisodeRef) error
}

// Registry is a generic interface for named component registries.
type Registry[T any] interface {
	// Register adds a component to the registry.
	Register(component T)

	// GetByName returns the component with the given name.
	GetByName(name string) (T, bool)

	// All returns all registered components.
	All() []T
}
