// Package appctx provides the application context that holds all runtime dependencies.
package appctx

import (
	"fmt"

	"wco-resolver-go/pkg/config"
	"wco-resolver-go/pkg/handlers/streams"
	"wco-resolver-go/pkg/interfaces"
	"wco-resolver-go/pkg/logging"
	"wco-resolver-go/pkg/mirrors"
	"wco-resolver-go/pkg/registry"
	"wco-resolver-go/pkg/resolver"
)

// Context holds all application runtime dependencies.
// Pass this single struct to components instead of individual parameters.
type Context struct {
	Config     *config.Config
	Log        *logging.Logger
	Resolvers  *registry.ResolverRegistry
	Dispatcher *resolver.Dispatcher
	Mirrors    *mirrors.Client
	Positions  interfaces.PositionStore
	Relay      *streams.Relay
	BaseURL    string
}

// New creates a new application context.
func New(cfg *config.Config, log *logging.Logger) *Context {
	return &Context{
		Config:  cfg,
		Log:     log,
		BaseURL: fmt.Sprintf("http://localhost:%d", cfg.Port),
	}
}

// WithResolvers sets the resolver registry and the dispatcher serving its
// default resolver.
func (c *Context) WithResolvers(reg *registry.ResolverRegistry, d *resolver.Dispatcher) *Context {
	c.Resolvers = reg
	c.Dispatcher = d
	return c
}

// WithMirrors sets the mirror status client.
func (c *Context) WithMirrors(m *mirrors.Client) *Context {
	c.Mirrors = m
	return c
}

// WithPositions sets the playback position store.
func (c *Context) WithPositions(p interfaces.PositionStore) *Context {
	c.Positions = p
	return c
}

// WithRelay sets the media relay.
func (c *Context) WithRelay(r *streams.Relay) *Context {
	c.Relay = r
	return c
}
