// Package api provides HTTP handlers for the resolver API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"wco-resolver-go/pkg/appctx"
	"wco-resolver-go/pkg/config"
	"wco-resolver-go/pkg/handlers/streams"
	"wco-resolver-go/pkg/httpclient"
	"wco-resolver-go/pkg/interfaces"
	"wco-resolver-go/pkg/logging"
	"wco-resolver-go/pkg/mirrors"
	"wco-resolver-go/pkg/resolver"
	"wco-resolver-go/pkg/types"
)

// Version is reported by /api/info.
const Version = "1.0.0"

// Handlers contains all API handlers.
type Handlers struct {
	ctx *appctx.Context
	log *logging.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(ctx *appctx.Context) *Handlers {
	return &Handlers{
		ctx: ctx,
		log: ctx.Log.WithComponent("api"),
	}
}

// RegisterRoutes registers all API routes.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	// Public routes
	mux.HandleFunc("GET /{$}", h.handleIndex)
	mux.HandleFunc("GET /api/info", h.handleAPIInfo)
	mux.HandleFunc("GET /favicon.ico", http.NotFound)

	// Resolution
	mux.HandleFunc("GET /api/resolve", h.handleResolve)
	mux.HandleFunc("GET /api/mirrors", h.handleMirrors)

	// Media relay
	if h.ctx.Relay != nil {
		mux.HandleFunc("GET /api/stream", h.handleStream)
	}

	// Playback positions
	if h.ctx.Positions != nil {
		mux.HandleFunc("GET /api/position", h.handleGetPosition)
		mux.HandleFunc("PUT /api/position", h.handleSavePosition)
		mux.HandleFunc("DELETE /api/position", h.handleDeletePosition)
	}
}

// handleIndex serves a short endpoint overview.
func (h *Handlers) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>WCO Resolver</title>
    <style>
        body { font-family: -apple-system, 'Segoe UI', Roboto, sans-serif; background: #0f0f0f; color: #fff; max-width: 760px; margin: 40px auto; }
        code { color: #3b82f6; }
        .endpoint { padding: 8px 0; border-bottom: 1px solid #333; }
        .desc { color: #a0a0a0; }
    </style>
</head>
<body>
    <h1>WCO Resolver</h1>
    <p class="desc">Base domain: %s &middot; strategy: %s</p>
    <div class="endpoint"><code>GET /api/resolve?url=&lt;episode&gt;&amp;client=&lt;id&gt;&amp;strategy=&lt;name&gt;</code> <span class="desc">Resolve episode qualities</span></div>
    <div class="endpoint"><code>GET /api/stream?url=&lt;media&gt;&amp;h_Referer=&lt;referer&gt;</code> <span class="desc">Relay media with its required headers</span></div>
    <div class="endpoint"><code>GET /api/mirrors</code> <span class="desc">Mirror status</span></div>
    <div class="endpoint"><code>GET|PUT|DELETE /api/position?url=&lt;episode&gt;</code> <span class="desc">Playback position</span></div>
    <div class="endpoint"><code>GET /api/info</code> <span class="desc">Server status (JSON)</span></div>
    <footer><p class="desc">Version %s</p></footer>
</body>
</html>`, h.ctx.Config.BaseDomain, h.ctx.Config.Strategy, Version)
}

// handleAPIInfo returns server status as JSON.
func (h *Handlers) handleAPIInfo(w http.ResponseWriter, r *http.Request) {
	var names []string
	if h.ctx.Resolvers != nil {
		names = h.ctx.Resolvers.Names()
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":          "running",
		"version":         Version,
		"base_domain":     h.ctx.Config.BaseDomain,
		"strategy":        h.ctx.Config.Strategy,
		"browser_backend": h.ctx.Config.Browser.Backend,
		"resolvers":       names,
	})
}

type qualityView struct {
	types.VideoQuality
	RelayURL string `json:"relay_url,omitempty"`
}

type resolveResponse struct {
	PageURL   string        `json:"page_url"`
	Qualities []qualityView `json:"qualities"`
}

type errorResponse struct {
	Error    string `json:"error"`
	Stage    string `json:"stage,omitempty"`
	Category string `json:"category,omitempty"`
}

// handleResolve resolves the episode in the url parameter. Requests that
// share a client parameter are last-request-wins: an older one still in
// flight answers 409. strategy picks a registered resolver by name. With
// relay=1 each quality also carries a relay_url that needs no extra headers.
func (h *Handlers) handleResolve(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.episodeRef(w, r)
	if !ok {
		return
	}
	if h.ctx.Dispatcher == nil || h.ctx.Resolvers == nil {
		h.writeError(w, http.StatusServiceUnavailable, "no resolver configured")
		return
	}

	slot := r.URL.Query().Get("client")
	if slot == "" {
		slot = "request:" + r.Header.Get("X-Request-ID")
	}

	res, ok := h.resolverFor(w, r)
	if !ok {
		return
	}

	qualities, err := h.ctx.Dispatcher.ResolveWith(r.Context(), slot, res, ref)
	if err != nil {
		logging.FromContext(r.Context()).Info("resolve failed", "page_url", ref.PageURL, "error", err)
		h.writeResolveError(w, err)
		return
	}

	relay, _ := strconv.ParseBool(r.URL.Query().Get("relay"))
	relay = relay && h.ctx.Relay != nil

	views := make([]qualityView, 0, len(qualities))
	for _, q := range qualities {
		view := qualityView{VideoQuality: q.Clone()}
		if relay {
			view.RelayURL = streams.BuildRelayURL(q.URL, h.relayBase(r), q.Headers)
		}
		views = append(views, view)
	}

	pageURL, _ := ref.AbsoluteURL()
	h.writeJSON(w, http.StatusOK, resolveResponse{PageURL: pageURL, Qualities: views})
}

// handleStream relays the media in the url parameter, sending the h_
// parameters as request headers.
func (h *Handlers) handleStream(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if target == "" {
		h.writeError(w, http.StatusBadRequest, "url parameter required")
		return
	}

	req := streams.Request{
		URL:     target,
		Headers: httpclient.ParseHeaderParams(r.URL.Query()),
		Range:   r.Header.Get("Range"),
	}
	resp, err := h.ctx.Relay.Open(r.Context(), req, h.relayBase(r))
	if err != nil {
		logging.FromContext(r.Context()).Warn("relay failed", "url", target, "error", err)
		h.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if resp.Body == nil {
		w.WriteHeader(resp.StatusCode)
		return
	}
	defer resp.Body.Close()

	// Media outlives the server's write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.Header().Set("Content-Type", resp.ContentType)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		h.log.Debug("relay copy interrupted", "url", target, "error", err)
	}
}

// relayBase is the /api/stream address as the caller reached this server.
// The API password rides along so players can fetch relayed segments.
func (h *Handlers) relayBase(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	base := url.URL{Scheme: scheme, Host: r.Host, Path: "/api/stream"}
	if h.ctx.Config.APIPassword != "" {
		base.RawQuery = url.Values{"api_password": {h.ctx.Config.APIPassword}}.Encode()
	}
	return base.String()
}

// resolverFor picks the resolver named by the strategy parameter. Empty or
// "auto" selects the configured policy.
func (h *Handlers) resolverFor(w http.ResponseWriter, r *http.Request) (interfaces.Resolver, bool) {
	name := r.URL.Query().Get("strategy")
	if name == "" || name == config.StrategyAuto {
		return h.ctx.Resolvers.Default(), true
	}
	res, ok := h.ctx.Resolvers.GetByName(name)
	if !ok {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown strategy %q, available: %s",
			name, strings.Join(h.ctx.Resolvers.Names(), ", ")))
		return nil, false
	}
	return res, true
}

func (h *Handlers) writeResolveError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: resolver.UserMessage(err)}

	var resErr *types.ResolutionError
	if errors.As(err, &resErr) {
		resp.Stage = string(resErr.Stage)
		resp.Category = string(resErr.Category())
	}
	h.writeJSON(w, statusFor(err), resp)
}

// statusFor maps a resolution failure to an HTTP status.
func statusFor(err error) int {
	if resolver.IsSuperseded(err) {
		return http.StatusConflict
	}
	var resErr *types.ResolutionError
	if errors.As(err, &resErr) {
		switch {
		case resErr.Stage == types.StageTimeout:
			return http.StatusGatewayTimeout
		case resErr.Category() == types.CategoryNotFound:
			return http.StatusNotFound
		default:
			return http.StatusBadGateway
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

type mirrorsResponse struct {
	Mirrors   []types.Mirror `json:"mirrors"`
	Available []string       `json:"available"`
}

// handleMirrors reports the status service's mirror list.
func (h *Handlers) handleMirrors(w http.ResponseWriter, r *http.Request) {
	if h.ctx.Mirrors == nil {
		h.writeError(w, http.StatusServiceUnavailable, "mirror status not configured")
		return
	}

	all, err := h.ctx.Mirrors.Fetch(r.Context())
	if err != nil {
		h.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, mirrorsResponse{Mirrors: all, Available: mirrors.Reachable(all)})
}

type positionRequest struct {
	Position float64 `json:"position"`
	Duration float64 `json:"duration"`
}

type positionResponse struct {
	PageURL   string    `json:"page_url"`
	Position  float64   `json:"position"`
	Duration  float64   `json:"duration"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newPositionResponse(pageURL string, pos types.Position) positionResponse {
	return positionResponse{
		PageURL:   pageURL,
		Position:  pos.Position.Seconds(),
		Duration:  pos.Duration.Seconds(),
		UpdatedAt: pos.UpdatedAt,
	}
}

// handleGetPosition returns the saved position in seconds.
func (h *Handlers) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.episodeRef(w, r)
	if !ok {
		return
	}

	saved, err := h.ctx.Positions.Get(ref)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	pos, found := saved.Get()
	if !found {
		h.writeError(w, http.StatusNotFound, "no saved position")
		return
	}

	pageURL, _ := ref.AbsoluteURL()
	h.writeJSON(w, http.StatusOK, newPositionResponse(pageURL, pos))
}

// handleSavePosition stores {"position": s, "duration": s}.
func (h *Handlers) handleSavePosition(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.episodeRef(w, r)
	if !ok {
		return
	}

	var req positionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pos := types.Position{
		Position: time.Duration(req.Position * float64(time.Second)),
		Duration: time.Duration(req.Duration * float64(time.Second)),
	}
	if err := h.ctx.Positions.Save(ref, pos); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	saved, err := h.ctx.Positions.Get(ref)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	pageURL, _ := ref.AbsoluteURL()
	h.writeJSON(w, http.StatusOK, newPositionResponse(pageURL, saved.OrElse(pos)))
}

// handleDeletePosition forgets a saved position.
func (h *Handlers) handleDeletePosition(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.episodeRef(w, r)
	if !ok {
		return
	}
	if err := h.ctx.Positions.Delete(ref); err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Helper methods

// episodeRef reads the url parameter, plus an optional base parameter
// overriding the configured base domain. It writes 400 when url is missing.
func (h *Handlers) episodeRef(w http.ResponseWriter, r *http.Request) (types.EpisodeRef, bool) {
	ref := types.EpisodeRef{
		PageURL:    r.URL.Query().Get("url"),
		BaseDomain: r.URL.Query().Get("base"),
	}
	if ref.BaseDomain == "" {
		ref.BaseDomain = h.ctx.Config.BaseDomain
	}
	if ref.PageURL == "" {
		h.writeError(w, http.StatusBadRequest, "url parameter required")
		return ref, false
	}
	if _, err := ref.AbsoluteURL(); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return ref, false
	}
	return ref, true
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Debug("failed to write response", "error", err)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, errorResponse{Error: message})
}
