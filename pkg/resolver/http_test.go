package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"wco-resolver-go/pkg/fetcher"
	"wco-resolver-go/pkg/logging"
	"wco-resolver-go/pkg/tokens"
	"wco-resolver-go/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUA = "Mozilla/5.0 (X11; Linux x86_64; rv:146.0) Gecko/20100101 Firefox/146.0"

// fixture is a fake site: an episode host, a separate embed host serving
// the player iframe and token endpoint, and a token server.
type fixture struct {
	site, embed, server *httptest.Server

	episodeHTML string
	iframeHTML  string
	payload     func(server string) string
	redirects   map[string]func(w http.ResponseWriter)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{redirects: map[string]func(http.ResponseWriter){}}

	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/getvid" || !r.URL.Query().Has("json") {
			http.NotFound(w, r)
			return
		}
		handler, ok := f.redirects[r.URL.Query().Get("evid")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		handler(w)
	}))
	t.Cleanup(f.server.Close)

	f.embed = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/inc/embed/video-js.php":
			fmt.Fprint(w, f.iframeHTML)
		case "/inc/embed/getvidlink.php":
			if r.Header.Get("X-Requested-With") != "XMLHttpRequest" {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			if r.Header.Get("Referer") != f.iframeURL() {
				http.Error(w, "bad referer", http.StatusForbidden)
				return
			}
			fmt.Fprint(w, f.payload(f.server.URL))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.embed.Close)

	f.site = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/episode-1" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, f.episodeHTML)
	}))
	t.Cleanup(f.site.Close)

	f.episodeHTML = fmt.Sprintf(`<html><body><div class="iframe-16x9"><iframe src="%s"></iframe></div></body></html>`, f.iframeURL())
	f.iframeHTML = `<html><script>$.getJSON("/inc/embed/getvidlink.php?v=cizgi/a.flv&embed=neptun&hd=1", function (r) { play(r); });</script></html>`
	return f
}

func (f *fixture) iframeURL() string {
	return f.embed.URL + "/inc/embed/video-js.php?file=cizgi/a.flv"
}

func (f *fixture) ref() types.EpisodeRef {
	return types.EpisodeRef{PageURL: "/episode-1", BaseDomain: f.site.URL}
}

func respond(body string) func(http.ResponseWriter) {
	return func(w http.ResponseWriter) { fmt.Fprint(w, body) }
}

func failWith(status int) func(http.ResponseWriter) {
	return func(w http.ResponseWriter) { w.WriteHeader(status) }
}

func newHTTPResolver(opts HTTPOptions) *HTTPResolver {
	log := logging.Discard()
	f := fetcher.New(http.DefaultClient, testUA, log)
	return NewHTTPResolver(f, tokens.New(f, log, 3), opts, log)
}

func stageOf(t *testing.T, err error) types.Stage {
	t.Helper()
	var resErr *types.ResolutionError
	require.ErrorAs(t, err, &resErr)
	return resErr.Stage
}

func TestHTTPResolver_EndToEnd(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.payload = func(server string) string { return fmt.Sprintf(`{"server":%q,"enc":"tok1"}`, server) }
	f.redirects["tok1"] = respond(`"https:\/\/cdn\/final.mp4"`)

	qualities, err := newHTTPResolver(HTTPOptions{}).Resolve(context.Background(), f.ref())

	require.NoError(t, err)
	assert.Equal(t, []types.VideoQuality{{
		Label:   types.QSD,
		URL:     "https://cdn/final.mp4",
		Headers: map[string]string{"Referer": f.embed.URL + "/"},
	}}, qualities)
}

func TestHTTPResolver_QualityOrderAndPartialFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.payload = func(server string) string {
		return fmt.Sprintf(`{"enc":"e1","hd":"h1","server":%q,"fhd":"f1"}`, server)
	}
	f.redirects["f1"] = respond(`"https:\/\/cdn\/1080.mp4"`)
	f.redirects["h1"] = failWith(http.StatusBadGateway)
	f.redirects["e1"] = respond(`https://cdn/sd.mp4`)

	qualities, err := newHTTPResolver(HTTPOptions{}).Resolve(context.Background(), f.ref())

	require.NoError(t, err)
	require.Len(t, qualities, 2)
	assert.Equal(t, types.Q1080p, qualities[0].Label)
	assert.Equal(t, "https://cdn/1080.mp4", qualities[0].URL)
	assert.Equal(t, types.QSD, qualities[1].Label)
	assert.Equal(t, "https://cdn/sd.mp4", qualities[1].URL)
}

func TestHTTPResolver_AllQualitiesFail(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.payload = func(server string) string { return fmt.Sprintf(`{"server":%q,"hd":"h1","enc":"e1"}`, server) }
	f.redirects["h1"] = failWith(http.StatusInternalServerError)
	f.redirects["e1"] = respond(`{"error":"expired"}`)

	qualities, err := newHTTPResolver(HTTPOptions{}).Resolve(context.Background(), f.ref())

	assert.Empty(t, qualities)
	assert.Equal(t, types.StageRedirectResolve, stageOf(t, err))
	var tokErr *tokens.Error
	assert.True(t, errors.As(err, &tokErr))

	// One quality failed in transport, so a retry may help.
	var resErr *types.ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, types.CategoryNetwork, resErr.Category())
}

func TestHTTPResolver_AllRedirectBodiesUnusable(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.payload = func(server string) string { return fmt.Sprintf(`{"server":%q,"hd":"h1","enc":"e1"}`, server) }
	f.redirects["h1"] = respond(`<html>gone</html>`)
	f.redirects["e1"] = respond(`{"error":"expired"}`)

	_, err := newHTTPResolver(HTTPOptions{}).Resolve(context.Background(), f.ref())

	var resErr *types.ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, types.StageRedirectResolve, resErr.Stage)
	assert.Equal(t, types.CategoryNotFound, resErr.Category())
	assert.Contains(t, UserMessage(err), "Could not find video source")
}

func TestHTTPResolver_NoTokens(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.payload = func(server string) string { return fmt.Sprintf(`{"server":%q}`, server) }

	_, err := newHTTPResolver(HTTPOptions{}).Resolve(context.Background(), f.ref())

	var resErr *types.ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, types.StageRedirectResolve, resErr.Stage)
	assert.Equal(t, types.CategoryNotFound, resErr.Category())
}

func TestHTTPResolver_MalformedPayload(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.payload = func(string) string { return `<html>maintenance</html>` }

	_, err := newHTTPResolver(HTTPOptions{}).Resolve(context.Background(), f.ref())

	assert.Equal(t, types.StageTokenExchange, stageOf(t, err))
	var tokErr *tokens.Error
	require.ErrorAs(t, err, &tokErr)
	assert.Equal(t, tokens.KindMalformedPayload, tokErr.Kind)

	var resErr *types.ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, types.CategoryNotFound, resErr.Category())
	assert.Contains(t, UserMessage(err), "Could not find video source")
}

func TestHTTPResolver_ExtractionAbsence(t *testing.T) {
	t.Parallel()

	t.Run("no iframe", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.episodeHTML = `<html><body><p>Episode coming soon</p></body></html>`

		_, err := newHTTPResolver(HTTPOptions{}).Resolve(context.Background(), f.ref())
		assert.Equal(t, types.StageFindIframe, stageOf(t, err))
	})

	t.Run("iframe without token call", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.iframeHTML = `<html><script>obfuscated()</script></html>`

		_, err := newHTTPResolver(HTTPOptions{}).Resolve(context.Background(), f.ref())
		assert.Equal(t, types.StageFindAPIPath, stageOf(t, err))
	})
}

func TestHTTPResolver_TransportFailures(t *testing.T) {
	t.Parallel()

	t.Run("episode page missing", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		ref := types.EpisodeRef{PageURL: "/missing", BaseDomain: f.site.URL}

		_, err := newHTTPResolver(HTTPOptions{}).Resolve(context.Background(), ref)

		var resErr *types.ResolutionError
		require.ErrorAs(t, err, &resErr)
		assert.Equal(t, types.StageFetchEpisode, resErr.Stage)
		assert.Equal(t, types.CategoryNetwork, resErr.Category())
		var netErr *fetcher.NetworkError
		require.ErrorAs(t, err, &netErr)
		assert.Equal(t, http.StatusNotFound, netErr.Status)
	})

	t.Run("iframe unreachable", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.episodeHTML = fmt.Sprintf(`<div class="iframe-16x9"><iframe src="%s/nope"></iframe></div>`, f.embed.URL)

		_, err := newHTTPResolver(HTTPOptions{}).Resolve(context.Background(), f.ref())
		assert.Equal(t, types.StageFetchIframe, stageOf(t, err))
	})

	t.Run("relative page without base", func(t *testing.T) {
		t.Parallel()
		_, err := newHTTPResolver(HTTPOptions{}).Resolve(context.Background(), types.EpisodeRef{PageURL: "/episode-1"})
		assert.Equal(t, types.StageFetchEpisode, stageOf(t, err))
	})
}

func TestHTTPResolver_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newHTTPResolver(HTTPOptions{}).Resolve(ctx, types.EpisodeRef{PageURL: slow.URL + "/episode"})

	var resErr *types.ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, types.StageTimeout, resErr.Stage)
	assert.Equal(t, types.CategoryNetwork, resErr.Category())
}

func TestHTTPResolver_DirectVideoOnEpisodePage(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.episodeHTML = `<html><video><source src="https://cdn.example.com/ep1_720p.mp4"></video></html>`

	qualities, err := newHTTPResolver(HTTPOptions{}).Resolve(context.Background(), f.ref())

	require.NoError(t, err)
	require.Len(t, qualities, 1)
	assert.Equal(t, types.Q720p, qualities[0].Label)
	assert.Equal(t, "https://cdn.example.com/ep1_720p.mp4", qualities[0].URL)
	assert.Equal(t, f.site.URL+"/", qualities[0].Headers["Referer"])
}

func TestHTTPResolver_ScriptedVideoInIframe(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.iframeHTML = `<html><script>jwplayer("p").setup({ file: "https://cdn.example.com/a.m3u8" });</script></html>`

	qualities, err := newHTTPResolver(HTTPOptions{}).Resolve(context.Background(), f.ref())

	require.NoError(t, err)
	require.Len(t, qualities, 1)
	assert.Equal(t, "https://cdn.example.com/a.m3u8", qualities[0].URL)
	assert.Equal(t, f.embed.URL+"/", qualities[0].Headers["Referer"])
}

func TestHTTPResolver_LinkedScript(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/episode-1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><script src="/js/player.js"></script><script src="https://other.example.com/ads.js"></script></html>`)
	})
	mux.HandleFunc("/js/player.js", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `setup({file: "https://cdn.example.com/linked.mp4"})`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	ref := types.EpisodeRef{PageURL: srv.URL + "/episode-1"}

	qualities, err := newHTTPResolver(HTTPOptions{ScanLinkedScripts: true, MaxLinkedScripts: 3}).Resolve(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/linked.mp4", qualities[0].URL)

	_, err = newHTTPResolver(HTTPOptions{}).Resolve(context.Background(), ref)
	assert.Equal(t, types.StageFindIframe, stageOf(t, err))
}

func TestHTTPResolver_PlayerPageAsEntry(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.payload = func(server string) string { return fmt.Sprintf(`{"server":%q,"fhd":"f1"}`, server) }
	f.redirects["f1"] = respond(`https://cdn/1080.mp4`)

	qualities, err := newHTTPResolver(HTTPOptions{}).Resolve(context.Background(), types.EpisodeRef{PageURL: f.iframeURL()})

	require.NoError(t, err)
	require.Len(t, qualities, 1)
	assert.Equal(t, types.Q1080p, qualities[0].Label)
}
