// Package extractors holds the pure parsing functions of the resolution
// pipeline. Every function accepts raw HTML or script text and reports
// absence with mo.None rather than an error; malformed markup never panics.
package extractors

import (
	"regexp"
	"strings"

	"wco-resolver-go/pkg/types"
	"wco-resolver-go/pkg/urlutil"

	"github.com/PuerkitoBio/goquery"
	"github.com/samber/lo"
	"github.com/samber/mo"
)

// Iframe containers in lookup order: the responsive player wrapper, then the
// legacy player element id.
var iframeSelectors = []string{
	"div.iframe-16x9 iframe",
	"iframe#cizgi-js-0",
}

var (
	// mediaURLPattern matches a quoted absolute URL to a known media file.
	mediaURLPattern = regexp.MustCompile(`["'](https?://[^"']+\.(?:mp4|m3u8|flv)[^"']*)["']`)
	// playerFilePattern matches the file key of a player config object.
	playerFilePattern = regexp.MustCompile(`file\s*:\s*["']([^"']+)["']`)
	// apiCallPattern matches the loader's token endpoint request.
	apiCallPattern = regexp.MustCompile(`\$\.getJSON\(\s*["']([^"']+)["']`)
)

func parse(html string) (*goquery.Document, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, false
	}
	return doc, true
}

// firstAttr returns the first non-empty attribute value among the matches.
func firstAttr(sel *goquery.Selection, attr string) mo.Option[string] {
	result := mo.None[string]()
	sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if val := strings.TrimSpace(s.AttrOr(attr, "")); val != "" {
			result = mo.Some(val)
			return false
		}
		return true
	})
	return result
}

// FindIframeSrc returns the embedded player iframe URL. Protocol-relative
// sources are normalized to https.
func FindIframeSrc(html string) mo.Option[string] {
	doc, ok := parse(html)
	if !ok {
		return mo.None[string]()
	}
	for _, selector := range iframeSelectors {
		if src, found := firstAttr(doc.Find(selector), "src").Get(); found {
			return mo.Some(urlutil.NormalizeScheme(src))
		}
	}
	return mo.None[string]()
}

// FindDirectVideoSrc returns the src of a <video>'s <source> child, falling
// back to the <video> element's own src.
func FindDirectVideoSrc(html string) mo.Option[string] {
	doc, ok := parse(html)
	if !ok {
		return mo.None[string]()
	}
	if src, found := firstAttr(doc.Find("video source"), "src").Get(); found {
		return mo.Some(urlutil.NormalizeScheme(src))
	}
	if src, found := firstAttr(doc.Find("video"), "src").Get(); found {
		return mo.Some(urlutil.NormalizeScheme(src))
	}
	return mo.None[string]()
}

// LinkedScripts lists the external script sources of a document in order,
// without duplicates.
func LinkedScripts(html string) []string {
	doc, ok := parse(html)
	if !ok {
		return nil
	}
	srcs := doc.Find("script[src]").Map(func(_ int, s *goquery.Selection) string {
		return strings.TrimSpace(s.AttrOr("src", ""))
	})
	return lo.Uniq(lo.Compact(srcs))
}

// FindScriptedVideoURL scans script bodies in document order for a quoted
// media URL or a player "file:" entry. Inline scripts are read from the
// document; external ones are looked up in linked by their src attribute
// and skipped when absent.
func FindScriptedVideoURL(html string, linked map[string]string) mo.Option[string] {
	doc, ok := parse(html)
	if !ok {
		return mo.None[string]()
	}

	result := mo.None[string]()
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		body := s.Text()
		if src, isExternal := s.Attr("src"); isExternal {
			body = linked[strings.TrimSpace(src)]
		}
		if found, ok := MatchVideoURL(body).Get(); ok {
			result = mo.Some(found)
			return false
		}
		return true
	})
	return result
}

// MatchVideoURL applies the media patterns to a single script body.
func MatchVideoURL(script string) mo.Option[string] {
	if script == "" {
		return mo.None[string]()
	}
	if m := mediaURLPattern.FindStringSubmatch(script); m != nil {
		return mo.Some(m[1])
	}
	if m := playerFilePattern.FindStringSubmatch(script); m != nil && strings.TrimSpace(m[1]) != "" {
		return mo.Some(strings.TrimSpace(m[1]))
	}
	return mo.None[string]()
}

// FindAPICallPath returns the first argument of the loader's $.getJSON call,
// the path of the token endpoint relative to the iframe host.
func FindAPICallPath(html string) mo.Option[string] {
	m := apiCallPattern.FindStringSubmatch(html)
	if m == nil || strings.TrimSpace(m[1]) == "" {
		return mo.None[string]()
	}
	return mo.Some(strings.TrimSpace(m[1]))
}

// InferQuality labels a URL found outside the token path from resolution
// hints in the URL itself.
func InferQuality(videoURL string) types.Quality {
	lower := strings.ToLower(videoURL)
	switch {
	case strings.Contains(lower, "1080"):
		return types.Q1080p
	case strings.Contains(lower, "720"):
		return types.Q720p
	default:
		return types.QSD
	}
}
