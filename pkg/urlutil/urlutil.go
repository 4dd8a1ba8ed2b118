// Package urlutil provides URL helpers that preserve the origin's encoding.
package urlutil

import (
	"net/url"
	"strings"
)

// ResolveURL resolves a potentially relative URL against a base URL.
// String manipulation is used instead of url.ResolveReference so that
// query strings such as getvidlink.php?v=...&embed=... survive byte for byte.
func ResolveURL(urlStr string, baseURL string) string {
	urlStr = strings.TrimSpace(urlStr)
	if strings.HasPrefix(urlStr, "http://") || strings.HasPrefix(urlStr, "https://") {
		return urlStr
	}
	if strings.HasPrefix(urlStr, "//") {
		scheme := "https"
		if parsed, err := url.Parse(baseURL); err == nil && parsed.Scheme != "" {
			scheme = parsed.Scheme
		}
		return scheme + ":" + urlStr
	}

	base := GetBaseDirectory(baseURL)

	if strings.HasPrefix(urlStr, "/") {
		root := GetSchemeHost(baseURL)
		if root == "" {
			return base + strings.TrimPrefix(urlStr, "/")
		}
		return root + urlStr
	}

	if strings.HasPrefix(urlStr, "../") {
		result := base
		remaining := urlStr
		for strings.HasPrefix(remaining, "../") {
			remaining = remaining[3:]
			result = strings.TrimSuffix(result, "/")
			if lastSlash := strings.LastIndex(result, "/"); lastSlash > len("https://") {
				result = result[:lastSlash+1]
			} else {
				result += "/"
			}
		}
		return result + remaining
	}

	return base + strings.TrimPrefix(urlStr, "./")
}

// GetBaseDirectory returns the directory of a URL, with a trailing slash
// and without query string or last path segment.
func GetBaseDirectory(urlStr string) string {
	base := urlStr
	if idx := strings.Index(base, "?"); idx > 0 {
		base = base[:idx]
	}
	if lastSlash := strings.LastIndex(base, "/"); lastSlash > len("https://") {
		return base[:lastSlash+1]
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base
}

// NormalizeScheme turns a protocol-relative URL into an https URL.
// Anything else is returned trimmed but otherwise untouched.
func NormalizeScheme(urlStr string) string {
	urlStr = strings.TrimSpace(urlStr)
	if strings.HasPrefix(urlStr, "//") {
		return "https:" + urlStr
	}
	return urlStr
}

// GetSchemeHost extracts scheme://host from a URL.
func GetSchemeHost(urlStr string) string {
	parsed, err := url.Parse(urlStr)
	if err != nil || parsed.Host == "" {
		return ""
	}
	return parsed.Scheme + "://" + parsed.Host
}

// HostReferer returns the "https://host/" form the origin expects in Referer.
func HostReferer(urlStr string) string {
	parsed, err := url.Parse(urlStr)
	if err != nil || parsed.Host == "" {
		return ""
	}
	scheme := parsed.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + parsed.Host + "/"
}

// SameHost reports whether two URLs point at the same host (port included).
func SameHost(a, b string) bool {
	pa, err := url.Parse(a)
	if err != nil {
		return false
	}
	pb, err := url.Parse(b)
	if err != nil {
		return false
	}
	return pa.Host != "" && strings.EqualFold(pa.Host, pb.Host)
}
