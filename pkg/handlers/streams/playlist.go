package streams

import (
	"bufio"
	"bytes"
	"net/url"
	"strings"

	"wco-resolver-go/pkg/urlutil"
)

// IsPlaylist reports whether a media URL or its response content type
// denotes an HLS playlist.
func IsPlaylist(urlStr, contentType string) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "mpegurl") {
		return true
	}
	return strings.Contains(strings.ToLower(urlStr), ".m3u8")
}

// RewritePlaylist points every segment, variant and key URI in an HLS
// playlist at the relay. Relative URIs are resolved against playlistURL and
// headers travel along as h_ parameters.
func RewritePlaylist(playlist []byte, playlistURL, relayBase string, headers map[string]string) ([]byte, error) {
	var result bytes.Buffer
	scanner := bufio.NewScanner(bytes.NewReader(playlist))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		switch {
		case strings.TrimSpace(line) == "":
		case strings.HasPrefix(line, "#"):
			if strings.Contains(line, `URI="`) {
				line = rewriteURITag(line, playlistURL, relayBase, headers)
			}
		default:
			line = BuildRelayURL(urlutil.ResolveURL(line, playlistURL), relayBase, headers)
		}

		result.WriteString(line)
		result.WriteByte('\n')
	}

	return result.Bytes(), scanner.Err()
}

// rewriteURITag rewrites the URI attribute of tags like #EXT-X-KEY and #EXT-X-MAP.
func rewriteURITag(line, playlistURL, relayBase string, headers map[string]string) string {
	start := strings.Index(line, `URI="`)
	if start == -1 {
		return line
	}
	start += len(`URI="`)

	end := strings.Index(line[start:], `"`)
	if end == -1 {
		return line
	}

	uri := line[start : start+end]
	if strings.HasPrefix(uri, "data:") {
		return line
	}
	relayed := BuildRelayURL(urlutil.ResolveURL(uri, playlistURL), relayBase, headers)
	return line[:start] + relayed + line[start+end:]
}

// BuildRelayURL builds the relay address for target. Query parameters
// already on relayBase, such as api_password, are kept.
func BuildRelayURL(target, relayBase string, headers map[string]string) string {
	relayURL, err := url.Parse(relayBase)
	if err != nil {
		return target
	}

	query := relayURL.Query()
	query.Set("url", target)
	for key, value := range headers {
		query.Set("h_"+key, value)
	}

	relayURL.RawQuery = query.Encode()
	return relayURL.String()
}
