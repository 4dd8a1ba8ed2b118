package browser

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPollScript(t *testing.T) {
	t.Parallel()

	script := PollScript(PollOptions{Interval: 250 * time.Millisecond, MaxAttempts: 40, IframeGraceAttempts: 7})

	assert.True(t, strings.HasPrefix(script, "new Promise("))
	assert.Contains(t, script, "}, 250);")
	assert.Contains(t, script, "attempts >= 40")
	assert.Contains(t, script, "attempts > 7 &&")
	assert.Contains(t, script, `"div.ddmcc"`)
	assert.Contains(t, script, `"div#episodeList, div#sidebar_cat"`)
	assert.Contains(t, script, "outerHTML")
}

func TestDefaultPollOptions_Timeout(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 30*time.Second, DefaultPollOptions().Timeout())
}

func TestSettledOffline(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		html    string
		src     string
		matched bool
	}{
		{"video source", `<video><source src="https://cdn/a.mp4"></video>`, "https://cdn/a.mp4", true},
		{"video own src", `<video src="http://cdn/a.mp4"></video>`, "http://cdn/a.mp4", true},
		{"relative video src is not direct", `<video src="blob:xyz"></video>`, "", false},
		{"listing container", `<div class="ddmcc"><ul></ul></div>`, "", true},
		{"detail container", `<div id="sidebar_cat"></div>`, "", true},
		{"iframe", `<iframe src="https://embed/x"></iframe>`, "", true},
		{"nothing", `<p>loading</p>`, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			src, matched := settledOffline(tt.html)
			assert.Equal(t, tt.src, src)
			assert.Equal(t, tt.matched, matched)
		})
	}
}
