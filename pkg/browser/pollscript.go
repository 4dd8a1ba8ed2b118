package browser

import (
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// PollOptions bounds the in-page polling loop.
type PollOptions struct {
	Interval    time.Duration
	MaxAttempts int
	// IframeGraceAttempts is how many polls must pass before a bare iframe
	// counts as settled, giving the player script time to fill it.
	IframeGraceAttempts int
}

// DefaultPollOptions polls every 300ms for up to 30s.
func DefaultPollOptions() PollOptions {
	return PollOptions{
		Interval:            300 * time.Millisecond,
		MaxAttempts:         100,
		IframeGraceAttempts: 15,
	}
}

// Timeout is the longest the poll loop can run.
func (o PollOptions) Timeout() time.Duration {
	return time.Duration(o.MaxAttempts) * o.Interval
}

// Settle conditions shared by the in-page script and the offline check.
const (
	listingSelector = "div.ddmcc"
	detailSelector  = "div#episodeList, div#sidebar_cat"
)

// pollResult is what the poll script resolves with.
type pollResult struct {
	HTML     string `json:"html"`
	VideoSrc string `json:"videoSrc"`
	Matched  bool   `json:"matched"`
	Attempts int    `json:"attempts"`
}

// PollScript returns a JavaScript expression evaluating to a Promise. The
// promise resolves on the first poll that sees a listing container, a
// detail container, an iframe (after the grace period) or a video with an
// absolute src, or once MaxAttempts polls have run. It resolves with the
// rendered markup either way.
func PollScript(opts PollOptions) string {
	return fmt.Sprintf(`new Promise(function (resolve) {
  var attempts = 0;
  var timer = setInterval(function () {
    attempts++;
    var src = '';
    var video = document.querySelector('video');
    if (video) {
      var source = video.querySelector('source');
      src = (source && source.src) || video.src || '';
    }
    var hasVideo = src.indexOf('http') === 0;
    var matched = hasVideo ||
      document.querySelector(%q) !== null ||
      document.querySelector(%q) !== null ||
      (attempts > %d && document.querySelector('iframe') !== null);
    if (matched || attempts >= %d) {
      clearInterval(timer);
      resolve({
        html: document.documentElement.outerHTML,
        videoSrc: hasVideo ? src : '',
        matched: matched,
        attempts: attempts
      });
    }
  }, %d);
})`, listingSelector, detailSelector, opts.IframeGraceAttempts, opts.MaxAttempts, opts.Interval.Milliseconds())
}

// settledOffline applies the poll conditions to markup that was rendered
// elsewhere. It returns the direct video source, if any, and whether any
// settle condition holds.
func settledOffline(html string) (videoSrc string, matched bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", false
	}

	video := doc.Find("video").First()
	src := strings.TrimSpace(video.Find("source").First().AttrOr("src", ""))
	if src == "" {
		src = strings.TrimSpace(video.AttrOr("src", ""))
	}
	if strings.HasPrefix(src, "http") {
		return src, true
	}

	matched = doc.Find(listingSelector).Length() > 0 ||
		doc.Find(detailSelector).Length() > 0 ||
		doc.Find("iframe").Length() > 0
	return "", matched
}
