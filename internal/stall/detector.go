// Package stall detects anti-automation interstitial pages and waits,
// bounded, for them to clear. The challenge itself is expected to be solved
// out-of-band (a human in the browser, or an external agent); the engine
// only polls and eventually proceeds in a degraded state.
package stall

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/khoward/webserial/internal/book"
)

// Interstitial titles and challenge phrases observed on protected sites.
// The Chinese entries cover the localized Cloudflare interstitial.
var (
	defaultTitles = []string{
		"just a moment",
		"checking your browser",
		"please wait",
		"请稍候",
	}
	defaultPhrases = []string{
		"verify you are human",
		"complete the challenge",
		"请完成以下操作，验证您是真人",
	}
)

// Detector recognizes interstitial challenge pages by title and body text.
type Detector struct {
	titles  []string
	phrases []string
}

// NewDetector builds a Detector using the default title/phrase sets.
func NewDetector() *Detector {
	return &Detector{titles: defaultTitles, phrases: defaultPhrases}
}

// Detect reports whether the page is an interstitial challenge. A page that
// does not parse is not treated as a challenge; short or broken content is
// the scheduler's problem, not a stall.
func (d *Detector) Detect(page book.Page) bool {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return false
	}

	title := strings.ToLower(strings.TrimSpace(doc.Find("title").First().Text()))
	for _, t := range d.titles {
		if title != "" && strings.Contains(title, t) {
			return true
		}
	}

	bodyText := strings.ToLower(doc.Find("body").Text())
	for _, p := range d.phrases {
		if strings.Contains(bodyText, p) {
			return true
		}
	}
	return false
}
