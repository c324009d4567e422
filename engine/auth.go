package engine

import (
	"context"
	"strings"

	"github.com/sicko7947/replayflow"
	"github.com/sicko7947/replayflow/browser"
)

// AuthDetector recognises authentication pages by URL and title
type AuthDetector struct {
	urlPatterns   []string
	titleKeywords []string
}

// NewAuthDetector lower-cases and keeps the non-empty patterns of config
func NewAuthDetector(config replayflow.AuthConfig) *AuthDetector {
	d := &AuthDetector{}
	for _, p := range config.URLPatterns {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			d.urlPatterns = append(d.urlPatterns, p)
		}
	}
	for _, k := range config.TitleKeywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			d.titleKeywords = append(d.titleKeywords, k)
		}
	}
	return d
}

// Match returns the first pattern or keyword found in url or title
func (d *AuthDetector) Match(url, title string) (string, bool) {
	lowerURL := strings.ToLower(url)
	for _, p := range d.urlPatterns {
		if strings.Contains(lowerURL, p) {
			return p, true
		}
	}
	lowerTitle := strings.ToLower(title)
	for _, k := range d.titleKeywords {
		if strings.Contains(lowerTitle, k) {
			return k, true
		}
	}
	return "", false
}

// Check inspects the page and returns a pause signal when it is an
// authentication page. A page whose location cannot be read is not one.
func (d *AuthDetector) Check(ctx context.Context, page browser.Page) *replayflow.AuthPauseDetected {
	url, title, err := page.Location(ctx)
	if err != nil {
		return nil
	}
	matched, ok := d.Match(url, title)
	if !ok {
		return nil
	}
	return &replayflow.AuthPauseDetected{URL: url, Title: title, Matched: matched}
}
