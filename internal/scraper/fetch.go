package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// defaultPageTimeout bounds one page navigation, per spec.md's 30s
// page-fetch default.
const defaultPageTimeout = 30 * time.Second

// fetchRenderedHTML navigates a pooled context to url and returns the
// fully rendered document, waiting for the body to be present before
// reading it back.
func fetchRenderedHTML(ctx context.Context, bc *BrowserContext, url string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = defaultPageTimeout
	}
	navCtx, cancel := context.WithTimeout(bc.ctx, timeout)
	defer cancel()

	var html string
	err := chromedp.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("navigate to %s: %w", url, err)
	}
	return html, nil
}
