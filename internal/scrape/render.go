package scrape

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// DefaultRenderTimeout bounds one headless page load.
const DefaultRenderTimeout = 30 * time.Second

// Renderer returns the DOM of a page after its scripts have run.
type Renderer interface {
	Render(ctx context.Context, url, waitSelector string) (string, error)
}

// ChromeRenderer renders pages with a headless Chromium via chromedp.
type ChromeRenderer struct {
	// Timeout bounds the entire render. Zero uses DefaultRenderTimeout.
	Timeout   time.Duration
	UserAgent string
}

// Render launches (or attaches to) Chromium, navigates to url, waits for
// waitSelector to be present and returns the outer HTML of the document.
// Listing pages that build their cards client-side signal readiness by the
// card selector appearing.
func (r ChromeRenderer) Render(parentCtx context.Context, url, waitSelector string) (string, error) {
	if url == "" {
		return "", fmt.Errorf("render: URL is required")
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultRenderTimeout
	}

	opts := chromedp.DefaultExecAllocatorOptions[:]
	if r.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(r.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(parentCtx, opts...)
	defer allocCancel()

	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, timeout)
	defer timeoutCancel()

	var html string
	tasks := chromedp.Tasks{
		chromedp.Navigate(url),
	}
	if waitSelector != "" {
		tasks = append(tasks, chromedp.WaitReady(waitSelector, chromedp.ByQuery))
	}
	tasks = append(tasks,
		// Small extra delay for late inserts after the first card.
		chromedp.Sleep(300*time.Millisecond),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)

	if err := chromedp.Run(ctx, tasks); err != nil {
		return "", fmt.Errorf("render: chromedp run failed: %w", err)
	}
	return html, nil
}
