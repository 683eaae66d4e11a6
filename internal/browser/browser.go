// Package browser defines the browser automation capability consumed by the
// portal navigation and extraction layers, together with its chromedp-backed
// implementation. The core logic depends on the Automator interface only;
// selector strings are always supplied by the caller, never hardcoded here.
package browser

import (
	"context"
	"fmt"
	"time"
)

// PagerLink is one page link inside a paginator control, as rendered.
type PagerLink struct {
	Text    string `json:"text"`
	Classes string `json:"classes"`
}

// Automator is the capability surface needed to drive a web portal:
// navigation, visibility waits, clicks, table reads and screenshots.
// All blocking operations honour the supplied context and carry explicit
// timeouts; none are unbounded.
type Automator interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	Reload(ctx context.Context, timeout time.Duration) error
	CurrentURL(ctx context.Context) (string, error)
	WaitURLContains(ctx context.Context, pattern string, timeout time.Duration) error

	// WaitVisible reports whether the element became visible before the
	// timeout. A timeout is an expected outcome, not an error.
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) bool
	WaitHidden(ctx context.Context, selector string, timeout time.Duration) error

	// ClickFirstVisible clicks the first visible element matching selector.
	// Returns an *ElementNotFoundError when no visible match exists.
	ClickFirstVisible(ctx context.Context, selector string, timeout time.Duration) error

	// ClickNth clicks the index-th element matching selector, counting in
	// render order from zero. Returns an *ElementNotFoundError when fewer
	// than index+1 elements match.
	ClickNth(ctx context.Context, selector string, index int) error

	Text(ctx context.Context, selector string) (string, error)
	HasClass(ctx context.Context, selector, class string) (bool, error)
	SelectOption(ctx context.Context, selector, value string) error

	SetZoom(ctx context.Context, factor float64) error
	ElementScreenshot(ctx context.Context, selector, path string) error
	FullScreenshot(ctx context.Context, path string) error

	// ReadTable returns the trimmed cell texts of every tbody row of the
	// table matching selector, in render order.
	ReadTable(ctx context.Context, selector string) ([][]string, error)
	PagerLinks(ctx context.Context, selector string) ([]PagerLink, error)

	Close() error
}

// ElementNotFoundError reports that no visible element matched a required
// selector.
type ElementNotFoundError struct {
	Selector string
}

func (e *ElementNotFoundError) Error() string {
	return fmt.Sprintf("no visible element matched selector %q", e.Selector)
}

// Sleep blocks for d or until ctx is cancelled. UI settle delays go through
// this so cancellation is never delayed by a fixed sleep.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
