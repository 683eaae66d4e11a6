package browser

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
)

// Options holds chromedp session options.
type Options struct {
	Headless     bool
	WindowWidth  int
	WindowHeight int
	MaxWait      time.Duration // default timeout when a call passes 0
}

var _ Automator = (*Chrome)(nil)

// Chrome drives a single Chromium tab via the DevTools protocol. One Chrome
// owns one browser process; Close tears both down.
type Chrome struct {
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	maxWait     time.Duration
	log         zerolog.Logger
}

// NewChrome launches a browser and opens a blank tab.
func NewChrome(opts Options, log zerolog.Logger) (*Chrome, error) {
	if opts.WindowWidth == 0 {
		opts.WindowWidth = 1920
	}
	if opts.WindowHeight == 0 {
		opts.WindowHeight = 930
	}
	if opts.MaxWait == 0 {
		opts.MaxWait = 30 * time.Second
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.WindowSize(opts.WindowWidth, opts.WindowHeight),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	// Run a no-op action to force the browser process to start now,
	// so launch failures surface here instead of on first navigation.
	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	return &Chrome{
		ctx:         tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		maxWait:     opts.MaxWait,
		log:         log.With().Str("component", "browser").Logger(),
	}, nil
}

// Close shuts down the tab and the browser process. Safe to call once.
func (c *Chrome) Close() error {
	c.log.Info().Msg("Closing browser")
	c.cancelTab()
	c.cancelAlloc()
	return nil
}

// run executes chromedp actions against the tab with a deadline. The caller
// context is honoured for early cancellation.
func (c *Chrome) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if timeout == 0 {
		timeout = c.maxWait
	}

	runCtx, cancel := context.WithTimeout(c.ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- chromedp.Run(runCtx, actions...) }()

	select {
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (c *Chrome) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	c.log.Info().Str("url", url).Msg("Navigating")
	if err := c.run(ctx, timeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (c *Chrome) Reload(ctx context.Context, timeout time.Duration) error {
	if err := c.run(ctx, timeout, chromedp.Reload()); err != nil {
		return fmt.Errorf("failed to reload page: %w", err)
	}
	return nil
}

func (c *Chrome) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := c.run(ctx, 0, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read current URL: %w", err)
	}
	return url, nil
}

// WaitURLContains polls the page URL until it contains pattern.
func (c *Chrome) WaitURLContains(ctx context.Context, pattern string, timeout time.Duration) error {
	if timeout == 0 {
		timeout = c.maxWait
	}
	deadline := time.Now().Add(timeout)

	for {
		url, err := c.CurrentURL(ctx)
		if err != nil {
			return err
		}
		if strings.Contains(url, pattern) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for URL containing %q, current URL %s", pattern, url)
		}
		if err := Sleep(ctx, 250*time.Millisecond); err != nil {
			return err
		}
	}
}

func (c *Chrome) WaitVisible(ctx context.Context, selector string, timeout time.Duration) bool {
	err := c.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery))
	if err != nil {
		c.log.Warn().Str("selector", selector).Msg("Timed out waiting for element to become visible")
		return false
	}
	return true
}

func (c *Chrome) WaitHidden(ctx context.Context, selector string, timeout time.Duration) error {
	if err := c.run(ctx, timeout, chromedp.WaitNotVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("element %q still visible: %w", selector, err)
	}
	return nil
}

func (c *Chrome) ClickFirstVisible(ctx context.Context, selector string, timeout time.Duration) error {
	script := fmt.Sprintf(`(() => {
		const els = document.querySelectorAll(%q);
		for (const el of els) {
			if (el.offsetParent !== null) { el.click(); return true; }
		}
		return false;
	})()`, selector)

	var clicked bool
	if err := c.run(ctx, timeout, chromedp.Evaluate(script, &clicked)); err != nil {
		return fmt.Errorf("failed to click selector %q: %w", selector, err)
	}
	if !clicked {
		return &ElementNotFoundError{Selector: selector}
	}
	return nil
}

func (c *Chrome) ClickNth(ctx context.Context, selector string, index int) error {
	script := fmt.Sprintf(`(() => {
		const els = document.querySelectorAll(%q);
		if (els.length <= %d) return false;
		els[%d].click();
		return true;
	})()`, selector, index, index)

	var clicked bool
	if err := c.run(ctx, 0, chromedp.Evaluate(script, &clicked)); err != nil {
		return fmt.Errorf("failed to click element %d of %q: %w", index, selector, err)
	}
	if !clicked {
		return &ElementNotFoundError{Selector: selector}
	}
	return nil
}

func (c *Chrome) Text(ctx context.Context, selector string) (string, error) {
	var text string
	if err := c.run(ctx, 0, chromedp.Text(selector, &text, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to read text of %q: %w", selector, err)
	}
	return strings.TrimSpace(text), nil
}

func (c *Chrome) HasClass(ctx context.Context, selector, class string) (bool, error) {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		return el !== null && el.classList.contains(%q);
	})()`, selector, class)

	var has bool
	if err := c.run(ctx, 0, chromedp.Evaluate(script, &has)); err != nil {
		return false, fmt.Errorf("failed to check class %q on %q: %w", class, selector, err)
	}
	return has, nil
}

// SelectOption sets a native <select> value and fires its change event so the
// portal's AJAX listeners pick it up.
func (c *Chrome) SelectOption(ctx context.Context, selector, value string) error {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return false;
		el.value = %q;
		el.dispatchEvent(new Event('change', { bubbles: true }));
		return true;
	})()`, selector, value)

	var ok bool
	if err := c.run(ctx, 0, chromedp.Evaluate(script, &ok)); err != nil {
		return fmt.Errorf("failed to select option %q on %q: %w", value, selector, err)
	}
	if !ok {
		return &ElementNotFoundError{Selector: selector}
	}
	return nil
}

func (c *Chrome) SetZoom(ctx context.Context, factor float64) error {
	script := fmt.Sprintf(`document.body.style.zoom='%g'`, factor)
	if err := c.run(ctx, 0, chromedp.Evaluate(script, nil)); err != nil {
		return fmt.Errorf("failed to set zoom to %g: %w", factor, err)
	}
	return nil
}

func (c *Chrome) ElementScreenshot(ctx context.Context, selector, path string) error {
	var buf []byte
	if err := c.run(ctx, 0, chromedp.Screenshot(selector, &buf, chromedp.NodeVisible, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to screenshot %q: %w", selector, err)
	}
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return fmt.Errorf("failed to write screenshot %s: %w", path, err)
	}
	return nil
}

func (c *Chrome) FullScreenshot(ctx context.Context, path string) error {
	var buf []byte
	if err := c.run(ctx, 0, chromedp.FullScreenshot(&buf, 90)); err != nil {
		return fmt.Errorf("failed to take full screenshot: %w", err)
	}
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return fmt.Errorf("failed to write screenshot %s: %w", path, err)
	}
	return nil
}

func (c *Chrome) ReadTable(ctx context.Context, selector string) ([][]string, error) {
	script := fmt.Sprintf(`(() => {
		const table = document.querySelector(%q);
		if (!table) return [];
		return Array.from(table.querySelectorAll('tbody tr')).map(tr =>
			Array.from(tr.querySelectorAll('td')).map(td => td.innerText.trim()));
	})()`, selector)

	var rows [][]string
	if err := c.run(ctx, 0, chromedp.Evaluate(script, &rows)); err != nil {
		return nil, fmt.Errorf("failed to read table %q: %w", selector, err)
	}
	return rows, nil
}

func (c *Chrome) PagerLinks(ctx context.Context, selector string) ([]PagerLink, error) {
	script := fmt.Sprintf(`(() => {
		return Array.from(document.querySelectorAll(%q)).map(a => ({
			text: a.innerText.trim(),
			classes: a.getAttribute('class') || '',
		}));
	})()`, selector)

	var links []PagerLink
	if err := c.run(ctx, 0, chromedp.Evaluate(script, &links)); err != nil {
		return nil, fmt.Errorf("failed to read pager links %q: %w", selector, err)
	}
	return links, nil
}
