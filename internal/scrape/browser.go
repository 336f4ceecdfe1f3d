package scrape

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/onboarding-cli/internal/model"
	"github.com/sells-group/onboarding-cli/internal/resilience"
)

// scrollScript scrolls one viewport and reports whether the bottom was
// reached.
const scrollScript = `(() => {
	window.scrollBy(0, window.innerHeight);
	return window.innerHeight + window.scrollY >= document.body.scrollHeight - 2;
})()`

// BrowserConfig tunes the headless browser.
type BrowserConfig struct {
	ChromePath  string
	ScrollSteps int
	ScrollDelay time.Duration
}

// BrowserScraper renders pages in headless Chrome so script-built content
// and lazy-loaded sections are captured. One browser process is shared;
// each Scrape opens its own tab.
type BrowserScraper struct {
	opts Options
	cfg  BrowserConfig

	once        sync.Once
	allocCtx    context.Context
	allocCancel context.CancelFunc
	browserCtx  context.Context
	browserStop context.CancelFunc
	startErr    error
}

// NewBrowserScraper creates a BrowserScraper. The browser starts on first use.
func NewBrowserScraper(opts Options, cfg BrowserConfig) *BrowserScraper {
	if cfg.ScrollSteps <= 0 {
		cfg.ScrollSteps = 20
	}
	if cfg.ScrollDelay <= 0 {
		cfg.ScrollDelay = 250 * time.Millisecond
	}
	return &BrowserScraper{opts: opts, cfg: cfg}
}

func (b *BrowserScraper) Name() string           { return "browser" }
func (b *BrowserScraper) Supports(_ string) bool { return true }

func (b *BrowserScraper) start() error {
	b.once.Do(func() {
		allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.UserAgent(b.opts.UserAgent),
		)
		if b.cfg.ChromePath != "" {
			allocOpts = append(allocOpts, chromedp.ExecPath(b.cfg.ChromePath))
		}
		b.allocCtx, b.allocCancel = chromedp.NewExecAllocator(context.Background(), allocOpts...)
		b.browserCtx, b.browserStop = chromedp.NewContext(b.allocCtx)
		// Running an empty action list launches the browser so tabs share it.
		if err := chromedp.Run(b.browserCtx); err != nil {
			b.startErr = resilience.NewError(resilience.KindScrape, "browser", eris.Wrap(err, "start chrome"))
		}
	})
	return b.startErr
}

// Scrape loads the page, scrolls to the bottom to trigger lazy content and
// captures the rendered HTML. The whole call is bounded by the page timeout.
func (b *BrowserScraper) Scrape(ctx context.Context, targetURL string) (*model.ScrapedPage, error) {
	if err := b.start(); err != nil {
		return nil, err
	}

	tabCtx, cancelTab := chromedp.NewContext(b.browserCtx)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, b.opts.PageTimeout)
	defer cancelTimeout()

	// Caller cancellation closes the tab.
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	var (
		html     string
		finalURL string
	)
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(targetURL),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(b.autoScroll),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		if errors.Is(tabCtx.Err(), context.DeadlineExceeded) {
			return nil, resilience.NewError(resilience.KindTimeout, "browser",
				eris.Wrapf(err, "page load timed out after %s: %s", b.opts.PageTimeout, targetURL))
		}
		return nil, scrapeError("browser: render", targetURL, err)
	}

	if finalURL == "" {
		finalURL = targetURL
	}
	parsed, err := parseHTML(html, finalURL, b.opts.MaxLinks)
	if err != nil {
		return nil, scrapeError("browser: convert", targetURL, err)
	}

	zap.L().Debug("browser: page rendered",
		zap.String("url", targetURL),
		zap.Int("html_bytes", len(html)),
		zap.Int("links", len(parsed.Links)),
	)

	return finishPage(&model.ScrapedPage{
		URL:        targetURL,
		Title:      parsed.Title,
		Markdown:   parsed.Markdown,
		Links:      parsed.Links,
		StatusCode: 200,
		Source:     b.Name(),
	}, b.opts), nil
}

// autoScroll scrolls one viewport at a time until the bottom is reached or
// the step budget runs out, then returns to the top.
func (b *BrowserScraper) autoScroll(ctx context.Context) error {
	for i := 0; i < b.cfg.ScrollSteps; i++ {
		var atBottom bool
		if err := chromedp.Evaluate(scrollScript, &atBottom).Do(ctx); err != nil {
			return eris.Wrap(err, "scroll")
		}
		if err := chromedp.Sleep(b.cfg.ScrollDelay).Do(ctx); err != nil {
			return err
		}
		if atBottom {
			break
		}
	}
	return chromedp.Evaluate(`window.scrollTo(0, 0)`, nil).Do(ctx)
}

// Close shuts the browser down.
func (b *BrowserScraper) Close() error {
	if b.browserStop != nil {
		b.browserStop()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
	return nil
}
