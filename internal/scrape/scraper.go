// Package scrape fetches web pages as markdown plus links, through a headless
// browser, plain HTTP, or the Jina reader.
package scrape

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/onboarding-cli/internal/config"
	"github.com/sells-group/onboarding-cli/internal/model"
	"github.com/sells-group/onboarding-cli/internal/resilience"
)

// Scraper fetches a single URL and returns its content.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*model.ScrapedPage, error)
	Name() string
	Supports(url string) bool
}

// Options bounds what a scraper returns.
type Options struct {
	PageTimeout   time.Duration
	MaxLinks      int
	MaxMarkdownKB int
	UserAgent     string
}

// DefaultOptions returns the options used when no configuration is given.
func DefaultOptions() Options {
	return Options{
		PageTimeout:   30 * time.Second,
		MaxLinks:      MaxLinks,
		MaxMarkdownKB: 256,
		UserAgent:     "Mozilla/5.0 (compatible; OnboardingBot/1.0)",
	}
}

// OptionsFromConfig converts scrape configuration, keeping defaults for
// unset values.
func OptionsFromConfig(cfg config.ScrapeConfig) Options {
	o := DefaultOptions()
	if cfg.PageTimeoutSecs > 0 {
		o.PageTimeout = time.Duration(cfg.PageTimeoutSecs) * time.Second
	}
	if cfg.MaxLinks > 0 && cfg.MaxLinks < MaxLinks {
		o.MaxLinks = cfg.MaxLinks
	}
	if cfg.MaxMarkdownKB > 0 {
		o.MaxMarkdownKB = cfg.MaxMarkdownKB
	}
	if cfg.UserAgent != "" {
		o.UserAgent = cfg.UserAgent
	}
	return o
}

// scrapeError tags a fetch failure. Timeouts, network and HTTP status
// classifications are kept; anything else becomes a retryable scrape error.
func scrapeError(op, url string, err error) error {
	if err == nil {
		return nil
	}
	wrapped := eris.Wrapf(err, "%s %s", op, url)
	var rerr *resilience.Error
	if errors.As(err, &rerr) {
		return wrapped
	}
	switch kind := resilience.KindOf(err); kind {
	case resilience.KindTimeout, resilience.KindNetwork:
		return resilience.NewError(kind, op, wrapped)
	}
	return resilience.NewError(resilience.KindScrape, op, wrapped)
}

// finishPage fills the parts of a page every scraper computes the same way.
func finishPage(page *model.ScrapedPage, opts Options) *model.ScrapedPage {
	if opts.MaxMarkdownKB > 0 {
		page.Markdown = truncate(page.Markdown, opts.MaxMarkdownKB*1024)
	}
	if opts.MaxLinks > 0 && len(page.Links) > opts.MaxLinks {
		page.Links = page.Links[:opts.MaxLinks]
	}
	if page.PageType == "" {
		page.PageType = ClassifyPageType(page.URL)
	}
	return page
}
