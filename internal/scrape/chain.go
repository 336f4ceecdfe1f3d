package scrape

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/onboarding-cli/internal/model"
	"github.com/sells-group/onboarding-cli/internal/resilience"
)

// Chain is a Scraper that falls back through its members in order. URLs
// rejected by the path matcher are never fetched.
type Chain struct {
	PathMatcher *PathMatcher
	scrapers    []Scraper
}

// NewChain creates a Chain. A nil matcher admits every URL.
func NewChain(matcher *PathMatcher, scrapers ...Scraper) *Chain {
	return &Chain{PathMatcher: matcher, scrapers: scrapers}
}

func (c *Chain) Name() string { return "chain" }

func (c *Chain) Supports(url string) bool {
	return c.PathMatcher == nil || !c.PathMatcher.IsExcluded(url)
}

// Scrape returns the first page any member produces. If every member fails,
// the last failure is returned so its kind decides whether to retry.
func (c *Chain) Scrape(ctx context.Context, targetURL string) (*model.ScrapedPage, error) {
	if !c.Supports(targetURL) {
		return nil, resilience.Errorf(resilience.KindValidation, "scrape", "url excluded by path matcher: %s", targetURL)
	}

	var (
		tried   []string
		lastErr error
	)
	for _, s := range c.scrapers {
		if !s.Supports(targetURL) {
			continue
		}
		tried = append(tried, s.Name())

		page, err := s.Scrape(ctx, targetURL)
		switch {
		case err == nil && page != nil:
			return page, nil
		case ctx.Err() != nil:
			return nil, scrapeError("scrape", targetURL, ctx.Err())
		case err != nil:
			lastErr = err
			zap.L().Debug("scrape: falling back",
				zap.String("scraper", s.Name()),
				zap.String("url", targetURL),
				zap.Error(err),
			)
		}
	}

	if lastErr == nil {
		return nil, resilience.Errorf(resilience.KindScrape, "scrape", "no suitable scraper for url: %s", targetURL)
	}
	return nil, eris.Wrapf(lastErr, "scrape: %s all failed", strings.Join(tried, ", "))
}
