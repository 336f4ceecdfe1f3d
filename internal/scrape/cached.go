package scrape

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/onboarding-cli/internal/cache"
	"github.com/sells-group/onboarding-cli/internal/model"
)

// Cached serves recently scraped pages from a cache so resumed and retried
// jobs do not fetch the same page twice. Cache failures are logged and
// bypassed.
type Cached struct {
	next  Scraper
	cache cache.Cache
	ttl   time.Duration
}

// NewCached wraps next with a page cache.
func NewCached(next Scraper, c cache.Cache, ttl time.Duration) *Cached {
	return &Cached{next: next, cache: c, ttl: ttl}
}

func (c *Cached) Name() string             { return c.next.Name() }
func (c *Cached) Supports(url string) bool { return c.next.Supports(url) }

func (c *Cached) Scrape(ctx context.Context, url string) (*model.ScrapedPage, error) {
	key := cache.ScrapeKey(url)

	var page model.ScrapedPage
	ok, err := cache.GetJSON(ctx, c.cache, key, &page)
	if err != nil {
		zap.L().Warn("scrape: cache read failed", zap.String("url", url), zap.Error(err))
	}
	if ok {
		return &page, nil
	}

	fresh, err := c.next.Scrape(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := cache.SetJSON(ctx, c.cache, key, fresh, c.ttl); err != nil {
		zap.L().Warn("scrape: cache write failed", zap.String("url", url), zap.Error(err))
	}
	return fresh, nil
}
