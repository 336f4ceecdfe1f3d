package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/onboarding-cli/internal/cache"
	"github.com/sells-group/onboarding-cli/internal/config"
	"github.com/sells-group/onboarding-cli/internal/cost"
	"github.com/sells-group/onboarding-cli/internal/dedupe"
	"github.com/sells-group/onboarding-cli/internal/extract"
	"github.com/sells-group/onboarding-cli/internal/onboarding"
	"github.com/sells-group/onboarding-cli/internal/scrape"
	"github.com/sells-group/onboarding-cli/internal/store"
	anthropicpkg "github.com/sells-group/onboarding-cli/pkg/anthropic"
	"github.com/sells-group/onboarding-cli/pkg/jina"
)

// onboardEnv holds everything a command needs to drive onboarding jobs.
type onboardEnv struct {
	Store        store.Store
	Cache        cache.Cache
	Orchestrator *onboarding.Orchestrator

	closers []func() error
}

// Close releases resources held by the environment.
func (e *onboardEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			zap.L().Debug("close resource failed", zap.Error(err))
		}
	}
}

// initStore opens the configured store and applies the schema.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initCache returns Redis when configured, otherwise an in-process cache.
func initCache(c config.CacheConfig) (cache.Cache, error) {
	if c.RedisURL == "" {
		zap.L().Debug("cache.redis_url not set, using in-memory cache")
		return cache.NewMemoryCache(c.MaxMemoryEntries), nil
	}
	rc, err := cache.NewRedisCache(c.RedisURL, c.KeyPrefix)
	if err != nil {
		return nil, eris.Wrap(err, "connect redis")
	}
	return rc, nil
}

// initScraper builds the scraper chain in priority order: headless browser,
// plain HTTP, then the Jina reader when a key is set. Results are cached.
// The returned closer shuts down the browser.
func initScraper(sc config.ScrapeConfig, jc config.JinaConfig, c cache.Cache, ttl time.Duration) (scrape.Scraper, func() error) {
	opts := scrape.OptionsFromConfig(sc)

	var (
		scrapers []scrape.Scraper
		closer   = func() error { return nil }
	)
	if sc.Browser {
		b := scrape.NewBrowserScraper(opts, scrape.BrowserConfig{
			ChromePath:  sc.ChromePath,
			ScrollSteps: sc.ScrollSteps,
			ScrollDelay: time.Duration(sc.ScrollDelayMs) * time.Millisecond,
		})
		scrapers = append(scrapers, b)
		closer = b.Close
	}
	scrapers = append(scrapers, scrape.NewLocalScraper(opts, sc.HostRPS))
	if jc.Key != "" {
		client := jina.NewClient(jc.Key, jina.WithBaseURL(jc.BaseURL), jina.WithTimeout(opts.PageTimeout))
		scrapers = append(scrapers, scrape.NewJinaAdapter(client, opts))
	} else {
		zap.L().Debug("jina.key not set, reader fallback disabled")
	}

	chain := scrape.NewChain(scrape.NewPathMatcher(sc.ExcludePatterns), scrapers...)
	return scrape.NewCached(chain, c, ttl), closer
}

// initDetector builds the duplicate detector from dedupe settings.
func initDetector(dc config.DedupeConfig, adjudicator dedupe.Adjudicator) (*dedupe.Detector, error) {
	var opts []dedupe.Option
	if dc.VariantTokensFile != "" {
		vt, err := dedupe.LoadVariantTokens(dc.VariantTokensFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, dedupe.WithVariantTokens(vt))
	}
	if dc.MaxDistance > 0 {
		opts = append(opts, dedupe.WithMaxDistance(dc.MaxDistance))
	}
	if dc.UseAdjudicator && adjudicator != nil {
		opts = append(opts, dedupe.WithAdjudicator(adjudicator))
	}
	return dedupe.NewDetector(opts...), nil
}

// initOnboarding validates config for mode and wires the store, cache,
// scrapers, Claude extractor and orchestrator. Callers should defer
// env.Close().
func initOnboarding(ctx context.Context, mode string, async bool) (*onboardEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	env := &onboardEnv{}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env.Store = st
	env.closers = append(env.closers, st.Close)

	c, err := initCache(cfg.Cache)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Cache = c
	env.closers = append(env.closers, c.Close)

	ttl := time.Duration(cfg.Cache.ScrapeTTLMins) * time.Minute
	scraper, closeScraper := initScraper(cfg.Scrape, cfg.Jina, c, ttl)
	env.closers = append(env.closers, closeScraper)

	var clientOpts []anthropicpkg.Option
	if cfg.Anthropic.TimeoutSecs > 0 {
		clientOpts = append(clientOpts, anthropicpkg.WithTimeout(time.Duration(cfg.Anthropic.TimeoutSecs)*time.Second))
	}
	client := anthropicpkg.NewClient(cfg.Anthropic.Key, clientOpts...)
	extractor := extract.NewClaudeExtractor(client, cost.NewCalculator(cfg.Pricing), extract.ConfigFrom(cfg))

	detector, err := initDetector(cfg.Dedupe, extractor)
	if err != nil {
		env.Close()
		return nil, err
	}

	ocfg := onboarding.ConfigFrom(cfg)
	ocfg.Async = async
	env.Orchestrator = onboarding.New(st, scraper, extractor, ocfg,
		onboarding.WithCache(c),
		onboarding.WithDetector(detector),
	)
	return env, nil
}
