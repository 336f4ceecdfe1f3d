package config

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks that the settings a command needs are present. Modes:
// "onboard" for job commands, "serve" for the HTTP server, "migrate" for
// schema setup.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "onboard", "serve":
		errs = append(errs, c.validateStore()...)
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
		if mode == "serve" && c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "migrate":
		errs = append(errs, c.validateStore()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Batch.Size < 1 || c.Batch.Size > 20 {
		errs = append(errs, "batch.size must be between 1 and 20")
	}
	if c.Batch.MinDelayMs < 0 || c.Batch.MaxDelayMs < c.Batch.MinDelayMs {
		errs = append(errs, "batch delays must satisfy 0 <= min_delay_ms <= max_delay_ms")
	}
	if c.Scrape.MaxLinks < 1 || c.Scrape.MaxLinks > 150 {
		errs = append(errs, "scrape.max_links must be between 1 and 150")
	}
	if c.Discovery.MaxSuggestedPages < 1 {
		errs = append(errs, "discovery.max_suggested_pages must be > 0")
	}
	policies := []struct {
		name string
		p    PolicyConfig
	}{{"scrape", c.Retry.Scrape}, {"llm", c.Retry.LLM}, {"db", c.Retry.DB}}
	for _, pc := range policies {
		if pc.p.MaxRetries < 0 {
			errs = append(errs, "retry."+pc.name+".max_retries must be >= 0")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	var errs []string
	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, "store.driver must be postgres or sqlite")
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	return errs
}
