// Package cost prices LLM token usage for per-job cost tracking.
package cost

import (
	"github.com/sells-group/onboarding-cli/internal/config"
	"github.com/sells-group/onboarding-cli/internal/model"
	"github.com/sells-group/onboarding-cli/pkg/anthropic"
)

// Calculator computes costs for API usage.
type Calculator struct {
	rates map[string]config.ModelPricing
}

// NewCalculator creates a Calculator from configured pricing layered over
// DefaultRates.
func NewCalculator(pricing config.PricingConfig) *Calculator {
	rates := DefaultRates()
	for name, r := range pricing.Anthropic {
		rates[name] = r
	}
	return &Calculator{rates: rates}
}

// Claude computes the cost in USD for one Claude call. Unpriced models
// cost nothing.
func (c *Calculator) Claude(modelID string, u anthropic.TokenUsage) float64 {
	rate, ok := c.rates[modelID]
	if !ok {
		return 0
	}
	writeMul, readMul := rate.CacheWriteMul, rate.CacheReadMul
	if writeMul == 0 {
		writeMul = 1.25
	}
	if readMul == 0 {
		readMul = 0.1
	}

	inCost := (float64(u.InputTokens) / 1e6) * rate.Input
	outCost := (float64(u.OutputTokens) / 1e6) * rate.Output
	cwCost := (float64(u.CacheCreationInputTokens) / 1e6) * rate.Input * writeMul
	crCost := (float64(u.CacheReadInputTokens) / 1e6) * rate.Input * readMul
	return inCost + outCost + cwCost + crCost
}

// Usage converts one call's token counts into a job usage record.
func (c *Calculator) Usage(modelID string, u anthropic.TokenUsage) model.Usage {
	return model.Usage{
		Calls:               1,
		InputTokens:         int(u.InputTokens),
		OutputTokens:        int(u.OutputTokens),
		CacheCreationTokens: int(u.CacheCreationInputTokens),
		CacheReadTokens:     int(u.CacheReadInputTokens),
		Cost:                c.Claude(modelID, u),
	}
}

// DefaultRates returns the default pricing rates.
func DefaultRates() map[string]config.ModelPricing {
	return map[string]config.ModelPricing{
		"claude-haiku-4-5-20251001": {
			Input: 0.80, Output: 4.00, CacheWriteMul: 1.25, CacheReadMul: 0.1,
		},
		"claude-sonnet-4-5-20250929": {
			Input: 3.00, Output: 15.00, CacheWriteMul: 1.25, CacheReadMul: 0.1,
		},
	}
}
