package resilience

import (
	"time"
)

// FromRetryConfig builds a Policy from configured values. Non-positive delays
// are dropped; an empty list falls back to base.
func FromRetryConfig(base Policy, maxRetries int, delaysMs []int) Policy {
	p := base
	if maxRetries >= 0 {
		p.MaxRetries = maxRetries
	}
	var delays []time.Duration
	for _, ms := range delaysMs {
		if ms > 0 {
			delays = append(delays, time.Duration(ms)*time.Millisecond)
		}
	}
	if len(delays) > 0 {
		p.Delays = delays
	}
	return p
}

// FromCircuitConfig converts config values to a CircuitBreakerConfig.
func FromCircuitConfig(failureThreshold, resetTimeoutSecs int) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if resetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetTimeoutSecs) * time.Second
	}
	return cfg
}
