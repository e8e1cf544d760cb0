package resilience

import (
	"time"
)

// FixedPolicy converts config values to a Policy with a constant delay.
func FixedPolicy(maxAttempts, delayMs int) Policy {
	p := Policy{MaxAttempts: 3, Delay: time.Second}
	if maxAttempts > 0 {
		p.MaxAttempts = maxAttempts
	}
	if delayMs >= 0 {
		p.Delay = time.Duration(delayMs) * time.Millisecond
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
