package core

import (
	"math"
	"time"
)

// DelayForAttempt computes the delay before the Nth retry of a step.
// attemptIndex is zero-based: the delay before the first retry is
// DelayForAttempt(0, cfg). Pure function; no I/O, no shared state.
func DelayForAttempt(attemptIndex int, cfg RetryConfig) time.Duration {
	if attemptIndex < 0 {
		attemptIndex = 0
	}

	var delay float64
	switch cfg.Strategy {
	case BackoffLinear:
		delay = float64(cfg.InitialDelay) * float64(attemptIndex+1)
	case BackoffFixed:
		delay = float64(cfg.InitialDelay)
	default: // exponential
		multiplier := cfg.Multiplier
		if multiplier <= 0 {
			multiplier = 2
		}
		delay = float64(cfg.InitialDelay) * math.Pow(multiplier, float64(attemptIndex))
	}

	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	return time.Duration(delay)
}
