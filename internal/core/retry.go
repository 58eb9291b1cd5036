package core

import (
	"fmt"
	"time"
)

// BackoffStrategy selects how retry delays grow with the attempt count.
type BackoffStrategy string

const (
	BackoffExponential BackoffStrategy = "exponential"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffFixed       BackoffStrategy = "fixed"
)

// RetryConfig defines how failed executions of one step are retried.
// Instances are created at startup and never mutated.
type RetryConfig struct {
	MaxAttempts  int
	Strategy     BackoffStrategy
	InitialDelay time.Duration
	// MaxDelay caps the computed delay. Zero means no cap.
	MaxDelay time.Duration
	// Multiplier applies to the exponential strategy only. Zero means 2.
	Multiplier float64
}

// DefaultRetryConfig is the fallback policy for steps that explicitly
// register with it: 3 attempts, exponential backoff, 1s initial delay,
// 60s cap, multiplier 2.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		Strategy:     BackoffExponential,
		InitialDelay: time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2,
	}
}

// Validate checks the config for deployment bugs.
func (c RetryConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return NewConfigurationError(fmt.Sprintf("retry config: max attempts must be >= 1, got %d", c.MaxAttempts))
	}
	switch c.Strategy {
	case BackoffExponential, BackoffLinear, BackoffFixed:
	default:
		return NewConfigurationError(fmt.Sprintf("retry config: unknown backoff strategy %q", c.Strategy))
	}
	if c.InitialDelay < 0 {
		return NewConfigurationError("retry config: initial delay must be >= 0")
	}
	if c.MaxDelay != 0 && c.MaxDelay < c.InitialDelay {
		return NewConfigurationError(fmt.Sprintf(
			"retry config: max delay %s is below initial delay %s", c.MaxDelay, c.InitialDelay))
	}
	if c.Multiplier < 0 {
		return NewConfigurationError("retry config: multiplier must be >= 0")
	}
	return nil
}

// PolicyRegistry maps step names to their retry configs. Built once at
// startup, read-only afterwards, safe for concurrent reads from any number
// of workers.
type PolicyRegistry struct {
	policies map[StepName]RetryConfig
}

// NewPolicyRegistry validates every config and rejects registrations for
// step names outside the wire contract.
func NewPolicyRegistry(policies map[StepName]RetryConfig) (*PolicyRegistry, error) {
	m := make(map[StepName]RetryConfig, len(policies))
	for step, cfg := range policies {
		if !IsValidStep(step) {
			return nil, NewConfigurationError("retry policy registered for unknown step: " + string(step))
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("policy for step %s: %w", step, err)
		}
		m[step] = cfg
	}
	return &PolicyRegistry{policies: m}, nil
}

// DefaultPolicies builds a registry covering every declared step with the
// default policy, then applies per-step overrides. Steps fall back to the
// default only through this explicit registration; a typo in a step name
// still fails.
func DefaultPolicies(overrides map[StepName]RetryConfig) (*PolicyRegistry, error) {
	m := make(map[StepName]RetryConfig, len(allSteps))
	for _, step := range allSteps {
		m[step] = DefaultRetryConfig()
	}
	for step, cfg := range overrides {
		if !IsValidStep(step) {
			return nil, NewConfigurationError("retry policy override for unknown step: " + string(step))
		}
		m[step] = cfg
	}
	return NewPolicyRegistry(m)
}

// Policy returns the retry config for a registered step. Unknown names are
// a ConfigurationError, not a condition to recover from at runtime.
func (r *PolicyRegistry) Policy(step StepName) (RetryConfig, error) {
	cfg, ok := r.policies[step]
	if !ok {
		return RetryConfig{}, NewConfigurationError("no retry policy registered for step: " + string(step))
	}
	return cfg, nil
}
