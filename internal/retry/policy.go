// Package retry provides backoff policies for transient failures.
package retry

import (
	"fmt"
	"time"

	"github.com/gantryci/gantry/internal/config"
)

// Policy encapsulates retry/backoff settings for transient failures.
// It is immutable after construction. Step failures inside jobs are never
// retried; the policy only covers checkout and other pre-run plumbing.
type Policy struct {
	Mode       config.RetryBackoffMode // fixed|linear|exponential
	Initial    time.Duration           // base delay
	Max        time.Duration           // cap for growth
	MaxRetries int                     // maximum retry attempts after the first failure
}

// DefaultPolicy returns a sensible default policy (linear, 1s initial, 30s cap, 2 retries).
func DefaultPolicy() Policy {
	return Policy{Mode: config.RetryBackoffLinear, Initial: time.Second, Max: 30 * time.Second, MaxRetries: 2}
}

// FromConfig builds a policy from the descriptor's retry section. An absent
// section (all zero values) means the full default policy, retry budget
// included; a section that sets anything takes max_retries at face value so
// retries can be disabled explicitly.
func FromConfig(rc config.RetryConfig) Policy {
	if rc == (config.RetryConfig{}) {
		return DefaultPolicy()
	}
	return NewPolicy(rc.Backoff, rc.Initial.Std(), rc.Max.Std(), rc.MaxRetries)
}

// NewPolicy builds a policy from raw config fields. Zero or invalid mode and
// duration values fall back to defaults; maxRetries is taken as given unless
// negative.
func NewPolicy(mode config.RetryBackoffMode, initial, maxDuration time.Duration, maxRetries int) Policy {
	p := DefaultPolicy()
	if maxRetries >= 0 {
		p.MaxRetries = maxRetries
	}
	if initial > 0 {
		p.Initial = initial
	}
	if maxDuration > 0 {
		p.Max = maxDuration
	}
	if mode != "" {
		switch mode {
		case config.RetryBackoffFixed, config.RetryBackoffLinear, config.RetryBackoffExponential:
			p.Mode = mode
		default:
			// unknown -> keep default
		}
	}
	if p.Initial > p.Max {
		p.Initial = p.Max
	}
	return p
}

// Delay returns the backoff delay for the given retry attempt number (1-based: first retry => 1).
func (p Policy) Delay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return 0
	}
	switch p.Mode {
	case config.RetryBackoffFixed:
		return p.Initial
	case config.RetryBackoffExponential:
		d := p.Initial * (1 << (retryCount - 1))
		if d > p.Max {
			return p.Max
		}
		return d
	default: // linear
		d := time.Duration(retryCount) * p.Initial
		if d > p.Max {
			return p.Max
		}
		return d
	}
}

// Validate ensures invariants; returns error if policy impossible to apply.
func (p Policy) Validate() error {
	if p.Initial <= 0 {
		return fmt.Errorf("initial must be >0")
	}
	if p.Max <= 0 {
		return fmt.Errorf("max must be >0")
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	return nil
}
