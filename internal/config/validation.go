package config

import (
	"errors"
	"fmt"
)

// ErrEmptyMatrix is returned when the descriptor declares no matrix entries.
var ErrEmptyMatrix = errors.New("pipeline matrix is empty")

// ValidationError describes a single invalid descriptor field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Validate checks descriptor invariants after defaults have been applied.
func (c *Config) Validate() error {
	if len(c.Matrix) == 0 {
		return ErrEmptyMatrix
	}

	seen := make(map[string]bool, len(c.Matrix))
	for i, job := range c.Matrix {
		field := fmt.Sprintf("matrix[%d]", i)
		if job.Name == "" {
			return &ValidationError{Field: field + ".name", Message: "job name is required"}
		}
		if seen[job.Name] {
			return &ValidationError{Field: field + ".name", Message: fmt.Sprintf("duplicate job name %q", job.Name)}
		}
		seen[job.Name] = true

		switch job.Channel {
		case ChannelStable, ChannelBeta, ChannelNightly:
		case "":
			return &ValidationError{Field: field + ".channel", Message: "channel is required"}
		default:
			return &ValidationError{Field: field + ".channel", Message: fmt.Sprintf("unknown channel %q", job.Channel)}
		}

		if len(job.Setup) == 0 && len(job.Tests) == 0 {
			return &ValidationError{Field: field, Message: "job declares no steps"}
		}
		for j, s := range job.Setup {
			if s == "" {
				return &ValidationError{Field: fmt.Sprintf("%s.setup[%d]", field, j), Message: "empty command"}
			}
		}
		for j, s := range job.Tests {
			if s == "" {
				return &ValidationError{Field: fmt.Sprintf("%s.tests[%d]", field, j), Message: "empty command"}
			}
		}
	}

	if c.Pipeline.Checkout != nil && c.Pipeline.Checkout.URL == "" {
		return &ValidationError{Field: "pipeline.checkout.url", Message: "checkout requires a repository URL"}
	}

	if c.Retry.MaxRetries < 0 {
		return &ValidationError{Field: "retry.max_retries", Message: "cannot be negative"}
	}
	switch c.Retry.Backoff {
	case "", RetryBackoffFixed, RetryBackoffLinear, RetryBackoffExponential:
	default:
		return &ValidationError{Field: "retry.backoff", Message: fmt.Sprintf("unknown backoff mode %q", c.Retry.Backoff)}
	}

	for i, s := range c.Daemon.Schedules {
		if s.Name == "" {
			return &ValidationError{Field: fmt.Sprintf("daemon.schedules[%d].name", i), Message: "schedule name is required"}
		}
		if s.Cron == "" && s.Interval <= 0 {
			return &ValidationError{Field: fmt.Sprintf("daemon.schedules[%d]", i), Message: "either cron or interval must be set"}
		}
	}

	return nil
}
