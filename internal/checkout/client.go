// Package checkout clones the pipeline's source repository into the run
// workspace before any job starts.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/gantryci/gantry/internal/config"
	"github.com/gantryci/gantry/internal/logfields"
	"github.com/gantryci/gantry/internal/metrics"
	"github.com/gantryci/gantry/internal/retry"
)

// Client checks out the configured repository with retries for transient
// network failures. Permanent failures (auth, not found) are not retried.
type Client struct {
	cfg      config.CheckoutConfig
	policy   retry.Policy
	recorder metrics.Recorder
}

// NewClient creates a checkout client.
func NewClient(cfg config.CheckoutConfig, policy retry.Policy) *Client {
	return &Client{cfg: cfg, policy: policy, recorder: metrics.NoopRecorder{}}
}

// WithRecorder attaches a metrics recorder (fluent helper).
func (c *Client) WithRecorder(rec metrics.Recorder) *Client {
	if rec != nil {
		c.recorder = rec
	}
	return c
}

// Fetch clones the repository into dest, retrying transient failures
// according to the policy.
func (c *Client) Fetch(ctx context.Context, dest string) error {
	var lastErr error
	for attempt := 0; attempt <= c.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.policy.Delay(attempt)
			slog.Warn("Retrying checkout",
				logfields.URL(c.cfg.URL),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay))
			c.recorder.IncCheckoutRetry()
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		start := time.Now()
		err := c.cloneOnce(ctx, dest)
		c.recorder.ObserveCheckoutDuration(time.Since(start), err == nil)
		if err == nil {
			return nil
		}
		lastErr = err

		if isPermanent(err) || ctx.Err() != nil {
			return err
		}
	}
	return fmt.Errorf("checkout failed after %d retries: %w", c.policy.MaxRetries, lastErr)
}

func (c *Client) cloneOnce(ctx context.Context, dest string) error {
	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("failed to clear checkout directory: %w", err)
	}

	opts := &git.CloneOptions{URL: c.cfg.URL}
	if c.cfg.Branch != "" {
		opts.ReferenceName = plumbing.ReferenceName("refs/heads/" + c.cfg.Branch)
		opts.SingleBranch = true
	}
	if c.cfg.ShallowDepth > 0 {
		opts.Depth = c.cfg.ShallowDepth
	}
	if c.cfg.Auth != nil {
		auth, err := authMethod(c.cfg.Auth)
		if err != nil {
			return fmt.Errorf("failed to setup authentication: %w", err)
		}
		opts.Auth = auth
	}

	repo, err := git.PlainCloneContext(ctx, dest, false, opts)
	if err != nil {
		return classifyCloneError(c.cfg.URL, err)
	}

	if ref, herr := repo.Head(); herr == nil {
		slog.Info("Source checked out",
			logfields.URL(c.cfg.URL),
			slog.String("commit", ref.Hash().String()[:8]),
			logfields.Path(dest))
	} else {
		slog.Info("Source checked out", logfields.URL(c.cfg.URL), logfields.Path(dest))
	}
	return nil
}

// authMethod maps descriptor auth onto a go-git transport auth method.
func authMethod(a *config.AuthConfig) (transport.AuthMethod, error) {
	switch a.Type {
	case "token":
		return &http.BasicAuth{Username: "git", Password: a.Token}, nil
	case "basic":
		return &http.BasicAuth{Username: a.Username, Password: a.Password}, nil
	default:
		return nil, fmt.Errorf("unsupported auth type: %s", a.Type)
	}
}

// AuthError indicates the remote rejected our credentials.
type AuthError struct {
	URL string
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("authentication failed for %s: %v", e.URL, e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// NotFoundError indicates the repository does not exist.
type NotFoundError struct {
	URL string
	Err error
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("repository not found: %s: %v", e.URL, e.Err) }
func (e *NotFoundError) Unwrap() error { return e.Err }

// classifyCloneError wraps underlying go-git errors into typed permanent
// failures so the retry loop can distinguish them without string parsing
// upstream.
func classifyCloneError(url string, err error) error {
	l := strings.ToLower(err.Error())
	if strings.Contains(l, "authentication") || strings.Contains(l, "auth fail") || strings.Contains(l, "invalid username or password") {
		return &AuthError{URL: url, Err: err}
	}
	if strings.Contains(l, "not found") || strings.Contains(l, "repository does not exist") {
		return &NotFoundError{URL: url, Err: err}
	}
	return fmt.Errorf("failed to clone repository %s: %w", url, err)
}

// isPermanent reports whether retrying cannot help.
func isPermanent(err error) bool {
	var authErr *AuthError
	var nfErr *NotFoundError
	return errors.As(err, &authErr) || errors.As(err, &nfErr)
}
