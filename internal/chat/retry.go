package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/simmerhq/simmer/internal/agent"
	"github.com/simmerhq/simmer/internal/config"
)

// RetryConfig configures the retry envelope around the agent call.
type RetryConfig struct {
	MaxAttempts int           // Total attempts, including the first
	BaseDelay   time.Duration // Initial backoff delay
	MaxDelay    time.Duration // Backoff ceiling
}

// DefaultRetryConfig returns the standard budget: two attempts with a
// 500ms base backoff. Small on purpose: the agent call is the only
// retried stage, and the user message is already committed before it.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 2,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// retryablePatterns groups transient error substrings, matched
// case-insensitively against err.Error().
//
// NOTE: string matching is a documented exception to the rule against
// strings.Contains(err.Error(), ...): transport-level failures from
// net/http carry no sentinel to test with. Typed *agent.StatusError
// values are handled first, before falling back to these patterns.
var retryablePatterns = [][]string{
	{"timeout", "deadline exceeded"},            // timeouts
	{"connection refused", "connection reset"},  // network errors
	{"temporary failure", "unavailable", "eof"}, // transient transport errors
}

// retryableError reports whether err is transient and worth retrying.
// Client-side mistakes (4xx other than 408/429) never retry.
func retryableError(err error) bool {
	if err == nil {
		return false
	}

	var statusErr *agent.StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusRequestTimeout,
			statusErr.StatusCode == http.StatusTooManyRequests:
			return true
		case statusErr.StatusCode >= 500:
			return true
		default:
			return false
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, group := range retryablePatterns {
		for _, pattern := range group {
			if strings.Contains(errStr, pattern) {
				return true
			}
		}
	}
	return false
}

// callBackend runs the agent call behind the circuit breaker. A turn
// shed by the breaker takes the same failure path as a backend error;
// the full retry envelope counts as one breaker outcome.
func (o *Orchestrator) callBackend(ctx context.Context, messages []agent.Message, opts config.RetrievalOptions) (*agent.Reply, error) {
	if err := o.breaker.Allow(); err != nil {
		o.logger.Warn("shedding agent call",
			"state", o.breaker.State().String())
		return nil, err
	}

	reply, err := o.callWithRetry(ctx, messages, opts)
	if err != nil {
		o.breaker.RecordFailure()
		return nil, err
	}

	o.breaker.RecordSuccess()
	return reply, nil
}

// callWithRetry invokes the agent backend with exponential backoff.
// The context deadline is the hard ceiling: backoff sleeps abort as soon
// as the context is done.
func (o *Orchestrator) callWithRetry(ctx context.Context, messages []agent.Message, opts config.RetrievalOptions) (*agent.Reply, error) {
	var lastErr error
	delay := o.retry.BaseDelay
	start := time.Now()

	for attempt := 1; attempt <= o.retry.MaxAttempts; attempt++ {
		reply, err := o.backend.RunChat(ctx, messages, opts)
		if err == nil {
			o.logger.Debug("agent call succeeded",
				"attempts", attempt,
				"elapsed", time.Since(start))
			return reply, nil
		}

		lastErr = err

		if !retryableError(err) {
			return nil, err
		}
		if attempt == o.retry.MaxAttempts {
			break
		}

		o.logger.Debug("retrying agent call",
			"attempt", attempt,
			"delay", delay,
			"error", err)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, o.retry.MaxDelay)
		}
	}

	return nil, fmt.Errorf("agent call failed after %d attempts (elapsed %v): %w",
		o.retry.MaxAttempts, time.Since(start), lastErr)
}
