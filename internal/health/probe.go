// Package health probes the liveness endpoints of the web and agent
// processes. Used by the waitready command to gate deploys on both
// processes answering.
package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ErrUnhealthy reports that a service did not answer healthy within the
// polling budget.
var ErrUnhealthy = errors.New("service unhealthy")

const (
	// DefaultInterval is the delay between polling attempts.
	DefaultInterval = 2 * time.Second
	// DefaultTimeout bounds the whole polling loop for one service.
	DefaultTimeout = 60 * time.Second
	// probeTimeout bounds a single HTTP probe.
	probeTimeout = 5 * time.Second
)

// Prober polls service health endpoints.
type Prober struct {
	client   *http.Client
	logger   *slog.Logger
	interval time.Duration
}

// NewProber creates a Prober. A zero interval selects the default.
func NewProber(logger *slog.Logger, interval time.Duration) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Prober{
		client:   &http.Client{Timeout: probeTimeout},
		logger:   logger,
		interval: interval,
	}
}

// Check performs a single probe against url. Healthy means HTTP 200.
func (p *Prober) Check(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building probe request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("probing %s: %w", url, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned status %d", ErrUnhealthy, url, resp.StatusCode)
	}
	return nil
}

// WaitHealthy polls url until it answers healthy or timeout elapses.
// Per-attempt failures are logged at info so a stalled wait shows
// progress; the final failure wraps ErrUnhealthy with the last probe
// error.
func (p *Prober) WaitHealthy(ctx context.Context, name, url string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	attempt := 0
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		attempt++
		if err := p.Check(ctx, url); err == nil {
			p.logger.Info("service healthy", "service", name, "attempts", attempt)
			return nil
		} else {
			lastErr = err
			p.logger.Info("health probe failed",
				"service", name,
				"attempt", attempt,
				"error", err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s did not become healthy within %v: %w",
				ErrUnhealthy, name, timeout, lastErr)
		case <-ticker.C:
		}
	}
}
