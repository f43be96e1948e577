package cmd

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/simmerhq/simmer/internal/config"
	"github.com/simmerhq/simmer/internal/health"
	"github.com/simmerhq/simmer/internal/log"
)

// executeWaitReady blocks until both the web and agent processes answer
// their health endpoints, or fails after the timeout. Exit status is the
// contract: deploy scripts gate on it.
func executeWaitReady(args []string) error {
	fs := flag.NewFlagSet("waitready", flag.ContinueOnError)
	timeout := fs.Duration("timeout", health.DefaultTimeout, "per-service polling budget")
	interval := fs.Duration("interval", health.DefaultInterval, "delay between probes")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := log.NewWithWriter(os.Stderr, log.Config{Level: slog.LevelInfo})
	prober := health.NewProber(logger, *interval)

	targets := []struct {
		name string
		url  string
	}{
		{"web", fmt.Sprintf("http://%s/health", cfg.WebAddr())},
		{"agent", cfg.AgentBaseURL + "/health"},
	}

	ctx := context.Background()
	start := time.Now()
	for _, t := range targets {
		if err := prober.WaitHealthy(ctx, t.name, t.url, *timeout); err != nil {
			return err
		}
	}

	logger.Info("all services healthy", "elapsed", time.Since(start))
	return nil
}
