package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/simmerhq/simmer/internal/api"
	"github.com/simmerhq/simmer/internal/app"
)

// Server timeout configuration. WriteTimeout comes from the resolved
// web timeout so the HTTP layer never cuts a turn short beneath the
// orchestrator's own budget.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second
)

// executeServe starts the web process and blocks until SIGINT/SIGTERM.
func executeServe() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer closeCancel()
		if closeErr := a.Close(closeCtx); closeErr != nil {
			a.Logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	handler := api.NewHandler(api.ServerConfig{
		Logger:      a.Logger,
		Turns:       a.Orchestrator,
		Store:       a.Store,
		Pool:        a.Pool,
		CORSOrigins: a.Config.CORSOrigins,
		Development: !a.Config.IsProduction(),
		TrustProxy:  a.Config.IsProduction(),
		RateBurst:   parseRateBurst(),
		Service:     app.ServiceName,
		Version:     AppVersion,
	})

	srv := &http.Server{
		Addr:              a.Config.WebAddr(),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      a.Config.WebTimeout,
		IdleTimeout:       idleTimeout,
	}

	a.Logger.Info("HTTP server ready",
		"addr", a.Config.WebAddr(),
		"api", "/api/v1/*",
		"health", "/health, /ready",
		"version", AppVersion,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		a.Logger.Info("shutting down HTTP server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server: %w", err)
	}
}

// parseRateBurst reads SIMMER_RATE_BURST from the environment.
// Returns 0 (use default) if unset or invalid.
func parseRateBurst() int {
	v := os.Getenv("SIMMER_RATE_BURST")
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
