// Package api exposes the HTTP surface of the web process: the chat
// turn endpoint, conversation reads, and health/readiness probes.
//
// Middleware order matters: recovery wraps everything, request ids are
// assigned before logging, and rate limiting runs last so rejected
// requests are still logged with their id.
package api

import (
	"log/slog"
	"net/http"
)

const (
	// defaultRateLimit is requests per second per client IP.
	defaultRateLimit = 5.0
	defaultRateBurst = 10
)

// ServerConfig carries the dependencies of the HTTP handler tree.
type ServerConfig struct {
	Logger      *slog.Logger
	Turns       TurnHandler
	Store       ConversationReader
	Pool        readinessPinger
	CORSOrigins []string
	Development bool
	TrustProxy  bool
	RateLimit   float64 // requests per second per IP; 0 selects the default
	RateBurst   int
	Service     string
	Version     string
}

// NewHandler builds the full HTTP handler: routed endpoints wrapped in
// the middleware chain. Health endpoints sit outside rate limiting so
// orchestration probes are never throttled.
func NewHandler(cfg ServerConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	rateLimit := cfg.RateLimit
	if rateLimit <= 0 {
		rateLimit = defaultRateLimit
	}
	rateBurst := cfg.RateBurst
	if rateBurst <= 0 {
		rateBurst = defaultRateBurst
	}

	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /api/v1/chat", handleChat(cfg.Turns, logger))
	apiMux.HandleFunc("GET /api/v1/conversations/{id}", handleGetConversation(cfg.Store, logger))
	apiMux.HandleFunc("GET /api/v1/conversations/{id}/messages", handleGetMessages(cfg.Store, logger))

	limiter := newRateLimiter(rateLimit, rateBurst)
	apiHandler := chainMiddleware(apiMux,
		recoveryMiddleware(logger),
		requestIDMiddleware(),
		loggingMiddleware(logger),
		corsMiddleware(cfg.CORSOrigins),
		rateLimitMiddleware(limiter, cfg.TrustProxy, logger),
	)

	root := http.NewServeMux()
	root.HandleFunc("GET /health", handleHealth(cfg.Service, cfg.Version, logger))
	root.HandleFunc("GET /ready", handleReady(cfg.Pool, cfg.Service, cfg.Version, logger))
	root.Handle("/api/v1/", apiHandler)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, cfg.Development)
		root.ServeHTTP(w, r)
	})
}

// chainMiddleware applies middleware in declaration order: the first
// entry is the outermost wrapper.
func chainMiddleware(h http.Handler, middleware ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middleware) - 1; i >= 0; i-- {
		h = middleware[i](h)
	}
	return h
}
