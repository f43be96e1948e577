// Package chat orchestrates a single chat turn between the web API and
// the agent process.
//
// Pipeline per turn: validate the request before any side effect, ensure
// the target conversation exists (idempotent create under concurrent
// first-turn races), persist the inbound user message, call the agent
// with a bounded timeout and a small retry budget, persist the outcome
// (reply or a fixed apology flagged as an error), and return a
// normalized result.
//
// Ordering within a turn is strict: user-message persistence precedes the
// agent call, which precedes assistant-message persistence, so a crash
// mid-turn leaves a store state that distinguishes "asked, no answer yet"
// from "asked, got error" from "asked, got answer". Store writes are
// best-effort relative to delivering the answer: once the outcome is
// determined, a failed write is logged but never changes the response.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/simmerhq/simmer/internal/agent"
	"github.com/simmerhq/simmer/internal/config"
	"github.com/simmerhq/simmer/internal/conversation"
)

// maxTitleRunes clips the derived conversation title.
const maxTitleRunes = 80

// ConversationStore is the persistence surface the orchestrator needs.
// Interface defined by the consumer; *conversation.Store satisfies it.
type ConversationStore interface {
	CreateIfAbsent(ctx context.Context, conv *conversation.Conversation) (bool, error)
	AddMessage(ctx context.Context, conversationID uuid.UUID, role, content string, metadata map[string]any) (*conversation.Message, error)
}

// Backend runs one agent invocation. *agent.Client satisfies it.
type Backend interface {
	RunChat(ctx context.Context, messages []agent.Message, opts config.RetrievalOptions) (*agent.Reply, error)
}

// TurnRequest is one chat-turn invocation.
type TurnRequest struct {
	ConversationID string
	Messages       []agent.Message
	ClientMetadata map[string]any
	Overrides      map[string]any // retrieval configurable overrides
}

// TurnResult is the normalized successful outcome of a turn.
type TurnResult struct {
	Content string
	Model   string
	Usage   agent.Usage
}

// Orchestrator coordinates the chat-turn pipeline. Stateless across
// requests; all configuration is captured immutably at construction.
type Orchestrator struct {
	cfg     *config.Config
	store   ConversationStore
	backend Backend
	logger  *slog.Logger
	retry   RetryConfig
	breaker *Breaker
	tracer  trace.Tracer
}

// New creates an Orchestrator. A zero-value retry config selects the
// default budget.
func New(cfg *config.Config, store ConversationStore, backend Backend, logger *slog.Logger, retry RetryConfig) (*Orchestrator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if store == nil {
		return nil, errors.New("conversation store is required")
	}
	if backend == nil {
		return nil, errors.New("agent backend is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryConfig()
	}

	return &Orchestrator{
		cfg:     cfg,
		store:   store,
		backend: backend,
		logger:  logger,
		retry:   retry,
		breaker: NewBreaker(DefaultBreakerConfig()),
		tracer:  otel.Tracer("simmer/chat"),
	}, nil
}

// HandleTurn runs the full chat-turn pipeline. Validation failures return
// ErrInvalidRequest before any store access; agent failures return
// ErrBackendUnavailable after persisting the apology message.
func (o *Orchestrator) HandleTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	convID, err := validateTurn(req)
	if err != nil {
		return nil, err
	}

	ctx, span := o.tracer.Start(ctx, "chat.turn",
		trace.WithAttributes(attribute.String("conversation.id", convID.String())))
	defer span.End()

	lastUser := req.Messages[len(req.Messages)-1]

	// 1. Ensure the conversation exists. The caller-supplied id makes this
	// idempotent: a concurrent first turn winning the insert is success.
	// The title comes from the first user utterance in the request, so a
	// lazily created conversation with carried history is named after its
	// opening question.
	created, err := o.store.CreateIfAbsent(ctx, &conversation.Conversation{
		ID:       convID,
		OwnerID:  ownerFromMetadata(req.ClientMetadata),
		Title:    deriveTitle(firstUserContent(req.Messages)),
		Metadata: map[string]any{},
	})
	if err != nil {
		return nil, fmt.Errorf("ensuring conversation: %w", err)
	}
	if created {
		o.logger.Info("conversation created", "conversation_id", convID)
	}

	// 2. Persist the inbound user message. Best-effort: a failed write is
	// degraded durability, not a failed turn.
	userMeta := map[string]any{"source": "web"}
	for k, v := range req.ClientMetadata {
		userMeta[k] = v
	}
	if _, err := o.store.AddMessage(ctx, convID, conversation.RoleUser, lastUser.Content, userMeta); err != nil {
		o.logger.Error("persisting user message failed",
			"conversation_id", convID,
			"role", conversation.RoleUser,
			"error", err)
	}

	// 3. Agent call: filtered history, per-request retrieval options, the
	// api_timeout budget, the retry envelope, and the circuit breaker.
	history := filterRoles(req.Messages)
	opts := o.cfg.EnsureRetrieval(req.Overrides)

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.APITimeout)
	defer cancel()

	start := time.Now()
	reply, err := o.callBackend(callCtx, history, opts)
	latency := time.Since(start)

	if err != nil {
		o.persistFailure(ctx, convID, err, latency)
		return nil, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}

	// 4. Persist the assistant reply. Same best-effort rule as step 2.
	assistantMeta := map[string]any{
		"source":       "agent",
		"model":        reply.Model,
		"total_tokens": reply.Usage.TotalTokens,
		"latency_ms":   latency.Milliseconds(),
	}
	if _, err := o.store.AddMessage(ctx, convID, conversation.RoleAssistant, reply.Content, assistantMeta); err != nil {
		o.logger.Error("persisting assistant message failed",
			"conversation_id", convID,
			"role", conversation.RoleAssistant,
			"error", err)
	}

	return &TurnResult{
		Content: reply.Content,
		Model:   reply.Model,
		Usage:   reply.Usage,
	}, nil
}

// persistFailure records the error-flagged assistant message. The fixed
// apology is the user-visible content; the real cause goes into metadata.
func (o *Orchestrator) persistFailure(ctx context.Context, convID uuid.UUID, cause error, latency time.Duration) {
	meta := map[string]any{
		"source":       "agent",
		"error":        true,
		"error_detail": cause.Error(),
		"latency_ms":   latency.Milliseconds(),
	}
	var statusErr *agent.StatusError
	if errors.As(cause, &statusErr) {
		meta["upstream_status"] = statusErr.StatusCode
	}

	if _, err := o.store.AddMessage(ctx, convID, conversation.RoleAssistant, ApologyMessage, meta); err != nil {
		o.logger.Error("persisting error message failed",
			"conversation_id", convID,
			"role", conversation.RoleAssistant,
			"error", err)
	}
}

// validateTurn checks the request before any side effect.
func validateTurn(req TurnRequest) (uuid.UUID, error) {
	convID, err := ParseConversationID(req.ConversationID)
	if err != nil {
		return uuid.Nil, err
	}
	if len(req.Messages) == 0 {
		return uuid.Nil, fmt.Errorf("%w: messages must not be empty", ErrInvalidRequest)
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != conversation.RoleUser {
		return uuid.Nil, fmt.Errorf("%w: last message role must be %q, got %q",
			ErrInvalidRequest, conversation.RoleUser, last.Role)
	}
	return convID, nil
}

// ParseConversationID validates the caller-supplied conversation id.
// Canonical 36-character UUID syntax only; the version nibble is not
// checked (documented acceptance vectors include version-1 ids).
func ParseConversationID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, fmt.Errorf("%w: conversation_id is required", ErrInvalidRequest)
	}
	if len(s) != 36 {
		return uuid.Nil, fmt.Errorf("%w: conversation_id must be a canonical UUID", ErrInvalidRequest)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: conversation_id must be a canonical UUID", ErrInvalidRequest)
	}
	return id, nil
}

// filterRoles keeps only user and assistant entries for the agent call.
// Explicit allow-list: caller-supplied system entries are dropped here,
// in one place, before crossing the process boundary.
func filterRoles(messages []agent.Message) []agent.Message {
	filtered := make([]agent.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case conversation.RoleUser, conversation.RoleAssistant:
			filtered = append(filtered, msg)
		}
	}
	return filtered
}

// ownerFromMetadata extracts the owner reference from client metadata,
// defaulting to the anonymous placeholder.
func ownerFromMetadata(meta map[string]any) string {
	if uid, ok := meta["user_id"].(string); ok && uid != "" {
		return uid
	}
	return conversation.AnonymousOwner
}

// firstUserContent returns the content of the earliest user-role entry.
// Validation guarantees at least one exists (the last message).
func firstUserContent(messages []agent.Message) string {
	for _, msg := range messages {
		if msg.Role == conversation.RoleUser {
			return msg.Content
		}
	}
	return ""
}

// deriveTitle builds a display title from the first user utterance.
func deriveTitle(content string) string {
	runes := []rune(content)
	if len(runes) <= maxTitleRunes {
		return content
	}
	return string(runes[:maxTitleRunes-1]) + "…"
}
