package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/simmerhq/simmer/internal/agent"
	"github.com/simmerhq/simmer/internal/chat"
	"github.com/simmerhq/simmer/internal/conversation"
)

// maxChatBodyBytes bounds the request body to keep hostile payloads cheap.
const maxChatBodyBytes = 1 << 20 // 1 MiB

// TurnHandler runs one chat turn. *chat.Orchestrator satisfies it.
type TurnHandler interface {
	HandleTurn(ctx context.Context, req chat.TurnRequest) (*chat.TurnResult, error)
}

// chatRequest is the wire shape of POST /api/v1/chat.
type chatRequest struct {
	ConversationID string          `json:"conversation_id"`
	Messages       []agent.Message `json:"messages"`
	ClientMetadata map[string]any  `json:"client_metadata,omitempty"`
	Config         map[string]any  `json:"config,omitempty"`
}

// chatResponse is the wire shape of a successful turn.
type chatResponse struct {
	Content string    `json:"content"`
	Model   string    `json:"model,omitempty"`
	Usage   chatUsage `json:"usage"`
}

type chatUsage struct {
	TotalTokens int `json:"total_tokens"`
}

// handleChat decodes a turn request, runs the orchestrator, and maps
// pipeline errors onto HTTP status codes.
func handleChat(turns TurnHandler, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)

		var req chatRequest
		dec := json.NewDecoder(r.Body)
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "request body must be valid JSON", logger)
			return
		}

		result, err := turns.HandleTurn(r.Context(), chat.TurnRequest{
			ConversationID: req.ConversationID,
			Messages:       req.Messages,
			ClientMetadata: req.ClientMetadata,
			Overrides:      req.Config,
		})
		if err != nil {
			writeTurnError(w, r, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, chatResponse{
			Content: result.Content,
			Model:   result.Model,
			Usage:   chatUsage{TotalTokens: result.Usage.TotalTokens},
		}, logger)
	}
}

// writeTurnError maps orchestrator errors to status codes. The backend
// failure detail stays in the logs; clients get a stable code.
func writeTurnError(w http.ResponseWriter, r *http.Request, err error, logger *slog.Logger) {
	switch {
	case errors.Is(err, chat.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), logger)
	case errors.Is(err, conversation.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "conversation not found", logger)
	case errors.Is(err, chat.ErrBackendUnavailable):
		requestID, _ := requestIDFromContext(r.Context())
		logger.Error("chat turn failed",
			"error", err,
			"request_id", requestID,
		)
		writeError(w, http.StatusBadGateway, "backend_unavailable", chat.ApologyMessage, logger)
	default:
		requestID, _ := requestIDFromContext(r.Context())
		logger.Error("chat turn failed",
			"error", err,
			"request_id", requestID,
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", logger)
	}
}
