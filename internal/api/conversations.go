package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/simmerhq/simmer/internal/chat"
	"github.com/simmerhq/simmer/internal/conversation"
)

// ConversationReader is the read surface the conversation endpoints
// need. *conversation.Store satisfies it.
type ConversationReader interface {
	Conversation(ctx context.Context, id uuid.UUID) (*conversation.Conversation, error)
	Messages(ctx context.Context, conversationID uuid.UUID, limit, offset int32) ([]*conversation.Message, error)
	CountMessages(ctx context.Context, conversationID uuid.UUID) (int64, error)
}

// conversationResponse is the wire shape of GET /api/v1/conversations/{id}.
type conversationResponse struct {
	ID           string         `json:"id"`
	OwnerID      string         `json:"owner_id"`
	Title        string         `json:"title"`
	Metadata     map[string]any `json:"metadata"`
	MessageCount int            `json:"message_count"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// messageResponse is a single history entry.
type messageResponse struct {
	ID        string         `json:"id"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
}

// messagesResponse is the wire shape of GET /api/v1/conversations/{id}/messages.
type messagesResponse struct {
	ConversationID string            `json:"conversation_id"`
	Messages       []messageResponse `json:"messages"`
	Total          int64             `json:"total"`
	Limit          int32             `json:"limit"`
	Offset         int32             `json:"offset"`
}

// handleGetConversation returns conversation metadata by id.
func handleGetConversation(store ConversationReader, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathConversationID(w, r, logger)
		if !ok {
			return
		}

		conv, err := store.Conversation(r.Context(), id)
		if err != nil {
			if errors.Is(err, conversation.ErrNotFound) {
				writeError(w, http.StatusNotFound, "not_found", "conversation not found", logger)
				return
			}
			logger.Error("loading conversation", "conversation_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", logger)
			return
		}

		writeJSON(w, http.StatusOK, conversationResponse{
			ID:           conv.ID.String(),
			OwnerID:      conv.OwnerID,
			Title:        conv.Title,
			Metadata:     conv.Metadata,
			MessageCount: conv.MessageCount,
			CreatedAt:    conv.CreatedAt,
			UpdatedAt:    conv.UpdatedAt,
		}, logger)
	}
}

// handleGetMessages returns paginated message history, oldest first.
func handleGetMessages(store ConversationReader, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathConversationID(w, r, logger)
		if !ok {
			return
		}

		limit := conversation.NormalizeLimit(queryInt32(r, "limit", conversation.DefaultMessageLimit))
		offset := queryInt32(r, "offset", 0)
		if offset < 0 {
			offset = 0
		}

		// Existence check so an unknown id is 404, not an empty page.
		if _, err := store.Conversation(r.Context(), id); err != nil {
			if errors.Is(err, conversation.ErrNotFound) {
				writeError(w, http.StatusNotFound, "not_found", "conversation not found", logger)
				return
			}
			logger.Error("loading conversation", "conversation_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", logger)
			return
		}

		msgs, err := store.Messages(r.Context(), id, limit, offset)
		if err != nil {
			logger.Error("loading messages", "conversation_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", logger)
			return
		}
		total, err := store.CountMessages(r.Context(), id)
		if err != nil {
			logger.Error("counting messages", "conversation_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", logger)
			return
		}

		out := make([]messageResponse, 0, len(msgs))
		for _, m := range msgs {
			out = append(out, messageResponse{
				ID:        m.ID.String(),
				Role:      m.Role,
				Content:   m.Content,
				Metadata:  m.Metadata,
				CreatedAt: m.CreatedAt,
			})
		}

		writeJSON(w, http.StatusOK, messagesResponse{
			ConversationID: id.String(),
			Messages:       out,
			Total:          total,
			Limit:          limit,
			Offset:         offset,
		}, logger)
	}
}

// pathConversationID parses the {id} path segment, writing a 400 on
// malformed input. Same syntax rule as the chat pipeline.
func pathConversationID(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (uuid.UUID, bool) {
	id, err := chat.ParseConversationID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "conversation id must be a canonical UUID", logger)
		return uuid.Nil, false
	}
	return id, true
}

// queryInt32 parses an int32 query parameter with a fallback.
func queryInt32(r *http.Request, key string, fallback int32) int32 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return fallback
	}
	return int32(n)
}
