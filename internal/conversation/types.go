// Package conversation provides durable conversation and message
// persistence for chat transcripts.
//
// Messages are append-only: once written they are never mutated or
// reordered, and ordering is by creation time. Conversations are created
// lazily with a caller-supplied identifier; see Store.CreateIfAbsent for
// the idempotent-create contract.
package conversation

import (
	"time"

	"github.com/google/uuid"
)

// Message roles. The orchestration layer only persists user and
// assistant messages; system entries from callers are dropped before the
// agent call and never stored.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// AnonymousOwner is the owner reference recorded when a chat turn arrives
// without a user identity.
const AnonymousOwner = "anonymous"

// Conversation is a thread of messages owned by a single user.
type Conversation struct {
	ID           uuid.UUID
	OwnerID      string
	Title        string
	Metadata     map[string]any
	MessageCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Message is a single transcript entry. Metadata carries model identifier,
// token usage, latency, and the error flag/detail for failed turns.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Role           string
	Content        string
	Metadata       map[string]any
	CreatedAt      time.Time
}
