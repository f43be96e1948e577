package chat

import "errors"

// Sentinel errors for chat-turn orchestration. The API layer maps these
// to HTTP status codes with errors.Is.
var (
	// ErrInvalidRequest indicates a malformed chat-turn request. Nothing is
	// persisted; the validation detail is safe to surface to the caller.
	ErrInvalidRequest = errors.New("invalid chat request")

	// ErrBackendUnavailable indicates the agent call failed after the retry
	// budget was exhausted, timed out, or returned a non-2xx status. The
	// caller sees the fixed apology message; the real cause stays in
	// message metadata and server logs.
	ErrBackendUnavailable = errors.New("agent backend unavailable")
)

// ApologyMessage is the fixed user-facing content persisted for a failed
// turn. The UI always has something to render; upstream error text is
// never shown to end users.
const ApologyMessage = "I'm sorry, I ran into a problem while preparing your answer. Please try again in a moment."
