package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/goleak"

	"github.com/simmerhq/simmer/internal/agent"
	"github.com/simmerhq/simmer/internal/config"
	"github.com/simmerhq/simmer/internal/conversation"
	"github.com/simmerhq/simmer/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// validConvID is canonical UUID syntax with a version-1 nibble; the
// pipeline accepts any canonical UUID, not just version 4.
const validConvID = "123e4567-e89b-12d3-a456-426614174000"

// fakeStore records orchestrator persistence calls in memory.
type fakeStore struct {
	mu            sync.Mutex
	conversations map[uuid.UUID]*conversation.Conversation
	messages      []storedMessage
	existing      map[uuid.UUID]bool // ids treated as already created
	createErr     error
	addErr        error // fail every AddMessage
	addUserErr    error // fail only user-role writes
}

type storedMessage struct {
	conversationID uuid.UUID
	role           string
	content        string
	metadata       map[string]any
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		conversations: make(map[uuid.UUID]*conversation.Conversation),
		existing:      make(map[uuid.UUID]bool),
	}
}

func (s *fakeStore) CreateIfAbsent(ctx context.Context, conv *conversation.Conversation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return false, s.createErr
	}
	if s.existing[conv.ID] {
		return false, nil
	}
	s.conversations[conv.ID] = conv
	return true, nil
}

func (s *fakeStore) AddMessage(ctx context.Context, conversationID uuid.UUID, role, content string, metadata map[string]any) (*conversation.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addErr != nil {
		return nil, s.addErr
	}
	if s.addUserErr != nil && role == conversation.RoleUser {
		return nil, s.addUserErr
	}
	s.messages = append(s.messages, storedMessage{
		conversationID: conversationID,
		role:           role,
		content:        content,
		metadata:       metadata,
	})
	return &conversation.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Metadata:       metadata,
	}, nil
}

func (s *fakeStore) byRole(role string) []storedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storedMessage
	for _, m := range s.messages {
		if m.role == role {
			out = append(out, m)
		}
	}
	return out
}

// fakeBackend scripts agent replies and records what it was asked.
type fakeBackend struct {
	mu       sync.Mutex
	replies  []backendResult
	calls    int
	received [][]agent.Message
	opts     []config.RetrievalOptions
}

type backendResult struct {
	reply *agent.Reply
	err   error
}

func (b *fakeBackend) RunChat(ctx context.Context, messages []agent.Message, opts config.RetrievalOptions) (*agent.Reply, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	b.received = append(b.received, messages)
	b.opts = append(b.opts, opts)
	if len(b.replies) == 0 {
		return &agent.Reply{Content: "default reply", Model: "test-model"}, nil
	}
	r := b.replies[0]
	if len(b.replies) > 1 {
		b.replies = b.replies[1:]
	}
	return r.reply, r.err
}

func (b *fakeBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:            config.EnvDevelopment,
		RetrieverProvider: config.RetrieverMemory,
		EmbedderModel:     config.DefaultEmbedderModel,
		RetrievalTopK:     4,
		WebTimeout:        2 * time.Second,
		APITimeout:        time.Second,
		AgentTimeout:      time.Second,
	}
}

// fastRetry keeps backoff out of the test runtime.
func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func newTestOrchestrator(t *testing.T, store *fakeStore, backend *fakeBackend) *Orchestrator {
	t.Helper()
	o, err := New(testConfig(), store, backend, testutil.DiscardLogger(), fastRetry())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return o
}

func userTurn(content string) TurnRequest {
	return TurnRequest{
		ConversationID: validConvID,
		Messages:       []agent.Message{{Role: "user", Content: content}},
	}
}

func TestHandleTurnSuccess(t *testing.T) {
	store := newFakeStore()
	backend := &fakeBackend{replies: []backendResult{{
		reply: &agent.Reply{
			Content: "Sear the duck breast skin-side down.",
			Model:   "test-model",
			Usage:   agent.Usage{TotalTokens: 42},
		},
	}}}
	o := newTestOrchestrator(t, store, backend)

	result, err := o.HandleTurn(context.Background(), userTurn("How do I cook duck breast?"))
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}

	if result.Content != "Sear the duck breast skin-side down." {
		t.Errorf("unexpected content: %q", result.Content)
	}
	if result.Model != "test-model" {
		t.Errorf("unexpected model: %q", result.Model)
	}
	if result.Usage.TotalTokens != 42 {
		t.Errorf("unexpected token count: %d", result.Usage.TotalTokens)
	}

	users := store.byRole(conversation.RoleUser)
	assistants := store.byRole(conversation.RoleAssistant)
	if len(users) != 1 {
		t.Fatalf("expected exactly one user message, got %d", len(users))
	}
	if len(assistants) != 1 {
		t.Fatalf("expected exactly one assistant message, got %d", len(assistants))
	}
	if users[0].content != "How do I cook duck breast?" {
		t.Errorf("unexpected user message content: %q", users[0].content)
	}
	if assistants[0].content != result.Content {
		t.Errorf("assistant message should match the returned reply")
	}
	if users[0].metadata["source"] != "web" {
		t.Errorf("expected user source 'web', got %v", users[0].metadata["source"])
	}
	if assistants[0].metadata["source"] != "agent" {
		t.Errorf("expected assistant source 'agent', got %v", assistants[0].metadata["source"])
	}
}

func TestHandleTurnCreatesConversation(t *testing.T) {
	store := newFakeStore()
	o := newTestOrchestrator(t, store, &fakeBackend{})

	req := userTurn("first turn")
	req.ClientMetadata = map[string]any{"user_id": "cook-7"}
	if _, err := o.HandleTurn(context.Background(), req); err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}

	id := uuid.MustParse(validConvID)
	conv, ok := store.conversations[id]
	if !ok {
		t.Fatal("conversation was not created")
	}
	if conv.OwnerID != "cook-7" {
		t.Errorf("expected owner from client metadata, got %q", conv.OwnerID)
	}
	if conv.Title != "first turn" {
		t.Errorf("expected title from user message, got %q", conv.Title)
	}
}

func TestHandleTurnTitleFromFirstUserMessage(t *testing.T) {
	store := newFakeStore()
	o := newTestOrchestrator(t, store, &fakeBackend{})

	// Lazy creation with carried history: the title comes from the
	// opening user message, not the inbound one.
	req := TurnRequest{
		ConversationID: validConvID,
		Messages: []agent.Message{
			{Role: "user", Content: "how do I make veal stock?"},
			{Role: "assistant", Content: "Roast the bones first."},
			{Role: "user", Content: "how long should it simmer?"},
		},
	}
	if _, err := o.HandleTurn(context.Background(), req); err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}

	conv := store.conversations[uuid.MustParse(validConvID)]
	if conv.Title != "how do I make veal stock?" {
		t.Errorf("expected title from the opening user message, got %q", conv.Title)
	}

	// The persisted user message is still the inbound last one.
	users := store.byRole(conversation.RoleUser)
	if len(users) != 1 {
		t.Fatalf("expected 1 user message, got %d", len(users))
	}
	if users[0].content != "how long should it simmer?" {
		t.Errorf("expected the inbound user message persisted, got %q", users[0].content)
	}
}

func TestHandleTurnExistingConversation(t *testing.T) {
	store := newFakeStore()
	store.existing[uuid.MustParse(validConvID)] = true
	o := newTestOrchestrator(t, store, &fakeBackend{})

	// A lost creation race is success, not an error.
	if _, err := o.HandleTurn(context.Background(), userTurn("second turn")); err != nil {
		t.Fatalf("HandleTurn failed for existing conversation: %v", err)
	}
	if len(store.byRole(conversation.RoleUser)) != 1 {
		t.Error("user message not persisted for existing conversation")
	}
}

func TestHandleTurnAnonymousOwner(t *testing.T) {
	store := newFakeStore()
	o := newTestOrchestrator(t, store, &fakeBackend{})

	if _, err := o.HandleTurn(context.Background(), userTurn("hello")); err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}

	conv := store.conversations[uuid.MustParse(validConvID)]
	if conv.OwnerID != conversation.AnonymousOwner {
		t.Errorf("expected anonymous owner, got %q", conv.OwnerID)
	}
}

func TestHandleTurnInvalidConversationID(t *testing.T) {
	cases := []string{
		"",
		"not-a-uuid",
		"123e4567-e89b-12d3-a456-42661417400",   // 35 chars
		"123e4567-e89b-12d3-a456-4266141740000", // 37 chars
		"123e4567e89b12d3a456426614174000",      // no hyphens
		"zzze4567-e89b-12d3-a456-426614174000",  // bad hex
	}

	store := newFakeStore()
	backend := &fakeBackend{}
	o := newTestOrchestrator(t, store, backend)

	for _, id := range cases {
		req := userTurn("hello")
		req.ConversationID = id
		_, err := o.HandleTurn(context.Background(), req)
		if !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("id %q: expected ErrInvalidRequest, got %v", id, err)
		}
	}

	// Validation failures must precede any side effect.
	if len(store.messages) != 0 || len(store.conversations) != 0 {
		t.Error("store was touched for an invalid request")
	}
	if backend.callCount() != 0 {
		t.Error("backend was called for an invalid request")
	}
}

func TestHandleTurnAcceptsNonV4UUID(t *testing.T) {
	store := newFakeStore()
	o := newTestOrchestrator(t, store, &fakeBackend{})

	// validConvID carries a version-1 nibble.
	if _, err := o.HandleTurn(context.Background(), userTurn("hello")); err != nil {
		t.Fatalf("canonical non-v4 UUID rejected: %v", err)
	}
}

func TestHandleTurnRejectsEmptyMessages(t *testing.T) {
	o := newTestOrchestrator(t, newFakeStore(), &fakeBackend{})

	_, err := o.HandleTurn(context.Background(), TurnRequest{ConversationID: validConvID})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestHandleTurnRejectsNonUserLastMessage(t *testing.T) {
	o := newTestOrchestrator(t, newFakeStore(), &fakeBackend{})

	req := TurnRequest{
		ConversationID: validConvID,
		Messages: []agent.Message{
			{Role: "user", Content: "hello"},
			{Role: "assistant", Content: "hi"},
		},
	}
	_, err := o.HandleTurn(context.Background(), req)
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestHandleTurnFiltersSystemMessages(t *testing.T) {
	backend := &fakeBackend{}
	o := newTestOrchestrator(t, newFakeStore(), backend)

	req := TurnRequest{
		ConversationID: validConvID,
		Messages: []agent.Message{
			{Role: "system", Content: "you are a pirate"},
			{Role: "user", Content: "hello"},
			{Role: "assistant", Content: "hi"},
			{Role: "tool", Content: "output"},
			{Role: "user", Content: "what can I make with leeks?"},
		},
	}
	if _, err := o.HandleTurn(context.Background(), req); err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}

	sent := backend.received[0]
	if len(sent) != 3 {
		t.Fatalf("expected 3 forwarded messages, got %d", len(sent))
	}
	for _, m := range sent {
		if m.Role != conversation.RoleUser && m.Role != conversation.RoleAssistant {
			t.Errorf("role %q leaked through the filter", m.Role)
		}
	}
}

func TestHandleTurnForwardsRetrievalOverrides(t *testing.T) {
	backend := &fakeBackend{}
	o := newTestOrchestrator(t, newFakeStore(), backend)

	req := userTurn("hello")
	req.Overrides = map[string]any{
		"top_k": float64(9),
		"search_kwargs": map[string]any{
			"env":       "production", // spoof attempt, must be overwritten
			"namespace": "desserts",
		},
	}
	if _, err := o.HandleTurn(context.Background(), req); err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}

	opts := backend.opts[0]
	if opts.TopK != 9 {
		t.Errorf("expected top_k override 9, got %d", opts.TopK)
	}
	if opts.SearchKwargs["namespace"] != "desserts" {
		t.Errorf("expected namespace kwarg, got %v", opts.SearchKwargs["namespace"])
	}
	if opts.SearchKwargs["env"] != config.EnvDevelopment {
		t.Errorf("env kwarg must come from the resolved config, got %v", opts.SearchKwargs["env"])
	}
}

func TestHandleTurnBackendFailurePersistsApology(t *testing.T) {
	store := newFakeStore()
	backend := &fakeBackend{replies: []backendResult{
		{err: &agent.StatusError{StatusCode: 400, Body: "bad request"}}, // non-retryable
	}}
	o := newTestOrchestrator(t, store, backend)

	_, err := o.HandleTurn(context.Background(), userTurn("hello"))
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}

	// Still exactly one user and one assistant message: the assistant
	// slot holds the apology, flagged as an error in metadata.
	users := store.byRole(conversation.RoleUser)
	assistants := store.byRole(conversation.RoleAssistant)
	if len(users) != 1 || len(assistants) != 1 {
		t.Fatalf("expected 1 user + 1 assistant message, got %d + %d", len(users), len(assistants))
	}
	if assistants[0].content != ApologyMessage {
		t.Errorf("expected apology content, got %q", assistants[0].content)
	}
	if assistants[0].metadata["error"] != true {
		t.Error("expected error flag in assistant metadata")
	}
	if assistants[0].metadata["upstream_status"] != 400 {
		t.Errorf("expected upstream status in metadata, got %v", assistants[0].metadata["upstream_status"])
	}
}

func TestHandleTurnRetriesTransientFailure(t *testing.T) {
	backend := &fakeBackend{replies: []backendResult{
		{err: &agent.StatusError{StatusCode: 503}},
		{reply: &agent.Reply{Content: "recovered", Model: "test-model"}},
	}}
	o := newTestOrchestrator(t, newFakeStore(), backend)

	result, err := o.HandleTurn(context.Background(), userTurn("hello"))
	if err != nil {
		t.Fatalf("HandleTurn failed after retryable error: %v", err)
	}
	if result.Content != "recovered" {
		t.Errorf("unexpected content: %q", result.Content)
	}
	if backend.callCount() != 2 {
		t.Errorf("expected 2 attempts, got %d", backend.callCount())
	}
}

func TestHandleTurnDoesNotRetryClientError(t *testing.T) {
	backend := &fakeBackend{replies: []backendResult{
		{err: &agent.StatusError{StatusCode: 422}},
	}}
	o := newTestOrchestrator(t, newFakeStore(), backend)

	_, err := o.HandleTurn(context.Background(), userTurn("hello"))
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
	if backend.callCount() != 1 {
		t.Errorf("client errors must not retry, got %d attempts", backend.callCount())
	}
}

func TestHandleTurnRetryBudgetExhausted(t *testing.T) {
	backend := &fakeBackend{replies: []backendResult{
		{err: &agent.StatusError{StatusCode: 503}},
		{err: &agent.StatusError{StatusCode: 503}},
		{err: &agent.StatusError{StatusCode: 503}},
	}}
	o := newTestOrchestrator(t, newFakeStore(), backend)

	_, err := o.HandleTurn(context.Background(), userTurn("hello"))
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
	if backend.callCount() != 2 {
		t.Errorf("expected exactly MaxAttempts=2 calls, got %d", backend.callCount())
	}
}

func TestHandleTurnBreakerShedsAfterRepeatedFailures(t *testing.T) {
	store := newFakeStore()
	backend := &fakeBackend{replies: []backendResult{
		{err: &agent.StatusError{StatusCode: 400, Body: "bad request"}}, // non-retryable
	}}
	o := newTestOrchestrator(t, store, backend)
	o.breaker = NewBreaker(BreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		CoolDown:         time.Hour,
	})

	// The first turn fails against the backend and trips the breaker.
	if _, err := o.HandleTurn(context.Background(), userTurn("hello")); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
	if o.breaker.State() != BreakerOpen {
		t.Fatalf("breaker should be open, got %v", o.breaker.State())
	}

	// The second turn is shed without reaching the backend but keeps the
	// per-turn message invariant: user message plus apology.
	before := backend.callCount()
	_, err := o.HandleTurn(context.Background(), userTurn("still there?"))
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable for the shed turn, got %v", err)
	}
	if !errors.Is(err, ErrBreakerOpen) {
		t.Errorf("expected ErrBreakerOpen in the chain, got %v", err)
	}
	if backend.callCount() != before {
		t.Errorf("shed turn must not reach the backend, got %d extra calls", backend.callCount()-before)
	}

	users := store.byRole(conversation.RoleUser)
	assistants := store.byRole(conversation.RoleAssistant)
	if len(users) != 2 || len(assistants) != 2 {
		t.Fatalf("expected 2 user + 2 assistant messages, got %d + %d", len(users), len(assistants))
	}
	if assistants[1].content != ApologyMessage {
		t.Errorf("expected apology for the shed turn, got %q", assistants[1].content)
	}
	if assistants[1].metadata["error"] != true {
		t.Error("expected error flag on the shed turn's assistant metadata")
	}
}

func TestHandleTurnBreakerRecovers(t *testing.T) {
	backend := &fakeBackend{replies: []backendResult{
		{err: &agent.StatusError{StatusCode: 400}},
		{reply: &agent.Reply{Content: "back again", Model: "test-model"}},
	}}
	o := newTestOrchestrator(t, newFakeStore(), backend)
	o.breaker = NewBreaker(BreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		CoolDown:         time.Millisecond,
	})

	if _, err := o.HandleTurn(context.Background(), userTurn("hello")); err == nil {
		t.Fatal("expected the first turn to fail")
	}
	if o.breaker.State() != BreakerOpen {
		t.Fatalf("breaker should be open, got %v", o.breaker.State())
	}

	// After the cool-down a turn is allowed through; its success closes
	// the circuit again.
	time.Sleep(5 * time.Millisecond)

	result, err := o.HandleTurn(context.Background(), userTurn("hello again"))
	if err != nil {
		t.Fatalf("HandleTurn failed after cool-down: %v", err)
	}
	if result.Content != "back again" {
		t.Errorf("unexpected content: %q", result.Content)
	}
	if o.breaker.State() != BreakerClosed {
		t.Errorf("breaker should be closed after recovery, got %v", o.breaker.State())
	}
}

func TestHandleTurnUserPersistenceFailureDoesNotFailTurn(t *testing.T) {
	store := newFakeStore()
	store.addUserErr = errors.New("disk full")
	o := newTestOrchestrator(t, store, &fakeBackend{})

	result, err := o.HandleTurn(context.Background(), userTurn("hello"))
	if err != nil {
		t.Fatalf("persistence failure must not fail the turn: %v", err)
	}
	if result.Content == "" {
		t.Error("expected a reply despite the failed write")
	}
}

func TestHandleTurnAssistantPersistenceFailureDoesNotFailTurn(t *testing.T) {
	store := newFakeStore()
	store.addErr = errors.New("connection lost")
	o := newTestOrchestrator(t, store, &fakeBackend{})

	result, err := o.HandleTurn(context.Background(), userTurn("hello"))
	if err != nil {
		t.Fatalf("persistence failure must not fail the turn: %v", err)
	}
	if result.Content != "default reply" {
		t.Errorf("response changed by persistence failure: %q", result.Content)
	}
}

func TestHandleTurnCreateFailureFailsTurn(t *testing.T) {
	store := newFakeStore()
	store.createErr = errors.New("database down")
	backend := &fakeBackend{}
	o := newTestOrchestrator(t, store, backend)

	_, err := o.HandleTurn(context.Background(), userTurn("hello"))
	if err == nil {
		t.Fatal("expected error when the conversation cannot be ensured")
	}
	if backend.callCount() != 0 {
		t.Error("backend must not be called when creation fails")
	}
}

func TestDeriveTitle(t *testing.T) {
	short := "Pasta night"
	if got := deriveTitle(short); got != short {
		t.Errorf("short title changed: %q", got)
	}

	long := strings.Repeat("a", 200)
	got := deriveTitle(long)
	if runes := []rune(got); len(runes) != maxTitleRunes {
		t.Errorf("expected clipped title of %d runes, got %d", maxTitleRunes, len(runes))
	}
	if !strings.HasSuffix(got, "…") {
		t.Error("clipped title should end with ellipsis")
	}

	multibyte := strings.Repeat("鍋", 100)
	got = deriveTitle(multibyte)
	if runes := []rune(got); len(runes) != maxTitleRunes {
		t.Errorf("multibyte clip produced %d runes", len(runes))
	}
}

func TestParseConversationID(t *testing.T) {
	if _, err := ParseConversationID(validConvID); err != nil {
		t.Errorf("valid id rejected: %v", err)
	}
	if _, err := ParseConversationID("urn:uuid:123e4567-e89b-12d3-a456-426614174000"); !errors.Is(err, ErrInvalidRequest) {
		t.Error("urn form must be rejected, canonical syntax only")
	}
}

func TestRetryableError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{&agent.StatusError{StatusCode: 500}, true},
		{&agent.StatusError{StatusCode: 503}, true},
		{&agent.StatusError{StatusCode: 408}, true},
		{&agent.StatusError{StatusCode: 429}, true},
		{&agent.StatusError{StatusCode: 400}, false},
		{&agent.StatusError{StatusCode: 404}, false},
		{errors.New("context deadline exceeded"), true},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("unexpected EOF"), true},
		{errors.New("invalid request payload"), false},
		{fmt.Errorf("calling agent: %w", errors.New("read: connection reset by peer")), true},
	}
	for _, tc := range cases {
		if got := retryableError(tc.err); got != tc.want {
			t.Errorf("retryableError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestCallWithRetryHonorsContext(t *testing.T) {
	backend := &fakeBackend{replies: []backendResult{
		{err: &agent.StatusError{StatusCode: 503}},
		{err: &agent.StatusError{StatusCode: 503}},
	}}
	store := newFakeStore()
	o, err := New(testConfig(), store, backend, testutil.DiscardLogger(),
		RetryConfig{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = o.callWithRetry(ctx, []agent.Message{{Role: "user", Content: "hi"}}, config.RetrievalOptions{})
	if err == nil {
		t.Fatal("expected error from canceled retry")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("retry did not abort on context cancellation, took %v", elapsed)
	}
}

func TestNewValidation(t *testing.T) {
	store := newFakeStore()
	backend := &fakeBackend{}
	logger := testutil.DiscardLogger()

	if _, err := New(nil, store, backend, logger, RetryConfig{}); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := New(testConfig(), nil, backend, logger, RetryConfig{}); err == nil {
		t.Error("expected error for nil store")
	}
	if _, err := New(testConfig(), store, nil, logger, RetryConfig{}); err == nil {
		t.Error("expected error for nil backend")
	}

	o, err := New(testConfig(), store, backend, logger, RetryConfig{})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if o.retry.MaxAttempts != DefaultRetryConfig().MaxAttempts {
		t.Error("zero retry config should select the default budget")
	}
}
