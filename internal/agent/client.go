// Package agent provides the HTTP client for the simmer agent process.
//
// The agent runs retrieval-augmented generation over the recipe index and
// is consumed here as an opaque collaborator: a message history plus
// retrieval options in, a generated reply out. Everything else about the
// agent (embedding, vector search, prompt construction) stays behind this
// boundary.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/simmerhq/simmer/internal/config"
)

// chatPath is the agent's chat endpoint.
const chatPath = "/chat"

// maxErrorBodyBytes bounds how much of an upstream error body is kept for
// server-side logging.
const maxErrorBodyBytes = 2048

// Message is one entry of the history forwarded to the agent.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage reports token consumption for a generated reply.
type Usage struct {
	TotalTokens int `json:"total_tokens"`
}

// Reply is the agent's normalized answer to a chat invocation.
type Reply struct {
	Content string `json:"content"`
	Model   string `json:"model"`
	Usage   Usage  `json:"usage"`
}

// StatusError reports a non-2xx response from the agent. The body snippet
// is for server-side logs only and must never reach end users.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("agent returned status %d", e.StatusCode)
}

// chatRequest is the wire format of a chat invocation.
type chatRequest struct {
	Messages  []Message               `json:"messages"`
	Retrieval config.RetrievalOptions `json:"retrieval"`
}

// Client calls the agent process over HTTP. Safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client for the agent at baseURL. The timeout bounds
// each individual request; callers layer their own context deadlines on
// top for the per-turn budget.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// RunChat sends the message history and retrieval options to the agent
// and returns its reply. Non-2xx responses yield a *StatusError;
// transport failures and timeouts are returned wrapped.
func (c *Client) RunChat(ctx context.Context, messages []Message, opts config.RetrievalOptions) (*Reply, error) {
	body, err := json.Marshal(chatRequest{Messages: messages, Retrieval: opts})
	if err != nil {
		return nil, fmt.Errorf("encoding chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling agent: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Debug("closing agent response body", "error", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		c.logger.Warn("agent call failed",
			"status", resp.StatusCode,
			"elapsed", time.Since(start))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(snippet)}
	}

	var reply Reply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("decoding agent reply: %w", err)
	}

	c.logger.Debug("agent call completed",
		"model", reply.Model,
		"total_tokens", reply.Usage.TotalTokens,
		"elapsed", time.Since(start))
	return &reply, nil
}
