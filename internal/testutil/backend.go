package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
)

// StubAgent is an in-process stand-in for the agent service's /chat
// endpoint. Responses are queued: each request consumes the next queued
// response, and the last one repeats once the queue drains.
type StubAgent struct {
	Server *httptest.Server

	mu        sync.Mutex
	responses []StubResponse
	requests  [][]byte
}

// StubResponse is one scripted response; build with Respond.
type StubResponse struct {
	status int
	body   any
}

// NewStubAgent starts a stub agent that always answers with the given
// reply body and HTTP 200. Use Script to queue failures.
func NewStubAgent(reply any) *StubAgent {
	s := &StubAgent{}
	s.responses = []StubResponse{{status: http.StatusOK, body: reply}}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Script replaces the scripted responses. The first call consumes the
// first entry; the final entry repeats thereafter.
func (s *StubAgent) Script(responses ...StubResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = responses
}

// Respond builds one scripted response for Script.
func Respond(status int, body any) StubResponse {
	return StubResponse{status: status, body: body}
}

// Requests returns the raw JSON bodies received so far.
func (s *StubAgent) Requests() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.requests))
	copy(out, s.requests)
	return out
}

// URL returns the stub's base URL.
func (s *StubAgent) URL() string {
	return s.Server.URL
}

// Close shuts down the stub server.
func (s *StubAgent) Close() {
	s.Server.Close()
}

func (s *StubAgent) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	s.requests = append(s.requests, body)
	resp := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.status)
	if resp.body != nil {
		_ = json.NewEncoder(w).Encode(resp.body)
	}
}
