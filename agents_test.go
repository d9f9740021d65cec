package main

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/adk/model"
	"google.golang.org/adk/session"
	"google.golang.org/genai"
)

// stubLLM answers each call with the next scripted reply. A nil parts slice
// means the call fails.
type stubLLM struct {
	mu       sync.Mutex
	replies  [][]string
	requests []*model.LLMRequest
}

func (m *stubLLM) Name() string { return "stub-model" }

func (m *stubLLM) GenerateContent(_ context.Context, req *model.LLMRequest, _ bool) iter.Seq2[*model.LLMResponse, error] {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	i := len(m.requests) - 1
	if i >= len(m.replies) {
		i = len(m.replies) - 1
	}
	parts := m.replies[i]
	m.mu.Unlock()

	return func(yield func(*model.LLMResponse, error) bool) {
		if parts == nil {
			yield(nil, errors.New("model unavailable"))
			return
		}
		content := &genai.Content{Role: genai.RoleModel}
		for _, p := range parts {
			content.Parts = append(content.Parts, genai.NewPartFromText(p))
		}
		yield(&model.LLMResponse{Content: content, TurnComplete: true}, nil)
	}
}

func (m *stubLLM) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func newStubGenerator(t *testing.T, llm model.LLM, retries int) *agentGenerator {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MaxRetries = retries
	gen, err := newAgentGenerator(llm, cfg)
	require.NoError(t, err)
	return gen
}

func remainingSessions(t *testing.T, gen *agentGenerator, userID string) []session.Session {
	t.Helper()
	resp, err := gen.sessions.List(context.Background(), &session.ListRequest{AppName: gen.appName, UserID: userID})
	require.NoError(t, err)
	return resp.Sessions
}

func TestAgentGenerator_JoinsFinalResponseParts(t *testing.T) {
	llm := &stubLLM{replies: [][]string{{"| Day | Topic |\n", "|---|---|\n", "| 1 | Limits |"}}}
	gen := newStubGenerator(t, llm, 0)

	out, err := gen.Generate(context.Background(), "user-1", "Create a study schedule for Calculus.")

	require.NoError(t, err)
	assert.Equal(t, "| Day | Topic |\n|---|---|\n| 1 | Limits |", out)
	assert.Empty(t, remainingSessions(t, gen, "user-1"))

	require.Equal(t, 1, llm.calls())
	req := llm.requests[0]
	require.NotNil(t, req.Config)
	require.NotNil(t, req.Config.Temperature)
	assert.InDelta(t, 0.1, *req.Config.Temperature, 0.0001)

	var system strings.Builder
	if req.Config.SystemInstruction != nil {
		for _, p := range req.Config.SystemInstruction.Parts {
			system.WriteString(p.Text)
		}
	}
	assert.Contains(t, system.String(), "Senior Academic Counselor")

	var user strings.Builder
	for _, c := range req.Contents {
		for _, p := range c.Parts {
			user.WriteString(p.Text)
		}
	}
	assert.Contains(t, user.String(), "Create a study schedule for Calculus.")
}

func TestAgentGenerator_BlankOutputIsEmptyResponse(t *testing.T) {
	llm := &stubLLM{replies: [][]string{{"  \n\t"}}}
	gen := newStubGenerator(t, llm, 0)

	_, err := gen.Generate(context.Background(), "user-2", "prompt")

	assert.ErrorIs(t, err, ErrEmptyResponse)
	assert.Empty(t, remainingSessions(t, gen, "user-2"))
}

func TestAgentGenerator_RetriesInFreshSession(t *testing.T) {
	llm := &stubLLM{replies: [][]string{nil, {"| Day |"}}}
	gen := newStubGenerator(t, llm, 1)

	out, err := gen.Generate(context.Background(), "user-3", "prompt")

	require.NoError(t, err)
	assert.Equal(t, "| Day |", out)
	assert.Equal(t, 2, llm.calls())
	// The failed first attempt leaves nothing in the retried conversation.
	assert.Len(t, llm.requests[1].Contents, 1)
	assert.Empty(t, remainingSessions(t, gen, "user-3"))
}

func TestAgentGenerator_ModelErrorAfterRetries(t *testing.T) {
	llm := &stubLLM{replies: [][]string{nil}}
	gen := newStubGenerator(t, llm, 0)

	_, err := gen.Generate(context.Background(), "user-4", "prompt")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "model unavailable")
	assert.Empty(t, remainingSessions(t, gen, "user-4"))
}
