package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-chat-go/internal/config"
	"rag-chat-go/internal/model"
)

const cannedReply = "Refunds are accepted within 30 days of purchase."

type chatRequestBody struct {
	Model    string `json:"model"`
	Stream   bool   `json:"stream"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	Temperature *float64 `json:"temperature"`
	MaxTokens   *int     `json:"max_tokens"`
}

// fakeProvider 是确定性的对话服务：同步返回 cannedReply，流式按空格切分后逐段返回。
type fakeProvider struct {
	mu       sync.Mutex
	requests []chatRequestBody
	status   int
}

func (p *fakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body chatRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p.mu.Lock()
	p.requests = append(p.requests, body)
	status := p.status
	p.mu.Unlock()

	if status != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":{"message":"provider down","type":"server_error"}}`))
		return
	}

	if !body.Stream {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "chatcmpl-1", "object": "chat.completion", "created": 0, "model": body.Model,
			"choices": []map[string]any{{
				"index": 0, "finish_reason": "stop",
				"message": map[string]any{"role": "assistant", "content": cannedReply},
			}},
		})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	flusher := w.(http.Flusher)
	words := strings.SplitAfter(cannedReply, " ")
	for _, word := range words {
		chunk, _ := json.Marshal(map[string]any{
			"id": "chatcmpl-1", "object": "chat.completion.chunk", "created": 0, "model": body.Model,
			"choices": []map[string]any{{"index": 0, "delta": map[string]any{"content": word}}},
		})
		if _, err := fmt.Fprintf(w, "data: %s\n\n", chunk); err != nil {
			return
		}
		flusher.Flush()
	}
	_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (p *fakeProvider) setStatus(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = status
}

func (p *fakeProvider) received() []chatRequestBody {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]chatRequestBody(nil), p.requests...)
}

func newTestGenerator(t *testing.T) (Generator, *fakeProvider) {
	t.Helper()
	provider := &fakeProvider{}
	srv := httptest.NewServer(provider)
	t.Cleanup(srv.Close)
	gen := NewClient(config.LLMConfig{
		APIKey:     "test-key",
		BaseURL:    srv.URL + "/v1/",
		Model:      "gpt-4o",
		Generation: config.LLMGenerationConfig{Temperature: 0.2, MaxTokens: 256},
	})
	return gen, provider
}

var testHistory = []model.ChatMessage{
	{Role: model.RoleUser, Content: "Hi"},
	{Role: model.RoleAssistant, Content: "Hello! How can I help?"},
	{Role: model.RoleUser, Content: "What is the refund policy?"},
}

const testContext = "[1] (policy.md) Refunds are accepted within 30 days."

func TestGenerate(t *testing.T) {
	gen, provider := newTestGenerator(t)

	reply, err := gen.Generate(context.Background(), testHistory, testContext)
	require.NoError(t, err)
	assert.Equal(t, cannedReply, reply)

	requests := provider.received()
	require.Len(t, requests, 1)
	req := requests[0]
	assert.Equal(t, "gpt-4o", req.Model)
	require.Len(t, req.Messages, 4)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, defaultRules)
	assert.Contains(t, req.Messages[0].Content, testContext)
	for i, m := range testHistory {
		assert.Equal(t, m.Role.String(), req.Messages[i+1].Role)
		assert.Equal(t, m.Content, req.Messages[i+1].Content)
	}
	require.NotNil(t, req.Temperature)
	assert.Equal(t, 0.2, *req.Temperature)
	require.NotNil(t, req.MaxTokens)
	assert.Equal(t, 256, *req.MaxTokens)
}

func TestGenerateStream_EquivalentToGenerate(t *testing.T) {
	gen, provider := newTestGenerator(t)
	ctx := context.Background()

	want, err := gen.Generate(ctx, testHistory, testContext)
	require.NoError(t, err)

	var sb strings.Builder
	deltas := 0
	for delta, err := range gen.GenerateStream(ctx, testHistory, testContext) {
		require.NoError(t, err)
		sb.WriteString(delta)
		deltas++
	}
	assert.Equal(t, want, sb.String())
	assert.Greater(t, deltas, 1)
	requests := provider.received()
	require.Len(t, requests, 2)
	assert.True(t, requests[1].Stream)
}

func TestGenerateStream_IsLazy(t *testing.T) {
	gen, provider := newTestGenerator(t)
	_ = gen.GenerateStream(context.Background(), testHistory, testContext)
	assert.Empty(t, provider.received())
}

func TestGenerateStream_EarlyBreakAndSingleUse(t *testing.T) {
	gen, _ := newTestGenerator(t)
	stream := gen.GenerateStream(context.Background(), testHistory, testContext)

	var first string
	for delta, err := range stream {
		require.NoError(t, err)
		first = delta
		break
	}
	assert.Equal(t, "Refunds ", first)

	for _, err := range stream {
		assert.ErrorIs(t, err, ErrStreamConsumed)
	}
}

func TestGenerate_ProviderFailure(t *testing.T) {
	gen, provider := newTestGenerator(t)
	provider.setStatus(http.StatusBadRequest)

	_, err := gen.Generate(context.Background(), testHistory, testContext)
	var genErr *model.GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, "gpt-4o", genErr.Model)
}

func TestGenerateStream_ProviderFailure(t *testing.T) {
	gen, provider := newTestGenerator(t)
	provider.setStatus(http.StatusBadRequest)

	var gotErr error
	for _, err := range gen.GenerateStream(context.Background(), testHistory, testContext) {
		if err != nil {
			gotErr = err
		}
	}
	var genErr *model.GenerationError
	assert.ErrorAs(t, gotErr, &genErr)
}

func TestSystemPrompt(t *testing.T) {
	prompt := config.LLMPromptConfig{RefStart: "<<REF>>", RefEnd: "<<END>>", NoResultText: "nothing found"}

	withContext := SystemPrompt(prompt, "[1] (a.md) text\n")
	assert.True(t, strings.HasPrefix(withContext, defaultRules))
	assert.Contains(t, withContext, "<<REF>>\n[1] (a.md) text\n<<END>>")

	empty := SystemPrompt(prompt, "  ")
	assert.Contains(t, empty, "<<REF>>\nnothing found\n<<END>>")

	custom := SystemPrompt(config.LLMPromptConfig{Rules: "Be brief."}, "ctx")
	assert.True(t, strings.HasPrefix(custom, "Be brief."))
}
