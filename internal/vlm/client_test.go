package vlm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwellmd/inkwell/internal/fault"
)

type recordingLimiter struct {
	acquired int
	prompt   int
	compl    int
}

func (l *recordingLimiter) Acquire(_ context.Context, estimatedTokens int) error {
	l.acquired += estimatedTokens
	return nil
}

func (l *recordingLimiter) RecordUsage(promptTokens, completionTokens int) {
	l.prompt += promptTokens
	l.compl += completionTokens
}

func completionBody(content string) map[string]any {
	return map[string]any{
		"model": "gpt-4.1-mini",
		"choices": []any{map[string]any{
			"message":       map[string]any{"content": content},
			"finish_reason": "stop",
			"logprobs": map[string]any{
				"content": []any{
					map[string]any{"token": "Hello", "logprob": -0.05},
					map[string]any{"token": " world", "logprob": -0.10},
				},
			},
		}},
		"usage": map[string]any{
			"prompt_tokens":     120,
			"completion_tokens": 30,
			"total_tokens":      150,
		},
	}
}

func TestCompleteSuccess(t *testing.T) {
	var captured chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(completionBody("# Extracted"))
	}))
	defer server.Close()

	limiter := &recordingLimiter{}
	client := NewClient("test-key", server.URL, limiter)

	resp, err := client.Complete(context.Background(), Request{
		Model:     "gpt-4.1-mini",
		System:    "You extract text.",
		User:      "Extract page 1.",
		ImageB64:  "aW1hZ2U=",
		MaxTokens: 4096,
		Logprobs:  true,
	})
	require.NoError(t, err)

	assert.Equal(t, "# Extracted", resp.Content)
	assert.Equal(t, "gpt-4.1-mini", resp.Model)
	assert.Equal(t, TokenUsage{PromptTokens: 120, CompletionTokens: 30, TotalTokens: 150}, resp.Usage)
	require.Len(t, resp.Logprobs, 2)
	assert.Equal(t, "Hello", resp.Logprobs[0].Token)

	// Request shape: logprobs enabled, image as a content part.
	assert.True(t, captured.Logprobs)
	assert.Equal(t, 5, captured.TopLogprobs)
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)

	// Limiter saw the estimate up front and the actuals after.
	assert.Equal(t, 4096, limiter.acquired)
	assert.Equal(t, 120, limiter.prompt)
	assert.Equal(t, 30, limiter.compl)
}

func TestCompleteTextOnly(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_, isString := req.Messages[1].Content.(string)
		assert.True(t, isString, "text-only requests send a plain string")
		json.NewEncoder(w).Encode(completionBody("ok"))
	}))
	defer server.Close()

	client := NewClient("k", server.URL, nil)
	_, err := client.Complete(context.Background(), Request{Model: "m", User: "hi"})
	require.NoError(t, err)
}

func TestCompleteRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limit exceeded"}}`))
	}))
	defer server.Close()

	client := NewClient("k", server.URL, nil)
	_, err := client.Complete(context.Background(), Request{Model: "m", User: "hi"})

	te, ok := fault.AsTransient(err)
	require.True(t, ok)
	assert.Equal(t, fault.KindRateLimit, te.Kind)
	assert.Equal(t, 7, int(te.RetryAfter.Seconds()))
	assert.Contains(t, te.Error(), "rate limit exceeded")
}

func TestCompleteModelNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"message":"model does not exist"}}`))
	}))
	defer server.Close()

	client := NewClient("k", server.URL, nil)
	_, err := client.Complete(context.Background(), Request{Model: "gone", User: "hi"})

	te, ok := fault.AsTerminal(err)
	require.True(t, ok)
	assert.True(t, te.RecoverableWithFallback)
	assert.Equal(t, "model_not_found", te.Reason)
}

func TestCompleteAuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
	}))
	defer server.Close()

	client := NewClient("bad", server.URL, nil)
	_, err := client.Complete(context.Background(), Request{Model: "m", User: "hi"})

	te, ok := fault.AsTerminal(err)
	require.True(t, ok)
	assert.False(t, te.RecoverableWithFallback)
	assert.Equal(t, "auth_failure", te.Reason)
}

func TestCompleteServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient("k", server.URL, nil)
	_, err := client.Complete(context.Background(), Request{Model: "m", User: "hi"})

	te, ok := fault.AsTransient(err)
	require.True(t, ok)
	assert.Equal(t, fault.KindServerError, te.Kind)
}

func TestCompleteEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"model":"m","choices":[]}`))
	}))
	defer server.Close()

	client := NewClient("k", server.URL, nil)
	_, err := client.Complete(context.Background(), Request{Model: "m", User: "hi"})
	assert.True(t, fault.IsTerminal(err))
}

func TestCompleteWithRetryAndFallback(t *testing.T) {
	// Preferred model 404s, fallback succeeds; fault.Do drives the chain.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Model == "gpt-4.1-mini" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":{"message":"no such model"}}`))
			return
		}
		json.NewEncoder(w).Encode(completionBody("fallback output"))
	}))
	defer server.Close()

	client := NewClient("k", server.URL, nil)
	chain := fault.NewFallbackChain("gpt-4.1-mini", []string{"gpt-4o-mini"})

	var resp *Response
	err := fault.Do(context.Background(), fault.DefaultPolicy(), chain,
		func(ctx context.Context, model string) error {
			var callErr error
			resp, callErr = client.Complete(ctx, Request{Model: model, User: "hi"})
			return callErr
		})
	require.NoError(t, err)
	assert.Equal(t, "fallback output", resp.Content)
	assert.Equal(t, "gpt-4o-mini", chain.Current())
}
