// Package vlm is the HTTP client for OpenAI-compatible vision-language
// chat completion endpoints. Transport failures are classified into the
// fault taxonomy so the retry engine can tell a rate limit from a dead
// model.
package vlm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/inkwellmd/inkwell/internal/fault"
)

// DefaultBaseURL is the OpenAI API endpoint used when no override is
// configured.
const DefaultBaseURL = "https://api.openai.com/v1"

// Limiter gates request dispatch. Acquire blocks until the request fits the
// budget; RecordUsage reconciles the estimate with actual consumption.
type Limiter interface {
	Acquire(ctx context.Context, estimatedTokens int) error
	RecordUsage(promptTokens, completionTokens int)
}

// TokenUsage counts the tokens one call consumed.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// TokenLogprob is one generated token's log probability.
type TokenLogprob struct {
	Token   string
	Logprob float64
}

// Request is one chat completion call.
type Request struct {
	Model       string
	System      string
	User        string
	ImageB64    string // base64 PNG/JPEG payload, empty for text-only calls
	MaxTokens   int
	Temperature float64
	Logprobs    bool
}

// Response is the parsed completion.
type Response struct {
	Content      string
	Model        string
	Usage        TokenUsage
	Logprobs     []TokenLogprob
	FinishReason string
}

// Client talks to one OpenAI-compatible endpoint.
type Client struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	limiter    Limiter
}

// NewClient builds a client. An empty baseURL targets the OpenAI API; a nil
// limiter disables rate limiting.
func NewClient(apiKey, baseURL string, limiter Limiter) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		apiKey:     apiKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		limiter:    limiter,
	}
}

// Wire types for the chat completions endpoint.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
	Logprobs    bool          `json:"logprobs,omitempty"`
	TopLogprobs int           `json:"top_logprobs,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Logprobs *struct {
			Content []struct {
				Token   string  `json:"token"`
				Logprob float64 `json:"logprob"`
			} `json:"content"`
		} `json:"logprobs"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends one chat completion request. Errors come back classified:
// 429/5xx/timeouts as transient, 401/403 as terminal, 404 as terminal but
// fallback-eligible.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx, req.MaxTokens); err != nil {
			return nil, err
		}
	}

	body, err := json.Marshal(c.buildPayload(req))
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &fault.TransientError{Kind: fault.KindConnection, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fault.FromStatus(resp.StatusCode, errorMessage(data), parseRetryAfter(resp.Header))
	}

	parsed, err := parseChatResponse(data)
	if err != nil {
		return nil, err
	}
	if c.limiter != nil {
		c.limiter.RecordUsage(parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens)
	}
	return parsed, nil
}

func (c *Client) buildPayload(req Request) chatRequest {
	var userContent any = req.User
	if req.ImageB64 != "" {
		userContent = []contentPart{
			{Type: "text", Text: req.User},
			{Type: "image_url", ImageURL: &imageURL{
				URL: "data:image/png;base64," + req.ImageB64,
			}},
		}
	}

	payload := chatRequest{
		Model: req.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: userContent},
		},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.Logprobs {
		payload.Logprobs = true
		payload.TopLogprobs = 5
	}
	return payload
}

func parseChatResponse(data []byte) (*Response, error) {
	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, &fault.TerminalError{Reason: "empty_response",
			Err: errors.New("response contained no choices")}
	}

	choice := parsed.Choices[0]
	out := &Response{
		Content: choice.Message.Content,
		Model:   parsed.Model,
		Usage: TokenUsage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
		FinishReason: choice.FinishReason,
	}
	if choice.Logprobs != nil {
		for _, lp := range choice.Logprobs.Content {
			out.Logprobs = append(out.Logprobs, TokenLogprob{Token: lp.Token, Logprob: lp.Logprob})
		}
	}
	return out, nil
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &fault.TransientError{Kind: fault.KindTimeout, Err: err}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &fault.TransientError{Kind: fault.KindConnection, Err: err}
}

func errorMessage(body []byte) string {
	var parsed apiError
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		msg = "request failed"
	}
	return msg
}

// parseRetryAfter reads a Retry-After header given either as delay seconds
// or as an HTTP date.
func parseRetryAfter(h http.Header) time.Duration {
	value := h.Get("Retry-After")
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
