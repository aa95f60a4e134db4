package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	refererHeader  = "https://github.com/threadr-ai/threadr"
	titleHeader    = "Threadr"
)

// Options configures the OpenRouter client.
type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
}

// Client talks to an OpenAI-compatible chat completions endpoint. OpenRouter
// is the default; any compatible gateway works via BaseURL.
type Client struct {
	opts Options
	http *http.Client
}

// NewClient validates options and returns a ready client.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("llm api key is required")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, errors.New("llm model is required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Client{
		opts: opts,
		http: &http.Client{Timeout: opts.Timeout},
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.opts.Model }

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Tools       []Tool        `json:"tools,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      ChatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error,omitempty"`
}

// Complete performs one chat completion, retrying transient failures with
// exponential backoff.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	body := chatRequest{
		Model:       c.opts.Model,
		Messages:    req.Messages,
		Tools:       req.Tools,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if body.MaxTokens == 0 {
		body.MaxTokens = c.opts.MaxTokens
	}
	if body.Temperature == 0 {
		body.Temperature = c.opts.Temperature
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Completion{}, fmt.Errorf("marshal completion request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return Completion{}, ctx.Err()
			case <-time.After(backoff):
			}
		}
		completion, err := c.do(ctx, payload)
		if err == nil {
			return completion, nil
		}
		lastErr = err
		var remote RemoteError
		if errors.As(err, &remote) && remote.Retryable() {
			continue
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Completion{}, err
		}
		var netRetryable interface{ Timeout() bool }
		if errors.As(err, &netRetryable) && netRetryable.Timeout() {
			continue
		}
		return Completion{}, err
	}
	return Completion{}, fmt.Errorf("completion failed after %d attempts: %w", c.opts.MaxRetries+1, lastErr)
}

func (c *Client) do(ctx context.Context, payload []byte) (Completion, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Completion{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	// OpenRouter attribution headers; other gateways ignore them.
	httpReq.Header.Set("HTTP-Referer", refererHeader)
	httpReq.Header.Set("X-Title", titleHeader)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Completion{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Completion{}, fmt.Errorf("read completion response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Completion{}, RemoteError{Status: resp.StatusCode, Body: truncate(string(raw), 512)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Completion{}, fmt.Errorf("decode completion response: %w", err)
	}
	if parsed.Error != nil {
		return Completion{}, RemoteError{Status: parsed.Error.Code, Body: parsed.Error.Message}
	}
	if len(parsed.Choices) == 0 {
		return Completion{}, fmt.Errorf("completion response has no choices")
	}
	choice := parsed.Choices[0]
	return Completion{
		Content:      choice.Message.Content,
		ToolCalls:    choice.Message.ToolCalls,
		FinishReason: choice.FinishReason,
		Model:        parsed.Model,
		Usage:        parsed.Usage,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
