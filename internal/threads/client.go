// Package threads talks to a Threads MCP server over streamable HTTP.
// The server exposes posting operations as MCP tools; this client handles the
// JSON-RPC envelope, session negotiation and content extraction.
package threads

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const protocolVersion = "2024-11-05"

// Tool is one tool advertised by the MCP server.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"inputSchema,omitempty"`
}

// RemoteError is a non-2xx transport response from the MCP server.
type RemoteError struct {
	Status int
	Body   string
}

func (e RemoteError) Error() string {
	return fmt.Sprintf("mcp server returned %d: %s", e.Status, e.Body)
}

// Retryable covers throttling and upstream transience.
func (e RemoteError) Retryable() bool {
	return e.Status == 429 || e.Status >= 500
}

// AuthError indicates the bearer token was rejected.
func (e RemoteError) AuthError() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// ToolError is an application-level failure reported inside a tool result.
type ToolError struct {
	Tool    string
	Message string
}

func (e ToolError) Error() string {
	return fmt.Sprintf("mcp tool %s failed: %s", e.Tool, e.Message)
}

// Client is a minimal MCP client over HTTP. It lazily initializes the session
// on first use and is safe for concurrent callers.
type Client struct {
	url    string
	bearer string
	http   *http.Client

	mu        sync.Mutex
	sessionID string
	reqID     atomic.Int64
}

// NewClient returns a client for the MCP endpoint. The bearer token is
// optional; servers without auth ignore it.
func NewClient(url, bearer string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		url:    strings.TrimRight(url, "/"),
		bearer: bearer,
		http:   &http.Client{Timeout: timeout},
	}
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e rpcError) Error() string {
	return fmt.Sprintf("mcp rpc error %d: %s", e.Code, e.Message)
}

// ListTools returns the tools the server advertises.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}
	raw, err := c.call(ctx, "tools/list", map[string]interface{}{})
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Tools []Tool `json:"tools"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode tools/list result: %w", err)
	}
	return parsed.Tools, nil
}

// CallTool invokes a named tool and returns the concatenated text content of
// its result. A result flagged isError becomes a ToolError.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]interface{}) (string, error) {
	if err := c.ensureSession(ctx); err != nil {
		return "", err
	}
	if arguments == nil {
		arguments = map[string]interface{}{}
	}
	raw, err := c.call(ctx, "tools/call", map[string]interface{}{
		"name":      name,
		"arguments": arguments,
	})
	if err != nil {
		return "", err
	}
	var parsed struct {
		IsError bool `json:"isError"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode tools/call result: %w", err)
	}
	var parts []string
	for _, item := range parsed.Content {
		if item.Type == "text" && item.Text != "" {
			parts = append(parts, item.Text)
		}
	}
	text := strings.Join(parts, "\n")
	if parsed.IsError {
		return "", ToolError{Tool: name, Message: text}
	}
	return text, nil
}

func (c *Client) ensureSession(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID != "" {
		return nil
	}
	_, sessionID, err := c.post(ctx, rpcRequest{
		JSONRPC: "2.0",
		ID:      c.reqID.Add(1),
		Method:  "initialize",
		Params: map[string]interface{}{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]interface{}{},
			"clientInfo": map[string]interface{}{
				"name":    "threadr",
				"version": "1.0.0",
			},
		},
	}, "")
	if err != nil {
		return err
	}
	if sessionID == "" {
		// Stateless servers skip session negotiation.
		sessionID = "stateless"
	}
	c.sessionID = sessionID
	return c.notify(ctx, "notifications/initialized")
}

func (c *Client) notify(ctx context.Context, method string) error {
	payload, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  method,
	})
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, payload, c.sessionID)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("mcp notify: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	return nil
}

func (c *Client) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	raw, _, err := c.post(ctx, rpcRequest{
		JSONRPC: "2.0",
		ID:      c.reqID.Add(1),
		Method:  method,
		Params:  params,
	}, c.sessionID)
	return raw, err
}

func (c *Client) post(ctx context.Context, rpc rpcRequest, sessionID string) (json.RawMessage, string, error) {
	payload, err := json.Marshal(rpc)
	if err != nil {
		return nil, "", err
	}
	req, err := c.newRequest(ctx, payload, sessionID)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("mcp request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, "", fmt.Errorf("mcp read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", RemoteError{Status: resp.StatusCode, Body: truncate(string(body), 512)}
	}

	data := body
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		data = extractSSEData(body)
		if data == nil {
			return nil, "", fmt.Errorf("mcp response stream carried no data")
		}
	}

	var parsed rpcResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, "", fmt.Errorf("decode mcp response: %w", err)
	}
	if parsed.Error != nil {
		return nil, "", *parsed.Error
	}
	return parsed.Result, resp.Header.Get("Mcp-Session-Id"), nil
}

func (c *Client) newRequest(ctx context.Context, payload []byte, sessionID string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}
	if sessionID != "" && sessionID != "stateless" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}
	return req, nil
}

// extractSSEData returns the payload of the last data: line in an SSE body.
func extractSSEData(body []byte) []byte {
	var last []byte
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data:") {
			last = []byte(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	return last
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
