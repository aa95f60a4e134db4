package threads

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type rpcCall struct {
	JSONRPC string                 `json:"jsonrpc"`
	ID      int64                  `json:"id"`
	Method  string                 `json:"method"`
	Params  map[string]interface{} `json:"params"`
}

func mcpServer(t *testing.T, onCall func(call rpcCall, w http.ResponseWriter)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var call rpcCall
		if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
			t.Errorf("decode rpc: %v", err)
		}
		switch call.Method {
		case "initialize":
			w.Header().Set("Mcp-Session-Id", "sess-1")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"jsonrpc": "2.0", "id": call.ID,
				"result": map[string]interface{}{"protocolVersion": "2024-11-05"},
			})
		case "notifications/initialized":
			w.WriteHeader(http.StatusAccepted)
		default:
			onCall(call, w)
		}
	}))
}

func TestListToolsNegotiatesSession(t *testing.T) {
	var sawSession bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Mcp-Session-Id") == "sess-1" {
			sawSession = true
		}
		var call rpcCall
		if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
			t.Errorf("decode rpc: %v", err)
		}
		switch call.Method {
		case "initialize":
			w.Header().Set("Mcp-Session-Id", "sess-1")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"jsonrpc": "2.0", "id": call.ID,
				"result": map[string]interface{}{"protocolVersion": "2024-11-05"},
			})
		case "notifications/initialized":
			w.WriteHeader(http.StatusAccepted)
		case "tools/list":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"jsonrpc": "2.0", "id": call.ID,
				"result": map[string]interface{}{
					"tools": []map[string]interface{}{
						{"name": "create_post", "description": "Create a Threads post"},
						{"name": "reply_to_post"},
					},
				},
			})
		default:
			t.Errorf("unexpected method %s", call.Method)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "token", 5*time.Second)
	tools, err := c.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(tools) != 2 || tools[0].Name != "create_post" {
		t.Fatalf("tools = %+v", tools)
	}
	if !sawSession {
		t.Fatal("session id was not echoed on follow-up requests")
	}
}

func TestCallToolExtractsTextContent(t *testing.T) {
	srv := mcpServer(t, func(call rpcCall, w http.ResponseWriter) {
		params := call.Params
		if params["name"] != "create_post" {
			t.Errorf("tool name = %v", params["name"])
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0", "id": call.ID,
			"result": map[string]interface{}{
				"content": []map[string]interface{}{
					{"type": "text", "text": "Posted: 12345"},
					{"type": "image", "data": "ignored"},
				},
			},
		})
	})
	defer srv.Close()

	c := NewClient(srv.URL, "", 5*time.Second)
	text, err := c.CallTool(context.Background(), "create_post", map[string]interface{}{"text": "hi"})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if text != "Posted: 12345" {
		t.Fatalf("text = %q", text)
	}
}

func TestCallToolParsesSSEFraming(t *testing.T) {
	srv := mcpServer(t, func(call rpcCall, w http.ResponseWriter) {
		w.Header().Set("Content-Type", "text/event-stream")
		result := map[string]interface{}{
			"jsonrpc": "2.0", "id": call.ID,
			"result": map[string]interface{}{
				"content": []map[string]interface{}{{"type": "text", "text": "ok"}},
			},
		}
		raw, _ := json.Marshal(result)
		w.Write([]byte("event: message\ndata: " + string(raw) + "\n\n"))
	})
	defer srv.Close()

	c := NewClient(srv.URL, "", 5*time.Second)
	text, err := c.CallTool(context.Background(), "create_post", nil)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if text != "ok" {
		t.Fatalf("text = %q", text)
	}
}

func TestCallToolErrorResult(t *testing.T) {
	srv := mcpServer(t, func(call rpcCall, w http.ResponseWriter) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0", "id": call.ID,
			"result": map[string]interface{}{
				"isError": true,
				"content": []map[string]interface{}{{"type": "text", "text": "rate limited by Threads"}},
			},
		})
	})
	defer srv.Close()

	c := NewClient(srv.URL, "", 5*time.Second)
	_, err := c.CallTool(context.Background(), "create_post", nil)
	var toolErr ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("err = %v, want ToolError", err)
	}
	if toolErr.Message != "rate limited by Threads" {
		t.Fatalf("message = %q", toolErr.Message)
	}
}

func TestUnauthorizedIsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "bad-token", 5*time.Second)
	_, err := c.ListTools(context.Background())
	var remote RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("err = %v, want RemoteError", err)
	}
	if !remote.AuthError() || remote.Retryable() {
		t.Fatalf("remote = %+v", remote)
	}
}
