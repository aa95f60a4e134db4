package server

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/threadr-ai/threadr/internal/agent"
	"github.com/threadr-ai/threadr/internal/workflow"
)

type stubAgent struct {
	capability workflow.Capability
	payload    map[string]interface{}
}

func (a stubAgent) Capability() workflow.Capability { return a.capability }

func (a stubAgent) Invoke(ctx context.Context, input map[string]interface{}) (workflow.Outcome, error) {
	return workflow.Success(a.payload), nil
}

func testFactory(t *testing.T) RunnerFactory {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	return func(sink workflow.TraceSink) (*agent.Runner, error) {
		orch, err := workflow.NewOrchestrator(
			workflow.Config{MaxIterations: 12},
			[]workflow.Agent{
				stubAgent{capability: workflow.CapabilitySearch, payload: map[string]interface{}{"findings": "fresh facts"}},
				stubAgent{capability: workflow.CapabilityPost, payload: map[string]interface{}{"content": "Posted: 42"}},
			},
			nil,
			agent.NewInputDecider(nil, logger),
			sink,
			logger,
		)
		if err != nil {
			return nil, err
		}
		return agent.NewRunner(
			agent.NewPlanner(nil, logger),
			orch,
			agent.NewResponder(nil, logger),
			nil,
			logger,
		), nil
	}
}

func newTestServer(t *testing.T, jwtSecret string) *Server {
	t.Helper()
	return New(Options{JWTSecret: jwtSecret, RunTimeout: 30 * time.Second}, testFactory(t), nil, log.New(io.Discard, "", 0))
}

func TestChatEndpointRunsPipeline(t *testing.T) {
	s := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"post about the gopher conference"}`))
	req.Header.Set(echoContentType, "application/json")
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"terminal":"completed"`) {
		t.Fatalf("body = %s", body)
	}
	if !strings.Contains(body, "Posted: 42") {
		t.Fatalf("summary missing post content: %s", body)
	}
	if !strings.Contains(body, `"invocations":2`) {
		t.Fatalf("expected 2 invocations: %s", body)
	}
}

func TestChatEndpointRejectsEmptyRequest(t *testing.T) {
	s := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{}`))
	req.Header.Set(echoContentType, "application/json")
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestChatStreamEmitsTransitionEvents(t *testing.T) {
	s := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream", strings.NewReader(`{"message":"post about go"}`))
	req.Header.Set(echoContentType, "application/json")
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, event := range []string{"event: tool_call", "event: agent", "event: token", "event: done"} {
		if !strings.Contains(body, event) {
			t.Fatalf("stream missing %q:\n%s", event, body)
		}
	}
	if strings.Index(body, "event: tool_call") > strings.Index(body, "event: done") {
		t.Fatal("tool_call arrived after done")
	}
	if !strings.Contains(body, `"terminal":"completed"`) {
		t.Fatalf("done event missing terminal state:\n%s", body)
	}
}

func TestAuthMiddlewareGuardsAPI(t *testing.T) {
	secret := "test-secret"
	s := newTestServer(t, secret)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"hi"}`))
	req.Header.Set(echoContentType, "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", rec.Code)
	}

	token, err := SignJWT(secret, "tester", time.Minute)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}
	req = httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"post about go"}`))
	req.Header.Set(echoContentType, "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d, body = %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"hi"}`))
	req.Header.Set(echoContentType, "application/json")
	req.Header.Set("Authorization", "Bearer not.a.token")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d, want 401", rec.Code)
	}
}

func TestHealthEndpointIsPublic(t *testing.T) {
	s := newTestServer(t, "secret")
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

const echoContentType = "Content-Type"
