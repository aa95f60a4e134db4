package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/threadr-ai/threadr/internal/agent"
	"github.com/threadr-ai/threadr/internal/workflow"
)

type chatRequest struct {
	Message  string             `json:"message"`
	Messages []workflow.Message `json:"messages"`
}

func (r chatRequest) toRequest() (workflow.Request, error) {
	messages := r.Messages
	if len(messages) == 0 && strings.TrimSpace(r.Message) != "" {
		messages = []workflow.Message{{Role: "user", Content: r.Message}}
	}
	req := workflow.NewRequest(messages)
	if strings.TrimSpace(req.UserMessage()) == "" {
		return workflow.Request{}, fmt.Errorf("request carries no user message")
	}
	return req, nil
}

type chatResponse struct {
	RunID         string `json:"run_id"`
	Terminal      string `json:"terminal"`
	FailureReason string `json:"failure_reason,omitempty"`
	Summary       string `json:"summary"`
	Iterations    int    `json:"iterations"`
	Invocations   int    `json:"invocations"`
}

func toChatResponse(result agent.RunResult) chatResponse {
	return chatResponse{
		RunID:         result.State.RunID,
		Terminal:      string(result.State.Terminal),
		FailureReason: result.State.FailureReason,
		Summary:       result.Summary,
		Iterations:    result.State.Iterations,
		Invocations:   len(result.State.History),
	}
}

func (s *Server) handleChat(c echo.Context) error {
	var body chatRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	req, err := body.toRequest()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	runner, err := s.factory(nil)
	if err != nil {
		s.logger.Printf("build runner: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "pipeline unavailable")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.opts.RunTimeout)
	defer cancel()
	result, err := runner.Run(ctx, req)
	if err != nil {
		s.logger.Printf("request %s: run fault: %v", req.ID, err)
		return echo.NewHTTPError(http.StatusInternalServerError, "run failed")
	}
	return c.JSON(http.StatusOK, toChatResponse(result))
}

// handleChatStream executes the run while streaming orchestrator transitions
// as SSE events: tool_call per invocation, agent per step advance, then a
// token event with the reply and a final done (or error).
func (s *Server) handleChatStream(c echo.Context) error {
	var body chatRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	req, err := body.toRequest()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	events := make(chan workflow.Event, 64)
	runner, err := s.factory(workflow.SinkFunc(func(e workflow.Event) {
		select {
		case events <- e:
		default: // never block the orchestrator on a slow client
		}
	}))
	if err != nil {
		s.logger.Printf("build runner: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "pipeline unavailable")
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	resp.Flush()

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.opts.RunTimeout)
	defer cancel()

	type runOutcome struct {
		result agent.RunResult
		err    error
	}
	done := make(chan runOutcome, 1)
	go func() {
		result, err := runner.Run(ctx, req)
		done <- runOutcome{result: result, err: err}
	}()

	ctxDone := ctx.Done()
	for {
		select {
		case e := <-events:
			s.writeTransition(c, e)
		case out := <-done:
			// Drain transitions emitted before the run finished.
			for {
				select {
				case e := <-events:
					s.writeTransition(c, e)
					continue
				default:
				}
				break
			}
			if out.err != nil {
				s.logger.Printf("request %s: run fault: %v", req.ID, out.err)
				s.writeSSE(c, "error", map[string]string{"message": "run failed"})
				return nil
			}
			if out.result.Summary != "" {
				s.writeSSE(c, "token", map[string]string{"text": out.result.Summary})
			}
			s.writeSSE(c, "done", toChatResponse(out.result))
			return nil
		case <-ctxDone:
			// The runner observes the same context and will land in done.
			ctxDone = nil
		}
	}
}

func (s *Server) writeTransition(c echo.Context, e workflow.Event) {
	switch e.Action {
	case "invoke":
		kind := ""
		if e.Outcome != nil {
			kind = string(e.Outcome.Kind)
		}
		s.writeSSE(c, "tool_call", map[string]interface{}{
			"run_id":     e.RunID,
			"step_id":    e.StepID,
			"capability": string(e.Capability),
			"outcome":    kind,
			"reason":     e.Reason,
			"excerpt":    e.Excerpt,
		})
	case "advance":
		s.writeSSE(c, "agent", map[string]interface{}{
			"run_id":     e.RunID,
			"step_id":    e.StepID,
			"capability": string(e.Capability),
			"message":    "step completed",
		})
	}
}

func (s *Server) writeSSE(c echo.Context, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Printf("marshal sse payload: %v", err)
		return
	}
	if _, err := fmt.Fprintf(c.Response(), "event: %s\ndata: %s\n\n", event, data); err != nil {
		return
	}
	c.Response().Flush()
}
