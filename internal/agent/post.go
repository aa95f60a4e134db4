package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/threadr-ai/threadr/internal/llm"
	"github.com/threadr-ai/threadr/internal/threads"
	"github.com/threadr-ai/threadr/internal/workflow"
)

const postSystemPrompt = `You are a social media agent that publishes on Threads.
Compose an engaging post that serves the user's request, grounded in the findings when present. Keep it under 500 characters, no hashtag spam.
You MUST publish by calling one of the provided tools. After the tool result, reply with a short confirmation of what was posted.`

// maxToolRounds bounds the publish conversation; one round to compose and
// call, one to confirm, plus slack for multi-tool servers.
const maxToolRounds = 4

// ThreadsClient is the slice of the MCP client the post agent needs.
type ThreadsClient interface {
	ListTools(ctx context.Context) ([]threads.Tool, error)
	CallTool(ctx context.Context, name string, arguments map[string]interface{}) (string, error)
}

// PostAgent executes post-tagged steps: it drives a function-calling
// conversation where the model composes the post and publishes it through the
// Threads MCP tools.
type PostAgent struct {
	llm     llm.Provider
	threads ThreadsClient
	logger  *log.Logger
}

// NewPostAgent builds a post agent.
func NewPostAgent(model llm.Provider, client ThreadsClient, logger *log.Logger) *PostAgent {
	if logger == nil {
		logger = log.New(log.Writer(), "[PostAgent] ", log.LstdFlags)
	}
	return &PostAgent{llm: model, threads: client, logger: logger}
}

// Capability implements workflow.Agent.
func (a *PostAgent) Capability() workflow.Capability { return workflow.CapabilityPost }

// Invoke implements workflow.Agent.
func (a *PostAgent) Invoke(ctx context.Context, input map[string]interface{}) (workflow.Outcome, error) {
	mcpTools, err := a.threads.ListTools(ctx)
	if err != nil {
		return a.classifyThreadsError(ctx, err)
	}
	if len(mcpTools) == 0 {
		a.logger.Printf("mcp server advertises no tools")
		return workflow.Fatal(workflow.ReasonBadRemoteResponse), nil
	}
	tools := make([]llm.Tool, 0, len(mcpTools))
	for _, t := range mcpTools {
		tools = append(tools, llm.Tool{
			Type: "function",
			Function: llm.ToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}

	messages := []llm.ChatMessage{
		{Role: "system", Content: postSystemPrompt},
		{Role: "user", Content: buildPostBrief(input)},
	}

	var toolResults []string
	for round := 0; round < maxToolRounds; round++ {
		completion, err := a.llm.Complete(ctx, llm.CompletionRequest{
			Messages:    messages,
			Tools:       tools,
			Temperature: 0.7,
		})
		if err != nil {
			return a.classifyLLMError(ctx, err)
		}

		if len(completion.ToolCalls) == 0 {
			if len(toolResults) > 0 {
				return workflow.Success(map[string]interface{}{
					"content":     strings.TrimSpace(completion.Content),
					"post_result": strings.Join(toolResults, "\n"),
				}), nil
			}
			// Composed without publishing; nothing happened remotely, so a
			// retry is safe.
			a.logger.Printf("model replied without calling a publish tool")
			return workflow.Retryable(workflow.ReasonBadRemoteResponse), nil
		}

		messages = append(messages, llm.ChatMessage{
			Role:      "assistant",
			Content:   completion.Content,
			ToolCalls: completion.ToolCalls,
		})
		for _, call := range completion.ToolCalls {
			args := map[string]interface{}{}
			if call.Function.Arguments != "" {
				if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
					a.logger.Printf("tool call %s carried malformed arguments: %v", call.Function.Name, err)
					return workflow.Fatal(workflow.ReasonBadRemoteResponse), nil
				}
			}
			result, err := a.threads.CallTool(ctx, call.Function.Name, args)
			if err != nil {
				return a.classifyThreadsError(ctx, err)
			}
			toolResults = append(toolResults, result)
			messages = append(messages, llm.ChatMessage{
				Role:       "tool",
				ToolCallID: call.ID,
				Name:       call.Function.Name,
				Content:    result,
			})
		}
	}

	if len(toolResults) > 0 {
		return workflow.Success(map[string]interface{}{
			"content":     toolResults[len(toolResults)-1],
			"post_result": strings.Join(toolResults, "\n"),
		}), nil
	}
	return workflow.Retryable(workflow.ReasonBadRemoteResponse), nil
}

func (a *PostAgent) classifyThreadsError(ctx context.Context, err error) (workflow.Outcome, error) {
	if ctx.Err() != nil {
		return workflow.Outcome{}, ctx.Err()
	}
	var remote threads.RemoteError
	if errors.As(err, &remote) {
		switch {
		case remote.AuthError():
			return workflow.Fatal(workflow.ReasonAuthError), nil
		case remote.Status == 429:
			return workflow.Retryable(workflow.ReasonRateLimited), nil
		case remote.Retryable():
			return workflow.Retryable(workflow.ReasonBadRemoteResponse), nil
		default:
			return workflow.Fatal(workflow.ReasonBadRemoteResponse), nil
		}
	}
	var toolErr threads.ToolError
	if errors.As(err, &toolErr) {
		a.logger.Printf("%v", toolErr)
		return workflow.Fatal(workflow.ReasonBadRemoteResponse), nil
	}
	a.logger.Printf("threads transport error: %v", err)
	return workflow.Retryable(workflow.ReasonBadRemoteResponse), nil
}

func (a *PostAgent) classifyLLMError(ctx context.Context, err error) (workflow.Outcome, error) {
	if ctx.Err() != nil {
		return workflow.Outcome{}, ctx.Err()
	}
	var remote llm.RemoteError
	if errors.As(err, &remote) {
		if remote.RateLimited() {
			return workflow.Retryable(workflow.ReasonRateLimited), nil
		}
		if remote.Retryable() {
			return workflow.Retryable(workflow.ReasonBadRemoteResponse), nil
		}
		return workflow.Fatal(workflow.ReasonBadRemoteResponse), nil
	}
	a.logger.Printf("llm transport error: %v", err)
	return workflow.Retryable(workflow.ReasonBadRemoteResponse), nil
}

func buildPostBrief(input map[string]interface{}) string {
	var b strings.Builder
	if request := stringField(input, "request"); request != "" {
		fmt.Fprintf(&b, "Request: %s\n", request)
	}
	if intent := stringField(input, "intent"); intent != "" {
		fmt.Fprintf(&b, "Step intent: %s\n", intent)
	}
	if findings := stringField(input, "findings"); findings != "" {
		fmt.Fprintf(&b, "\nFindings:\n%s\n", findings)
	}
	return b.String()
}
