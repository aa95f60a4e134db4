package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/threadr-ai/threadr/internal/llm"
	"github.com/threadr-ai/threadr/internal/search"
	"github.com/threadr-ai/threadr/internal/workflow"
)

const noResultsMessage = "No relevant search results found for this query."

const synthesisSystemPrompt = `You summarize web search results for a downstream agent.
Write a compact factual digest of the results that serves the stated intent. Plain text, no markdown.`

// SearchAgent executes search-tagged steps: it queries the web provider and
// condenses the hits into findings the rest of the run can build on.
type SearchAgent struct {
	provider   search.Provider
	llm        llm.Provider
	maxResults int
	logger     *log.Logger
}

// NewSearchAgent builds a search agent. The llm provider may be nil; findings
// then carry the raw result digest.
func NewSearchAgent(provider search.Provider, model llm.Provider, maxResults int, logger *log.Logger) *SearchAgent {
	if maxResults <= 0 {
		maxResults = 5
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[SearchAgent] ", log.LstdFlags)
	}
	return &SearchAgent{provider: provider, llm: model, maxResults: maxResults, logger: logger}
}

// Capability implements workflow.Agent.
func (a *SearchAgent) Capability() workflow.Capability { return workflow.CapabilitySearch }

// Invoke implements workflow.Agent. Remote failures come back as typed
// outcomes; only context errors and programming faults use the error return.
func (a *SearchAgent) Invoke(ctx context.Context, input map[string]interface{}) (workflow.Outcome, error) {
	query := stringField(input, "query")
	if query == "" {
		query = stringField(input, "intent")
	}
	if query == "" {
		query = stringField(input, "request")
	}
	if strings.TrimSpace(query) == "" {
		return workflow.Fatal(workflow.ReasonInvalidInput), nil
	}

	results, err := a.provider.Search(ctx, query, a.maxResults)
	if err != nil {
		if ctx.Err() != nil {
			return workflow.Outcome{}, ctx.Err()
		}
		var remote search.RemoteError
		if errors.As(err, &remote) {
			if remote.Status == 429 {
				return workflow.Retryable(workflow.ReasonRateLimited), nil
			}
			if remote.Retryable() {
				return workflow.Retryable(workflow.ReasonBadRemoteResponse), nil
			}
			return workflow.Fatal(workflow.ReasonBadRemoteResponse), nil
		}
		// Transport-level failures (DNS, refused, reset) are transient.
		a.logger.Printf("search transport error: %v", err)
		return workflow.Retryable(workflow.ReasonBadRemoteResponse), nil
	}

	if len(results) == 0 {
		return workflow.Success(map[string]interface{}{
			"findings": noResultsMessage,
			"query":    query,
			"results":  0,
		}), nil
	}

	findings := a.synthesize(ctx, stringField(input, "intent"), results)
	return workflow.Success(map[string]interface{}{
		"findings": findings,
		"query":    query,
		"results":  len(results),
	}), nil
}

func (a *SearchAgent) synthesize(ctx context.Context, intent string, results []search.Result) string {
	digest := formatResults(results)
	if a.llm == nil {
		return digest
	}
	var user strings.Builder
	if intent != "" {
		fmt.Fprintf(&user, "Intent: %s\n\n", intent)
	}
	user.WriteString("Results:\n")
	user.WriteString(digest)

	completion, err := a.llm.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.ChatMessage{
			{Role: "system", Content: synthesisSystemPrompt},
			{Role: "user", Content: user.String()},
		},
		Temperature: 0.3,
	})
	if err != nil || strings.TrimSpace(completion.Content) == "" {
		if err != nil {
			a.logger.Printf("synthesis failed, returning raw digest: %v", err)
		}
		return digest
	}
	return strings.TrimSpace(completion.Content)
}

func formatResults(results []search.Result) string {
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n", i+1, r.Title)
		if r.Snippet != "" {
			fmt.Fprintf(&b, "   %s\n", r.Snippet)
		}
		if r.URL != "" {
			fmt.Fprintf(&b, "   %s\n", r.URL)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func stringField(input map[string]interface{}, key string) string {
	s, _ := input[key].(string)
	return s
}
