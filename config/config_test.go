package config

import (
	"testing"
	"time"
)

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("THREADR_LLM_API_KEY", "sk-test")
	t.Setenv("THREADR_THREADS_MCP_URL", "http://localhost:8000/mcp")
	t.Setenv("THREADR_WORKFLOW_MAX_ITERATIONS", "5")

	cfg := LoadConfig("")

	if cfg.LLM.APIKey != "sk-test" {
		t.Fatalf("api key = %q", cfg.LLM.APIKey)
	}
	if cfg.LLM.BaseURL != "https://openrouter.ai/api/v1" {
		t.Fatalf("base url default = %q", cfg.LLM.BaseURL)
	}
	if cfg.Threads.MCPURL != "http://localhost:8000/mcp" {
		t.Fatalf("mcp url = %q", cfg.Threads.MCPURL)
	}
	if cfg.Workflow.MaxIterations != 5 {
		t.Fatalf("max iterations = %d", cfg.Workflow.MaxIterations)
	}
	if cfg.Workflow.InvocationTimeout != 2*time.Minute {
		t.Fatalf("invocation timeout = %s", cfg.Workflow.InvocationTimeout)
	}
	if cfg.Search.Provider != "duckduckgo" {
		t.Fatalf("search provider default = %q", cfg.Search.Provider)
	}
	if cfg.Storage.Redis.Enabled() {
		t.Fatal("redis should be disabled without a host")
	}
}

func TestWorkflowNormalizeDefaults(t *testing.T) {
	w := WorkflowConfig{}.Normalize()
	if w.MaxIterations != 12 || w.InvocationTimeout != 2*time.Minute {
		t.Fatalf("normalized = %+v", w)
	}
}

func TestRedisAddrDefaultsPort(t *testing.T) {
	r := RedisConfig{Host: "localhost"}
	if !r.Enabled() || r.Addr() != "localhost:6379" {
		t.Fatalf("addr = %q enabled = %v", r.Addr(), r.Enabled())
	}
}
