package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the agent pipeline
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	Server     ServerConfig     `mapstructure:"server"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Search     SearchConfig     `mapstructure:"search"`
	Threads    ThreadsConfig    `mapstructure:"threads"`
	Workflow   WorkflowConfig   `mapstructure:"workflow"`
	Capability CapabilityConfig `mapstructure:"capability"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Storage    StorageConfig    `mapstructure:"storage"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LLMConfig contains the completion provider configuration.
// OpenRouter exposes an OpenAI-compatible chat completions API, so a plain
// "openai" type pointed at a different base URL also works.
type LLMConfig struct {
	Type        string        `mapstructure:"type"` // openrouter, openai
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
}

func (l LLMConfig) Validate() error {
	if strings.TrimSpace(l.APIKey) == "" {
		return fmt.Errorf("llm.api_key is required")
	}
	if strings.TrimSpace(l.Model) == "" {
		return fmt.Errorf("llm.model is required")
	}
	return nil
}

// SearchConfig contains web search settings
type SearchConfig struct {
	Provider     string        `mapstructure:"provider"` // duckduckgo, brave, serper
	BraveAPIKey  string        `mapstructure:"brave_api_key"`
	SerperAPIKey string        `mapstructure:"serper_api_key"`
	MaxResults   int           `mapstructure:"max_results"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

func (s SearchConfig) Validate() error {
	switch s.Provider {
	case "", "duckduckgo":
	case "brave":
		if strings.TrimSpace(s.BraveAPIKey) == "" {
			return fmt.Errorf("search.brave_api_key required for brave provider")
		}
	case "serper":
		if strings.TrimSpace(s.SerperAPIKey) == "" {
			return fmt.Errorf("search.serper_api_key required for serper provider")
		}
	default:
		return fmt.Errorf("unsupported search provider: %s", s.Provider)
	}
	return nil
}

// ThreadsConfig contains the Threads MCP server settings
type ThreadsConfig struct {
	MCPURL      string        `mapstructure:"mcp_url"`
	BearerToken string        `mapstructure:"bearer_token"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

func (t ThreadsConfig) Validate() error {
	if strings.TrimSpace(t.MCPURL) == "" {
		return fmt.Errorf("threads.mcp_url is required")
	}
	return nil
}

// WorkflowConfig bounds a single orchestrated run
type WorkflowConfig struct {
	MaxIterations     int           `mapstructure:"max_iterations"`
	InvocationTimeout time.Duration `mapstructure:"invocation_timeout"`
}

// Normalize applies defaults for unset workflow values.
func (w WorkflowConfig) Normalize() WorkflowConfig {
	if w.MaxIterations <= 0 {
		w.MaxIterations = 12
	}
	if w.InvocationTimeout <= 0 {
		w.InvocationTimeout = 2 * time.Minute
	}
	return w
}

// CapabilityConfig controls the capability card registry behaviour.
type CapabilityConfig struct {
	SigningSecret string   `mapstructure:"signing_secret"`
	Required      []string `mapstructure:"required"`
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	MetricsPort  int    `mapstructure:"metrics_port"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort < 0 {
		return fmt.Errorf("telemetry.metrics_port cannot be negative")
	}
	return nil
}

// StorageConfig contains optional run-archive storage settings
type StorageConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig contains Redis connection settings. Leave host empty to
// disable the run archive entirely; nothing else depends on it.
type RedisConfig struct {
	Host       string        `mapstructure:"host"`
	Port       string        `mapstructure:"port"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	Timeout    time.Duration `mapstructure:"timeout"`
	ArchiveTTL time.Duration `mapstructure:"archive_ttl"`
}

// Enabled reports whether a Redis endpoint is configured.
func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Host) != "" }

// Addr returns the host:port address for the Redis client.
func (r RedisConfig) Addr() string {
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return fmt.Sprintf("%s:%s", r.Host, port)
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	// Every key needs a default so AutomaticEnv can bind it without a
	// config file.
	viper.SetDefault("general.debug", false)
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.default_timeout", "5m")
	viper.SetDefault("server.address", ":8090")
	viper.SetDefault("server.jwt_secret", "")
	viper.SetDefault("llm.type", "openrouter")
	viper.SetDefault("llm.api_key", "")
	viper.SetDefault("llm.base_url", "https://openrouter.ai/api/v1")
	viper.SetDefault("llm.model", "anthropic/claude-sonnet-4")
	viper.SetDefault("llm.max_tokens", 1024)
	viper.SetDefault("llm.temperature", 0.7)
	viper.SetDefault("llm.timeout", "60s")
	viper.SetDefault("llm.max_retries", 2)
	viper.SetDefault("search.provider", "duckduckgo")
	viper.SetDefault("search.brave_api_key", "")
	viper.SetDefault("search.serper_api_key", "")
	viper.SetDefault("search.max_results", 5)
	viper.SetDefault("search.timeout", "20s")
	viper.SetDefault("threads.mcp_url", "")
	viper.SetDefault("threads.bearer_token", "")
	viper.SetDefault("threads.timeout", "30s")
	viper.SetDefault("workflow.max_iterations", 12)
	viper.SetDefault("workflow.invocation_timeout", "2m")
	viper.SetDefault("capability.signing_secret", "")
	viper.SetDefault("telemetry.enabled", true)
	viper.SetDefault("telemetry.metrics_port", 9090)
	viper.SetDefault("telemetry.otlp_endpoint", "")
	viper.SetDefault("storage.redis.host", "")
	viper.SetDefault("storage.redis.port", "6379")
	viper.SetDefault("storage.redis.password", "")
	viper.SetDefault("storage.redis.db", 0)
	viper.SetDefault("storage.redis.archive_ttl", "72h")

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("THREADR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv() // THREADR_LLM_API_KEY etc.

	if err := viper.ReadInConfig(); err != nil {
		// Config file is optional; env vars and defaults can carry the whole setup.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	config.Workflow = config.Workflow.Normalize()

	if err := config.LLM.Validate(); err != nil {
		panic(err)
	}
	if err := config.Search.Validate(); err != nil {
		panic(err)
	}
	if err := config.Threads.Validate(); err != nil {
		panic(err)
	}
	if err := config.Telemetry.Validate(); err != nil {
		panic(err)
	}
	return &config
}
