// Package config handles docent configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSystemPrompt steers the model through search, optional image
// analysis and synthesis.
const DefaultSystemPrompt = "You are a helpful AI assistant that answers questions about documents. " +
	"Follow these steps: 1) Use the search_documents tool to find relevant documents. " +
	"2) If search results include an 'Image Path' or 'Image URL' field, use the analyze_images tool " +
	"with those paths or URLs to examine the images. " +
	"3) Synthesize information from both document content and image analysis to provide a comprehensive answer."

// Default model names per provider, used when model.name is empty.
var defaultModels = map[string]string{
	"anthropic": "claude-sonnet-4-5-20250929",
	"openai":    "gpt-4-turbo-preview",
	"ollama":    "qwen3:8b",
}

// Default provider base URLs, used when model.base_url is empty.
var defaultBaseURLs = map[string]string{
	"anthropic": "https://api.anthropic.com",
	"openai":    "https://api.openai.com/v1",
	"ollama":    "http://localhost:11434",
}

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./docent.yaml, ~/.config/docent/config.yaml, /etc/docent/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"docent.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "docent", "config.yaml"))
	}

	paths = append(paths, "/etc/docent/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all docent configuration.
type Config struct {
	Model       ModelConfig        `yaml:"model"`
	Agent       AgentConfig        `yaml:"agent"`
	ToolServers []ToolServerConfig `yaml:"tool_servers"`
	Usage       UsageConfig        `yaml:"usage"`
	LogLevel    string             `yaml:"log_level"`
	LogFormat   string             `yaml:"log_format"` // text or json
}

// ModelConfig selects the remote model and its sampling parameters.
type ModelConfig struct {
	Provider       string        `yaml:"provider"` // anthropic, openai, ollama
	Name           string        `yaml:"name"`
	APIKey         string        `yaml:"api_key"`
	BaseURL        string        `yaml:"base_url"`
	MaxTokens      int           `yaml:"max_tokens"`
	Temperature    *float64      `yaml:"temperature"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// AgentConfig bounds the conversation loop.
type AgentConfig struct {
	SystemPrompt string `yaml:"system_prompt"`
	MaxTurns     int    `yaml:"max_turns"`

	// RetryAttempts is the total number of attempts per model call,
	// including the first. 1 disables retry.
	RetryAttempts       int           `yaml:"retry_attempts"`
	RetryInitialBackoff time.Duration `yaml:"retry_initial_backoff"`
	RetryMaxBackoff     time.Duration `yaml:"retry_max_backoff"`

	// TurnTimeout bounds a single model call attempt. Zero means no
	// per-attempt deadline beyond the request timeout.
	TurnTimeout   time.Duration `yaml:"turn_timeout"`
	ParallelTools bool          `yaml:"parallel_tools"`
}

// ToolServerConfig describes one tool-provider subprocess.
type ToolServerConfig struct {
	Name           string            `yaml:"name"`
	Command        string            `yaml:"command"`
	Args           []string          `yaml:"args"`
	Env            map[string]string `yaml:"env"`
	CallTimeout    time.Duration     `yaml:"call_timeout"`
	ConnectTimeout time.Duration     `yaml:"connect_timeout"`

	// Include, when non-empty, limits the tools taken from this server.
	Include []string `yaml:"include"`
	// Exclude drops tools by name. Applied after Include.
	Exclude []string `yaml:"exclude"`

	// Required makes startup fail if this server cannot be reached.
	// Otherwise the server is logged and skipped.
	Required bool `yaml:"required"`
}

// UsageConfig controls the local token accounting store.
type UsageConfig struct {
	// DBPath is the SQLite file. Empty disables usage recording.
	DBPath  string                  `yaml:"db_path"`
	Pricing map[string]PricingEntry `yaml:"pricing"`
}

// PricingEntry is the per-million-token cost of a model.
type PricingEntry struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns a configuration with every default applied and no
// tool servers.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Model.Provider == "" {
		c.Model.Provider = "anthropic"
	}
	c.Model.Provider = strings.ToLower(c.Model.Provider)
	if c.Model.Name == "" {
		c.Model.Name = defaultModels[c.Model.Provider]
	}
	if c.Model.BaseURL == "" {
		c.Model.BaseURL = defaultBaseURLs[c.Model.Provider]
	}
	if c.Model.MaxTokens == 0 {
		c.Model.MaxTokens = 4096
	}
	if c.Model.Temperature == nil {
		t := 0.7
		c.Model.Temperature = &t
	}
	if c.Model.RequestTimeout == 0 {
		c.Model.RequestTimeout = 5 * time.Minute
	}

	if c.Agent.SystemPrompt == "" {
		c.Agent.SystemPrompt = DefaultSystemPrompt
	}
	if c.Agent.MaxTurns == 0 {
		c.Agent.MaxTurns = 10
	}
	if c.Agent.RetryAttempts == 0 {
		c.Agent.RetryAttempts = 3
	}
	if c.Agent.RetryInitialBackoff == 0 {
		c.Agent.RetryInitialBackoff = time.Second
	}
	if c.Agent.RetryMaxBackoff == 0 {
		c.Agent.RetryMaxBackoff = 30 * time.Second
	}

	for i := range c.ToolServers {
		ts := &c.ToolServers[i]
		if ts.CallTimeout == 0 {
			ts.CallTimeout = 60 * time.Second
		}
		if ts.ConnectTimeout == 0 {
			ts.ConnectTimeout = 30 * time.Second
		}
	}

	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if _, ok := defaultBaseURLs[c.Model.Provider]; !ok {
		return fmt.Errorf("model.provider %q not supported (valid: anthropic, openai, ollama)", c.Model.Provider)
	}
	if c.Model.Provider != "ollama" && c.Model.APIKey == "" {
		return fmt.Errorf("model.api_key is required for provider %s", c.Model.Provider)
	}
	if c.Model.MaxTokens < 0 {
		return errors.New("model.max_tokens must not be negative")
	}
	if c.Agent.MaxTurns < 1 {
		return errors.New("agent.max_turns must be at least 1")
	}
	if c.Agent.RetryAttempts < 1 {
		return errors.New("agent.retry_attempts must be at least 1")
	}
	if c.Agent.RetryMaxBackoff < c.Agent.RetryInitialBackoff {
		return errors.New("agent.retry_max_backoff must not be shorter than agent.retry_initial_backoff")
	}

	seen := make(map[string]bool, len(c.ToolServers))
	for i, ts := range c.ToolServers {
		if ts.Name == "" {
			return fmt.Errorf("tool_servers[%d]: name is required", i)
		}
		if seen[ts.Name] {
			return fmt.Errorf("tool_servers[%d]: duplicate name %q", i, ts.Name)
		}
		seen[ts.Name] = true
		if ts.Command == "" {
			return fmt.Errorf("tool_servers[%d] (%s): command is required", i, ts.Name)
		}
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format %q not supported (valid: text, json)", c.LogFormat)
	}
	return nil
}
