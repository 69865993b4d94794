package llm

import (
	"fmt"
	"time"
)

// Provider family tags. Each family maps to one wire-protocol adapter.
const (
	FamilyOpenAI     = "openai"
	FamilyDeepSeek   = "deepseek"
	FamilyGrok       = "grok"
	FamilyOpenRouter = "openrouter"
	FamilyQwen       = "qwen"
	FamilyOllama     = "ollama"
	FamilyAnthropic  = "anthropic"
	FamilyGemini     = "gemini"
)

// ModelConfig is one provider binding. Values are immutable once registered.
type ModelConfig struct {
	Name              string        `yaml:"name" json:"name"`
	Family            string        `yaml:"family" json:"family"`
	APIKey            string        `yaml:"api_key" json:"-"`
	BaseURL           string        `yaml:"base_url" json:"base_url,omitempty"`
	Model             string        `yaml:"model" json:"model"`
	MaxTokens         int           `yaml:"max_tokens" json:"max_tokens"`
	DeepMaxTokens     int           `yaml:"deep_max_tokens" json:"deep_max_tokens"`
	Temperature       float64       `yaml:"temperature" json:"temperature"`
	DeepTemperature   float64       `yaml:"deep_temperature" json:"deep_temperature"`
	ContextLimit      int           `yaml:"context_limit" json:"context_limit"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	SupportsStreaming bool          `yaml:"supports_streaming" json:"supports_streaming"`
	Fallback          string        `yaml:"fallback" json:"fallback,omitempty"`
}

// Defaults applied when a binding leaves the field empty.
const (
	DefaultMaxTokens       = 2048
	DefaultDeepMaxTokens   = 8192
	DefaultTemperature     = 0.7
	DefaultDeepTemperature = 0.5
	DefaultContextLimit    = 8192
	DefaultTimeout         = 60 * time.Second
)

// WithDefaults returns a copy with zero values filled in.
func (c ModelConfig) WithDefaults() ModelConfig {
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.DeepMaxTokens <= 0 {
		c.DeepMaxTokens = DefaultDeepMaxTokens
	}
	if c.Temperature == 0 {
		c.Temperature = DefaultTemperature
	}
	if c.DeepTemperature == 0 {
		c.DeepTemperature = DefaultDeepTemperature
	}
	if c.ContextLimit <= 0 {
		c.ContextLimit = DefaultContextLimit
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Sampling resolves temperature and max tokens for a request.
func (c ModelConfig) Sampling(deepThinking bool) (temperature float64, maxTokens int) {
	if deepThinking {
		return c.DeepTemperature, c.DeepMaxTokens
	}
	return c.Temperature, c.MaxTokens
}

// RequiresCredential reports whether the family needs an API key to be usable.
// Local ollama endpoints run without one.
func (c ModelConfig) RequiresCredential() bool {
	return c.Family != FamilyOllama
}

// Validate checks the fields every adapter depends on.
func (c ModelConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("model name is required")
	}
	if c.Family == "" {
		return fmt.Errorf("model %q: family is required", c.Name)
	}
	if c.Fallback == c.Name {
		return fmt.Errorf("model %q: fallback cannot point to itself", c.Name)
	}
	return nil
}
