// Package factory builds llm.Handler instances from model bindings. It imports
// the adapter sub-packages and maps family tags to their constructors, breaking
// the import cycle that would occur if this logic lived in the llm package.
package factory

import (
	"fmt"
	"sort"
	"strings"

	"github.com/SkastVnT/AI-Assistant-sub002/llm"
	claude "github.com/SkastVnT/AI-Assistant-sub002/llm/providers/anthropic"
	"github.com/SkastVnT/AI-Assistant-sub002/llm/providers/gemini"
	"github.com/SkastVnT/AI-Assistant-sub002/llm/providers/openaicompat"
	"go.uber.org/zap"
)

// NewHandler creates the adapter for cfg.Family.
//
// Supported families: openai, deepseek, grok, openrouter, qwen, ollama,
// anthropic (alias claude), gemini. Any other family with a base_url is
// treated as a generic OpenAI-compatible endpoint.
func NewHandler(cfg llm.ModelConfig, logger *zap.Logger) (llm.Handler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Family {
	case llm.FamilyAnthropic, "claude":
		cfg.Family = llm.FamilyAnthropic
		return claude.NewClaudeProvider(cfg, logger), nil

	case llm.FamilyGemini:
		return gemini.NewGeminiProvider(cfg, logger), nil

	default:
		if _, ok := openaicompat.Presets[cfg.Family]; ok {
			return openaicompat.New(cfg, logger), nil
		}
		// 通用 OpenAI 兼容提供商：任意族名 + base_url 即可接入
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("model %q: unknown family %q and no base_url for a generic OpenAI-compatible endpoint", cfg.Name, cfg.Family)
		}
		logger.Info("creating generic OpenAI-compatible handler",
			zap.String("model", cfg.Name),
			zap.String("family", cfg.Family),
			zap.String("base_url", cfg.BaseURL))
		return openaicompat.New(cfg, logger), nil
	}
}

// SupportedFamilies returns the built-in family tags.
func SupportedFamilies() []string {
	families := []string{llm.FamilyAnthropic, llm.FamilyGemini}
	for f := range openaicompat.Presets {
		families = append(families, f)
	}
	sort.Strings(families)
	return families
}

// Usable reports whether a binding can be registered: bindings whose family
// needs a credential are omitted when the credential is absent.
func Usable(cfg llm.ModelConfig) bool {
	return !cfg.RequiresCredential() || strings.TrimSpace(cfg.APIKey) != ""
}

// NewRegistry creates a ModelRegistry populated with every usable binding.
// Bindings without a credential are skipped silently at Info level; bindings
// that fail to initialize are logged as a warning and skipped.
func NewRegistry(models []llm.ModelConfig, defaultModel string, logger *zap.Logger) *llm.ModelRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}

	reg := llm.NewModelRegistry(logger)

	for _, cfg := range models {
		if !Usable(cfg) {
			logger.Info("model omitted: credential not configured", zap.String("model", cfg.Name))
			continue
		}
		h, err := NewHandler(cfg, logger)
		if err != nil {
			logger.Warn("skipping model: initialization failed",
				zap.String("model", cfg.Name),
				zap.Error(err))
			continue
		}
		if err := reg.Register(cfg, h); err != nil {
			logger.Warn("skipping model: registration failed",
				zap.String("model", cfg.Name),
				zap.Error(err))
			continue
		}
		logger.Info("model registered",
			zap.String("model", cfg.Name),
			zap.String("family", cfg.Family))
	}

	if defaultModel != "" {
		if err := reg.SetDefault(defaultModel); err != nil {
			logger.Warn("default model is not available", zap.String("model", defaultModel), zap.Error(err))
		}
	}

	return reg
}
