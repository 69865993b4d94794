package context

import (
	"math"

	"github.com/SkastVnT/AI-Assistant-sub002/llm"
	"github.com/SkastVnT/AI-Assistant-sub002/llm/tokenizer"
	"github.com/SkastVnT/AI-Assistant-sub002/types"

	"go.uber.org/zap"
)

// Config 上下文窗口配置
type Config struct {
	// TargetUsage 上下文窗口目标使用比例，(0, 1]
	TargetUsage float64 `yaml:"target_usage" env:"TARGET_USAGE"`

	// Reserve 为响应预留的固定 token 数
	Reserve int `yaml:"reserve_tokens" env:"RESERVE_TOKENS"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		TargetUsage: 0.7,
		Reserve:     200,
	}
}

// WindowManager fits history into a provider's context budget, keeping the
// most recent turns. All methods are pure functions of their inputs.
type WindowManager struct {
	config    Config
	tokenizer tokenizer.Tokenizer
	logger    *zap.Logger
}

// NewWindowManager creates a WindowManager. A nil tokenizer uses the default
// character estimator.
func NewWindowManager(config Config, tok tokenizer.Tokenizer, logger *zap.Logger) *WindowManager {
	if config.TargetUsage <= 0 || config.TargetUsage > 1 {
		config.TargetUsage = DefaultConfig().TargetUsage
	}
	if config.Reserve < 0 {
		config.Reserve = 0
	}
	if tok == nil {
		tok = tokenizer.NewCharEstimator(tokenizer.DefaultDivisor)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WindowManager{
		config:    config,
		tokenizer: tok,
		logger:    logger.With(zap.String("component", "context_window")),
	}
}

// Tokens estimates the tokens in text.
func (m *WindowManager) Tokens(text string) int {
	return m.tokenizer.CountTokens(text)
}

// TurnTokens counts both sides of a turn.
func (m *WindowManager) TurnTokens(t llm.Turn) int {
	return m.tokenizer.CountTokens(t.User) + m.tokenizer.CountTokens(t.Assistant)
}

// Available returns the token budget left for history.
func (m *WindowManager) Available(limit int, systemPrompt, message string) int {
	budget := int(math.Floor(float64(limit) * m.config.TargetUsage))
	return budget - m.Tokens(systemPrompt) - m.Tokens(message) - m.config.Reserve
}

// FitHistory returns the longest suffix of history that fits the budget, in
// chronological order. It never returns a partial turn: if the newest turn
// alone exceeds the budget, the result is empty.
func (m *WindowManager) FitHistory(history []llm.Turn, limit int, systemPrompt, message string) []llm.Turn {
	if len(history) == 0 {
		return []llm.Turn{}
	}
	available := m.Available(limit, systemPrompt, message)
	if available <= 0 {
		m.logger.Debug("no budget for history",
			zap.Int("limit", limit),
			zap.Int("available", available))
		return []llm.Turn{}
	}

	used := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		cost := m.TurnTokens(history[i])
		if used+cost > available {
			break
		}
		used += cost
		start = i
	}

	kept := make([]llm.Turn, len(history)-start)
	copy(kept, history[start:])

	if dropped := start; dropped > 0 {
		m.logger.Debug("history truncated",
			zap.Int("kept_turns", len(kept)),
			zap.Int("dropped_turns", dropped),
			zap.Int("used_tokens", used),
			zap.Int("available", available))
	}
	return kept
}

// BuildMessages assembles the provider payload: the system prompt, the kept
// turns in order, then the new user message. Empty turn sides are skipped and
// neighbouring messages of the same role are merged, so user and assistant
// always alternate.
func BuildMessages(systemPrompt string, history []llm.Turn, message string) []types.Message {
	msgs := make([]types.Message, 0, 2*len(history)+2)
	if systemPrompt != "" {
		msgs = append(msgs, types.NewSystemMessage(systemPrompt))
	}
	for _, t := range history {
		if t.User != "" {
			msgs = appendMerged(msgs, types.NewUserMessage(t.User))
		}
		if t.Assistant != "" {
			msgs = appendMerged(msgs, types.NewAssistantMessage(t.Assistant))
		}
	}
	return appendMerged(msgs, types.NewUserMessage(message))
}

func appendMerged(msgs []types.Message, m types.Message) []types.Message {
	if n := len(msgs); n > 0 && msgs[n-1].Role == m.Role && m.Role != types.RoleSystem {
		msgs[n-1].Content += "\n\n" + m.Content
		return msgs
	}
	return append(msgs, m)
}
