package factory

import (
	"testing"

	"github.com/SkastVnT/AI-Assistant-sub002/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// Factory Tests
// =============================================================================

func TestNewHandler_AllFamilies(t *testing.T) {
	tests := []struct {
		family     string
		wantFamily string
	}{
		{llm.FamilyOpenAI, llm.FamilyOpenAI},
		{llm.FamilyDeepSeek, llm.FamilyDeepSeek},
		{llm.FamilyGrok, llm.FamilyGrok},
		{llm.FamilyOpenRouter, llm.FamilyOpenRouter},
		{llm.FamilyQwen, llm.FamilyQwen},
		{llm.FamilyOllama, llm.FamilyOllama},
		{llm.FamilyAnthropic, llm.FamilyAnthropic},
		{"claude", llm.FamilyAnthropic},
		{llm.FamilyGemini, llm.FamilyGemini},
	}
	for _, tt := range tests {
		t.Run(tt.family, func(t *testing.T) {
			h, err := NewHandler(llm.ModelConfig{Name: "m-" + tt.family, Family: tt.family, APIKey: "k"}, zap.NewNop())
			require.NoError(t, err)
			assert.Equal(t, "m-"+tt.family, h.Name())
			assert.Equal(t, tt.wantFamily, h.Family())
		})
	}
}

func TestNewHandler_GenericCompat(t *testing.T) {
	h, err := NewHandler(llm.ModelConfig{Name: "vllm", Family: "vllm", BaseURL: "http://localhost:8000"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "vllm", h.Name())

	_, err = NewHandler(llm.ModelConfig{Name: "x", Family: "mystery"}, nil)
	assert.Error(t, err)
}

func TestNewHandler_InvalidConfig(t *testing.T) {
	_, err := NewHandler(llm.ModelConfig{Family: llm.FamilyOpenAI}, nil)
	assert.Error(t, err)
}

func TestSupportedFamilies(t *testing.T) {
	families := SupportedFamilies()
	assert.Contains(t, families, llm.FamilyAnthropic)
	assert.Contains(t, families, llm.FamilyOllama)
	assert.IsIncreasing(t, families)
}

func TestUsable(t *testing.T) {
	assert.True(t, Usable(llm.ModelConfig{Family: llm.FamilyOpenAI, APIKey: "k"}))
	assert.False(t, Usable(llm.ModelConfig{Family: llm.FamilyOpenAI}))
	assert.False(t, Usable(llm.ModelConfig{Family: llm.FamilyGemini, APIKey: "   "}))
	assert.True(t, Usable(llm.ModelConfig{Family: llm.FamilyOllama}))
}

func TestNewRegistry_OmitsMissingCredentials(t *testing.T) {
	reg := NewRegistry([]llm.ModelConfig{
		{Name: "gpt", Family: llm.FamilyOpenAI, APIKey: "k"},
		{Name: "deepseek", Family: llm.FamilyDeepSeek},
		{Name: "local", Family: llm.FamilyOllama},
		{Name: "broken", Family: "mystery", APIKey: "k"},
	}, "deepseek", zap.NewNop())
	defer reg.Close()

	assert.Equal(t, []string{"gpt", "local"}, reg.List())
	assert.False(t, reg.Has("deepseek"))
	// 默认模型被省略时不设置默认值
	assert.Empty(t, reg.Default())
}

func TestNewRegistry_Default(t *testing.T) {
	reg := NewRegistry([]llm.ModelConfig{
		{Name: "a", Family: llm.FamilyOpenAI, APIKey: "k"},
		{Name: "b", Family: llm.FamilyGemini, APIKey: "k"},
	}, "b", nil)
	defer reg.Close()

	assert.Equal(t, "b", reg.Default())
	_, cfg, ok := reg.Get("b")
	require.True(t, ok)
	assert.Equal(t, llm.DefaultContextLimit, cfg.ContextLimit)
}
