package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubHandler struct {
	name     string
	closed   bool
	closeErr error
}

func (s *stubHandler) Name() string   { return s.name }
func (s *stubHandler) Family() string { return FamilyOpenAI }
func (s *stubHandler) Chat(ctx context.Context, req *ChatRequest) (string, error) {
	return "ok", nil
}
func (s *stubHandler) ChatStream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	return OneShot(ctx, s.name, "ok"), nil
}
func (s *stubHandler) Close() error {
	s.closed = true
	return s.closeErr
}

func TestModelRegistry_RegisterAndGet(t *testing.T) {
	reg := NewModelRegistry(zap.NewNop())

	err := reg.Register(ModelConfig{Name: "deepseek", Family: FamilyDeepSeek, Model: "deepseek-chat"}, &stubHandler{name: "deepseek"})
	require.NoError(t, err)

	h, cfg, ok := reg.Get("deepseek")
	require.True(t, ok)
	assert.Equal(t, "deepseek", h.Name())
	assert.Equal(t, DefaultMaxTokens, cfg.MaxTokens, "defaults should be applied on register")
	assert.Equal(t, DefaultTimeout, cfg.Timeout)

	_, _, ok = reg.Get("missing")
	assert.False(t, ok)
	assert.True(t, reg.Has("deepseek"))
	assert.Equal(t, 1, reg.Len())
}

func TestModelRegistry_RegisterRejectsInvalid(t *testing.T) {
	reg := NewModelRegistry(nil)

	tests := []struct {
		name string
		cfg  ModelConfig
		h    Handler
	}{
		{"nil handler", ModelConfig{Name: "a", Family: FamilyOpenAI}, nil},
		{"missing name", ModelConfig{Family: FamilyOpenAI}, &stubHandler{}},
		{"missing family", ModelConfig{Name: "a"}, &stubHandler{}},
		{"self fallback", ModelConfig{Name: "a", Family: FamilyOpenAI, Fallback: "a"}, &stubHandler{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, reg.Register(tt.cfg, tt.h))
		})
	}
	assert.Equal(t, 0, reg.Len())
}

func TestModelRegistry_ListDefaultUnregister(t *testing.T) {
	reg := NewModelRegistry(zap.NewNop())
	for _, name := range []string{"grok", "claude", "gemini"} {
		require.NoError(t, reg.Register(ModelConfig{Name: name, Family: FamilyOpenAI}, &stubHandler{name: name}))
	}

	assert.Equal(t, []string{"claude", "gemini", "grok"}, reg.List())
	assert.Len(t, reg.Configs(), 3)
	assert.Equal(t, "claude", reg.Configs()[0].Name)

	assert.Error(t, reg.SetDefault("missing"))
	require.NoError(t, reg.SetDefault("grok"))
	assert.Equal(t, "grok", reg.Default())

	reg.Unregister("grok")
	assert.Equal(t, "", reg.Default())
	assert.Equal(t, []string{"claude", "gemini"}, reg.List())
}

func TestModelRegistry_Close(t *testing.T) {
	reg := NewModelRegistry(zap.NewNop())
	ok := &stubHandler{name: "a"}
	bad := &stubHandler{name: "b", closeErr: errors.New("boom")}
	require.NoError(t, reg.Register(ModelConfig{Name: "a", Family: FamilyOpenAI}, ok))
	require.NoError(t, reg.Register(ModelConfig{Name: "b", Family: FamilyOpenAI}, bad))

	err := reg.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close b")
	assert.True(t, ok.closed)
	assert.True(t, bad.closed)
	assert.Equal(t, 0, reg.Len())
}
