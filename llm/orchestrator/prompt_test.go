package orchestrator

import (
	"sync"
	"testing"

	"github.com/SkastVnT/AI-Assistant-sub002/llm"

	"github.com/stretchr/testify/assert"
)

func TestTemplatePrompts_Build(t *testing.T) {
	p := NewTemplatePrompts(map[string]string{
		"default": "base",
		"code":    "  engineer  ",
	})

	tests := []struct {
		name string
		cc   llm.ChatContext
		want string
	}{
		{"tag", llm.ChatContext{ContextTag: "code"}, "engineer"},
		{"fallback to default", llm.ChatContext{ContextTag: "unknown"}, "base"},
		{"language", llm.ChatContext{Language: "vi"}, "base\n\nAlways reply in vi."},
		{"memories skip blanks", llm.ChatContext{Memories: []string{" likes Go ", ""}},
			"base\n\nRelevant notes from earlier conversations:\n- likes Go"},
		{"only blank memories", llm.ChatContext{Memories: []string{"  "}}, "base"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Build(&tt.cc))
		})
	}
}

func TestTemplatePrompts_EmptyTableUsesDefaultPrompt(t *testing.T) {
	assert.Equal(t, DefaultPrompt, NewTemplatePrompts(nil).Build(&llm.ChatContext{}))
}

func TestTemplatePrompts_SetPrompts(t *testing.T) {
	src := map[string]string{"default": "v1"}
	p := NewTemplatePrompts(src)
	src["default"] = "mutated"
	assert.Equal(t, "v1", p.Build(&llm.ChatContext{}), "table is copied")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			p.SetPrompts(map[string]string{"default": "v2"})
		}()
		go func() {
			defer wg.Done()
			_ = p.Build(&llm.ChatContext{})
		}()
	}
	wg.Wait()
	assert.Equal(t, "v2", p.Build(&llm.ChatContext{}))
}
