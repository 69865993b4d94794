package orchestrator

import (
	"strings"
	"sync"

	"github.com/SkastVnT/AI-Assistant-sub002/llm"
)

// PromptBuilder produces the system prompt for a request when the caller did
// not supply one.
type PromptBuilder interface {
	Build(cc *llm.ChatContext) string
}

// PromptBuilderFunc adapts a function to PromptBuilder.
type PromptBuilderFunc func(cc *llm.ChatContext) string

// Build implements PromptBuilder.
func (f PromptBuilderFunc) Build(cc *llm.ChatContext) string { return f(cc) }

// DefaultPrompt is used when no prompt is configured for a context tag.
const DefaultPrompt = "You are a helpful assistant. Answer accurately and concisely."

// TemplatePrompts 按 context tag 选择基础提示词，再附加语言要求与记忆片段。
// 模板表以 context tag 为键，"default" 作为兜底；热更新时整表替换。
type TemplatePrompts struct {
	mu      sync.RWMutex
	prompts map[string]string
}

// NewTemplatePrompts creates a builder over a tag → prompt table.
func NewTemplatePrompts(prompts map[string]string) *TemplatePrompts {
	p := &TemplatePrompts{}
	p.SetPrompts(prompts)
	return p
}

// SetPrompts replaces the whole template table.
func (p *TemplatePrompts) SetPrompts(prompts map[string]string) {
	cp := make(map[string]string, len(prompts))
	for k, v := range prompts {
		cp[k] = v
	}
	p.mu.Lock()
	p.prompts = cp
	p.mu.Unlock()
}

func (p *TemplatePrompts) lookup(tag string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if base := strings.TrimSpace(p.prompts[tag]); base != "" {
		return base
	}
	return strings.TrimSpace(p.prompts["default"])
}

// Build implements PromptBuilder.
func (p *TemplatePrompts) Build(cc *llm.ChatContext) string {
	base := p.lookup(cc.ContextTag)
	if base == "" {
		base = DefaultPrompt
	}

	parts := []string{base}
	if lang := strings.TrimSpace(cc.Language); lang != "" {
		parts = append(parts, "Always reply in "+lang+".")
	}
	if len(cc.Memories) > 0 {
		if s := formatBulletSection("Relevant notes from earlier conversations:", cc.Memories); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}

func formatBulletSection(title string, items []string) string {
	var cleaned []string
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it != "" {
			cleaned = append(cleaned, "- "+it)
		}
	}
	if len(cleaned) == 0 {
		return ""
	}
	return title + "\n" + strings.Join(cleaned, "\n")
}
