package llm

import "time"

// Turn is one prior user/assistant exchange.
type Turn struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

// ChatContext carries everything one chat call needs. The core never stores it.
type ChatContext struct {
	Message      string `json:"message"`
	ContextTag   string `json:"context,omitempty"`
	DeepThinking bool   `json:"deep_thinking,omitempty"`
	Language     string `json:"language,omitempty"`

	// SystemPrompt, when set, replaces the prompt builder output verbatim.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// ExplicitHistory is sent as-is and bypasses window truncation.
	ExplicitHistory []Turn `json:"explicit_history,omitempty"`

	Memories []string `json:"memories,omitempty"`
	History  []Turn   `json:"history,omitempty"`
}

// ChatResponse is the normalized result of Chat.
//
// Invariants: Success=false implies Content=="" and Error!="";
// IsFallback=true implies Success=true. Build it with Succeeded or Failed.
type ChatResponse struct {
	Content    string        `json:"content"`
	Model      string        `json:"model"`
	Family     string        `json:"family,omitempty"`
	Success    bool          `json:"success"`
	Error      string        `json:"error,omitempty"`
	RetryCount int           `json:"retry_count"`
	IsFallback bool          `json:"is_fallback"`
	Cached     bool          `json:"cached,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Succeeded builds a successful response.
func Succeeded(model, family, content string) *ChatResponse {
	return &ChatResponse{Content: content, Model: model, Family: family, Success: true}
}

// Failed builds a failed response. An empty message is replaced so the
// response never carries both an empty content and an empty error.
func Failed(model, family, errMsg string) *ChatResponse {
	if errMsg == "" {
		errMsg = "unknown error"
	}
	return &ChatResponse{Model: model, Family: family, Error: errMsg}
}
