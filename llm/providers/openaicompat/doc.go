// Package openaicompat implements llm.Handler for every provider family that
// speaks the OpenAI Chat Completions wire format.
//
// OpenAI, DeepSeek, Grok, OpenRouter, Qwen (compatible mode) and Ollama share
// the same request and SSE shapes. A Preset per family supplies only what
// differs: default base URL, endpoint paths, fallback model and extra headers.
//
// Usage:
//
//	h := openaicompat.New(llm.ModelConfig{
//	    Name:   "deepseek",
//	    Family: llm.FamilyDeepSeek,
//	    APIKey: os.Getenv("DEEPSEEK_API_KEY"),
//	    Model:  "deepseek-chat",
//	}, logger)
package openaicompat
