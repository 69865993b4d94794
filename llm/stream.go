package llm

import (
	"context"
	"strings"

	"github.com/SkastVnT/AI-Assistant-sub002/types"
)

// OneShot re-exposes a complete response as a single-fragment stream.
func OneShot(ctx context.Context, provider, content string) <-chan StreamChunk {
	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		select {
		case ch <- StreamChunk{Delta: content, Provider: provider}:
		case <-ctx.Done():
		}
	}()
	return ch
}

// ErrorStream returns a stream carrying only a terminal error chunk.
func ErrorStream(provider string, err *types.Error) <-chan StreamChunk {
	ch := make(chan StreamChunk, 1)
	ch <- StreamChunk{Provider: provider, Err: err}
	close(ch)
	return ch
}

// Collect drains a stream into one string. It stops at the first error chunk
// or when ctx is done.
func Collect(ctx context.Context, ch <-chan StreamChunk) (string, error) {
	var sb strings.Builder
	for {
		select {
		case <-ctx.Done():
			return sb.String(), ctx.Err()
		case chunk, ok := <-ch:
			if !ok {
				return sb.String(), nil
			}
			if chunk.Err != nil {
				return sb.String(), chunk.Err
			}
			sb.WriteString(chunk.Delta)
		}
	}
}
