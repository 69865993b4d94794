package llm

import (
	"context"
	"testing"

	"github.com/SkastVnT/AI-Assistant-sub002/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOneShot(t *testing.T) {
	ctx := context.Background()
	ch := OneShot(ctx, "qwen", "full answer")

	chunk, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, "full answer", chunk.Delta)
	assert.Equal(t, "qwen", chunk.Provider)

	_, ok = <-ch
	assert.False(t, ok, "one-shot stream must close after the single fragment")
}

func TestOneShot_CancelledBeforeRead(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := OneShot(ctx, "qwen", "never read")
	cancel()

	// The producer either delivered or gave up; in both cases the channel closes.
	for range ch {
	}
}

func TestCollect(t *testing.T) {
	ctx := context.Background()
	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		for _, d := range []string{"Hel", "lo", "!"} {
			ch <- StreamChunk{Delta: d}
		}
	}()

	text, err := Collect(ctx, ch)
	require.NoError(t, err)
	assert.Equal(t, "Hello!", text)
}

func TestCollect_ErrorChunk(t *testing.T) {
	upstream := types.NewTransientError(types.ErrUpstreamError, "stream broke")
	ch := make(chan StreamChunk, 2)
	ch <- StreamChunk{Delta: "partial"}
	ch <- StreamChunk{Err: upstream}
	close(ch)

	text, err := Collect(context.Background(), ch)
	assert.Equal(t, "partial", text)
	assert.ErrorIs(t, err, upstream)
}

func TestErrorStream(t *testing.T) {
	e := types.NewError(types.ErrModelNotFound, "missing")
	chunks := make([]StreamChunk, 0, 1)
	for c := range ErrorStream("x", e) {
		chunks = append(chunks, c)
	}
	require.Len(t, chunks, 1)
	assert.Equal(t, types.ErrModelNotFound, chunks[0].Err.Code)
}
