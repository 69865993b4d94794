package context

import (
	"strings"
	"testing"

	"github.com/SkastVnT/AI-Assistant-sub002/llm"
	"github.com/SkastVnT/AI-Assistant-sub002/llm/tokenizer"
	"github.com/SkastVnT/AI-Assistant-sub002/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

// text returns a string worth exactly n tokens under the divisor-4 estimator.
func text(n int) string {
	return strings.Repeat("abcd", n)
}

// turn returns a turn costing exactly n tokens, split across both sides.
// i only makes call sites read as an index.
func turn(_ int, n int) llm.Turn {
	u := n / 2
	return llm.Turn{User: text(u), Assistant: text(n - u)}
}

func newManager(reserve int) *WindowManager {
	return NewWindowManager(Config{TargetUsage: 0.7, Reserve: reserve}, tokenizer.NewCharEstimator(4), zap.NewNop())
}

func TestWindowManager_Available(t *testing.T) {
	m := newManager(100)
	// floor(1000*0.7)=700, minus 50 system, 20 message, 100 reserve.
	assert.Equal(t, 530, m.Available(1000, text(50), text(20)))
	assert.Equal(t, 700-100, m.Available(1000, "", ""))
	assert.Less(t, m.Available(100, text(50), text(20)), 0)
}

func TestWindowManager_DefaultsAndNormalization(t *testing.T) {
	m := NewWindowManager(Config{TargetUsage: 3, Reserve: -5}, nil, nil)
	assert.Equal(t, 0.7, m.config.TargetUsage)
	assert.Equal(t, 0, m.config.Reserve)
	assert.Equal(t, 1, m.Tokens("abcd"), "nil tokenizer falls back to chars/4")
}

func TestWindowManager_FitHistory(t *testing.T) {
	history := []llm.Turn{turn(0, 100), turn(1, 100), turn(2, 100), turn(3, 100)}

	tests := []struct {
		name    string
		limit   int
		reserve int
		history []llm.Turn
		want    []llm.Turn
	}{
		{
			name:    "everything fits",
			limit:   1000,
			reserve: 0,
			history: history,
			want:    history,
		},
		{
			name:    "keeps most recent turns in order",
			limit:   1000,
			reserve: 400, // 700-400 = 300 -> three turns
			history: history,
			want:    history[1:],
		},
		{
			name:    "stops before exceeding rather than skipping",
			limit:   1000,
			reserve: 450, // 250 -> two turns, third would exceed
			history: history,
			want:    history[2:],
		},
		{
			name:    "zero budget returns empty",
			limit:   1000,
			reserve: 700,
			history: history,
			want:    []llm.Turn{},
		},
		{
			name:    "negative budget returns empty",
			limit:   100,
			reserve: 500,
			history: history,
			want:    []llm.Turn{},
		},
		{
			name:    "empty history returns empty",
			limit:   1000,
			reserve: 0,
			history: nil,
			want:    []llm.Turn{},
		},
		{
			name:    "oversized newest turn is dropped whole",
			limit:   1000,
			reserve: 0,
			history: []llm.Turn{turn(0, 10), turn(1, 800)},
			want:    []llm.Turn{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newManager(tt.reserve)
			got := m.FitHistory(tt.history, tt.limit, "", "")
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWindowManager_FitHistoryDoesNotAlias(t *testing.T) {
	history := []llm.Turn{turn(0, 10), turn(1, 10)}
	kept := newManager(0).FitHistory(history, 1000, "", "")
	require.Len(t, kept, 2)

	kept[0].User = "mutated"
	assert.NotEqual(t, "mutated", history[0].User)
}

// context_limit=1000, target 0.7, system ~50 tokens, message ~20 tokens and
// ten prior turns of ~100 tokens each.
func TestWindowManager_ReferenceScenario(t *testing.T) {
	m := newManager(200)
	history := make([]llm.Turn, 10)
	for i := range history {
		history[i] = turn(i, 100)
	}
	system, message := text(50), text(20)

	// 700 - 50 - 20 - 200 = 430 -> four turns of 100.
	first := m.FitHistory(history, 1000, system, message)
	assert.Equal(t, history[6:], first)

	for i := 0; i < 5; i++ {
		assert.Equal(t, first, m.FitHistory(history, 1000, system, message), "run-to-run stable")
	}
}

func TestBuildMessages(t *testing.T) {
	history := []llm.Turn{
		{User: "hi", Assistant: "hello"},
		{User: "only user"},
	}
	msgs := BuildMessages("be brief", history, "what now?")

	assert.Equal(t, []types.Message{
		{Role: types.RoleSystem, Content: "be brief"},
		{Role: types.RoleUser, Content: "hi"},
		{Role: types.RoleAssistant, Content: "hello"},
		{Role: types.RoleUser, Content: "only user\n\nwhat now?"},
	}, msgs)

	// 只有助手一侧的轮次同样合并，角色保持交替
	merged := BuildMessages("", []llm.Turn{
		{User: "a", Assistant: "b"},
		{Assistant: "c"},
		{User: "d"},
	}, "e")
	assert.Equal(t, []types.Message{
		{Role: types.RoleUser, Content: "a"},
		{Role: types.RoleAssistant, Content: "b\n\nc"},
		{Role: types.RoleUser, Content: "d\n\ne"},
	}, merged)

	noSystem := BuildMessages("", nil, "ping")
	assert.Equal(t, []types.Message{{Role: types.RoleUser, Content: "ping"}}, noSystem)
}

func TestProperty_FitHistoryIsPureSuffixWithinBudget(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		divisor := rapid.Float64Range(1, 8).Draw(rt, "divisor")
		reserve := rapid.IntRange(0, 300).Draw(rt, "reserve")
		limit := rapid.IntRange(0, 4000).Draw(rt, "limit")
		n := rapid.IntRange(0, 20).Draw(rt, "turns")

		history := make([]llm.Turn, n)
		for i := range history {
			history[i] = llm.Turn{
				User:      rapid.StringN(0, 200, -1).Draw(rt, "user"),
				Assistant: rapid.StringN(0, 400, -1).Draw(rt, "assistant"),
			}
		}
		system := rapid.StringN(0, 300, -1).Draw(rt, "system")
		message := rapid.StringN(0, 100, -1).Draw(rt, "message")

		m := NewWindowManager(Config{TargetUsage: 0.7, Reserve: reserve}, tokenizer.NewCharEstimator(divisor), zap.NewNop())
		a := m.FitHistory(history, limit, system, message)
		b := m.FitHistory(history, limit, system, message)

		if len(a) != len(b) {
			rt.Fatalf("not deterministic: %d vs %d", len(a), len(b))
		}
		// The result is a suffix of history.
		offset := len(history) - len(a)
		used := 0
		for i := range a {
			if a[i] != history[offset+i] || a[i] != b[i] {
				rt.Fatalf("kept turns are not the most recent suffix")
			}
			used += m.TurnTokens(a[i])
		}
		available := m.Available(limit, system, message)
		if available <= 0 && len(a) != 0 {
			rt.Fatalf("non-positive budget must keep nothing")
		}
		if len(a) > 0 && used > available {
			rt.Fatalf("used %d exceeds available %d", used, available)
		}
		// Maximality: the next older turn would not fit.
		if offset > 0 && available > 0 && used+m.TurnTokens(history[offset-1]) <= available {
			rt.Fatalf("stopped early: turn %d would still fit", offset-1)
		}
	})
}
