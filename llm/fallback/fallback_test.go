package fallback

import (
	"context"
	"errors"
	"testing"

	"github.com/SkastVnT/AI-Assistant-sub002/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recorder struct {
	calls []string
	fail  map[string]error
}

func (r *recorder) attempt(_ context.Context, model string) (string, error) {
	r.calls = append(r.calls, model)
	if err := r.fail[model]; err != nil {
		return "", err
	}
	return "from " + model, nil
}

func TestExecute_PrimarySucceeds(t *testing.T) {
	m := NewManager(Table{"A": {"B", "C"}}, zap.NewNop())
	r := &recorder{}

	res := Execute(context.Background(), m, "A", r.attempt)
	require.NoError(t, res.Err)
	assert.Equal(t, "from A", res.Value)
	assert.Equal(t, "A", res.Model)
	assert.False(t, res.IsFallback)
	assert.Equal(t, []string{"A"}, r.calls)
}

func TestExecute_FirstAlternateWins(t *testing.T) {
	m := NewManager(Table{"A": {"B", "C"}}, zap.NewNop())
	r := &recorder{fail: map[string]error{"A": errors.New("boom")}}

	var hops [][2]string
	m.OnHop(func(from, to string, err error) {
		assert.Error(t, err)
		hops = append(hops, [2]string{from, to})
	})

	res := Execute(context.Background(), m, "A", r.attempt)
	require.NoError(t, res.Err)
	assert.True(t, res.IsFallback)
	assert.Equal(t, "B", res.Model)
	assert.Equal(t, "from B", res.Value)
	// C 永远不会被调用
	assert.Equal(t, []string{"A", "B"}, r.calls)
	assert.Equal(t, [][2]string{{"A", "B"}}, hops)
}

func TestExecute_AllFailReturnsLast(t *testing.T) {
	last := errors.New("c failed")
	m := NewManager(Table{"A": {"B", "C"}}, nil)
	r := &recorder{fail: map[string]error{
		"A": errors.New("a failed"),
		"B": errors.New("b failed"),
		"C": last,
	}}

	res := Execute(context.Background(), m, "A", r.attempt)
	assert.Same(t, last, res.Err)
	assert.Equal(t, "C", res.Model)
	assert.False(t, res.IsFallback)
	assert.Equal(t, []string{"A", "B", "C"}, res.Tried)
}

func TestExecute_NoManager(t *testing.T) {
	r := &recorder{fail: map[string]error{"A": errors.New("x")}}
	res := Execute[string](context.Background(), nil, "A", r.attempt)
	assert.Error(t, res.Err)
	assert.Equal(t, []string{"A"}, r.calls)
}

func TestExecute_StopsOnCancel(t *testing.T) {
	m := NewManager(Table{"A": {"B"}}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	res := Execute(ctx, m, "A", func(ctx context.Context, model string) (int, error) {
		calls++
		cancel()
		return 0, errors.New("failed")
	})
	assert.Equal(t, 1, calls)
	assert.EqualError(t, res.Err, "failed")
}

func TestExecute_CycleIsFinite(t *testing.T) {
	m := NewManager(Table{"A": {"B"}, "B": {"A", "C"}, "C": {"C"}}, nil)
	r := &recorder{fail: map[string]error{
		"A": errors.New("a"), "B": errors.New("b"), "C": errors.New("c"),
	}}
	res := Execute(context.Background(), m, "A", r.attempt)
	assert.Error(t, res.Err)
	assert.Equal(t, []string{"A", "B", "C"}, r.calls)
}

func TestChain(t *testing.T) {
	m := NewManager(Table{
		"A": {"B", "C", "B"},
		"B": {"D"},
		"C": {"A"},
	}, nil)
	assert.Equal(t, []string{"A", "B", "C", "D"}, m.Chain("A"))
	assert.Equal(t, []string{"X"}, m.Chain("X"))
	assert.Equal(t, []string{"B", "C", "B"}, m.Alternates("A"))
}

func TestValidateTable(t *testing.T) {
	tests := []struct {
		name    string
		table   Table
		wantErr string
	}{
		{"empty", Table{}, ""},
		{"one hop", Table{"A": {"B"}}, ""},
		{"diamond", Table{"A": {"B", "C"}, "B": {"D"}, "C": {"D"}}, ""},
		{"self", Table{"A": {"A"}}, "A -> A"},
		{"two cycle", Table{"A": {"B"}, "B": {"A"}}, "A -> B -> A"},
		{"deep cycle", Table{"A": {"B"}, "B": {"C"}, "C": {"B"}}, "B -> C -> B"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTable(tt.table)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBuildTable(t *testing.T) {
	table := BuildTable([]llm.ModelConfig{
		{Name: "A", Fallback: "C"},
		{Name: "B", Fallback: "A"},
		{Name: "D"},
	}, map[string][]string{"A": {"B", "C"}})

	assert.Equal(t, []string{"B", "C"}, table["A"])
	assert.Equal(t, []string{"A"}, table["B"])
	_, ok := table["D"]
	assert.False(t, ok)
	assert.Error(t, ValidateTable(table))
}

func TestNewManager_CopiesTable(t *testing.T) {
	src := Table{"A": {"B"}}
	m := NewManager(src, nil)
	src["A"][0] = "Z"
	assert.Equal(t, []string{"A", "B"}, m.Chain("A"))
}
