package orchestrator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SkastVnT/AI-Assistant-sub002/llm"
	"github.com/SkastVnT/AI-Assistant-sub002/llm/cache"
	"github.com/SkastVnT/AI-Assistant-sub002/llm/circuitbreaker"
	"github.com/SkastVnT/AI-Assistant-sub002/llm/fallback"
	"github.com/SkastVnT/AI-Assistant-sub002/llm/retry"
	"github.com/SkastVnT/AI-Assistant-sub002/testutil"
	"github.com/SkastVnT/AI-Assistant-sub002/testutil/fixtures"
	"github.com/SkastVnT/AI-Assistant-sub002/testutil/mocks"
	"github.com/SkastVnT/AI-Assistant-sub002/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingObserver struct {
	mu        sync.Mutex
	completed []*llm.ChatResponse
	modes     []string
	retries   []string
	hops      [][2]string
	lookups   []bool
}

func (r *recordingObserver) ChatCompleted(_ context.Context, mode string, resp *llm.ChatResponse) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, resp)
	r.modes = append(r.modes, mode)
}

func (r *recordingObserver) RetryScheduled(model string, _ int, _ time.Duration, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries = append(r.retries, model)
}

func (r *recordingObserver) FallbackHop(from, to string, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hops = append(r.hops, [2]string{from, to})
}

func (r *recordingObserver) CacheLookup(_ string, hit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups = append(r.lookups, hit)
}

type fixture struct {
	registry *llm.ModelRegistry
	breakers *circuitbreaker.Registry
	observer *recordingObserver
	opts     Options
}

func newFixture(t *testing.T, table fallback.Table, bindings ...binding) *fixture {
	t.Helper()
	registry := llm.NewModelRegistry(zap.NewNop())
	for _, b := range bindings {
		require.NoError(t, registry.Register(b.cfg, b.h))
	}
	breakers := circuitbreaker.NewRegistry(&circuitbreaker.Config{Threshold: 2, RecoveryTimeout: time.Minute}, zap.NewNop())
	obs := &recordingObserver{}
	return &fixture{
		registry: registry,
		breakers: breakers,
		observer: obs,
		opts: Options{
			Retry: &retry.RetryPolicy{
				MaxAttempts: 3,
				BaseDelay:   time.Millisecond,
				MaxDelay:    2 * time.Millisecond,
				Multiplier:  2,
			},
			Breakers: breakers,
			Fallback: fallback.NewManager(table, zap.NewNop()),
			Observer: obs,
			Logger:   zap.NewNop(),
		},
	}
}

func (f *fixture) build() *Orchestrator { return New(f.registry, f.opts) }

type binding struct {
	cfg llm.ModelConfig
	h   llm.Handler
}

func bind(cfg llm.ModelConfig, h llm.Handler) binding { return binding{cfg: cfg, h: h} }

// ---------------------------------------------------------------------------
// Chat
// ---------------------------------------------------------------------------

func TestChat_PrimarySucceeds(t *testing.T) {
	primary := mocks.NewSuccessHandler("primary", "hello")
	f := newFixture(t, nil, bind(fixtures.ModelConfig("primary"), primary))

	resp := f.build().Chat(testutil.TestContext(t), fixtures.ChatContext("hi"), "primary")

	require.True(t, resp.Success)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, "primary", resp.Model)
	assert.False(t, resp.IsFallback)
	assert.Zero(t, resp.RetryCount)
	assert.Empty(t, resp.Error)
	assert.Equal(t, 1, primary.ChatCalls())
}

func TestChat_PrimaryOpensBreakerThenSecondaryAnswers(t *testing.T) {
	primary := mocks.NewErrorHandler("primary", fixtures.TransientError("primary"))
	secondary := mocks.NewSuccessHandler("secondary", "from secondary")
	f := newFixture(t, fallback.Table{"primary": {"secondary"}},
		bind(fixtures.ModelConfig("primary"), primary),
		bind(fixtures.ModelConfig("secondary"), secondary))
	o := f.build()

	resp := o.Chat(testutil.TestContext(t), fixtures.ChatContext("hi"), "primary")

	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "from secondary", resp.Content)
	assert.Equal(t, "secondary", resp.Model)
	assert.True(t, resp.IsFallback)
	// 第三次尝试被熔断器拒绝，未到达 handler
	assert.Equal(t, 2, primary.ChatCalls())
	assert.Equal(t, 2, resp.RetryCount)
	assert.Equal(t, circuitbreaker.StateOpen, f.breakers.Get("primary").State())
	assert.Equal(t, [][2]string{{"primary", "secondary"}}, f.observer.hops)

	// 熔断期间直接跳过 primary
	resp = o.Chat(testutil.TestContext(t), fixtures.ChatContext("again"), "primary")
	require.True(t, resp.Success)
	assert.Equal(t, 2, primary.ChatCalls())
	assert.Equal(t, 2, secondary.ChatCalls())
}

func TestChat_ChainStopsAtFirstSuccess(t *testing.T) {
	a := mocks.NewErrorHandler("a", fixtures.TerminalError("a"))
	b := mocks.NewSuccessHandler("b", "b answered")
	c := mocks.NewSuccessHandler("c", "c answered")
	f := newFixture(t, fallback.Table{"a": {"b", "c"}},
		bind(fixtures.ModelConfig("a"), a),
		bind(fixtures.ModelConfig("b"), b),
		bind(fixtures.ModelConfig("c"), c))

	resp := f.build().Chat(testutil.TestContext(t), fixtures.ChatContext("hi"), "a")

	require.True(t, resp.Success)
	assert.Equal(t, "b", resp.Model)
	assert.True(t, resp.IsFallback)
	assert.Equal(t, 1, a.ChatCalls(), "terminal errors are not retried")
	assert.Equal(t, 0, c.ChatCalls())
}

func TestChat_AllFail(t *testing.T) {
	a := mocks.NewErrorHandler("a", fixtures.TerminalError("a"))
	b := mocks.NewErrorHandler("b", fixtures.TerminalError("b"))
	f := newFixture(t, fallback.Table{"a": {"b"}},
		bind(fixtures.ModelConfig("a"), a),
		bind(fixtures.ModelConfig("b"), b))

	resp := f.build().Chat(testutil.TestContext(t), fixtures.ChatContext("hi"), "a")

	assert.False(t, resp.Success)
	assert.False(t, resp.IsFallback)
	assert.Empty(t, resp.Content)
	assert.Equal(t, "b", resp.Model)
	assert.Contains(t, resp.Error, string(types.ErrUnauthorized))
}

func TestChat_EmptyContentIsFailure(t *testing.T) {
	t.Run("falls back", func(t *testing.T) {
		primary := mocks.NewSuccessHandler("primary", "")
		secondary := mocks.NewSuccessHandler("secondary", "real answer")
		f := newFixture(t, fallback.Table{"primary": {"secondary"}},
			bind(fixtures.ModelConfig("primary"), primary),
			bind(fixtures.ModelConfig("secondary"), secondary))

		resp := f.build().Chat(testutil.TestContext(t), fixtures.ChatContext("hi"), "primary")

		require.True(t, resp.Success)
		assert.Equal(t, "real answer", resp.Content)
		assert.True(t, resp.IsFallback)
		// 作为瞬时错误重试；第二次失败后熔断器打开，第三次尝试被拒绝
		assert.Equal(t, 2, primary.ChatCalls())
		assert.Equal(t, circuitbreaker.StateOpen, f.breakers.Get("primary").State())
	})

	t.Run("no alternates", func(t *testing.T) {
		h := mocks.NewSuccessHandler("m", "")
		f := newFixture(t, nil, bind(fixtures.ModelConfig("m"), h))

		resp := f.build().Chat(testutil.TestContext(t), fixtures.ChatContext("hi"), "m")

		assert.False(t, resp.Success)
		assert.Empty(t, resp.Content)
		assert.Contains(t, resp.Error, "empty response")
	})
}

func TestChat_WithFallbackDisabled(t *testing.T) {
	a := mocks.NewErrorHandler("a", fixtures.TerminalError("a"))
	b := mocks.NewSuccessHandler("b", "b answered")
	f := newFixture(t, fallback.Table{"a": {"b"}},
		bind(fixtures.ModelConfig("a"), a),
		bind(fixtures.ModelConfig("b"), b))

	resp := f.build().Chat(testutil.TestContext(t), fixtures.ChatContext("hi"), "a", WithFallback(false))

	assert.False(t, resp.Success)
	assert.Equal(t, 0, b.ChatCalls())
}

func TestChat_RetriesTransientThenSucceeds(t *testing.T) {
	h := mocks.NewFlakyHandler("flaky", 2, "finally")
	f := newFixture(t, nil, bind(fixtures.ModelConfig("flaky"), h))
	f.opts.Breakers = circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig(), nil)

	resp := f.build().Chat(testutil.TestContext(t), fixtures.ChatContext("hi"), "flaky")

	require.True(t, resp.Success)
	assert.Equal(t, "finally", resp.Content)
	assert.Equal(t, 2, resp.RetryCount)
	assert.Equal(t, 3, h.ChatCalls())
	assert.Equal(t, []string{"flaky", "flaky"}, f.observer.retries)
}

func TestChat_UnknownModel(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.build().Chat(testutil.TestContext(t), fixtures.ChatContext("hi"), "ghost")

	assert.False(t, resp.Success)
	assert.Empty(t, resp.Content)
	assert.Equal(t, `model "ghost" is not available`, resp.Error)
}

func TestChat_UsesRegistryDefault(t *testing.T) {
	h := mocks.NewSuccessHandler("main", "ok")
	f := newFixture(t, nil, bind(fixtures.ModelConfig("main"), h))
	require.NoError(t, f.registry.SetDefault("main"))

	resp := f.build().Chat(testutil.TestContext(t), fixtures.ChatContext("hi"), "")
	assert.True(t, resp.Success)
	assert.Equal(t, "main", resp.Model)
}

func TestChat_RecoversFromPanic(t *testing.T) {
	h := mocks.NewMockHandler("boom").WithChatFunc(func(context.Context, *llm.ChatRequest) (string, error) {
		panic("handler bug")
	})
	f := newFixture(t, nil, bind(fixtures.ModelConfig("boom"), h))

	var resp *llm.ChatResponse
	require.NotPanics(t, func() {
		resp = f.build().Chat(testutil.TestContext(t), fixtures.ChatContext("hi"), "boom")
	})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "handler bug")
}

func TestChat_PerAttemptTimeoutIsTransient(t *testing.T) {
	slow := mocks.NewMockHandler("slow").WithDelay(time.Second)
	backup := mocks.NewSuccessHandler("backup", "fast")
	cfg := fixtures.ModelConfig("slow")
	cfg.Timeout = 10 * time.Millisecond
	f := newFixture(t, fallback.Table{"slow": {"backup"}},
		bind(cfg, slow),
		bind(fixtures.ModelConfig("backup"), backup))

	resp := f.build().Chat(testutil.TestContext(t), fixtures.ChatContext("hi"), "slow")

	require.True(t, resp.Success)
	assert.Equal(t, "backup", resp.Model)
	// 超时是瞬时错误，会被重试直到熔断
	assert.Equal(t, 2, slow.ChatCalls())
}

func TestChat_CanceledContext(t *testing.T) {
	h := mocks.NewSuccessHandler("m", "ok")
	f := newFixture(t, nil, bind(fixtures.ModelConfig("m"), h))

	resp := f.build().Chat(testutil.CancelledContext(), fixtures.ChatContext("hi"), "m")

	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)
	assert.Equal(t, 0, h.ChatCalls())
}

// ---------------------------------------------------------------------------
// Request shaping
// ---------------------------------------------------------------------------

func TestChat_FitsHistoryToContextLimit(t *testing.T) {
	h := mocks.NewSuccessHandler("m", "ok")
	cfg := fixtures.ModelConfig("m")
	cfg.ContextLimit = 1000
	f := newFixture(t, nil, bind(cfg, h))
	history := fixtures.LongHistory(10, 400)

	cc := fixtures.ChatContext("latest question")
	cc.History = history
	resp := f.build().Chat(testutil.TestContext(t), cc, "m")
	require.True(t, resp.Success)

	msgs := h.LastRequest().Messages
	require.Greater(t, len(msgs), 2)
	assert.Less(t, len(msgs), 2*len(history)+2)
	assert.Equal(t, types.RoleSystem, msgs[0].Role)
	assert.Equal(t, history[len(history)-1].Assistant, msgs[len(msgs)-2].Content)
	assert.Equal(t, "latest question", msgs[len(msgs)-1].Content)
}

func TestChat_ExplicitHistoryBypassesTruncation(t *testing.T) {
	h := mocks.NewSuccessHandler("m", "ok")
	cfg := fixtures.ModelConfig("m")
	cfg.ContextLimit = 1000
	f := newFixture(t, nil, bind(cfg, h))
	history := fixtures.LongHistory(10, 400)

	cc := fixtures.ChatContext("q")
	cc.ExplicitHistory = history
	f.build().Chat(testutil.TestContext(t), cc, "m")

	assert.Len(t, h.LastRequest().Messages, 2*len(history)+2)
}

func TestChat_DeepThinkingSampling(t *testing.T) {
	h := mocks.NewSuccessHandler("m", "ok")
	f := newFixture(t, nil, bind(fixtures.ModelConfig("m"), h))
	o := f.build()

	o.Chat(testutil.TestContext(t), fixtures.ChatContext("q"), "m")
	assert.Equal(t, 0.7, h.LastRequest().Temperature)
	assert.Equal(t, 512, h.LastRequest().MaxTokens)

	cc := fixtures.ChatContext("q")
	cc.DeepThinking = true
	o.Chat(testutil.TestContext(t), cc, "m")
	assert.Equal(t, 0.3, h.LastRequest().Temperature)
	assert.Equal(t, 2048, h.LastRequest().MaxTokens)
}

func TestChat_SystemPrompt(t *testing.T) {
	h := mocks.NewSuccessHandler("m", "ok")
	f := newFixture(t, nil, bind(fixtures.ModelConfig("m"), h))
	f.opts.Prompts = NewTemplatePrompts(map[string]string{"code": "You are a senior engineer."})
	o := f.build()

	cc := fixtures.ChatContext("q")
	cc.ContextTag = "code"
	cc.Language = "Vietnamese"
	cc.Memories = []string{"user prefers Go", "  "}
	o.Chat(testutil.TestContext(t), cc, "m")
	system := h.LastRequest().Messages[0].Content
	assert.True(t, strings.HasPrefix(system, "You are a senior engineer."))
	assert.Contains(t, system, "Vietnamese")
	assert.Contains(t, system, "- user prefers Go")
	assert.NotContains(t, system, "-   ")

	cc.SystemPrompt = "literal override"
	o.Chat(testutil.TestContext(t), cc, "m")
	assert.Equal(t, "literal override", h.LastRequest().Messages[0].Content)
}

// ---------------------------------------------------------------------------
// Cache
// ---------------------------------------------------------------------------

func TestChat_CacheHit(t *testing.T) {
	h := mocks.NewSuccessHandler("m", "cached answer")
	f := newFixture(t, nil, bind(fixtures.ModelConfig("m"), h))
	f.opts.Cache = cache.NewLoader(cache.NewMultiLevelCache(nil, cache.DefaultConfig(), nil), nil)
	o := f.build()

	first := o.Chat(testutil.TestContext(t), fixtures.ChatContext("same"), "m")
	second := o.Chat(testutil.TestContext(t), fixtures.ChatContext("same"), "m")

	require.True(t, first.Success)
	require.True(t, second.Success)
	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Equal(t, "cached answer", second.Content)
	assert.Equal(t, 1, h.ChatCalls())
	assert.Equal(t, []bool{false, true}, f.observer.lookups)

	third := o.Chat(testutil.TestContext(t), fixtures.ChatContext("same"), "m", WithCache(false))
	assert.False(t, third.Cached)
	assert.Equal(t, 2, h.ChatCalls())
}

func TestChat_FailuresAreNotCached(t *testing.T) {
	h := mocks.NewMockHandler("m").WithScript(mocks.Outcome{Err: fixtures.TerminalError("m")})
	f := newFixture(t, nil, bind(fixtures.ModelConfig("m"), h))
	f.opts.Cache = cache.NewLoader(cache.NewMultiLevelCache(nil, cache.DefaultConfig(), nil), nil)
	o := f.build()

	assert.False(t, o.Chat(testutil.TestContext(t), fixtures.ChatContext("q"), "m").Success)
	assert.True(t, o.Chat(testutil.TestContext(t), fixtures.ChatContext("q"), "m").Success)
}

func TestChat_FallbackAnswerNotServedWhenFallbackDisabled(t *testing.T) {
	primary := mocks.NewErrorHandler("primary", fixtures.TerminalError("primary"))
	secondary := mocks.NewSuccessHandler("secondary", "from secondary")
	f := newFixture(t, fallback.Table{"primary": {"secondary"}},
		bind(fixtures.ModelConfig("primary"), primary),
		bind(fixtures.ModelConfig("secondary"), secondary))
	f.opts.Cache = cache.NewLoader(cache.NewMultiLevelCache(nil, cache.DefaultConfig(), nil), nil)
	o := f.build()

	first := o.Chat(testutil.TestContext(t), fixtures.ChatContext("same"), "primary")
	require.True(t, first.Success)
	require.True(t, first.IsFallback)

	strict := o.Chat(testutil.TestContext(t), fixtures.ChatContext("same"), "primary", WithFallback(false))
	assert.False(t, strict.Success)
	assert.False(t, strict.IsFallback)
	assert.False(t, strict.Cached)
	assert.Equal(t, 1, secondary.ChatCalls())

	again := o.Chat(testutil.TestContext(t), fixtures.ChatContext("same"), "primary")
	assert.True(t, again.Cached, "fallback-enabled callers still share the entry")
	assert.Equal(t, "from secondary", again.Content)
}

// ---------------------------------------------------------------------------
// Async
// ---------------------------------------------------------------------------

func TestChatAsync(t *testing.T) {
	h := mocks.NewSuccessHandler("m", "async")
	f := newFixture(t, nil, bind(fixtures.ModelConfig("m"), h))

	ch := f.build().ChatAsync(testutil.TestContext(t), fixtures.ChatContext("q"), "m")
	resp, ok := testutil.WaitForChannel(ch, time.Second)
	require.True(t, ok)
	assert.Equal(t, "async", resp.Content)

	_, open := <-ch
	assert.False(t, open)
}

func TestChat_ObserverSeesEveryCall(t *testing.T) {
	h := mocks.NewSuccessHandler("m", "ok")
	f := newFixture(t, nil, bind(fixtures.ModelConfig("m"), h))
	o := f.build()

	o.Chat(testutil.TestContext(t), fixtures.ChatContext("q"), "m")
	o.Chat(testutil.TestContext(t), fixtures.ChatContext("q"), "ghost")

	require.Len(t, f.observer.completed, 2)
	assert.True(t, f.observer.completed[0].Success)
	assert.False(t, f.observer.completed[1].Success)
	assert.Greater(t, f.observer.completed[0].Duration, time.Duration(0))
	assert.Equal(t, []string{ModeChat, ModeChat}, f.observer.modes)
}
