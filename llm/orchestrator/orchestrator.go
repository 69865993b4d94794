package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/SkastVnT/AI-Assistant-sub002/llm"
	"github.com/SkastVnT/AI-Assistant-sub002/llm/cache"
	"github.com/SkastVnT/AI-Assistant-sub002/llm/circuitbreaker"
	llmctx "github.com/SkastVnT/AI-Assistant-sub002/llm/context"
	"github.com/SkastVnT/AI-Assistant-sub002/llm/fallback"
	"github.com/SkastVnT/AI-Assistant-sub002/llm/retry"
	"github.com/SkastVnT/AI-Assistant-sub002/types"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/SkastVnT/AI-Assistant-sub002/llm/orchestrator"

// Options 编排器依赖。除 registry 外全部可选，零值使用默认实现。
type Options struct {
	Retry    *retry.RetryPolicy
	Sleeper  retry.Sleeper
	Breakers *circuitbreaker.Registry
	Fallback *fallback.Manager
	Window   *llmctx.WindowManager
	Cache    *cache.Loader
	Prompts  PromptBuilder
	Observer Observer
	Tracer   trace.Tracer
	Logger   *zap.Logger
}

// Orchestrator is the single entry point for chat calls. It routes a request
// through the fallback chain, wrapping every candidate as
// retry(breaker(handler)), and never returns an error value.
type Orchestrator struct {
	registry *llm.ModelRegistry
	policy   *retry.RetryPolicy
	sleeper  retry.Sleeper
	breakers *circuitbreaker.Registry
	fallback *fallback.Manager
	window   *llmctx.WindowManager
	cache    *cache.Loader
	prompts  PromptBuilder
	observer Observer
	tracer   trace.Tracer
	logger   *zap.Logger
}

// New creates an Orchestrator over registry.
func New(registry *llm.ModelRegistry, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Retry == nil {
		opts.Retry = retry.DefaultRetryPolicy()
	}
	if opts.Sleeper == nil {
		opts.Sleeper = retry.Cooperative
	}
	if opts.Breakers == nil {
		opts.Breakers = circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig(), logger)
	}
	if opts.Window == nil {
		opts.Window = llmctx.NewWindowManager(llmctx.DefaultConfig(), nil, logger)
	}
	if opts.Prompts == nil {
		opts.Prompts = NewTemplatePrompts(nil)
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(instrumentationName)
	}
	if opts.Fallback != nil {
		opts.Fallback.OnHop(opts.Observer.FallbackHop)
	}

	return &Orchestrator{
		registry: registry,
		policy:   opts.Retry,
		sleeper:  opts.Sleeper,
		breakers: opts.Breakers,
		fallback: opts.Fallback,
		window:   opts.Window,
		cache:    opts.Cache,
		prompts:  opts.Prompts,
		observer: opts.Observer,
		tracer:   opts.Tracer,
		logger:   logger.With(zap.String("component", "orchestrator")),
	}
}

// Registry returns the model registry the orchestrator routes over.
func (o *Orchestrator) Registry() *llm.ModelRegistry { return o.registry }

// Breakers returns the per-provider breaker registry.
func (o *Orchestrator) Breakers() *circuitbreaker.Registry { return o.breakers }

// ChatOption tunes a single call.
type ChatOption func(*chatOptions)

type chatOptions struct {
	fallback bool
	cache    bool
}

// WithFallback enables or disables the fallback chain. Enabled by default.
func WithFallback(enabled bool) ChatOption {
	return func(c *chatOptions) { c.fallback = enabled }
}

// WithCache enables or disables the response cache for one call.
func WithCache(enabled bool) ChatOption {
	return func(c *chatOptions) { c.cache = enabled }
}

func applyOptions(opts []ChatOption) chatOptions {
	c := chatOptions{fallback: true, cache: true}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// hopResult is what one successful candidate produced.
type hopResult struct {
	content string
	family  string
}

// call carries the per-request state shared by every hop.
type call struct {
	cc           *llm.ChatContext
	primary      string
	systemPrompt string
	retries      int
}

// Chat produces a complete response for cc using model, or the registry
// default when model is empty.
func (o *Orchestrator) Chat(ctx context.Context, cc llm.ChatContext, model string, opts ...ChatOption) (resp *llm.ChatResponse) {
	start := time.Now()
	co := applyOptions(opts)
	if model == "" {
		model = o.registry.Default()
	}

	ctx, span := o.tracer.Start(ctx, "chatcore.chat", trace.WithAttributes(
		attribute.String("llm.model", model),
		attribute.Bool("llm.deep_thinking", cc.DeepThinking),
		attribute.Bool("llm.fallback_enabled", co.fallback)))
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("chat panicked",
				zap.String("model", model),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			resp = llm.Failed(model, "", fmt.Sprintf("internal error: %v", r))
		}
		resp.Duration = time.Since(start)
		o.finish(ctx, span, ModeChat, resp)
	}()

	if !o.registry.Has(model) {
		return llm.Failed(model, "", fmt.Sprintf("model %q is not available", model))
	}

	c := &call{cc: &cc, primary: model, systemPrompt: o.systemPrompt(&cc)}
	// 缓存条目可能来自降级模型，关闭降级的调用不读也不写缓存
	if o.cache == nil || !co.cache || !co.fallback {
		return o.respond(o.execute(ctx, c, co, o.chatHop(c)), c)
	}

	key := cache.Key(model, cc.Message, cc.ContextTag, cc.DeepThinking, cc.Language, c.systemPrompt)
	var res *fallback.Result[hopResult]
	entry, hit, err := o.cache.GetOrCompute(ctx, key, func(ctx context.Context) (*cache.Entry, error) {
		r := o.execute(ctx, c, co, o.chatHop(c))
		res = &r
		if r.Err != nil {
			return nil, r.Err
		}
		return &cache.Entry{Content: r.Value.content, Model: r.Model, Family: r.Value.family}, nil
	})
	o.observer.CacheLookup(model, hit)
	if res != nil {
		return o.respond(*res, c)
	}
	if err != nil {
		// 与同键的并发请求合并后，主调用方的失败原样返回
		return llm.Failed(model, "", err.Error())
	}
	out := llm.Succeeded(entry.Model, entry.Family, entry.Content)
	out.IsFallback = entry.Model != model
	out.Cached = hit
	return out
}

// ChatAsync runs Chat on its own goroutine. The result channel is buffered so
// the goroutine never leaks when the caller stops listening.
func (o *Orchestrator) ChatAsync(ctx context.Context, cc llm.ChatContext, model string, opts ...ChatOption) <-chan *llm.ChatResponse {
	ch := make(chan *llm.ChatResponse, 1)
	go func() {
		defer close(ch)
		ch <- o.Chat(ctx, cc, model, opts...)
	}()
	return ch
}

func (o *Orchestrator) systemPrompt(cc *llm.ChatContext) string {
	if cc.SystemPrompt != "" {
		return cc.SystemPrompt
	}
	return o.prompts.Build(cc)
}

// execute walks the chain with attempt as the per-candidate call.
func (o *Orchestrator) execute(ctx context.Context, c *call, co chatOptions, attempt fallback.AttemptFunc[hopResult]) fallback.Result[hopResult] {
	m := o.fallback
	if !co.fallback {
		m = nil
	}
	return fallback.Execute(ctx, m, c.primary, attempt)
}

// request builds the provider payload for one candidate. History is fitted
// against that candidate's own context limit.
func (o *Orchestrator) request(c *call, cfg llm.ModelConfig) *llm.ChatRequest {
	history := c.cc.ExplicitHistory
	if history == nil {
		history = o.window.FitHistory(c.cc.History, cfg.ContextLimit, c.systemPrompt, c.cc.Message)
	}
	temperature, maxTokens := cfg.Sampling(c.cc.DeepThinking)
	return &llm.ChatRequest{
		Messages:    llmctx.BuildMessages(c.systemPrompt, history, c.cc.Message),
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
}

// retryer returns a retryer whose OnRetry also reports to the observer.
func (o *Orchestrator) retryer(name string) retry.Retryer {
	p := *o.policy
	inner := o.policy.OnRetry
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		o.observer.RetryScheduled(name, attempt, delay, err)
		if inner != nil {
			inner(attempt, err, delay)
		}
	}
	return retry.NewBackoffRetryer(&p, o.sleeper, o.logger.With(zap.String("model", name)))
}

// chatHop performs retry(breaker(handler.Chat)) against one candidate, each
// attempt bounded by the candidate's timeout.
func (o *Orchestrator) chatHop(c *call) fallback.AttemptFunc[hopResult] {
	return func(ctx context.Context, name string) (hopResult, error) {
		h, cfg, ok := o.registry.Get(name)
		if !ok {
			return hopResult{}, notAvailable(name)
		}
		ctx, span := o.tracer.Start(types.WithLLMModel(ctx, name), "chatcore.hop", trace.WithAttributes(
			attribute.String("llm.model", name),
			attribute.String("llm.family", cfg.Family)))
		defer span.End()

		req := o.request(c, cfg)
		cb := o.breakers.Get(name)
		content, attempts, err := retry.DoWithResult(ctx, o.retryer(name), func(ctx context.Context) (string, error) {
			return circuitbreaker.CallWithResult(ctx, cb, func(ctx context.Context) (string, error) {
				ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
				defer cancel()
				content, err := h.Chat(ctx, req)
				if err == nil && content == "" {
					// 内容过滤或工具调用收尾时上游可能不返回文本
					return "", errEmptyResponse(name)
				}
				return content, err
			})
		})
		c.retries += max(attempts-1, 0)
		span.SetAttributes(attribute.Int("llm.attempts", attempts))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(types.GetErrorCode(err)))
			return hopResult{}, err
		}
		return hopResult{content: content, family: cfg.Family}, nil
	}
}

// respond normalizes a walk result.
func (o *Orchestrator) respond(res fallback.Result[hopResult], c *call) *llm.ChatResponse {
	model := res.Model
	if model == "" {
		model = c.primary
	}
	var resp *llm.ChatResponse
	if res.Err != nil {
		o.logger.Warn("chat failed",
			zap.String("model", c.primary),
			zap.Strings("tried", res.Tried),
			zap.Error(res.Err))
		resp = llm.Failed(model, res.Value.family, res.Err.Error())
	} else {
		resp = llm.Succeeded(model, res.Value.family, res.Value.content)
		resp.IsFallback = res.IsFallback
	}
	resp.RetryCount = c.retries
	return resp
}

func (o *Orchestrator) finish(ctx context.Context, span trace.Span, mode string, resp *llm.ChatResponse) {
	span.SetAttributes(
		attribute.String("llm.resolved_model", resp.Model),
		attribute.Bool("llm.success", resp.Success),
		attribute.Bool("llm.fallback", resp.IsFallback),
		attribute.Bool("llm.cache_hit", resp.Cached),
		attribute.Int("llm.retry_count", resp.RetryCount))
	if !resp.Success {
		span.SetStatus(codes.Error, resp.Error)
	}
	span.End()
	o.observer.ChatCompleted(ctx, mode, resp)
}

// errEmptyResponse is transient: the next attempt or candidate may answer.
func errEmptyResponse(name string) *types.Error {
	return types.NewTransientError(types.ErrUpstreamError, "empty response").WithProvider(name)
}

func notAvailable(name string) *types.Error {
	return types.NewError(types.ErrModelNotFound, fmt.Sprintf("model %q is not available", name))
}
