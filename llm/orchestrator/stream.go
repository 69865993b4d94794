package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SkastVnT/AI-Assistant-sub002/llm"
	"github.com/SkastVnT/AI-Assistant-sub002/llm/circuitbreaker"
	"github.com/SkastVnT/AI-Assistant-sub002/llm/fallback"
	"github.com/SkastVnT/AI-Assistant-sub002/llm/retry"
	"github.com/SkastVnT/AI-Assistant-sub002/types"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// openedStream is a stream that passed the breaker and produced no error on open.
// finish reports the outcome of the whole stream to the candidate's breaker.
type openedStream struct {
	ch     <-chan llm.StreamChunk
	family string
	finish func(error)
}

// errStreamAborted is reported when forwarding ends without an outcome.
var errStreamAborted = types.NewError(types.ErrInternalError, "stream aborted")

// ChatStream streams the response for cc. Opening the stream goes through the
// fallback chain and retry(breaker(open)); once the first fragment is
// forwarded nothing is retried. A candidate without streaming support runs
// the non-streaming path and its content is delivered as one fragment.
//
// The returned channel is unbuffered and closed when the stream ends. When
// ctx is done the forwarder stops reading, which lets the provider close its
// upstream connection.
func (o *Orchestrator) ChatStream(ctx context.Context, cc llm.ChatContext, model string, opts ...ChatOption) <-chan llm.StreamChunk {
	start := time.Now()
	co := applyOptions(opts)
	if model == "" {
		model = o.registry.Default()
	}

	ctx, span := o.tracer.Start(ctx, "chatcore.chat_stream", trace.WithAttributes(
		attribute.String("llm.model", model),
		attribute.Bool("llm.deep_thinking", cc.DeepThinking)))

	if !o.registry.Has(model) {
		resp := llm.Failed(model, "", fmt.Sprintf("model %q is not available", model))
		o.finish(ctx, span, ModeStream, resp)
		return llm.ErrorStream(model, notAvailable(model))
	}

	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		var resp *llm.ChatResponse
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("chat stream panicked", zap.String("model", model), zap.Any("panic", r))
				resp = llm.Failed(model, "", fmt.Sprintf("internal error: %v", r))
			}
			resp.Duration = time.Since(start)
			o.finish(ctx, span, ModeStream, resp)
		}()

		c := &call{cc: &cc, primary: model, systemPrompt: o.systemPrompt(&cc)}
		res := o.openStream(ctx, c, co)
		if res.Err != nil {
			resp = o.respond(fallback.Result[hopResult]{Model: res.Model, Err: res.Err, Tried: res.Tried}, c)
			send(ctx, out, llm.StreamChunk{Provider: resp.Model, Err: asError(res.Err, resp.Model)})
			return
		}

		resp = llm.Succeeded(res.Model, res.Value.family, "")
		resp.IsFallback = res.IsFallback
		resp.RetryCount = c.retries
		outcome := error(errStreamAborted)
		defer func() { res.Value.finish(outcome) }()

		err := o.forward(ctx, res.Value.ch, out, res.Model)
		outcome = err
		if err != nil {
			if ctx.Err() != nil {
				// 调用方放弃不计入熔断器
				outcome = context.Canceled
			}
			resp = llm.Failed(res.Model, res.Value.family, err.Error())
			resp.RetryCount = c.retries
		}
	}()
	return out
}

// openStream walks the chain until one candidate opens a stream.
func (o *Orchestrator) openStream(ctx context.Context, c *call, co chatOptions) fallback.Result[openedStream] {
	m := o.fallback
	if !co.fallback {
		m = nil
	}
	chat := o.chatHop(c)
	return fallback.Execute(ctx, m, c.primary, func(ctx context.Context, name string) (openedStream, error) {
		h, cfg, ok := o.registry.Get(name)
		if !ok {
			return openedStream{}, notAvailable(name)
		}
		if !cfg.SupportsStreaming {
			r, err := chat(ctx, name)
			if err != nil {
				return openedStream{}, err
			}
			// 非流式路径已在 chatHop 内向熔断器上报
			return openedStream{ch: llm.OneShot(ctx, name, r.content), family: cfg.Family, finish: func(error) {}}, nil
		}

		req := o.request(c, cfg)
		cb := o.breakers.Get(name)
		opened, attempts, err := retry.DoWithResult(ctx, o.retryer(name), func(ctx context.Context) (openedStream, error) {
			return openGuarded(types.WithLLMModel(ctx, name), cb, h, req, cfg.Family)
		})
		c.retries += max(attempts-1, 0)
		if err != nil {
			return openedStream{}, err
		}
		return opened, nil
	})
}

// openGuarded takes a breaker slot and opens the stream. The slot is held
// until finish is called with the outcome of the whole stream, so a half-open
// trial covers the stream rather than only its open.
func openGuarded(ctx context.Context, cb circuitbreaker.CircuitBreaker, h llm.Handler, req *llm.ChatRequest, family string) (openedStream, error) {
	done, err := cb.Begin()
	if err != nil {
		return openedStream{}, err
	}
	defer func() {
		if r := recover(); r != nil {
			done(fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()

	ch, err := h.ChatStream(ctx, req)
	if err != nil {
		done(err)
		return openedStream{}, err
	}
	return openedStream{ch: ch, family: family, finish: done}, nil
}

// forward relays upstream fragments in order, renumbering them. It returns
// the error of a terminal chunk, or ctx.Err() when the caller went away.
func (o *Orchestrator) forward(ctx context.Context, in <-chan llm.StreamChunk, out chan<- llm.StreamChunk, provider string) error {
	index := 0
	for {
		select {
		case <-ctx.Done():
			o.logger.Debug("stream abandoned by caller",
				zap.String("model", provider),
				zap.Int("forwarded", index))
			return ctx.Err()
		case chunk, ok := <-in:
			if !ok {
				if index == 0 {
					err := errEmptyResponse(provider)
					send(ctx, out, llm.StreamChunk{Provider: provider, Err: err})
					return err
				}
				return nil
			}
			chunk.Index = index
			chunk.Provider = provider
			if !send(ctx, out, chunk) {
				return ctx.Err()
			}
			if chunk.Err != nil {
				return chunk.Err
			}
			index++
		}
	}
}

func send(ctx context.Context, out chan<- llm.StreamChunk, chunk llm.StreamChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

func asError(err error, provider string) *types.Error {
	var e *types.Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return types.FromTransport(err, provider)
	}
	return types.NewError(types.ErrInternalError, err.Error()).WithCause(err).WithProvider(provider)
}
