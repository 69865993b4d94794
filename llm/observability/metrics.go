package observability

import (
	"context"
	"time"

	"github.com/SkastVnT/AI-Assistant-sub002/llm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/SkastVnT/AI-Assistant-sub002/llm"

// Metrics 基于 OpenTelemetry Meter 的 chat 指标收集器，实现 orchestrator.Observer
type Metrics struct {
	meter metric.Meter
	// 计数器
	requestTotal   metric.Int64Counter
	errorTotal     metric.Int64Counter
	retryTotal     metric.Int64Counter
	fallbackTotal  metric.Int64Counter
	cacheHitTotal  metric.Int64Counter
	cacheMissTotal metric.Int64Counter
	// 直方图
	requestDuration metric.Float64Histogram
	retryDelay      metric.Float64Histogram
}

// NewMetrics 使用全局 MeterProvider 创建指标收集器
func NewMetrics() (*Metrics, error) {
	return NewMetricsWith(otel.GetMeterProvider())
}

// NewMetricsWith 使用指定的 MeterProvider 创建指标收集器
func NewMetricsWith(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter(instrumentationName)
	m := &Metrics{meter: meter}

	var err error

	// 请求计数
	m.requestTotal, err = meter.Int64Counter("llm.request.total",
		metric.WithDescription("Total number of chat requests"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}

	// 错误计数
	m.errorTotal, err = meter.Int64Counter("llm.error.total",
		metric.WithDescription("Total number of failed chat requests"),
		metric.WithUnit("{error}"))
	if err != nil {
		return nil, err
	}

	// 重试计数
	m.retryTotal, err = meter.Int64Counter("llm.retry.total",
		metric.WithDescription("Total number of scheduled retries"),
		metric.WithUnit("{retry}"))
	if err != nil {
		return nil, err
	}

	// 降级计数
	m.fallbackTotal, err = meter.Int64Counter("llm.fallback.total",
		metric.WithDescription("Total number of fallback hops"),
		metric.WithUnit("{fallback}"))
	if err != nil {
		return nil, err
	}

	// 缓存命中
	m.cacheHitTotal, err = meter.Int64Counter("llm.cache.hit.total",
		metric.WithDescription("Total cache hits"),
		metric.WithUnit("{hit}"))
	if err != nil {
		return nil, err
	}

	// 缓存未命中
	m.cacheMissTotal, err = meter.Int64Counter("llm.cache.miss.total",
		metric.WithDescription("Total cache misses"),
		metric.WithUnit("{miss}"))
	if err != nil {
		return nil, err
	}

	// 请求延迟
	m.requestDuration, err = meter.Float64Histogram("llm.request.duration",
		metric.WithDescription("Request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30))
	if err != nil {
		return nil, err
	}

	// 退避延迟
	m.retryDelay, err = meter.Float64Histogram("llm.retry.delay",
		metric.WithDescription("Backoff delay before a retry in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 2, 4, 8, 16))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// ChatCompleted 记录一次完成的 chat 调用
func (m *Metrics) ChatCompleted(ctx context.Context, mode string, resp *llm.ChatResponse) {
	status := "success"
	if !resp.Success {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("model", resp.Model),
		attribute.String("family", resp.Family),
		attribute.String("mode", mode),
		attribute.String("status", status),
		attribute.Bool("fallback", resp.IsFallback),
		attribute.Bool("cached", resp.Cached))

	m.requestTotal.Add(ctx, 1, attrs)
	m.requestDuration.Record(ctx, resp.Duration.Seconds(), attrs)
	if !resp.Success {
		m.errorTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("model", resp.Model),
			attribute.String("mode", mode)))
	}
}

// RetryScheduled 记录一次重试
func (m *Metrics) RetryScheduled(model string, attempt int, delay time.Duration, _ error) {
	ctx := context.Background()
	m.retryTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("model", model),
		attribute.Int("attempt", attempt)))
	m.retryDelay.Record(ctx, delay.Seconds(), metric.WithAttributes(attribute.String("model", model)))
}

// FallbackHop 记录一次降级跳转
func (m *Metrics) FallbackHop(from, to string, _ error) {
	m.fallbackTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to)))
}

// CacheLookup 记录缓存查询结果
func (m *Metrics) CacheLookup(model string, hit bool) {
	attrs := metric.WithAttributes(attribute.String("model", model))
	if hit {
		m.cacheHitTotal.Add(context.Background(), 1, attrs)
		return
	}
	m.cacheMissTotal.Add(context.Background(), 1, attrs)
}
