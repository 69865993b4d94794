package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/SkastVnT/AI-Assistant-sub002/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zaptest"
)

// restoreGlobals 测试结束后恢复全局 provider 与传播器
func restoreGlobals(t *testing.T) {
	t.Helper()
	tp, mp, prop := otel.GetTracerProvider(), otel.GetMeterProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
		otel.SetTextMapPropagator(prop)
	})
}

func enabledConfig(name string, rate float64) config.TelemetryConfig {
	return config.TelemetryConfig{
		Enabled:      true,
		OTLPEndpoint: "localhost:4317",
		Insecure:     true,
		ServiceName:  name,
		SampleRate:   rate,
	}
}

func shutdownQuickly(t *testing.T, p *Providers) {
	t.Cleanup(func() {
		// 没有 collector，导出错误可忽略
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})
}

func TestInit_Disabled(t *testing.T) {
	restoreGlobals(t)

	p, err := Init(config.TelemetryConfig{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Nil(t, p.tp)
	assert.Nil(t, p.mp)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_DisabledStillPropagates(t *testing.T) {
	restoreGlobals(t)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator())

	_, err := Init(config.TelemetryConfig{}, nil)
	require.NoError(t, err)

	carrier := propagation.MapCarrier{"traceparent": "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"}
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), carrier)
	sc := trace.SpanContextFromContext(ctx)
	assert.True(t, sc.IsValid())
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", sc.TraceID().String())
}

func TestInit_Enabled(t *testing.T) {
	restoreGlobals(t)

	p, err := Init(enabledConfig("chatcore-test", 0.5), zaptest.NewLogger(t), WithServiceVersion("1.2.3"))
	require.NoError(t, err)
	shutdownQuickly(t, p)

	require.NotNil(t, p.tp)
	require.NotNil(t, p.mp)
	_, tpIsSDK := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	_, mpIsSDK := otel.GetMeterProvider().(*sdkmetric.MeterProvider)
	assert.True(t, tpIsSDK)
	assert.True(t, mpIsSDK)
}

func TestProviders_Accessors(t *testing.T) {
	restoreGlobals(t)

	var nilProviders *Providers
	assert.NotNil(t, nilProviders.Tracer("chatcore"))
	assert.Equal(t, otel.GetMeterProvider(), nilProviders.MeterProvider())
	assert.NoError(t, nilProviders.Shutdown(context.Background()))

	p, err := Init(enabledConfig("chatcore-accessors", 1.0), zaptest.NewLogger(t))
	require.NoError(t, err)
	shutdownQuickly(t, p)

	_, isSDK := p.MeterProvider().(*sdkmetric.MeterProvider)
	assert.True(t, isSDK)

	_, span := p.Tracer("chatcore").Start(context.Background(), "probe")
	assert.True(t, span.SpanContext().IsValid())
	assert.True(t, span.SpanContext().IsSampled())
	span.End()
}

func TestSampler(t *testing.T) {
	tests := []struct {
		rate     float64
		contains string
	}{
		{-1, "AlwaysOffSampler"},
		{0, "AlwaysOffSampler"},
		{0.25, "TraceIDRatioBased{0.25}"},
		{1, "AlwaysOnSampler"},
		{3, "AlwaysOnSampler"},
	}
	for _, tt := range tests {
		desc := sampler(tt.rate).Description()
		assert.Contains(t, desc, "ParentBased")
		assert.Contains(t, desc, tt.contains, "rate %v", tt.rate)
	}
}
