// Package telemetry 初始化 OpenTelemetry：OTLP gRPC 导出 trace 与指标，
// 关闭时回落到全局 noop provider。
package telemetry
