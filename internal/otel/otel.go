// Package otel 配置 OpenTelemetry 追踪与指标导出，并提供模型驻留指标。
package otel

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"

	"github.com/iabetor/voicehub/internal/config"
	"github.com/iabetor/voicehub/internal/logger"
)

const instrumentationName = "github.com/iabetor/voicehub"

// ShutdownFunc 刷新并关闭导出器。
type ShutdownFunc func(ctx context.Context) error

// Setup 按配置初始化全局 TracerProvider 与 MeterProvider。
// 未启用时返回空操作的 ShutdownFunc。
func Setup(ctx context.Context, cfg config.TelemetryConfig) (ShutdownFunc, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	resource, err := sdkresource.New(ctx,
		sdkresource.WithFromEnv(),
		sdkresource.WithAttributes(attribute.String("service.name", cfg.ServiceName)),
	)
	if err != nil {
		return nil, err
	}

	tracer, err := setupTracer(ctx, resource)
	if err != nil {
		return nil, err
	}

	meter, err := setupMeter(ctx, resource)
	if err != nil {
		tracer.Shutdown(ctx)
		return nil, err
	}

	logger.Infof("[otel] 已启用 OpenTelemetry 导出 (service=%s, protocol=%s)", cfg.ServiceName, protocol("TRACES"))

	return func(ctx context.Context) error {
		return errors.Join(tracer.Shutdown(ctx), meter.Shutdown(ctx))
	}, nil
}

// protocol 返回 OTLP 协议，signal 专属变量优先于通用变量。
func protocol(signal string) string {
	if p := os.Getenv("OTEL_EXPORTER_OTLP_" + signal + "_PROTOCOL"); p != "" {
		return strings.ToLower(p)
	}
	if p := os.Getenv("OTEL_EXPORTER_OTLP_PROTOCOL"); p != "" {
		return strings.ToLower(p)
	}
	return "http/protobuf"
}

func setupTracer(ctx context.Context, resource *sdkresource.Resource) (*sdktrace.TracerProvider, error) {
	var err error
	var exporter sdktrace.SpanExporter

	if protocol("TRACES") == "grpc" {
		exporter, err = otlptracegrpc.New(ctx)
	} else {
		exporter, err = otlptracehttp.New(ctx)
	}

	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(time.Second)),
		sdktrace.WithResource(resource),
	)

	otel.SetTracerProvider(provider)

	return provider, nil
}

func setupMeter(ctx context.Context, resource *sdkresource.Resource) (*sdkmetric.MeterProvider, error) {
	var err error
	var exporter sdkmetric.Exporter

	if protocol("METRICS") == "grpc" {
		exporter, err = otlpmetricgrpc.New(ctx)
	} else {
		exporter, err = otlpmetrichttp.New(ctx)
	}

	if err != nil {
		return nil, err
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))),
		sdkmetric.WithResource(resource),
	)

	otel.SetMeterProvider(provider)

	return provider, nil
}

// StartSpan 使用全局 TracerProvider 开始一个 span。
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// String 构造字符串属性。
func String(key, val string) attribute.KeyValue {
	return attribute.String(key, val)
}
