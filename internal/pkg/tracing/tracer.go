// internal/pkg/tracing/tracer.go
package tracing

import (
	"context"

	"inventory-saga/internal/pkg/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// InitTracerProvider initializes and registers a Jaeger TraceProvider.
// 当 sampleRatio <= 0 或 >= 1 时全量采样。
func InitTracerProvider(serviceName, jaegerEndpoint string, sampleRatio float64) (*sdktrace.TracerProvider, error) {
	// 创建 Jaeger Exporter，用于将 Span 数据发送到 Jaeger
	exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(jaegerEndpoint)))
	if err != nil {
		return nil, err
	}

	sampler := sdktrace.AlwaysSample()
	if sampleRatio > 0 && sampleRatio < 1 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sampler),
		// 使用批处理 Span 处理器，提高性能
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
		)),
	)

	otel.SetTracerProvider(tp)
	// 设置全局的 TextMapPropagator，用于在服务间传递上下文
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	logger.Ctx(context.Background()).Info().
		Str("endpoint", jaegerEndpoint).
		Msgf("Tracing initialized for service '%s'", serviceName)
	return tp, nil
}
