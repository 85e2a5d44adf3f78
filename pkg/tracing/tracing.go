package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"eventcore/internal/config"
)

const exporterTimeout = 5 * time.Second

// TracerProvider owns the exporter pipeline; Shutdown flushes pending spans.
type TracerProvider struct {
	tp *sdktrace.TracerProvider
}

func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.tp != nil {
		return tp.tp.Shutdown(ctx)
	}
	return nil
}

// Propagator carries W3C trace context and baggage in event headers.
func Propagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
}

// Resource names the process in exported spans. Replicas of one service
// share the consumer group and differ by client id.
func Resource(ctx context.Context, serviceName string, kafka config.KafkaConfig) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(serviceName),
		attribute.String("messaging.system", "kafka"),
	}
	if kafka.QueueGroup != "" {
		attrs = append(attrs, attribute.String("messaging.kafka.consumer.group", kafka.QueueGroup))
	}
	if kafka.ClientID != "" {
		attrs = append(attrs,
			attribute.String("messaging.client_id", kafka.ClientID),
			attribute.String("service.instance.id", kafka.ClientID),
		)
	}
	if len(kafka.Brokers) > 0 {
		attrs = append(attrs, attribute.StringSlice("messaging.kafka.brokers", kafka.Brokers))
	}
	return resource.New(ctx, resource.WithAttributes(attrs...))
}

// Init installs the propagator and, when tracing is enabled, an OTLP
// exporter. With tracing disabled incoming trace context is still copied
// onto published events, so a traced producer upstream keeps its trace.
func Init(ctx context.Context, cfg config.TracingConfig, serviceName string, kafka config.KafkaConfig) (*TracerProvider, error) {
	otel.SetTextMapPropagator(Propagator())

	if !cfg.Enabled {
		return &TracerProvider{}, nil
	}

	if serviceName == "" {
		serviceName = cfg.ServiceName
	}
	if serviceName == "" {
		return nil, fmt.Errorf("tracing: service name is required")
	}

	res, err := Resource(ctx, serviceName, kafka)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exportCtx, cancel := context.WithTimeout(ctx, exporterTimeout)
	defer cancel()

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.OTLP.Endpoint),
	}
	if cfg.OTLP.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(exportCtx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(cfg.Sampler)),
	)
	otel.SetTracerProvider(tp)

	return &TracerProvider{tp: tp}, nil
}

// newSampler defaults to parent-based sampling so a delivery span follows
// the decision made where the event was published.
func newSampler(cfg config.SamplerConfig) sdktrace.Sampler {
	switch cfg.Type {
	case "always_off":
		return sdktrace.NeverSample()
	case "always_on":
		return sdktrace.AlwaysSample()
	case "traceidratio":
		return sdktrace.TraceIDRatioBased(cfg.Param)
	case "parentbased_traceidratio":
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Param))
	default:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
}

func tracer() trace.Tracer {
	return otel.Tracer(brokerTracerName)
}
