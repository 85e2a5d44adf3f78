package tracing

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"eventcore/internal/config"
)

func TestResourceCarriesKafkaIdentity(t *testing.T) {
	res, err := Resource(context.Background(), "expiration-service", config.KafkaConfig{
		Brokers:    []string{"kafka:9092"},
		ClientID:   "expiration-service-1",
		QueueGroup: "expiration-service",
	})
	require.NoError(t, err)

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range res.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, "expiration-service", attrs["service.name"].AsString())
	assert.Equal(t, "expiration-service", attrs["messaging.kafka.consumer.group"].AsString())
	assert.Equal(t, "expiration-service-1", attrs["service.instance.id"].AsString())
	assert.Equal(t, []string{"kafka:9092"}, attrs["messaging.kafka.brokers"].AsStringSlice())
}

func TestDisabledTracingForwardsIncomingContext(t *testing.T) {
	tp, err := Init(context.Background(), config.TracingConfig{}, "cards-service", config.KafkaConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	upstream := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3},
		SpanID:     trace.SpanID{4, 5, 6},
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	incoming := InjectTraceContext(trace.ContextWithRemoteSpanContext(context.Background(), upstream), nil)

	ctx := ExtractTraceContext(context.Background(), incoming)
	outgoing := InjectTraceContext(ctx, []kafka.Header{})

	carrier := &kafkaHeaderCarrier{headers: outgoing}
	assert.Contains(t, carrier.Get("traceparent"), upstream.TraceID().String())
}

func TestSamplerDefaultsToParentBased(t *testing.T) {
	assert.Contains(t, newSampler(config.SamplerConfig{}).Description(), "ParentBased")
	assert.Equal(t, sdktrace.NeverSample().Description(), newSampler(config.SamplerConfig{Type: "always_off"}).Description())
}
