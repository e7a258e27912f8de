package observability

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func initTestTracer(t *testing.T, cfg TracerConfig) {
	t.Helper()
	shutdown, err := InitTracer(context.Background(), cfg)
	if err != nil {
		t.Fatalf("InitTracer failed: %v", err)
	}
	if shutdown == nil {
		t.Fatal("expected shutdown function to be non-nil")
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = shutdown(ctx)
	})
}

func TestInitTracer_JobContextSurvivesHeaders(t *testing.T) {
	initTestTracer(t, TracerConfig{ServiceName: "robotagent-test", AgentID: "robot-7"})

	ctx, span := otel.Tracer("test").Start(context.Background(), "publish_job")
	defer span.End()

	// The AMQP transport carries trace context as message headers.
	headers := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, headers)
	if headers.Get("traceparent") == "" {
		t.Fatalf("expected traceparent header, got %v", headers)
	}

	received := otel.GetTextMapPropagator().Extract(context.Background(), headers)
	got := trace.SpanContextFromContext(received)
	if !got.IsValid() || !got.IsRemote() {
		t.Fatalf("expected a valid remote span context, got %+v", got)
	}
	if got.TraceID() != span.SpanContext().TraceID() {
		t.Errorf("expected trace id %s, got %s", span.SpanContext().TraceID(), got.TraceID())
	}
}

func TestInitTracer_ResourceIdentifiesAgent(t *testing.T) {
	initTestTracer(t, TracerConfig{ServiceName: "robotagent-test", AgentID: "robot-7"})

	_, span := otel.Tracer("test").Start(context.Background(), "execute_container_job")
	defer span.End()

	ro, ok := span.(sdktrace.ReadOnlySpan)
	if !ok {
		t.Fatalf("expected an sdk span, got %T", span)
	}

	attrs := map[string]string{}
	for _, kv := range ro.Resource().Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs["service.name"] != "robotagent-test" {
		t.Errorf("expected service.name robotagent-test, got %q", attrs["service.name"])
	}
	if attrs["service.instance.id"] != "robot-7" {
		t.Errorf("expected service.instance.id robot-7, got %q", attrs["service.instance.id"])
	}
}

func TestInitTracer_CollectorEndpoint(t *testing.T) {
	// The gRPC connection is lazy, so an absent collector does not fail init.
	initTestTracer(t, TracerConfig{ServiceName: "robotagent-test", AgentID: "robot-7", Endpoint: "localhost:4317"})

	_, span := otel.Tracer("test").Start(context.Background(), "process_job")
	span.End()

	if !span.SpanContext().IsValid() {
		t.Error("expected spans to be recorded with a collector configured")
	}
}
