package kafkax

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers(" kafka:9092, ,kafka-2:9092")
	if len(got) != 2 || got[0] != "kafka:9092" || got[1] != "kafka-2:9092" {
		t.Fatalf("unexpected brokers: %#v", got)
	}
}

func TestNewMessageRoundTripsEnvelopeAndTrace(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "publish")
	defer span.End()

	env := Envelope{EventID: "evt-1", EventType: "booking.appointment.booked.v1", TenantID: "b-1"}
	msg := NewMessage(ctx, env, []byte(`{}`))
	if msg.Topic != env.EventType || string(msg.Key) != "b-1" {
		t.Fatalf("unexpected routing: topic=%s key=%s", msg.Topic, msg.Key)
	}
	if HeaderValue(msg.Headers, "traceparent") == "" {
		t.Fatal("expected traceparent header to be injected")
	}

	got, read := ReadEnvelope(context.Background(), msg)
	if read != env {
		t.Fatalf("envelope mismatch: %+v", read)
	}
	if trace.SpanContextFromContext(got).TraceID() != span.SpanContext().TraceID() {
		t.Fatal("trace id not carried through headers")
	}
}

func TestReadEnvelopeFallsBackToKeyAndTopic(t *testing.T) {
	_, env := ReadEnvelope(context.Background(), kafka.Message{Topic: "booking.appointment.cancelled.v1", Key: []byte("b-9")})
	if env.EventType != "booking.appointment.cancelled.v1" || env.TenantID != "b-9" || env.EventID != "" {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestReadyCheckWithoutBrokers(t *testing.T) {
	if err := ReadyCheck(nil)(context.Background()); err != ErrNoBrokers {
		t.Fatalf("expected ErrNoBrokers, got %v", err)
	}
}
