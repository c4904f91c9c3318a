package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/md-rashed-zaman/slotbook/libs/kafkax"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/outbox"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestEventLineDecodesEnvelopeAndTrace(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "publish")
	defer span.End()

	env := kafkax.Envelope{EventID: "evt-1", EventType: outbox.EventAppointmentBooked, TenantID: "biz-1"}
	msg := kafkax.NewMessage(ctx, env, []byte(`{"appointment_id":"a-1"}`))
	msg.Partition, msg.Offset = 2, 41
	msg.Time = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

	line := toEventLine(context.Background(), msg)
	if line.EventID != "evt-1" || line.EventType != outbox.EventAppointmentBooked || line.TenantID != "biz-1" {
		t.Fatalf("unexpected envelope %+v", line)
	}
	if line.TraceID != span.SpanContext().TraceID().String() {
		t.Fatalf("expected trace id %s, got %q", span.SpanContext().TraceID(), line.TraceID)
	}

	var out bytes.Buffer
	if err := writeEventLine(&out, true, line); err != nil {
		t.Fatalf("write json: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(out.Bytes(), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	payload, ok := decoded["payload"].(map[string]any)
	if !ok || payload["appointment_id"] != "a-1" {
		t.Fatalf("payload not embedded: %s", out.String())
	}

	out.Reset()
	if err := writeEventLine(&out, false, line); err != nil {
		t.Fatalf("write text: %v", err)
	}
	if got := out.String(); !strings.HasPrefix(got, "2026-10-19T09:00:00Z\t"+outbox.EventAppointmentBooked+"\tbiz-1\tevt-1\t2/41") {
		t.Fatalf("unexpected text line %q", got)
	}
}

func TestEventLineWithoutHeaders(t *testing.T) {
	line := toEventLine(context.Background(), kafka.Message{Topic: outbox.EventAppointmentCancelled, Key: []byte("biz-9"), Value: []byte("not json")})
	if line.EventType != outbox.EventAppointmentCancelled || line.TenantID != "biz-9" {
		t.Fatalf("expected topic and key fallback, got %+v", line)
	}
	if line.TraceID != "" || line.Payload != nil {
		t.Fatalf("expected no trace and no payload, got %+v", line)
	}
}

func TestEventsRequiresBrokers(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "")
	_, err := run(t, "events")
	if !errors.Is(err, kafkax.ErrNoBrokers) {
		t.Fatalf("expected ErrNoBrokers, got %v", err)
	}
}
