package outbox

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/md-rashed-zaman/slotbook/libs/kafkax"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func TestAppointmentEventPayload(t *testing.T) {
	day := time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC)
	cancelled := time.Date(2026, 10, 19, 15, 4, 5, 0, time.UTC)
	evt, err := AppointmentEvent(EventAppointmentCancelled, model.Appointment{
		ID:          "a-1",
		BusinessID:  "b-1",
		ServiceID:   "cut",
		ClientName:  "Maria",
		ClientPhone: "+15550000001",
		Date:        day,
		StartAt:     day.Add(10 * time.Hour),
		EndAt:       day.Add(10*time.Hour + 30*time.Minute),
		Status:      model.StatusCancelled,
		CancelledAt: &cancelled,
	})
	if err != nil {
		t.Fatalf("AppointmentEvent failed: %v", err)
	}
	if evt.AggregateID != "a-1" || evt.BusinessID != "b-1" || evt.EventType != EventAppointmentCancelled {
		t.Fatalf("unexpected envelope %+v", evt)
	}

	var body map[string]any
	if err := json.Unmarshal(evt.Payload, &body); err != nil {
		t.Fatalf("payload is not json: %v", err)
	}
	if body["date"] != "2026-10-20" || body["start_time"] != "10:00" || body["end_time"] != "10:30" {
		t.Fatalf("unexpected times in %v", body)
	}
	if body["cancelled_at"] != "2026-10-19T15:04:05Z" {
		t.Fatalf("unexpected cancelled_at %v", body["cancelled_at"])
	}
	if _, ok := body["staff_id"]; ok {
		t.Fatal("empty staff id should be omitted")
	}
}

func TestMessageCarriesHeadersAndTrace(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	traceparent := "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"

	msg := Message(context.Background(), Record{
		EventID:     "evt-1",
		BusinessID:  "b-1",
		EventType:   EventAppointmentBooked,
		Payload:     []byte(`{}`),
		Traceparent: traceparent,
	})
	if msg.Topic != EventAppointmentBooked || string(msg.Key) != "b-1" {
		t.Fatalf("unexpected topic/key %s/%s", msg.Topic, msg.Key)
	}
	if kafkax.HeaderValue(msg.Headers, kafkax.HeaderEventID) != "evt-1" {
		t.Fatal("missing event id header")
	}
	if kafkax.HeaderValue(msg.Headers, kafkax.HeaderTenantID) != "b-1" {
		t.Fatal("missing tenant header")
	}
	if kafkax.HeaderValue(msg.Headers, "traceparent") != traceparent {
		t.Fatalf("expected trace context to be restored, got %q", kafkax.HeaderValue(msg.Headers, "traceparent"))
	}
}
