package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func TestObserveBookingDefaultsReason(t *testing.T) {
	m := New("slotbook_test")
	m.ObserveBooking("book", "")
	m.ObserveBooking("book", "slot_taken")
	m.ObserveBooking("book", "slot_taken")

	out := scrape(t, m)
	if !strings.Contains(out, `slotbook_test_booking_outcomes_total{operation="book",reason="ok"} 1`) {
		t.Fatalf("expected one ok booking, got:\n%s", out)
	}
	if !strings.Contains(out, `slotbook_test_booking_outcomes_total{operation="book",reason="slot_taken"} 2`) {
		t.Fatalf("expected two conflicts, got:\n%s", out)
	}
}

func TestObserveSweepSplitsErrors(t *testing.T) {
	m := New("slotbook_test")
	m.ObserveSweep(3, nil)
	m.ObserveSweep(0, errors.New("db down"))

	out := scrape(t, m)
	if !strings.Contains(out, "slotbook_test_appointments_completed_by_sweeper_total 3") {
		t.Fatalf("expected 3 swept, got:\n%s", out)
	}
	if !strings.Contains(out, `slotbook_test_completion_sweeps_total{status="error"} 1`) {
		t.Fatalf("expected one failed sweep, got:\n%s", out)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveBooking("book", "ok")
	m.ObserveSlotQuery("empty", 0.01)
	m.ObserveTransition("chooseService")
	m.ObservePublish(1, nil)
	m.ObserveSweep(1, nil)
}

func TestHandlerExposesSlotQueries(t *testing.T) {
	m := New("slotbook_test")
	m.ObserveSlotQuery("available", 0.002)

	if out := scrape(t, m); !strings.Contains(out, `slotbook_test_slot_queries_total{result="available"} 1`) {
		t.Fatalf("expected slot query counter in output, got:\n%s", out)
	}
}
