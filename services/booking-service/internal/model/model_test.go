package model

import (
	"testing"
	"time"
)

func TestEffectiveStatusCompletesPastAppointments(t *testing.T) {
	day := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)
	appt := Appointment{
		Status:  StatusConfirmed,
		StartAt: day.Add(10 * time.Hour),
		EndAt:   day.Add(10*time.Hour + 30*time.Minute),
	}
	if appt.EffectiveStatus(day.Add(10*time.Hour+15*time.Minute)) != StatusConfirmed {
		t.Fatal("expected confirmed while in progress")
	}
	if appt.EffectiveStatus(day.Add(10*time.Hour+30*time.Minute)) != StatusCompleted {
		t.Fatal("expected completed once end has passed")
	}
	appt.Status = StatusCancelled
	if appt.EffectiveStatus(day.Add(11*time.Hour)) != StatusCancelled {
		t.Fatal("cancelled must stay cancelled")
	}
}

func TestWeekScheduleMissingDayIsClosed(t *testing.T) {
	week := WeekSchedule{
		"monday": {Open: true, Start: "09:00", End: "18:00"},
	}
	monday := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	if !week.For(monday).Open {
		t.Fatal("expected monday open")
	}
	if week.For(monday.AddDate(0, 0, 1)).Open {
		t.Fatal("expected tuesday closed")
	}
}

func TestParseWeekday(t *testing.T) {
	wd, err := ParseWeekday(" Friday ")
	if err != nil || wd != time.Friday {
		t.Fatalf("expected friday, got %v (%v)", wd, err)
	}
	if _, err := ParseWeekday("funday"); err == nil {
		t.Fatal("expected error for unknown weekday")
	}
}
