package clock

import (
	"errors"
	"testing"
	"time"
)

func TestAtAnchorsToReferenceDate(t *testing.T) {
	loc := time.FixedZone("salon", -3*60*60)
	ref := time.Date(2026, 3, 10, 17, 42, 0, 0, loc)

	got, err := At(ref, "09:30")
	if err != nil {
		t.Fatalf("At failed: %v", err)
	}
	want := time.Date(2026, 3, 10, 9, 30, 0, 0, loc)
	if !got.Equal(want) || got.Location() != loc {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestAtRejectsMalformed(t *testing.T) {
	ref := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	for _, raw := range []string{"9:30", "24:00", "09:60", "0930", "", "09:30:00"} {
		if _, err := At(ref, raw); !errors.Is(err, ErrInvalidTimeOfDay) {
			t.Fatalf("expected ErrInvalidTimeOfDay for %q, got %v", raw, err)
		}
	}
}

func TestSameDayUsesFirstLocation(t *testing.T) {
	loc := time.FixedZone("salon", -3*60*60)
	a := time.Date(2026, 3, 10, 22, 0, 0, 0, loc)
	b := time.Date(2026, 3, 11, 0, 30, 0, 0, time.UTC) // 21:30 on the 10th in loc
	if !SameDay(a, b) {
		t.Fatal("expected same calendar day in salon location")
	}
	if SameDay(a, a.AddDate(0, 0, 1)) {
		t.Fatal("expected different days")
	}
}

func TestWeekStartIsMonday(t *testing.T) {
	cases := map[time.Weekday]time.Time{
		time.Monday:    time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC),
		time.Sunday:    time.Date(2026, 10, 25, 23, 59, 0, 0, time.UTC),
		time.Wednesday: time.Date(2026, 10, 21, 12, 0, 0, 0, time.UTC),
	}
	want := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	for wd, ts := range cases {
		if got := WeekStart(ts); !got.Equal(want) {
			t.Fatalf("%s: expected %s, got %s", wd, want, got)
		}
	}
}

func TestAddMinutesAndCompare(t *testing.T) {
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	later := AddMinutes(base, 47)
	if FormatHM(later) != "09:47" {
		t.Fatalf("expected 09:47, got %s", FormatHM(later))
	}
	if !Before(base, later) || !After(later, base) || Before(base, base) {
		t.Fatal("strict comparisons broken")
	}
}

func TestWallKeepsLocalReading(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Dhaka")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	instant := time.Date(2026, 3, 1, 20, 30, 0, 0, time.UTC)
	got := Wall(instant, loc)
	want := time.Date(2026, 3, 2, 2, 30, 0, 0, time.UTC)
	if !got.Equal(want) || got.Location() != time.UTC {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
