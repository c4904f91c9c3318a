// Package clock holds the naive wall-clock helpers the slot engine is built on.
//
// Times of day are "HH:mm" strings anchored to a calendar date's midnight in the
// location carried by that date. No timezone conversion happens here: a tenant's
// working day is a plain local interval. Windows that cross midnight are not
// supported; callers must reject them as configuration errors.
package clock

import (
	"errors"
	"fmt"
	"time"
)

const (
	DateLayout = "2006-01-02"
	HMLayout   = "15:04"
)

var ErrInvalidTimeOfDay = errors.New("time of day must be HH:mm")

// Day returns midnight of t's calendar date in t's location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// ParseDate parses a YYYY-MM-DD calendar date as midnight in loc.
func ParseDate(raw string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	d, err := time.ParseInLocation(DateLayout, raw, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", raw, err)
	}
	return d, nil
}

// At anchors an "HH:mm" time of day to ref's calendar date.
func At(ref time.Time, hm string) (time.Time, error) {
	h, m, err := parseHM(hm)
	if err != nil {
		return time.Time{}, err
	}
	y, mo, d := ref.Date()
	return time.Date(y, mo, d, h, m, 0, 0, ref.Location()), nil
}

func parseHM(hm string) (int, int, error) {
	if len(hm) != len(HMLayout) {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, hm)
	}
	t, err := time.Parse(HMLayout, hm)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, hm)
	}
	return t.Hour(), t.Minute(), nil
}

// ValidHM reports whether hm is a well formed "HH:mm" value.
func ValidHM(hm string) bool {
	_, _, err := parseHM(hm)
	return err == nil
}

func AddMinutes(t time.Time, minutes int) time.Time {
	return t.Add(time.Duration(minutes) * time.Minute)
}

// Before and After are strict comparisons.
func Before(a, b time.Time) bool { return a.Before(b) }

func After(a, b time.Time) bool { return a.After(b) }

// SameDay compares calendar dates as seen in a's location.
func SameDay(a, b time.Time) bool {
	b = b.In(a.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func FormatHM(t time.Time) string {
	return t.Format(HMLayout)
}

func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// WeekStart returns Monday 00:00 of the calendar week containing t, in t's location.
func WeekStart(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	return Day(t).AddDate(0, 0, -offset)
}

// MinutesOfDay converts an "HH:mm" value to minutes since midnight.
func MinutesOfDay(hm string) (int, error) {
	h, m, err := parseHM(hm)
	if err != nil {
		return 0, err
	}
	return h*60 + m, nil
}

// Wall re-expresses the instant t as seen in loc as a naive wall-clock value in UTC,
// the representation used for every stored appointment time.
func Wall(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	y, mo, d := t.Date()
	return time.Date(y, mo, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}
