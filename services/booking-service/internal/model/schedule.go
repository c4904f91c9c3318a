package model

import (
	"fmt"
	"strings"
	"time"
)

// DaySchedule is one weekday's opening hours. BreakStart/BreakEnd are optional and
// are applied as a blocked interval during slot generation.
type DaySchedule struct {
	Open       bool   `json:"open"`
	Start      string `json:"start"`
	End        string `json:"end"`
	BreakStart string `json:"break_start,omitempty"`
	BreakEnd   string `json:"break_end,omitempty"`
}

func (d DaySchedule) HasBreak() bool {
	return d.BreakStart != "" && d.BreakEnd != ""
}

// WeekSchedule is keyed by lower-case weekday name ("monday" ... "sunday").
type WeekSchedule map[string]DaySchedule

var weekdayNames = [...]string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

func WeekdayName(wd time.Weekday) string {
	return weekdayNames[wd]
}

func ParseWeekday(name string) (time.Weekday, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range weekdayNames {
		if n == name {
			return time.Weekday(i), nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", name)
}

// For returns the schedule of date's weekday; a missing entry means closed.
func (w WeekSchedule) For(date time.Time) DaySchedule {
	d, ok := w[WeekdayName(date.Weekday())]
	if !ok {
		return DaySchedule{}
	}
	return d
}
