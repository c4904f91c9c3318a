package storage

import (
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
)

// withinSchedule reports whether appt still fits the day's working hours: the
// service must start and finish inside the window and its busy span must not
// reach into the break. A closed or malformed day fits nothing.
func withinSchedule(d model.DaySchedule, appt model.Appointment) bool {
	if !d.Open {
		return false
	}
	start, err1 := clock.At(appt.Date, d.Start)
	end, err2 := clock.At(appt.Date, d.End)
	if err1 != nil || err2 != nil {
		return false
	}
	if appt.StartAt.Before(start) || appt.EndAt.After(end) {
		return false
	}
	if !d.HasBreak() {
		return true
	}
	breakStart, err1 := clock.At(appt.Date, d.BreakStart)
	breakEnd, err2 := clock.At(appt.Date, d.BreakEnd)
	if err1 != nil || err2 != nil {
		return false
	}
	return !(appt.StartAt.Before(breakEnd) && breakStart.Before(appt.BusyUntil))
}
