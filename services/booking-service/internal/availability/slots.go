package availability

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/clock"
)

// GridStep is the spacing of regular candidate start times.
const GridStep = 15 * time.Minute

var (
	ErrInvalidDuration = errors.New("service duration must be a positive number of minutes")
	ErrInvalidBuffer   = errors.New("buffer minutes must not be negative")
	ErrInvalidWindow   = errors.New("working hours end must be after start")
)

// Interval is a half-open [Start, End) span on the queried day.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Request describes one (date, service, resource) slot query. Appointments carry their
// raw start/end; the buffer is applied here. Blocked intervals are never buffered.
type Request struct {
	Date            time.Time
	DurationMinutes int
	WorkStart       string
	WorkEnd         string
	Appointments    []Interval
	Blocked         []Interval
	BufferMinutes   int
	// Now, when set, excludes every candidate at or before it.
	Now time.Time
}

// Window resolves the working window of req on its date.
func (req Request) Window() (Interval, error) {
	day := clock.Day(req.Date)
	start, err := clock.At(day, req.WorkStart)
	if err != nil {
		return Interval{}, fmt.Errorf("%w: %v", ErrInvalidWindow, err)
	}
	end, err := clock.At(day, req.WorkEnd)
	if err != nil {
		return Interval{}, fmt.Errorf("%w: %v", ErrInvalidWindow, err)
	}
	if !end.After(start) {
		return Interval{}, fmt.Errorf("%w (got %s-%s)", ErrInvalidWindow, req.WorkStart, req.WorkEnd)
	}
	return Interval{Start: start, End: end}, nil
}

func (req Request) validate() error {
	if req.DurationMinutes <= 0 {
		return ErrInvalidDuration
	}
	if req.BufferMinutes < 0 {
		return ErrInvalidBuffer
	}
	return nil
}

// Generate returns the ascending start instants at which a service of the requested
// duration can be placed without its busy span [start, start+duration+buffer)
// touching an existing appointment's [start, end+buffer) or a blocked interval.
//
// Besides the 15 minute grid, the instant an appointment's buffer ends and the end of
// every blocked interval are offered as candidates so off-grid gaps are not hidden.
// The service itself must end by closing time; its buffer may run past it.
func Generate(req Request) ([]time.Time, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	window, err := req.Window()
	if err != nil {
		return nil, err
	}

	duration := time.Duration(req.DurationMinutes) * time.Minute
	buffer := time.Duration(req.BufferMinutes) * time.Minute

	var slots []time.Time
	for _, start := range candidates(window, buffer, req.Appointments, req.Blocked) {
		if !req.Now.IsZero() && !start.After(req.Now) {
			continue
		}
		if start.Before(window.Start) || start.Add(duration).After(window.End) {
			continue
		}
		busyEnd := start.Add(duration + buffer)
		if overlapsBuffered(start, busyEnd, req.Appointments, buffer) {
			continue
		}
		if overlapsAny(start, busyEnd, req.Blocked) {
			continue
		}
		slots = append(slots, start)
	}
	return slots, nil
}

// FormatSlots renders slot instants as "HH:mm".
func FormatSlots(slots []time.Time) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, clock.FormatHM(s))
	}
	return out
}

func candidates(window Interval, buffer time.Duration, appts, blocked []Interval) []time.Time {
	seen := map[int64]struct{}{}
	var out []time.Time
	add := func(t time.Time) {
		key := t.UnixNano()
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, t)
	}
	for t := window.Start; t.Before(window.End); t = t.Add(GridStep) {
		add(t)
	}
	inside := func(t time.Time) bool {
		return t.After(window.Start) && t.Before(window.End)
	}
	for _, a := range appts {
		if t := a.End.Add(buffer); inside(t) {
			add(t)
		}
	}
	for _, b := range blocked {
		if inside(b.End) {
			add(b.End)
		}
	}
	slices.SortFunc(out, func(a, b time.Time) int { return a.Compare(b) })
	return out
}

func overlapsBuffered(start, end time.Time, appts []Interval, buffer time.Duration) bool {
	for _, a := range appts {
		if start.Before(a.End.Add(buffer)) && a.Start.Before(end) {
			return true
		}
	}
	return false
}

func overlapsAny(start, end time.Time, busy []Interval) bool {
	for _, b := range busy {
		// Half-open intervals: [start,end) overlaps [b.Start,b.End) iff start < b.End && b.Start < end.
		if start.Before(b.End) && b.Start.Before(end) {
			return true
		}
	}
	return false
}
