package booking

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
)

// memStore is an in-memory Store whose commit path holds one mutex, standing in for the
// database transaction.
type memStore struct {
	mu            sync.Mutex
	profile       *model.BusinessProfile
	services      map[string]model.Service
	staff         []model.Staff
	week          model.WeekSchedule
	blocks        []model.BlockedInterval
	phones        []string
	appts         []model.Appointment
	cancellations []model.Cancellation
	waitlist      []model.WaitingListEntry
	idempotency   map[string]string
	phoneLookups  int
	seq           int
	failCommit    error
}

func newMemStore() *memStore {
	return &memStore{
		services: map[string]model.Service{
			"cut": {ID: "cut", BusinessID: "b1", Name: "Haircut", DurationMinutes: 30},
		},
		week: model.WeekSchedule{
			"monday":    {Open: true, Start: "09:00", End: "18:00"},
			"tuesday":   {Open: true, Start: "09:00", End: "18:00", BreakStart: "13:00", BreakEnd: "14:00"},
			"wednesday": {Open: true, Start: "09:00", End: "18:00"},
			"thursday":  {Open: true, Start: "09:00", End: "18:00"},
			"friday":    {Open: true, Start: "09:00", End: "18:00"},
		},
		idempotency: map[string]string{},
	}
}

func (m *memStore) GetProfile(_ context.Context, businessID string) (model.BusinessProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.profile == nil {
		return model.BusinessProfile{}, ErrNotFound
	}
	return *m.profile, nil
}

func (m *memStore) GetService(_ context.Context, _ string, serviceID string) (model.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	svc, ok := m.services[serviceID]
	if !ok {
		return model.Service{}, ErrNotFound
	}
	return svc, nil
}

func (m *memStore) ListActiveStaff(context.Context, string) ([]model.Staff, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Staff(nil), m.staff...), nil
}

func (m *memStore) GetDaySchedule(_ context.Context, _ string, date time.Time) (model.DaySchedule, error) {
	return m.week.For(date), nil
}

func (m *memStore) ListBlockedIntervals(_ context.Context, _ string, date time.Time) ([]model.BlockedInterval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.BlockedInterval
	for _, b := range m.blocks {
		if b.Date.Equal(date) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memStore) ListBlockedPhones(context.Context, string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phoneLookups++
	return append([]string(nil), m.phones...), nil
}

func (m *memStore) ListAppointments(_ context.Context, _ string, date time.Time, status model.AppointmentStatus) ([]model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Appointment
	for _, a := range m.appts {
		if a.Date.Equal(date) && (status == "" || a.Status == status) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) GetAppointment(_ context.Context, _ string, id string) (model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.appts {
		if a.ID == id {
			return a, nil
		}
	}
	return model.Appointment{}, ErrNotFound
}

func (m *memStore) FindActiveAppointment(_ context.Context, _ string, phone string, now time.Time) (model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found []model.Appointment
	for _, a := range m.appts {
		if a.ClientPhone == phone && a.Status == model.StatusConfirmed && a.EndAt.After(now) {
			found = append(found, a)
		}
	}
	if len(found) == 0 {
		return model.Appointment{}, ErrNotFound
	}
	sort.Slice(found, func(i, j int) bool { return found[i].StartAt.Before(found[j].StartAt) })
	return found[0], nil
}

func (m *memStore) FindByIdempotencyKey(_ context.Context, _ string, key string) (model.Appointment, error) {
	m.mu.Lock()
	id, ok := m.idempotency[key]
	m.mu.Unlock()
	if !ok {
		return model.Appointment{}, ErrNotFound
	}
	return m.GetAppointment(context.Background(), "", id)
}

func (m *memStore) CommitAppointment(_ context.Context, req CommitRequest) (Committed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCommit != nil {
		return Committed{}, m.failCommit
	}
	if id, ok := m.idempotency[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		for _, a := range m.appts {
			if a.ID == id {
				return Committed{Appointment: a, Replayed: true}, nil
			}
		}
	}
	appt := req.Appointment
	if m.conflicts(appt, "") {
		return Committed{}, ErrSlotTaken
	}
	m.seq++
	appt.ID = fmt.Sprintf("appt-%d", m.seq)
	m.appts = append(m.appts, appt)
	if req.IdempotencyKey != "" {
		m.idempotency[req.IdempotencyKey] = appt.ID
	}
	return Committed{Appointment: appt}, nil
}

func (m *memStore) UpdateAppointmentTime(_ context.Context, _ string, id string, slot Slot) (model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, a := range m.appts {
		if a.ID != id {
			continue
		}
		if a.Status != model.StatusConfirmed {
			return model.Appointment{}, ErrNotActive
		}
		a.StaffID, a.Date, a.StartAt, a.EndAt, a.BusyUntil = slot.StaffID, slot.Date, slot.StartAt, slot.EndAt, slot.BusyUntil
		if m.conflicts(a, id) {
			return model.Appointment{}, ErrSlotTaken
		}
		m.appts[i] = a
		return a, nil
	}
	return model.Appointment{}, ErrNotFound
}

// conflicts mirrors the database re-check: same day, same or unpinned resource, busy spans
// overlapping, or a blocked interval inside the busy span.
func (m *memStore) conflicts(appt model.Appointment, exclude string) bool {
	for _, a := range m.appts {
		if a.ID == exclude || a.Status != model.StatusConfirmed || !a.Date.Equal(appt.Date) {
			continue
		}
		if a.HasResource() && appt.HasResource() && a.StaffID != appt.StaffID {
			continue
		}
		if appt.StartAt.Before(a.BusyUntil) && a.StartAt.Before(appt.BusyUntil) {
			return true
		}
	}
	for _, b := range m.blocks {
		if !b.Date.Equal(appt.Date) {
			continue
		}
		start, _ := clock.At(b.Date, b.StartTime)
		end, _ := clock.At(b.Date, b.EndTime)
		if appt.StartAt.Before(end) && start.Before(appt.BusyUntil) {
			return true
		}
	}
	return false
}

func (m *memStore) SetAppointmentStatus(_ context.Context, change StatusChange) (model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, a := range m.appts {
		if a.ID != change.AppointmentID {
			continue
		}
		if a.Status != model.StatusConfirmed {
			return model.Appointment{}, ErrNotActive
		}
		a.Status = change.Status
		if change.Status == model.StatusCancelled {
			at := change.At
			a.CancelledAt = &at
			if change.ClientInitiated {
				m.cancellations = append(m.cancellations, model.Cancellation{
					AppointmentID: a.ID,
					ClientPhone:   a.ClientPhone,
					CancelledAt:   change.At,
				})
			}
		}
		m.appts[i] = a
		return a, nil
	}
	return model.Appointment{}, ErrNotFound
}

func (m *memStore) ListCancellations(_ context.Context, _ string, phone string, since time.Time) ([]model.Cancellation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Cancellation
	for _, c := range m.cancellations {
		if c.ClientPhone == phone && !c.CancelledAt.Before(since) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memStore) AddWaitingListEntry(_ context.Context, entry model.WaitingListEntry) (model.WaitingListEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	entry.ID = fmt.Sprintf("wl-%d", m.seq)
	m.waitlist = append(m.waitlist, entry)
	return entry, nil
}

func (m *memStore) confirmedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.appts {
		if a.Status == model.StatusConfirmed {
			n++
		}
	}
	return n
}
