package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
)

// MemoryStore keeps every tenant in process. All mutations hold one mutex, which gives the
// commit path the same all-or-nothing re-check the database transaction provides. It backs
// offline slot computation and tests.
type MemoryStore struct {
	mu            sync.Mutex
	now           func() time.Time
	profiles      map[string]model.BusinessProfile
	services      map[string][]model.Service
	staff         map[string][]model.Staff
	weeks         map[string]model.WeekSchedule
	blocks        map[string][]model.BlockedInterval
	phones        map[string]map[string]struct{}
	appts         []model.Appointment
	cancellations map[string][]model.Cancellation
	waitlist      map[string][]model.WaitingListEntry
	idempotency   map[string]string
}

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		now:           now,
		profiles:      map[string]model.BusinessProfile{},
		services:      map[string][]model.Service{},
		staff:         map[string][]model.Staff{},
		weeks:         map[string]model.WeekSchedule{},
		blocks:        map[string][]model.BlockedInterval{},
		phones:        map[string]map[string]struct{}{},
		cancellations: map[string][]model.Cancellation{},
		waitlist:      map[string][]model.WaitingListEntry{},
		idempotency:   map[string]string{},
	}
}

var _ booking.Store = (*MemoryStore)(nil)

func (m *MemoryStore) GetProfile(_ context.Context, businessID string) (model.BusinessProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[businessID]
	if !ok {
		return model.BusinessProfile{}, booking.ErrNotFound
	}
	return p, nil
}

func (m *MemoryStore) UpsertProfile(_ context.Context, p model.BusinessProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.BusinessID] = p
	return nil
}

func (m *MemoryStore) CreateService(_ context.Context, svc model.Service) (model.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if svc.ID == "" {
		svc.ID = uuid.NewString()
	}
	svc.CreatedAt = m.now().UTC()
	m.services[svc.BusinessID] = append(m.services[svc.BusinessID], svc)
	return svc, nil
}

func (m *MemoryStore) GetService(_ context.Context, businessID, serviceID string) (model.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.services[businessID] {
		if s.ID == serviceID {
			return s, nil
		}
	}
	return model.Service{}, booking.ErrNotFound
}

func (m *MemoryStore) ListServices(_ context.Context, businessID string) ([]model.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]model.Service(nil), m.services[businessID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) CreateStaff(_ context.Context, s model.Staff) (model.Staff, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	m.staff[s.BusinessID] = append(m.staff[s.BusinessID], s)
	return s, nil
}

func (m *MemoryStore) ListStaff(_ context.Context, businessID string, activeOnly bool) ([]model.Staff, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Staff
	for _, s := range m.staff[businessID] {
		if !activeOnly || s.IsActive {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListActiveStaff(ctx context.Context, businessID string) ([]model.Staff, error) {
	return m.ListStaff(ctx, businessID, true)
}

func (m *MemoryStore) GetWeekSchedule(_ context.Context, businessID string) (model.WeekSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	week := model.WeekSchedule{}
	for k, v := range m.weeks[businessID] {
		week[k] = v
	}
	return week, nil
}

func (m *MemoryStore) PutWeekSchedule(_ context.Context, businessID string, week model.WeekSchedule) error {
	stored := model.WeekSchedule{}
	for name, d := range week {
		wd, err := model.ParseWeekday(name)
		if err != nil {
			return err
		}
		stored[model.WeekdayName(wd)] = d
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.weeks[businessID] = stored
	return nil
}

func (m *MemoryStore) GetDaySchedule(_ context.Context, businessID string, date time.Time) (model.DaySchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.weeks[businessID].For(date), nil
}

func (m *MemoryStore) CreateBlockedInterval(_ context.Context, b model.BlockedInterval) (model.BlockedInterval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	m.blocks[b.BusinessID] = append(m.blocks[b.BusinessID], b)
	return b, nil
}

func (m *MemoryStore) ListBlockedIntervals(_ context.Context, businessID string, date time.Time) ([]model.BlockedInterval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.BlockedInterval
	for _, b := range m.blocks[businessID] {
		if b.Date.Equal(date) {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	return out, nil
}

func (m *MemoryStore) DeleteBlockedInterval(_ context.Context, businessID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	blocks := m.blocks[businessID]
	for i, b := range blocks {
		if b.ID == id {
			m.blocks[businessID] = append(blocks[:i:i], blocks[i+1:]...)
			return nil
		}
	}
	return booking.ErrNotFound
}

func (m *MemoryStore) AddBlockedPhone(_ context.Context, businessID, phone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phones[businessID] == nil {
		m.phones[businessID] = map[string]struct{}{}
	}
	m.phones[businessID][phone] = struct{}{}
	return nil
}

func (m *MemoryStore) RemoveBlockedPhone(_ context.Context, businessID, phone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.phones[businessID][phone]; !ok {
		return booking.ErrNotFound
	}
	delete(m.phones[businessID], phone)
	return nil
}

func (m *MemoryStore) ListBlockedPhones(_ context.Context, businessID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.phones[businessID]))
	for p := range m.phones[businessID] {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) AddWaitingListEntry(_ context.Context, e model.WaitingListEntry) (model.WaitingListEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = uuid.NewString()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = m.now().UTC()
	}
	m.waitlist[e.BusinessID] = append(m.waitlist[e.BusinessID], e)
	return e, nil
}

func (m *MemoryStore) ListWaitingList(_ context.Context, businessID string, date time.Time) ([]model.WaitingListEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.WaitingListEntry
	for _, e := range m.waitlist[businessID] {
		if date.IsZero() || e.Date.Equal(date) {
			out = append(out, e)
		}
	}
	return out, nil
}

// InsertAppointment stores appt as is, without the availability re-check. It seeds
// calendars loaded from fixtures.
func (m *MemoryStore) InsertAppointment(appt model.Appointment) model.Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	if appt.Status == "" {
		appt.Status = model.StatusConfirmed
	}
	if appt.BusyUntil.IsZero() {
		appt.BusyUntil = appt.EndAt
	}
	m.appts = append(m.appts, appt)
	return appt
}

func (m *MemoryStore) ListAppointments(_ context.Context, businessID string, date time.Time, status model.AppointmentStatus) ([]model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Appointment
	for _, a := range m.appts {
		if a.BusinessID == businessID && a.Date.Equal(date) && (status == "" || a.Status == status) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartAt.Before(out[j].StartAt) })
	return out, nil
}

func (m *MemoryStore) GetAppointment(_ context.Context, businessID, appointmentID string) (model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexOf(businessID, appointmentID)
	if i < 0 {
		return model.Appointment{}, booking.ErrNotFound
	}
	return m.appts[i], nil
}

func (m *MemoryStore) FindActiveAppointment(_ context.Context, businessID, phone string, now time.Time) (model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *model.Appointment
	for i := range m.appts {
		a := &m.appts[i]
		if a.BusinessID != businessID || a.ClientPhone != phone || a.Status != model.StatusConfirmed || !a.EndAt.After(now) {
			continue
		}
		if best == nil || a.StartAt.Before(best.StartAt) {
			best = a
		}
	}
	if best == nil {
		return model.Appointment{}, booking.ErrNotFound
	}
	return *best, nil
}

func (m *MemoryStore) FindByIdempotencyKey(_ context.Context, businessID, key string) (model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.idempotency[businessID+"|"+key]
	if !ok {
		return model.Appointment{}, booking.ErrNotFound
	}
	return m.appts[m.indexOf(businessID, id)], nil
}

func (m *MemoryStore) CommitAppointment(_ context.Context, req booking.CommitRequest) (booking.Committed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	appt := req.Appointment
	key := appt.BusinessID + "|" + req.IdempotencyKey
	if req.IdempotencyKey != "" {
		if id, ok := m.idempotency[key]; ok {
			return booking.Committed{Appointment: m.appts[m.indexOf(appt.BusinessID, id)], Replayed: true}, nil
		}
	}
	if m.conflicts(appt, "") {
		return booking.Committed{}, booking.ErrSlotTaken
	}
	appt.ID = uuid.NewString()
	appt.Status = model.StatusConfirmed
	appt.CreatedAt = m.now().UTC()
	m.appts = append(m.appts, appt)
	if req.IdempotencyKey != "" {
		m.idempotency[key] = appt.ID
	}
	return booking.Committed{Appointment: appt}, nil
}

func (m *MemoryStore) UpdateAppointmentTime(_ context.Context, businessID, appointmentID string, slot booking.Slot) (model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexOf(businessID, appointmentID)
	if i < 0 {
		return model.Appointment{}, booking.ErrNotFound
	}
	a := m.appts[i]
	if a.Status != model.StatusConfirmed {
		return model.Appointment{}, booking.ErrNotActive
	}
	a.StaffID, a.Date, a.StartAt, a.EndAt, a.BusyUntil = slot.StaffID, slot.Date, slot.StartAt, slot.EndAt, slot.BusyUntil
	if m.conflicts(a, a.ID) {
		return model.Appointment{}, booking.ErrSlotTaken
	}
	m.appts[i] = a
	return a, nil
}

func (m *MemoryStore) SetAppointmentStatus(_ context.Context, change booking.StatusChange) (model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexOf(change.BusinessID, change.AppointmentID)
	if i < 0 {
		return model.Appointment{}, booking.ErrNotFound
	}
	a := m.appts[i]
	if a.Status != model.StatusConfirmed {
		return model.Appointment{}, booking.ErrNotActive
	}
	a.Status = change.Status
	if change.Status == model.StatusCancelled {
		at := change.At
		a.CancelledAt = &at
		if change.ClientInitiated {
			m.cancellations[a.BusinessID] = append(m.cancellations[a.BusinessID], model.Cancellation{
				AppointmentID: a.ID,
				ClientPhone:   a.ClientPhone,
				CancelledAt:   change.At,
			})
		}
	}
	m.appts[i] = a
	return a, nil
}

func (m *MemoryStore) ListCancellations(_ context.Context, businessID, phone string, since time.Time) ([]model.Cancellation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Cancellation
	for _, c := range m.cancellations[businessID] {
		if c.ClientPhone == phone && !c.CancelledAt.Before(since) {
			out = append(out, c)
		}
	}
	return out, nil
}

// CompleteDue mirrors BookingRepository.CompleteDue, reading each tenant's wall clock.
func (m *MemoryStore) CompleteDue(_ context.Context, limit int) ([]model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var out []model.Appointment
	for i, a := range m.appts {
		if limit > 0 && len(out) == limit {
			break
		}
		if a.Status != model.StatusConfirmed {
			continue
		}
		if a.EndAt.After(clock.Wall(now, m.profiles[a.BusinessID].Location())) {
			continue
		}
		a.Status = model.StatusCompleted
		m.appts[i] = a
		out = append(out, a)
	}
	return out, nil
}

func (m *MemoryStore) indexOf(businessID, appointmentID string) int {
	for i, a := range m.appts {
		if a.ID == appointmentID && a.BusinessID == businessID {
			return i
		}
	}
	return -1
}

// conflicts is the in-memory form of ensureFree. Tenants without a stored week
// skip the working-hours check.
func (m *MemoryStore) conflicts(appt model.Appointment, excludeID string) bool {
	if week, ok := m.weeks[appt.BusinessID]; ok && !withinSchedule(week.For(appt.Date), appt) {
		return true
	}
	for _, a := range m.appts {
		if a.ID == excludeID || a.BusinessID != appt.BusinessID || a.Status != model.StatusConfirmed || !a.Date.Equal(appt.Date) {
			continue
		}
		if a.HasResource() && appt.HasResource() && a.StaffID != appt.StaffID {
			continue
		}
		if appt.StartAt.Before(a.BusyUntil) && a.StartAt.Before(appt.BusyUntil) {
			return true
		}
	}
	for _, b := range m.blocks[appt.BusinessID] {
		if !b.Date.Equal(appt.Date) {
			continue
		}
		start, err1 := clock.At(b.Date, b.StartTime)
		end, err2 := clock.At(b.Date, b.EndTime)
		if err1 != nil || err2 != nil {
			continue
		}
		if appt.StartAt.Before(end) && start.Before(appt.BusyUntil) {
			return true
		}
	}
	return false
}
