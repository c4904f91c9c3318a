package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
)

var ErrInvalidRequest = errors.New("invalid request")

type Config struct {
	DefaultBufferMinutes int
	WeeklyCancelCap      int
	BlocklistTTL         time.Duration
}

// Guard is the only writer of appointments. Every mutation returns a Result; no error
// escapes as a panic or a half-applied change.
type Guard struct {
	store     Store
	blocklist *PhoneBlocklistCache
	logger    *slog.Logger
	metrics   *metrics.Metrics
	cfg       Config
	now       func() time.Time
}

type Option func(*Guard)

func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Guard) { g.metrics = m }
}

func NewGuard(store Store, logger *slog.Logger, cfg Config, opts ...Option) *Guard {
	if cfg.DefaultBufferMinutes < 0 {
		cfg.DefaultBufferMinutes = 0
	}
	if cfg.WeeklyCancelCap <= 0 {
		cfg.WeeklyCancelCap = 2
	}
	g := &Guard{
		store:     store,
		blocklist: NewPhoneBlocklistCache(store, cfg.BlocklistTTL),
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Guard) Blocklist() *PhoneBlocklistCache {
	return g.blocklist
}

// Tenant is the per-request view of a business: its profile, the buffer in force and the
// current wall clock reading in its timezone.
type Tenant struct {
	Profile model.BusinessProfile
	Buffer  int
	Now     time.Time
}

func (g *Guard) Tenant(ctx context.Context, businessID string) (Tenant, error) {
	profile, err := g.store.GetProfile(ctx, businessID)
	if errors.Is(err, ErrNotFound) {
		profile = model.BusinessProfile{BusinessID: businessID, BufferMinutes: -1}
	} else if err != nil {
		return Tenant{}, err
	}
	buffer := profile.BufferMinutes
	if buffer < 0 {
		buffer = g.cfg.DefaultBufferMinutes
	}
	return Tenant{
		Profile: profile,
		Buffer:  buffer,
		Now:     clock.Wall(g.now(), profile.Location()),
	}, nil
}

type SlotQuery struct {
	BusinessID string
	ServiceID  string
	// StaffID narrows the query to one resource; empty means any.
	StaffID string
	Date    time.Time
	// ExcludeAppointmentID leaves one appointment out of the busy set (rescheduling).
	ExcludeAppointmentID string
}

type Slots struct {
	Date    time.Time
	Service model.Service
	Closed  bool
	// Past is set when Date lies before the tenant's current day.
	Past         bool
	Window       availability.Interval
	Availability availability.Availability
	Tenant       Tenant
}

// Slots computes bookable start times for one date, service and resource scope. A closed
// day or a misconfigured working window is reported through Closed, not as an error.
func (g *Guard) Slots(ctx context.Context, q SlotQuery) (Slots, error) {
	started := time.Now()
	s, err := g.slots(ctx, q)
	result := "available"
	switch {
	case err != nil:
		result = "error"
	case s.Closed:
		result = "closed"
	case s.Availability.Empty():
		result = "empty"
	}
	g.metrics.ObserveSlotQuery(result, time.Since(started).Seconds())
	return s, err
}

func (g *Guard) slots(ctx context.Context, q SlotQuery) (Slots, error) {
	if strings.TrimSpace(q.BusinessID) == "" || strings.TrimSpace(q.ServiceID) == "" || q.Date.IsZero() {
		return Slots{}, fmt.Errorf("%w: business, service and date are required", ErrInvalidRequest)
	}
	tenant, err := g.Tenant(ctx, q.BusinessID)
	if err != nil {
		return Slots{}, fmt.Errorf("load profile: %w", err)
	}
	svc, err := g.store.GetService(ctx, q.BusinessID, q.ServiceID)
	if err != nil {
		return Slots{}, fmt.Errorf("service %s: %w", q.ServiceID, err)
	}
	day := naiveDay(q.Date)
	out := Slots{Date: day, Service: svc, Tenant: tenant, Past: day.Before(clock.Day(tenant.Now))}

	sched, err := g.store.GetDaySchedule(ctx, q.BusinessID, day)
	if err != nil {
		return Slots{}, fmt.Errorf("load schedule: %w", err)
	}
	if !sched.Open {
		out.Closed = true
		return out, nil
	}

	staff, err := g.store.ListActiveStaff(ctx, q.BusinessID)
	if err != nil {
		return Slots{}, fmt.Errorf("load staff: %w", err)
	}
	resources, err := scope(staff, q.StaffID)
	if err != nil {
		return Slots{}, err
	}

	blocks, err := g.store.ListBlockedIntervals(ctx, q.BusinessID, day)
	if err != nil {
		return Slots{}, fmt.Errorf("load blocked intervals: %w", err)
	}
	appts, err := g.store.ListAppointments(ctx, q.BusinessID, day, model.StatusConfirmed)
	if err != nil {
		return Slots{}, fmt.Errorf("load appointments: %w", err)
	}

	byResource := map[string][]availability.Interval{}
	for _, a := range appts {
		if a.ID == q.ExcludeAppointmentID || a.Status != model.StatusConfirmed {
			continue
		}
		key := ""
		if a.HasResource() {
			key = a.StaffID
		} else if a.StaffID == model.GenericResourceID {
			key = model.GenericResourceID
		}
		byResource[key] = append(byResource[key], availability.Interval{Start: a.StartAt, End: a.EndAt})
	}

	base := availability.Request{
		Date:            day,
		DurationMinutes: svc.DurationMinutes,
		WorkStart:       sched.Start,
		WorkEnd:         sched.End,
		Blocked:         g.blockedIntervals(day, sched, blocks),
		BufferMinutes:   tenant.Buffer,
		Now:             tenant.Now,
	}
	window, err := base.Window()
	if err != nil {
		g.logger.Warn("working hours misconfigured; treating day as closed",
			"business_id", q.BusinessID, "date", clock.FormatDate(day), "err", err)
		out.Closed = true
		return out, nil
	}
	out.Window = window

	av, err := availability.MapResources(availability.ResourceRequest{
		Base:         base,
		Resources:    resources,
		Appointments: byResource,
	})
	if err != nil {
		return Slots{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	out.Availability = av
	return out, nil
}

// scope resolves the resources to evaluate. Nil means the tenant has no staff and the
// generic resource stands in.
func scope(staff []model.Staff, staffID string) ([]string, error) {
	staffID = strings.TrimSpace(staffID)
	if len(staff) == 0 {
		if staffID == "" || staffID == model.GenericResourceID {
			return nil, nil
		}
		return nil, fmt.Errorf("staff %s: %w", staffID, ErrNotFound)
	}
	if staffID == "" {
		ids := make([]string, 0, len(staff))
		for _, s := range staff {
			ids = append(ids, s.ID)
		}
		return ids, nil
	}
	for _, s := range staff {
		if s.ID == staffID {
			return []string{staffID}, nil
		}
	}
	return nil, fmt.Errorf("staff %s: %w", staffID, ErrNotFound)
}

func (g *Guard) blockedIntervals(day time.Time, sched model.DaySchedule, blocks []model.BlockedInterval) []availability.Interval {
	out := make([]availability.Interval, 0, len(blocks)+1)
	add := func(startHM, endHM, source string) {
		start, err1 := clock.At(day, startHM)
		end, err2 := clock.At(day, endHM)
		if err1 != nil || err2 != nil || !end.After(start) {
			g.logger.Warn("skipping malformed blocked interval", "source", source, "start", startHM, "end", endHM)
			return
		}
		out = append(out, availability.Interval{Start: start, End: end})
	}
	if sched.HasBreak() {
		add(sched.BreakStart, sched.BreakEnd, "break")
	}
	for _, b := range blocks {
		add(b.StartTime, b.EndTime, b.ID)
	}
	return out
}

type BookRequest struct {
	BusinessID     string
	ClientName     string
	ClientPhone    string
	ServiceID      string
	StaffID        string
	Date           time.Time
	Time           string
	IdempotencyKey string
}

// Book turns a chosen slot into a confirmed appointment. The slot is checked against a
// fresh availability snapshot and then committed by the store, which re-validates it
// atomically; a lost race comes back as ReasonSlotTaken.
func (g *Guard) Book(ctx context.Context, req BookRequest) Result {
	res := g.book(ctx, req)
	g.observe("book", req.BusinessID, res)
	return res
}

func (g *Guard) book(ctx context.Context, req BookRequest) Result {
	req.ClientName = strings.TrimSpace(req.ClientName)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	if strings.TrimSpace(req.BusinessID) == "" || req.ClientName == "" || req.ServiceID == "" || req.Date.IsZero() {
		return reject(ReasonInvalidRequest, "name, service and date are required")
	}
	if !clock.ValidHM(req.Time) {
		return reject(ReasonInvalidRequest, "time must be HH:mm")
	}
	phone, err := NormalizePhone(req.ClientPhone)
	if err != nil {
		return reject(ReasonInvalidRequest, err.Error())
	}
	if res, done := g.checkBlocked(ctx, req.BusinessID, phone); done {
		return res
	}

	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		prior, err := g.store.FindByIdempotencyKey(ctx, req.BusinessID, key)
		switch {
		case err == nil:
			res := ok(prior)
			res.Replayed = true
			return res
		case !errors.Is(err, ErrNotFound):
			return failed(err)
		}
	}

	slot, res, found := g.place(ctx, SlotQuery{
		BusinessID: req.BusinessID,
		ServiceID:  req.ServiceID,
		StaffID:    req.StaffID,
		Date:       req.Date,
	}, req.Time)
	if !found {
		return res
	}

	committed, err := g.store.CommitAppointment(ctx, CommitRequest{
		Appointment: model.Appointment{
			BusinessID:  req.BusinessID,
			ClientName:  req.ClientName,
			ClientPhone: phone,
			ServiceID:   req.ServiceID,
			StaffID:     slot.StaffID,
			Date:        slot.Date,
			StartAt:     slot.StartAt,
			EndAt:       slot.EndAt,
			BusyUntil:   slot.BusyUntil,
			Status:      model.StatusConfirmed,
		},
		IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
	})
	if err != nil {
		return commitFailure(err)
	}
	res = ok(committed.Appointment)
	res.Replayed = committed.Replayed
	return res
}

// place resolves hm on the query's day to a concrete slot, or explains why it cannot be used.
func (g *Guard) place(ctx context.Context, q SlotQuery, hm string) (Slot, Result, bool) {
	s, err := g.Slots(ctx, q)
	switch {
	case errors.Is(err, ErrNotFound):
		return Slot{}, reject(ReasonInvalidRequest, "unknown service or staff member"), false
	case errors.Is(err, ErrInvalidRequest):
		return Slot{}, reject(ReasonInvalidRequest, err.Error()), false
	case err != nil:
		return Slot{}, failed(err), false
	case s.Closed:
		return Slot{}, reject(ReasonClosed, "the business is closed on this date"), false
	}

	start, _ := clock.At(s.Date, hm)
	end := clock.AddMinutes(start, s.Service.DurationMinutes)
	var (
		staffID string
		free    bool
	)
	if requested := strings.TrimSpace(q.StaffID); requested != "" {
		staffID, free = requested, s.Availability.IsFree(hm, requested)
	} else {
		staffID, free = s.Availability.Assign(hm)
	}
	if !free {
		if start.Before(s.Window.Start) || end.After(s.Window.End) {
			return Slot{}, reject(ReasonOutsideHours, "the service does not fit within working hours"), false
		}
		if !start.After(s.Tenant.Now) {
			return Slot{}, reject(ReasonOutsideHours, "this time has already passed"), false
		}
		return Slot{}, reject(ReasonSlotTaken, "this time is no longer available"), false
	}
	return Slot{
		StaffID:   staffID,
		Date:      s.Date,
		StartAt:   start,
		EndAt:     end,
		BusyUntil: clock.AddMinutes(end, s.Tenant.Buffer),
	}, Result{}, true
}

type RescheduleRequest struct {
	BusinessID    string
	AppointmentID string
	// ClientPhone must match the appointment when the client reschedules.
	ClientPhone string
	Date        time.Time
	Time        string
}

// Reschedule moves an active appointment to a new date and time, keeping its staff member
// when that person is still active.
func (g *Guard) Reschedule(ctx context.Context, req RescheduleRequest) Result {
	res := g.reschedule(ctx, req)
	g.observe("reschedule", req.BusinessID, res)
	return res
}

func (g *Guard) reschedule(ctx context.Context, req RescheduleRequest) Result {
	if req.Date.IsZero() || !clock.ValidHM(req.Time) {
		return reject(ReasonInvalidRequest, "date and HH:mm time are required")
	}
	appt, res, found := g.ownedActive(ctx, req.BusinessID, req.AppointmentID, req.ClientPhone)
	if !found {
		return res
	}
	if res, done := g.checkBlocked(ctx, req.BusinessID, appt.ClientPhone); done {
		return res
	}

	q := SlotQuery{
		BusinessID:           req.BusinessID,
		ServiceID:            appt.ServiceID,
		Date:                 req.Date,
		ExcludeAppointmentID: appt.ID,
	}
	if appt.HasResource() {
		staff, err := g.store.ListActiveStaff(ctx, req.BusinessID)
		if err != nil {
			return failed(err)
		}
		for _, s := range staff {
			if s.ID == appt.StaffID {
				q.StaffID = appt.StaffID
				break
			}
		}
	}
	slot, res, found := g.place(ctx, q, req.Time)
	if !found {
		return res
	}
	updated, err := g.store.UpdateAppointmentTime(ctx, req.BusinessID, appt.ID, slot)
	if err != nil {
		return commitFailure(err)
	}
	return ok(updated)
}

// CancelByClient cancels the caller's own appointment, at most WeeklyCancelCap times per
// calendar week (Monday 00:00 in the tenant's timezone).
func (g *Guard) CancelByClient(ctx context.Context, businessID, appointmentID, phone string) Result {
	res := g.cancelByClient(ctx, businessID, appointmentID, phone)
	g.observe("client_cancel", businessID, res)
	return res
}

func (g *Guard) cancelByClient(ctx context.Context, businessID, appointmentID, phone string) Result {
	if strings.TrimSpace(phone) == "" {
		return reject(ReasonInvalidRequest, "phone is required")
	}
	appt, res, found := g.ownedActive(ctx, businessID, appointmentID, phone)
	if !found {
		return res
	}
	tenant, err := g.Tenant(ctx, businessID)
	if err != nil {
		return failed(err)
	}
	since := clock.WeekStart(g.now().In(tenant.Profile.Location()))
	logged, err := g.store.ListCancellations(ctx, businessID, appt.ClientPhone, since)
	if err != nil {
		return failed(err)
	}
	if len(logged) >= g.cfg.WeeklyCancelCap {
		return reject(ReasonCancelLimit, fmt.Sprintf("at most %d cancellations per week; please contact the business", g.cfg.WeeklyCancelCap))
	}
	return g.setStatus(ctx, StatusChange{
		BusinessID:      businessID,
		AppointmentID:   appt.ID,
		Status:          model.StatusCancelled,
		At:              g.now(),
		ClientInitiated: true,
	})
}

// CancelByAdmin cancels without the weekly cap. Cancelling a cancelled appointment succeeds.
func (g *Guard) CancelByAdmin(ctx context.Context, businessID, appointmentID string) Result {
	res := g.adminTransition(ctx, businessID, appointmentID, model.StatusCancelled)
	g.observe("admin_cancel", businessID, res)
	return res
}

// Complete marks an appointment completed ahead of the sweeper.
func (g *Guard) Complete(ctx context.Context, businessID, appointmentID string) Result {
	res := g.adminTransition(ctx, businessID, appointmentID, model.StatusCompleted)
	g.observe("complete", businessID, res)
	return res
}

func (g *Guard) adminTransition(ctx context.Context, businessID, appointmentID string, to model.AppointmentStatus) Result {
	appt, err := g.store.GetAppointment(ctx, businessID, appointmentID)
	if errors.Is(err, ErrNotFound) {
		return reject(ReasonNotFound, "appointment not found")
	}
	if err != nil {
		return failed(err)
	}
	if appt.Status == to {
		return ok(appt)
	}
	if appt.Status != model.StatusConfirmed {
		return reject(ReasonNotActive, fmt.Sprintf("appointment is %s", appt.Status))
	}
	return g.setStatus(ctx, StatusChange{
		BusinessID:    businessID,
		AppointmentID: appt.ID,
		Status:        to,
		At:            g.now(),
	})
}

func (g *Guard) setStatus(ctx context.Context, change StatusChange) Result {
	appt, err := g.store.SetAppointmentStatus(ctx, change)
	switch {
	case errors.Is(err, ErrNotFound):
		return reject(ReasonNotFound, "appointment not found")
	case errors.Is(err, ErrNotActive):
		return reject(ReasonNotActive, "appointment is no longer confirmed")
	case err != nil:
		return failed(err)
	}
	return ok(appt)
}

// ActiveAppointment returns the phone's upcoming confirmed appointment, if any.
func (g *Guard) ActiveAppointment(ctx context.Context, businessID, phone string) (model.Appointment, bool, error) {
	phone, err := NormalizePhone(phone)
	if err != nil {
		return model.Appointment{}, false, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	tenant, err := g.Tenant(ctx, businessID)
	if err != nil {
		return model.Appointment{}, false, err
	}
	appt, err := g.store.FindActiveAppointment(ctx, businessID, phone, tenant.Now)
	if errors.Is(err, ErrNotFound) {
		return model.Appointment{}, false, nil
	}
	if err != nil {
		return model.Appointment{}, false, err
	}
	return appt, true, nil
}

// IsPhoneBlocked checks the tenant's blocklist through the cache.
func (g *Guard) IsPhoneBlocked(ctx context.Context, businessID, phone string) (bool, error) {
	return g.blocklist.Contains(ctx, businessID, phone)
}

type WaitlistRequest struct {
	BusinessID  string
	ClientName  string
	ClientPhone string
	ServiceID   string
	Date        time.Time
}

func (g *Guard) JoinWaitingList(ctx context.Context, req WaitlistRequest) (model.WaitingListEntry, error) {
	name := strings.TrimSpace(req.ClientName)
	if strings.TrimSpace(req.BusinessID) == "" || name == "" || strings.TrimSpace(req.ServiceID) == "" || req.Date.IsZero() {
		return model.WaitingListEntry{}, fmt.Errorf("%w: name, service and date are required", ErrInvalidRequest)
	}
	phone, err := NormalizePhone(req.ClientPhone)
	if err != nil {
		return model.WaitingListEntry{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if _, err := g.store.GetService(ctx, req.BusinessID, req.ServiceID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.WaitingListEntry{}, fmt.Errorf("%w: unknown service", ErrInvalidRequest)
		}
		return model.WaitingListEntry{}, err
	}
	tenant, err := g.Tenant(ctx, req.BusinessID)
	if err != nil {
		return model.WaitingListEntry{}, err
	}
	if naiveDay(req.Date).Before(clock.Day(tenant.Now)) {
		return model.WaitingListEntry{}, fmt.Errorf("%w: this date has already passed", ErrInvalidRequest)
	}
	return g.store.AddWaitingListEntry(ctx, model.WaitingListEntry{
		BusinessID:  req.BusinessID,
		ClientName:  name,
		ClientPhone: phone,
		ServiceID:   req.ServiceID,
		Date:        naiveDay(req.Date),
		CreatedAt:   g.now().UTC(),
	})
}

// ownedActive loads an appointment for a client operation. A phone that does not match is
// reported as not found so appointment ids cannot be enumerated.
func (g *Guard) ownedActive(ctx context.Context, businessID, appointmentID, phone string) (model.Appointment, Result, bool) {
	if strings.TrimSpace(businessID) == "" || strings.TrimSpace(appointmentID) == "" {
		return model.Appointment{}, reject(ReasonInvalidRequest, "appointment id is required"), false
	}
	appt, err := g.store.GetAppointment(ctx, businessID, appointmentID)
	if errors.Is(err, ErrNotFound) {
		return model.Appointment{}, reject(ReasonNotFound, "appointment not found"), false
	}
	if err != nil {
		return model.Appointment{}, failed(err), false
	}
	if strings.TrimSpace(phone) != "" {
		normalized, err := NormalizePhone(phone)
		if err != nil || normalized != appt.ClientPhone {
			return model.Appointment{}, reject(ReasonNotFound, "appointment not found"), false
		}
	}
	tenant, err := g.Tenant(ctx, businessID)
	if err != nil {
		return model.Appointment{}, failed(err), false
	}
	if !appt.Active(tenant.Now) {
		return model.Appointment{}, reject(ReasonNotActive, fmt.Sprintf("appointment is %s", appt.EffectiveStatus(tenant.Now))), false
	}
	return appt, Result{}, true
}

func (g *Guard) checkBlocked(ctx context.Context, businessID, phone string) (Result, bool) {
	blocked, err := g.blocklist.Contains(ctx, businessID, phone)
	if err != nil {
		return failed(err), true
	}
	if blocked {
		return reject(ReasonPhoneBlocked, "this phone number cannot book with this business"), true
	}
	return Result{}, false
}

func (g *Guard) observe(op, businessID string, res Result) {
	g.metrics.ObserveBooking(op, string(res.Reason))
	switch {
	case res.Success:
		g.logger.Info("appointment "+op, "business_id", businessID, "appointment_id", res.ID, "staff_id", res.StaffID, "replayed", res.Replayed)
	case res.Reason == ReasonStorageError:
		g.logger.Error("appointment "+op+" failed", "business_id", businessID, "err", res.Err)
	default:
		g.logger.Info("appointment "+op+" rejected", "business_id", businessID, "reason", res.Reason)
	}
}

func commitFailure(err error) Result {
	switch {
	case errors.Is(err, ErrSlotTaken):
		return reject(ReasonSlotTaken, "this time was just taken, please pick another")
	case errors.Is(err, ErrNotActive):
		return reject(ReasonNotActive, "appointment is no longer confirmed")
	case errors.Is(err, ErrNotFound):
		return reject(ReasonNotFound, "appointment not found")
	}
	return failed(err)
}

func naiveDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
