package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage"
	"github.com/shopspring/decimal"
)

// fixture is a single tenant calendar in the shape operators paste from support tickets.
type fixture struct {
	Profile      fixtureProfile       `json:"profile"`
	Services     []fixtureService     `json:"services"`
	Staff        []fixtureStaff       `json:"staff"`
	Week         model.WeekSchedule   `json:"week"`
	Blocked      []fixtureBlock       `json:"blocked"`
	Appointments []fixtureAppointment `json:"appointments"`
}

type fixtureProfile struct {
	BusinessID    string `json:"business_id"`
	Name          string `json:"name"`
	Timezone      string `json:"timezone"`
	BufferMinutes *int   `json:"buffer_minutes"`
}

type fixtureService struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Price           decimal.Decimal `json:"price"`
	DurationMinutes int             `json:"duration_minutes"`
}

type fixtureStaff struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active *bool  `json:"active"`
}

type fixtureBlock struct {
	Date   string `json:"date"`
	Start  string `json:"start"`
	End    string `json:"end"`
	Reason string `json:"reason"`
}

type fixtureAppointment struct {
	ID          string `json:"id"`
	ServiceID   string `json:"service_id"`
	StaffID     string `json:"staff_id"`
	ClientPhone string `json:"client_phone"`
	Date        string `json:"date"`
	Start       string `json:"start"`
	End         string `json:"end"`
	Status      string `json:"status"`
}

func readFixture(path string) (fixture, error) {
	f, err := os.Open(path)
	if err != nil {
		return fixture{}, err
	}
	defer f.Close()

	var fx fixture
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fx); err != nil {
		return fixture{}, fmt.Errorf("decode fixture: %w", err)
	}
	if fx.Profile.BusinessID == "" {
		return fixture{}, fmt.Errorf("fixture profile.business_id is required")
	}
	return fx, nil
}

// load seeds store with the fixture. Appointments go in without the availability re-check,
// so a fixture can reproduce a calendar that is already overbooked.
func (fx fixture) load(ctx context.Context, store *storage.MemoryStore, defaultBuffer int) error {
	biz := fx.Profile.BusinessID
	buffer := defaultBuffer
	profile := model.BusinessProfile{
		BusinessID:    biz,
		Name:          fx.Profile.Name,
		Timezone:      fx.Profile.Timezone,
		BufferMinutes: -1,
	}
	if fx.Profile.BufferMinutes != nil {
		profile.BufferMinutes = *fx.Profile.BufferMinutes
		buffer = *fx.Profile.BufferMinutes
	}
	if err := store.UpsertProfile(ctx, profile); err != nil {
		return err
	}

	durations := map[string]int{}
	for _, s := range fx.Services {
		svc, err := store.CreateService(ctx, model.Service{
			ID:              s.ID,
			BusinessID:      biz,
			Name:            s.Name,
			Price:           s.Price,
			DurationMinutes: s.DurationMinutes,
		})
		if err != nil {
			return err
		}
		durations[svc.ID] = svc.DurationMinutes
	}
	for _, s := range fx.Staff {
		active := s.Active == nil || *s.Active
		if _, err := store.CreateStaff(ctx, model.Staff{ID: s.ID, BusinessID: biz, Name: s.Name, IsActive: active}); err != nil {
			return err
		}
	}
	if len(fx.Week) > 0 {
		if err := store.PutWeekSchedule(ctx, biz, fx.Week); err != nil {
			return err
		}
	}
	for i, b := range fx.Blocked {
		day, err := clock.ParseDate(b.Date, time.UTC)
		if err != nil {
			return fmt.Errorf("blocked[%d]: %w", i, err)
		}
		if !clock.ValidHM(b.Start) || !clock.ValidHM(b.End) {
			return fmt.Errorf("blocked[%d]: %w", i, clock.ErrInvalidTimeOfDay)
		}
		if _, err := store.CreateBlockedInterval(ctx, model.BlockedInterval{
			BusinessID: biz,
			Date:       day,
			StartTime:  b.Start,
			EndTime:    b.End,
			Reason:     b.Reason,
		}); err != nil {
			return err
		}
	}
	for i, a := range fx.Appointments {
		appt, err := a.toModel(biz, durations, buffer)
		if err != nil {
			return fmt.Errorf("appointments[%d]: %w", i, err)
		}
		store.InsertAppointment(appt)
	}
	return nil
}

func (a fixtureAppointment) toModel(biz string, durations map[string]int, buffer int) (model.Appointment, error) {
	day, err := clock.ParseDate(a.Date, time.UTC)
	if err != nil {
		return model.Appointment{}, err
	}
	start, err := clock.At(day, a.Start)
	if err != nil {
		return model.Appointment{}, err
	}
	var end time.Time
	switch {
	case a.End != "":
		if end, err = clock.At(day, a.End); err != nil {
			return model.Appointment{}, err
		}
	case durations[a.ServiceID] > 0:
		end = clock.AddMinutes(start, durations[a.ServiceID])
	default:
		return model.Appointment{}, fmt.Errorf("end is required when service %q is unknown", a.ServiceID)
	}
	if !end.After(start) {
		return model.Appointment{}, fmt.Errorf("end %s must be after start %s", a.End, a.Start)
	}
	status := model.AppointmentStatus(a.Status)
	switch status {
	case "":
		status = model.StatusConfirmed
	case model.StatusConfirmed, model.StatusCancelled, model.StatusCompleted:
	default:
		return model.Appointment{}, fmt.Errorf("unknown status %q", a.Status)
	}
	return model.Appointment{
		ID:          a.ID,
		BusinessID:  biz,
		ClientPhone: a.ClientPhone,
		ServiceID:   a.ServiceID,
		StaffID:     a.StaffID,
		Date:        day,
		StartAt:     start,
		EndAt:       end,
		BusyUntil:   clock.AddMinutes(end, buffer),
		Status:      status,
	}, nil
}
