package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
)

var memDay = time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)

func memAppt(staff string, start, end, busy string) model.Appointment {
	at := func(hm string) time.Time {
		t, _ := time.Parse("15:04", hm)
		return memDay.Add(time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute)
	}
	return model.Appointment{
		BusinessID:  "b1",
		ClientName:  "Rita",
		ClientPhone: "+15550001111",
		ServiceID:   "cut",
		StaffID:     staff,
		Date:        memDay,
		StartAt:     at(start),
		EndAt:       at(end),
		BusyUntil:   at(busy),
	}
}

func TestMemoryCommitSingleWinner(t *testing.T) {
	m := NewMemoryStore(nil)
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.CommitAppointment(context.Background(), booking.CommitRequest{Appointment: memAppt("ana", "10:00", "10:30", "10:40")})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(err, booking.ErrSlotTaken) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestMemoryCommitRespectsResources(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(nil)
	if _, err := m.CommitAppointment(ctx, booking.CommitRequest{Appointment: memAppt("ana", "10:00", "10:30", "10:40")}); err != nil {
		t.Fatalf("commit ana: %v", err)
	}
	if _, err := m.CommitAppointment(ctx, booking.CommitRequest{Appointment: memAppt("bruno", "10:00", "10:30", "10:40")}); err != nil {
		t.Fatalf("bruno is a different resource: %v", err)
	}
	if _, err := m.CommitAppointment(ctx, booking.CommitRequest{Appointment: memAppt("", "10:35", "11:05", "11:15")}); !errors.Is(err, booking.ErrSlotTaken) {
		t.Fatalf("an unassigned appointment collides with every resource, got %v", err)
	}
	if _, err := m.CommitAppointment(ctx, booking.CommitRequest{Appointment: memAppt("ana", "10:40", "11:10", "11:20")}); err != nil {
		t.Fatalf("starting exactly at the busy end is free: %v", err)
	}
}

func TestMemoryCommitBlockedInterval(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(nil)
	if _, err := m.CreateBlockedInterval(ctx, model.BlockedInterval{BusinessID: "b1", Date: memDay, StartTime: "12:00", EndTime: "13:00"}); err != nil {
		t.Fatalf("block: %v", err)
	}
	if _, err := m.CommitAppointment(ctx, booking.CommitRequest{Appointment: memAppt("ana", "11:30", "12:00", "12:10")}); !errors.Is(err, booking.ErrSlotTaken) {
		t.Fatalf("buffer reaching into a block must conflict, got %v", err)
	}
	if _, err := m.CommitAppointment(ctx, booking.CommitRequest{Appointment: memAppt("ana", "11:20", "11:50", "12:00")}); err != nil {
		t.Fatalf("busy span ending at block start is free: %v", err)
	}
}

func TestMemoryIdempotencyIsPerTenant(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(nil)
	first, err := m.CommitAppointment(ctx, booking.CommitRequest{Appointment: memAppt("ana", "10:00", "10:30", "10:40"), IdempotencyKey: "k1"})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	again, err := m.CommitAppointment(ctx, booking.CommitRequest{Appointment: memAppt("ana", "10:00", "10:30", "10:40"), IdempotencyKey: "k1"})
	if err != nil || !again.Replayed || again.Appointment.ID != first.Appointment.ID {
		t.Fatalf("expected replay of %s, got %+v (%v)", first.Appointment.ID, again, err)
	}
	other := memAppt("ana", "10:00", "10:30", "10:40")
	other.BusinessID = "b2"
	res, err := m.CommitAppointment(ctx, booking.CommitRequest{Appointment: other, IdempotencyKey: "k1"})
	if err != nil || res.Replayed {
		t.Fatalf("another tenant's key must not replay: %+v (%v)", res, err)
	}
}

func TestMemoryCompleteDueUsesTenantClock(t *testing.T) {
	dhaka, err := time.LoadLocation("Asia/Dhaka")
	if err != nil {
		t.Skip("tzdata not available")
	}
	ctx := context.Background()
	// 05:00 UTC is 11:00 in Dhaka.
	now := memDay.Add(5 * time.Hour)
	m := NewMemoryStore(func() time.Time { return now })
	if err := m.UpsertProfile(ctx, model.BusinessProfile{BusinessID: "b1", Timezone: dhaka.String()}); err != nil {
		t.Fatalf("profile: %v", err)
	}
	done := m.InsertAppointment(memAppt("ana", "10:00", "10:30", "10:40"))
	pending := m.InsertAppointment(memAppt("ana", "11:00", "11:30", "11:40"))

	completed, err := m.CompleteDue(ctx, 10)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if len(completed) != 1 || completed[0].ID != done.ID {
		t.Fatalf("expected only %s completed, got %+v", done.ID, completed)
	}
	got, _ := m.GetAppointment(ctx, "b1", pending.ID)
	if got.Status != model.StatusConfirmed {
		t.Fatalf("expected the 11:00 appointment still confirmed, got %s", got.Status)
	}
}

func TestMemoryCatalog(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(nil)
	if err := m.PutWeekSchedule(ctx, "b1", model.WeekSchedule{"Monday": {Open: true, Start: "09:00", End: "17:00"}}); err != nil {
		t.Fatalf("put week: %v", err)
	}
	day, _ := m.GetDaySchedule(ctx, "b1", memDay)
	if !day.Open || day.Start != "09:00" {
		t.Fatalf("unexpected monday schedule %+v", day)
	}
	if err := m.PutWeekSchedule(ctx, "b1", model.WeekSchedule{"someday": {}}); err == nil {
		t.Fatal("expected unknown weekday error")
	}
	if _, err := m.CreateStaff(ctx, model.Staff{BusinessID: "b1", Name: "Ana", IsActive: true}); err != nil {
		t.Fatalf("staff: %v", err)
	}
	if _, err := m.CreateStaff(ctx, model.Staff{BusinessID: "b1", Name: "Old", IsActive: false}); err != nil {
		t.Fatalf("staff: %v", err)
	}
	active, _ := m.ListActiveStaff(ctx, "b1")
	if len(active) != 1 || active[0].Name != "Ana" {
		t.Fatalf("unexpected active staff %+v", active)
	}
	_ = m.AddBlockedPhone(ctx, "b1", "+15550001111")
	if err := m.RemoveBlockedPhone(ctx, "b1", "+19999999999"); !errors.Is(err, booking.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	phones, _ := m.ListBlockedPhones(ctx, "b1")
	if len(phones) != 1 {
		t.Fatalf("unexpected phones %v", phones)
	}
}

func TestMemoryCommitRechecksWorkingHours(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(nil)
	week := model.WeekSchedule{"monday": {Open: true, Start: "09:00", End: "17:00", BreakStart: "12:00", BreakEnd: "13:00"}}
	if err := m.PutWeekSchedule(ctx, "b1", week); err != nil {
		t.Fatalf("put week: %v", err)
	}
	if _, err := m.CommitAppointment(ctx, booking.CommitRequest{Appointment: memAppt("ana", "11:40", "12:10", "12:20")}); !errors.Is(err, booking.ErrSlotTaken) {
		t.Fatalf("overlapping the break must be refused, got %v", err)
	}
	if _, err := m.CommitAppointment(ctx, booking.CommitRequest{Appointment: memAppt("ana", "16:45", "17:15", "17:25")}); !errors.Is(err, booking.ErrSlotTaken) {
		t.Fatalf("finishing after closing must be refused, got %v", err)
	}
	if _, err := m.CommitAppointment(ctx, booking.CommitRequest{Appointment: memAppt("ana", "16:30", "17:00", "17:10")}); err != nil {
		t.Fatalf("buffer past closing is allowed: %v", err)
	}

	week["monday"] = model.DaySchedule{}
	if err := m.PutWeekSchedule(ctx, "b1", week); err != nil {
		t.Fatalf("close monday: %v", err)
	}
	if _, err := m.CommitAppointment(ctx, booking.CommitRequest{Appointment: memAppt("bruno", "10:00", "10:30", "10:40")}); !errors.Is(err, booking.ErrSlotTaken) {
		t.Fatalf("a day closed after slots were listed must refuse the commit, got %v", err)
	}
}
