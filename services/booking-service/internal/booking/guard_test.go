package booking

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
)

var (
	monday    = time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	tuesday   = monday.AddDate(0, 0, 1)
	wednesday = monday.AddDate(0, 0, 2)
	thursday  = monday.AddDate(0, 0, 3)
	sunday    = monday.AddDate(0, 0, 6)
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGuard(store *memStore, now *time.Time) *Guard {
	return NewGuard(store, testLogger(), Config{DefaultBufferMinutes: 10, WeeklyCancelCap: 2},
		WithClock(func() time.Time { return *now }))
}

func bookAt(g *Guard, date time.Time, hm, staffID, phone string) Result {
	return g.Book(context.Background(), BookRequest{
		BusinessID:  "b1",
		ClientName:  "Maria",
		ClientPhone: phone,
		ServiceID:   "cut",
		StaffID:     staffID,
		Date:        date,
		Time:        hm,
	})
}

func TestBookAssignsFirstFreeStaffThenRejects(t *testing.T) {
	store := newMemStore()
	store.staff = []model.Staff{{ID: "ana", IsActive: true}, {ID: "bruno", IsActive: true}}
	now := monday.Add(8 * time.Hour)
	g := newTestGuard(store, &now)

	first := bookAt(g, tuesday, "10:00", "", "+15550000001")
	if !first.Success || first.StaffID != "ana" {
		t.Fatalf("expected ana to be assigned, got %+v", first)
	}
	second := bookAt(g, tuesday, "10:00", "", "+15550000002")
	if !second.Success || second.StaffID != "bruno" {
		t.Fatalf("expected bruno to be assigned, got %+v", second)
	}
	third := bookAt(g, tuesday, "10:00", "", "+15550000003")
	if third.Success || third.Reason != ReasonSlotTaken {
		t.Fatalf("expected slot_taken, got %+v", third)
	}
	if third.State() != AttemptRejected {
		t.Fatalf("expected rejected attempt, got %s", third.State())
	}
	if first.Appointment.BusyUntil != tuesday.Add(10*time.Hour+40*time.Minute) {
		t.Fatalf("expected busy until 10:40, got %v", first.Appointment.BusyUntil)
	}
}

func TestBookRejectsBlockedPhoneFromCache(t *testing.T) {
	store := newMemStore()
	store.phones = []string{"+55 (11) 9999-0000"}
	now := monday.Add(8 * time.Hour)
	g := newTestGuard(store, &now)

	for i := 0; i < 2; i++ {
		res := bookAt(g, tuesday, "10:00", "", "+5511 99990000")
		if res.Success || res.Reason != ReasonPhoneBlocked {
			t.Fatalf("expected phone_blocked, got %+v", res)
		}
	}
	if store.confirmedCount() != 0 {
		t.Fatal("blocked phone must not create appointments")
	}
	if store.phoneLookups != 1 {
		t.Fatalf("expected blocklist to be cached, got %d lookups", store.phoneLookups)
	}

	g.Blocklist().Invalidate("b1")
	store.phones = nil
	if res := bookAt(g, tuesday, "10:00", "", "+5511 99990000"); !res.Success {
		t.Fatalf("expected booking after unblocking, got %+v", res)
	}
}

func TestBookRejections(t *testing.T) {
	cases := []struct {
		name  string
		date  time.Time
		hm    string
		phone string
		svc   string
		staff string
		want  Reason
	}{
		{"malformed phone", tuesday, "10:00", "call me", "cut", "", ReasonInvalidRequest},
		{"malformed time", tuesday, "9:00", "+15550000001", "cut", "", ReasonInvalidRequest},
		{"unknown service", tuesday, "10:00", "+15550000001", "massage", "", ReasonInvalidRequest},
		{"unknown staff", tuesday, "10:00", "+15550000001", "cut", "zed", ReasonInvalidRequest},
		{"closed day", sunday, "10:00", "+15550000001", "cut", "", ReasonClosed},
		{"runs past closing", tuesday, "17:45", "+15550000001", "cut", "", ReasonOutsideHours},
		{"before opening", tuesday, "08:30", "+15550000001", "cut", "", ReasonOutsideHours},
		{"during break", tuesday, "13:00", "+15550000001", "cut", "", ReasonSlotTaken},
		{"already passed", monday, "09:30", "+15550000001", "cut", "", ReasonOutsideHours},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newMemStore()
			now := monday.Add(10 * time.Hour)
			g := newTestGuard(store, &now)
			res := g.Book(context.Background(), BookRequest{
				BusinessID:  "b1",
				ClientName:  "Maria",
				ClientPhone: tc.phone,
				ServiceID:   tc.svc,
				StaffID:     tc.staff,
				Date:        tc.date,
				Time:        tc.hm,
			})
			if res.Success || res.Reason != tc.want {
				t.Fatalf("expected %s, got %+v", tc.want, res)
			}
			if store.confirmedCount() != 0 {
				t.Fatal("rejected booking must not persist anything")
			}
		})
	}
}

func TestConcurrentOverlappingBookingsHaveOneWinner(t *testing.T) {
	store := newMemStore()
	now := monday.Add(8 * time.Hour)
	g := newTestGuard(store, &now)

	times := []string{"10:00", "10:15", "10:30"}
	var wg sync.WaitGroup
	results := make([]Result, 30)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = bookAt(g, tuesday, times[i%len(times)], "", fmt.Sprintf("+1555%07d", i))
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, r := range results {
		switch {
		case r.Success:
			winners++
		case r.Reason != ReasonSlotTaken:
			t.Fatalf("unexpected rejection: %+v", r)
		}
	}
	if winners != 1 || store.confirmedCount() != 1 {
		t.Fatalf("expected exactly one winner, got %d (stored %d)", winners, store.confirmedCount())
	}
}

func TestBookReplaysIdempotencyKey(t *testing.T) {
	store := newMemStore()
	now := monday.Add(8 * time.Hour)
	g := newTestGuard(store, &now)

	req := BookRequest{
		BusinessID:     "b1",
		ClientName:     "Maria",
		ClientPhone:    "+15550000001",
		ServiceID:      "cut",
		Date:           tuesday,
		Time:           "11:00",
		IdempotencyKey: "key-1",
	}
	first := g.Book(context.Background(), req)
	second := g.Book(context.Background(), req)
	if !first.Success || !second.Success || !second.Replayed || first.ID != second.ID {
		t.Fatalf("expected replay of %+v, got %+v", first, second)
	}
	if store.confirmedCount() != 1 {
		t.Fatalf("expected one appointment, got %d", store.confirmedCount())
	}
}

func TestBookStorageFailureIsStructured(t *testing.T) {
	store := newMemStore()
	store.failCommit = errors.New("connection reset")
	now := monday.Add(8 * time.Hour)
	g := newTestGuard(store, &now)

	res := bookAt(g, tuesday, "10:00", "", "+15550000001")
	if res.Success || res.Reason != ReasonStorageError || res.Err == nil {
		t.Fatalf("expected storage_error, got %+v", res)
	}
}

func TestClientCancelWeeklyCap(t *testing.T) {
	store := newMemStore()
	now := monday.Add(8 * time.Hour)
	g := newTestGuard(store, &now)
	phone := "+15550000001"

	var ids []string
	for _, day := range []time.Time{tuesday, wednesday, thursday, monday.AddDate(0, 0, 11)} {
		res := bookAt(g, day, "10:00", "", phone)
		if !res.Success {
			t.Fatalf("setup booking failed: %+v", res)
		}
		ids = append(ids, res.ID)
	}

	for _, id := range ids[:2] {
		if res := g.CancelByClient(context.Background(), "b1", id, phone); !res.Success {
			t.Fatalf("expected cancel to succeed, got %+v", res)
		}
	}
	res := g.CancelByClient(context.Background(), "b1", ids[2], phone)
	if res.Success || res.Reason != ReasonCancelLimit {
		t.Fatalf("expected cancel_limit, got %+v", res)
	}
	if appt, _ := store.GetAppointment(context.Background(), "b1", ids[2]); appt.Status != model.StatusConfirmed {
		t.Fatalf("capped cancellation must leave appointment confirmed, got %s", appt.Status)
	}

	if res := g.CancelByAdmin(context.Background(), "b1", ids[2]); !res.Success {
		t.Fatalf("admin cancel is not capped, got %+v", res)
	}

	now = monday.AddDate(0, 0, 7).Add(8 * time.Hour)
	if res := g.CancelByClient(context.Background(), "b1", ids[3], phone); !res.Success {
		t.Fatalf("expected cap to reset next week, got %+v", res)
	}
}

func TestClientCancelChecksOwnershipAndState(t *testing.T) {
	store := newMemStore()
	now := monday.Add(8 * time.Hour)
	g := newTestGuard(store, &now)

	booked := bookAt(g, tuesday, "10:00", "", "+15550000001")
	if res := g.CancelByClient(context.Background(), "b1", booked.ID, "+15550000009"); res.Reason != ReasonNotFound {
		t.Fatalf("expected not_found for a foreign phone, got %+v", res)
	}
	if res := g.Complete(context.Background(), "b1", booked.ID); !res.Success {
		t.Fatalf("expected complete, got %+v", res)
	}
	if res := g.CancelByClient(context.Background(), "b1", booked.ID, "+15550000001"); res.Reason != ReasonNotActive {
		t.Fatalf("expected not_active, got %+v", res)
	}
	if res := g.CancelByAdmin(context.Background(), "b1", booked.ID); res.Reason != ReasonNotActive {
		t.Fatalf("expected not_active for completed appointment, got %+v", res)
	}
}

func TestAdminCancelIsIdempotent(t *testing.T) {
	store := newMemStore()
	now := monday.Add(8 * time.Hour)
	g := newTestGuard(store, &now)

	booked := bookAt(g, tuesday, "10:00", "", "+15550000001")
	for i := 0; i < 2; i++ {
		if res := g.CancelByAdmin(context.Background(), "b1", booked.ID); !res.Success {
			t.Fatalf("attempt %d: expected success, got %+v", i, res)
		}
	}
	if len(store.cancellations) != 0 {
		t.Fatal("admin cancellations must not count against the client")
	}
}

func TestRescheduleKeepsStaffAndIgnoresOwnSlot(t *testing.T) {
	store := newMemStore()
	store.staff = []model.Staff{{ID: "ana", IsActive: true}, {ID: "bruno", IsActive: true}}
	now := monday.Add(8 * time.Hour)
	g := newTestGuard(store, &now)

	moving := bookAt(g, tuesday, "10:00", "ana", "+15550000001")
	bookAt(g, tuesday, "11:00", "ana", "+15550000002")

	res := g.Reschedule(context.Background(), RescheduleRequest{
		BusinessID:    "b1",
		AppointmentID: moving.ID,
		ClientPhone:   "+15550000001",
		Date:          tuesday,
		Time:          "10:15",
	})
	if !res.Success || res.StaffID != "ana" || res.Appointment.StartAt != tuesday.Add(10*time.Hour+15*time.Minute) {
		t.Fatalf("expected move to 10:15 with ana, got %+v", res)
	}

	res = g.Reschedule(context.Background(), RescheduleRequest{
		BusinessID:    "b1",
		AppointmentID: moving.ID,
		ClientPhone:   "+15550000001",
		Date:          tuesday,
		Time:          "10:45",
	})
	if res.Success || res.Reason != ReasonSlotTaken {
		t.Fatalf("expected slot_taken next to the 11:00 booking, got %+v", res)
	}
}

func TestActiveAppointmentLookup(t *testing.T) {
	store := newMemStore()
	now := monday.Add(8 * time.Hour)
	g := newTestGuard(store, &now)

	if _, found, err := g.ActiveAppointment(context.Background(), "b1", "+15550000001"); err != nil || found {
		t.Fatalf("expected nothing, got found=%v err=%v", found, err)
	}
	booked := bookAt(g, tuesday, "10:00", "", "+1 555 000 0001")
	appt, found, err := g.ActiveAppointment(context.Background(), "b1", "+15550000001")
	if err != nil || !found || appt.ID != booked.ID {
		t.Fatalf("expected %s, got %+v found=%v err=%v", booked.ID, appt, found, err)
	}

	now = tuesday.Add(11 * time.Hour)
	if _, found, _ := g.ActiveAppointment(context.Background(), "b1", "+15550000001"); found {
		t.Fatal("a finished appointment is not active")
	}
}

func TestSlotsUseProfileBufferAndBreak(t *testing.T) {
	store := newMemStore()
	store.profile = &model.BusinessProfile{BusinessID: "b1", Timezone: "UTC", BufferMinutes: 0}
	now := monday.Add(8 * time.Hour)
	g := newTestGuard(store, &now)

	bookAt(g, tuesday, "10:00", "", "+15550000001")
	s, err := g.Slots(context.Background(), SlotQuery{BusinessID: "b1", ServiceID: "cut", Date: tuesday})
	if err != nil {
		t.Fatalf("Slots failed: %v", err)
	}
	if s.Availability.IsFree("10:00", model.GenericResourceID) {
		t.Fatal("10:00 is booked")
	}
	if !s.Availability.IsFree("10:30", model.GenericResourceID) {
		t.Fatal("with no buffer 10:30 must be free")
	}
	for _, hm := range []string{"12:45", "13:00", "13:30"} {
		if s.Availability.IsFree(hm, model.GenericResourceID) {
			t.Fatalf("%s overlaps the lunch break", hm)
		}
	}
	if !s.Availability.IsFree("14:00", model.GenericResourceID) {
		t.Fatal("14:00 follows the break and must be free")
	}

	closed, err := g.Slots(context.Background(), SlotQuery{BusinessID: "b1", ServiceID: "cut", Date: sunday})
	if err != nil || !closed.Closed {
		t.Fatalf("expected closed sunday, got %+v err=%v", closed, err)
	}

	if _, err := g.Slots(context.Background(), SlotQuery{BusinessID: "b1", ServiceID: "cut", StaffID: "zed", Date: tuesday}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown staff, got %v", err)
	}
}

func TestSlotsTreatMisconfiguredHoursAsClosed(t *testing.T) {
	store := newMemStore()
	store.week["monday"] = model.DaySchedule{Open: true, Start: "18:00", End: "09:00"}
	now := monday.AddDate(0, 0, -1)
	g := newTestGuard(store, &now)

	s, err := g.Slots(context.Background(), SlotQuery{BusinessID: "b1", ServiceID: "cut", Date: monday})
	if err != nil || !s.Closed {
		t.Fatalf("expected closed, got %+v err=%v", s, err)
	}
}

func TestJoinWaitingList(t *testing.T) {
	store := newMemStore()
	now := monday.Add(8 * time.Hour)
	g := newTestGuard(store, &now)

	entry, err := g.JoinWaitingList(context.Background(), WaitlistRequest{
		BusinessID:  "b1",
		ClientName:  " Maria ",
		ClientPhone: "+1 (555) 000-0001",
		ServiceID:   "cut",
		Date:        tuesday.Add(15 * time.Hour),
	})
	if err != nil {
		t.Fatalf("JoinWaitingList failed: %v", err)
	}
	if entry.ClientName != "Maria" || entry.ClientPhone != "+15550000001" || !entry.Date.Equal(tuesday) {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if _, err := g.JoinWaitingList(context.Background(), WaitlistRequest{BusinessID: "b1", ClientName: "x", ClientPhone: "+15550000001", ServiceID: "nope", Date: tuesday}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestBookRequestedStaffMustBeFree(t *testing.T) {
	store := newMemStore()
	store.staff = []model.Staff{{ID: "ana", IsActive: true}, {ID: "bruno", IsActive: true}}
	now := monday.Add(8 * time.Hour)
	g := newTestGuard(store, &now)

	if res := bookAt(g, tuesday, "10:00", "", "+15550000001"); !res.Success || res.StaffID != "ana" {
		t.Fatalf("expected ana, got %+v", res)
	}
	if res := bookAt(g, tuesday, "10:00", "ana", "+15550000002"); res.Success || res.Reason != ReasonSlotTaken {
		t.Fatalf("expected slot_taken for busy ana, got %+v", res)
	}
	if res := bookAt(g, tuesday, "10:00", "bruno", "+15550000003"); !res.Success || res.StaffID != "bruno" {
		t.Fatalf("expected bruno to take 10:00, got %+v", res)
	}
}

func TestPastDatesAreFlaggedAndNotQueued(t *testing.T) {
	store := newMemStore()
	now := monday.Add(8 * time.Hour)
	g := newTestGuard(store, &now)
	yesterday := monday.AddDate(0, 0, -1)

	s, err := g.Slots(context.Background(), SlotQuery{BusinessID: "b1", ServiceID: "cut", Date: yesterday})
	if err != nil {
		t.Fatalf("Slots failed: %v", err)
	}
	if !s.Past {
		t.Fatal("expected yesterday to be flagged as past")
	}
	if s, _ := g.Slots(context.Background(), SlotQuery{BusinessID: "b1", ServiceID: "cut", Date: monday}); s.Past {
		t.Fatal("today must not be flagged as past")
	}

	_, err = g.JoinWaitingList(context.Background(), WaitlistRequest{
		BusinessID: "b1", ClientName: "Maria", ClientPhone: "+15550000001", ServiceID: "cut", Date: yesterday,
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for a past date, got %v", err)
	}
	if _, err := g.JoinWaitingList(context.Background(), WaitlistRequest{
		BusinessID: "b1", ClientName: "Maria", ClientPhone: "+15550000001", ServiceID: "cut", Date: monday,
	}); err != nil {
		t.Fatalf("today must be accepted, got %v", err)
	}
}
