package booking

import (
	"context"
	"errors"
	"time"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrSlotTaken = errors.New("slot already taken")
	ErrNotActive = errors.New("appointment is no longer confirmed")
)

// Store is the storage collaborator of the guard. Appointment dates and times are naive
// tenant wall clock values carried in UTC; cancellation timestamps are real instants.
type Store interface {
	GetProfile(ctx context.Context, businessID string) (model.BusinessProfile, error)
	GetService(ctx context.Context, businessID, serviceID string) (model.Service, error)
	ListActiveStaff(ctx context.Context, businessID string) ([]model.Staff, error)
	GetDaySchedule(ctx context.Context, businessID string, date time.Time) (model.DaySchedule, error)
	ListBlockedIntervals(ctx context.Context, businessID string, date time.Time) ([]model.BlockedInterval, error)
	ListBlockedPhones(ctx context.Context, businessID string) ([]string, error)

	// ListAppointments returns the tenant's appointments on date; an empty status means all.
	ListAppointments(ctx context.Context, businessID string, date time.Time, status model.AppointmentStatus) ([]model.Appointment, error)
	GetAppointment(ctx context.Context, businessID, appointmentID string) (model.Appointment, error)
	// FindActiveAppointment returns the earliest confirmed appointment of phone ending after now.
	FindActiveAppointment(ctx context.Context, businessID, phone string, now time.Time) (model.Appointment, error)
	// FindByIdempotencyKey returns the appointment an earlier commit stored under key.
	FindByIdempotencyKey(ctx context.Context, businessID, key string) (model.Appointment, error)

	// CommitAppointment atomically re-checks the busy span against confirmed appointments and
	// blocked intervals of the same day and inserts the appointment. It returns ErrSlotTaken
	// when the span is no longer free.
	CommitAppointment(ctx context.Context, req CommitRequest) (Committed, error)
	// UpdateAppointmentTime moves a confirmed appointment under the same guarantee as CommitAppointment,
	// ignoring the appointment's own current span.
	UpdateAppointmentTime(ctx context.Context, businessID, appointmentID string, slot Slot) (model.Appointment, error)
	// SetAppointmentStatus moves a confirmed appointment to cancelled or completed. Client initiated
	// cancellations are written to the cancellation log in the same transaction.
	SetAppointmentStatus(ctx context.Context, change StatusChange) (model.Appointment, error)
	ListCancellations(ctx context.Context, businessID, phone string, since time.Time) ([]model.Cancellation, error)

	AddWaitingListEntry(ctx context.Context, entry model.WaitingListEntry) (model.WaitingListEntry, error)
}

// Slot is a resolved placement of a service on one resource.
type Slot struct {
	StaffID   string
	Date      time.Time
	StartAt   time.Time
	EndAt     time.Time
	BusyUntil time.Time
}

type CommitRequest struct {
	Appointment    model.Appointment
	IdempotencyKey string
}

// Committed is the stored appointment. Replayed is set when IdempotencyKey matched an earlier commit.
type Committed struct {
	Appointment model.Appointment
	Replayed    bool
}

type StatusChange struct {
	BusinessID      string
	AppointmentID   string
	Status          model.AppointmentStatus
	At              time.Time
	ClientInitiated bool
}
