package model

import (
	"time"
)

type AppointmentStatus string

const (
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
)

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusConfirmed, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// GenericResourceID stands in for the single implicit resource of a tenant with no staff.
const GenericResourceID = "generic"

// Appointment times are naive tenant-local wall clock values: Date is midnight of the
// calendar day and StartAt/EndAt sit on that day in the same location. BusyUntil is
// EndAt plus the buffer in force when the appointment was committed.
type Appointment struct {
	ID          string
	BusinessID  string
	ClientName  string
	ClientPhone string
	ServiceID   string
	StaffID     string
	Date        time.Time
	StartAt     time.Time
	EndAt       time.Time
	BusyUntil   time.Time
	Status      AppointmentStatus
	CancelledAt *time.Time
	CreatedAt   time.Time
}

// EffectiveStatus reports completed for a confirmed appointment whose end has passed,
// even before the sweeper persists it.
func (a Appointment) EffectiveStatus(now time.Time) AppointmentStatus {
	if a.Status == StatusConfirmed && !now.Before(a.EndAt) {
		return StatusCompleted
	}
	return a.Status
}

// Active reports whether the appointment still holds its slot at now.
func (a Appointment) Active(now time.Time) bool {
	return a.EffectiveStatus(now) == StatusConfirmed
}

// HasResource is false for appointments not pinned to a concrete staff member.
func (a Appointment) HasResource() bool {
	return a.StaffID != "" && a.StaffID != GenericResourceID
}

type Cancellation struct {
	AppointmentID string
	ClientPhone   string
	CancelledAt   time.Time
}
