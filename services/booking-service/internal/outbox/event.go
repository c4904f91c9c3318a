package outbox

import (
	"encoding/json"
	"time"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
)

// Event is written to outbox_events in the transaction that changes the appointment.
// The Kafka topic equals EventType.
type Event struct {
	BusinessID    string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

const (
	EventAppointmentBooked      = "booking.appointment.booked.v1"
	EventAppointmentRescheduled = "booking.appointment.rescheduled.v1"
	EventAppointmentCancelled   = "booking.appointment.cancelled.v1"
	EventAppointmentCompleted   = "booking.appointment.completed.v1"
)

// Topics lists every topic the relay publishes to.
func Topics() []string {
	return []string{EventAppointmentBooked, EventAppointmentRescheduled, EventAppointmentCancelled, EventAppointmentCompleted}
}

type appointmentPayload struct {
	AppointmentID string `json:"appointment_id"`
	BusinessID    string `json:"business_id"`
	ServiceID     string `json:"service_id"`
	StaffID       string `json:"staff_id,omitempty"`
	ClientName    string `json:"client_name"`
	ClientPhone   string `json:"client_phone"`
	Date          string `json:"date"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Status        string `json:"status"`
	CancelledAt   string `json:"cancelled_at,omitempty"`
}

// AppointmentEvent builds the envelope for an appointment change. Times of day are the
// tenant's local wall clock.
func AppointmentEvent(eventType string, appt model.Appointment) (Event, error) {
	p := appointmentPayload{
		AppointmentID: appt.ID,
		BusinessID:    appt.BusinessID,
		ServiceID:     appt.ServiceID,
		StaffID:       appt.StaffID,
		ClientName:    appt.ClientName,
		ClientPhone:   appt.ClientPhone,
		Date:          clock.FormatDate(appt.Date),
		StartTime:     clock.FormatHM(appt.StartAt),
		EndTime:       clock.FormatHM(appt.EndAt),
		Status:        string(appt.Status),
	}
	if appt.CancelledAt != nil {
		p.CancelledAt = appt.CancelledAt.UTC().Format(time.RFC3339)
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return Event{}, err
	}
	return Event{
		BusinessID:    appt.BusinessID,
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       payload,
	}, nil
}
