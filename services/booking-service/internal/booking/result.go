package booking

import "github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"

// Reason classifies a rejected guard operation.
type Reason string

const (
	ReasonInvalidRequest Reason = "invalid_request"
	ReasonPhoneBlocked   Reason = "phone_blocked"
	ReasonClosed         Reason = "closed"
	ReasonOutsideHours   Reason = "outside_hours"
	ReasonSlotTaken      Reason = "slot_taken"
	ReasonNotFound       Reason = "not_found"
	ReasonNotActive      Reason = "not_active"
	ReasonCancelLimit    Reason = "cancel_limit"
	ReasonStorageError   Reason = "storage_error"
)

// AttemptState tracks one booking attempt: idle, then pending-commit, then confirmed or rejected.
type AttemptState string

const (
	AttemptIdle      AttemptState = "idle"
	AttemptPending   AttemptState = "pending_commit"
	AttemptConfirmed AttemptState = "confirmed"
	AttemptRejected  AttemptState = "rejected"
)

// Result is the outcome of every guard mutation. A result without Success means nothing
// was persisted.
type Result struct {
	Success     bool
	ID          string
	StaffID     string
	Appointment model.Appointment
	Replayed    bool
	Reason      Reason
	Message     string
	Err         error
}

func (r Result) State() AttemptState {
	if r.Success {
		return AttemptConfirmed
	}
	return AttemptRejected
}

func ok(appt model.Appointment) Result {
	return Result{Success: true, ID: appt.ID, StaffID: appt.StaffID, Appointment: appt}
}

func reject(reason Reason, message string) Result {
	return Result{Reason: reason, Message: message}
}

func failed(err error) Result {
	return Result{Reason: ReasonStorageError, Message: "temporarily unavailable, try again", Err: err}
}
