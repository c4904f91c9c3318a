package flow

import (
	"errors"
	"fmt"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/booking"
)

var ErrSessionNotFound = errors.New("flow session not found")

// Flow specific rejection reasons; the guard's reasons are passed through unchanged.
const (
	ReasonInvalidAction  booking.Reason = "invalid_action"
	ReasonCodeMismatch   booking.Reason = "code_mismatch"
	ReasonCodeExpired    booking.Reason = "code_expired"
	ReasonCodeExhausted  booking.Reason = "code_attempts_exhausted"
	ReasonCodeDelivery   booking.Reason = "code_delivery_failed"
	ReasonStepInProgress booking.Reason = "step_in_progress"
)

// StepError is a rejected step. The session stays usable: it is either unchanged or moved
// to the state the client has to redo.
type StepError struct {
	Reason  booking.Reason `json:"error"`
	Message string         `json:"message"`
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func stepError(reason booking.Reason, format string, args ...any) *StepError {
	return &StepError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// AsStepError unwraps err into a *StepError.
func AsStepError(err error) (*StepError, bool) {
	var se *StepError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
