package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slotbook/libs/httpx"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/flow"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
)

// statusFor maps a rejection reason onto an HTTP status.
func statusFor(reason booking.Reason) int {
	switch reason {
	case booking.ReasonInvalidRequest:
		return http.StatusBadRequest
	case booking.ReasonPhoneBlocked:
		return http.StatusForbidden
	case booking.ReasonNotFound:
		return http.StatusNotFound
	case booking.ReasonSlotTaken, booking.ReasonNotActive, flow.ReasonInvalidAction, flow.ReasonStepInProgress:
		return http.StatusConflict
	case booking.ReasonClosed, booking.ReasonOutsideHours, flow.ReasonCodeMismatch, flow.ReasonCodeExpired:
		return http.StatusUnprocessableEntity
	case booking.ReasonCancelLimit, flow.ReasonCodeExhausted:
		return http.StatusTooManyRequests
	case booking.ReasonStorageError, flow.ReasonCodeDelivery:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeRejection(w http.ResponseWriter, res booking.Result) {
	httpx.WriteError(w, statusFor(res.Reason), string(res.Reason), res.Message)
}

// writeStoreError answers a failed catalog call.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, string(booking.ReasonNotFound), "not found")
	case errors.Is(err, booking.ErrInvalidRequest):
		httpx.WriteError(w, http.StatusBadRequest, string(booking.ReasonInvalidRequest), err.Error())
	default:
		httpx.WriteError(w, http.StatusServiceUnavailable, string(booking.ReasonStorageError), "temporarily unavailable, try again")
	}
}

func badRequest(w http.ResponseWriter, message string) {
	httpx.WriteError(w, http.StatusBadRequest, string(booking.ReasonInvalidRequest), message)
}

func allowMethods(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

func parseDate(raw string) (time.Time, bool) {
	d, err := clock.ParseDate(strings.TrimSpace(raw), time.UTC)
	return d, err == nil
}

type appointmentItem struct {
	ID          string `json:"id"`
	ClientName  string `json:"client_name"`
	ClientPhone string `json:"client_phone"`
	ServiceID   string `json:"service_id"`
	StaffID     string `json:"staff_id,omitempty"`
	Date        string `json:"date"`
	Start       string `json:"start"`
	End         string `json:"end"`
	Status      string `json:"status"`
	CancelledAt string `json:"cancelled_at,omitempty"`
}

// toAppointmentItem reports the effective status: a confirmed appointment whose end has
// passed shows as completed even before the sweeper persists it.
func toAppointmentItem(a model.Appointment, now time.Time) appointmentItem {
	item := appointmentItem{
		ID:          a.ID,
		ClientName:  a.ClientName,
		ClientPhone: a.ClientPhone,
		ServiceID:   a.ServiceID,
		StaffID:     a.StaffID,
		Date:        clock.FormatDate(a.Date),
		Start:       clock.FormatHM(a.StartAt),
		End:         clock.FormatHM(a.EndAt),
		Status:      string(a.EffectiveStatus(now)),
	}
	if a.CancelledAt != nil {
		item.CancelledAt = a.CancelledAt.UTC().Format(time.RFC3339)
	}
	return item
}
