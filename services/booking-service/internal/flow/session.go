package flow

import (
	"time"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/otp"
)

type State string

const (
	StateEnterIdentity  State = "enter_identity"
	StateVerifyCode     State = "verify_code"
	StateManageExisting State = "manage_existing"
	StateChooseService  State = "choose_service"
	StateChooseResource State = "choose_resource"
	StateChooseDate     State = "choose_date"
	StateChooseTime     State = "choose_time"
	StateConfirmSummary State = "confirm_summary"
	StateSuccess        State = "success"
)

type Outcome string

const (
	OutcomeBooked      Outcome = "booked"
	OutcomeRescheduled Outcome = "rescheduled"
	OutcomeCancelled   Outcome = "cancelled"
)

// Session is one client's walk through the booking flow. It is persisted between steps;
// nothing in it reaches the appointment calendar until the confirm step commits.
type Session struct {
	ID         string  `json:"id"`
	BusinessID string  `json:"business_id"`
	State      State   `json:"state"`
	History    []State `json:"history,omitempty"`

	ClientName  string         `json:"client_name,omitempty"`
	ClientPhone string         `json:"client_phone,omitempty"`
	Challenge   *otp.Challenge `json:"challenge,omitempty"`
	Verified    bool           `json:"verified"`

	// ExistingID is the phone's active appointment found at identity entry.
	ExistingID   string `json:"existing_id,omitempty"`
	Rescheduling bool   `json:"rescheduling,omitempty"`

	ServiceID  string `json:"service_id,omitempty"`
	StaffID    string `json:"staff_id,omitempty"`
	Date       string `json:"date,omitempty"`
	Time       string `json:"time,omitempty"`
	Waitlisted bool   `json:"waitlisted,omitempty"`

	Attempt       booking.AttemptState `json:"attempt"`
	Commits       int                  `json:"commits"`
	AppointmentID string               `json:"appointment_id,omitempty"`
	Outcome       Outcome              `json:"outcome,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newSession(id, businessID string, now time.Time) Session {
	return Session{
		ID:         id,
		BusinessID: businessID,
		State:      StateEnterIdentity,
		Attempt:    booking.AttemptIdle,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// advance moves forward to next, remembering the current state for Back.
func (s *Session) advance(next State) {
	s.History = append(s.History, s.State)
	s.State = next
}

// rewindTo pops history until target is current. It reports false when target was never visited.
func (s *Session) rewindTo(target State) bool {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i] == target {
			s.History = s.History[:i]
			s.State = target
			return true
		}
	}
	return false
}

// reset starts over from identity entry, keeping only the session identity.
func (s *Session) reset(now time.Time) {
	*s = Session{
		ID:         s.ID,
		BusinessID: s.BusinessID,
		State:      StateEnterIdentity,
		Attempt:    booking.AttemptIdle,
		Commits:    s.Commits,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  now,
	}
}

// ActionType names what the client did on the current screen.
type ActionType string

const (
	ActionSubmitIdentity ActionType = "submit_identity"
	ActionVerifyCode     ActionType = "verify_code"
	ActionReschedule     ActionType = "reschedule"
	ActionCancel         ActionType = "cancel"
	ActionChooseService  ActionType = "choose_service"
	ActionChooseResource ActionType = "choose_resource"
	ActionChooseDate     ActionType = "choose_date"
	ActionChooseTime     ActionType = "choose_time"
	ActionJoinWaitlist   ActionType = "join_waitlist"
	ActionConfirm        ActionType = "confirm"
	ActionBack           ActionType = "back"
	ActionRestart        ActionType = "restart"
)

type Action struct {
	Type      ActionType `json:"type"`
	Name      string     `json:"name,omitempty"`
	Phone     string     `json:"phone,omitempty"`
	Code      string     `json:"code,omitempty"`
	ServiceID string     `json:"service_id,omitempty"`
	StaffID   string     `json:"staff_id,omitempty"`
	Date      string     `json:"date,omitempty"`
	Time      string     `json:"time,omitempty"`
}

// allowed lists the forward actions of each state. Back and restart are handled separately.
var allowed = map[State][]ActionType{
	StateEnterIdentity:  {ActionSubmitIdentity},
	StateVerifyCode:     {ActionVerifyCode},
	StateManageExisting: {ActionReschedule, ActionCancel},
	StateChooseService:  {ActionChooseService},
	StateChooseResource: {ActionChooseResource},
	StateChooseDate:     {ActionChooseDate},
	StateChooseTime:     {ActionChooseTime, ActionJoinWaitlist},
	StateConfirmSummary: {ActionConfirm},
}

func (s State) accepts(a ActionType) bool {
	for _, t := range allowed[s] {
		if t == a {
			return true
		}
	}
	return false
}
