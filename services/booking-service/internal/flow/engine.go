package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/deeplink"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/otp"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/sms"
)

// Catalog is the read side the flow renders its choices from.
type Catalog interface {
	ListServices(ctx context.Context, businessID string) ([]model.Service, error)
	ListActiveStaff(ctx context.Context, businessID string) ([]model.Staff, error)
	GetAppointment(ctx context.Context, businessID, appointmentID string) (model.Appointment, error)
}

type Config struct {
	SessionTTL time.Duration
	LockTTL    time.Duration
}

// Engine drives booking flow sessions. Each Step runs under the session lock, so one
// session never has two steps (and therefore two commits) in flight.
type Engine struct {
	guard    *booking.Guard
	catalog  Catalog
	sessions SessionStore
	issuer   *otp.Issuer
	sender   sms.Sender
	logger   *slog.Logger
	metrics  *metrics.Metrics
	cfg      Config
	now      func() time.Time
}

type Deps struct {
	Guard    *booking.Guard
	Catalog  Catalog
	Sessions SessionStore
	Issuer   *otp.Issuer
	Sender   sms.Sender
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

func NewEngine(deps Deps, cfg Config) *Engine {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 15 * time.Second
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Engine{
		guard:    deps.Guard,
		catalog:  deps.Catalog,
		sessions: deps.Sessions,
		issuer:   deps.Issuer,
		sender:   deps.Sender,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		cfg:      cfg,
		now:      deps.Now,
	}
}

// View is what the client sees after a step: the current state and its choices.
type View struct {
	SessionID        string               `json:"session_id"`
	State            State                `json:"state"`
	CanGoBack        bool                 `json:"can_go_back"`
	ClientName       string               `json:"client_name,omitempty"`
	CodeAttemptsLeft int                  `json:"code_attempts_left,omitempty"`
	Rescheduling     bool                 `json:"rescheduling,omitempty"`
	Existing         *AppointmentView     `json:"existing,omitempty"`
	Services         []ServiceOption      `json:"services,omitempty"`
	Staff            []StaffOption        `json:"staff,omitempty"`
	Date             string               `json:"date,omitempty"`
	Times            []string             `json:"times,omitempty"`
	WaitlistOffered  bool                 `json:"waitlist_offered,omitempty"`
	Waitlisted       bool                 `json:"waitlisted,omitempty"`
	Summary          *AppointmentView     `json:"summary,omitempty"`
	Attempt          booking.AttemptState `json:"attempt"`
	Outcome          Outcome              `json:"outcome,omitempty"`
	AppointmentID    string               `json:"appointment_id,omitempty"`
	DeepLink         string               `json:"deep_link,omitempty"`
	Error            *StepError           `json:"rejection,omitempty"`
}

type ServiceOption struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Price           decimal.Decimal `json:"price"`
	DurationMinutes int             `json:"duration_minutes"`
}

type StaffOption struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

type AppointmentView struct {
	ID          string          `json:"id,omitempty"`
	ServiceID   string          `json:"service_id"`
	ServiceName string          `json:"service_name,omitempty"`
	Price       decimal.Decimal `json:"price"`
	StaffID     string          `json:"staff_id,omitempty"`
	StaffName   string          `json:"staff_name,omitempty"`
	Date        string          `json:"date"`
	Start       string          `json:"start"`
	End         string          `json:"end,omitempty"`
}

func (e *Engine) Start(ctx context.Context, businessID string) (View, error) {
	businessID = strings.TrimSpace(businessID)
	if businessID == "" {
		return View{}, stepError(booking.ReasonInvalidRequest, "business_id is required")
	}
	s := newSession(uuid.NewString(), businessID, e.now().UTC())
	if err := e.sessions.Save(ctx, s, e.cfg.SessionTTL); err != nil {
		return View{}, fmt.Errorf("save session: %w", err)
	}
	e.metrics.ObserveTransition(string(s.State))
	return e.render(ctx, s)
}

func (e *Engine) Get(ctx context.Context, sessionID string) (View, error) {
	s, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return View{}, err
	}
	return e.render(ctx, s)
}

// Step applies one client action. A *StepError comes back together with the rendered
// view of the state the session ended up in; any other error leaves the session untouched.
func (e *Engine) Step(ctx context.Context, sessionID string, a Action) (View, error) {
	unlock, acquired, err := e.sessions.Lock(ctx, sessionID, e.cfg.LockTTL)
	if err != nil {
		return View{}, fmt.Errorf("lock session: %w", err)
	}
	if !acquired {
		return View{}, stepError(ReasonStepInProgress, "a previous step of this session is still running")
	}
	defer unlock()

	s, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return View{}, err
	}
	before := s.State
	applyErr := e.apply(ctx, &s, a)
	rejection, rejected := AsStepError(applyErr)
	if applyErr != nil && !rejected {
		return View{}, applyErr
	}

	s.UpdatedAt = e.now().UTC()
	if err := e.sessions.Save(ctx, s, e.cfg.SessionTTL); err != nil {
		return View{}, fmt.Errorf("save session: %w", err)
	}
	if s.State != before {
		e.metrics.ObserveTransition(string(s.State))
	}
	e.logger.Debug("flow step", "session_id", s.ID, "business_id", s.BusinessID, "action", a.Type, "from", before, "to", s.State)

	v, err := e.render(ctx, s)
	if err != nil {
		return View{}, err
	}
	if rejected {
		v.Error = rejection
		return v, rejection
	}
	return v, nil
}

func (e *Engine) apply(ctx context.Context, s *Session, a Action) error {
	switch {
	case a.Type == ActionRestart:
		s.reset(e.now().UTC())
		return nil
	case a.Type == ActionBack:
		return e.back(s)
	case s.State == StateSuccess:
		return stepError(ReasonInvalidAction, "this booking is finished; restart to make another")
	case !s.State.accepts(a.Type):
		return stepError(ReasonInvalidAction, "%q is not possible at %s", a.Type, s.State)
	}

	switch a.Type {
	case ActionSubmitIdentity:
		return e.submitIdentity(ctx, s, a)
	case ActionVerifyCode:
		return e.verifyCode(s, a)
	case ActionReschedule:
		return e.startReschedule(ctx, s)
	case ActionCancel:
		return e.cancelExisting(ctx, s)
	case ActionChooseService:
		return e.chooseService(ctx, s, a)
	case ActionChooseResource:
		return e.chooseResource(ctx, s, a)
	case ActionChooseDate:
		return e.chooseDate(ctx, s, a)
	case ActionChooseTime:
		return e.chooseTime(ctx, s, a)
	case ActionJoinWaitlist:
		return e.joinWaitlist(ctx, s)
	case ActionConfirm:
		return e.confirm(ctx, s)
	}
	return stepError(ReasonInvalidAction, "unknown action %q", a.Type)
}

// back steps to the previous screen. Past the code check there is no way back into it, so
// going back from the first verified screen starts over.
func (e *Engine) back(s *Session) error {
	switch s.State {
	case StateEnterIdentity:
		return stepError(ReasonInvalidAction, "already at the first step")
	case StateSuccess:
		return stepError(ReasonInvalidAction, "this booking is finished; restart to make another")
	}
	if len(s.History) == 0 {
		s.reset(e.now().UTC())
		return nil
	}
	s.State = s.History[len(s.History)-1]
	s.History = s.History[:len(s.History)-1]
	s.Attempt = booking.AttemptIdle
	switch s.State {
	case StateEnterIdentity:
		s.Challenge = nil
	case StateManageExisting:
		s.Rescheduling = false
	}
	return nil
}

func (e *Engine) submitIdentity(ctx context.Context, s *Session, a Action) error {
	name := strings.TrimSpace(a.Name)
	if name == "" {
		return stepError(booking.ReasonInvalidRequest, "name is required")
	}
	phone, err := booking.NormalizePhone(a.Phone)
	if err != nil {
		return stepError(booking.ReasonInvalidRequest, "%v", err)
	}
	blocked, err := e.guard.IsPhoneBlocked(ctx, s.BusinessID, phone)
	if err != nil {
		return fmt.Errorf("check blocklist: %w", err)
	}
	if blocked {
		return stepError(booking.ReasonPhoneBlocked, "this phone number cannot book with this business")
	}
	existing, found, err := e.guard.ActiveAppointment(ctx, s.BusinessID, phone)
	if err != nil {
		return fmt.Errorf("find active appointment: %w", err)
	}

	code, challenge, err := e.issuer.Issue(e.now())
	if err != nil {
		return fmt.Errorf("issue code: %w", err)
	}
	if err := e.sender.Send(ctx, phone, fmt.Sprintf("Your booking code is %s", code)); err != nil {
		e.logger.Warn("code delivery failed", "provider", e.sender.ProviderID(), "session_id", s.ID, "err", err)
		return stepError(ReasonCodeDelivery, "we could not send the code, please try again")
	}

	s.ClientName = name
	s.ClientPhone = phone
	s.Challenge = &challenge
	s.Verified = false
	s.ExistingID = ""
	if found {
		s.ExistingID = existing.ID
	}
	s.advance(StateVerifyCode)
	return nil
}

func (e *Engine) verifyCode(s *Session, a Action) error {
	if s.Challenge == nil {
		s.reset(e.now().UTC())
		return stepError(ReasonCodeExpired, "the code expired, enter your details again")
	}
	err := otp.Verify(s.Challenge, strings.TrimSpace(a.Code), e.now())
	switch {
	case errors.Is(err, otp.ErrMismatch):
		return stepError(ReasonCodeMismatch, "wrong code, %d attempts left", s.Challenge.Remaining())
	case errors.Is(err, otp.ErrExpired):
		s.reset(e.now().UTC())
		return stepError(ReasonCodeExpired, "the code expired, enter your details again")
	case errors.Is(err, otp.ErrExhausted):
		s.reset(e.now().UTC())
		return stepError(ReasonCodeExhausted, "too many wrong codes, enter your details again")
	case err != nil:
		return err
	}

	s.Verified = true
	s.Challenge = nil
	s.History = nil
	if s.ExistingID != "" {
		s.State = StateManageExisting
	} else {
		s.State = StateChooseService
	}
	return nil
}

func (e *Engine) startReschedule(ctx context.Context, s *Session) error {
	appt, err := e.catalog.GetAppointment(ctx, s.BusinessID, s.ExistingID)
	if err != nil && !errors.Is(err, booking.ErrNotFound) {
		return err
	}
	tenant, terr := e.guard.Tenant(ctx, s.BusinessID)
	if terr != nil {
		return terr
	}
	if err != nil || !appt.Active(tenant.Now) {
		e.dropExisting(s)
		return stepError(booking.ReasonNotActive, "your appointment can no longer be changed; you can book a new one")
	}

	s.Rescheduling = true
	s.ServiceID = appt.ServiceID
	s.StaffID = ""
	if appt.HasResource() {
		staff, err := e.catalog.ListActiveStaff(ctx, s.BusinessID)
		if err != nil {
			return err
		}
		if _, ok := findStaff(staff, appt.StaffID); ok {
			s.StaffID = appt.StaffID
		}
	}
	s.advance(StateChooseDate)
	return nil
}

func (e *Engine) cancelExisting(ctx context.Context, s *Session) error {
	res := e.guard.CancelByClient(ctx, s.BusinessID, s.ExistingID, s.ClientPhone)
	if !res.Success {
		if res.Reason == booking.ReasonNotActive || res.Reason == booking.ReasonNotFound {
			e.dropExisting(s)
		}
		return stepError(res.Reason, "%s", res.Message)
	}
	s.AppointmentID = res.ID
	s.Outcome = OutcomeCancelled
	s.ExistingID = ""
	s.History = nil
	s.State = StateSuccess
	return nil
}

// dropExisting forgets an appointment that is no longer active and continues as a new booking.
func (e *Engine) dropExisting(s *Session) {
	s.ExistingID = ""
	s.Rescheduling = false
	s.History = nil
	s.State = StateChooseService
}

func (e *Engine) chooseService(ctx context.Context, s *Session, a Action) error {
	services, err := e.catalog.ListServices(ctx, s.BusinessID)
	if err != nil {
		return err
	}
	if _, ok := findService(services, a.ServiceID); !ok {
		return stepError(booking.ReasonInvalidRequest, "unknown service")
	}
	staff, err := e.catalog.ListActiveStaff(ctx, s.BusinessID)
	if err != nil {
		return err
	}
	s.ServiceID = a.ServiceID
	s.StaffID = ""
	if len(staff) == 0 {
		s.advance(StateChooseDate)
		return nil
	}
	s.advance(StateChooseResource)
	return nil
}

func (e *Engine) chooseResource(ctx context.Context, s *Session, a Action) error {
	id := strings.TrimSpace(a.StaffID)
	if id == "" || id == "any" {
		s.StaffID = ""
		s.advance(StateChooseDate)
		return nil
	}
	staff, err := e.catalog.ListActiveStaff(ctx, s.BusinessID)
	if err != nil {
		return err
	}
	if _, ok := findStaff(staff, id); !ok {
		return stepError(booking.ReasonInvalidRequest, "unknown staff member")
	}
	s.StaffID = id
	s.advance(StateChooseDate)
	return nil
}

func (e *Engine) chooseDate(ctx context.Context, s *Session, a Action) error {
	date, err := clock.ParseDate(strings.TrimSpace(a.Date), time.UTC)
	if err != nil {
		return stepError(booking.ReasonInvalidRequest, "date must be YYYY-MM-DD")
	}
	tenant, err := e.guard.Tenant(ctx, s.BusinessID)
	if err != nil {
		return err
	}
	if date.Before(clock.Day(tenant.Now)) {
		return stepError(booking.ReasonInvalidRequest, "this date has already passed")
	}
	slots, err := e.slots(ctx, s, date)
	if err != nil {
		return e.slotError(err)
	}
	if slots.Closed {
		return stepError(booking.ReasonClosed, "the business is closed on %s", clock.FormatDate(date))
	}
	s.Date = clock.FormatDate(date)
	s.Time = ""
	s.Waitlisted = false
	s.advance(StateChooseTime)
	return nil
}

func (e *Engine) chooseTime(ctx context.Context, s *Session, a Action) error {
	hm := strings.TrimSpace(a.Time)
	if !clock.ValidHM(hm) {
		return stepError(booking.ReasonInvalidRequest, "time must be HH:mm")
	}
	date, err := clock.ParseDate(s.Date, time.UTC)
	if err != nil {
		return err
	}
	slots, err := e.slots(ctx, s, date)
	if err != nil {
		return e.slotError(err)
	}
	if _, free := slots.Availability.Assign(hm); !free {
		return stepError(booking.ReasonSlotTaken, "%s is not available, pick another time", hm)
	}
	s.Time = hm
	s.Attempt = booking.AttemptIdle
	s.advance(StateConfirmSummary)
	return nil
}

func (e *Engine) joinWaitlist(ctx context.Context, s *Session) error {
	date, err := clock.ParseDate(s.Date, time.UTC)
	if err != nil {
		return err
	}
	_, err = e.guard.JoinWaitingList(ctx, booking.WaitlistRequest{
		BusinessID:  s.BusinessID,
		ClientName:  s.ClientName,
		ClientPhone: s.ClientPhone,
		ServiceID:   s.ServiceID,
		Date:        date,
	})
	if errors.Is(err, booking.ErrInvalidRequest) {
		return stepError(booking.ReasonInvalidRequest, "%v", err)
	}
	if err != nil {
		return err
	}
	s.Waitlisted = true
	return nil
}

// confirm is the only step that writes. A rejection sends the client back to the screen
// whose input went stale.
func (e *Engine) confirm(ctx context.Context, s *Session) error {
	date, err := clock.ParseDate(s.Date, time.UTC)
	if err != nil {
		return err
	}
	s.Attempt = booking.AttemptPending

	var res booking.Result
	outcome := OutcomeBooked
	if s.Rescheduling {
		outcome = OutcomeRescheduled
		res = e.guard.Reschedule(ctx, booking.RescheduleRequest{
			BusinessID:    s.BusinessID,
			AppointmentID: s.ExistingID,
			ClientPhone:   s.ClientPhone,
			Date:          date,
			Time:          s.Time,
		})
	} else {
		res = e.guard.Book(ctx, booking.BookRequest{
			BusinessID:     s.BusinessID,
			ClientName:     s.ClientName,
			ClientPhone:    s.ClientPhone,
			ServiceID:      s.ServiceID,
			StaffID:        s.StaffID,
			Date:           date,
			Time:           s.Time,
			IdempotencyKey: fmt.Sprintf("flow:%s:%d", s.ID, s.Commits),
		})
	}
	s.Attempt = res.State()

	if res.Success {
		s.Commits++
		s.AppointmentID = res.ID
		s.Outcome = outcome
		s.ExistingID = ""
		s.Rescheduling = false
		s.History = nil
		s.State = StateSuccess
		return nil
	}

	switch res.Reason {
	case booking.ReasonSlotTaken, booking.ReasonOutsideHours:
		s.rewindTo(StateChooseTime)
	case booking.ReasonClosed:
		s.rewindTo(StateChooseDate)
	case booking.ReasonNotActive, booking.ReasonNotFound:
		if s.Rescheduling {
			e.dropExisting(s)
		}
	}
	return stepError(res.Reason, "%s", res.Message)
}

func (e *Engine) slots(ctx context.Context, s *Session, date time.Time) (booking.Slots, error) {
	q := booking.SlotQuery{
		BusinessID: s.BusinessID,
		ServiceID:  s.ServiceID,
		StaffID:    s.StaffID,
		Date:       date,
	}
	if s.Rescheduling {
		q.ExcludeAppointmentID = s.ExistingID
	}
	return e.guard.Slots(ctx, q)
}

func (e *Engine) slotError(err error) error {
	if errors.Is(err, booking.ErrNotFound) || errors.Is(err, booking.ErrInvalidRequest) {
		return stepError(booking.ReasonInvalidRequest, "the selected service or staff member is no longer available")
	}
	return err
}

func (e *Engine) render(ctx context.Context, s Session) (View, error) {
	v := View{
		SessionID:     s.ID,
		State:         s.State,
		CanGoBack:     s.State != StateEnterIdentity && s.State != StateSuccess,
		ClientName:    s.ClientName,
		Rescheduling:  s.Rescheduling,
		Date:          s.Date,
		Waitlisted:    s.Waitlisted,
		Attempt:       s.Attempt,
		Outcome:       s.Outcome,
		AppointmentID: s.AppointmentID,
	}

	switch s.State {
	case StateVerifyCode:
		if s.Challenge != nil {
			v.CodeAttemptsLeft = s.Challenge.Remaining()
		}
	case StateManageExisting:
		appt, err := e.catalog.GetAppointment(ctx, s.BusinessID, s.ExistingID)
		if err != nil {
			return View{}, err
		}
		av, err := e.appointmentView(ctx, appt)
		if err != nil {
			return View{}, err
		}
		v.Existing = &av
	case StateChooseService:
		services, err := e.catalog.ListServices(ctx, s.BusinessID)
		if err != nil {
			return View{}, err
		}
		for _, svc := range services {
			v.Services = append(v.Services, ServiceOption{ID: svc.ID, Name: svc.Name, Price: svc.Price, DurationMinutes: svc.DurationMinutes})
		}
	case StateChooseResource:
		staff, err := e.catalog.ListActiveStaff(ctx, s.BusinessID)
		if err != nil {
			return View{}, err
		}
		for _, st := range staff {
			v.Staff = append(v.Staff, StaffOption{ID: st.ID, Name: st.Name, AvatarURL: st.AvatarURL})
		}
	case StateChooseTime:
		date, err := clock.ParseDate(s.Date, time.UTC)
		if err != nil {
			return View{}, err
		}
		slots, err := e.slots(ctx, &s, date)
		if err != nil {
			return View{}, err
		}
		v.Times = slots.Availability.Times
		v.WaitlistOffered = len(v.Times) == 0 && !s.Rescheduling
	case StateConfirmSummary:
		sum, err := e.summary(ctx, s)
		if err != nil {
			return View{}, err
		}
		v.Summary = &sum
	case StateSuccess:
		if s.Outcome == OutcomeCancelled {
			break
		}
		appt, err := e.catalog.GetAppointment(ctx, s.BusinessID, s.AppointmentID)
		if err != nil {
			return View{}, err
		}
		av, err := e.appointmentView(ctx, appt)
		if err != nil {
			return View{}, err
		}
		v.Summary = &av
		tenant, err := e.guard.Tenant(ctx, s.BusinessID)
		if err != nil {
			return View{}, err
		}
		v.DeepLink = deeplink.WhatsApp(tenant.Profile.WhatsAppPhone, deeplink.Confirmation{
			BusinessName: tenant.Profile.Name,
			ClientName:   s.ClientName,
			ServiceName:  av.ServiceName,
			StaffName:    av.StaffName,
			StartAt:      appt.StartAt,
		}.Message())
	}
	return v, nil
}

// summary describes the pending choice before it is committed.
func (e *Engine) summary(ctx context.Context, s Session) (AppointmentView, error) {
	services, err := e.catalog.ListServices(ctx, s.BusinessID)
	if err != nil {
		return AppointmentView{}, err
	}
	staff, err := e.catalog.ListActiveStaff(ctx, s.BusinessID)
	if err != nil {
		return AppointmentView{}, err
	}
	out := AppointmentView{ID: s.ExistingID, ServiceID: s.ServiceID, StaffID: s.StaffID, Date: s.Date, Start: s.Time}
	if svc, ok := findService(services, s.ServiceID); ok {
		out.ServiceName = svc.Name
		out.Price = svc.Price
		if start, err := time.Parse(clock.HMLayout, s.Time); err == nil {
			out.End = clock.FormatHM(clock.AddMinutes(start, svc.DurationMinutes))
		}
	}
	if st, ok := findStaff(staff, s.StaffID); ok {
		out.StaffName = st.Name
	}
	return out, nil
}

func (e *Engine) appointmentView(ctx context.Context, appt model.Appointment) (AppointmentView, error) {
	services, err := e.catalog.ListServices(ctx, appt.BusinessID)
	if err != nil {
		return AppointmentView{}, err
	}
	staff, err := e.catalog.ListActiveStaff(ctx, appt.BusinessID)
	if err != nil {
		return AppointmentView{}, err
	}
	out := AppointmentView{
		ID:        appt.ID,
		ServiceID: appt.ServiceID,
		StaffID:   appt.StaffID,
		Date:      clock.FormatDate(appt.Date),
		Start:     clock.FormatHM(appt.StartAt),
		End:       clock.FormatHM(appt.EndAt),
	}
	if svc, ok := findService(services, appt.ServiceID); ok {
		out.ServiceName = svc.Name
		out.Price = svc.Price
	}
	if st, ok := findStaff(staff, appt.StaffID); ok {
		out.StaffName = st.Name
	}
	return out, nil
}

func findService(services []model.Service, id string) (model.Service, bool) {
	for _, s := range services {
		if s.ID == id {
			return s, true
		}
	}
	return model.Service{}, false
}

func findStaff(staff []model.Staff, id string) (model.Staff, bool) {
	for _, s := range staff {
		if s.ID == id {
			return s, true
		}
	}
	return model.Staff{}, false
}
