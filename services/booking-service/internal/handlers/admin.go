package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/md-rashed-zaman/slotbook/libs/auth"
	"github.com/md-rashed-zaman/slotbook/libs/httpx"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
)

// Catalog is the owner-managed data behind the admin endpoints.
type Catalog interface {
	GetProfile(ctx context.Context, businessID string) (model.BusinessProfile, error)
	UpsertProfile(ctx context.Context, p model.BusinessProfile) error
	CreateService(ctx context.Context, svc model.Service) (model.Service, error)
	ListServices(ctx context.Context, businessID string) ([]model.Service, error)
	CreateStaff(ctx context.Context, s model.Staff) (model.Staff, error)
	ListStaff(ctx context.Context, businessID string, activeOnly bool) ([]model.Staff, error)
	GetWeekSchedule(ctx context.Context, businessID string) (model.WeekSchedule, error)
	PutWeekSchedule(ctx context.Context, businessID string, week model.WeekSchedule) error
	CreateBlockedInterval(ctx context.Context, b model.BlockedInterval) (model.BlockedInterval, error)
	ListBlockedIntervals(ctx context.Context, businessID string, date time.Time) ([]model.BlockedInterval, error)
	DeleteBlockedInterval(ctx context.Context, businessID, id string) error
	AddBlockedPhone(ctx context.Context, businessID, phone string) error
	RemoveBlockedPhone(ctx context.Context, businessID, phone string) error
	ListBlockedPhones(ctx context.Context, businessID string) ([]string, error)
	ListWaitingList(ctx context.Context, businessID string, date time.Time) ([]model.WaitingListEntry, error)
	ListAppointments(ctx context.Context, businessID string, date time.Time, status model.AppointmentStatus) ([]model.Appointment, error)
}

// AdminHandler serves the owner endpoints. The tenant always comes from the verified token.
type AdminHandler struct {
	guard   *booking.Guard
	catalog Catalog
	logger  *slog.Logger
}

func NewAdminHandler(guard *booking.Guard, catalog Catalog, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{guard: guard, catalog: catalog, logger: logger}
}

func businessID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(auth.HeaderBusinessID))
}

func (h *AdminHandler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Error("admin "+op+" failed", "err", err)
	writeStoreError(w, err)
}

func (h *AdminHandler) Appointments(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	date, ok := parseDate(r.URL.Query().Get("date"))
	if !ok {
		badRequest(w, "date must be YYYY-MM-DD")
		return
	}
	status := model.AppointmentStatus(strings.TrimSpace(r.URL.Query().Get("status")))
	if status != "" && !status.Valid() {
		badRequest(w, "status must be confirmed, cancelled or completed")
		return
	}
	biz := businessID(r)
	tenant, err := h.guard.Tenant(r.Context(), biz)
	if err != nil {
		h.fail(w, "list appointments", err)
		return
	}
	appts, err := h.catalog.ListAppointments(r.Context(), biz, date, "")
	if err != nil {
		h.fail(w, "list appointments", err)
		return
	}
	items := []appointmentItem{}
	for _, a := range appts {
		item := toAppointmentItem(a, tenant.Now)
		if status != "" && item.Status != string(status) {
			continue
		}
		items = append(items, item)
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"date": clock.FormatDate(date), "appointments": items})
}

type appointmentActionRequest struct {
	AppointmentID string `json:"appointment_id"`
}

func (h *AdminHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.guard.CancelByAdmin)
}

func (h *AdminHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.guard.Complete)
}

func (h *AdminHandler) transition(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, businessID, appointmentID string) booking.Result) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	var req appointmentActionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || strings.TrimSpace(req.AppointmentID) == "" {
		badRequest(w, "appointment_id is required")
		return
	}
	res := apply(r.Context(), businessID(r), strings.TrimSpace(req.AppointmentID))
	if !res.Success {
		writeRejection(w, res)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, statusResponse{Success: true, ID: res.ID, Status: string(res.Appointment.Status)})
}

type blockedIntervalItem struct {
	ID     string `json:"id"`
	Date   string `json:"date"`
	Start  string `json:"start"`
	End    string `json:"end"`
	Reason string `json:"reason,omitempty"`
}

type blockedIntervalRequest struct {
	Date   string `json:"date"`
	Start  string `json:"start"`
	End    string `json:"end"`
	Reason string `json:"reason"`
}

func (h *AdminHandler) BlockedIntervals(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet, http.MethodPost, http.MethodDelete) {
		return
	}
	biz := businessID(r)
	switch r.Method {
	case http.MethodGet:
		date, ok := parseDate(r.URL.Query().Get("date"))
		if !ok {
			badRequest(w, "date must be YYYY-MM-DD")
			return
		}
		blocks, err := h.catalog.ListBlockedIntervals(r.Context(), biz, date)
		if err != nil {
			h.fail(w, "list blocked intervals", err)
			return
		}
		items := []blockedIntervalItem{}
		for _, b := range blocks {
			items = append(items, blockedIntervalItem{ID: b.ID, Date: clock.FormatDate(b.Date), Start: b.StartTime, End: b.EndTime, Reason: b.Reason})
		}
		httpx.WriteJSON(w, http.StatusOK, items)
	case http.MethodPost:
		var req blockedIntervalRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			badRequest(w, "invalid json body")
			return
		}
		date, ok := parseDate(req.Date)
		if !ok {
			badRequest(w, "date must be YYYY-MM-DD")
			return
		}
		if err := validWindow(req.Start, req.End); err != "" {
			badRequest(w, err)
			return
		}
		b, err := h.catalog.CreateBlockedInterval(r.Context(), model.BlockedInterval{
			BusinessID: biz,
			Date:       date,
			StartTime:  req.Start,
			EndTime:    req.End,
			Reason:     strings.TrimSpace(req.Reason),
		})
		if err != nil {
			h.fail(w, "create blocked interval", err)
			return
		}
		httpx.WriteJSON(w, http.StatusCreated, blockedIntervalItem{ID: b.ID, Date: clock.FormatDate(b.Date), Start: b.StartTime, End: b.EndTime, Reason: b.Reason})
	case http.MethodDelete:
		id := strings.TrimSpace(r.URL.Query().Get("id"))
		if id == "" {
			badRequest(w, "id is required")
			return
		}
		if err := h.catalog.DeleteBlockedInterval(r.Context(), biz, id); err != nil {
			writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type blockedPhoneRequest struct {
	Phone string `json:"phone"`
}

// BlockedPhones edits the blocklist. Every change drops the guard's cached copy so the
// next booking sees it at once.
func (h *AdminHandler) BlockedPhones(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet, http.MethodPost, http.MethodDelete) {
		return
	}
	biz := businessID(r)
	switch r.Method {
	case http.MethodGet:
		phones, err := h.catalog.ListBlockedPhones(r.Context(), biz)
		if err != nil {
			h.fail(w, "list blocked phones", err)
			return
		}
		if phones == nil {
			phones = []string{}
		}
		httpx.WriteJSON(w, http.StatusOK, phones)
	case http.MethodPost:
		var req blockedPhoneRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			badRequest(w, "invalid json body")
			return
		}
		phone, err := booking.NormalizePhone(req.Phone)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		if err := h.catalog.AddBlockedPhone(r.Context(), biz, phone); err != nil {
			h.fail(w, "block phone", err)
			return
		}
		h.guard.Blocklist().Invalidate(biz)
		httpx.WriteJSON(w, http.StatusCreated, blockedPhoneRequest{Phone: phone})
	case http.MethodDelete:
		phone, err := booking.NormalizePhone(r.URL.Query().Get("phone"))
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		if err := h.catalog.RemoveBlockedPhone(r.Context(), biz, phone); err != nil {
			writeStoreError(w, err)
			return
		}
		h.guard.Blocklist().Invalidate(biz)
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *AdminHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet, http.MethodPut) {
		return
	}
	biz := businessID(r)
	if r.Method == http.MethodGet {
		week, err := h.catalog.GetWeekSchedule(r.Context(), biz)
		if err != nil {
			h.fail(w, "get schedule", err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, week)
		return
	}

	var week model.WeekSchedule
	if err := httpx.DecodeJSON(r, &week); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	normalized := model.WeekSchedule{}
	for name, day := range week {
		wd, err := model.ParseWeekday(name)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		if msg := validDay(day); msg != "" {
			badRequest(w, model.WeekdayName(wd)+": "+msg)
			return
		}
		normalized[model.WeekdayName(wd)] = day
	}
	if err := h.catalog.PutWeekSchedule(r.Context(), biz, normalized); err != nil {
		h.fail(w, "put schedule", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, normalized)
}

// validDay rejects windows the slot generator would have to treat as closed.
func validDay(d model.DaySchedule) string {
	if !d.Open {
		return ""
	}
	if msg := validWindow(d.Start, d.End); msg != "" {
		return msg
	}
	if d.BreakStart == "" && d.BreakEnd == "" {
		return ""
	}
	if msg := validWindow(d.BreakStart, d.BreakEnd); msg != "" {
		return "break " + msg
	}
	bs, _ := clock.MinutesOfDay(d.BreakStart)
	be, _ := clock.MinutesOfDay(d.BreakEnd)
	ws, _ := clock.MinutesOfDay(d.Start)
	we, _ := clock.MinutesOfDay(d.End)
	if bs < ws || be > we {
		return "break must sit inside working hours"
	}
	return ""
}

func validWindow(start, end string) string {
	s, err1 := clock.MinutesOfDay(start)
	e, err2 := clock.MinutesOfDay(end)
	if err1 != nil || err2 != nil {
		return "times must be HH:mm"
	}
	if e <= s {
		return "end must be after start"
	}
	return ""
}

type serviceItem struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Price           decimal.Decimal `json:"price"`
	DurationMinutes int             `json:"duration_minutes"`
}

func (h *AdminHandler) Services(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	biz := businessID(r)
	if r.Method == http.MethodGet {
		services, err := h.catalog.ListServices(r.Context(), biz)
		if err != nil {
			h.fail(w, "list services", err)
			return
		}
		items := []serviceItem{}
		for _, s := range services {
			items = append(items, serviceItem{ID: s.ID, Name: s.Name, Price: s.Price, DurationMinutes: s.DurationMinutes})
		}
		httpx.WriteJSON(w, http.StatusOK, items)
		return
	}

	var req serviceItem
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.DurationMinutes <= 0 {
		badRequest(w, "name and a positive duration_minutes are required")
		return
	}
	if req.Price.IsNegative() {
		badRequest(w, "price must not be negative")
		return
	}
	svc, err := h.catalog.CreateService(r.Context(), model.Service{
		BusinessID:      biz,
		Name:            req.Name,
		Price:           req.Price.Round(2),
		DurationMinutes: req.DurationMinutes,
	})
	if err != nil {
		h.fail(w, "create service", err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, serviceItem{ID: svc.ID, Name: svc.Name, Price: svc.Price, DurationMinutes: svc.DurationMinutes})
}

type staffItem struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Phone     string `json:"phone,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	IsActive  *bool  `json:"is_active,omitempty"`
}

func (h *AdminHandler) Staff(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	biz := businessID(r)
	if r.Method == http.MethodGet {
		staff, err := h.catalog.ListStaff(r.Context(), biz, r.URL.Query().Get("active") == "true")
		if err != nil {
			h.fail(w, "list staff", err)
			return
		}
		items := []staffItem{}
		for _, s := range staff {
			active := s.IsActive
			items = append(items, staffItem{ID: s.ID, Name: s.Name, Phone: s.Phone, AvatarURL: s.AvatarURL, IsActive: &active})
		}
		httpx.WriteJSON(w, http.StatusOK, items)
		return
	}

	var req staffItem
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		badRequest(w, "name is required")
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	s, err := h.catalog.CreateStaff(r.Context(), model.Staff{
		BusinessID: biz,
		Name:       req.Name,
		Phone:      strings.TrimSpace(req.Phone),
		AvatarURL:  strings.TrimSpace(req.AvatarURL),
		IsActive:   active,
	})
	if err != nil {
		h.fail(w, "create staff", err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, staffItem{ID: s.ID, Name: s.Name, Phone: s.Phone, AvatarURL: s.AvatarURL, IsActive: &active})
}

type waitlistItem struct {
	ID          string `json:"id"`
	ClientName  string `json:"client_name"`
	ClientPhone string `json:"client_phone"`
	ServiceID   string `json:"service_id"`
	Date        string `json:"date"`
	CreatedAt   string `json:"created_at"`
}

func (h *AdminHandler) Waitlist(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	var date time.Time
	if raw := r.URL.Query().Get("date"); raw != "" {
		d, ok := parseDate(raw)
		if !ok {
			badRequest(w, "date must be YYYY-MM-DD")
			return
		}
		date = d
	}
	entries, err := h.catalog.ListWaitingList(r.Context(), businessID(r), date)
	if err != nil {
		h.fail(w, "list waiting list", err)
		return
	}
	items := []waitlistItem{}
	for _, e := range entries {
		items = append(items, waitlistItem{
			ID:          e.ID,
			ClientName:  e.ClientName,
			ClientPhone: e.ClientPhone,
			ServiceID:   e.ServiceID,
			Date:        clock.FormatDate(e.Date),
			CreatedAt:   e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, items)
}

type profileBody struct {
	Name          string `json:"name"`
	Timezone      string `json:"timezone"`
	BufferMinutes *int   `json:"buffer_minutes,omitempty"`
	WhatsAppPhone string `json:"whatsapp_phone"`
}

// Profile reads or replaces the tenant profile. A tenant that never saved one reads the defaults.
func (h *AdminHandler) Profile(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet, http.MethodPut) {
		return
	}
	biz := businessID(r)
	if r.Method == http.MethodGet {
		tenant, err := h.guard.Tenant(r.Context(), biz)
		if err != nil {
			h.fail(w, "get profile", err)
			return
		}
		buffer := tenant.Buffer
		httpx.WriteJSON(w, http.StatusOK, profileBody{
			Name:          tenant.Profile.Name,
			Timezone:      tenant.Profile.Location().String(),
			BufferMinutes: &buffer,
			WhatsAppPhone: tenant.Profile.WhatsAppPhone,
		})
		return
	}

	var req profileBody
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	tz := strings.TrimSpace(req.Timezone)
	if tz == "" {
		tz = "UTC"
	}
	if _, err := time.LoadLocation(tz); err != nil {
		badRequest(w, "unknown timezone")
		return
	}
	if req.BufferMinutes == nil || *req.BufferMinutes < 0 {
		badRequest(w, "buffer_minutes must be zero or positive")
		return
	}
	phone := strings.TrimSpace(req.WhatsAppPhone)
	if phone != "" {
		normalized, err := booking.NormalizePhone(phone)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		phone = normalized
	}
	profile := model.BusinessProfile{
		BusinessID:    biz,
		Name:          strings.TrimSpace(req.Name),
		Timezone:      tz,
		BufferMinutes: *req.BufferMinutes,
		WhatsAppPhone: phone,
	}
	if err := h.catalog.UpsertProfile(r.Context(), profile); err != nil {
		h.fail(w, "put profile", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, profileBody{Name: profile.Name, Timezone: tz, BufferMinutes: req.BufferMinutes, WhatsAppPhone: phone})
}
