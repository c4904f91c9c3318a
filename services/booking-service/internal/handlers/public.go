package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/slotbook/libs/httpx"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/deeplink"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
)

// Directory resolves display names for booking confirmations.
type Directory interface {
	GetService(ctx context.Context, businessID, serviceID string) (model.Service, error)
	ListActiveStaff(ctx context.Context, businessID string) ([]model.Staff, error)
}

// PublicHandler serves the unauthenticated client endpoints. Every write goes through the guard.
type PublicHandler struct {
	guard     *booking.Guard
	directory Directory
	logger    *slog.Logger
}

func NewPublicHandler(guard *booking.Guard, directory Directory, logger *slog.Logger) *PublicHandler {
	return &PublicHandler{guard: guard, directory: directory, logger: logger}
}

type slotItem struct {
	Time     string   `json:"time"`
	StaffIDs []string `json:"staff_ids"`
}

type slotsResponse struct {
	Date            string     `json:"date"`
	ServiceID       string     `json:"service_id"`
	DurationMinutes int        `json:"duration_minutes"`
	Closed          bool       `json:"closed"`
	Times           []string   `json:"times"`
	Slots           []slotItem `json:"slots"`
	WaitlistOffered bool       `json:"waitlist_offered"`
}

func (h *PublicHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	date, ok := parseDate(q.Get("date"))
	if !ok {
		badRequest(w, "date must be YYYY-MM-DD")
		return
	}
	s, err := h.guard.Slots(r.Context(), booking.SlotQuery{
		BusinessID: strings.TrimSpace(q.Get("business_id")),
		ServiceID:  strings.TrimSpace(q.Get("service_id")),
		StaffID:    strings.TrimSpace(q.Get("staff_id")),
		Date:       date,
	})
	if err != nil {
		if !errors.Is(err, booking.ErrNotFound) && !errors.Is(err, booking.ErrInvalidRequest) {
			h.logger.Error("slot query failed", "err", err)
		}
		writeStoreError(w, err)
		return
	}

	resp := slotsResponse{
		Date:            clock.FormatDate(s.Date),
		ServiceID:       s.Service.ID,
		DurationMinutes: s.Service.DurationMinutes,
		Closed:          s.Closed,
		Times:           []string{},
		Slots:           []slotItem{},
	}
	for _, hm := range s.Availability.Times {
		resp.Times = append(resp.Times, hm)
		resp.Slots = append(resp.Slots, slotItem{Time: hm, StaffIDs: s.Availability.Free[hm]})
	}
	resp.WaitlistOffered = !s.Closed && !s.Past && len(resp.Times) == 0
	httpx.WriteJSON(w, http.StatusOK, resp)
}

type bookRequest struct {
	BusinessID  string `json:"business_id"`
	ClientName  string `json:"client_name"`
	ClientPhone string `json:"client_phone"`
	ServiceID   string `json:"service_id"`
	StaffID     string `json:"staff_id"`
	Date        string `json:"date"`
	Time        string `json:"time"`
}

type appointmentResponse struct {
	Success  bool   `json:"success"`
	ID       string `json:"id"`
	StaffID  string `json:"staff_id,omitempty"`
	Date     string `json:"date"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Replayed bool   `json:"replayed,omitempty"`
	DeepLink string `json:"deep_link,omitempty"`
}

// Book commits a slot. An Idempotency-Key header makes retries return the first result.
func (h *PublicHandler) Book(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	var req bookRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	date, ok := parseDate(req.Date)
	if !ok {
		badRequest(w, "date must be YYYY-MM-DD")
		return
	}
	res := h.guard.Book(r.Context(), booking.BookRequest{
		BusinessID:     strings.TrimSpace(req.BusinessID),
		ClientName:     req.ClientName,
		ClientPhone:    req.ClientPhone,
		ServiceID:      req.ServiceID,
		StaffID:        strings.TrimSpace(req.StaffID),
		Date:           date,
		Time:           strings.TrimSpace(req.Time),
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if !res.Success {
		writeRejection(w, res)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	httpx.WriteJSON(w, status, h.appointmentResponse(r.Context(), res))
}

type rescheduleRequest struct {
	BusinessID    string `json:"business_id"`
	AppointmentID string `json:"appointment_id"`
	ClientPhone   string `json:"client_phone"`
	Date          string `json:"date"`
	Time          string `json:"time"`
}

func (h *PublicHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	var req rescheduleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	date, ok := parseDate(req.Date)
	if !ok {
		badRequest(w, "date must be YYYY-MM-DD")
		return
	}
	if strings.TrimSpace(req.ClientPhone) == "" {
		badRequest(w, "client_phone is required")
		return
	}
	res := h.guard.Reschedule(r.Context(), booking.RescheduleRequest{
		BusinessID:    strings.TrimSpace(req.BusinessID),
		AppointmentID: strings.TrimSpace(req.AppointmentID),
		ClientPhone:   req.ClientPhone,
		Date:          date,
		Time:          strings.TrimSpace(req.Time),
	})
	if !res.Success {
		writeRejection(w, res)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.appointmentResponse(r.Context(), res))
}

type clientCancelRequest struct {
	BusinessID    string `json:"business_id"`
	AppointmentID string `json:"appointment_id"`
	ClientPhone   string `json:"client_phone"`
}

type statusResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
	Status  string `json:"status"`
}

func (h *PublicHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	var req clientCancelRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	res := h.guard.CancelByClient(r.Context(), strings.TrimSpace(req.BusinessID), strings.TrimSpace(req.AppointmentID), req.ClientPhone)
	if !res.Success {
		writeRejection(w, res)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, statusResponse{Success: true, ID: res.ID, Status: string(res.Appointment.Status)})
}

type waitlistRequest struct {
	BusinessID  string `json:"business_id"`
	ClientName  string `json:"client_name"`
	ClientPhone string `json:"client_phone"`
	ServiceID   string `json:"service_id"`
	Date        string `json:"date"`
}

type waitlistResponse struct {
	ID   string `json:"id"`
	Date string `json:"date"`
}

func (h *PublicHandler) JoinWaitlist(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	var req waitlistRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	date, ok := parseDate(req.Date)
	if !ok {
		badRequest(w, "date must be YYYY-MM-DD")
		return
	}
	entry, err := h.guard.JoinWaitingList(r.Context(), booking.WaitlistRequest{
		BusinessID:  strings.TrimSpace(req.BusinessID),
		ClientName:  req.ClientName,
		ClientPhone: req.ClientPhone,
		ServiceID:   strings.TrimSpace(req.ServiceID),
		Date:        date,
	})
	if err != nil {
		if !errors.Is(err, booking.ErrInvalidRequest) {
			h.logger.Error("join waiting list failed", "err", err)
		}
		writeStoreError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, waitlistResponse{ID: entry.ID, Date: clock.FormatDate(entry.Date)})
}

// appointmentResponse adds the WhatsApp confirmation link. Name lookups are best effort.
func (h *PublicHandler) appointmentResponse(ctx context.Context, res booking.Result) appointmentResponse {
	appt := res.Appointment
	out := appointmentResponse{
		Success:  true,
		ID:       res.ID,
		StaffID:  res.StaffID,
		Date:     clock.FormatDate(appt.Date),
		Start:    clock.FormatHM(appt.StartAt),
		End:      clock.FormatHM(appt.EndAt),
		Replayed: res.Replayed,
	}
	tenant, err := h.guard.Tenant(ctx, appt.BusinessID)
	if err != nil {
		h.logger.Warn("tenant lookup for deep link failed", "business_id", appt.BusinessID, "err", err)
		return out
	}
	msg := deeplink.Confirmation{
		BusinessName: tenant.Profile.Name,
		ClientName:   appt.ClientName,
		StartAt:      appt.StartAt,
	}
	if svc, err := h.directory.GetService(ctx, appt.BusinessID, appt.ServiceID); err == nil {
		msg.ServiceName = svc.Name
	}
	if staff, err := h.directory.ListActiveStaff(ctx, appt.BusinessID); err == nil {
		for _, s := range staff {
			if s.ID == appt.StaffID {
				msg.StaffName = s.Name
			}
		}
	}
	out.DeepLink = deeplink.WhatsApp(tenant.Profile.WhatsAppPhone, msg.Message())
	return out
}
