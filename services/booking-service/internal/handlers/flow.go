package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/slotbook/libs/httpx"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/flow"
)

type FlowHandler struct {
	engine *flow.Engine
	logger *slog.Logger
}

func NewFlowHandler(engine *flow.Engine, logger *slog.Logger) *FlowHandler {
	return &FlowHandler{engine: engine, logger: logger}
}

type startFlowRequest struct {
	BusinessID string `json:"business_id"`
}

func (h *FlowHandler) Start(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	var req startFlowRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	v, err := h.engine.Start(r.Context(), req.BusinessID)
	if err != nil {
		h.writeError(w, v, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, v)
}

type stepRequest struct {
	SessionID string      `json:"session_id"`
	Action    flow.Action `json:"action"`
}

// Step applies one action. Rejections still return the session view so the client can
// render the screen it has to redo.
func (h *FlowHandler) Step(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	var req stepRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	if strings.TrimSpace(req.SessionID) == "" || req.Action.Type == "" {
		badRequest(w, "session_id and action.type are required")
		return
	}
	v, err := h.engine.Step(r.Context(), req.SessionID, req.Action)
	if err != nil {
		h.writeError(w, v, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, v)
}

func (h *FlowHandler) Get(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if id == "" {
		badRequest(w, "session_id is required")
		return
	}
	v, err := h.engine.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, v, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, v)
}

func (h *FlowHandler) writeError(w http.ResponseWriter, v flow.View, err error) {
	if se, ok := flow.AsStepError(err); ok {
		if v.SessionID == "" {
			httpx.WriteError(w, statusFor(se.Reason), string(se.Reason), se.Message)
			return
		}
		httpx.WriteJSON(w, statusFor(se.Reason), v)
		return
	}
	if errors.Is(err, flow.ErrSessionNotFound) {
		httpx.WriteError(w, http.StatusNotFound, string(booking.ReasonNotFound), "session expired or unknown, start again")
		return
	}
	h.logger.Error("flow step failed", "err", err)
	httpx.WriteError(w, http.StatusServiceUnavailable, string(booking.ReasonStorageError), "temporarily unavailable, try again")
}
