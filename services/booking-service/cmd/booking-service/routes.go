package main

import (
	"net/http"

	"github.com/md-rashed-zaman/slotbook/libs/auth"
	"github.com/md-rashed-zaman/slotbook/libs/httpx"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/handlers"
)

type routes struct {
	public *handlers.PublicHandler
	flow   *handlers.FlowHandler
	admin  *handlers.AdminHandler
	// publicLimit throttles the unauthenticated endpoints.
	publicLimit httpx.Middleware
	jwtSecret   string
	jwks        *auth.JWKSClient
	metrics     http.Handler
}

func (rt routes) register(mux *http.ServeMux) {
	pub := func(path string, h http.HandlerFunc) {
		var handler http.Handler = h
		if rt.publicLimit != nil {
			handler = rt.publicLimit(handler)
		}
		mux.Handle(path, handler)
	}
	pub("/api/v1/public/slots", rt.public.Slots)
	pub("/api/v1/public/book", rt.public.Book)
	pub("/api/v1/public/appointments/reschedule", rt.public.Reschedule)
	pub("/api/v1/public/appointments/cancel", rt.public.Cancel)
	pub("/api/v1/public/waitlist", rt.public.JoinWaitlist)
	pub("/api/v1/public/flow/start", rt.flow.Start)
	pub("/api/v1/public/flow/step", rt.flow.Step)
	pub("/api/v1/public/flow", rt.flow.Get)

	admin := func(path string, h http.HandlerFunc) {
		mux.Handle(path, auth.RequireAuth(auth.RequireRole(h, auth.RoleOwner, auth.RoleAdmin), rt.jwtSecret, rt.jwks))
	}
	admin("/api/v1/appointments", rt.admin.Appointments)
	admin("/api/v1/appointments/cancel", rt.admin.Cancel)
	admin("/api/v1/appointments/complete", rt.admin.Complete)
	admin("/api/v1/blocked-intervals", rt.admin.BlockedIntervals)
	admin("/api/v1/blocked-phones", rt.admin.BlockedPhones)
	admin("/api/v1/schedule", rt.admin.Schedule)
	admin("/api/v1/services", rt.admin.Services)
	admin("/api/v1/staff", rt.admin.Staff)
	admin("/api/v1/waitlist", rt.admin.Waitlist)
	admin("/api/v1/profile", rt.admin.Profile)

	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics)
	}
}
