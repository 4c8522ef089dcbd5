package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"kambafy/internal/model"
	"kambafy/internal/webhooks"
)

// DispatchHandler handles POST /v1/webhooks/dispatch. Individual delivery
// failures still answer 200; only orchestration failures are errors.
func (s *Server) DispatchHandler(w http.ResponseWriter, r *http.Request) {
	var req model.DispatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid request", err.Error(), r.URL.Path)
		return
	}
	p := principalFrom(r.Context())
	if !p.IsAdmin() {
		if req.UserID != "" && req.UserID != p.OwnerID {
			writeProblem(w, http.StatusForbidden, "Forbidden", "cannot dispatch for another owner", r.URL.Path)
			return
		}
		req.UserID = p.OwnerID
	}

	scope, err := webhooks.RequestScope(r.Context(), s.Store, req)
	if err != nil {
		s.writeError(w, r, "Scope resolution failed", err)
		return
	}
	key := scope.OwnerID
	if key == "" {
		key = "resource:" + scope.ResourceID
	}
	if !s.limiter.Allow(key) {
		w.Header().Set("Retry-After", "1")
		writeProblem(w, http.StatusTooManyRequests, "Too Many Requests", "dispatch rate exceeded", r.URL.Path)
		return
	}

	res, err := s.Dispatcher.Dispatch(r.Context(), req.Event, req.Data, scope)
	if err != nil {
		s.writeError(w, r, "Dispatch failed", err)
		return
	}
	writeJSON(w, http.StatusOK, model.DispatchResponse{
		Message:        "Webhooks dispatched",
		Event:          req.Event,
		DispatchResult: res,
	})
}

// Registrations

func (s *Server) ListRegistrationsHandler(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFor(r)
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Missing owner", "ownerId required", r.URL.Path)
		return
	}
	items, next, err := s.Store.ListRegistrations(r.Context(), owner, r.URL.Query().Get("cursor"), queryInt(r, "limit", 100))
	if err != nil {
		s.writeError(w, r, "List registrations failed", err)
		return
	}
	for i := range items {
		items[i] = items[i].Redacted()
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

func (s *Server) CreateRegistrationHandler(w http.ResponseWriter, r *http.Request) {
	var in model.RegistrationInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	p := principalFrom(r.Context())
	if !p.IsAdmin() || in.OwnerID == "" {
		in.OwnerID = p.OwnerID
	}
	if in.OwnerID == "" {
		writeProblem(w, http.StatusBadRequest, "Missing owner", "ownerId required", r.URL.Path)
		return
	}
	if err := s.validate.Struct(in); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid registration", err.Error(), r.URL.Path)
		return
	}
	reg, err := s.Store.CreateRegistration(r.Context(), in)
	if err != nil {
		s.writeError(w, r, "Create registration failed", err)
		return
	}
	w.Header().Set("Location", "/v1/webhooks/"+reg.ID)
	writeJSON(w, http.StatusCreated, reg.Redacted())
}

func (s *Server) GetRegistrationHandler(w http.ResponseWriter, r *http.Request) {
	owner, _ := ownerFor(r)
	reg, err := s.Store.GetRegistration(r.Context(), owner, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, "Get registration failed", err)
		return
	}
	writeJSON(w, http.StatusOK, reg.Redacted())
}

func (s *Server) UpdateRegistrationHandler(w http.ResponseWriter, r *http.Request) {
	var patch model.RegistrationPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := s.validate.Struct(patch); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid registration", err.Error(), r.URL.Path)
		return
	}
	owner, _ := ownerFor(r)
	reg, err := s.Store.UpdateRegistration(r.Context(), owner, chi.URLParam(r, "id"), patch)
	if err != nil {
		s.writeError(w, r, "Update registration failed", err)
		return
	}
	writeJSON(w, http.StatusOK, reg.Redacted())
}

func (s *Server) DeleteRegistrationHandler(w http.ResponseWriter, r *http.Request) {
	owner, _ := ownerFor(r)
	if err := s.Store.DeleteRegistration(r.Context(), owner, chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, "Delete registration failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Partner notifications

func (s *Server) NotifyPartnerHandler(w http.ResponseWriter, r *http.Request) {
	if !principalFrom(r.Context()).IsAdmin() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
		return
	}
	note, err := s.Notifier.NotifyPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, "Partner notification failed", err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// Admin: delivery log and aggregates

func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFor(r)
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Missing owner", "ownerId required", r.URL.Path)
		return
	}
	q := r.URL.Query()
	f := model.DeliveryFilter{
		EventName:      q.Get("eventName"),
		RegistrationID: q.Get("registrationId"),
		Status:         q.Get("status"),
	}
	if f.Status != "" && f.Status != "success" && f.Status != "failed" {
		writeProblem(w, http.StatusBadRequest, "Invalid status", "status must be success or failed", r.URL.Path)
		return
	}
	items, next, err := s.Store.ListDeliveryAttempts(r.Context(), owner, f, q.Get("cursor"), queryInt(r, "limit", 100))
	if err != nil {
		s.writeError(w, r, "List deliveries failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

func (s *Server) WebhookMetricsHandler(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFor(r)
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Missing owner", "ownerId required", r.URL.Path)
		return
	}
	sinceHours := queryInt(r, "sinceHours", 24)
	since := time.Now().UTC().Add(-time.Duration(sinceHours) * time.Hour)
	items, err := s.Store.DeliveryStats(r.Context(), owner, since, r.URL.Query().Get("eventName"))
	if err != nil {
		s.writeError(w, r, "Metrics failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "since": since})
}

// Health

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	for name, check := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		err := check(ctx)
		cancel()
		if err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", name+": "+err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
