package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"clinicq/queue-service/internal/models"
	"clinicq/queue-service/internal/observability/metrics"
	"clinicq/queue-service/internal/store"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Estimator projects the expected consultation start for one appointment.
type Estimator interface {
	Estimate(ctx context.Context, appointmentID string) (models.ETAResult, error)
}

type Handler struct {
	store     store.AppointmentStore
	estimator Estimator
	metrics   *metrics.QueueMetrics
}

type createAppointmentRequest struct {
	RequestID  string `json:"request_id"`
	ScheduleID string `json:"schedule_id"`
	PatientID  string `json:"patient_id"`
	VisitDate  string `json:"visit_date"`
}

type appointmentActionRequest struct {
	RequestID   string `json:"request_id"`
	StatusNotes string `json:"status_notes"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(store store.AppointmentStore, estimator Estimator, queueMetrics *metrics.QueueMetrics) *Handler {
	return &Handler{
		store:     store,
		estimator: estimator,
		metrics:   queueMetrics,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/appointments", h.handleAppointments)
	mux.HandleFunc("/api/appointments/", h.handleAppointmentSubtree)
	mux.HandleFunc("/api/queues/snapshot", h.handleQueueSnapshot)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleAppointments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req createAppointmentRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.RequestID = strings.TrimSpace(req.RequestID)
	req.ScheduleID = strings.TrimSpace(req.ScheduleID)
	req.PatientID = strings.TrimSpace(req.PatientID)
	req.VisitDate = strings.TrimSpace(req.VisitDate)

	if req.RequestID == "" || req.ScheduleID == "" || req.PatientID == "" || req.VisitDate == "" {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id, schedule_id, patient_id, and visit_date are required")
		return
	}
	if !isValidUUID(req.RequestID) || !isValidUUID(req.ScheduleID) || !isValidUUID(req.PatientID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id, schedule_id, and patient_id must be UUIDs")
		return
	}
	if !isValidDate(req.VisitDate) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "visit_date must be YYYY-MM-DD")
		return
	}

	if _, err := h.authorizeAllocate(r, req.ScheduleID, req.PatientID); err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}

	appt, applied, err := h.store.AllocateToken(r.Context(), store.AllocateInput{
		RequestID:  req.RequestID,
		ScheduleID: req.ScheduleID,
		VisitDate:  req.VisitDate,
		PatientID:  req.PatientID,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		h.metrics.ObserveAllocation("rejected")
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}

	if applied {
		h.metrics.ObserveAllocation("allocated")
		writeJSON(w, http.StatusCreated, appt)
		return
	}
	h.metrics.ObserveAllocation("replayed")
	writeJSON(w, http.StatusOK, appt)
}

// handleAppointmentSubtree routes /api/appointments/{id},
// /{id}/eta, /{id}/events, and /{id}/actions/{action}.
func (h *Handler) handleAppointmentSubtree(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/appointments/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	appointmentID := parts[0]
	if !isValidUUID(appointmentID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "appointment_id must be a UUID")
		return
	}

	switch {
	case len(parts) == 1:
		h.handleGetAppointment(w, r, appointmentID)
	case len(parts) == 2 && parts[1] == "eta":
		h.handleETA(w, r, appointmentID)
	case len(parts) == 2 && parts[1] == "events":
		h.handleEvents(w, r, appointmentID)
	case len(parts) == 3 && parts[1] == "actions":
		h.handleAction(w, r, appointmentID, parts[2])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGetAppointment(w http.ResponseWriter, r *http.Request, appointmentID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	appt, err := h.store.GetAppointment(r.Context(), appointmentID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	if err := h.authorizeAppointmentRead(r, appt); err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, appt)
}

func (h *Handler) handleETA(w http.ResponseWriter, r *http.Request, appointmentID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	appt, err := h.store.GetAppointment(r.Context(), appointmentID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	if err := h.authorizeAppointmentRead(r, appt); err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}

	result, err := h.estimator.Estimate(r.Context(), appointmentID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request, appointmentID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := h.requireStaff(r); err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}

	events, err := h.store.ListQueueEvents(r.Context(), appointmentID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	if events == nil {
		events = []store.QueueEvent{}
	}

	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request, appointmentID, action string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !store.KnownAction(action) {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	identity, err := h.authorizeAction(r, appointmentID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}

	var req appointmentActionRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.RequestID = strings.TrimSpace(req.RequestID)
	req.StatusNotes = strings.TrimSpace(req.StatusNotes)
	if req.RequestID == "" {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id is required")
		return
	}
	if !isValidUUID(req.RequestID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id must be a UUID")
		return
	}

	appt, applied, err := h.store.Transition(r.Context(), store.TransitionInput{
		RequestID:     req.RequestID,
		AppointmentID: appointmentID,
		Action:        action,
		ActedBy:       identity.UserID,
		StatusNotes:   req.StatusNotes,
		OccurredAt:    time.Now().UTC(),
	})
	if err != nil {
		h.metrics.ObserveTransition(action, "rejected")
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}

	if applied {
		h.metrics.ObserveTransition(action, "applied")
		if action == store.ActionComplete && appt.StartedAt != nil && appt.CompletedAt != nil {
			h.metrics.ObserveConsultationDuration(appt.CompletedAt.Sub(*appt.StartedAt).Seconds())
		}
	} else {
		h.metrics.ObserveTransition(action, "replayed")
	}

	writeJSON(w, http.StatusOK, appt)
}

func (h *Handler) handleQueueSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	scheduleID := strings.TrimSpace(r.URL.Query().Get("schedule_id"))
	visitDate := strings.TrimSpace(r.URL.Query().Get("date"))
	if scheduleID == "" || visitDate == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "schedule_id and date are required")
		return
	}
	if !isValidUUID(scheduleID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "schedule_id must be a UUID")
		return
	}
	if !isValidDate(visitDate) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
		return
	}

	snapshot, err := h.store.QueueSnapshot(r.Context(), scheduleID, visitDate)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, snapshot)
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func isValidDate(value string) bool {
	_, err := time.Parse("2006-01-02", value)
	return err == nil
}

func mapError(err error) (int, string, string) {
	var capErr *store.CapacityError
	var busyErr *store.QueueBusyError
	var trErr *store.TransitionError
	switch {
	case errors.As(err, &capErr):
		return http.StatusConflict, "capacity_exceeded", capErr.Error()
	case errors.As(err, &busyErr):
		return http.StatusConflict, "queue_busy", busyErr.Error()
	case errors.As(err, &trErr):
		return http.StatusConflict, "invalid_transition", trErr.Error()
	case errors.Is(err, store.ErrCapacityExceeded):
		return http.StatusConflict, "capacity_exceeded", "schedule is at maximum tokens"
	case errors.Is(err, store.ErrQueueBusy):
		return http.StatusConflict, "queue_busy", "another token is consulting"
	case errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition", "appointment state does not allow this action"
	case errors.Is(err, store.ErrScheduleClosed):
		return http.StatusConflict, "schedule_closed", "schedule is not accepting appointments"
	case errors.Is(err, store.ErrScheduleNotFound):
		return http.StatusNotFound, "schedule_not_found", "schedule not found"
	case errors.Is(err, store.ErrAppointmentNotFound):
		return http.StatusNotFound, "appointment_not_found", "appointment not found"
	case errors.Is(err, store.ErrAccessDenied):
		return http.StatusForbidden, "access_denied", "access denied"
	case errors.Is(err, store.ErrSessionNotFound):
		return http.StatusUnauthorized, "unauthorized", "session is missing or expired"
	case errors.Is(err, store.ErrTransient):
		return http.StatusServiceUnavailable, "transient", "temporarily unavailable, retry the request"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
