package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"clinicq/queue-service/internal/models"
	"clinicq/queue-service/internal/store"
)

type authContextKey struct{}

type identity struct {
	UserID  string
	Role    string
	Clinics []string
}

func AuthMiddleware(st store.AppointmentStore, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicEndpoint(r) {
			next.ServeHTTP(w, r)
			return
		}
		sessionID := sessionIDFromRequest(r)
		if sessionID == "" {
			writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing session")
			return
		}
		session, err := st.GetSession(r.Context(), sessionID)
		if err != nil {
			if errors.Is(err, store.ErrSessionNotFound) {
				writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "invalid session")
				return
			}
			writeError(w, requestIDFromRequest(r), http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}

		id := identity{UserID: session.UserID, Role: session.Role}
		if store.StaffRole(session.Role) {
			clinics, err := st.GetClinicAccess(r.Context(), session.UserID)
			if err != nil {
				writeError(w, requestIDFromRequest(r), http.StatusInternalServerError, "internal_error", "access lookup failed")
				return
			}
			id.Clinics = clinics
		}

		ctx := context.WithValue(r.Context(), authContextKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func identityFromContext(ctx context.Context) (identity, bool) {
	value := ctx.Value(authContextKey{})
	if value == nil {
		return identity{}, false
	}
	id, ok := value.(identity)
	return id, ok
}

// authorizeAppointmentRead lets staff with clinic access and the
// appointment's own patient read it.
func (h *Handler) authorizeAppointmentRead(r *http.Request, appt models.Appointment) error {
	id, ok := identityFromContext(r.Context())
	if !ok {
		return store.ErrSessionNotFound
	}
	if store.StaffRole(id.Role) {
		return h.requireClinicAccess(r.Context(), id, appt.ScheduleID)
	}
	if appt.PatientID != id.UserID {
		return store.ErrAccessDenied
	}
	return nil
}

// authorizeAllocate lets patients book for themselves and staff book
// for anyone on schedules they can reach.
func (h *Handler) authorizeAllocate(r *http.Request, scheduleID, patientID string) (identity, error) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		return identity{}, store.ErrSessionNotFound
	}
	if store.StaffRole(id.Role) {
		if err := h.requireClinicAccess(r.Context(), id, scheduleID); err != nil {
			return identity{}, err
		}
		return id, nil
	}
	if patientID != id.UserID {
		return identity{}, store.ErrAccessDenied
	}
	return id, nil
}

// authorizeAction gates queue transitions to doctor/attender sessions
// holding access to the schedule's clinic. Patients never actuate the
// queue; they read their appointment and its ETA.
func (h *Handler) authorizeAction(r *http.Request, appointmentID string) (identity, error) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		return identity{}, store.ErrSessionNotFound
	}
	if !store.StaffRole(id.Role) {
		return identity{}, store.ErrAccessDenied
	}

	appt, err := h.store.GetAppointment(r.Context(), appointmentID)
	if err != nil {
		return identity{}, err
	}
	if err := h.requireClinicAccess(r.Context(), id, appt.ScheduleID); err != nil {
		return identity{}, err
	}
	return id, nil
}

func (h *Handler) requireStaff(r *http.Request) error {
	id, ok := identityFromContext(r.Context())
	if !ok {
		return store.ErrSessionNotFound
	}
	if !store.StaffRole(id.Role) {
		return store.ErrAccessDenied
	}
	return nil
}

// An empty clinic list grants access everywhere, which is how admin
// sessions are provisioned.
func (h *Handler) requireClinicAccess(ctx context.Context, id identity, scheduleID string) error {
	if len(id.Clinics) == 0 {
		return nil
	}
	schedule, err := h.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return err
	}
	if !contains(id.Clinics, schedule.ClinicID) {
		return store.ErrAccessDenied
	}
	return nil
}

func contains(values []string, value string) bool {
	for _, item := range values {
		if item == value {
			return true
		}
	}
	return false
}

func sessionIDFromRequest(r *http.Request) string {
	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(r.Header.Get("X-Session-ID"))
}

func requestIDFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Request-ID"))
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

func isPublicEndpoint(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz", "/metrics":
		return true
	case "/api/queues/snapshot":
		// Waiting-room displays poll this without a session.
		return r.Method == http.MethodGet
	default:
		return r.Method == http.MethodOptions
	}
}
