package store

import (
	"context"
	"time"

	"clinicq/queue-service/internal/models"
)

type AllocateInput struct {
	RequestID  string
	ScheduleID string
	VisitDate  string
	PatientID  string
	CreatedAt  time.Time
}

type TransitionInput struct {
	RequestID     string
	AppointmentID string
	Action        string
	ActedBy       string
	StatusNotes   string
	OccurredAt    time.Time
}

// AppointmentStore is the queue engine's persistence contract. Every
// write serializes on the appointment's (schedule, date) pair; reads
// never block writers. The bool result on writes reports whether the
// call applied the change or replayed an earlier request with the same
// request id.
type AppointmentStore interface {
	AllocateToken(ctx context.Context, input AllocateInput) (models.Appointment, bool, error)
	Transition(ctx context.Context, input TransitionInput) (models.Appointment, bool, error)

	GetAppointment(ctx context.Context, appointmentID string) (models.Appointment, error)
	GetSchedule(ctx context.Context, scheduleID string) (models.Schedule, error)
	CursorSnapshot(ctx context.Context, scheduleID, visitDate string) (models.CursorSnapshot, error)
	WaitingAhead(ctx context.Context, scheduleID, visitDate string, tokenNumber int) (int, error)
	QueueSnapshot(ctx context.Context, scheduleID, visitDate string) (models.QueueSnapshot, error)
	ListQueueEvents(ctx context.Context, appointmentID string) ([]QueueEvent, error)

	GetSession(ctx context.Context, sessionID string) (Session, error)
	GetClinicAccess(ctx context.Context, userID string) ([]string, error)
}

// Session is resolved from the external identity collaborator; the
// engine trusts the (user, role) pair it carries.
type Session struct {
	SessionID string
	UserID    string
	Role      string
	ExpiresAt time.Time
}

const (
	RolePatient  = "patient"
	RoleDoctor   = "doctor"
	RoleAttender = "attender"
)

// StaffRole reports whether a role may actuate queue transitions.
func StaffRole(role string) bool {
	return role == RoleDoctor || role == RoleAttender
}
