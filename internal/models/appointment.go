package models

import "time"

type Appointment struct {
	AppointmentID string     `json:"appointment_id"`
	ScheduleID    string     `json:"schedule_id"`
	PatientID     string     `json:"patient_id"`
	TokenNumber   int        `json:"token_number"`
	Status        string     `json:"status"`
	StatusNotes   string     `json:"status_notes,omitempty"`
	VisitDate     string     `json:"visit_date"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	RequestID     string     `json:"request_id,omitempty"`
}

const (
	StatusScheduled    = "scheduled"
	StatusTokenStarted = "token_started"
	StatusInProgress   = "in_progress"
	StatusHold         = "hold"
	StatusPause        = "pause"
	StatusCompleted    = "completed"
	StatusCancelled    = "cancel"
)

// Consulting reports whether a status means the token currently owns the
// doctor's attention. in_progress is a UI refinement of token_started and
// counts the same for queue purposes.
func Consulting(status string) bool {
	return status == StatusTokenStarted || status == StatusInProgress
}

// Terminal statuses admit no further transitions.
func Terminal(status string) bool {
	return status == StatusCompleted || status == StatusCancelled
}
