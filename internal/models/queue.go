package models

import "time"

// CursorSnapshot is the read view of the queue cursor for one
// schedule+date. A schedule+date that has seen no transitions yet reads
// as the zero cursor (no current token, nothing completed).
type CursorSnapshot struct {
	ScheduleID             string  `json:"schedule_id"`
	VisitDate              string  `json:"visit_date"`
	CurrentToken           *int    `json:"current_token"`
	CompletedCount         int     `json:"completed_count"`
	AvgConsultationSeconds float64 `json:"avg_consultation_seconds"`
}

// ETAResult is computed fresh on every read and never persisted.
type ETAResult struct {
	AppointmentID          string     `json:"appointment_id"`
	TokenNumber            int        `json:"token_number"`
	Status                 string     `json:"status"`
	CurrentToken           *int       `json:"current_token"`
	CompletedCount         int        `json:"completed_count"`
	AvgConsultationSeconds float64    `json:"avg_consultation_seconds"`
	TokensAhead            int        `json:"tokens_ahead"`
	EstimatedStart         *time.Time `json:"estimated_start,omitempty"`
}

type QueueSnapshot struct {
	ScheduleID        string `json:"schedule_id"`
	VisitDate         string `json:"visit_date"`
	CurrentToken      *int   `json:"current_token"`
	CompletedCount    int    `json:"completed_count"`
	TotalAppointments int    `json:"total_appointments"`
	MaxTokens         int    `json:"max_tokens"`
	IsAvailable       bool   `json:"is_available"`
}
