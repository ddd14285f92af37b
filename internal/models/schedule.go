package models

type Schedule struct {
	ScheduleID string `json:"schedule_id"`
	DoctorID   string `json:"doctor_id"`
	ClinicID   string `json:"clinic_id"`
	StartTime  string `json:"start_time,omitempty"`
	EndTime    string `json:"end_time,omitempty"`
	MaxTokens  int    `json:"max_tokens"`
	IsActive   bool   `json:"is_active"`
}
