package queue

import (
	"context"
	"time"

	"clinicq/queue-service/internal/models"
)

// FoldDuration folds one more consultation duration into the running
// mean. completedCount is the count including the new observation; the
// incremental form keeps the mean stable over a long clinic day without
// storing history.
func FoldDuration(prevAvg float64, completedCount int, durationSeconds float64) float64 {
	if completedCount <= 1 {
		return durationSeconds
	}
	return prevAvg + (durationSeconds-prevAvg)/float64(completedCount)
}

// Source is the read surface the estimator needs from the store.
type Source interface {
	GetAppointment(ctx context.Context, appointmentID string) (models.Appointment, error)
	CursorSnapshot(ctx context.Context, scheduleID, visitDate string) (models.CursorSnapshot, error)
	WaitingAhead(ctx context.Context, scheduleID, visitDate string, tokenNumber int) (int, error)
}

// Estimator derives a predicted consultation start for any token from
// the queue cursor and the token's own status. It never writes.
type Estimator struct {
	source     Source
	defaultAvg time.Duration
	now        func() time.Time
}

func NewEstimator(source Source, defaultAvg time.Duration) *Estimator {
	if defaultAvg <= 0 {
		defaultAvg = 10 * time.Minute
	}
	return &Estimator{
		source:     source,
		defaultAvg: defaultAvg,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the estimator's clock. Test hook.
func (e *Estimator) WithClock(now func() time.Time) *Estimator {
	if now != nil {
		e.now = now
	}
	return e
}

// Estimate produces a best-effort start time for the appointment. Once
// a token exists an estimate is always produced; the only failure mode
// is an unresolvable appointment id (or a storage error).
//
// Completed tokens report the time serving actually began, never a
// future time. Cancelled tokens report their status with no estimate.
func (e *Estimator) Estimate(ctx context.Context, appointmentID string) (models.ETAResult, error) {
	appt, err := e.source.GetAppointment(ctx, appointmentID)
	if err != nil {
		return models.ETAResult{}, err
	}

	cursor, err := e.source.CursorSnapshot(ctx, appt.ScheduleID, appt.VisitDate)
	if err != nil {
		return models.ETAResult{}, err
	}

	result := models.ETAResult{
		AppointmentID:          appt.AppointmentID,
		TokenNumber:            appt.TokenNumber,
		Status:                 appt.Status,
		CurrentToken:           cursor.CurrentToken,
		CompletedCount:         cursor.CompletedCount,
		AvgConsultationSeconds: cursor.AvgConsultationSeconds,
	}

	switch {
	case appt.Status == models.StatusCompleted:
		result.EstimatedStart = appt.StartedAt
		return result, nil
	case appt.Status == models.StatusCancelled:
		return result, nil
	case models.Consulting(appt.Status):
		start := e.now()
		result.EstimatedStart = &start
		return result, nil
	}

	ahead, err := e.source.WaitingAhead(ctx, appt.ScheduleID, appt.VisitDate, appt.TokenNumber)
	if err != nil {
		return models.ETAResult{}, err
	}

	avg := cursor.AvgConsultationSeconds
	if cursor.CompletedCount == 0 || avg <= 0 {
		avg = e.defaultAvg.Seconds()
		result.AvgConsultationSeconds = avg
	}

	// Whole-second arithmetic throughout.
	waitSeconds := int64(float64(ahead) * avg)
	start := e.now().Add(time.Duration(waitSeconds) * time.Second)
	result.TokensAhead = ahead
	result.EstimatedStart = &start
	return result, nil
}
