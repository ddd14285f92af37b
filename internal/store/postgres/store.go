package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"clinicq/queue-service/internal/models"
	"clinicq/queue-service/internal/queue"
	"clinicq/queue-service/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const dateLayout = "2006-01-02"

// DB is the slice of pgxpool.Pool the store uses. pgxmock satisfies it
// too, which keeps the transactional paths unit-testable.
type DB interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

type Store struct {
	db               DB
	defaultMaxTokens int
	retryBackoff     time.Duration
}

type Options struct {
	DefaultMaxTokens int
	RetryBackoff     time.Duration
}

func NewStore(db DB, options Options) *Store {
	maxTokens := options.DefaultMaxTokens
	if maxTokens <= 0 {
		maxTokens = 20
	}
	backoff := options.RetryBackoff
	if backoff <= 0 {
		backoff = 50 * time.Millisecond
	}
	return &Store{
		db:               db,
		defaultMaxTokens: maxTokens,
		retryBackoff:     backoff,
	}
}

func (s *Store) AllocateToken(ctx context.Context, input store.AllocateInput) (models.Appointment, bool, error) {
	return s.withRetry(ctx, func() (models.Appointment, bool, error) {
		return s.allocateOnce(ctx, input)
	})
}

func (s *Store) allocateOnce(ctx context.Context, input store.AllocateInput) (models.Appointment, bool, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Appointment{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	existing, found, err := findAppointmentByRequestID(ctx, tx, input.RequestID)
	if err != nil {
		return models.Appointment{}, false, err
	}
	if found {
		if err = tx.Commit(ctx); err != nil {
			return models.Appointment{}, false, err
		}
		return existing, false, nil
	}

	schedule, err := getScheduleTx(ctx, tx, input.ScheduleID)
	if err != nil {
		return models.Appointment{}, false, err
	}
	if !schedule.IsActive {
		err = store.ErrScheduleClosed
		return models.Appointment{}, false, err
	}
	maxTokens := schedule.MaxTokens
	if maxTokens <= 0 {
		maxTokens = s.defaultMaxTokens
	}

	if err = lockScheduleDay(ctx, tx, input.ScheduleID, input.VisitDate); err != nil {
		return models.Appointment{}, false, err
	}

	var count int
	row := tx.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM appointments
		WHERE schedule_id = $1 AND visit_date = $2::date AND status <> 'cancel'
	`, input.ScheduleID, input.VisitDate)
	if err = row.Scan(&count); err != nil {
		return models.Appointment{}, false, err
	}
	if count >= maxTokens {
		err = &store.CapacityError{Count: count, Max: maxTokens}
		return models.Appointment{}, false, err
	}

	// Cancelled rows keep their numbers, so MAX keeps climbing and a
	// token number is never handed out twice.
	var tokenNumber int
	row = tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(token_number), 0) + 1
		FROM appointments
		WHERE schedule_id = $1 AND visit_date = $2::date
	`, input.ScheduleID, input.VisitDate)
	if err = row.Scan(&tokenNumber); err != nil {
		return models.Appointment{}, false, err
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	appt := models.Appointment{
		ScheduleID:  input.ScheduleID,
		PatientID:   input.PatientID,
		TokenNumber: tokenNumber,
		Status:      models.StatusScheduled,
		VisitDate:   input.VisitDate,
		RequestID:   input.RequestID,
	}
	row = tx.QueryRow(ctx, `
		INSERT INTO appointments (
			appointment_id, request_id, schedule_id, patient_id, token_number,
			status, visit_date, created_at
		) VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6::date, $7)
		ON CONFLICT (request_id) DO NOTHING
		RETURNING appointment_id, created_at
	`, input.RequestID, input.ScheduleID, input.PatientID, tokenNumber, models.StatusScheduled, input.VisitDate, createdAt)
	if err = row.Scan(&appt.AppointmentID, &appt.CreatedAt); err != nil {
		// A concurrent call with the same request id can slip in
		// between the replay check and the insert.
		if errors.Is(err, pgx.ErrNoRows) {
			existing, found, ferr := findAppointmentByRequestID(ctx, tx, input.RequestID)
			if ferr == nil && found {
				if err = tx.Commit(ctx); err != nil {
					return models.Appointment{}, false, err
				}
				return existing, false, nil
			}
		}
		return models.Appointment{}, false, err
	}

	if err = insertQueueEvent(ctx, tx, "appointment.created", appt); err != nil {
		return models.Appointment{}, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Appointment{}, false, err
	}

	return appt, true, nil
}

func (s *Store) Transition(ctx context.Context, input store.TransitionInput) (models.Appointment, bool, error) {
	if !store.KnownAction(input.Action) {
		return models.Appointment{}, false, fmt.Errorf("%w: unknown action %q", store.ErrInvalidTransition, input.Action)
	}
	return s.withRetry(ctx, func() (models.Appointment, bool, error) {
		return s.transitionOnce(ctx, input)
	})
}

func (s *Store) transitionOnce(ctx context.Context, input store.TransitionInput) (models.Appointment, bool, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Appointment{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	existing, found, err := findActionRequest(ctx, tx, input.Action, input.RequestID)
	if err != nil {
		return models.Appointment{}, false, err
	}
	if found {
		if err = tx.Commit(ctx); err != nil {
			return models.Appointment{}, false, err
		}
		return existing, false, nil
	}

	appt, err := lockAppointment(ctx, tx, input.AppointmentID)
	if err != nil {
		return models.Appointment{}, false, err
	}

	if !store.ValidTransition(input.Action, appt.Status) {
		err = &store.TransitionError{Current: appt.Status, Requested: input.Action}
		return models.Appointment{}, false, err
	}
	target, _ := store.TargetStatus(input.Action)

	if err = lockScheduleDay(ctx, tx, appt.ScheduleID, appt.VisitDate); err != nil {
		return models.Appointment{}, false, err
	}
	cursor, err := lockCursor(ctx, tx, appt.ScheduleID, appt.VisitDate)
	if err != nil {
		return models.Appointment{}, false, err
	}

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	switch input.Action {
	case store.ActionStart, store.ActionResume:
		if cursor.CurrentToken != nil && *cursor.CurrentToken != appt.TokenNumber {
			err = &store.QueueBusyError{CurrentToken: *cursor.CurrentToken}
			return models.Appointment{}, false, err
		}
		appt, err = applyStatus(ctx, tx, appt.AppointmentID, target, "started_at", occurredAt, input.StatusNotes)
		if err != nil {
			return models.Appointment{}, false, err
		}
		token := appt.TokenNumber
		cursor.CurrentToken = &token

	case store.ActionComplete:
		appt, err = applyStatus(ctx, tx, appt.AppointmentID, target, "completed_at", occurredAt, input.StatusNotes)
		if err != nil {
			return models.Appointment{}, false, err
		}
		duration := time.Duration(0)
		if appt.StartedAt != nil && occurredAt.After(*appt.StartedAt) {
			duration = occurredAt.Sub(*appt.StartedAt)
		}
		cursor.CompletedCount++
		cursor.AvgConsultationSeconds = queue.FoldDuration(cursor.AvgConsultationSeconds, cursor.CompletedCount, duration.Seconds())
		if cursor.CurrentToken != nil && *cursor.CurrentToken == appt.TokenNumber {
			cursor.CurrentToken = nil
		}

	default: // hold, pause, cancel
		appt, err = applyStatus(ctx, tx, appt.AppointmentID, target, "", occurredAt, input.StatusNotes)
		if err != nil {
			return models.Appointment{}, false, err
		}
		if cursor.CurrentToken != nil && *cursor.CurrentToken == appt.TokenNumber {
			cursor.CurrentToken = nil
		}
	}

	if err = updateCursor(ctx, tx, appt.ScheduleID, appt.VisitDate, cursor); err != nil {
		return models.Appointment{}, false, err
	}

	if err = insertActionRequest(ctx, tx, input.Action, input.RequestID, appt.AppointmentID, appt.ScheduleID, input.ActedBy); err != nil {
		return models.Appointment{}, false, err
	}

	appt.RequestID = input.RequestID
	if err = insertQueueEvent(ctx, tx, "appointment."+target, appt); err != nil {
		return models.Appointment{}, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Appointment{}, false, err
	}

	return appt, true, nil
}

func (s *Store) GetAppointment(ctx context.Context, appointmentID string) (models.Appointment, error) {
	row := s.db.QueryRow(ctx, `
		SELECT appointment_id, schedule_id, patient_id, token_number, status,
			COALESCE(status_notes, ''), visit_date, created_at, started_at, completed_at
		FROM appointments
		WHERE appointment_id = $1
	`, appointmentID)
	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Appointment{}, store.ErrAppointmentNotFound
		}
		return models.Appointment{}, err
	}
	return appt, nil
}

func (s *Store) GetSchedule(ctx context.Context, scheduleID string) (models.Schedule, error) {
	return getSchedule(ctx, s.db, scheduleID)
}

func (s *Store) CursorSnapshot(ctx context.Context, scheduleID, visitDate string) (models.CursorSnapshot, error) {
	snapshot := models.CursorSnapshot{ScheduleID: scheduleID, VisitDate: visitDate}
	var currentToken sql.NullInt64
	row := s.db.QueryRow(ctx, `
		SELECT current_token, completed_count, avg_consultation_seconds
		FROM queue_cursors
		WHERE schedule_id = $1 AND visit_date = $2::date
	`, scheduleID, visitDate)
	if err := row.Scan(&currentToken, &snapshot.CompletedCount, &snapshot.AvgConsultationSeconds); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// No transition yet for this schedule+date: the fresh cursor.
			return snapshot, nil
		}
		return models.CursorSnapshot{}, err
	}
	snapshot.CurrentToken = nullIntPtr(currentToken)
	return snapshot, nil
}

func (s *Store) WaitingAhead(ctx context.Context, scheduleID, visitDate string, tokenNumber int) (int, error) {
	var ahead int
	row := s.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM appointments
		WHERE schedule_id = $1 AND visit_date = $2::date
			AND token_number < $3
			AND status NOT IN ('completed', 'cancel')
	`, scheduleID, visitDate, tokenNumber)
	if err := row.Scan(&ahead); err != nil {
		return 0, err
	}
	return ahead, nil
}

func (s *Store) QueueSnapshot(ctx context.Context, scheduleID, visitDate string) (models.QueueSnapshot, error) {
	schedule, err := getSchedule(ctx, s.db, scheduleID)
	if err != nil {
		return models.QueueSnapshot{}, err
	}
	maxTokens := schedule.MaxTokens
	if maxTokens <= 0 {
		maxTokens = s.defaultMaxTokens
	}

	cursor, err := s.CursorSnapshot(ctx, scheduleID, visitDate)
	if err != nil {
		return models.QueueSnapshot{}, err
	}

	var total int
	row := s.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM appointments
		WHERE schedule_id = $1 AND visit_date = $2::date AND status <> 'cancel'
	`, scheduleID, visitDate)
	if err := row.Scan(&total); err != nil {
		return models.QueueSnapshot{}, err
	}

	var doctorAvailable bool
	row = s.db.QueryRow(ctx, `
		SELECT COALESCE((
			SELECT is_available
			FROM doctor_availability
			WHERE doctor_id = $1 AND avail_date = $2::date
		), TRUE)
	`, schedule.DoctorID, visitDate)
	if err := row.Scan(&doctorAvailable); err != nil {
		return models.QueueSnapshot{}, err
	}

	return models.QueueSnapshot{
		ScheduleID:        scheduleID,
		VisitDate:         visitDate,
		CurrentToken:      cursor.CurrentToken,
		CompletedCount:    cursor.CompletedCount,
		TotalAppointments: total,
		MaxTokens:         maxTokens,
		IsAvailable:       schedule.IsActive && doctorAvailable && total < maxTokens,
	}, nil
}

func (s *Store) ListQueueEvents(ctx context.Context, appointmentID string) ([]store.QueueEvent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT appointment_id, seq, type, payload, created_at, prev_hash, hash
		FROM queue_events
		WHERE appointment_id = $1
		ORDER BY seq ASC
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.QueueEvent
	for rows.Next() {
		var event store.QueueEvent
		if err := rows.Scan(&event.AppointmentID, &event.Seq, &event.Type, &event.Payload, &event.CreatedAt, &event.PrevHash, &event.Hash); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (store.Session, error) {
	var session store.Session
	row := s.db.QueryRow(ctx, `
		SELECT session_id, user_id, role, expires_at
		FROM sessions
		WHERE session_id = $1
	`, sessionID)
	if err := row.Scan(&session.SessionID, &session.UserID, &session.Role, &session.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Session{}, store.ErrSessionNotFound
		}
		return store.Session{}, err
	}
	if session.ExpiresAt.Before(time.Now().UTC()) {
		return store.Session{}, store.ErrSessionNotFound
	}
	return session, nil
}

func (s *Store) GetClinicAccess(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT clinic_id
		FROM clinic_access
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clinics []string
	for rows.Next() {
		var clinicID string
		if err := rows.Scan(&clinicID); err != nil {
			return nil, err
		}
		clinics = append(clinics, clinicID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return clinics, nil
}

// withRetry retries a serialization/lock failure once with a short
// backoff, then surfaces it as transient so callers can tell "try
// again" from a business rejection.
func (s *Store) withRetry(ctx context.Context, op func() (models.Appointment, bool, error)) (models.Appointment, bool, error) {
	appt, applied, err := op()
	if err == nil || !isRetryable(err) {
		return appt, applied, err
	}
	select {
	case <-ctx.Done():
		return models.Appointment{}, false, ctx.Err()
	case <-time.After(s.retryBackoff):
	}
	appt, applied, err = op()
	if err != nil && isRetryable(err) {
		return models.Appointment{}, false, fmt.Errorf("%w: %v", store.ErrTransient, err)
	}
	return appt, applied, err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01", "55P03": // serialization, deadlock, lock not available
		return true
	}
	return false
}

// lockScheduleDay serializes all cursor-touching work for one
// schedule+date. Different pairs hash to different advisory locks and
// never contend.
func lockScheduleDay(ctx context.Context, tx pgx.Tx, scheduleID, visitDate string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, scheduleID+"@"+visitDate)
	return err
}

func lockAppointment(ctx context.Context, tx pgx.Tx, appointmentID string) (models.Appointment, error) {
	row := tx.QueryRow(ctx, `
		SELECT appointment_id, schedule_id, patient_id, token_number, status,
			COALESCE(status_notes, ''), visit_date, created_at, started_at, completed_at
		FROM appointments
		WHERE appointment_id = $1
		FOR UPDATE
	`, appointmentID)
	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Appointment{}, store.ErrAppointmentNotFound
		}
		return models.Appointment{}, err
	}
	return appt, nil
}

func lockCursor(ctx context.Context, tx pgx.Tx, scheduleID, visitDate string) (models.CursorSnapshot, error) {
	_, err := tx.Exec(ctx, `
		INSERT INTO queue_cursors (schedule_id, visit_date, current_token, completed_count, avg_consultation_seconds)
		VALUES ($1, $2::date, NULL, 0, 0)
		ON CONFLICT (schedule_id, visit_date) DO NOTHING
	`, scheduleID, visitDate)
	if err != nil {
		return models.CursorSnapshot{}, err
	}

	snapshot := models.CursorSnapshot{ScheduleID: scheduleID, VisitDate: visitDate}
	var currentToken sql.NullInt64
	row := tx.QueryRow(ctx, `
		SELECT current_token, completed_count, avg_consultation_seconds
		FROM queue_cursors
		WHERE schedule_id = $1 AND visit_date = $2::date
		FOR UPDATE
	`, scheduleID, visitDate)
	if err := row.Scan(&currentToken, &snapshot.CompletedCount, &snapshot.AvgConsultationSeconds); err != nil {
		return models.CursorSnapshot{}, err
	}
	snapshot.CurrentToken = nullIntPtr(currentToken)
	return snapshot, nil
}

func updateCursor(ctx context.Context, tx pgx.Tx, scheduleID, visitDate string, cursor models.CursorSnapshot) error {
	var token any
	if cursor.CurrentToken != nil {
		token = *cursor.CurrentToken
	}
	_, err := tx.Exec(ctx, `
		UPDATE queue_cursors
		SET current_token = $1,
			completed_count = $2,
			avg_consultation_seconds = $3
		WHERE schedule_id = $4 AND visit_date = $5::date
	`, token, cursor.CompletedCount, cursor.AvgConsultationSeconds, scheduleID, visitDate)
	return err
}

func applyStatus(ctx context.Context, tx pgx.Tx, appointmentID, toStatus, timestampColumn string, occurredAt time.Time, notes string) (models.Appointment, error) {
	query := `
		UPDATE appointments
		SET status = $1,
			status_notes = COALESCE(NULLIF($2, ''), status_notes)
	`
	args := []any{toStatus, notes}
	argPos := 3
	if timestampColumn != "" {
		query += fmt.Sprintf(", %s = $%d", timestampColumn, argPos)
		args = append(args, occurredAt)
		argPos++
	}
	query += fmt.Sprintf(`
		WHERE appointment_id = $%d
		RETURNING appointment_id, schedule_id, patient_id, token_number, status,
			COALESCE(status_notes, ''), visit_date, created_at, started_at, completed_at`, argPos)
	args = append(args, appointmentID)

	return scanAppointment(tx.QueryRow(ctx, query, args...))
}

func getSchedule(ctx context.Context, db DB, scheduleID string) (models.Schedule, error) {
	var schedule models.Schedule
	row := db.QueryRow(ctx, `
		SELECT schedule_id, doctor_id, clinic_id, COALESCE(start_time::text, ''), COALESCE(end_time::text, ''), max_tokens, is_active
		FROM schedules
		WHERE schedule_id = $1
	`, scheduleID)
	if err := row.Scan(&schedule.ScheduleID, &schedule.DoctorID, &schedule.ClinicID, &schedule.StartTime, &schedule.EndTime, &schedule.MaxTokens, &schedule.IsActive); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Schedule{}, store.ErrScheduleNotFound
		}
		return models.Schedule{}, err
	}
	return schedule, nil
}

func getScheduleTx(ctx context.Context, tx pgx.Tx, scheduleID string) (models.Schedule, error) {
	var schedule models.Schedule
	row := tx.QueryRow(ctx, `
		SELECT schedule_id, doctor_id, clinic_id, COALESCE(start_time::text, ''), COALESCE(end_time::text, ''), max_tokens, is_active
		FROM schedules
		WHERE schedule_id = $1
	`, scheduleID)
	if err := row.Scan(&schedule.ScheduleID, &schedule.DoctorID, &schedule.ClinicID, &schedule.StartTime, &schedule.EndTime, &schedule.MaxTokens, &schedule.IsActive); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Schedule{}, store.ErrScheduleNotFound
		}
		return models.Schedule{}, err
	}
	return schedule, nil
}

func findAppointmentByRequestID(ctx context.Context, tx pgx.Tx, requestID string) (models.Appointment, bool, error) {
	row := tx.QueryRow(ctx, `
		SELECT appointment_id, schedule_id, patient_id, token_number, status,
			COALESCE(status_notes, ''), visit_date, created_at, started_at, completed_at
		FROM appointments
		WHERE request_id = $1
	`, requestID)
	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Appointment{}, false, nil
		}
		return models.Appointment{}, false, err
	}
	appt.RequestID = requestID
	return appt, true, nil
}

// findActionRequest replays an already-applied transition for the same
// request id. Rejected transitions are never recorded, so a retry after
// a timeout re-validates its precondition from scratch.
func findActionRequest(ctx context.Context, tx pgx.Tx, action, requestID string) (models.Appointment, bool, error) {
	var appointmentID string
	row := tx.QueryRow(ctx, `
		SELECT appointment_id
		FROM appointment_action_requests
		WHERE request_id = $1 AND action = $2
	`, requestID, action)
	if err := row.Scan(&appointmentID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Appointment{}, false, nil
		}
		return models.Appointment{}, false, err
	}

	row = tx.QueryRow(ctx, `
		SELECT appointment_id, schedule_id, patient_id, token_number, status,
			COALESCE(status_notes, ''), visit_date, created_at, started_at, completed_at
		FROM appointments
		WHERE appointment_id = $1
	`, appointmentID)
	appt, err := scanAppointment(row)
	if err != nil {
		return models.Appointment{}, false, err
	}
	appt.RequestID = requestID
	return appt, true, nil
}

func insertActionRequest(ctx context.Context, tx pgx.Tx, action, requestID, appointmentID, scheduleID, actedBy string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO appointment_action_requests (request_id, action, appointment_id, schedule_id, acted_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (request_id) DO NOTHING
	`, requestID, action, appointmentID, scheduleID, nullIfEmpty(actedBy))
	return err
}

func insertQueueEvent(ctx context.Context, tx pgx.Tx, eventType string, appt models.Appointment) error {
	payload, err := json.Marshal(map[string]any{
		"appointment_id": appt.AppointmentID,
		"schedule_id":    appt.ScheduleID,
		"token_number":   appt.TokenNumber,
		"status":         appt.Status,
		"visit_date":     appt.VisitDate,
		"request_id":     appt.RequestID,
		"started_at":     appt.StartedAt,
		"completed_at":   appt.CompletedAt,
	})
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, appt.AppointmentID); err != nil {
		return err
	}

	var lastSeq int
	var prevHash sql.NullString
	row := tx.QueryRow(ctx, `
		SELECT seq, hash
		FROM queue_events
		WHERE appointment_id = $1
		ORDER BY seq DESC
		LIMIT 1
		FOR UPDATE
	`, appt.AppointmentID)
	if err := row.Scan(&lastSeq, &prevHash); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	nextSeq := lastSeq + 1
	prev := ""
	if prevHash.Valid {
		prev = prevHash.String
	}
	createdAt := time.Now().UTC()
	hash := store.ComputeQueueEventHash(prev, appt.AppointmentID, eventType, payload, createdAt, nextSeq)

	_, err = tx.Exec(ctx, `
		INSERT INTO queue_events (appointment_id, seq, type, payload, created_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, appt.AppointmentID, nextSeq, eventType, payload, createdAt, prev, hash)
	return err
}

func scanAppointment(row pgx.Row) (models.Appointment, error) {
	var appt models.Appointment
	var visitDate time.Time
	var startedAt sql.NullTime
	var completedAt sql.NullTime
	if err := row.Scan(&appt.AppointmentID, &appt.ScheduleID, &appt.PatientID, &appt.TokenNumber,
		&appt.Status, &appt.StatusNotes, &visitDate, &appt.CreatedAt, &startedAt, &completedAt); err != nil {
		return models.Appointment{}, err
	}
	appt.VisitDate = visitDate.Format(dateLayout)
	appt.StartedAt = nullTimePtr(startedAt)
	appt.CompletedAt = nullTimePtr(completedAt)
	return appt, nil
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	return &value.Time
}

func nullIntPtr(value sql.NullInt64) *int {
	if !value.Valid {
		return nil
	}
	token := int(value.Int64)
	return &token
}
