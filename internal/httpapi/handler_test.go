package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"clinicq/queue-service/internal/models"
	"clinicq/queue-service/internal/store"
)

const (
	testRequestID     = "11111111-1111-1111-1111-111111111111"
	testScheduleID    = "22222222-2222-2222-2222-222222222222"
	testPatientID     = "33333333-3333-3333-3333-333333333333"
	testAppointmentID = "44444444-4444-4444-4444-444444444444"
	testSessionID     = "55555555-5555-5555-5555-555555555555"
	testStaffID       = "66666666-6666-6666-6666-666666666666"
)

type fakeStore struct {
	allocateFn   func(ctx context.Context, input store.AllocateInput) (models.Appointment, bool, error)
	transitionFn func(ctx context.Context, input store.TransitionInput) (models.Appointment, bool, error)
	getApptFn    func(ctx context.Context, appointmentID string) (models.Appointment, error)
	getSchedFn   func(ctx context.Context, scheduleID string) (models.Schedule, error)
	cursorFn     func(ctx context.Context, scheduleID, visitDate string) (models.CursorSnapshot, error)
	aheadFn      func(ctx context.Context, scheduleID, visitDate string, tokenNumber int) (int, error)
	snapshotFn   func(ctx context.Context, scheduleID, visitDate string) (models.QueueSnapshot, error)
	eventsFn     func(ctx context.Context, appointmentID string) ([]store.QueueEvent, error)
	sessionFn    func(ctx context.Context, sessionID string) (store.Session, error)
	accessFn     func(ctx context.Context, userID string) ([]string, error)
}

func (f fakeStore) AllocateToken(ctx context.Context, input store.AllocateInput) (models.Appointment, bool, error) {
	if f.allocateFn == nil {
		return models.Appointment{}, false, nil
	}
	return f.allocateFn(ctx, input)
}

func (f fakeStore) Transition(ctx context.Context, input store.TransitionInput) (models.Appointment, bool, error) {
	if f.transitionFn == nil {
		return models.Appointment{}, false, nil
	}
	return f.transitionFn(ctx, input)
}

func (f fakeStore) GetAppointment(ctx context.Context, appointmentID string) (models.Appointment, error) {
	if f.getApptFn == nil {
		return models.Appointment{}, store.ErrAppointmentNotFound
	}
	return f.getApptFn(ctx, appointmentID)
}

func (f fakeStore) GetSchedule(ctx context.Context, scheduleID string) (models.Schedule, error) {
	if f.getSchedFn == nil {
		return models.Schedule{ScheduleID: scheduleID, ClinicID: "clinic-1", IsActive: true}, nil
	}
	return f.getSchedFn(ctx, scheduleID)
}

func (f fakeStore) CursorSnapshot(ctx context.Context, scheduleID, visitDate string) (models.CursorSnapshot, error) {
	if f.cursorFn == nil {
		return models.CursorSnapshot{ScheduleID: scheduleID, VisitDate: visitDate}, nil
	}
	return f.cursorFn(ctx, scheduleID, visitDate)
}

func (f fakeStore) WaitingAhead(ctx context.Context, scheduleID, visitDate string, tokenNumber int) (int, error) {
	if f.aheadFn == nil {
		return 0, nil
	}
	return f.aheadFn(ctx, scheduleID, visitDate, tokenNumber)
}

func (f fakeStore) QueueSnapshot(ctx context.Context, scheduleID, visitDate string) (models.QueueSnapshot, error) {
	if f.snapshotFn == nil {
		return models.QueueSnapshot{ScheduleID: scheduleID, VisitDate: visitDate}, nil
	}
	return f.snapshotFn(ctx, scheduleID, visitDate)
}

func (f fakeStore) ListQueueEvents(ctx context.Context, appointmentID string) ([]store.QueueEvent, error) {
	if f.eventsFn == nil {
		return nil, nil
	}
	return f.eventsFn(ctx, appointmentID)
}

func (f fakeStore) GetSession(ctx context.Context, sessionID string) (store.Session, error) {
	if f.sessionFn == nil {
		return store.Session{}, store.ErrSessionNotFound
	}
	return f.sessionFn(ctx, sessionID)
}

func (f fakeStore) GetClinicAccess(ctx context.Context, userID string) ([]string, error) {
	if f.accessFn == nil {
		return nil, nil
	}
	return f.accessFn(ctx, userID)
}

type fakeEstimator struct {
	estimateFn func(ctx context.Context, appointmentID string) (models.ETAResult, error)
}

func (f fakeEstimator) Estimate(ctx context.Context, appointmentID string) (models.ETAResult, error) {
	if f.estimateFn == nil {
		return models.ETAResult{AppointmentID: appointmentID}, nil
	}
	return f.estimateFn(ctx, appointmentID)
}

func staffSession(role string) func(ctx context.Context, sessionID string) (store.Session, error) {
	return func(ctx context.Context, sessionID string) (store.Session, error) {
		if sessionID != testSessionID {
			return store.Session{}, store.ErrSessionNotFound
		}
		return store.Session{
			SessionID: sessionID,
			UserID:    testStaffID,
			Role:      role,
			ExpiresAt: time.Now().Add(time.Hour),
		}, nil
	}
}

func patientSession(userID string) func(ctx context.Context, sessionID string) (store.Session, error) {
	return func(ctx context.Context, sessionID string) (store.Session, error) {
		if sessionID != testSessionID {
			return store.Session{}, store.ErrSessionNotFound
		}
		return store.Session{
			SessionID: sessionID,
			UserID:    userID,
			Role:      store.RolePatient,
			ExpiresAt: time.Now().Add(time.Hour),
		}, nil
	}
}

func serve(st fakeStore, est Estimator, req *http.Request) *httptest.ResponseRecorder {
	h := NewHandler(st, est, nil)
	resp := httptest.NewRecorder()
	AuthMiddleware(st, h.Routes()).ServeHTTP(resp, req)
	return resp
}

func decodeErrorCode(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return body.Error.Code
}

func TestCreateAppointmentSuccess(t *testing.T) {
	st := fakeStore{
		sessionFn: patientSession(testPatientID),
		allocateFn: func(ctx context.Context, input store.AllocateInput) (models.Appointment, bool, error) {
			return models.Appointment{
				AppointmentID: testAppointmentID,
				ScheduleID:    input.ScheduleID,
				PatientID:     input.PatientID,
				TokenNumber:   4,
				Status:        models.StatusScheduled,
				VisitDate:     input.VisitDate,
				RequestID:     input.RequestID,
			}, true, nil
		},
	}

	payload := map[string]string{
		"request_id":  testRequestID,
		"schedule_id": testScheduleID,
		"patient_id":  testPatientID,
		"visit_date":  "2026-03-14",
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/appointments", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testSessionID)

	resp := serve(st, fakeEstimator{}, req)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}

	var appt models.Appointment
	if err := json.NewDecoder(resp.Body).Decode(&appt); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if appt.TokenNumber != 4 || appt.Status != models.StatusScheduled {
		t.Fatalf("unexpected appointment response: %+v", appt)
	}
}

func TestCreateAppointmentReplayReturns200(t *testing.T) {
	st := fakeStore{
		sessionFn: patientSession(testPatientID),
		allocateFn: func(ctx context.Context, input store.AllocateInput) (models.Appointment, bool, error) {
			return models.Appointment{AppointmentID: testAppointmentID, TokenNumber: 4}, false, nil
		},
	}

	payload := map[string]string{
		"request_id":  testRequestID,
		"schedule_id": testScheduleID,
		"patient_id":  testPatientID,
		"visit_date":  "2026-03-14",
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/appointments", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testSessionID)

	resp := serve(st, fakeEstimator{}, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200 for replay, got %d", resp.Code)
	}
}

func TestCreateAppointmentCapacityExceeded(t *testing.T) {
	st := fakeStore{
		sessionFn: staffSession(store.RoleAttender),
		allocateFn: func(ctx context.Context, input store.AllocateInput) (models.Appointment, bool, error) {
			return models.Appointment{}, false, &store.CapacityError{Count: 20, Max: 20}
		},
	}

	payload := map[string]string{
		"request_id":  testRequestID,
		"schedule_id": testScheduleID,
		"patient_id":  testPatientID,
		"visit_date":  "2026-03-14",
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/appointments", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testSessionID)

	resp := serve(st, fakeEstimator{}, req)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
	if code := decodeErrorCode(t, resp); code != "capacity_exceeded" {
		t.Fatalf("expected capacity_exceeded, got %s", code)
	}
}

func TestCreateAppointmentForOtherPatientDenied(t *testing.T) {
	st := fakeStore{sessionFn: patientSession("77777777-7777-7777-7777-777777777777")}

	payload := map[string]string{
		"request_id":  testRequestID,
		"schedule_id": testScheduleID,
		"patient_id":  testPatientID,
		"visit_date":  "2026-03-14",
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/appointments", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testSessionID)

	resp := serve(st, fakeEstimator{}, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", resp.Code)
	}
}

func TestCreateAppointmentWithoutSession(t *testing.T) {
	payload := map[string]string{
		"request_id":  testRequestID,
		"schedule_id": testScheduleID,
		"patient_id":  testPatientID,
		"visit_date":  "2026-03-14",
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/appointments", bytes.NewReader(body))

	resp := serve(fakeStore{}, fakeEstimator{}, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.Code)
	}
}

func TestCreateAppointmentMissingFields(t *testing.T) {
	payload := map[string]string{
		"request_id":  testRequestID,
		"schedule_id": testScheduleID,
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/appointments", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testSessionID)

	resp := serve(fakeStore{sessionFn: patientSession(testPatientID)}, fakeEstimator{}, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestCreateAppointmentBadDate(t *testing.T) {
	payload := map[string]string{
		"request_id":  testRequestID,
		"schedule_id": testScheduleID,
		"patient_id":  testPatientID,
		"visit_date":  "14-03-2026",
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/appointments", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testSessionID)

	resp := serve(fakeStore{sessionFn: patientSession(testPatientID)}, fakeEstimator{}, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestActionWithoutSession(t *testing.T) {
	body, _ := json.Marshal(map[string]string{"request_id": testRequestID})
	req := httptest.NewRequest(http.MethodPost, "/api/appointments/"+testAppointmentID+"/actions/start", bytes.NewReader(body))

	resp := serve(fakeStore{}, fakeEstimator{}, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.Code)
	}
}

func TestStartActionAsStaff(t *testing.T) {
	startedAt := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	st := fakeStore{
		sessionFn: staffSession(store.RoleDoctor),
		getApptFn: func(ctx context.Context, appointmentID string) (models.Appointment, error) {
			return models.Appointment{
				AppointmentID: appointmentID,
				ScheduleID:    testScheduleID,
				PatientID:     testPatientID,
				TokenNumber:   4,
				Status:        models.StatusScheduled,
				VisitDate:     "2026-03-14",
			}, nil
		},
		transitionFn: func(ctx context.Context, input store.TransitionInput) (models.Appointment, bool, error) {
			if input.Action != store.ActionStart {
				t.Fatalf("expected start action, got %s", input.Action)
			}
			if input.ActedBy != testStaffID {
				t.Fatalf("expected acted_by from session, got %s", input.ActedBy)
			}
			return models.Appointment{
				AppointmentID: input.AppointmentID,
				Status:        models.StatusTokenStarted,
				TokenNumber:   4,
				StartedAt:     &startedAt,
			}, true, nil
		},
	}

	body, _ := json.Marshal(map[string]string{"request_id": testRequestID})
	req := httptest.NewRequest(http.MethodPost, "/api/appointments/"+testAppointmentID+"/actions/start", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testSessionID)

	resp := serve(st, fakeEstimator{}, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var appt models.Appointment
	if err := json.NewDecoder(resp.Body).Decode(&appt); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if appt.Status != models.StatusTokenStarted {
		t.Fatalf("expected token_started, got %s", appt.Status)
	}
}

func TestPatientCannotStart(t *testing.T) {
	st := fakeStore{
		sessionFn: patientSession(testPatientID),
		getApptFn: func(ctx context.Context, appointmentID string) (models.Appointment, error) {
			return models.Appointment{AppointmentID: appointmentID, PatientID: testPatientID}, nil
		},
	}

	body, _ := json.Marshal(map[string]string{"request_id": testRequestID})
	req := httptest.NewRequest(http.MethodPost, "/api/appointments/"+testAppointmentID+"/actions/start", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testSessionID)

	resp := serve(st, fakeEstimator{}, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", resp.Code)
	}
}

func TestPatientCannotCancelOwnAppointment(t *testing.T) {
	st := fakeStore{
		sessionFn: patientSession(testPatientID),
		getApptFn: func(ctx context.Context, appointmentID string) (models.Appointment, error) {
			return models.Appointment{
				AppointmentID: appointmentID,
				PatientID:     testPatientID,
				Status:        models.StatusScheduled,
			}, nil
		},
		transitionFn: func(ctx context.Context, input store.TransitionInput) (models.Appointment, bool, error) {
			t.Fatal("transition must not run for a patient session")
			return models.Appointment{}, false, nil
		},
	}

	body, _ := json.Marshal(map[string]string{"request_id": testRequestID})
	req := httptest.NewRequest(http.MethodPost, "/api/appointments/"+testAppointmentID+"/actions/cancel", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testSessionID)

	resp := serve(st, fakeEstimator{}, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d: %s", resp.Code, resp.Body.String())
	}
	if code := decodeErrorCode(t, resp); code != "access_denied" {
		t.Fatalf("expected code access_denied, got %q", code)
	}
}

func TestStartActionQueueBusy(t *testing.T) {
	st := fakeStore{
		sessionFn: staffSession(store.RoleAttender),
		getApptFn: func(ctx context.Context, appointmentID string) (models.Appointment, error) {
			return models.Appointment{AppointmentID: appointmentID, ScheduleID: testScheduleID, Status: models.StatusScheduled}, nil
		},
		transitionFn: func(ctx context.Context, input store.TransitionInput) (models.Appointment, bool, error) {
			return models.Appointment{}, false, &store.QueueBusyError{CurrentToken: 3}
		},
	}

	body, _ := json.Marshal(map[string]string{"request_id": testRequestID})
	req := httptest.NewRequest(http.MethodPost, "/api/appointments/"+testAppointmentID+"/actions/start", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testSessionID)

	resp := serve(st, fakeEstimator{}, req)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
	if code := decodeErrorCode(t, resp); code != "queue_busy" {
		t.Fatalf("expected queue_busy, got %s", code)
	}
}

func TestUnknownActionNotFound(t *testing.T) {
	body, _ := json.Marshal(map[string]string{"request_id": testRequestID})
	req := httptest.NewRequest(http.MethodPost, "/api/appointments/"+testAppointmentID+"/actions/reschedule", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testSessionID)

	resp := serve(fakeStore{sessionFn: staffSession(store.RoleDoctor)}, fakeEstimator{}, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
}

func TestETAForOwnAppointment(t *testing.T) {
	eta := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	st := fakeStore{
		sessionFn: patientSession(testPatientID),
		getApptFn: func(ctx context.Context, appointmentID string) (models.Appointment, error) {
			return models.Appointment{
				AppointmentID: appointmentID,
				ScheduleID:    testScheduleID,
				PatientID:     testPatientID,
				TokenNumber:   6,
				Status:        models.StatusScheduled,
				VisitDate:     "2026-03-14",
			}, nil
		},
	}
	est := fakeEstimator{
		estimateFn: func(ctx context.Context, appointmentID string) (models.ETAResult, error) {
			return models.ETAResult{
				AppointmentID:  appointmentID,
				TokenNumber:    6,
				TokensAhead:    2,
				EstimatedStart: &eta,
			}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/appointments/"+testAppointmentID+"/eta", nil)
	req.Header.Set("Authorization", "Bearer "+testSessionID)

	resp := serve(st, est, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var result models.ETAResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.TokensAhead != 2 || result.EstimatedStart == nil {
		t.Fatalf("unexpected eta response: %+v", result)
	}
}

func TestETAForeignAppointmentDenied(t *testing.T) {
	st := fakeStore{
		sessionFn: patientSession(testPatientID),
		getApptFn: func(ctx context.Context, appointmentID string) (models.Appointment, error) {
			return models.Appointment{AppointmentID: appointmentID, PatientID: "77777777-7777-7777-7777-777777777777"}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/appointments/"+testAppointmentID+"/eta", nil)
	req.Header.Set("Authorization", "Bearer "+testSessionID)

	resp := serve(st, fakeEstimator{}, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", resp.Code)
	}
}

func TestEventsRequireStaff(t *testing.T) {
	st := fakeStore{sessionFn: patientSession(testPatientID)}

	req := httptest.NewRequest(http.MethodGet, "/api/appointments/"+testAppointmentID+"/events", nil)
	req.Header.Set("Authorization", "Bearer "+testSessionID)

	resp := serve(st, fakeEstimator{}, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", resp.Code)
	}
}

func TestEventsAsStaff(t *testing.T) {
	st := fakeStore{
		sessionFn: staffSession(store.RoleDoctor),
		eventsFn: func(ctx context.Context, appointmentID string) ([]store.QueueEvent, error) {
			return []store.QueueEvent{{AppointmentID: appointmentID, Seq: 1, Type: "appointment.created"}}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/appointments/"+testAppointmentID+"/events", nil)
	req.Header.Set("Authorization", "Bearer "+testSessionID)

	resp := serve(st, fakeEstimator{}, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
}

func TestQueueSnapshotPublic(t *testing.T) {
	st := fakeStore{
		snapshotFn: func(ctx context.Context, scheduleID, visitDate string) (models.QueueSnapshot, error) {
			return models.QueueSnapshot{
				ScheduleID:        scheduleID,
				VisitDate:         visitDate,
				TotalAppointments: 5,
				MaxTokens:         20,
				IsAvailable:       true,
			}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/queues/snapshot?schedule_id="+testScheduleID+"&date=2026-03-14", nil)

	resp := serve(st, fakeEstimator{}, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}

	var snapshot models.QueueSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !snapshot.IsAvailable || snapshot.TotalAppointments != 5 {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
}

func TestQueueSnapshotMissingParams(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/queues/snapshot?schedule_id="+testScheduleID, nil)

	resp := serve(fakeStore{}, fakeEstimator{}, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestTransientMapsTo503(t *testing.T) {
	st := fakeStore{
		sessionFn: staffSession(store.RoleDoctor),
		getApptFn: func(ctx context.Context, appointmentID string) (models.Appointment, error) {
			return models.Appointment{AppointmentID: appointmentID, ScheduleID: testScheduleID}, nil
		},
		transitionFn: func(ctx context.Context, input store.TransitionInput) (models.Appointment, bool, error) {
			return models.Appointment{}, false, store.ErrTransient
		},
	}

	body, _ := json.Marshal(map[string]string{"request_id": testRequestID})
	req := httptest.NewRequest(http.MethodPost, "/api/appointments/"+testAppointmentID+"/actions/complete", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testSessionID)

	resp := serve(st, fakeEstimator{}, req)
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", resp.Code)
	}
}
