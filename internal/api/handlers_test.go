package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicdesk/clinic-scheduling/internal/scheduling"
)

// stubService returns canned results so the tests exercise only the HTTP
// layer: routing, principal policy and status mapping.
type stubService struct {
	createSlot       func(doctorID uuid.UUID, start, end time.Time) (*scheduling.Slot, error)
	updateSlot       func(doctorID, slotID uuid.UUID, start, end time.Time) (*scheduling.Slot, error)
	deleteSlot       func(doctorID, slotID uuid.UUID) error
	listOpenSlots    func() ([]scheduling.Slot, error)
	listDoctorSlots  func(doctorID uuid.UUID) ([]scheduling.Slot, error)
	bookSlot         func(patientID, slotID uuid.UUID) (*scheduling.Appointment, error)
	getAppointment   func(principalID uuid.UUID, role scheduling.Role, id uuid.UUID) (*scheduling.AppointmentDetail, error)
	listAppointments func(principalID uuid.UUID, role scheduling.Role) ([]scheduling.AppointmentDetail, error)
}

func (s *stubService) CreateSlot(_ context.Context, doctorID uuid.UUID, start, end time.Time) (*scheduling.Slot, error) {
	return s.createSlot(doctorID, start, end)
}

func (s *stubService) UpdateSlot(_ context.Context, doctorID, slotID uuid.UUID, start, end time.Time) (*scheduling.Slot, error) {
	return s.updateSlot(doctorID, slotID, start, end)
}

func (s *stubService) DeleteSlot(_ context.Context, doctorID, slotID uuid.UUID) error {
	return s.deleteSlot(doctorID, slotID)
}

func (s *stubService) ListOpenSlots(_ context.Context) ([]scheduling.Slot, error) {
	return s.listOpenSlots()
}

func (s *stubService) ListDoctorSlots(_ context.Context, doctorID uuid.UUID) ([]scheduling.Slot, error) {
	return s.listDoctorSlots(doctorID)
}

func (s *stubService) BookSlot(_ context.Context, patientID, slotID uuid.UUID) (*scheduling.Appointment, error) {
	return s.bookSlot(patientID, slotID)
}

func (s *stubService) GetAppointment(_ context.Context, principalID uuid.UUID, role scheduling.Role, id uuid.UUID) (*scheduling.AppointmentDetail, error) {
	return s.getAppointment(principalID, role, id)
}

func (s *stubService) ListAppointments(_ context.Context, principalID uuid.UUID, role scheduling.Role) ([]scheduling.AppointmentDetail, error) {
	return s.listAppointments(principalID, role)
}

func newTestRouter(svc SchedulingService) http.Handler {
	return NewRouter(RouterConfig{
		Service: svc,
		Log:     zap.NewNop(),
		Env:     "test",
		Version: "test",
	})
}

func doRequest(t *testing.T, h http.Handler, method, path string, principal *Principal, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if principal != nil {
		req.Header.Set("X-User-ID", principal.ID.String())
		req.Header.Set("X-User-Role", string(principal.Role))
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&e); err != nil {
		t.Fatalf("decode error response: %v (body %q)", err, rec.Body.String())
	}
	return e
}

func TestCreateSlotEndpoint(t *testing.T) {
	doctor := Principal{ID: uuid.New(), Role: scheduling.RoleDoctor}
	start := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	end := start.Add(30 * time.Minute)

	t.Run("created", func(t *testing.T) {
		svc := &stubService{createSlot: func(doctorID uuid.UUID, s, e time.Time) (*scheduling.Slot, error) {
			if doctorID != doctor.ID {
				t.Errorf("doctorID = %s, want principal %s", doctorID, doctor.ID)
			}
			return &scheduling.Slot{ID: uuid.New(), DoctorID: doctorID, StartTime: s, EndTime: e}, nil
		}}

		rec := doRequest(t, newTestRouter(svc), http.MethodPost, "/slots", &doctor,
			SlotTimesRequest{StartTime: start, EndTime: end})

		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201 (body %s)", rec.Code, rec.Body.String())
		}
		var resp SlotResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.DoctorID != doctor.ID || !resp.StartTime.Equal(start) {
			t.Errorf("unexpected slot response: %+v", resp)
		}
	})

	t.Run("overlap is a conflict", func(t *testing.T) {
		svc := &stubService{createSlot: func(uuid.UUID, time.Time, time.Time) (*scheduling.Slot, error) {
			return nil, scheduling.ErrSlotOverlap
		}}

		rec := doRequest(t, newTestRouter(svc), http.MethodPost, "/slots", &doctor,
			SlotTimesRequest{StartTime: start, EndTime: end})

		if rec.Code != http.StatusConflict {
			t.Fatalf("status = %d, want 409", rec.Code)
		}
		if e := decodeError(t, rec); e.Error != "slot_overlap" {
			t.Errorf("error code = %q, want slot_overlap", e.Error)
		}
	})

	t.Run("invalid range", func(t *testing.T) {
		svc := &stubService{createSlot: func(uuid.UUID, time.Time, time.Time) (*scheduling.Slot, error) {
			return nil, scheduling.ErrInvalidRange
		}}

		rec := doRequest(t, newTestRouter(svc), http.MethodPost, "/slots", &doctor,
			SlotTimesRequest{StartTime: end, EndTime: start})

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		svc := &stubService{}
		req := httptest.NewRequest(http.MethodPost, "/slots", strings.NewReader("{not json"))
		req.Header.Set("X-User-ID", doctor.ID.String())
		req.Header.Set("X-User-Role", string(doctor.Role))
		rec := httptest.NewRecorder()
		newTestRouter(svc).ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("patient is forbidden", func(t *testing.T) {
		svc := &stubService{}
		patient := Principal{ID: uuid.New(), Role: scheduling.RolePatient}

		rec := doRequest(t, newTestRouter(svc), http.MethodPost, "/slots", &patient,
			SlotTimesRequest{StartTime: start, EndTime: end})

		if rec.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", rec.Code)
		}
	})

	t.Run("missing principal", func(t *testing.T) {
		svc := &stubService{}

		rec := doRequest(t, newTestRouter(svc), http.MethodPost, "/slots", nil,
			SlotTimesRequest{StartTime: start, EndTime: end})

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
		if e := decodeError(t, rec); e.Error != "unauthenticated" {
			t.Errorf("error code = %q, want unauthenticated", e.Error)
		}
	})
}

func TestUpdateSlotEndpoint(t *testing.T) {
	doctor := Principal{ID: uuid.New(), Role: scheduling.RoleDoctor}
	slotID := uuid.New()
	start := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)
	end := start.Add(30 * time.Minute)

	t.Run("ok", func(t *testing.T) {
		svc := &stubService{updateSlot: func(doctorID, id uuid.UUID, s, e time.Time) (*scheduling.Slot, error) {
			if id != slotID {
				t.Errorf("slotID = %s, want %s", id, slotID)
			}
			return &scheduling.Slot{ID: id, DoctorID: doctorID, StartTime: s, EndTime: e}, nil
		}}

		rec := doRequest(t, newTestRouter(svc), http.MethodPut, "/slots/"+slotID.String(), &doctor,
			SlotTimesRequest{StartTime: start, EndTime: end})

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
		}
	})

	t.Run("booked slot is immutable", func(t *testing.T) {
		svc := &stubService{updateSlot: func(uuid.UUID, uuid.UUID, time.Time, time.Time) (*scheduling.Slot, error) {
			return nil, scheduling.ErrSlotBooked
		}}

		rec := doRequest(t, newTestRouter(svc), http.MethodPut, "/slots/"+slotID.String(), &doctor,
			SlotTimesRequest{StartTime: start, EndTime: end})

		if rec.Code != http.StatusConflict {
			t.Fatalf("status = %d, want 409", rec.Code)
		}
	})

	t.Run("someone else's slot", func(t *testing.T) {
		svc := &stubService{updateSlot: func(uuid.UUID, uuid.UUID, time.Time, time.Time) (*scheduling.Slot, error) {
			return nil, scheduling.ErrNotSlotOwner
		}}

		rec := doRequest(t, newTestRouter(svc), http.MethodPut, "/slots/"+slotID.String(), &doctor,
			SlotTimesRequest{StartTime: start, EndTime: end})

		if rec.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", rec.Code)
		}
	})

	t.Run("bad uuid in path", func(t *testing.T) {
		svc := &stubService{}

		rec := doRequest(t, newTestRouter(svc), http.MethodPut, "/slots/not-a-uuid", &doctor,
			SlotTimesRequest{StartTime: start, EndTime: end})

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})
}

func TestDeleteSlotEndpoint(t *testing.T) {
	doctor := Principal{ID: uuid.New(), Role: scheduling.RoleDoctor}
	slotID := uuid.New()

	t.Run("no content", func(t *testing.T) {
		svc := &stubService{deleteSlot: func(doctorID, id uuid.UUID) error {
			return nil
		}}

		rec := doRequest(t, newTestRouter(svc), http.MethodDelete, "/slots/"+slotID.String(), &doctor, nil)

		if rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", rec.Code)
		}
	})

	t.Run("unknown slot", func(t *testing.T) {
		svc := &stubService{deleteSlot: func(uuid.UUID, uuid.UUID) error {
			return scheduling.ErrSlotNotFound
		}}

		rec := doRequest(t, newTestRouter(svc), http.MethodDelete, "/slots/"+slotID.String(), &doctor, nil)

		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
	})
}

func TestListSlotsEndpointIsRoleScoped(t *testing.T) {
	doctor := Principal{ID: uuid.New(), Role: scheduling.RoleDoctor}
	patient := Principal{ID: uuid.New(), Role: scheduling.RolePatient}

	var listedDoctor, listedOpen bool
	svc := &stubService{
		listDoctorSlots: func(doctorID uuid.UUID) ([]scheduling.Slot, error) {
			listedDoctor = true
			return []scheduling.Slot{}, nil
		},
		listOpenSlots: func() ([]scheduling.Slot, error) {
			listedOpen = true
			return []scheduling.Slot{}, nil
		},
	}
	router := newTestRouter(svc)

	if rec := doRequest(t, router, http.MethodGet, "/slots", &doctor, nil); rec.Code != http.StatusOK {
		t.Fatalf("doctor list status = %d, want 200", rec.Code)
	}
	if !listedDoctor || listedOpen {
		t.Errorf("doctor request routed wrong: listedDoctor=%v listedOpen=%v", listedDoctor, listedOpen)
	}

	listedDoctor, listedOpen = false, false
	if rec := doRequest(t, router, http.MethodGet, "/slots", &patient, nil); rec.Code != http.StatusOK {
		t.Fatalf("patient list status = %d, want 200", rec.Code)
	}
	if listedDoctor || !listedOpen {
		t.Errorf("patient request routed wrong: listedDoctor=%v listedOpen=%v", listedDoctor, listedOpen)
	}
}

func TestBookAppointmentEndpoint(t *testing.T) {
	patient := Principal{ID: uuid.New(), Role: scheduling.RolePatient}
	slotID := uuid.New()

	t.Run("created", func(t *testing.T) {
		svc := &stubService{bookSlot: func(patientID, id uuid.UUID) (*scheduling.Appointment, error) {
			if patientID != patient.ID || id != slotID {
				t.Errorf("bookSlot(%s, %s), want (%s, %s)", patientID, id, patient.ID, slotID)
			}
			return &scheduling.Appointment{ID: uuid.New(), SlotID: id, PatientID: patientID, CreatedAt: time.Now()}, nil
		}}

		rec := doRequest(t, newTestRouter(svc), http.MethodPost, "/appointments", &patient,
			BookAppointmentRequest{SlotID: slotID.String()})

		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201 (body %s)", rec.Code, rec.Body.String())
		}
		var resp AppointmentResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.SlotID != slotID || resp.PatientID != patient.ID {
			t.Errorf("unexpected appointment response: %+v", resp)
		}
	})

	t.Run("first booking wins, second conflicts", func(t *testing.T) {
		booked := false
		svc := &stubService{bookSlot: func(patientID, id uuid.UUID) (*scheduling.Appointment, error) {
			if booked {
				return nil, scheduling.ErrSlotAlreadyBooked
			}
			booked = true
			return &scheduling.Appointment{ID: uuid.New(), SlotID: id, PatientID: patientID, CreatedAt: time.Now()}, nil
		}}
		router := newTestRouter(svc)

		patientB := Principal{ID: uuid.New(), Role: scheduling.RolePatient}
		body := BookAppointmentRequest{SlotID: slotID.String()}

		if rec := doRequest(t, router, http.MethodPost, "/appointments", &patient, body); rec.Code != http.StatusCreated {
			t.Fatalf("first booking status = %d, want 201", rec.Code)
		}
		rec := doRequest(t, router, http.MethodPost, "/appointments", &patientB, body)
		if rec.Code != http.StatusConflict {
			t.Fatalf("second booking status = %d, want 409", rec.Code)
		}
		if e := decodeError(t, rec); e.Error != "slot_already_booked" {
			t.Errorf("error code = %q, want slot_already_booked", e.Error)
		}
	})

	t.Run("lock contention", func(t *testing.T) {
		svc := &stubService{bookSlot: func(uuid.UUID, uuid.UUID) (*scheduling.Appointment, error) {
			return nil, scheduling.ErrSlotBeingBooked
		}}

		rec := doRequest(t, newTestRouter(svc), http.MethodPost, "/appointments", &patient,
			BookAppointmentRequest{SlotID: slotID.String()})

		if rec.Code != http.StatusConflict {
			t.Fatalf("status = %d, want 409", rec.Code)
		}
		if e := decodeError(t, rec); e.Error != "slot_being_booked" {
			t.Errorf("error code = %q, want slot_being_booked", e.Error)
		}
	})

	t.Run("past slot", func(t *testing.T) {
		svc := &stubService{bookSlot: func(uuid.UUID, uuid.UUID) (*scheduling.Appointment, error) {
			return nil, scheduling.ErrSlotInPast
		}}

		rec := doRequest(t, newTestRouter(svc), http.MethodPost, "/appointments", &patient,
			BookAppointmentRequest{SlotID: slotID.String()})

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
		if e := decodeError(t, rec); e.Error != "past_slot" {
			t.Errorf("error code = %q, want past_slot", e.Error)
		}
	})

	t.Run("unknown slot", func(t *testing.T) {
		svc := &stubService{bookSlot: func(uuid.UUID, uuid.UUID) (*scheduling.Appointment, error) {
			return nil, scheduling.ErrSlotNotFound
		}}

		rec := doRequest(t, newTestRouter(svc), http.MethodPost, "/appointments", &patient,
			BookAppointmentRequest{SlotID: slotID.String()})

		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("invalid slot id", func(t *testing.T) {
		svc := &stubService{}

		rec := doRequest(t, newTestRouter(svc), http.MethodPost, "/appointments", &patient,
			BookAppointmentRequest{SlotID: "nope"})

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("doctor cannot book", func(t *testing.T) {
		svc := &stubService{}
		doctor := Principal{ID: uuid.New(), Role: scheduling.RoleDoctor}

		rec := doRequest(t, newTestRouter(svc), http.MethodPost, "/appointments", &doctor,
			BookAppointmentRequest{SlotID: slotID.String()})

		if rec.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", rec.Code)
		}
	})

	t.Run("unexpected error is a 500", func(t *testing.T) {
		svc := &stubService{bookSlot: func(uuid.UUID, uuid.UUID) (*scheduling.Appointment, error) {
			return nil, errors.New("connection reset")
		}}

		rec := doRequest(t, newTestRouter(svc), http.MethodPost, "/appointments", &patient,
			BookAppointmentRequest{SlotID: slotID.String()})

		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d, want 500", rec.Code)
		}
		// No internals leak in the body.
		if e := decodeError(t, rec); strings.Contains(e.Details, "connection reset") {
			t.Errorf("internal error leaked to client: %q", e.Details)
		}
	})
}

func TestGetAppointmentEndpoint(t *testing.T) {
	patient := Principal{ID: uuid.New(), Role: scheduling.RolePatient}
	apptID := uuid.New()

	t.Run("ok with detail", func(t *testing.T) {
		doctorName := "Grey"
		svc := &stubService{getAppointment: func(principalID uuid.UUID, role scheduling.Role, id uuid.UUID) (*scheduling.AppointmentDetail, error) {
			slot := &scheduling.Slot{ID: uuid.New(), DoctorID: uuid.New(), Booked: true}
			return &scheduling.AppointmentDetail{
				Appointment: scheduling.Appointment{ID: id, SlotID: slot.ID, PatientID: principalID},
				Slot:        slot,
				Patient:     &scheduling.User{ID: principalID, Name: "Pat"},
				Doctor:      &scheduling.User{ID: slot.DoctorID, Name: doctorName},
			}, nil
		}}

		rec := doRequest(t, newTestRouter(svc), http.MethodGet, "/appointments/"+apptID.String(), &patient, nil)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
		}
		var resp AppointmentResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Slot == nil || resp.DoctorName != doctorName {
			t.Errorf("detail response incomplete: %+v", resp)
		}
	})

	t.Run("foreign appointment reads as not found", func(t *testing.T) {
		svc := &stubService{getAppointment: func(uuid.UUID, scheduling.Role, uuid.UUID) (*scheduling.AppointmentDetail, error) {
			return nil, scheduling.ErrAppointmentNotFound
		}}

		rec := doRequest(t, newTestRouter(svc), http.MethodGet, "/appointments/"+apptID.String(), &patient, nil)

		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
	})
}

func TestListAppointmentsEndpoint(t *testing.T) {
	doctor := Principal{ID: uuid.New(), Role: scheduling.RoleDoctor}

	svc := &stubService{listAppointments: func(principalID uuid.UUID, role scheduling.Role) ([]scheduling.AppointmentDetail, error) {
		if principalID != doctor.ID || role != scheduling.RoleDoctor {
			t.Errorf("listAppointments(%s, %s), want (%s, %s)", principalID, role, doctor.ID, scheduling.RoleDoctor)
		}
		return []scheduling.AppointmentDetail{}, nil
	}}

	rec := doRequest(t, newTestRouter(svc), http.MethodGet, "/appointments", &doctor, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Errorf("body = %q, want []", body)
	}
}
