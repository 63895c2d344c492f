package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinic-scheduling/internal/scheduling"
)

type SlotTimesRequest struct {
	StartTime time.Time `json:"start_time" validate:"required"`
	EndTime   time.Time `json:"end_time" validate:"required"`
}

type BookAppointmentRequest struct {
	SlotID string `json:"slot_id" validate:"required,uuid"`
}

type SlotResponse struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Booked    bool      `json:"booked"`
}

type AppointmentResponse struct {
	ID              uuid.UUID     `json:"id"`
	SlotID          uuid.UUID     `json:"slot_id"`
	PatientID       uuid.UUID     `json:"patient_id"`
	CreatedAt       time.Time     `json:"created_at"`
	CalendarEventID *string       `json:"calendar_event_id,omitempty"`
	Slot            *SlotResponse `json:"slot,omitempty"`
	PatientName     string        `json:"patient_name,omitempty"`
	DoctorName      string        `json:"doctor_name,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toSlotResponse(s *scheduling.Slot) SlotResponse {
	return SlotResponse{
		ID:        s.ID,
		DoctorID:  s.DoctorID,
		StartTime: s.StartTime,
		EndTime:   s.EndTime,
		Booked:    s.Booked,
	}
}

func toSlotResponses(slots []scheduling.Slot) []SlotResponse {
	out := make([]SlotResponse, 0, len(slots))
	for i := range slots {
		out = append(out, toSlotResponse(&slots[i]))
	}
	return out
}

func toAppointmentResponse(a *scheduling.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		SlotID:          a.SlotID,
		PatientID:       a.PatientID,
		CreatedAt:       a.CreatedAt,
		CalendarEventID: a.CalendarEventID,
	}
}

func toAppointmentDetailResponse(d *scheduling.AppointmentDetail) AppointmentResponse {
	resp := toAppointmentResponse(&d.Appointment)
	if d.Slot != nil {
		slot := toSlotResponse(d.Slot)
		resp.Slot = &slot
	}
	if d.Patient != nil {
		resp.PatientName = d.Patient.Name
	}
	if d.Doctor != nil {
		resp.DoctorName = d.Doctor.Name
	}
	return resp
}

func toAppointmentDetailResponses(details []scheduling.AppointmentDetail) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(details))
	for i := range details {
		out = append(out, toAppointmentDetailResponse(&details[i]))
	}
	return out
}
