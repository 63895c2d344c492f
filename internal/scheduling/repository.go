package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrSlotNotFound        = errors.New("slot not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrSlotOverlap is returned by slot writes when the candidate range
	// intersects another slot of the same doctor.
	ErrSlotOverlap = errors.New("slot overlaps an existing availability")

	// ErrSlotAlreadyBooked is a legitimate race outcome, not a bug: the
	// slot was claimed by someone else first.
	ErrSlotAlreadyBooked = errors.New("slot has already been booked")

	// ErrSlotBooked guards mutation of a claimed slot. Booked slots are
	// immutable with respect to time bounds and deletion.
	ErrSlotBooked = errors.New("slot is booked and cannot be modified")

	// ErrSlotInPast is returned when the slot's start time is no longer
	// in the future at claim time.
	ErrSlotInPast = errors.New("slot start time is in the past")
)

// Repository contains all DB interactions needed by the service.
//
// ClaimSlot is the single atomic claim: lock the slot row, check it is
// unbooked and still in the future, flip it to booked and insert the
// appointment, all in one transaction. Implementations must guarantee
// that two concurrent claims on the same slot are linearized and that a
// failed claim leaves the slot observably unbooked.
type Repository interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)
	UpdateCalendarAccessToken(ctx context.Context, userID uuid.UUID, token string) error

	CreateSlot(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (*Slot, error)
	UpdateSlotTimes(ctx context.Context, slotID uuid.UUID, start, end time.Time) (*Slot, error)
	DeleteSlot(ctx context.Context, slotID uuid.UUID) error
	GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	ListOpenSlots(ctx context.Context, now time.Time) ([]Slot, error)
	ListSlotsByDoctor(ctx context.Context, doctorID uuid.UUID) ([]Slot, error)

	ClaimSlot(ctx context.Context, slotID, patientID uuid.UUID, now time.Time) (*Appointment, *Slot, error)

	SetAppointmentCalendarEvent(ctx context.Context, appointmentID uuid.UUID, eventID string) error
	GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID) ([]AppointmentDetail, error)
	ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID) ([]AppointmentDetail, error)

	// PruneExpiredOpenSlots removes unbooked slots whose end time has
	// passed. Booked slots are never touched: their appointment keeps
	// them alive.
	PruneExpiredOpenSlots(ctx context.Context, now time.Time) (int64, error)
}
