package scheduling

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

type User struct {
	ID        uuid.UUID
	Name      string
	Email     string
	Role      Role
	CreatedAt time.Time
	UpdatedAt time.Time

	// Linked external-calendar credential. A nil refresh token means the
	// user never connected a calendar and calendar sync is skipped.
	CalendarAccessToken  *string
	CalendarRefreshToken *string
	CalendarTokenURI     *string
}

func (u *User) IsDoctor() bool  { return u.Role == RoleDoctor }
func (u *User) IsPatient() bool { return u.Role == RolePatient }

// Slot is a doctor-published bookable time range. Booked is monotonic:
// it flips false to true exactly once, at claim time, and never back.
type Slot struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	StartTime time.Time
	EndTime   time.Time
	Booked    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Appointment records a patient's successful claim on a slot. A slot yields
// at most one appointment, ever. CalendarEventID is filled in after commit
// by the integration dispatcher when the patient has a linked calendar.
type Appointment struct {
	ID              uuid.UUID
	SlotID          uuid.UUID
	PatientID       uuid.UUID
	CreatedAt       time.Time
	CalendarEventID *string
}

type AppointmentDetail struct {
	Appointment
	Slot    *Slot
	Patient *User
	Doctor  *User
}
