package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memRepo is an in-memory Repository with the same linearizability
// contract as the Postgres implementation: one big mutex plays the part
// of the row lock, so concurrent claims on a slot serialize.
type memRepo struct {
	mu           sync.Mutex
	users        map[uuid.UUID]User
	slots        map[uuid.UUID]Slot
	appointments map[uuid.UUID]Appointment
}

func newMemRepo() *memRepo {
	return &memRepo{
		users:        make(map[uuid.UUID]User),
		slots:        make(map[uuid.UUID]Slot),
		appointments: make(map[uuid.UUID]Appointment),
	}
}

func (m *memRepo) addUser(role Role, name, email string) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.users[id] = User{ID: id, Name: name, Email: email, Role: role}
	return id
}

func (m *memRepo) addSlot(doctorID uuid.UUID, start, end time.Time, booked bool) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.slots[id] = Slot{ID: id, DoctorID: doctorID, StartTime: start, EndTime: end, Booked: booked}
	return id
}

func (m *memRepo) appointmentsForSlot(slotID uuid.UUID) []Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Appointment
	for _, a := range m.appointments {
		if a.SlotID == slotID {
			out = append(out, a)
		}
	}
	return out
}

func (m *memRepo) GetUserByID(_ context.Context, id uuid.UUID) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (m *memRepo) UpdateCalendarAccessToken(_ context.Context, userID uuid.UUID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.CalendarAccessToken = &token
	m.users[userID] = u
	return nil
}

func (m *memRepo) CreateSlot(_ context.Context, doctorID uuid.UUID, start, end time.Time) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c := ConflictingSlot(m.doctorSlotsLocked(doctorID), start, end, uuid.Nil); c != nil {
		return nil, ErrSlotOverlap
	}
	id := uuid.New()
	slot := Slot{ID: id, DoctorID: doctorID, StartTime: start, EndTime: end}
	m.slots[id] = slot
	return &slot, nil
}

func (m *memRepo) UpdateSlotTimes(_ context.Context, slotID uuid.UUID, start, end time.Time) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.slots[slotID]
	if !ok {
		return nil, ErrSlotNotFound
	}
	if slot.Booked {
		return nil, ErrSlotBooked
	}
	if c := ConflictingSlot(m.doctorSlotsLocked(slot.DoctorID), start, end, slotID); c != nil {
		return nil, ErrSlotOverlap
	}
	slot.StartTime = start
	slot.EndTime = end
	m.slots[slotID] = slot
	return &slot, nil
}

func (m *memRepo) DeleteSlot(_ context.Context, slotID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.slots[slotID]
	if !ok {
		return ErrSlotNotFound
	}
	if slot.Booked {
		return ErrSlotBooked
	}
	delete(m.slots, slotID)
	return nil
}

func (m *memRepo) GetSlotByID(_ context.Context, id uuid.UUID) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &slot, nil
}

func (m *memRepo) ListOpenSlots(_ context.Context, now time.Time) ([]Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Slot
	for _, s := range m.slots {
		if !s.Booked && s.StartTime.After(now) {
			out = append(out, s)
		}
	}
	sortSlots(out)
	return out, nil
}

func (m *memRepo) ListSlotsByDoctor(_ context.Context, doctorID uuid.UUID) ([]Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.doctorSlotsLocked(doctorID)
	sortSlots(out)
	return out, nil
}

func (m *memRepo) ClaimSlot(_ context.Context, slotID, patientID uuid.UUID, now time.Time) (*Appointment, *Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, ok := m.slots[slotID]
	if !ok {
		return nil, nil, ErrSlotNotFound
	}
	if slot.Booked {
		return nil, nil, ErrSlotAlreadyBooked
	}
	if !slot.StartTime.After(now) {
		return nil, nil, ErrSlotInPast
	}

	slot.Booked = true
	m.slots[slotID] = slot

	appt := Appointment{
		ID:        uuid.New(),
		SlotID:    slotID,
		PatientID: patientID,
		CreatedAt: now,
	}
	m.appointments[appt.ID] = appt

	return &appt, &slot, nil
}

func (m *memRepo) SetAppointmentCalendarEvent(_ context.Context, appointmentID uuid.UUID, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[appointmentID]
	if !ok || a.CalendarEventID != nil {
		return ErrAppointmentNotFound
	}
	a.CalendarEventID = &eventID
	m.appointments[appointmentID] = a
	return nil
}

func (m *memRepo) GetAppointmentDetail(_ context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return m.detailLocked(a), nil
}

func (m *memRepo) ListAppointmentsByPatient(_ context.Context, patientID uuid.UUID) ([]AppointmentDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AppointmentDetail
	for _, a := range m.appointments {
		if a.PatientID == patientID {
			out = append(out, *m.detailLocked(a))
		}
	}
	return out, nil
}

func (m *memRepo) ListAppointmentsByDoctor(_ context.Context, doctorID uuid.UUID) ([]AppointmentDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AppointmentDetail
	for _, a := range m.appointments {
		if slot, ok := m.slots[a.SlotID]; ok && slot.DoctorID == doctorID {
			out = append(out, *m.detailLocked(a))
		}
	}
	return out, nil
}

func (m *memRepo) PruneExpiredOpenSlots(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.slots {
		if !s.Booked && s.EndTime.Before(now) {
			delete(m.slots, id)
			n++
		}
	}
	return n, nil
}

func (m *memRepo) doctorSlotsLocked(doctorID uuid.UUID) []Slot {
	var out []Slot
	for _, s := range m.slots {
		if s.DoctorID == doctorID {
			out = append(out, s)
		}
	}
	return out
}

func (m *memRepo) detailLocked(a Appointment) *AppointmentDetail {
	det := AppointmentDetail{Appointment: a}
	if slot, ok := m.slots[a.SlotID]; ok {
		det.Slot = &slot
		if doctor, ok := m.users[slot.DoctorID]; ok {
			det.Doctor = &doctor
		}
	}
	if patient, ok := m.users[a.PatientID]; ok {
		det.Patient = &patient
	}
	return &det
}

func sortSlots(slots []Slot) {
	sort.Slice(slots, func(i, j int) bool {
		return slots[i].StartTime.Before(slots[j].StartTime)
	})
}
