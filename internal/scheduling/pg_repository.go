package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanUser(row pgx.Row) (*User, error) {
	var u User

	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.Role,
		&u.CalendarAccessToken,
		&u.CalendarRefreshToken,
		&u.CalendarTokenURI,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	return &u, nil
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot

	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.StartTime,
		&s.EndTime,
		&s.Booked,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.SlotID,
		&a.PatientID,
		&a.CalendarEventID,
		&a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

const userColumns = `id, name, email, role, calendar_access_token, calendar_refresh_token, calendar_token_uri, created_at, updated_at`
const slotColumns = `id, doctor_id, start_time, end_time, booked, created_at, updated_at`

// Users

func (r *PgRepository) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id)
	return scanUser(row)
}

func (r *PgRepository) UpdateCalendarAccessToken(ctx context.Context, userID uuid.UUID, token string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users
		SET calendar_access_token = $2,
		    updated_at = now()
		WHERE id = $1
	`, userID, token)
	if err != nil {
		return fmt.Errorf("update calendar access token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Slots

// CreateSlot inserts an unbooked slot after re-checking the doctor's other
// slots for overlap inside the same transaction. The check runs under
// read-committed isolation, which is best-effort against two perfectly
// concurrent creations for the same doctor.
func (r *PgRepository) CreateSlot(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (*Slot, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	existing, err := listDoctorSlotsTx(ctx, tx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("load doctor slots: %w", err)
	}
	if c := ConflictingSlot(existing, start, end, uuid.Nil); c != nil {
		return nil, ErrSlotOverlap
	}

	id := uuid.New()
	row := tx.QueryRow(ctx, `
		INSERT INTO availability_slots (id, doctor_id, start_time, end_time, booked, created_at, updated_at)
		VALUES ($1, $2, $3, $4, false, now(), now())
		RETURNING `+slotColumns+`
	`, id, doctorID, start, end)

	slot, err := scanSlot(row)
	if err != nil {
		return nil, fmt.Errorf("insert slot: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return slot, nil
}

// UpdateSlotTimes moves an unbooked slot to a new range, re-checking
// overlap against the doctor's other slots (excluding itself).
func (r *PgRepository) UpdateSlotTimes(ctx context.Context, slotID uuid.UUID, start, end time.Time) (*Slot, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	current, err := scanSlot(tx.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM availability_slots
		WHERE id = $1
		FOR UPDATE
	`, slotID))
	if err != nil {
		return nil, err
	}
	if current.Booked {
		return nil, ErrSlotBooked
	}

	existing, err := listDoctorSlotsTx(ctx, tx, current.DoctorID)
	if err != nil {
		return nil, fmt.Errorf("load doctor slots: %w", err)
	}
	if c := ConflictingSlot(existing, start, end, slotID); c != nil {
		return nil, ErrSlotOverlap
	}

	row := tx.QueryRow(ctx, `
		UPDATE availability_slots
		SET start_time = $2,
		    end_time = $3,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+slotColumns+`
	`, slotID, start, end)

	slot, err := scanSlot(row)
	if err != nil {
		return nil, fmt.Errorf("update slot: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return slot, nil
}

func (r *PgRepository) DeleteSlot(ctx context.Context, slotID uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	current, err := scanSlot(tx.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM availability_slots
		WHERE id = $1
		FOR UPDATE
	`, slotID))
	if err != nil {
		return err
	}
	if current.Booked {
		return ErrSlotBooked
	}

	if _, err := tx.Exec(ctx, `DELETE FROM availability_slots WHERE id = $1`, slotID); err != nil {
		return fmt.Errorf("delete slot: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

func (r *PgRepository) GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM availability_slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (r *PgRepository) ListOpenSlots(ctx context.Context, now time.Time) ([]Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM availability_slots
		WHERE booked = false
		  AND start_time > $1
		ORDER BY start_time ASC
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSlots(rows)
}

func (r *PgRepository) ListSlotsByDoctor(ctx context.Context, doctorID uuid.UUID) ([]Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM availability_slots
		WHERE doctor_id = $1
		ORDER BY start_time ASC
	`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSlots(rows)
}

// ClaimSlot is the booking critical section. The row lock taken by
// SELECT ... FOR UPDATE is held from the read through commit, so two
// concurrent claims on the same slot serialize: the second blocks until
// the first commits, then observes booked = true. Claims on different
// slots lock different rows and do not block each other.
func (r *PgRepository) ClaimSlot(ctx context.Context, slotID, patientID uuid.UUID, now time.Time) (*Appointment, *Slot, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	slot, err := scanSlot(tx.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM availability_slots
		WHERE id = $1
		FOR UPDATE
	`, slotID))
	if err != nil {
		return nil, nil, err
	}

	if slot.Booked {
		return nil, nil, ErrSlotAlreadyBooked
	}
	if !slot.StartTime.After(now) {
		return nil, nil, ErrSlotInPast
	}

	row := tx.QueryRow(ctx, `
		UPDATE availability_slots
		SET booked = true,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+slotColumns+`
	`, slotID)
	slot, err = scanSlot(row)
	if err != nil {
		return nil, nil, fmt.Errorf("flip booked flag: %w", err)
	}

	id := uuid.New()
	apptRow := tx.QueryRow(ctx, `
		INSERT INTO appointments (id, slot_id, patient_id, calendar_event_id, created_at)
		VALUES ($1, $2, $3, NULL, now())
		RETURNING id, slot_id, patient_id, calendar_event_id, created_at
	`, id, slotID, patientID)

	appt, err := scanAppointment(apptRow)
	if err != nil {
		return nil, nil, fmt.Errorf("insert appointment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit transaction: %w", err)
	}

	return appt, slot, nil
}

// Appointments

func (r *PgRepository) SetAppointmentCalendarEvent(ctx context.Context, appointmentID uuid.UUID, eventID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET calendar_event_id = $2
		WHERE id = $1
		  AND calendar_event_id IS NULL
	`, appointmentID, eventID)
	if err != nil {
		return fmt.Errorf("set calendar event id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

const appointmentDetailQuery = `
	SELECT a.id, a.slot_id, a.patient_id, a.calendar_event_id, a.created_at,
	       s.id, s.doctor_id, s.start_time, s.end_time, s.booked, s.created_at, s.updated_at,
	       p.id, p.name, p.email, p.role, p.calendar_access_token, p.calendar_refresh_token, p.calendar_token_uri, p.created_at, p.updated_at,
	       d.id, d.name, d.email, d.role, d.calendar_access_token, d.calendar_refresh_token, d.calendar_token_uri, d.created_at, d.updated_at
	FROM appointments a
	JOIN availability_slots s ON s.id = a.slot_id
	JOIN users p ON p.id = a.patient_id
	JOIN users d ON d.id = s.doctor_id
`

func scanAppointmentDetail(row pgx.Row) (*AppointmentDetail, error) {
	var det AppointmentDetail
	var slot Slot
	var patient, doctor User

	err := row.Scan(
		&det.ID, &det.SlotID, &det.PatientID, &det.CalendarEventID, &det.CreatedAt,
		&slot.ID, &slot.DoctorID, &slot.StartTime, &slot.EndTime, &slot.Booked, &slot.CreatedAt, &slot.UpdatedAt,
		&patient.ID, &patient.Name, &patient.Email, &patient.Role, &patient.CalendarAccessToken, &patient.CalendarRefreshToken, &patient.CalendarTokenURI, &patient.CreatedAt, &patient.UpdatedAt,
		&doctor.ID, &doctor.Name, &doctor.Email, &doctor.Role, &doctor.CalendarAccessToken, &doctor.CalendarRefreshToken, &doctor.CalendarTokenURI, &doctor.CreatedAt, &doctor.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	det.Slot = &slot
	det.Patient = &patient
	det.Doctor = &doctor
	return &det, nil
}

func (r *PgRepository) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	row := r.pool.QueryRow(ctx, appointmentDetailQuery+` WHERE a.id = $1`, id)
	return scanAppointmentDetail(row)
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID) ([]AppointmentDetail, error) {
	rows, err := r.pool.Query(ctx, appointmentDetailQuery+`
		WHERE a.patient_id = $1
		ORDER BY a.created_at DESC
	`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointmentDetails(rows)
}

func (r *PgRepository) ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID) ([]AppointmentDetail, error) {
	rows, err := r.pool.Query(ctx, appointmentDetailQuery+`
		WHERE s.doctor_id = $1
		ORDER BY a.created_at DESC
	`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointmentDetails(rows)
}

func (r *PgRepository) PruneExpiredOpenSlots(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM availability_slots
		WHERE booked = false
		  AND end_time < $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("prune expired slots: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Row collection helpers

func listDoctorSlotsTx(ctx context.Context, tx pgx.Tx, doctorID uuid.UUID) ([]Slot, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+slotColumns+`
		FROM availability_slots
		WHERE doctor_id = $1
		ORDER BY start_time ASC
	`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSlots(rows)
}

func collectSlots(rows pgx.Rows) ([]Slot, error) {
	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func collectAppointmentDetails(rows pgx.Rows) ([]AppointmentDetail, error) {
	var result []AppointmentDetail
	for rows.Next() {
		d, err := scanAppointmentDetail(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
