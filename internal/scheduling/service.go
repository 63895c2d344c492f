package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	redisclient "github.com/clinicdesk/clinic-scheduling/internal/redis"
)

var (
	ErrSlotBeingBooked = errors.New("slot is currently being booked, please retry")
	ErrInvalidRange    = errors.New("end time must be after start time")
	ErrPastStart       = errors.New("availability cannot be created in the past")
	ErrNotDoctor       = errors.New("only doctors can manage availability")
	ErrNotPatient      = errors.New("only patients can book appointments")
	ErrNotSlotOwner    = errors.New("slot belongs to another doctor")
)

// Dispatcher receives a committed booking for post-commit side effects
// (calendar sync, confirmation email). Implementations must not block the
// caller and must never return booking-affecting failures; anything that
// goes wrong downstream is theirs to log and swallow.
type Dispatcher interface {
	AppointmentBooked(detail AppointmentDetail)
}

// NopDispatcher discards bookings. Used by workers that never book.
type NopDispatcher struct{}

func (NopDispatcher) AppointmentBooked(AppointmentDetail) {}

type Service struct {
	repo       Repository
	locker     redisclient.Locker
	dispatcher Dispatcher
	log        *zap.Logger
}

func NewService(repo Repository, locker redisclient.Locker, dispatcher Dispatcher, log *zap.Logger) *Service {
	return &Service{
		repo:       repo,
		locker:     locker,
		dispatcher: dispatcher,
		log:        log,
	}
}

// Availability management (doctor-side)

func (s *Service) CreateSlot(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (*Slot, error) {
	if err := s.requireRole(ctx, doctorID, RoleDoctor); err != nil {
		return nil, err
	}
	if err := validateRange(start, end, time.Now()); err != nil {
		return nil, err
	}

	slot, err := s.repo.CreateSlot(ctx, doctorID, start, end)
	if err != nil {
		if errors.Is(err, ErrSlotOverlap) {
			return nil, err
		}
		return nil, fmt.Errorf("create slot: %w", err)
	}

	s.log.Info("availability slot created",
		zap.String("slot_id", slot.ID.String()),
		zap.String("doctor_id", doctorID.String()),
		zap.Time("start_time", slot.StartTime),
		zap.Time("end_time", slot.EndTime),
	)

	return slot, nil
}

func (s *Service) UpdateSlot(ctx context.Context, doctorID, slotID uuid.UUID, start, end time.Time) (*Slot, error) {
	if err := s.requireRole(ctx, doctorID, RoleDoctor); err != nil {
		return nil, err
	}

	current, err := s.repo.GetSlotByID(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if current.DoctorID != doctorID {
		return nil, ErrNotSlotOwner
	}

	if err := validateRange(start, end, time.Now()); err != nil {
		return nil, err
	}

	slot, err := s.repo.UpdateSlotTimes(ctx, slotID, start, end)
	if err != nil {
		if errors.Is(err, ErrSlotOverlap) || errors.Is(err, ErrSlotBooked) || errors.Is(err, ErrSlotNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("update slot: %w", err)
	}

	return slot, nil
}

func (s *Service) DeleteSlot(ctx context.Context, doctorID, slotID uuid.UUID) error {
	if err := s.requireRole(ctx, doctorID, RoleDoctor); err != nil {
		return err
	}

	current, err := s.repo.GetSlotByID(ctx, slotID)
	if err != nil {
		return err
	}
	if current.DoctorID != doctorID {
		return ErrNotSlotOwner
	}

	if err := s.repo.DeleteSlot(ctx, slotID); err != nil {
		if errors.Is(err, ErrSlotBooked) || errors.Is(err, ErrSlotNotFound) {
			return err
		}
		return fmt.Errorf("delete slot: %w", err)
	}

	return nil
}

// ListOpenSlots is the patient view: unbooked future slots across all
// doctors, soonest first.
func (s *Service) ListOpenSlots(ctx context.Context) ([]Slot, error) {
	slots, err := s.repo.ListOpenSlots(ctx, time.Now())
	if err != nil {
		return nil, fmt.Errorf("list open slots: %w", err)
	}
	return slots, nil
}

// ListDoctorSlots is the doctor view: their own slots regardless of state.
func (s *Service) ListDoctorSlots(ctx context.Context, doctorID uuid.UUID) ([]Slot, error) {
	slots, err := s.repo.ListSlotsByDoctor(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list doctor slots: %w", err)
	}
	return slots, nil
}

// BookSlot claims a slot for a patient. The claim itself is atomic inside
// the repository's transaction; the Redis per-slot lock in front of it
// keeps concurrent bookers from even contending on the row lock and turns
// a lost race into an immediate ErrSlotBeingBooked instead of a blocked
// request. On success the booking is handed to the dispatcher, after
// commit and outside any lock; dispatch failures never unbook.
func (s *Service) BookSlot(ctx context.Context, patientID, slotID uuid.UUID) (*Appointment, error) {
	if err := s.requireRole(ctx, patientID, RolePatient); err != nil {
		return nil, err
	}

	var created *Appointment
	var claimed *Slot

	err := s.locker.WithSlotLock(ctx, slotID, func(lockCtx context.Context) error {
		appt, slot, err := s.repo.ClaimSlot(lockCtx, slotID, patientID, time.Now())
		if err != nil {
			return err
		}
		created = appt
		claimed = slot
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		if errors.Is(err, ErrSlotNotFound) || errors.Is(err, ErrSlotAlreadyBooked) || errors.Is(err, ErrSlotInPast) {
			return nil, err
		}
		return nil, fmt.Errorf("book slot: %w", err)
	}

	s.log.Info("slot booked",
		zap.String("appointment_id", created.ID.String()),
		zap.String("slot_id", slotID.String()),
		zap.String("patient_id", patientID.String()),
	)

	s.dispatch(ctx, created, claimed)

	return created, nil
}

// dispatch hydrates the booking and hands it to the integration
// dispatcher. Failing to hydrate only costs the side effects, never the
// booking, so errors here are logged and dropped.
func (s *Service) dispatch(ctx context.Context, appt *Appointment, slot *Slot) {
	patient, err := s.repo.GetUserByID(ctx, appt.PatientID)
	if err != nil {
		s.log.Error("skipping integration dispatch: load patient",
			zap.String("appointment_id", appt.ID.String()), zap.Error(err))
		return
	}
	doctor, err := s.repo.GetUserByID(ctx, slot.DoctorID)
	if err != nil {
		s.log.Error("skipping integration dispatch: load doctor",
			zap.String("appointment_id", appt.ID.String()), zap.Error(err))
		return
	}

	s.dispatcher.AppointmentBooked(AppointmentDetail{
		Appointment: *appt,
		Slot:        slot,
		Patient:     patient,
		Doctor:      doctor,
	})
}

// Appointment queries (role-scoped)

func (s *Service) GetAppointment(ctx context.Context, principalID uuid.UUID, role Role, id uuid.UUID) (*AppointmentDetail, error) {
	detail, err := s.repo.GetAppointmentDetail(ctx, id)
	if err != nil {
		return nil, err
	}

	// Out-of-scope appointments are indistinguishable from absent ones.
	switch role {
	case RolePatient:
		if detail.PatientID != principalID {
			return nil, ErrAppointmentNotFound
		}
	case RoleDoctor:
		if detail.Slot.DoctorID != principalID {
			return nil, ErrAppointmentNotFound
		}
	default:
		return nil, ErrAppointmentNotFound
	}

	return detail, nil
}

func (s *Service) ListAppointments(ctx context.Context, principalID uuid.UUID, role Role) ([]AppointmentDetail, error) {
	switch role {
	case RolePatient:
		return s.repo.ListAppointmentsByPatient(ctx, principalID)
	case RoleDoctor:
		return s.repo.ListAppointmentsByDoctor(ctx, principalID)
	}
	return nil, nil
}

// PruneExpiredSlots is called periodically by the slot-pruner worker.
func (s *Service) PruneExpiredSlots(ctx context.Context) (int64, error) {
	n, err := s.repo.PruneExpiredOpenSlots(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("prune expired slots: %w", err)
	}
	if n > 0 {
		s.log.Info("pruned expired open slots", zap.Int64("count", n))
	}
	return n, nil
}

// requireRole re-validates the caller's role. The API layer has already
// gated the request; this is the engine trusting but verifying, since a
// booking from a doctor account would violate the data model.
func (s *Service) requireRole(ctx context.Context, userID uuid.UUID, role Role) error {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return err
		}
		return fmt.Errorf("load user: %w", err)
	}
	if user.Role != role {
		if role == RoleDoctor {
			return ErrNotDoctor
		}
		return ErrNotPatient
	}
	return nil
}

func validateRange(start, end, now time.Time) error {
	if !start.Before(end) {
		return ErrInvalidRange
	}
	if start.Before(now) {
		return ErrPastStart
	}
	return nil
}
