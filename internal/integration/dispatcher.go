package integration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicdesk/clinic-scheduling/internal/scheduling"
)

// AppointmentStore is the one write the dispatcher performs against the
// booking core: recording the patient's external calendar event id.
type AppointmentStore interface {
	SetAppointmentCalendarEvent(ctx context.Context, appointmentID uuid.UUID, eventID string) error
}

// Dispatcher fans a committed booking out to the calendar and email
// collaborators. Everything here is best-effort: each downstream call is
// independent, runs after the booking transaction and outside any lock,
// and its failure is logged and swallowed. A booking is never undone
// because a calendar or mail server had a bad day.
type Dispatcher struct {
	calendar CalendarClient
	notifier Notifier
	appts    AppointmentStore
	timeout  time.Duration
	log      *zap.Logger

	wg sync.WaitGroup
}

func NewDispatcher(calendar CalendarClient, notifier Notifier, appts AppointmentStore, timeout time.Duration, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		calendar: calendar,
		notifier: notifier,
		appts:    appts,
		timeout:  timeout,
		log:      log,
	}
}

// AppointmentBooked schedules the fan-out on its own goroutine so the
// booking response never waits on a downstream call.
func (d *Dispatcher) AppointmentBooked(detail scheduling.AppointmentDetail) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		d.run(ctx, detail)
	}()
}

// Wait blocks until in-flight dispatches finish. Called on shutdown so a
// confirmation email is not lost to process exit.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context, detail scheduling.AppointmentDetail) {
	apptID := zap.String("appointment_id", detail.ID.String())

	// Doctor's calendar.
	_, err := d.calendar.CreateEvent(ctx, detail.Doctor, Event{
		Summary:     fmt.Sprintf("Appointment with %s", detail.Patient.Name),
		Description: fmt.Sprintf("Patient Email: %s", detail.Patient.Email),
		Start:       detail.Slot.StartTime,
		End:         detail.Slot.EndTime,
	})
	if err != nil {
		d.log.Error("doctor calendar sync failed", apptID, zap.Error(err))
	}

	// Patient's calendar; this event id is the one we keep.
	eventID, err := d.calendar.CreateEvent(ctx, detail.Patient, Event{
		Summary:     fmt.Sprintf("Appointment with Dr. %s", detail.Doctor.Name),
		Description: fmt.Sprintf("Doctor Email: %s", detail.Doctor.Email),
		Start:       detail.Slot.StartTime,
		End:         detail.Slot.EndTime,
	})
	if err != nil {
		d.log.Error("patient calendar sync failed", apptID, zap.Error(err))
	} else if eventID != "" {
		if err := d.appts.SetAppointmentCalendarEvent(ctx, detail.ID, eventID); err != nil {
			// The event reference is lost but the appointment stands.
			d.log.Error("failed to persist calendar event id", apptID, zap.Error(err))
		}
	}

	// Confirmation email.
	details := fmt.Sprintf("Appointment with Dr. %s on %s",
		detail.Doctor.Name, detail.Slot.StartTime.Format("2006-01-02 at 15:04"))
	err = d.notifier.Send(ctx, ActionBookingConfirmation, detail.Patient.Email, map[string]string{
		"userName":  detail.Patient.Name,
		"bookingId": detail.ID.String(),
		"details":   details,
	})
	if err != nil {
		d.log.Error("booking confirmation email failed", apptID, zap.Error(err))
	}
}
