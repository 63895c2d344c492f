package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/clinicdesk/clinic-scheduling/internal/scheduling"
)

// SchedulingService is what the HTTP layer needs from the booking core.
type SchedulingService interface {
	CreateSlot(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (*scheduling.Slot, error)
	UpdateSlot(ctx context.Context, doctorID, slotID uuid.UUID, start, end time.Time) (*scheduling.Slot, error)
	DeleteSlot(ctx context.Context, doctorID, slotID uuid.UUID) error
	ListOpenSlots(ctx context.Context) ([]scheduling.Slot, error)
	ListDoctorSlots(ctx context.Context, doctorID uuid.UUID) ([]scheduling.Slot, error)
	BookSlot(ctx context.Context, patientID, slotID uuid.UUID) (*scheduling.Appointment, error)
	GetAppointment(ctx context.Context, principalID uuid.UUID, role scheduling.Role, id uuid.UUID) (*scheduling.AppointmentDetail, error)
	ListAppointments(ctx context.Context, principalID uuid.UUID, role scheduling.Role) ([]scheduling.AppointmentDetail, error)
}

type RouterConfig struct {
	Service SchedulingService
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Log     *zap.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))
	r.Use(PrincipalMiddleware)

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Availability endpoints
	r.Post("/slots", createSlotHandler(cfg.Service))
	r.Get("/slots", listSlotsHandler(cfg.Service))
	r.Put("/slots/{id}", updateSlotHandler(cfg.Service))
	r.Delete("/slots/{id}", deleteSlotHandler(cfg.Service))

	// Appointment endpoints
	r.Post("/appointments", bookAppointmentHandler(cfg.Service))
	r.Get("/appointments", listAppointmentsHandler(cfg.Service))
	r.Get("/appointments/{id}", getAppointmentHandler(cfg.Service))

	return r
}
