package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/audit"
	"github.com/hackgods/clinic-booking/internal/booking"
	"github.com/hackgods/clinic-booking/internal/payhere"
	"github.com/hackgods/clinic-booking/pkg/logging"
)

// BookingService is what the HTTP layer needs from *booking.Service.
type BookingService interface {
	ResolveSlots(ctx context.Context, doctorID uuid.UUID, branchID *uuid.UUID, date time.Time) (*booking.SlotAvailability, error)
	CreateBooking(ctx context.Context, in booking.CreateInput) (*booking.Booking, error)
	GetBooking(ctx context.Context, id uuid.UUID) (*booking.Booking, error)
	ListBookings(ctx context.Context, f booking.Filter) ([]booking.Booking, error)
	Cancel(ctx context.Context, in booking.CancelInput) (*booking.Booking, error)
	Reschedule(ctx context.Context, in booking.RescheduleInput) (*booking.RescheduleResult, error)
	UpdateStatus(ctx context.Context, in booking.StatusInput) (*booking.Booking, error)
	AuditTrail(ctx context.Context, bookingID uuid.UUID) ([]audit.Entry, error)
	CleanupStalePendingBookings(ctx context.Context, maxAge time.Duration) (int, error)

	InitiatePayment(ctx context.Context, in booking.CheckoutInput, customer payhere.Customer) (*payhere.PaymentRequest, *booking.Draft, error)
	PayForBooking(ctx context.Context, bookingID uuid.UUID, customer payhere.Customer) (*payhere.PaymentRequest, error)
	ApplyPaymentNotification(ctx context.Context, n payhere.Notification) (*booking.PaymentResult, error)
}

type RouterConfig struct {
	Service BookingService
	Health  *HealthHandler
	// Metrics serves /metrics when set.
	Metrics         http.Handler
	Logger          *logging.Logger
	DraftTTL        time.Duration
	StalePendingAge time.Duration
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	d := &handlerDeps{
		svc:      cfg.Service,
		validate: newRequestValidator(),
		logger:   logger,
		draftTTL: cfg.DraftTTL,
		staleAge: cfg.StalePendingAge,
	}

	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)

	// Health endpoints
	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	// Called by the payment processor, authenticated by signature.
	r.Post("/payments/payhere/notify", payhereNotifyHandler(d))

	r.Group(func(r chi.Router) {
		r.Use(ActorMiddleware)

		r.Get("/doctors/{doctorID}/slots", slotsHandler(d))

		r.Post("/bookings", createBookingHandler(d))
		r.Get("/bookings", listBookingsHandler(d))
		r.Get("/bookings/{id}", getBookingHandler(d))
		r.Post("/bookings/{id}/cancel", cancelBookingHandler(d))
		r.Post("/bookings/{id}/reschedule", rescheduleBookingHandler(d))
		r.Post("/bookings/{id}/status", updateStatusHandler(d))
		r.Get("/bookings/{id}/audit", auditTrailHandler(d))
		r.Post("/bookings/{id}/payment", payBookingHandler(d))

		r.Post("/payments/checkout", checkoutHandler(d))

		r.Post("/maintenance/cleanup-stale", cleanupStaleHandler(d))
	})

	return r
}
