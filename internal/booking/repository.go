package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)

	// FindSchedule returns the date override for the day if one exists,
	// otherwise the weekly template. ErrScheduleNotFound when neither does.
	FindSchedule(ctx context.Context, doctorID uuid.UUID, date time.Time) (*Schedule, error)
	BookedSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]int, error)

	GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error)
	ListBookings(ctx context.Context, f Filter) ([]Booking, error)
	FindByPaymentOrder(ctx context.Context, orderID string) ([]Booking, error)

	// InTx runs fn in one database transaction. Events appended through the
	// TxRepository commit or roll back with the booking rows.
	InTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error
}

// TxRepository is the write side, only available inside InTx.
type TxRepository interface {
	// LockDoctorDay serializes writers on one doctor's day until commit.
	LockDoctorDay(ctx context.Context, doctorID uuid.UUID, date time.Time) error
	GetBookingForUpdate(ctx context.Context, id uuid.UUID) (*Booking, error)
	FindByPaymentOrderForUpdate(ctx context.Context, orderID string) ([]Booking, error)
	SlotTaken(ctx context.Context, doctorID uuid.UUID, date time.Time, slot int) (bool, error)
	NextTokenNumber(ctx context.Context, doctorID uuid.UUID, date time.Time) (int, error)

	// InsertBooking returns ErrSlotConflict when an active booking already
	// holds the slot.
	InsertBooking(ctx context.Context, b *Booking) error
	UpdateBooking(ctx context.Context, b *Booking) error
	// ExpireStalePending cancels pending_payment bookings created before
	// cutoff and returns them in their new state.
	ExpireStalePending(ctx context.Context, cutoff time.Time) ([]Booking, error)

	AppendEvent(ctx context.Context, eventType string, aggregateID uuid.UUID, payload any) error
}
