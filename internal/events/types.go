package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	TypeBookingCreated         = "booking.created"
	TypeBookingConfirmed       = "booking.confirmed"
	TypeBookingCancelled       = "booking.cancelled"
	TypeBookingRescheduled     = "booking.rescheduled"
	TypeBookingStatusChanged   = "booking.status_changed"
	TypeBookingPaymentUpdated  = "booking.payment_updated"
	TypeBookingExpired         = "booking.expired"
	TypeReconciliationRequired = "payment.reconciliation_required"
)

// BookingSnapshot is the state of a booking at one point in time, enough to
// reconstruct any change from a before/after pair.
type BookingSnapshot struct {
	ID              uuid.UUID  `json:"id"`
	DoctorID        uuid.UUID  `json:"doctor_id"`
	PatientID       uuid.UUID  `json:"patient_id"`
	BranchID        uuid.UUID  `json:"branch_id"`
	AppointmentDate string     `json:"appointment_date"`
	AppointmentTime time.Time  `json:"appointment_time"`
	SlotNumber      int        `json:"slot_number"`
	TokenNumber     int        `json:"token_number"`
	Status          string     `json:"status"`
	PaymentStatus   string     `json:"payment_status"`
	BookingFee      string     `json:"booking_fee"`
	AmountPaid      *string    `json:"amount_paid,omitempty"`
	PaymentID       *string    `json:"payment_id,omitempty"`
	PaymentDate     *time.Time `json:"payment_date,omitempty"`
	RescheduledFrom *uuid.UUID `json:"rescheduled_from,omitempty"`
	RescheduledTo   *uuid.UUID `json:"rescheduled_to,omitempty"`
}

// Contact is who gets told about the change.
type Contact struct {
	PatientName string `json:"patient_name"`
	Phone       string `json:"phone"`
	DoctorName  string `json:"doctor_name"`
}

// BookingChanged is the payload of every booking.* event.
type BookingChanged struct {
	BookingID uuid.UUID        `json:"booking_id"`
	Actor     *uuid.UUID       `json:"actor,omitempty"`
	Before    *BookingSnapshot `json:"before,omitempty"`
	After     *BookingSnapshot `json:"after,omitempty"`
	Reason    string           `json:"reason,omitempty"`
	Contact   Contact          `json:"contact"`
	// Related points at the other booking of a reschedule pair.
	Related *BookingSnapshot `json:"related,omitempty"`
}

// ReconciliationRequired flags money taken at the processor that the booking
// side could not account for.
type ReconciliationRequired struct {
	Reason     string     `json:"reason"`
	OrderID    string     `json:"order_id"`
	PaymentID  string     `json:"payment_id"`
	Amount     string     `json:"amount"`
	Currency   string     `json:"currency"`
	StatusCode string     `json:"status_code"`
	BookingID  *uuid.UUID `json:"booking_id,omitempty"`
	Detail     string     `json:"detail,omitempty"`
	DetectedAt time.Time  `json:"detected_at"`
}

// OrderAggregateID derives a stable aggregate id for a payment order that has
// no booking behind it.
func OrderAggregateID(orderID string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("payhere-order:"+orderID))
}
