package booking

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DateLayout is the wire and storage format of an appointment date.
const DateLayout = "2006-01-02"

type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusConfirmed      Status = "confirmed"
	StatusCheckedIn      Status = "checked_in"
	StatusInSession      Status = "in_session"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
	StatusNoShow         Status = "no_show"
)

type PaymentStatus string

const (
	PaymentPending     PaymentStatus = "pending"
	PaymentPaid        PaymentStatus = "paid"
	PaymentWaived      PaymentStatus = "waived"
	PaymentCanceled    PaymentStatus = "canceled"
	PaymentFailed      PaymentStatus = "failed"
	PaymentChargedback PaymentStatus = "chargedback"
	PaymentExpired     PaymentStatus = "expired"
	PaymentUnknown     PaymentStatus = "unknown"
)

// PaymentMode is how the booking fee is settled at creation time.
type PaymentMode string

const (
	ModeOnline PaymentMode = "online"
	ModeCash   PaymentMode = "cash"
	ModeWaived PaymentMode = "waived"
)

type Branch struct {
	ID   uuid.UUID
	Name string
}

type Doctor struct {
	ID         uuid.UUID
	BranchID   uuid.UUID
	Name       string
	Phone      *string
	BookingFee decimal.Decimal
	Active     bool
}

type Patient struct {
	ID    uuid.UUID
	Name  string
	Phone string
	Email *string
}

// Schedule is a doctor's working window for a day, either a weekly template
// (DayOfWeek set) or a one-off override for a single date (Date set).
// Times are minutes after midnight in the clinic timezone.
type Schedule struct {
	ID          uuid.UUID
	DoctorID    uuid.UUID
	BranchID    uuid.UUID
	DayOfWeek   *int
	Date        *time.Time
	StartMinute int
	EndMinute   int
	SlotMinutes int
	MaxPatients int
	Blocked     bool
	BlockReason string
}

// Capacity is the number of bookable slots: the window divided by slot length,
// never more than MaxPatients. A blocked day has none.
func (s Schedule) Capacity() int {
	if s.Blocked || s.SlotMinutes <= 0 {
		return 0
	}
	window := s.EndMinute - s.StartMinute
	if window <= 0 {
		return 0
	}
	n := window / s.SlotMinutes
	if s.MaxPatients > 0 && n > s.MaxPatients {
		n = s.MaxPatients
	}
	return n
}

// SlotStart is when slot number slot (1-based) begins on date.
func (s Schedule) SlotStart(date time.Time, slot int, loc *time.Location) time.Time {
	y, m, d := date.Date()
	minute := s.StartMinute + (slot-1)*s.SlotMinutes
	return time.Date(y, m, d, 0, 0, 0, 0, loc).Add(time.Duration(minute) * time.Minute)
}

type Booking struct {
	ID              uuid.UUID
	DoctorID        uuid.UUID
	PatientID       uuid.UUID
	BranchID        uuid.UUID
	ScheduleID      *uuid.UUID
	AppointmentDate time.Time
	AppointmentTime time.Time
	SlotNumber      int
	TokenNumber     int
	Status          Status
	PaymentStatus   PaymentStatus
	BookingFee      decimal.Decimal
	AmountPaid      *decimal.Decimal
	PaymentID       *string
	PaymentDate     *time.Time
	PaymentOrderID  *string
	Notes           string
	CancelReason    *string
	RescheduledFrom *uuid.UUID
	RescheduledTo   *uuid.UUID
	CreatedBy       *uuid.UUID
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Active bookings hold their slot and token.
func (b Booking) Active() bool {
	return b.Status != StatusCancelled
}

type SlotState string

const (
	SlotAvailable SlotState = "available"
	SlotBooked    SlotState = "booked"
)

type SlotInfo struct {
	Number   int       `json:"number"`
	Status   SlotState `json:"status"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
	Bookable bool      `json:"bookable"`
}

type SlotAvailability struct {
	DoctorID    uuid.UUID  `json:"doctor_id"`
	BranchID    uuid.UUID  `json:"branch_id"`
	Date        string     `json:"date"`
	ScheduleID  *uuid.UUID `json:"schedule_id,omitempty"`
	SlotMinutes int        `json:"slot_minutes"`
	Capacity    int        `json:"capacity"`
	Blocked     bool       `json:"blocked"`
	Reason      string     `json:"reason,omitempty"`
	Slots       []SlotInfo `json:"slots"`
}

// Draft is a booking intent waiting on payment. It lives only in the draft
// cache and is consumed by the payment notification.
type Draft struct {
	OrderID     string          `json:"order_id"`
	ScheduleID  uuid.UUID       `json:"schedule_id"`
	PatientID   uuid.UUID       `json:"patient_id"`
	DoctorID    uuid.UUID       `json:"doctor_id"`
	BranchID    uuid.UUID       `json:"branch_id"`
	Date        string          `json:"date"`
	SlotNumber  int             `json:"slot_number"`
	SlotCount   int             `json:"slot_count"`
	BookingFee  decimal.Decimal `json:"booking_fee"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Currency    string          `json:"currency"`
	Notes       string          `json:"notes,omitempty"`
	Actor       *uuid.UUID      `json:"actor,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

type CreateInput struct {
	PatientID   uuid.UUID
	DoctorID    uuid.UUID
	BranchID    *uuid.UUID
	Date        time.Time
	SlotNumber  int
	PaymentMode PaymentMode
	Notes       string
	Actor       *uuid.UUID
}

type CheckoutInput struct {
	CreateInput
	SlotCount int
}

type CancelInput struct {
	BookingID            uuid.UUID
	Reason               string
	Actor                *uuid.UUID
	OverrideRestrictions bool
}

type RescheduleInput struct {
	BookingID            uuid.UUID
	NewDate              time.Time
	NewSlot              int
	NewDoctorID          *uuid.UUID
	NewBranchID          *uuid.UUID
	Reason               string
	Actor                *uuid.UUID
	OverrideRestrictions bool
}

type StatusInput struct {
	BookingID uuid.UUID
	Status    Status
	Reason    string
	Actor     *uuid.UUID
	// OverrideRestrictions only matters when Status is cancelled.
	OverrideRestrictions bool
}

type Filter struct {
	Date      *time.Time
	DoctorID  *uuid.UUID
	BranchID  *uuid.UUID
	PatientID *uuid.UUID
	Status    *Status
	Limit     int
	Offset    int
}

type RescheduleResult struct {
	Old *Booking
	New *Booking
}

// PaymentResult describes what a payment notification did.
type PaymentResult struct {
	Outcome   string
	Bookings  []Booking
	Duplicate bool
	// Reconciliation is set when money needs operator attention.
	Reconciliation string
}
