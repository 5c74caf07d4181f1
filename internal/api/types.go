package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/audit"
	"github.com/hackgods/clinic-booking/internal/booking"
	"github.com/hackgods/clinic-booking/internal/payhere"
)

type CreateBookingRequest struct {
	PatientID   string `json:"patient_id" validate:"required,uuid"`
	DoctorID    string `json:"doctor_id" validate:"required,uuid"`
	BranchID    string `json:"branch_id" validate:"omitempty,uuid"`
	Date        string `json:"date" validate:"required,datetime=2006-01-02"`
	SlotNumber  int    `json:"slot_number" validate:"required,min=1"`
	PaymentMode string `json:"payment_mode" validate:"omitempty,oneof=online cash waived"`
	Notes       string `json:"notes" validate:"max=500"`
}

type CustomerRequest struct {
	FirstName string `json:"first_name" validate:"max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
	Email     string `json:"email" validate:"omitempty,email"`
	Phone     string `json:"phone" validate:"max=20"`
	Address   string `json:"address" validate:"max=200"`
	City      string `json:"city" validate:"max=100"`
	Country   string `json:"country" validate:"max=100"`
}

func (c *CustomerRequest) customer() payhere.Customer {
	if c == nil {
		return payhere.Customer{}
	}
	return payhere.Customer{
		FirstName: c.FirstName,
		LastName:  c.LastName,
		Email:     c.Email,
		Phone:     c.Phone,
		Address:   c.Address,
		City:      c.City,
		Country:   c.Country,
	}
}

// CheckoutRequest starts a paid booking without creating a row yet.
type CheckoutRequest struct {
	CreateBookingRequest
	SlotCount int              `json:"slot_count" validate:"omitempty,min=1,max=10"`
	Customer  *CustomerRequest `json:"customer"`
}

type PayBookingRequest struct {
	Customer *CustomerRequest `json:"customer"`
}

type CancelRequest struct {
	Reason   string `json:"reason" validate:"max=500"`
	Override bool   `json:"override"`
}

type RescheduleRequest struct {
	Date       string `json:"date" validate:"required,datetime=2006-01-02"`
	SlotNumber int    `json:"slot_number" validate:"required,min=1"`
	DoctorID   string `json:"doctor_id" validate:"omitempty,uuid"`
	BranchID   string `json:"branch_id" validate:"omitempty,uuid"`
	Reason     string `json:"reason" validate:"max=500"`
	Override   bool   `json:"override"`
}

type StatusRequest struct {
	Status   string `json:"status" validate:"required,oneof=pending_payment confirmed checked_in in_session completed cancelled no_show"`
	Reason   string `json:"reason" validate:"max=500"`
	Override bool   `json:"override"`
}

type BookingResponse struct {
	ID              uuid.UUID  `json:"id"`
	DoctorID        uuid.UUID  `json:"doctor_id"`
	PatientID       uuid.UUID  `json:"patient_id"`
	BranchID        uuid.UUID  `json:"branch_id"`
	ScheduleID      *uuid.UUID `json:"schedule_id,omitempty"`
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
	PaymentOrderID  *string    `json:"payment_order_id,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	CancelReason    *string    `json:"cancel_reason,omitempty"`
	RescheduledFrom *uuid.UUID `json:"rescheduled_from,omitempty"`
	RescheduledTo   *uuid.UUID `json:"rescheduled_to,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func toBookingResponse(b *booking.Booking) BookingResponse {
	resp := BookingResponse{
		ID:              b.ID,
		DoctorID:        b.DoctorID,
		PatientID:       b.PatientID,
		BranchID:        b.BranchID,
		ScheduleID:      b.ScheduleID,
		AppointmentDate: b.AppointmentDate.Format(booking.DateLayout),
		AppointmentTime: b.AppointmentTime,
		SlotNumber:      b.SlotNumber,
		TokenNumber:     b.TokenNumber,
		Status:          string(b.Status),
		PaymentStatus:   string(b.PaymentStatus),
		BookingFee:      b.BookingFee.StringFixed(2),
		PaymentID:       b.PaymentID,
		PaymentDate:     b.PaymentDate,
		PaymentOrderID:  b.PaymentOrderID,
		Notes:           b.Notes,
		CancelReason:    b.CancelReason,
		RescheduledFrom: b.RescheduledFrom,
		RescheduledTo:   b.RescheduledTo,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
	if b.AmountPaid != nil {
		v := b.AmountPaid.StringFixed(2)
		resp.AmountPaid = &v
	}
	return resp
}

func toBookingResponses(list []booking.Booking) []BookingResponse {
	out := make([]BookingResponse, 0, len(list))
	for i := range list {
		out = append(out, toBookingResponse(&list[i]))
	}
	return out
}

type ListBookingsResponse struct {
	Bookings []BookingResponse `json:"bookings"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

type RescheduleResponse struct {
	Old BookingResponse `json:"old"`
	New BookingResponse `json:"new"`
}

type CheckoutResponse struct {
	OrderID   string                 `json:"order_id"`
	ExpiresAt time.Time              `json:"expires_at"`
	Amount    string                 `json:"amount"`
	Currency  string                 `json:"currency"`
	Payment   payhere.PaymentRequest `json:"payment"`
}

type PaymentResponse struct {
	Payment payhere.PaymentRequest `json:"payment"`
}

// NotifyResponse acknowledges a processor callback.
type NotifyResponse struct {
	Status         string            `json:"status"`
	Outcome        string            `json:"outcome,omitempty"`
	Duplicate      bool              `json:"duplicate,omitempty"`
	Reconciliation string            `json:"reconciliation,omitempty"`
	Error          string            `json:"error,omitempty"`
	Bookings       []BookingResponse `json:"bookings,omitempty"`
}

type AuditEntryResponse struct {
	ID        uuid.UUID  `json:"id"`
	ActorID   *uuid.UUID `json:"actor_id,omitempty"`
	Action    string     `json:"action"`
	Before    any        `json:"before,omitempty"`
	After     any        `json:"after,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func toAuditResponses(entries []audit.Entry) []AuditEntryResponse {
	out := make([]AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		r := AuditEntryResponse{
			ID:        e.ID,
			ActorID:   e.ActorID,
			Action:    e.Action,
			Reason:    e.Reason,
			CreatedAt: e.CreatedAt,
		}
		if len(e.Before) > 0 {
			r.Before = e.Before
		}
		if len(e.After) > 0 {
			r.After = e.After
		}
		out = append(out, r)
	}
	return out
}

type CleanupResponse struct {
	Expired int    `json:"expired"`
	MaxAge  string `json:"max_age"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}
