package booking

import (
	"context"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/events"
)

func snapshot(b *Booking) *events.BookingSnapshot {
	if b == nil {
		return nil
	}
	s := &events.BookingSnapshot{
		ID:              b.ID,
		DoctorID:        b.DoctorID,
		PatientID:       b.PatientID,
		BranchID:        b.BranchID,
		AppointmentDate: b.AppointmentDate.Format(DateLayout),
		AppointmentTime: b.AppointmentTime,
		SlotNumber:      b.SlotNumber,
		TokenNumber:     b.TokenNumber,
		Status:          string(b.Status),
		PaymentStatus:   string(b.PaymentStatus),
		BookingFee:      b.BookingFee.StringFixed(2),
		PaymentID:       b.PaymentID,
		PaymentDate:     b.PaymentDate,
		RescheduledFrom: b.RescheduledFrom,
		RescheduledTo:   b.RescheduledTo,
	}
	if b.AmountPaid != nil {
		v := b.AmountPaid.StringFixed(2)
		s.AmountPaid = &v
	}
	return s
}

// change is one booking event waiting to be appended.
type change struct {
	eventType string
	before    *events.BookingSnapshot
	after     *Booking
	related   *Booking
	reason    string
	actor     *uuid.UUID
}

func (s *Service) emit(ctx context.Context, tx TxRepository, c change, contact events.Contact) error {
	payload := events.BookingChanged{
		BookingID: c.after.ID,
		Actor:     c.actor,
		Before:    c.before,
		After:     snapshot(c.after),
		Reason:    c.reason,
		Contact:   contact,
		Related:   snapshot(c.related),
	}
	return tx.AppendEvent(ctx, c.eventType, c.after.ID, payload)
}

// contact is best effort; a missing patient phone only costs the SMS.
func (s *Service) contact(ctx context.Context, patientID, doctorID uuid.UUID) events.Contact {
	var c events.Contact
	if p, err := s.repo.GetPatient(ctx, patientID); err == nil {
		c.PatientName = p.Name
		c.Phone = p.Phone
	} else {
		s.logger.Warn("load patient for notification failed", "patient_id", patientID, "error", err)
	}
	if d, err := s.repo.GetDoctor(ctx, doctorID); err == nil {
		c.DoctorName = d.Name
	} else {
		s.logger.Warn("load doctor for notification failed", "doctor_id", doctorID, "error", err)
	}
	return c
}
