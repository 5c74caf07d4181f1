// Package notify sends patient SMS for booking lifecycle events.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/hackgods/clinic-booking/internal/events"
	"github.com/hackgods/clinic-booking/pkg/logging"
)

// ErrNotificationDispatchFailed wraps every send failure. It is logged by the
// dispatcher and never reaches the operation that raised the event.
var ErrNotificationDispatchFailed = errors.New("notification dispatch failed")

const (
	KindConfirmed   = "confirmed"
	KindCancelled   = "cancelled"
	KindRescheduled = "rescheduled"
	KindStatus      = "status"
)

// significant statuses are the ones a patient is told about.
var significant = map[string]bool{
	"checked_in": true,
	"no_show":    true,
	"completed":  true,
}

type sender interface {
	Send(ctx context.Context, msg Message) error
}

// Handler maps booking events to SMS.
type Handler struct {
	sender  sender
	logger  *logging.Logger
	observe func(kind string, err error)
}

func NewHandler(s sender, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{sender: s, logger: logger}
}

// WithObserver registers a callback told about every send attempt.
func (h *Handler) WithObserver(fn func(kind string, err error)) *Handler {
	h.observe = fn
	return h
}

func (h *Handler) Name() string { return "sms" }

func (h *Handler) Handle(ctx context.Context, entry events.Entry) error {
	switch entry.Type {
	case events.TypeBookingConfirmed, events.TypeBookingCancelled,
		events.TypeBookingRescheduled, events.TypeBookingStatusChanged:
	default:
		return nil
	}

	var payload events.BookingChanged
	if err := entry.Decode(&payload); err != nil {
		return err
	}
	msg, ok := Compose(entry.Type, payload)
	if !ok {
		return nil
	}
	if msg.To == "" {
		h.logger.Warn("no phone number on booking, sms skipped", "booking_id", payload.BookingID, "kind", msg.Kind)
		return nil
	}

	err := h.sender.Send(ctx, msg)
	if h.observe != nil {
		h.observe(msg.Kind, err)
	}
	if err != nil {
		return fmt.Errorf("%w: %s for booking %s: %v", ErrNotificationDispatchFailed, msg.Kind, payload.BookingID, err)
	}
	return nil
}

// Compose renders the SMS for an event. ok is false when the event does not
// warrant a message.
func Compose(eventType string, payload events.BookingChanged) (Message, bool) {
	after := payload.After
	if after == nil {
		return Message{}, false
	}
	c := payload.Contact
	name := c.PatientName
	if name == "" {
		name = "Patient"
	}
	when := formatWhen(after)

	var kind, body string
	switch eventType {
	case events.TypeBookingConfirmed:
		kind = KindConfirmed
		body = fmt.Sprintf("Dear %s, your appointment with Dr. %s on %s is confirmed. Token No: %d.",
			name, c.DoctorName, when, after.TokenNumber)

	case events.TypeBookingCancelled:
		kind = KindCancelled
		body = fmt.Sprintf("Dear %s, your appointment with Dr. %s on %s (Token No: %d) has been cancelled.",
			name, c.DoctorName, when, after.TokenNumber)
		if payload.Reason != "" {
			body += " Reason: " + payload.Reason + "."
		}

	case events.TypeBookingRescheduled:
		// The event is raised on the old booking; Related is the replacement.
		next := payload.Related
		if next == nil {
			return Message{}, false
		}
		kind = KindRescheduled
		body = fmt.Sprintf("Dear %s, your appointment has been rescheduled to %s with Dr. %s. New Token No: %d.",
			name, formatWhen(next), c.DoctorName, next.TokenNumber)

	case events.TypeBookingStatusChanged:
		if !significant[after.Status] {
			return Message{}, false
		}
		kind = KindStatus
		body = statusBody(name, c.DoctorName, after)

	default:
		return Message{}, false
	}
	return Message{To: c.Phone, Body: body, Kind: kind}, true
}

func statusBody(name, doctor string, s *events.BookingSnapshot) string {
	switch s.Status {
	case "checked_in":
		return fmt.Sprintf("Dear %s, you are checked in for Dr. %s. Token No: %d. Please wait to be called.", name, doctor, s.TokenNumber)
	case "no_show":
		return fmt.Sprintf("Dear %s, you missed your appointment with Dr. %s on %s. Please contact us to rebook.", name, doctor, formatWhen(s))
	default:
		return fmt.Sprintf("Dear %s, thank you for visiting Dr. %s today. Your appointment is complete.", name, doctor)
	}
}

func formatWhen(s *events.BookingSnapshot) string {
	if s.AppointmentTime.IsZero() {
		return s.AppointmentDate
	}
	return s.AppointmentTime.Format("2006-01-02 at 03:04 PM")
}
