package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-booking/internal/events"
	"github.com/hackgods/clinic-booking/pkg/logging"
)

type recordingSender struct {
	sent []Message
	err  error
}

func (r *recordingSender) Send(ctx context.Context, msg Message) error {
	r.sent = append(r.sent, msg)
	return r.err
}

func entryFor(t *testing.T, eventType string, payload events.BookingChanged) events.Entry {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return events.Entry{ID: uuid.New(), Type: eventType, AggregateID: payload.BookingID, Payload: data}
}

func snapshot(status string, token int) *events.BookingSnapshot {
	return &events.BookingSnapshot{
		ID:              uuid.New(),
		AppointmentDate: "2026-11-02",
		AppointmentTime: time.Date(2026, 11, 2, 10, 0, 0, 0, time.UTC),
		TokenNumber:     token,
		Status:          status,
	}
}

var contact = events.Contact{PatientName: "Nimal Perera", Phone: "94771234567", DoctorName: "Silva"}

func TestHandlerSendsConfirmation(t *testing.T) {
	s := &recordingSender{}
	var observed []string
	h := NewHandler(s, logging.Discard()).WithObserver(func(kind string, err error) {
		observed = append(observed, kind)
	})

	after := snapshot("confirmed", 3)
	err := h.Handle(context.Background(), entryFor(t, events.TypeBookingConfirmed, events.BookingChanged{
		BookingID: after.ID, After: after, Contact: contact,
	}))
	require.NoError(t, err)
	require.Len(t, s.sent, 1)
	assert.Equal(t, "94771234567", s.sent[0].To)
	assert.Equal(t, KindConfirmed, s.sent[0].Kind)
	assert.Contains(t, s.sent[0].Body, "Token No: 3")
	assert.Contains(t, s.sent[0].Body, "Dr. Silva")
	assert.Equal(t, []string{KindConfirmed}, observed)
}

func TestHandlerStatusChanges(t *testing.T) {
	cases := map[string]bool{
		"checked_in": true,
		"no_show":    true,
		"completed":  true,
		"in_session": false,
		"confirmed":  false,
	}
	for status, wantSMS := range cases {
		t.Run(status, func(t *testing.T) {
			s := &recordingSender{}
			after := snapshot(status, 1)
			err := NewHandler(s, logging.Discard()).Handle(context.Background(), entryFor(t, events.TypeBookingStatusChanged, events.BookingChanged{
				BookingID: after.ID, After: after, Contact: contact,
			}))
			require.NoError(t, err)
			if wantSMS {
				assert.Len(t, s.sent, 1)
			} else {
				assert.Empty(t, s.sent)
			}
		})
	}
}

func TestHandlerRescheduleUsesNewBooking(t *testing.T) {
	s := &recordingSender{}
	old := snapshot("cancelled", 2)
	next := snapshot("confirmed", 7)
	next.AppointmentTime = time.Date(2026, 11, 3, 9, 30, 0, 0, time.UTC)

	err := NewHandler(s, logging.Discard()).Handle(context.Background(), entryFor(t, events.TypeBookingRescheduled, events.BookingChanged{
		BookingID: old.ID, After: old, Related: next, Contact: contact,
	}))
	require.NoError(t, err)
	require.Len(t, s.sent, 1)
	assert.Contains(t, s.sent[0].Body, "New Token No: 7")
	assert.Contains(t, s.sent[0].Body, "2026-11-03 at 09:30 AM")
}

func TestHandlerCancellationIncludesReason(t *testing.T) {
	s := &recordingSender{}
	after := snapshot("cancelled", 4)
	err := NewHandler(s, logging.Discard()).Handle(context.Background(), entryFor(t, events.TypeBookingCancelled, events.BookingChanged{
		BookingID: after.ID, After: after, Contact: contact, Reason: "doctor unavailable",
	}))
	require.NoError(t, err)
	require.Len(t, s.sent, 1)
	assert.Contains(t, s.sent[0].Body, "Reason: doctor unavailable.")
}

func TestHandlerFailureIsTyped(t *testing.T) {
	s := &recordingSender{err: errors.New("gateway timeout")}
	after := snapshot("confirmed", 1)
	err := NewHandler(s, logging.Discard()).Handle(context.Background(), entryFor(t, events.TypeBookingConfirmed, events.BookingChanged{
		BookingID: after.ID, After: after, Contact: contact,
	}))
	assert.ErrorIs(t, err, ErrNotificationDispatchFailed)
}

func TestHandlerSkipsWithoutPhoneOrUnrelatedEvents(t *testing.T) {
	s := &recordingSender{}
	h := NewHandler(s, logging.Discard())
	after := snapshot("confirmed", 1)

	require.NoError(t, h.Handle(context.Background(), entryFor(t, events.TypeBookingConfirmed, events.BookingChanged{
		BookingID: after.ID, After: after, Contact: events.Contact{PatientName: "No Phone"},
	})))
	require.NoError(t, h.Handle(context.Background(), entryFor(t, events.TypeBookingCreated, events.BookingChanged{
		BookingID: after.ID, After: after, Contact: contact,
	})))
	assert.Empty(t, s.sent)
}
