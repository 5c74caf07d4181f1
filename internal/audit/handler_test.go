package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-booking/internal/events"
)

type memoryRecorder struct {
	entries []Entry
}

func (m *memoryRecorder) Record(ctx context.Context, e Entry) error {
	m.entries = append(m.entries, e)
	return nil
}

func bookingEntry(t *testing.T, eventType string, payload events.BookingChanged) events.Entry {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return events.Entry{
		ID:          uuid.New(),
		Type:        eventType,
		AggregateID: payload.BookingID,
		Payload:     data,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestHandlerRecordsBookingChange(t *testing.T) {
	rec := &memoryRecorder{}
	h := NewHandler(rec)

	bookingID := uuid.New()
	actor := uuid.New()
	entry := bookingEntry(t, events.TypeBookingCancelled, events.BookingChanged{
		BookingID: bookingID,
		Actor:     &actor,
		Before:    &events.BookingSnapshot{ID: bookingID, Status: "confirmed"},
		After:     &events.BookingSnapshot{ID: bookingID, Status: "cancelled"},
		Reason:    "doctor on leave",
	})

	require.NoError(t, h.Handle(context.Background(), entry))
	require.Len(t, rec.entries, 1)

	got := rec.entries[0]
	assert.Equal(t, EntityBooking, got.EntityType)
	assert.Equal(t, bookingID, got.EntityID)
	assert.Equal(t, "cancelled", got.Action)
	assert.Equal(t, &actor, got.ActorID)
	assert.Equal(t, entry.ID, *got.EventID)
	assert.Equal(t, "doctor on leave", got.Reason)

	var before, after events.BookingSnapshot
	require.NoError(t, json.Unmarshal(got.Before, &before))
	require.NoError(t, json.Unmarshal(got.After, &after))
	assert.Equal(t, "confirmed", before.Status)
	assert.Equal(t, "cancelled", after.Status)
}

func TestHandlerRecordsReconciliation(t *testing.T) {
	rec := &memoryRecorder{}
	h := NewHandler(rec)

	data, err := json.Marshal(events.ReconciliationRequired{Reason: "draft_missing", OrderID: "ORD-9"})
	require.NoError(t, err)
	aggregate := events.OrderAggregateID("ORD-9")

	require.NoError(t, h.Handle(context.Background(), events.Entry{
		ID:          uuid.New(),
		Type:        events.TypeReconciliationRequired,
		AggregateID: aggregate,
		Payload:     data,
	}))
	require.Len(t, rec.entries, 1)
	assert.Equal(t, EntityPayment, rec.entries[0].EntityType)
	assert.Equal(t, aggregate, rec.entries[0].EntityID)
	assert.Equal(t, "draft_missing", rec.entries[0].Reason)
}

func TestHandlerIgnoresUnknownTypes(t *testing.T) {
	rec := &memoryRecorder{}
	require.NoError(t, NewHandler(rec).Handle(context.Background(), events.Entry{Type: "clinic.opened"}))
	assert.Empty(t, rec.entries)
}

func TestHandlerRejectsMalformedPayload(t *testing.T) {
	rec := &memoryRecorder{}
	err := NewHandler(rec).Handle(context.Background(), events.Entry{Type: events.TypeBookingCreated, Payload: []byte(`{`)})
	assert.Error(t, err)
	assert.Empty(t, rec.entries)
}
