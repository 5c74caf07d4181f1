package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hackgods/clinic-booking/internal/events"
)

const (
	EntityBooking = "booking"
	EntityPayment = "payment"
)

type recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Handler turns outbox events into audit rows.
type Handler struct {
	store recorder
}

func NewHandler(store recorder) *Handler {
	return &Handler{store: store}
}

func (h *Handler) Name() string { return "audit" }

func (h *Handler) Handle(ctx context.Context, entry events.Entry) error {
	record, ok, err := FromEvent(entry)
	if err != nil || !ok {
		return err
	}
	return h.store.Record(ctx, record)
}

// FromEvent maps an outbox entry to an audit entry. ok is false for event
// types that are not audited.
func FromEvent(entry events.Entry) (Entry, bool, error) {
	eventID := entry.ID
	switch {
	case strings.HasPrefix(entry.Type, "booking."):
		var payload events.BookingChanged
		if err := entry.Decode(&payload); err != nil {
			return Entry{}, false, err
		}
		before, err := snapshotJSON(payload.Before)
		if err != nil {
			return Entry{}, false, err
		}
		after, err := snapshotJSON(payload.After)
		if err != nil {
			return Entry{}, false, err
		}
		return Entry{
			EventID:    &eventID,
			ActorID:    payload.Actor,
			EntityType: EntityBooking,
			EntityID:   payload.BookingID,
			Action:     strings.TrimPrefix(entry.Type, "booking."),
			Before:     before,
			After:      after,
			Reason:     payload.Reason,
			CreatedAt:  entry.CreatedAt,
		}, true, nil

	case entry.Type == events.TypeReconciliationRequired:
		var payload events.ReconciliationRequired
		if err := entry.Decode(&payload); err != nil {
			return Entry{}, false, err
		}
		return Entry{
			EventID:    &eventID,
			EntityType: EntityPayment,
			EntityID:   entry.AggregateID,
			Action:     "reconciliation_required",
			After:      entry.Payload,
			Reason:     payload.Reason,
			CreatedAt:  entry.CreatedAt,
		}, true, nil
	}
	return Entry{}, false, nil
}

func snapshotJSON(s *events.BookingSnapshot) (json.RawMessage, error) {
	if s == nil {
		return nil, nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("audit: marshal snapshot: %w", err)
	}
	return data, nil
}
