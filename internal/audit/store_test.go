package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRecord(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStore(mock)
	bookingID := uuid.New()
	actor := uuid.New()

	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), &actor, EntityBooking, bookingID, "cancelled",
			pgxmock.AnyArg(), pgxmock.AnyArg(), "patient request", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = store.Record(context.Background(), Entry{
		ActorID:    &actor,
		EntityType: EntityBooking,
		EntityID:   bookingID,
		Action:     "cancelled",
		Before:     json.RawMessage(`{"status":"confirmed"}`),
		After:      json.RawMessage(`{"status":"cancelled"}`),
		Reason:     "patient request",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreRecordError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO audit_logs").WillReturnError(errors.New("connection reset"))
	err = NewStore(mock).Record(context.Background(), Entry{EntityType: EntityBooking, EntityID: uuid.New(), Action: "created"})
	assert.ErrorContains(t, err, "audit: record booking created")
}

func TestStoreListForEntity(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	bookingID := uuid.New()
	actor := uuid.New()
	eventID := uuid.New()
	now := time.Now().UTC()

	rows := pgxmock.NewRows([]string{"id", "event_id", "actor_id", "entity_type", "entity_id", "action", "before", "after", "reason", "created_at"}).
		AddRow(uuid.New(), &eventID, (*uuid.UUID)(nil), EntityBooking, bookingID, "created", []byte(nil), []byte(`{"status":"pending_payment"}`), "", now).
		AddRow(uuid.New(), &eventID, &actor, EntityBooking, bookingID, "cancelled", []byte(`{"status":"pending_payment"}`), []byte(`{"status":"cancelled"}`), "changed plans", now.Add(time.Minute))
	mock.ExpectQuery("FROM audit_logs").WithArgs(EntityBooking, bookingID).WillReturnRows(rows)

	entries, err := NewStore(mock).ListForEntity(context.Background(), EntityBooking, bookingID)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Nil(t, entries[0].ActorID)
	assert.Nil(t, entries[0].Before)
	assert.JSONEq(t, `{"status":"pending_payment"}`, string(entries[0].After))
	require.NotNil(t, entries[1].ActorID)
	assert.Equal(t, actor, *entries[1].ActorID)
	assert.Equal(t, "changed plans", entries[1].Reason)
	require.NoError(t, mock.ExpectationsWereMet())
}
