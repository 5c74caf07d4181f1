package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-booking/pkg/logging"
)

func TestOutboxStoreInsertAndClaim(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewOutboxStore(mock)
	aggregate := uuid.New()

	mock.ExpectExec("INSERT INTO outbox").
		WithArgs(pgxmock.AnyArg(), TypeBookingCreated, aggregate, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	_, err = store.Insert(context.Background(), TypeBookingCreated, aggregate, BookingChanged{BookingID: aggregate})
	require.NoError(t, err)

	now := time.Now().UTC()
	first, second := uuid.New(), uuid.New()
	rows := pgxmock.NewRows([]string{"id", "type", "aggregate_id", "payload", "created_at"}).
		AddRow(second, TypeBookingConfirmed, aggregate, []byte(`{"booking_id":"x"}`), now.Add(time.Second)).
		AddRow(first, TypeBookingCreated, aggregate, []byte(`{"booking_id":"x"}`), now)
	mock.ExpectQuery("UPDATE outbox\\s+SET claimed_until").WithArgs(int32(10), float64(90)).WillReturnRows(rows)

	entries, err := store.WithLease(90*time.Second).ClaimPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, first, entries[0].ID, "entries are returned oldest first")
	assert.Equal(t, second, entries[1].ID)

	mock.ExpectExec("SET delivered_at").
		WithArgs([]string{first.String(), second.String()}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	require.NoError(t, store.MarkDelivered(context.Background(), []uuid.UUID{first, second}))
	require.NoError(t, store.MarkDelivered(context.Background(), nil))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteFailsWithTransaction(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO outbox").WillReturnError(errors.New("boom"))
	_, err = Write(context.Background(), mock, TypeBookingCreated, uuid.New(), map[string]string{})
	require.Error(t, err)
}

type stubClaimer struct {
	entries   []Entry
	err       error
	markErr   error
	calls     int
	delivered []uuid.UUID
	// dispatched counts handler calls seen when MarkDelivered ran.
	dispatched []int
	seen       *[]string
}

func (s *stubClaimer) ClaimPending(ctx context.Context, limit int32) ([]Entry, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := s.entries
	s.entries = nil
	return out, nil
}

func (s *stubClaimer) MarkDelivered(ctx context.Context, ids []uuid.UUID) error {
	if s.seen != nil {
		s.dispatched = append(s.dispatched, len(*s.seen))
	}
	if s.markErr != nil {
		return s.markErr
	}
	s.delivered = append(s.delivered, ids...)
	return nil
}

func TestDelivererDrain(t *testing.T) {
	claimer := &stubClaimer{entries: []Entry{
		{ID: uuid.New(), Type: TypeBookingCreated},
		{ID: uuid.New(), Type: TypeBookingConfirmed},
	}}
	var seen []string
	dispatcher := NewDispatcher(logging.Discard(), HandlerFunc{
		HandlerName: "recorder",
		Fn: func(ctx context.Context, entry Entry) error {
			seen = append(seen, entry.Type)
			return nil
		},
	})

	claimer.seen = &seen

	d := NewDeliverer(claimer, dispatcher, logging.Discard())
	assert.Equal(t, 2, d.Drain(context.Background()))
	assert.Equal(t, []string{TypeBookingCreated, TypeBookingConfirmed}, seen)
	assert.Equal(t, []int{2}, claimer.dispatched, "entries are marked only after dispatch")
	assert.Len(t, claimer.delivered, 2)

	assert.Equal(t, 0, d.Drain(context.Background()))
	assert.Equal(t, []int{2}, claimer.dispatched)
}

func TestDelivererLeavesEntriesPendingWhenMarkFails(t *testing.T) {
	claimer := &stubClaimer{
		entries: []Entry{{ID: uuid.New(), Type: TypeBookingCreated}},
		markErr: errors.New("db down"),
	}
	calls := 0
	dispatcher := NewDispatcher(logging.Discard(), HandlerFunc{
		HandlerName: "counter",
		Fn: func(ctx context.Context, entry Entry) error {
			calls++
			return nil
		},
	})

	d := NewDeliverer(claimer, dispatcher, logging.Discard())
	assert.Equal(t, 1, d.Drain(context.Background()))
	assert.Equal(t, 1, calls)
	assert.Empty(t, claimer.delivered)
}

func TestDelivererDrainClaimError(t *testing.T) {
	d := NewDeliverer(&stubClaimer{err: errors.New("db down")}, NewDispatcher(logging.Discard()), logging.Discard())
	assert.Equal(t, 0, d.Drain(context.Background()))
}
