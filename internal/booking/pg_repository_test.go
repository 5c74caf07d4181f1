package booking

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (*PgRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPgRepository(mock), mock
}

func TestPgGetDoctor(t *testing.T) {
	repo, mock := newMockRepo(t)
	id, branch := uuid.New(), uuid.New()
	phone := "+94771234567"

	mock.ExpectQuery("FROM doctors").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"id", "branch_id", "name", "phone", "booking_fee", "active"}).
			AddRow(id, branch, "Perera", &phone, "1500.00", true))

	d, err := repo.GetDoctor(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, branch, d.BranchID)
	assert.Equal(t, "1500", d.BookingFee.String())
	assert.True(t, d.Active)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgGetDoctorNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectQuery("FROM doctors").WithArgs(id).WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetDoctor(context.Background(), id)
	assert.ErrorIs(t, err, ErrDoctorNotFound)
}

func TestPgGetBookingNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectQuery("FROM bookings WHERE id").WithArgs(id).WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetBooking(context.Background(), id)
	assert.ErrorIs(t, err, ErrBookingNotFound)
}

func TestPgBookedSlots(t *testing.T) {
	repo, mock := newMockRepo(t)
	doctor := uuid.New()
	date := time.Date(2026, 3, 9, 15, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT slot_number").
		WithArgs(doctor, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)).
		WillReturnRows(pgxmock.NewRows([]string{"slot_number"}).AddRow(2).AddRow(7))

	slots, err := repo.BookedSlots(context.Background(), doctor, date)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 7}, slots)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgClaimSlotInTransaction(t *testing.T) {
	repo, mock := newMockRepo(t)
	doctor := uuid.New()
	date := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs(doctor.String() + ":2026-03-09").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(doctor, date, 4).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("MAX\\(token_number\\)").
		WithArgs(doctor, date).
		WillReturnRows(pgxmock.NewRows([]string{"next"}).AddRow(5))
	mock.ExpectExec("INSERT INTO outbox").
		WithArgs(pgxmock.AnyArg(), "booking.created", doctor, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	var token int
	err := repo.InTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockDoctorDay(ctx, doctor, date); err != nil {
			return err
		}
		taken, err := tx.SlotTaken(ctx, doctor, date, 4)
		if err != nil {
			return err
		}
		assert.False(t, taken)
		if token, err = tx.NextTokenNumber(ctx, doctor, date); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, "booking.created", doctor, map[string]int{"token": token})
	})
	require.NoError(t, err)
	assert.Equal(t, 5, token)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgInsertBookingUniqueViolation(t *testing.T) {
	repo, mock := newMockRepo(t)

	b := &Booking{
		ID:              uuid.New(),
		DoctorID:        uuid.New(),
		PatientID:       uuid.New(),
		BranchID:        uuid.New(),
		AppointmentDate: time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC),
		SlotNumber:      4,
		Status:          StatusPendingPayment,
		PaymentStatus:   PaymentPending,
	}

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO bookings").
		WithArgs(append([]any{b.ID, b.DoctorID, b.PatientID, b.BranchID}, anyArgs(15)...)...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "bookings_active_slot_key"})
	mock.ExpectRollback()

	err := repo.InTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		return tx.InsertBooking(ctx, b)
	})
	assert.ErrorIs(t, err, ErrSlotConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgUpdateBookingMissing(t *testing.T) {
	repo, mock := newMockRepo(t)

	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE bookings").
		WithArgs(append([]any{id, string(StatusCancelled)}, anyArgs(8)...)...).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	err := repo.InTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateBooking(ctx, &Booking{ID: id, Status: StatusCancelled})
	})
	assert.ErrorIs(t, err, ErrBookingNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

// anyArgs matches n arguments of any value.
func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}
