package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/events"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgxPool is satisfied by *pgxpool.Pool and pgxmock pools.
type PgxPool interface {
	querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PgRepository struct {
	pool PgxPool
}

func NewPgRepository(pool PgxPool) *PgRepository {
	return &PgRepository{pool: pool}
}

const bookingColumns = `id, doctor_id, patient_id, branch_id, schedule_id, appointment_date, appointment_time,
	slot_number, token_number, status, payment_status, booking_fee::text, amount_paid::text,
	payment_id, payment_date, payment_order_id, notes, cancel_reason, rescheduled_from, rescheduled_to,
	created_by, created_at, updated_at`

// Helpers

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	var fee string
	var paid *string

	err := row.Scan(
		&b.ID,
		&b.DoctorID,
		&b.PatientID,
		&b.BranchID,
		&b.ScheduleID,
		&b.AppointmentDate,
		&b.AppointmentTime,
		&b.SlotNumber,
		&b.TokenNumber,
		&b.Status,
		&b.PaymentStatus,
		&fee,
		&paid,
		&b.PaymentID,
		&b.PaymentDate,
		&b.PaymentOrderID,
		&b.Notes,
		&b.CancelReason,
		&b.RescheduledFrom,
		&b.RescheduledTo,
		&b.CreatedBy,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}

	if b.BookingFee, err = decimal.NewFromString(fee); err != nil {
		return nil, fmt.Errorf("parse booking fee %q: %w", fee, err)
	}
	if paid != nil {
		amount, err := decimal.NewFromString(*paid)
		if err != nil {
			return nil, fmt.Errorf("parse amount paid %q: %w", *paid, err)
		}
		b.AmountPaid = &amount
	}
	b.AppointmentDate = civilDate(b.AppointmentDate)
	return &b, nil
}

func collectBookings(rows pgx.Rows, err error) ([]Booking, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func scanSchedule(row pgx.Row) (*Schedule, error) {
	var s Schedule

	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.BranchID,
		&s.DayOfWeek,
		&s.Date,
		&s.StartMinute,
		&s.EndMinute,
		&s.SlotMinutes,
		&s.MaxPatients,
		&s.Blocked,
		&s.BlockReason,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrScheduleNotFound
		}
		return nil, err
	}

	return &s, nil
}

// civilDate drops the clock and zone so dates compare and encode as DATE.
func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func nullDecimal(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.StringFixed(2)
	return &s
}

// Interface methods

func (r *PgRepository) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	var d Doctor
	var fee string
	err := r.pool.QueryRow(ctx, `
		SELECT id, branch_id, name, phone, booking_fee::text, active
		FROM doctors
		WHERE id = $1
	`, id).Scan(&d.ID, &d.BranchID, &d.Name, &d.Phone, &fee, &d.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	if d.BookingFee, err = decimal.NewFromString(fee); err != nil {
		return nil, fmt.Errorf("parse doctor fee %q: %w", fee, err)
	}
	return &d, nil
}

func (r *PgRepository) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, phone, email
		FROM patients
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Phone, &p.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PgRepository) FindSchedule(ctx context.Context, doctorID uuid.UUID, date time.Time) (*Schedule, error) {
	date = civilDate(date)
	row := r.pool.QueryRow(ctx, `
		SELECT id, doctor_id, branch_id, day_of_week, schedule_date,
		       (EXTRACT(EPOCH FROM start_time) / 60)::int,
		       (EXTRACT(EPOCH FROM end_time) / 60)::int,
		       slot_minutes, max_patients, is_blocked, COALESCE(block_reason, '')
		FROM doctor_schedules
		WHERE doctor_id = $1
		  AND active
		  AND (schedule_date = $2 OR (schedule_date IS NULL AND day_of_week = $3))
		ORDER BY schedule_date NULLS LAST
		LIMIT 1
	`, doctorID, date, int(date.Weekday()))
	return scanSchedule(row)
}

func (r *PgRepository) BookedSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT slot_number
		FROM bookings
		WHERE doctor_id = $1
		  AND appointment_date = $2
		  AND status <> 'cancelled'
		ORDER BY slot_number
	`, doctorID, civilDate(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		slots = append(slots, n)
	}
	return slots, rows.Err()
}

func (r *PgRepository) GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	return scanBooking(row)
}

func (r *PgRepository) ListBookings(ctx context.Context, f Filter) ([]Booking, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Date != nil {
		add("appointment_date = $%d", civilDate(*f.Date))
	}
	if f.DoctorID != nil {
		add("doctor_id = $%d", *f.DoctorID)
	}
	if f.BranchID != nil {
		add("branch_id = $%d", *f.BranchID)
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.Status != nil {
		add("status = $%d", string(*f.Status))
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(` ORDER BY appointment_date, doctor_id, token_number LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	return collectBookings(r.pool.Query(ctx, query, args...))
}

func (r *PgRepository) FindByPaymentOrder(ctx context.Context, orderID string) ([]Booking, error) {
	return collectBookings(r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE payment_order_id = $1
		ORDER BY slot_number
	`, orderID))
}

func (r *PgRepository) InTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{q: tx})
	})
}

// pgTx is the TxRepository bound to one open transaction.
type pgTx struct {
	q querier
}

func (t *pgTx) LockDoctorDay(ctx context.Context, doctorID uuid.UUID, date time.Time) error {
	key := doctorID.String() + ":" + civilDate(date).Format(DateLayout)
	if _, err := t.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return fmt.Errorf("lock doctor day: %w", err)
	}
	return nil
}

func (t *pgTx) GetBookingForUpdate(ctx context.Context, id uuid.UUID) (*Booking, error) {
	row := t.q.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id)
	return scanBooking(row)
}

func (t *pgTx) FindByPaymentOrderForUpdate(ctx context.Context, orderID string) ([]Booking, error) {
	return collectBookings(t.q.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE payment_order_id = $1
		ORDER BY slot_number
		FOR UPDATE
	`, orderID))
}

func (t *pgTx) SlotTaken(ctx context.Context, doctorID uuid.UUID, date time.Time, slot int) (bool, error) {
	var taken bool
	err := t.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM bookings
			WHERE doctor_id = $1
			  AND appointment_date = $2
			  AND slot_number = $3
			  AND status <> 'cancelled'
		)
	`, doctorID, civilDate(date), slot).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("check slot: %w", err)
	}
	return taken, nil
}

// NextTokenNumber counts cancelled rows too, so tokens never go backwards.
func (t *pgTx) NextTokenNumber(ctx context.Context, doctorID uuid.UUID, date time.Time) (int, error) {
	var next int
	err := t.q.QueryRow(ctx, `
		SELECT COALESCE(MAX(token_number), 0) + 1
		FROM bookings
		WHERE doctor_id = $1 AND appointment_date = $2
	`, doctorID, civilDate(date)).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next token: %w", err)
	}
	return next, nil
}

func (t *pgTx) InsertBooking(ctx context.Context, b *Booking) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.AppointmentDate = civilDate(b.AppointmentDate)

	row := t.q.QueryRow(ctx, `
		INSERT INTO bookings (
			id, doctor_id, patient_id, branch_id, schedule_id, appointment_date, appointment_time,
			slot_number, token_number, status, payment_status, booking_fee, amount_paid,
			payment_id, payment_date, payment_order_id, notes, rescheduled_from, created_by,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, now(), now())
		RETURNING created_at, updated_at
	`,
		b.ID, b.DoctorID, b.PatientID, b.BranchID, b.ScheduleID, b.AppointmentDate, b.AppointmentTime,
		b.SlotNumber, b.TokenNumber, string(b.Status), string(b.PaymentStatus), b.BookingFee.StringFixed(2), nullDecimal(b.AmountPaid),
		b.PaymentID, b.PaymentDate, b.PaymentOrderID, b.Notes, b.RescheduledFrom, b.CreatedBy,
	)
	if err := row.Scan(&b.CreatedAt, &b.UpdatedAt); err != nil {
		if db.IsUniqueViolation(err, "") {
			return fmt.Errorf("%w: slot %d on %s", ErrSlotConflict, b.SlotNumber, b.AppointmentDate.Format(DateLayout))
		}
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateBooking(ctx context.Context, b *Booking) error {
	err := t.q.QueryRow(ctx, `
		UPDATE bookings
		SET status = $2,
		    payment_status = $3,
		    amount_paid = $4,
		    payment_id = $5,
		    payment_date = $6,
		    payment_order_id = $7,
		    notes = $8,
		    cancel_reason = $9,
		    rescheduled_to = $10,
		    updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`,
		b.ID, string(b.Status), string(b.PaymentStatus), nullDecimal(b.AmountPaid), b.PaymentID,
		b.PaymentDate, b.PaymentOrderID, b.Notes, b.CancelReason, b.RescheduledTo,
	).Scan(&b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrBookingNotFound
		}
		return fmt.Errorf("update booking: %w", err)
	}
	return nil
}

func (t *pgTx) ExpireStalePending(ctx context.Context, cutoff time.Time) ([]Booking, error) {
	return collectBookings(t.q.Query(ctx, `
		UPDATE bookings
		SET status = 'cancelled',
		    payment_status = 'expired',
		    cancel_reason = 'payment not completed in time',
		    updated_at = now()
		WHERE status = 'pending_payment'
		  AND payment_status = 'pending'
		  AND created_at < $1
		RETURNING `+bookingColumns, cutoff))
}

func (t *pgTx) AppendEvent(ctx context.Context, eventType string, aggregateID uuid.UUID, payload any) error {
	_, err := events.Write(ctx, t.q, eventType, aggregateID, payload)
	return err
}
