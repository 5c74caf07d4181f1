package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/clinic-booking/internal/audit"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/events"
	"github.com/hackgods/clinic-booking/internal/observability/metrics"
	redisclient "github.com/hackgods/clinic-booking/internal/redis"
	"github.com/hackgods/clinic-booking/pkg/logging"
)

var tracer = otel.Tracer("clinic.internal.booking")

// AuditReader serves the audit trail of a booking.
type AuditReader interface {
	ListForEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]audit.Entry, error)
}

type Service struct {
	repo    Repository
	locker  redisclient.Locker
	drafts  DraftCache
	gateway PaymentGateway
	audit   AuditReader
	cfg     config.BookingConfig
	loc     *time.Location
	logger  *logging.Logger
	metrics *metrics.BookingMetrics
	now     func() time.Time
}

type Option func(*Service)

func WithDraftCache(c DraftCache) Option { return func(s *Service) { s.drafts = c } }

func WithGateway(g PaymentGateway) Option { return func(s *Service) { s.gateway = g } }

func WithAuditReader(r AuditReader) Option { return func(s *Service) { s.audit = r } }

func WithLogger(l *logging.Logger) Option { return func(s *Service) { s.logger = l } }

func WithMetrics(m *metrics.BookingMetrics) Option { return func(s *Service) { s.metrics = m } }

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(repo Repository, locker redisclient.Locker, cfg config.BookingConfig, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		locker: locker,
		cfg:    cfg,
		loc:    cfg.Location(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.locker == nil {
		s.locker = redisclient.NoopLocker()
	}
	if s.logger == nil {
		s.logger = logging.Default()
	}
	if s.cfg.MaxSlotsPerBooking <= 0 {
		s.cfg.MaxSlotsPerBooking = 1
	}
	return s
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	ctx, span := tracer.Start(ctx, name)
	span.SetAttributes(attrs...)
	return ctx, span, time.Now()
}

func (s *Service) endSpan(span trace.Span, name string, start time.Time, err error) {
	if err != nil {
		span.RecordError(err)
		if !IsBusiness(err) {
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
	s.metrics.ObserveOperation(name, time.Since(start).Seconds())
}

// today is the current date in the clinic timezone.
func (s *Service) today() time.Time {
	return civilDate(s.now().In(s.loc))
}

// slotPlan is a validated target for one or more consecutive slots.
type slotPlan struct {
	doctor   *Doctor
	schedule *Schedule
	date     time.Time
	first    int
	count    int
}

func (p slotPlan) startOf(slot int, loc *time.Location) time.Time {
	return p.schedule.SlotStart(p.date, slot, loc)
}

// planSlots checks that the doctor works at branch on date and that slots
// first..first+count-1 fit the schedule. It does not check occupancy.
func (s *Service) planSlots(ctx context.Context, doctorID uuid.UUID, branchID *uuid.UUID, date time.Time, first, count int, allowPast bool) (*slotPlan, error) {
	date = civilDate(date)
	if first < 1 || count < 1 {
		return nil, fmt.Errorf("%w: slot %d", ErrInvalidSlot, first)
	}
	if !allowPast && date.Before(s.today()) {
		return nil, fmt.Errorf("%w: %s", ErrPastDate, date.Format(DateLayout))
	}

	doctor, err := s.repo.GetDoctor(ctx, doctorID)
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if !doctor.Active {
		return nil, fmt.Errorf("%w: doctor %s is inactive", ErrDoctorNotFound, doctorID)
	}
	if branchID != nil && *branchID != doctor.BranchID {
		return nil, ErrBranchMismatch
	}

	schedule, err := s.repo.FindSchedule(ctx, doctorID, date)
	if err != nil {
		if errors.Is(err, ErrScheduleNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load schedule: %w", err)
	}
	if schedule.Blocked {
		reason := schedule.BlockReason
		if reason == "" {
			reason = "blocked"
		}
		return nil, fmt.Errorf("%w: %s", ErrScheduleBlocked, reason)
	}
	if last := first + count - 1; last > schedule.Capacity() {
		return nil, fmt.Errorf("%w: slot %d exceeds capacity %d", ErrInvalidSlot, last, schedule.Capacity())
	}

	return &slotPlan{doctor: doctor, schedule: schedule, date: date, first: first, count: count}, nil
}

// claimSlot re-checks the slot and assigns the next token while holding the
// doctor/day lock, then inserts. The unique index backs this up.
func (s *Service) claimSlot(ctx context.Context, tx TxRepository, b *Booking) error {
	if err := tx.LockDoctorDay(ctx, b.DoctorID, b.AppointmentDate); err != nil {
		return err
	}
	taken, err := tx.SlotTaken(ctx, b.DoctorID, b.AppointmentDate, b.SlotNumber)
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("%w: slot %d on %s", ErrSlotConflict, b.SlotNumber, b.AppointmentDate.Format(DateLayout))
	}
	token, err := tx.NextTokenNumber(ctx, b.DoctorID, b.AppointmentDate)
	if err != nil {
		return err
	}
	b.TokenNumber = token
	return tx.InsertBooking(ctx, b)
}

func (s *Service) withSlotLock(ctx context.Context, doctorID uuid.UUID, date time.Time, slot int, fn func(ctx context.Context) error) error {
	err := s.locker.WithSlotLock(ctx, redisclient.SlotKey(doctorID, date.Format(DateLayout), slot), fn)
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		err = fmt.Errorf("%w: slot %d is being booked", ErrSlotConflict, slot)
	}
	if errors.Is(err, ErrSlotConflict) {
		s.metrics.ObserveSlotConflict()
	}
	return err
}

// ResolveSlots lists the slots of a doctor's day. A day without a schedule
// yields no slots and no error.
func (s *Service) ResolveSlots(ctx context.Context, doctorID uuid.UUID, branchID *uuid.UUID, date time.Time) (avail *SlotAvailability, err error) {
	ctx, span, start := s.startSpan(ctx, "booking.resolve_slots", attribute.String("clinic.doctor_id", doctorID.String()))
	defer func() { s.endSpan(span, "booking.resolve_slots", start, err) }()

	date = civilDate(date)
	doctor, err := s.repo.GetDoctor(ctx, doctorID)
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if branchID != nil && *branchID != doctor.BranchID {
		return nil, ErrBranchMismatch
	}

	schedule, err := s.repo.FindSchedule(ctx, doctorID, date)
	if errors.Is(err, ErrScheduleNotFound) {
		return &SlotAvailability{
			DoctorID: doctorID,
			BranchID: doctor.BranchID,
			Date:     date.Format(DateLayout),
			Slots:    []SlotInfo{},
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load schedule: %w", err)
	}

	booked, err := s.repo.BookedSlots(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("load booked slots: %w", err)
	}

	out := buildAvailability(schedule, date, booked, s.now(), s.loc)
	out.BranchID = doctor.BranchID
	return &out, nil
}

// CreateBooking books one slot. Online bookings start in pending_payment;
// cash and waived bookings (and free doctors) are confirmed immediately.
func (s *Service) CreateBooking(ctx context.Context, in CreateInput) (created *Booking, err error) {
	ctx, span, start := s.startSpan(ctx, "booking.create",
		attribute.String("clinic.doctor_id", in.DoctorID.String()),
		attribute.Int("clinic.slot_number", in.SlotNumber),
		attribute.String("clinic.payment_mode", string(in.PaymentMode)),
	)
	defer func() { s.endSpan(span, "booking.create", start, err) }()

	mode := in.PaymentMode
	if mode == "" {
		mode = ModeOnline
	}
	if mode != ModeOnline && mode != ModeCash && mode != ModeWaived {
		return nil, fmt.Errorf("%w: payment mode %q", ErrInvalidInput, in.PaymentMode)
	}

	patient, err := s.repo.GetPatient(ctx, in.PatientID)
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	plan, err := s.planSlots(ctx, in.DoctorID, in.BranchID, in.Date, in.SlotNumber, 1, false)
	if err != nil {
		return nil, err
	}

	now := s.now()
	fee := plan.doctor.BookingFee
	b := &Booking{
		ID:              uuid.New(),
		DoctorID:        plan.doctor.ID,
		PatientID:       patient.ID,
		BranchID:        plan.doctor.BranchID,
		ScheduleID:      &plan.schedule.ID,
		AppointmentDate: plan.date,
		AppointmentTime: plan.startOf(in.SlotNumber, s.loc),
		SlotNumber:      in.SlotNumber,
		Status:          StatusPendingPayment,
		PaymentStatus:   PaymentPending,
		BookingFee:      fee,
		Notes:           in.Notes,
		CreatedBy:       in.Actor,
	}
	switch {
	case mode == ModeWaived || !fee.IsPositive():
		b.Status = StatusConfirmed
		b.PaymentStatus = PaymentWaived
	case mode == ModeCash:
		paid := fee
		b.Status = StatusConfirmed
		b.PaymentStatus = PaymentPaid
		b.AmountPaid = &paid
		b.PaymentDate = &now
	}

	contact := events.Contact{PatientName: patient.Name, Phone: patient.Phone, DoctorName: plan.doctor.Name}

	err = s.withSlotLock(ctx, b.DoctorID, b.AppointmentDate, b.SlotNumber, func(ctx context.Context) error {
		return s.repo.InTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if err := s.claimSlot(ctx, tx, b); err != nil {
				return err
			}
			if err := s.emit(ctx, tx, change{eventType: events.TypeBookingCreated, after: b, actor: in.Actor}, contact); err != nil {
				return err
			}
			if b.Status == StatusConfirmed {
				return s.emit(ctx, tx, change{eventType: events.TypeBookingConfirmed, after: b, actor: in.Actor}, contact)
			}
			return nil
		})
	})
	if err != nil {
		if IsBusiness(err) {
			return nil, err
		}
		return nil, fmt.Errorf("create booking: %w", err)
	}

	s.metrics.ObserveBookingCreated(string(mode))
	s.logger.Info("booking created",
		"booking_id", b.ID,
		"doctor_id", b.DoctorID,
		"date", b.AppointmentDate.Format(DateLayout),
		"slot", b.SlotNumber,
		"token", b.TokenNumber,
		"status", b.Status,
	)
	return b, nil
}

// checkCancellable applies the status rules and, unless overridden, the
// advance-notice window. Unpaid pending bookings can always be dropped.
func (s *Service) checkCancellable(b *Booking, override bool) error {
	if b.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrAlreadyTerminal, b.Status)
	}
	if !Cancellable(b.Status, override) {
		return fmt.Errorf("%w: booking is %s", ErrCancellationNotAllowed, b.Status)
	}
	if override || b.Status == StatusPendingPayment || s.cfg.CancellationAdvanceHours <= 0 {
		return nil
	}
	window := time.Duration(s.cfg.CancellationAdvanceHours) * time.Hour
	if b.AppointmentTime.Sub(s.now()) < window {
		return fmt.Errorf("%w: must cancel at least %d hours before the appointment", ErrCancellationNotAllowed, s.cfg.CancellationAdvanceHours)
	}
	return nil
}

func (s *Service) markCancelled(b *Booking, reason string) {
	b.Status = StatusCancelled
	if reason != "" {
		r := reason
		b.CancelReason = &r
	}
	if s.cfg.RefundOnCancel && b.PaymentStatus == PaymentPaid {
		// Refund itself happens outside this system.
		b.PaymentStatus = PaymentCanceled
	}
}

func (s *Service) Cancel(ctx context.Context, in CancelInput) (cancelled *Booking, err error) {
	ctx, span, start := s.startSpan(ctx, "booking.cancel",
		attribute.String("clinic.booking_id", in.BookingID.String()),
		attribute.Bool("clinic.override", in.OverrideRestrictions),
	)
	defer func() { s.endSpan(span, "booking.cancel", start, err) }()

	current, err := s.repo.GetBooking(ctx, in.BookingID)
	if err != nil {
		return nil, s.wrapLoad(err)
	}
	contact := s.contact(ctx, current.PatientID, current.DoctorID)

	err = s.repo.InTx(ctx, func(ctx context.Context, tx TxRepository) error {
		b, err := tx.GetBookingForUpdate(ctx, in.BookingID)
		if err != nil {
			return err
		}
		if err := s.checkCancellable(b, in.OverrideRestrictions); err != nil {
			return err
		}
		before := snapshot(b)
		s.markCancelled(b, in.Reason)
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return err
		}
		cancelled = b
		return s.emit(ctx, tx, change{
			eventType: events.TypeBookingCancelled,
			before:    before,
			after:     b,
			reason:    in.Reason,
			actor:     in.Actor,
		}, contact)
	})
	if err != nil {
		if IsBusiness(err) {
			return nil, err
		}
		return nil, fmt.Errorf("cancel booking: %w", err)
	}

	s.logger.Info("booking cancelled", "booking_id", cancelled.ID, "override", in.OverrideRestrictions)
	return cancelled, nil
}

// Reschedule cancels the booking and creates its replacement in one
// transaction; either both happen or neither does.
func (s *Service) Reschedule(ctx context.Context, in RescheduleInput) (result *RescheduleResult, err error) {
	ctx, span, start := s.startSpan(ctx, "booking.reschedule",
		attribute.String("clinic.booking_id", in.BookingID.String()),
		attribute.Int("clinic.slot_number", in.NewSlot),
	)
	defer func() { s.endSpan(span, "booking.reschedule", start, err) }()

	current, err := s.repo.GetBooking(ctx, in.BookingID)
	if err != nil {
		return nil, s.wrapLoad(err)
	}

	doctorID := current.DoctorID
	branchID := &current.BranchID
	if in.NewDoctorID != nil {
		doctorID = *in.NewDoctorID
		branchID = nil
	}
	if in.NewBranchID != nil {
		branchID = in.NewBranchID
	}

	plan, err := s.planSlots(ctx, doctorID, branchID, in.NewDate, in.NewSlot, 1, false)
	if err != nil {
		return nil, err
	}
	if plan.doctor.ID == current.DoctorID && plan.date.Equal(current.AppointmentDate) && in.NewSlot == current.SlotNumber {
		return nil, fmt.Errorf("%w: booking already holds this slot", ErrInvalidInput)
	}

	contact := s.contact(ctx, current.PatientID, plan.doctor.ID)

	var old, next *Booking
	err = s.withSlotLock(ctx, plan.doctor.ID, plan.date, in.NewSlot, func(ctx context.Context) error {
		return s.repo.InTx(ctx, func(ctx context.Context, tx TxRepository) error {
			b, err := tx.GetBookingForUpdate(ctx, in.BookingID)
			if err != nil {
				return err
			}
			if err := s.checkCancellable(b, in.OverrideRestrictions); err != nil {
				return err
			}
			before := snapshot(b)

			n := &Booking{
				ID:              uuid.New(),
				DoctorID:        plan.doctor.ID,
				PatientID:       b.PatientID,
				BranchID:        plan.doctor.BranchID,
				ScheduleID:      &plan.schedule.ID,
				AppointmentDate: plan.date,
				AppointmentTime: plan.startOf(in.NewSlot, s.loc),
				SlotNumber:      in.NewSlot,
				Status:          StatusConfirmed,
				PaymentStatus:   b.PaymentStatus,
				BookingFee:      b.BookingFee,
				AmountPaid:      b.AmountPaid,
				PaymentID:       b.PaymentID,
				PaymentDate:     b.PaymentDate,
				Notes:           b.Notes,
				RescheduledFrom: &b.ID,
				CreatedBy:       in.Actor,
			}
			if b.Status == StatusPendingPayment {
				n.Status = StatusPendingPayment
			}

			reason := "rescheduled"
			if in.Reason != "" {
				reason = "rescheduled: " + in.Reason
			}
			b.Status = StatusCancelled
			b.CancelReason = &reason
			if err := tx.UpdateBooking(ctx, b); err != nil {
				return err
			}
			if err := s.claimSlot(ctx, tx, n); err != nil {
				return err
			}
			b.RescheduledTo = &n.ID
			if err := tx.UpdateBooking(ctx, b); err != nil {
				return err
			}

			if err := s.emit(ctx, tx, change{
				eventType: events.TypeBookingRescheduled,
				before:    before,
				after:     b,
				related:   n,
				reason:    in.Reason,
				actor:     in.Actor,
			}, contact); err != nil {
				return err
			}
			if err := s.emit(ctx, tx, change{
				eventType: events.TypeBookingCreated,
				after:     n,
				related:   b,
				reason:    in.Reason,
				actor:     in.Actor,
			}, contact); err != nil {
				return err
			}
			old, next = b, n
			return nil
		})
	})
	if err != nil {
		if IsBusiness(err) {
			return nil, err
		}
		return nil, fmt.Errorf("reschedule booking: %w", err)
	}

	s.logger.Info("booking rescheduled", "booking_id", old.ID, "new_booking_id", next.ID, "slot", next.SlotNumber)
	return &RescheduleResult{Old: old, New: next}, nil
}

// UpdateStatus moves a booking along the lifecycle. Cancelling goes through
// Cancel so the same restrictions apply.
func (s *Service) UpdateStatus(ctx context.Context, in StatusInput) (updated *Booking, err error) {
	if !in.Status.Valid() {
		return nil, fmt.Errorf("%w: status %q", ErrInvalidInput, in.Status)
	}
	if in.Status == StatusCancelled {
		return s.Cancel(ctx, CancelInput{
			BookingID:            in.BookingID,
			Reason:               in.Reason,
			Actor:                in.Actor,
			OverrideRestrictions: in.OverrideRestrictions,
		})
	}

	ctx, span, start := s.startSpan(ctx, "booking.update_status",
		attribute.String("clinic.booking_id", in.BookingID.String()),
		attribute.String("clinic.status", string(in.Status)),
	)
	defer func() { s.endSpan(span, "booking.update_status", start, err) }()

	current, err := s.repo.GetBooking(ctx, in.BookingID)
	if err != nil {
		return nil, s.wrapLoad(err)
	}
	contact := s.contact(ctx, current.PatientID, current.DoctorID)

	err = s.repo.InTx(ctx, func(ctx context.Context, tx TxRepository) error {
		b, err := tx.GetBookingForUpdate(ctx, in.BookingID)
		if err != nil {
			return err
		}
		if b.Status.Terminal() {
			return fmt.Errorf("%w: %s", ErrAlreadyTerminal, b.Status)
		}
		if !CanTransition(b.Status, in.Status) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, b.Status, in.Status)
		}
		before := snapshot(b)
		eventType := events.TypeBookingStatusChanged

		if b.Status == StatusPendingPayment && in.Status == StatusConfirmed {
			// Confirmed at the desk: the fee was collected in person.
			now := s.now()
			paid := b.BookingFee
			b.PaymentStatus = PaymentPaid
			b.AmountPaid = &paid
			b.PaymentDate = &now
			eventType = events.TypeBookingConfirmed
		}
		b.Status = in.Status
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return err
		}
		updated = b
		return s.emit(ctx, tx, change{
			eventType: eventType,
			before:    before,
			after:     b,
			reason:    in.Reason,
			actor:     in.Actor,
		}, contact)
	})
	if err != nil {
		if IsBusiness(err) {
			return nil, err
		}
		return nil, fmt.Errorf("update booking status: %w", err)
	}

	s.logger.Info("booking status updated", "booking_id", updated.ID, "status", updated.Status)
	return updated, nil
}

// CleanupStalePendingBookings expires pending_payment bookings older than
// maxAge. Running it again right away finds nothing more to do.
func (s *Service) CleanupStalePendingBookings(ctx context.Context, maxAge time.Duration) (count int, err error) {
	ctx, span, start := s.startSpan(ctx, "booking.cleanup_stale", attribute.String("clinic.max_age", maxAge.String()))
	defer func() { s.endSpan(span, "booking.cleanup_stale", start, err) }()

	if maxAge <= 0 {
		return 0, fmt.Errorf("%w: max age must be positive", ErrInvalidInput)
	}
	cutoff := s.now().Add(-maxAge)

	err = s.repo.InTx(ctx, func(ctx context.Context, tx TxRepository) error {
		expired, err := tx.ExpireStalePending(ctx, cutoff)
		if err != nil {
			return err
		}
		for i := range expired {
			b := &expired[i]
			before := *snapshot(b)
			before.Status = string(StatusPendingPayment)
			before.PaymentStatus = string(PaymentPending)
			if err := s.emit(ctx, tx, change{
				eventType: events.TypeBookingExpired,
				before:    &before,
				after:     b,
				reason:    "payment not completed in time",
			}, events.Contact{}); err != nil {
				return err
			}
		}
		count = len(expired)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("cleanup stale pending bookings: %w", err)
	}

	s.metrics.ObserveStaleCleanup(count)
	if count > 0 {
		s.logger.Info("expired stale pending bookings", "count", count, "cutoff", cutoff)
	}
	return count, nil
}

func (s *Service) GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, s.wrapLoad(err)
	}
	return b, nil
}

func (s *Service) ListBookings(ctx context.Context, f Filter) ([]Booking, error) {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.Status != nil && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: status %q", ErrInvalidInput, *f.Status)
	}
	bookings, err := s.repo.ListBookings(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	return bookings, nil
}

// AuditTrail returns every recorded change of a booking, oldest first.
func (s *Service) AuditTrail(ctx context.Context, bookingID uuid.UUID) ([]audit.Entry, error) {
	if _, err := s.GetBooking(ctx, bookingID); err != nil {
		return nil, err
	}
	if s.audit == nil {
		return []audit.Entry{}, nil
	}
	entries, err := s.audit.ListForEntity(ctx, audit.EntityBooking, bookingID)
	if err != nil {
		return nil, fmt.Errorf("load audit trail: %w", err)
	}
	return entries, nil
}

func (s *Service) wrapLoad(err error) error {
	if errors.Is(err, ErrBookingNotFound) {
		return err
	}
	return fmt.Errorf("load booking: %w", err)
}
