package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hackgods/clinic-booking/internal/events"
	"github.com/hackgods/clinic-booking/internal/payhere"
)

// PaymentGateway is the part of *payhere.Gateway the service needs.
type PaymentGateway interface {
	BuildPaymentRequest(orderID string, amount decimal.Decimal, customer payhere.Customer, items, custom1, custom2 string) (payhere.PaymentRequest, error)
	VerifyNotification(n payhere.Notification) bool
	Currency() string
}

const (
	draftRefPrefix   = "draft:"
	bookingRefPrefix = "booking:"
)

// Reconciliation reasons.
const (
	ReconcileDraftMissing     = "draft_missing"
	ReconcileAmountMismatch   = "amount_mismatch"
	ReconcileSlotUnavailable  = "slot_unavailable"
	ReconcilePaidAfterCancel  = "paid_after_cancellation"
	ReconcileChargeback       = "chargeback"
	ReconcileFailureAfterPaid = "failure_after_paid"
)

// InitiatePayment stages a draft for slots first..first+SlotCount-1 and
// returns the signed checkout request. No booking row exists until the
// payment notification arrives.
func (s *Service) InitiatePayment(ctx context.Context, in CheckoutInput, customer payhere.Customer) (req *payhere.PaymentRequest, draft *Draft, err error) {
	ctx, span, start := s.startSpan(ctx, "payments.initiate",
		attribute.String("clinic.doctor_id", in.DoctorID.String()),
		attribute.Int("clinic.slot_number", in.SlotNumber),
		attribute.Int("clinic.slot_count", in.SlotCount),
	)
	defer func() { s.endSpan(span, "payments.initiate", start, err) }()

	if s.gateway == nil || s.drafts == nil {
		return nil, nil, ErrPaymentsDisabled
	}
	count := in.SlotCount
	if count <= 0 {
		count = 1
	}
	if count > s.cfg.MaxSlotsPerBooking {
		return nil, nil, fmt.Errorf("%w: at most %d slots per booking", ErrInvalidInput, s.cfg.MaxSlotsPerBooking)
	}

	patient, err := s.repo.GetPatient(ctx, in.PatientID)
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("load patient: %w", err)
	}
	plan, err := s.planSlots(ctx, in.DoctorID, in.BranchID, in.Date, in.SlotNumber, count, false)
	if err != nil {
		return nil, nil, err
	}
	if !plan.doctor.BookingFee.IsPositive() {
		return nil, nil, fmt.Errorf("%w: doctor has no booking fee", ErrPaymentNotRequired)
	}

	// Advisory only; promotion re-checks under the doctor/day lock.
	booked, err := s.repo.BookedSlots(ctx, plan.doctor.ID, plan.date)
	if err != nil {
		return nil, nil, fmt.Errorf("load booked slots: %w", err)
	}
	for _, n := range booked {
		if n >= plan.first && n < plan.first+count {
			s.metrics.ObserveSlotConflict()
			return nil, nil, fmt.Errorf("%w: slot %d", ErrSlotConflict, n)
		}
	}

	orderID := uuid.NewString()
	total := plan.doctor.BookingFee.Mul(decimal.NewFromInt(int64(count)))
	draft = &Draft{
		OrderID:     orderID,
		ScheduleID:  plan.schedule.ID,
		PatientID:   patient.ID,
		DoctorID:    plan.doctor.ID,
		BranchID:    plan.doctor.BranchID,
		Date:        plan.date.Format(DateLayout),
		SlotNumber:  plan.first,
		SlotCount:   count,
		BookingFee:  plan.doctor.BookingFee,
		TotalAmount: total,
		Currency:    s.gateway.Currency(),
		Notes:       in.Notes,
		Actor:       in.Actor,
		CreatedAt:   s.now().UTC(),
	}

	built, err := s.gateway.BuildPaymentRequest(orderID, total, fillCustomer(customer, patient),
		itemsLabel(plan.doctor.Name, count), draftRefPrefix+orderID, patient.ID.String())
	if err != nil {
		return nil, nil, fmt.Errorf("build payment request: %w", err)
	}
	if err := s.drafts.Put(ctx, orderID, *draft, s.cfg.DraftTTL); err != nil {
		return nil, nil, fmt.Errorf("stage draft: %w", err)
	}

	s.logger.Info("payment initiated", "order_id", orderID, "doctor_id", draft.DoctorID, "slots", count, "amount", built.Amount)
	return &built, draft, nil
}

// PayForBooking returns a checkout request for an existing booking that is
// still waiting on payment.
func (s *Service) PayForBooking(ctx context.Context, bookingID uuid.UUID, customer payhere.Customer) (*payhere.PaymentRequest, error) {
	if s.gateway == nil {
		return nil, ErrPaymentsDisabled
	}
	b, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != StatusPendingPayment || b.PaymentStatus == PaymentPaid {
		return nil, fmt.Errorf("%w: booking is %s/%s", ErrPaymentNotRequired, b.Status, b.PaymentStatus)
	}
	if !b.BookingFee.IsPositive() {
		return nil, ErrPaymentNotRequired
	}

	patient, err := s.repo.GetPatient(ctx, b.PatientID)
	if err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}
	doctorName := ""
	if d, err := s.repo.GetDoctor(ctx, b.DoctorID); err == nil {
		doctorName = d.Name
	}

	req, err := s.gateway.BuildPaymentRequest(b.ID.String(), b.BookingFee, fillCustomer(customer, patient),
		itemsLabel(doctorName, 1), bookingRefPrefix+b.ID.String(), "")
	if err != nil {
		return nil, fmt.Errorf("build payment request: %w", err)
	}
	return &req, nil
}

func fillCustomer(c payhere.Customer, p *Patient) payhere.Customer {
	if c.FirstName == "" && c.LastName == "" {
		first, last, _ := strings.Cut(p.Name, " ")
		c.FirstName, c.LastName = first, last
	}
	if c.Phone == "" {
		c.Phone = p.Phone
	}
	if c.Email == "" && p.Email != nil {
		c.Email = *p.Email
	}
	if c.Country == "" {
		c.Country = "Sri Lanka"
	}
	return c
}

func itemsLabel(doctor string, count int) string {
	label := "Doctor channelling"
	if doctor != "" {
		label += " - Dr. " + doctor
	}
	if count > 1 {
		label += fmt.Sprintf(" (%d slots)", count)
	}
	return label
}

// ApplyPaymentNotification verifies a PayHere notification and applies it.
// Replays are harmless: a success for an already paid booking changes
// nothing. Business errors returned here (other than a failed signature)
// still mean the notification was handled and must be acknowledged.
func (s *Service) ApplyPaymentNotification(ctx context.Context, n payhere.Notification) (result *PaymentResult, err error) {
	ctx, span, start := s.startSpan(ctx, "payments.apply_notification",
		attribute.String("payhere.order_id", n.OrderID),
		attribute.String("payhere.status_code", n.StatusCode),
	)
	defer func() { s.endSpan(span, "payments.apply_notification", start, err) }()

	if s.gateway == nil {
		return nil, ErrPaymentsDisabled
	}
	if !s.gateway.VerifyNotification(n) {
		s.logger.Warn("payhere notification signature verification failed",
			"merchant_id", n.MerchantID,
			"order_id", n.OrderID,
			"payment_id", n.PaymentID,
			"amount", n.Amount,
			"currency", n.Currency,
			"status_code", n.StatusCode,
			"status_message", n.StatusMessage,
			"method", n.Method,
			"custom_1", n.Custom1,
			"custom_2", n.Custom2,
		)
		s.metrics.ObserveWebhook("rejected")
		return nil, ErrSignatureVerificationFailed
	}

	outcome := n.Outcome()
	s.logger.Info("payhere notification received", "order_id", n.OrderID, "payment_id", n.PaymentID, "outcome", outcome)

	existing, err := s.findPaymentTargets(ctx, n)
	if err != nil {
		s.metrics.ObserveWebhook("error")
		return nil, err
	}
	if len(existing) > 0 {
		result, err = s.applyToBookings(ctx, n, existing)
	} else {
		result, err = s.applyToDraft(ctx, n)
	}

	switch {
	case err != nil && !IsBusiness(err):
		s.metrics.ObserveWebhook("error")
	case result != nil && result.Reconciliation != "":
		s.metrics.ObserveWebhook("reconciliation")
	case result != nil && result.Duplicate:
		s.metrics.ObserveWebhook("duplicate")
	case err != nil:
		s.metrics.ObserveWebhook("rejected")
	default:
		s.metrics.ObserveWebhook("applied")
	}
	return result, err
}

// findPaymentTargets returns the booking ids the notification refers to, or
// nothing when it refers to a draft.
func (s *Service) findPaymentTargets(ctx context.Context, n payhere.Notification) ([]uuid.UUID, error) {
	if strings.HasPrefix(n.Custom1, draftRefPrefix) {
		rows, err := s.repo.FindByPaymentOrder(ctx, n.OrderID)
		if err != nil {
			return nil, fmt.Errorf("find bookings for order: %w", err)
		}
		return bookingIDs(rows), nil
	}

	ref := strings.TrimPrefix(n.Custom1, bookingRefPrefix)
	if ref == n.Custom1 {
		ref = n.OrderID
	}
	if id, err := uuid.Parse(ref); err == nil {
		if _, err := s.repo.GetBooking(ctx, id); err == nil {
			return []uuid.UUID{id}, nil
		} else if !errors.Is(err, ErrBookingNotFound) {
			return nil, fmt.Errorf("load booking: %w", err)
		}
	}

	rows, err := s.repo.FindByPaymentOrder(ctx, n.OrderID)
	if err != nil {
		return nil, fmt.Errorf("find bookings for order: %w", err)
	}
	return bookingIDs(rows), nil
}

func bookingIDs(rows []Booking) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(rows))
	for _, b := range rows {
		ids = append(ids, b.ID)
	}
	return ids
}

// amountMatches compares what the processor reports with what was asked for.
func amountMatches(n payhere.Notification, expected decimal.Decimal, currency string) (bool, string) {
	received, err := n.AmountValue()
	if err != nil {
		return false, fmt.Sprintf("unparseable amount %q", n.Amount)
	}
	if currency != "" && !strings.EqualFold(n.Currency, currency) {
		return false, fmt.Sprintf("currency %s, expected %s", n.Currency, currency)
	}
	if !received.Round(2).Equal(expected.Round(2)) {
		return false, fmt.Sprintf("received %s, expected %s", received.StringFixed(2), expected.StringFixed(2))
	}
	return true, ""
}

func (s *Service) reconciliation(reason string, n payhere.Notification, bookingID *uuid.UUID, detail string) events.ReconciliationRequired {
	return events.ReconciliationRequired{
		Reason:     reason,
		OrderID:    n.OrderID,
		PaymentID:  n.PaymentID,
		Amount:     n.Amount,
		Currency:   n.Currency,
		StatusCode: n.StatusCode,
		BookingID:  bookingID,
		Detail:     detail,
		DetectedAt: s.now().UTC(),
	}
}

func reconciliationAggregate(r events.ReconciliationRequired) uuid.UUID {
	if r.BookingID != nil {
		return *r.BookingID
	}
	return events.OrderAggregateID(r.OrderID)
}

// alert logs and counts a reconciliation that was written to the outbox.
func (s *Service) alert(r events.ReconciliationRequired) {
	s.logger.Error("payment requires reconciliation",
		"reason", r.Reason,
		"order_id", r.OrderID,
		"payment_id", r.PaymentID,
		"amount", r.Amount,
		"currency", r.Currency,
		"detail", r.Detail,
	)
	s.metrics.ObserveReconciliation(r.Reason)
}

// raiseReconciliation records a reconciliation event on its own.
func (s *Service) raiseReconciliation(ctx context.Context, r events.ReconciliationRequired) error {
	err := s.repo.InTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.AppendEvent(ctx, events.TypeReconciliationRequired, reconciliationAggregate(r), r)
	})
	s.alert(r)
	if err != nil {
		return fmt.Errorf("record reconciliation: %w", err)
	}
	return nil
}

func (s *Service) applyToBookings(ctx context.Context, n payhere.Notification, ids []uuid.UUID) (*PaymentResult, error) {
	outcome := n.Outcome()
	result := &PaymentResult{Outcome: string(outcome)}

	contacts := map[uuid.UUID]events.Contact{}
	for _, id := range ids {
		if b, err := s.repo.GetBooking(ctx, id); err == nil {
			contacts[id] = s.contact(ctx, b.PatientID, b.DoctorID)
		}
	}

	var alerts []events.ReconciliationRequired
	var outcomeErr error

	err := s.repo.InTx(ctx, func(ctx context.Context, tx TxRepository) error {
		alerts, outcomeErr = nil, nil
		result.Bookings, result.Duplicate, result.Reconciliation = nil, false, ""

		rows := make([]*Booking, 0, len(ids))
		for _, id := range ids {
			b, err := tx.GetBookingForUpdate(ctx, id)
			if err != nil {
				return err
			}
			rows = append(rows, b)
		}

		raise := func(reason string, bookingID *uuid.UUID, detail string) error {
			r := s.reconciliation(reason, n, bookingID, detail)
			if err := tx.AppendEvent(ctx, events.TypeReconciliationRequired, reconciliationAggregate(r), r); err != nil {
				return err
			}
			alerts = append(alerts, r)
			result.Reconciliation = reason
			return nil
		}

		if outcome == payhere.OutcomeSuccess {
			expected := decimal.Zero
			unpaid := 0
			for _, b := range rows {
				expected = expected.Add(b.BookingFee)
				if b.PaymentStatus != PaymentPaid && b.PaymentStatus != PaymentChargedback {
					unpaid++
				}
			}
			if unpaid == 0 {
				result.Duplicate = true
				for _, b := range rows {
					result.Bookings = append(result.Bookings, *b)
				}
				return nil
			}
			if ok, detail := amountMatches(n, expected, s.currency()); !ok {
				outcomeErr = fmt.Errorf("%w: %s", ErrAmountMismatch, detail)
				return raise(ReconcileAmountMismatch, &rows[0].ID, detail)
			}
		}

		changed := 0
		for _, b := range rows {
			c, err := s.applyOutcome(b, n, outcome)
			if err != nil {
				return err
			}
			if c.eventType != "" {
				changed++
				if err := tx.UpdateBooking(ctx, b); err != nil {
					return err
				}
				if err := s.emit(ctx, tx, c.change, contacts[b.ID]); err != nil {
					return err
				}
			}
			if c.reconcile != "" {
				if err := raise(c.reconcile, &b.ID, c.detail); err != nil {
					return err
				}
			}
			result.Bookings = append(result.Bookings, *b)
		}
		if changed == 0 && result.Reconciliation == "" && outcome != payhere.OutcomePending {
			result.Duplicate = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("apply payment notification: %w", err)
	}

	for _, r := range alerts {
		s.alert(r)
	}
	if outcomeErr != nil {
		return result, outcomeErr
	}
	return result, nil
}

// paymentChange is a change plus any reconciliation it calls for.
type paymentChange struct {
	change
	reconcile string
	detail    string
}

// applyOutcome mutates b for one notification outcome. An empty eventType
// means nothing changed.
func (s *Service) applyOutcome(b *Booking, n payhere.Notification, outcome payhere.Outcome) (paymentChange, error) {
	before := snapshot(b)
	reason := "payhere status " + n.StatusCode
	c := paymentChange{change: change{before: before, after: b, reason: reason}}

	switch outcome {
	case payhere.OutcomePending:
		return c, nil

	case payhere.OutcomeSuccess:
		// A charged back payment is final; replays of the original success
		// must not revive it.
		if b.PaymentStatus == PaymentPaid || b.PaymentStatus == PaymentChargedback {
			return c, nil
		}
		now := s.now()
		paid := b.BookingFee
		paymentID := n.PaymentID
		b.PaymentStatus = PaymentPaid
		b.AmountPaid = &paid
		b.PaymentID = &paymentID
		b.PaymentDate = &now

		switch {
		case b.Status == StatusPendingPayment:
			b.Status = StatusConfirmed
			c.eventType = events.TypeBookingConfirmed
		case b.Status.Terminal():
			c.eventType = events.TypeBookingPaymentUpdated
			c.reconcile = ReconcilePaidAfterCancel
			c.detail = fmt.Sprintf("payment received for %s booking", b.Status)
		default:
			c.eventType = events.TypeBookingPaymentUpdated
		}
		return c, nil

	case payhere.OutcomeChargeback:
		if b.PaymentStatus == PaymentChargedback {
			return c, nil
		}
		b.PaymentStatus = PaymentChargedback
		c.eventType = events.TypeBookingPaymentUpdated
		if !b.Status.Terminal() {
			b.Status = StatusCancelled
			r := "payment charged back"
			b.CancelReason = &r
			c.eventType = events.TypeBookingCancelled
		}
		c.reconcile = ReconcileChargeback
		c.detail = "processor reported a chargeback"
		return c, nil

	case payhere.OutcomeCanceled, payhere.OutcomeFailed, payhere.OutcomeUnknown:
		next := PaymentStatus(outcome)
		if b.PaymentStatus == PaymentPaid {
			// A late failure never undoes a recorded payment.
			c.reconcile = ReconcileFailureAfterPaid
			c.detail = fmt.Sprintf("%s notification after payment", outcome)
			return c, nil
		}
		if b.PaymentStatus == next {
			return c, nil
		}
		b.PaymentStatus = next
		c.eventType = events.TypeBookingPaymentUpdated
		return c, nil
	}
	return c, fmt.Errorf("unhandled payment outcome %q", outcome)
}

func (s *Service) currency() string {
	if s.gateway == nil {
		return ""
	}
	return s.gateway.Currency()
}

// applyToDraft promotes a draft on success. Other outcomes leave the draft to
// expire.
func (s *Service) applyToDraft(ctx context.Context, n payhere.Notification) (*PaymentResult, error) {
	outcome := n.Outcome()
	result := &PaymentResult{Outcome: string(outcome)}
	key := strings.TrimPrefix(n.Custom1, draftRefPrefix)
	if key == "" || key == n.Custom1 {
		key = n.OrderID
	}

	if outcome != payhere.OutcomeSuccess {
		if outcome == payhere.OutcomeChargeback || outcome == payhere.OutcomeUnknown {
			s.logger.Warn("payhere notification for unpromoted draft", "order_id", n.OrderID, "outcome", outcome)
		}
		return result, nil
	}

	if s.drafts == nil {
		return nil, ErrPaymentsDisabled
	}
	draft, err := s.drafts.Get(ctx, key)
	if errors.Is(err, ErrDraftExpiredOrMissing) {
		result.Reconciliation = ReconcileDraftMissing
		r := s.reconciliation(ReconcileDraftMissing, n, nil, "payment succeeded but the pending booking draft is gone")
		if err := s.raiseReconciliation(ctx, r); err != nil {
			return nil, err
		}
		return result, fmt.Errorf("%w: order %s", ErrDraftExpiredOrMissing, key)
	}
	if err != nil {
		return nil, err
	}

	if ok, detail := amountMatches(n, draft.TotalAmount, draft.Currency); !ok {
		result.Reconciliation = ReconcileAmountMismatch
		if err := s.raiseReconciliation(ctx, s.reconciliation(ReconcileAmountMismatch, n, nil, detail)); err != nil {
			return nil, err
		}
		return result, fmt.Errorf("%w: %s", ErrAmountMismatch, detail)
	}

	created, duplicate, err := s.promoteDraft(ctx, n, draft)
	if err != nil {
		if !IsBusiness(err) {
			return nil, err
		}
		// Paid for slots that can no longer be given out.
		result.Reconciliation = ReconcileSlotUnavailable
		if rerr := s.raiseReconciliation(ctx, s.reconciliation(ReconcileSlotUnavailable, n, nil, err.Error())); rerr != nil {
			return nil, rerr
		}
		return result, err
	}

	result.Bookings = created
	result.Duplicate = duplicate
	if err := s.drafts.Remove(ctx, key); err != nil {
		s.logger.Warn("remove consumed draft failed", "order_id", key, "error", err)
	}
	if !duplicate {
		for range created {
			s.metrics.ObserveBookingCreated(string(ModeOnline))
		}
		s.logger.Info("draft promoted", "order_id", key, "bookings", len(created))
	}
	return result, nil
}

// promoteDraft creates one confirmed, paid booking per drafted slot. If an
// earlier delivery already promoted the order, the existing bookings are
// returned with duplicate set.
func (s *Service) promoteDraft(ctx context.Context, n payhere.Notification, d *Draft) (created []Booking, duplicate bool, err error) {
	date, err := ParseDate(d.Date)
	if err != nil {
		return nil, false, fmt.Errorf("%w: draft date %q", ErrInvalidInput, d.Date)
	}
	count := d.SlotCount
	if count <= 0 {
		count = 1
	}
	plan, err := s.planSlots(ctx, d.DoctorID, &d.BranchID, date, d.SlotNumber, count, true)
	if err != nil {
		return nil, false, err
	}
	contact := s.contact(ctx, d.PatientID, d.DoctorID)
	orderID := n.OrderID
	paymentID := n.PaymentID

	err = s.repo.InTx(ctx, func(ctx context.Context, tx TxRepository) error {
		created, duplicate = nil, false
		if err := tx.LockDoctorDay(ctx, plan.doctor.ID, plan.date); err != nil {
			return err
		}
		existing, err := tx.FindByPaymentOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			created, duplicate = existing, true
			return nil
		}

		now := s.now()
		for i := 0; i < count; i++ {
			slot := plan.first + i
			paid := d.BookingFee
			b := &Booking{
				ID:              uuid.New(),
				DoctorID:        plan.doctor.ID,
				PatientID:       d.PatientID,
				BranchID:        plan.doctor.BranchID,
				ScheduleID:      &plan.schedule.ID,
				AppointmentDate: plan.date,
				AppointmentTime: plan.startOf(slot, s.loc),
				SlotNumber:      slot,
				Status:          StatusConfirmed,
				PaymentStatus:   PaymentPaid,
				BookingFee:      d.BookingFee,
				AmountPaid:      &paid,
				PaymentID:       &paymentID,
				PaymentDate:     &now,
				PaymentOrderID:  &orderID,
				Notes:           d.Notes,
				CreatedBy:       d.Actor,
			}
			if err := s.claimSlot(ctx, tx, b); err != nil {
				return err
			}
			if err := s.emit(ctx, tx, change{eventType: events.TypeBookingCreated, after: b, actor: d.Actor, reason: "payment " + paymentID}, contact); err != nil {
				return err
			}
			if err := s.emit(ctx, tx, change{eventType: events.TypeBookingConfirmed, after: b, actor: d.Actor}, contact); err != nil {
				return err
			}
			created = append(created, *b)
		}
		return nil
	})
	if err != nil {
		if IsBusiness(err) {
			if errors.Is(err, ErrSlotConflict) {
				s.metrics.ObserveSlotConflict()
			}
			return nil, false, err
		}
		return nil, false, fmt.Errorf("promote draft: %w", err)
	}
	return created, duplicate, nil
}
