package booking

import "errors"

// Business outcomes. Anything else returned by the service is an
// infrastructure failure.
var (
	ErrSlotConflict                = errors.New("slot already taken")
	ErrInvalidSlot                 = errors.New("slot number outside schedule capacity")
	ErrScheduleNotFound            = errors.New("no schedule for doctor on this date")
	ErrScheduleBlocked             = errors.New("doctor is unavailable on this date")
	ErrCancellationNotAllowed      = errors.New("cancellation not allowed")
	ErrAlreadyTerminal             = errors.New("booking is already in a terminal state")
	ErrInvalidTransition           = errors.New("invalid status transition")
	ErrSignatureVerificationFailed = errors.New("payment notification signature verification failed")
	ErrDraftExpiredOrMissing       = errors.New("pending booking draft expired or missing")
	ErrAmountMismatch              = errors.New("paid amount does not match expected amount")
	ErrBookingNotFound             = errors.New("booking not found")
	ErrPatientNotFound             = errors.New("patient not found")
	ErrDoctorNotFound              = errors.New("doctor not found")
	ErrBranchMismatch              = errors.New("doctor does not belong to this branch")
	ErrPaymentNotRequired          = errors.New("booking does not require payment")
	ErrPastDate                    = errors.New("appointment date is in the past")
	ErrInvalidInput                = errors.New("invalid input")
	ErrPaymentsDisabled            = errors.New("online payments are not configured")
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrSlotConflict, "slot_conflict"},
	{ErrInvalidSlot, "invalid_slot"},
	{ErrScheduleNotFound, "schedule_not_found"},
	{ErrScheduleBlocked, "schedule_blocked"},
	{ErrCancellationNotAllowed, "cancellation_not_allowed"},
	{ErrAlreadyTerminal, "already_terminal"},
	{ErrInvalidTransition, "invalid_transition"},
	{ErrSignatureVerificationFailed, "signature_verification_failed"},
	{ErrDraftExpiredOrMissing, "draft_expired_or_missing"},
	{ErrAmountMismatch, "amount_mismatch"},
	{ErrBookingNotFound, "booking_not_found"},
	{ErrPatientNotFound, "patient_not_found"},
	{ErrDoctorNotFound, "doctor_not_found"},
	{ErrBranchMismatch, "branch_mismatch"},
	{ErrPaymentNotRequired, "payment_not_required"},
	{ErrPastDate, "past_date"},
	{ErrInvalidInput, "invalid_input"},
	{ErrPaymentsDisabled, "payments_disabled"},
}

// Kind returns the machine-checkable code of a business error, or "internal".
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal"
}

// IsBusiness reports whether err is an expected business outcome rather than
// an infrastructure failure.
func IsBusiness(err error) bool {
	return err != nil && Kind(err) != "internal"
}

// Retryable reports whether the same request may succeed after re-resolving
// availability.
func Retryable(err error) bool {
	return errors.Is(err, ErrSlotConflict)
}
