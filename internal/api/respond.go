package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/hackgods/clinic-booking/internal/access"
	"github.com/hackgods/clinic-booking/internal/booking"
	"github.com/hackgods/clinic-booking/pkg/logging"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, details string) {
	writeJSON(w, status, ErrorResponse{Error: kind, Details: details})
}

// decodeJSON reads the body into dst. An empty body leaves dst untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

var kindStatus = map[string]int{
	"slot_conflict":                 http.StatusConflict,
	"invalid_slot":                  http.StatusUnprocessableEntity,
	"schedule_not_found":            http.StatusNotFound,
	"schedule_blocked":              http.StatusConflict,
	"cancellation_not_allowed":      http.StatusConflict,
	"already_terminal":              http.StatusConflict,
	"invalid_transition":            http.StatusConflict,
	"signature_verification_failed": http.StatusUnauthorized,
	"draft_expired_or_missing":      http.StatusGone,
	"amount_mismatch":               http.StatusUnprocessableEntity,
	"booking_not_found":             http.StatusNotFound,
	"patient_not_found":             http.StatusNotFound,
	"doctor_not_found":              http.StatusNotFound,
	"branch_mismatch":               http.StatusUnprocessableEntity,
	"payment_not_required":          http.StatusConflict,
	"past_date":                     http.StatusUnprocessableEntity,
	"invalid_input":                 http.StatusBadRequest,
	"payments_disabled":             http.StatusServiceUnavailable,
}

// handleServiceError maps a service error onto the response. Infrastructure
// errors are logged and answered with a generic 500.
func handleServiceError(w http.ResponseWriter, r *http.Request, logger *logging.Logger, err error) {
	switch {
	case errors.Is(err, access.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
		return
	case errors.Is(err, access.ErrUnknownRole):
		writeError(w, http.StatusUnauthorized, "unauthenticated", err.Error())
		return
	}

	kind := booking.Kind(err)
	status, ok := kindStatus[kind]
	if !ok {
		logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", GetRequestID(r.Context()),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	writeJSON(w, status, ErrorResponse{Error: kind, Details: err.Error(), Retryable: booking.Retryable(err)})
}
