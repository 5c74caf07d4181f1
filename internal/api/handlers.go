package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/access"
	"github.com/hackgods/clinic-booking/internal/booking"
	"github.com/hackgods/clinic-booking/pkg/logging"
)

// handlerDeps is shared by every route closure.
type handlerDeps struct {
	svc      BookingService
	validate *requestValidator
	logger   *logging.Logger
	draftTTL time.Duration
	staleAge time.Duration
}

func (d *handlerDeps) fail(w http.ResponseWriter, r *http.Request, err error) {
	handleServiceError(w, r, d.logger, err)
}

func parseUUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s must be a valid UUID", booking.ErrInvalidInput, name)
	}
	return id, nil
}

func parseOptionalUUID(name, v string) (*uuid.UUID, error) {
	if v == "" {
		return nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be a valid UUID", booking.ErrInvalidInput, name)
	}
	return &id, nil
}

func parseDate(name, v string) (time.Time, error) {
	d, err := booking.ParseDate(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be a date in YYYY-MM-DD format", booking.ErrInvalidInput, name)
	}
	return d, nil
}

func parseIntQuery(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", booking.ErrInvalidInput, name)
	}
	return n, nil
}

// authorizeBooking checks that the actor may use capability c on b. Patients
// only ever reach their own bookings; staff stay inside their branch.
func authorizeBooking(a access.Actor, b *booking.Booking, c access.Capability) error {
	if a.Role == access.RolePatient {
		if a.ID != b.PatientID {
			return fmt.Errorf("%w: booking belongs to another patient", access.ErrForbidden)
		}
		if c == access.ViewBookings {
			return nil
		}
		return a.Require(c)
	}
	if err := a.Require(c); err != nil {
		return err
	}
	branch := b.BranchID
	_, err := a.ResolveBranch(&branch)
	return err
}

func requireOverride(a access.Actor, override bool) error {
	if !override {
		return nil
	}
	return a.Require(access.OverrideRestrictions)
}

// loadAuthorized fetches the booking named in the URL and checks access to it.
func (d *handlerDeps) loadAuthorized(r *http.Request, c access.Capability) (*booking.Booking, error) {
	id, err := parseUUIDParam(r, "id")
	if err != nil {
		return nil, err
	}
	b, err := d.svc.GetBooking(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if err := authorizeBooking(actorFrom(r.Context()), b, c); err != nil {
		return nil, err
	}
	return b, nil
}

func slotsHandler(d *handlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := actorFrom(r.Context())
		if err := actor.Require(access.ViewSlots); err != nil {
			d.fail(w, r, err)
			return
		}

		doctorID, err := parseUUIDParam(r, "doctorID")
		if err != nil {
			d.fail(w, r, err)
			return
		}
		date, err := parseDate("date", r.URL.Query().Get("date"))
		if err != nil {
			d.fail(w, r, err)
			return
		}
		requested, err := parseOptionalUUID("branch_id", r.URL.Query().Get("branch_id"))
		if err != nil {
			d.fail(w, r, err)
			return
		}
		branch, err := actor.ResolveBranch(requested)
		if err != nil {
			d.fail(w, r, err)
			return
		}

		avail, err := d.svc.ResolveSlots(r.Context(), doctorID, branch, date)
		if err != nil {
			d.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, avail)
	}
}

// bookingTarget turns a create request into service input after the access
// checks that depend on its contents.
func (d *handlerDeps) bookingTarget(actor access.Actor, req CreateBookingRequest) (booking.CreateInput, error) {
	if err := d.validate.check(req); err != nil {
		return booking.CreateInput{}, err
	}
	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		return booking.CreateInput{}, fmt.Errorf("%w: patient_id must be a valid UUID", booking.ErrInvalidInput)
	}
	doctorID, err := uuid.Parse(req.DoctorID)
	if err != nil {
		return booking.CreateInput{}, fmt.Errorf("%w: doctor_id must be a valid UUID", booking.ErrInvalidInput)
	}
	requested, err := parseOptionalUUID("branch_id", req.BranchID)
	if err != nil {
		return booking.CreateInput{}, err
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		return booking.CreateInput{}, err
	}

	if actor.Role == access.RolePatient {
		if actor.ID != patientID {
			return booking.CreateInput{}, fmt.Errorf("%w: patients can only book for themselves", access.ErrForbidden)
		}
		if req.PaymentMode != "" && req.PaymentMode != string(booking.ModeOnline) {
			return booking.CreateInput{}, fmt.Errorf("%w: patients must pay online", access.ErrForbidden)
		}
	}
	branch, err := actor.ResolveBranch(requested)
	if err != nil {
		return booking.CreateInput{}, err
	}

	return booking.CreateInput{
		PatientID:   patientID,
		DoctorID:    doctorID,
		BranchID:    branch,
		Date:        date,
		SlotNumber:  req.SlotNumber,
		PaymentMode: booking.PaymentMode(req.PaymentMode),
		Notes:       req.Notes,
		Actor:       actor.IDPtr(),
	}, nil
}

func createBookingHandler(d *handlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := actorFrom(r.Context())
		if err := actor.Require(access.CreateBooking); err != nil {
			d.fail(w, r, err)
			return
		}

		var req CreateBookingRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		in, err := d.bookingTarget(actor, req)
		if err != nil {
			d.fail(w, r, err)
			return
		}

		b, err := d.svc.CreateBooking(r.Context(), in)
		if err != nil {
			d.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toBookingResponse(b))
	}
}

func listBookingsHandler(d *handlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := actorFrom(r.Context())
		q := r.URL.Query()

		var f booking.Filter
		var err error
		if v := q.Get("date"); v != "" {
			date, err := parseDate("date", v)
			if err != nil {
				d.fail(w, r, err)
				return
			}
			f.Date = &date
		}
		if f.DoctorID, err = parseOptionalUUID("doctor_id", q.Get("doctor_id")); err != nil {
			d.fail(w, r, err)
			return
		}
		if f.PatientID, err = parseOptionalUUID("patient_id", q.Get("patient_id")); err != nil {
			d.fail(w, r, err)
			return
		}
		requested, err := parseOptionalUUID("branch_id", q.Get("branch_id"))
		if err != nil {
			d.fail(w, r, err)
			return
		}
		if v := q.Get("status"); v != "" {
			s := booking.Status(v)
			f.Status = &s
		}
		if f.Limit, err = parseIntQuery(r, "limit", 20); err != nil {
			d.fail(w, r, err)
			return
		}
		if f.Offset, err = parseIntQuery(r, "offset", 0); err != nil {
			d.fail(w, r, err)
			return
		}

		if actor.Role == access.RolePatient {
			self := actor.ID
			f.PatientID = &self
			f.BranchID = requested
		} else {
			if err := actor.Require(access.ViewBookings); err != nil {
				d.fail(w, r, err)
				return
			}
			if f.BranchID, err = actor.ResolveBranch(requested); err != nil {
				d.fail(w, r, err)
				return
			}
		}

		list, err := d.svc.ListBookings(r.Context(), f)
		if err != nil {
			d.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ListBookingsResponse{
			Bookings: toBookingResponses(list),
			Limit:    f.Limit,
			Offset:   f.Offset,
		})
	}
}

func getBookingHandler(d *handlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := d.loadAuthorized(r, access.ViewBookings)
		if err != nil {
			d.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toBookingResponse(b))
	}
}

func cancelBookingHandler(d *handlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CancelRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := d.validate.check(req); err != nil {
			d.fail(w, r, err)
			return
		}

		b, err := d.loadAuthorized(r, access.CancelBooking)
		if err != nil {
			d.fail(w, r, err)
			return
		}
		actor := actorFrom(r.Context())
		if err := requireOverride(actor, req.Override); err != nil {
			d.fail(w, r, err)
			return
		}

		cancelled, err := d.svc.Cancel(r.Context(), booking.CancelInput{
			BookingID:            b.ID,
			Reason:               req.Reason,
			Actor:                actor.IDPtr(),
			OverrideRestrictions: req.Override,
		})
		if err != nil {
			d.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toBookingResponse(cancelled))
	}
}

func rescheduleBookingHandler(d *handlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RescheduleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := d.validate.check(req); err != nil {
			d.fail(w, r, err)
			return
		}
		date, err := parseDate("date", req.Date)
		if err != nil {
			d.fail(w, r, err)
			return
		}
		doctorID, err := parseOptionalUUID("doctor_id", req.DoctorID)
		if err != nil {
			d.fail(w, r, err)
			return
		}
		branchID, err := parseOptionalUUID("branch_id", req.BranchID)
		if err != nil {
			d.fail(w, r, err)
			return
		}

		b, err := d.loadAuthorized(r, access.RescheduleBooking)
		if err != nil {
			d.fail(w, r, err)
			return
		}
		actor := actorFrom(r.Context())
		if err := requireOverride(actor, req.Override); err != nil {
			d.fail(w, r, err)
			return
		}
		if branchID != nil && actor.Role != access.RolePatient {
			if _, err := actor.ResolveBranch(branchID); err != nil {
				d.fail(w, r, err)
				return
			}
		}

		res, err := d.svc.Reschedule(r.Context(), booking.RescheduleInput{
			BookingID:            b.ID,
			NewDate:              date,
			NewSlot:              req.SlotNumber,
			NewDoctorID:          doctorID,
			NewBranchID:          branchID,
			Reason:               req.Reason,
			Actor:                actor.IDPtr(),
			OverrideRestrictions: req.Override,
		})
		if err != nil {
			d.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, RescheduleResponse{
			Old: toBookingResponse(res.Old),
			New: toBookingResponse(res.New),
		})
	}
}

func updateStatusHandler(d *handlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req StatusRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := d.validate.check(req); err != nil {
			d.fail(w, r, err)
			return
		}

		capability := access.UpdateStatus
		if booking.Status(req.Status) == booking.StatusCancelled {
			capability = access.CancelBooking
		}
		b, err := d.loadAuthorized(r, capability)
		if err != nil {
			d.fail(w, r, err)
			return
		}
		actor := actorFrom(r.Context())
		if err := requireOverride(actor, req.Override); err != nil {
			d.fail(w, r, err)
			return
		}

		updated, err := d.svc.UpdateStatus(r.Context(), booking.StatusInput{
			BookingID:            b.ID,
			Status:               booking.Status(req.Status),
			Reason:               req.Reason,
			Actor:                actor.IDPtr(),
			OverrideRestrictions: req.Override,
		})
		if err != nil {
			d.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toBookingResponse(updated))
	}
}

func auditTrailHandler(d *handlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := d.loadAuthorized(r, access.ViewAudit)
		if err != nil {
			d.fail(w, r, err)
			return
		}
		entries, err := d.svc.AuditTrail(r.Context(), b.ID)
		if err != nil {
			d.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAuditResponses(entries))
	}
}

func cleanupStaleHandler(d *handlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := actorFrom(r.Context()).Require(access.RunMaintenance); err != nil {
			d.fail(w, r, err)
			return
		}
		minutes, err := parseIntQuery(r, "max_age_minutes", int(d.staleAge/time.Minute))
		if err != nil {
			d.fail(w, r, err)
			return
		}
		maxAge := time.Duration(minutes) * time.Minute

		n, err := d.svc.CleanupStalePendingBookings(r.Context(), maxAge)
		if err != nil {
			d.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, CleanupResponse{Expired: n, MaxAge: maxAge.String()})
	}
}
