package api

import (
	"net/http"

	"github.com/hackgods/clinic-booking/internal/access"
	"github.com/hackgods/clinic-booking/internal/booking"
	"github.com/hackgods/clinic-booking/internal/payhere"
)

func checkoutHandler(d *handlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := actorFrom(r.Context())
		if err := actor.Require(access.CreateBooking); err != nil {
			d.fail(w, r, err)
			return
		}

		var req CheckoutRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := d.validate.check(req); err != nil {
			d.fail(w, r, err)
			return
		}
		// Checkout is always an online payment.
		req.PaymentMode = string(booking.ModeOnline)
		in, err := d.bookingTarget(actor, req.CreateBookingRequest)
		if err != nil {
			d.fail(w, r, err)
			return
		}

		payment, draft, err := d.svc.InitiatePayment(r.Context(), booking.CheckoutInput{
			CreateInput: in,
			SlotCount:   req.SlotCount,
		}, req.Customer.customer())
		if err != nil {
			d.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, CheckoutResponse{
			OrderID:   draft.OrderID,
			ExpiresAt: draft.CreatedAt.Add(d.draftTTL),
			Amount:    payment.Amount,
			Currency:  payment.Currency,
			Payment:   *payment,
		})
	}
}

func payBookingHandler(d *handlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PayBookingRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := d.validate.check(req); err != nil {
			d.fail(w, r, err)
			return
		}

		b, err := d.loadAuthorized(r, access.CreateBooking)
		if err != nil {
			d.fail(w, r, err)
			return
		}
		payment, err := d.svc.PayForBooking(r.Context(), b.ID, req.Customer.customer())
		if err != nil {
			d.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, PaymentResponse{Payment: *payment})
	}
}

// payhereNotifyHandler receives the processor callback. Every handled
// notification is acknowledged with 200, including rejected signatures and
// payments that need reconciliation, so the processor stops retrying. Only an
// infrastructure failure answers 500 and invites a retry.
func payhereNotifyHandler(d *handlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse form")
			return
		}
		n := payhere.ParseNotification(r.PostForm)

		res, err := d.svc.ApplyPaymentNotification(r.Context(), n)
		resp := NotifyResponse{Status: "ok"}
		if res != nil {
			resp.Outcome = res.Outcome
			resp.Duplicate = res.Duplicate
			resp.Reconciliation = res.Reconciliation
			resp.Bookings = toBookingResponses(res.Bookings)
		}

		switch {
		case err == nil:
		case booking.IsBusiness(err):
			resp.Status = "rejected"
			if resp.Reconciliation != "" {
				resp.Status = "reconciliation_required"
			}
			resp.Error = booking.Kind(err)
			d.logger.Warn("payment notification not applied",
				"order_id", n.OrderID,
				"payment_id", n.PaymentID,
				"status_code", n.StatusCode,
				"error", err,
				"request_id", GetRequestID(r.Context()),
			)
		default:
			d.logger.Error("payment notification failed",
				"order_id", n.OrderID,
				"payment_id", n.PaymentID,
				"error", err,
				"request_id", GetRequestID(r.Context()),
			)
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
