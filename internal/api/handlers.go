package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/handyman-booking/internal/access"
	"github.com/hackgods/handyman-booking/internal/booking"
	"github.com/hackgods/handyman-booking/internal/identity"
	"github.com/hackgods/handyman-booking/internal/payment"
)

type handlers struct {
	svc           BookingService
	notifications Notifications
	webhookSecret string
	unreadPoll    time.Duration
	log           *zap.Logger
}

func actorOf(r *http.Request) access.Actor {
	actor, _ := identity.ActorFrom(r.Context())
	return actor
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeServiceError(w, r, h.log, err)
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, &booking.ValidationError{Fields: map[string]string{"id": "must be a valid UUID"}}
	}
	return id, nil
}

// Bookings

func (h *handlers) createBooking(w http.ResponseWriter, r *http.Request) {
	var req CreateBookingRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	b, err := h.svc.CreateBooking(r.Context(), actorOf(r), booking.CreateBookingInput{
		ClientID:      req.ClientID,
		ProviderID:    req.ProviderID,
		ServiceID:     req.ServiceID,
		ScheduledTime: req.ScheduledTime,
		Location:      req.Location,
		Description:   req.Description,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, toBookingResponse(b))
}

func (h *handlers) getBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	b, err := h.svc.GetBooking(r.Context(), actorOf(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toBookingResponse(b))
}

func (h *handlers) listMyBookings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := booking.MyBookingsQuery{AsProvider: q.Get("as") == "provider"}

	if raw := q.Get("status"); raw != "" {
		st, err := booking.ParseStatus(raw)
		if err != nil {
			h.fail(w, r, &booking.ValidationError{Fields: map[string]string{"status": err.Error()}})
			return
		}
		query.Status = &st
	}
	query.Limit, _ = strconv.Atoi(q.Get("limit"))
	query.Offset, _ = strconv.Atoi(q.Get("offset"))

	list, err := h.svc.ListMyBookings(r.Context(), actorOf(r), query)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toBookingList(list))
}

func (h *handlers) acceptBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req AcceptBookingRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Fee == nil {
		h.fail(w, r, &booking.ValidationError{Fields: map[string]string{"fee": "is required"}})
		return
	}

	b, err := h.svc.AcceptBooking(r.Context(), actorOf(r), id, *req.Fee)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toBookingResponse(b))
}

type transitionFunc func(ctx context.Context, actor access.Actor, id uuid.UUID) (*booking.Booking, error)

// transition serves the body-less status changes (reject, done, complete).
func (h *handlers) transition(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		b, err := fn(r.Context(), actorOf(r), id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeData(w, http.StatusOK, toBookingResponse(b))
	}
}

func (h *handlers) payBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	intent, err := h.svc.InitiatePayment(r.Context(), actorOf(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toPaymentIntentResponse(intent))
}

// paymentWebhook settles charges reported by the processor. Anything other than 2xx makes
// the processor redeliver, so only retryable failures answer with an error status.
func (h *handlers) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "could not read body")
		return
	}

	st, err := payment.ParseWebhook(payload, r.Header.Get("Stripe-Signature"), h.webhookSecret)
	switch {
	case errors.Is(err, payment.ErrIgnoredEvent):
		writeData(w, http.StatusOK, map[string]bool{"ignored": true})
		return
	case err != nil:
		h.log.Warn("rejected payment webhook", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid_webhook", "signature verification failed")
		return
	}

	b, err := h.svc.SettleCharge(r.Context(), *st)
	switch {
	case err == nil:
		writeData(w, http.StatusOK, toBookingResponse(b))
	case errors.Is(err, booking.ErrInvalidStateTransition), errors.Is(err, booking.ErrValidation):
		// recorded for manual follow-up; redelivery cannot change the outcome
		writeData(w, http.StatusOK, map[string]bool{"ignored": true})
	case errors.Is(err, booking.ErrPaymentNotFound):
		writeError(w, http.StatusNotFound, "payment_not_found", "unknown transaction, retry later")
	default:
		h.fail(w, r, err)
	}
}

// Schedule and earnings

func (h *handlers) todaySchedule(w http.ResponseWriter, r *http.Request) {
	loc := time.UTC
	if tz := r.URL.Query().Get("tz"); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			h.fail(w, r, &booking.ValidationError{Fields: map[string]string{"tz": "unknown time zone"}})
			return
		}
		loc = l
	}

	list, err := h.svc.TodaySchedule(r.Context(), actorOf(r), loc)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toBookingList(list))
}

func (h *handlers) providerEarnings(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.ProviderEarnings(r.Context(), actorOf(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toEarningsResponse(summary))
}

func (h *handlers) upsertProviderProfile(w http.ResponseWriter, r *http.Request) {
	var req ProviderProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	p, err := h.svc.UpsertProviderProfile(r.Context(), actorOf(r), booking.ProviderProfileInput{
		DisplayName:     req.DisplayName,
		Bio:             req.Bio,
		ExperienceYears: req.ExperienceYears,
		Lat:             req.Lat,
		Lng:             req.Lng,
		ServiceIDs:      req.ServiceIDs,
		StripeAccountID: req.StripeAccountID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toProviderResponse(p, nil))
}

// Notifications

func (h *handlers) unreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.notifications.UnreadCount(r.Context(), actorOf(r).ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, UnreadCountResponse{
		UnreadCount:      n,
		PollAfterSeconds: int(h.unreadPoll / time.Second),
	})
}

func (h *handlers) markRead(w http.ResponseWriter, r *http.Request) {
	if err := h.notifications.MarkAllRead(r.Context(), actorOf(r).ID); err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, UnreadCountResponse{PollAfterSeconds: int(h.unreadPoll / time.Second)})
}

func (h *handlers) setNotificationEmail(w http.ResponseWriter, r *http.Request) {
	var req NotificationEmailRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	email := strings.TrimSpace(req.Email)
	if email != "" && (!strings.Contains(email, "@") || strings.ContainsAny(email, " \r\n")) {
		h.fail(w, r, &booking.ValidationError{Fields: map[string]string{"email": "is not a valid address"}})
		return
	}
	if err := h.notifications.SetEmail(r.Context(), actorOf(r).ID, email); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
