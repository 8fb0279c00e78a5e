package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/hackgods/handyman-booking/internal/access"
	"github.com/hackgods/handyman-booking/internal/events"
	"github.com/hackgods/handyman-booking/internal/fees"
	"github.com/hackgods/handyman-booking/internal/payment"
	redisclient "github.com/hackgods/handyman-booking/internal/redis"
)

// PaymentIntent is what the client needs to finish paying: the processor's client secret
// and the fee breakdown it was created for.
type PaymentIntent struct {
	Booking      *Booking
	Payment      *Payment
	Quote        fees.Breakdown
	ClientSecret string
	// Reused is set when an open charge for the booking already existed.
	Reused bool
}

// InitiatePayment starts (or resumes) the charge for an accepted booking. Only one request per
// booking may talk to the processor at a time; the others get ErrPaymentInProgress.
func (s *Service) InitiatePayment(ctx context.Context, actor access.Actor, id uuid.UUID) (out *PaymentIntent, err error) {
	ctx, span := s.startSpan(ctx, "InitiatePayment", actor, attribute.String("booking.id", id.String()))
	defer func() { endSpan(span, err) }()

	b, err := s.loadAuthorized(ctx, actor, id, access.ActionPay)
	if err != nil {
		return nil, err
	}
	if b.Status != StatusAccepted {
		return nil, transitionError(b.Status, StatusPaid)
	}

	err = s.locker.WithBookingLock(ctx, id, func(lockCtx context.Context) error {
		intent, err := s.chargeLocked(lockCtx, actor, id)
		out = intent
		return err
	})
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		return nil, ErrPaymentInProgress
	case errors.Is(err, redisclient.ErrLockUnavailable):
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	case err != nil:
		return nil, err
	}
	return out, nil
}

func (s *Service) chargeLocked(ctx context.Context, actor access.Actor, id uuid.UUID) (*PaymentIntent, error) {
	// re-read under the lock; a webhook may have settled it in between
	b, err := s.repo.GetBookingByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reload booking: %w", err)
	}
	if b.Status != StatusAccepted {
		return nil, transitionError(b.Status, StatusPaid)
	}
	fee, ok := b.FeeValue()
	if !ok {
		return nil, transitionError(b.Status, StatusPaid)
	}
	quote, err := fees.Quote(fee)
	if err != nil {
		return nil, fieldError("fee", err.Error())
	}

	existing, err := s.repo.FindPendingPayment(ctx, id)
	switch {
	case err == nil:
		intent := &PaymentIntent{Booking: b, Payment: existing, Quote: quote, Reused: true}
		if existing.ClientSecret != nil {
			intent.ClientSecret = *existing.ClientSecret
		}
		return intent, nil
	case !errors.Is(err, ErrPaymentNotFound):
		return nil, fmt.Errorf("find pending payment: %w", err)
	}

	if quote.TotalCharge.IsZero() {
		return s.settleWithoutCharge(ctx, actor, b, quote)
	}

	req := payment.ChargeRequest{
		BookingID:      b.ID,
		Amount:         quote.TotalCharge,
		PlatformFee:    quote.PlatformFee,
		Currency:       s.currency,
		IdempotencyKey: fmt.Sprintf("booking-%s-%s", b.ID, uuid.NewString()),
		Description:    fmt.Sprintf("Booking %s", b.ID),
	}
	provider, err := s.repo.GetProviderByID(ctx, b.ProviderID)
	switch {
	case err == nil && provider.StripeAccountID != nil:
		req.Destination = *provider.StripeAccountID
	case err != nil && !errors.Is(err, ErrProviderNotFound):
		return nil, fmt.Errorf("load provider: %w", err)
	}

	charge, err := s.gateway.CreateCharge(ctx, req)
	var (
		decline  *payment.DeclineError
		rejected *payment.RejectedError
	)
	switch {
	case errors.As(err, &decline):
		s.recordDecline(ctx, actor, b, quote, decline.TransactionID, decline.Reason)
		return nil, &PaymentError{Reason: decline.Reason, TransactionID: decline.TransactionID}
	case errors.As(err, &rejected):
		s.recordDecline(ctx, actor, b, quote, "", rejected.Reason)
		return nil, &PaymentError{Reason: rejected.Reason}
	case errors.Is(err, payment.ErrUnavailable):
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	case err != nil:
		return nil, fmt.Errorf("create charge: %w", err)
	}

	if charge.Status == payment.ChargeFailed {
		s.recordDecline(ctx, actor, b, quote, charge.TransactionID, charge.FailureReason)
		return nil, &PaymentError{Reason: charge.FailureReason, TransactionID: charge.TransactionID}
	}

	rec := Payment{
		TransactionID: charge.TransactionID,
		BookingID:     b.ID,
		Amount:        quote.TotalCharge,
		PlatformFee:   quote.PlatformFee,
		Currency:      s.currency,
		Status:        PaymentPending,
	}
	if charge.ClientSecret != "" {
		rec.ClientSecret = &charge.ClientSecret
	}
	saved, err := s.repo.CreatePayment(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("record payment: %w", err)
	}
	s.logEvent(ctx, b.ID, EventPaymentInitiated, map[string]any{
		"actor_id":       actor.ID,
		"transaction_id": saved.TransactionID,
		"amount":         quote.TotalCharge.StringFixed(2),
		"platform_fee":   quote.PlatformFee.StringFixed(2),
		"currency":       s.currency,
	})

	intent := &PaymentIntent{Booking: b, Payment: saved, Quote: quote, ClientSecret: charge.ClientSecret}
	if charge.Status == payment.ChargeSucceeded {
		settled, err := s.applySettlement(ctx, saved, charge.Settlement())
		if err != nil {
			return nil, err
		}
		intent.Booking = settled
		saved.Status = PaymentSucceeded
	}
	return intent, nil
}

// freeChargePrefix marks payments that never went to the processor.
const freeChargePrefix = "free-"

// settleWithoutCharge moves a free booking to paid without a processor round trip. The
// zero-amount payment row keeps the settlement ledger complete.
func (s *Service) settleWithoutCharge(ctx context.Context, actor access.Actor, b *Booking, quote fees.Breakdown) (*PaymentIntent, error) {
	rec, err := s.repo.CreatePayment(ctx, Payment{
		TransactionID: fmt.Sprintf("%s%s-%s", freeChargePrefix, b.ID, uuid.NewString()),
		BookingID:     b.ID,
		Amount:        quote.TotalCharge,
		PlatformFee:   quote.PlatformFee,
		Currency:      s.currency,
		Status:        PaymentPending,
	})
	if err != nil {
		return nil, fmt.Errorf("record payment: %w", err)
	}
	s.logEvent(ctx, b.ID, EventPaymentInitiated, map[string]any{
		"actor_id":       actor.ID,
		"transaction_id": rec.TransactionID,
		"amount":         quote.TotalCharge.StringFixed(2),
		"platform_fee":   quote.PlatformFee.StringFixed(2),
		"currency":       s.currency,
	})

	settled, err := s.applySettlement(ctx, rec, payment.Settlement{
		TransactionID: rec.TransactionID,
		BookingID:     b.ID,
		Status:        payment.ChargeSucceeded,
	})
	if err != nil {
		return nil, err
	}
	rec.Status = PaymentSucceeded
	return &PaymentIntent{Booking: settled, Payment: rec, Quote: quote}, nil
}

// recordDecline stores the failed attempt when the processor gave it an id and notifies the
// parties. The booking stays accepted.
func (s *Service) recordDecline(ctx context.Context, actor access.Actor, b *Booking, quote fees.Breakdown, transactionID, reason string) {
	if transactionID != "" {
		_, err := s.repo.CreatePayment(ctx, Payment{
			TransactionID: transactionID,
			BookingID:     b.ID,
			Amount:        quote.TotalCharge,
			PlatformFee:   quote.PlatformFee,
			Currency:      s.currency,
			Status:        PaymentFailed,
			FailureReason: &reason,
		})
		if err != nil {
			s.log.Warn("record declined payment", zap.String("transaction_id", transactionID), zap.Error(err))
		}
	}

	s.log.Info("payment declined",
		zap.Stringer("booking_id", b.ID),
		zap.String("transaction_id", transactionID),
		zap.String("reason", reason),
	)
	s.emitAs(ctx, lifecycleEvent{EventPaymentFailed, events.PaymentFailed}, actor.ID, b, reason, map[string]any{
		"transaction_id": transactionID,
	})
}

// SettleCharge applies a processor outcome reported out of band. Replays of an already
// recorded capture return the current booking without error.
func (s *Service) SettleCharge(ctx context.Context, st payment.Settlement) (b *Booking, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.SettleCharge")
	span.SetAttributes(attribute.String("payment.transaction_id", st.TransactionID), attribute.String("payment.status", string(st.Status)))
	defer func() { endSpan(span, err) }()

	if st.TransactionID == "" {
		return nil, fieldError("transactionId", "is required")
	}

	p, err := s.repo.GetPayment(ctx, st.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("load payment %s: %w", st.TransactionID, err)
	}
	if st.BookingID != uuid.Nil && st.BookingID != p.BookingID {
		return nil, fieldError("bookingId", "does not match the transaction")
	}

	return s.applySettlement(ctx, p, st)
}

func (s *Service) applySettlement(ctx context.Context, p *Payment, st payment.Settlement) (*Booking, error) {
	switch st.Status {
	case payment.ChargeSucceeded:
		b, err := s.repo.SettlePayment(ctx, p.TransactionID, p.BookingID)
		switch {
		case errors.Is(err, ErrAlreadySettled):
			s.log.Info("settlement replay ignored",
				zap.String("transaction_id", p.TransactionID),
				zap.Stringer("booking_id", p.BookingID),
			)
			return s.currentBooking(ctx, p.BookingID)
		case errors.Is(err, ErrInvalidStateTransition):
			s.log.Error("capture for booking not awaiting payment, refund required",
				zap.String("transaction_id", p.TransactionID),
				zap.Stringer("booking_id", p.BookingID),
				zap.Error(err),
			)
			s.logEvent(ctx, p.BookingID, EventSettlementOrphaned, map[string]any{
				"transaction_id": p.TransactionID,
				"amount":         p.Amount.StringFixed(2),
			})
			return nil, err
		case err != nil:
			return nil, fmt.Errorf("settle payment: %w", err)
		}

		s.emit(ctx, "", b, "", map[string]any{"transaction_id": p.TransactionID})
		return b, nil

	case payment.ChargeFailed:
		if p.Status == PaymentSucceeded {
			return s.currentBooking(ctx, p.BookingID)
		}
		reason := st.FailureReason
		if reason == "" {
			reason = "payment failed"
		}
		if err := s.repo.MarkPaymentFailed(ctx, p.TransactionID, reason); err != nil {
			return nil, fmt.Errorf("mark payment failed: %w", err)
		}
		b, err := s.currentBooking(ctx, p.BookingID)
		if err != nil {
			return nil, err
		}
		if p.Status == PaymentPending {
			s.emitAs(ctx, lifecycleEvent{EventPaymentFailed, events.PaymentFailed}, "", b, reason, map[string]any{
				"transaction_id": p.TransactionID,
			})
		}
		return b, nil

	default:
		return s.currentBooking(ctx, p.BookingID)
	}
}

func (s *Service) currentBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, err := s.repo.GetBookingByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load booking: %w", err)
	}
	return b, nil
}

// readCharge asks the processor for the charge state. Free payments never reached it and are
// always captured.
func (s *Service) readCharge(ctx context.Context, p *Payment) (*payment.Charge, error) {
	if strings.HasPrefix(p.TransactionID, freeChargePrefix) {
		return &payment.Charge{TransactionID: p.TransactionID, BookingID: p.BookingID, Status: payment.ChargeSucceeded}, nil
	}
	return s.gateway.GetCharge(ctx, p.TransactionID)
}

type ReconcileReport struct {
	Checked int
	Settled int
	Failed  int
	Pending int
	Errors  int
}

// ReconcilePendingCharges re-reads charges that stayed pending longer than the configured
// threshold and applies whatever the processor now reports.
func (s *Service) ReconcilePendingCharges(ctx context.Context) (report ReconcileReport, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.ReconcilePendingCharges")
	defer func() { endSpan(span, err) }()

	stale, err := s.repo.FindStalePendingPayments(ctx, s.now().Add(-s.staleAfter))
	if err != nil {
		return report, fmt.Errorf("find stale payments: %w", err)
	}

	for i := range stale {
		if ctx.Err() != nil {
			break
		}
		p := &stale[i]
		report.Checked++

		charge, err := s.readCharge(ctx, p)
		if err != nil {
			report.Errors++
			s.log.Warn("read charge from processor",
				zap.String("transaction_id", p.TransactionID),
				zap.Error(err),
			)
			continue
		}

		st := charge.Settlement()
		st.BookingID = p.BookingID
		if _, err := s.applySettlement(ctx, p, st); err != nil {
			report.Errors++
			s.log.Warn("apply reconciled charge",
				zap.String("transaction_id", p.TransactionID),
				zap.Error(err),
			)
			continue
		}

		switch charge.Status {
		case payment.ChargeSucceeded:
			report.Settled++
		case payment.ChargeFailed:
			report.Failed++
		default:
			report.Pending++
		}
	}

	span.SetAttributes(
		attribute.Int("reconcile.checked", report.Checked),
		attribute.Int("reconcile.settled", report.Settled),
		attribute.Int("reconcile.errors", report.Errors),
	)
	return report, nil
}
