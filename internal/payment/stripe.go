package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/hackgods/handyman-booking/internal/fees"
)

const bookingMetadataKey = "booking_id"

type StripeGateway struct {
	api *client.API
}

var _ Gateway = (*StripeGateway)(nil)

// NewStripeGateway uses the default Stripe backends. backends may be nil.
func NewStripeGateway(secretKey string, backends *stripe.Backends) *StripeGateway {
	api := &client.API{}
	api.Init(secretKey, backends)
	return &StripeGateway{api: api}
}

func (g *StripeGateway) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(fees.ToMinorUnits(req.Amount)),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata(bookingMetadataKey, req.BookingID.String())
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	if req.Destination != "" {
		params.ApplicationFeeAmount = stripe.Int64(fees.ToMinorUnits(req.PlatformFee))
		params.TransferData = &stripe.PaymentIntentTransferDataParams{
			Destination: stripe.String(req.Destination),
		}
	}

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return nil, classifyStripeError(err)
	}
	return chargeFromIntent(pi), nil
}

func (g *StripeGateway) GetCharge(ctx context.Context, transactionID string) (*Charge, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := g.api.PaymentIntents.Get(transactionID, params)
	if err != nil {
		return nil, classifyStripeError(err)
	}
	return chargeFromIntent(pi), nil
}

func chargeFromIntent(pi *stripe.PaymentIntent) *Charge {
	c := &Charge{
		TransactionID: pi.ID,
		ClientSecret:  pi.ClientSecret,
		Status:        intentStatus(pi),
	}
	if raw, ok := pi.Metadata[bookingMetadataKey]; ok {
		if id, err := uuid.Parse(raw); err == nil {
			c.BookingID = id
		}
	}
	if c.Status == ChargeFailed {
		c.FailureReason = "payment canceled"
		if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
			c.FailureReason = pi.LastPaymentError.Msg
		}
	}
	return c
}

// intentStatus folds the PaymentIntent lifecycle into three outcomes. An intent that needs
// a new payment method after an attempt has failed; before any attempt it is still pending.
func intentStatus(pi *stripe.PaymentIntent) ChargeStatus {
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return ChargeSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return ChargeFailed
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		if pi.LastPaymentError != nil {
			return ChargeFailed
		}
		return ChargePending
	default:
		return ChargePending
	}
}

func classifyStripeError(err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	switch {
	case se.Type == stripe.ErrorTypeCard:
		d := &DeclineError{Reason: se.Msg}
		if se.PaymentIntent != nil {
			d.TransactionID = se.PaymentIntent.ID
		}
		return d
	case se.HTTPStatusCode == http.StatusTooManyRequests, se.HTTPStatusCode >= 500, se.Type == stripe.ErrorTypeAPI:
		return fmt.Errorf("%w: %s", ErrUnavailable, se.Msg)
	default:
		reason := se.Msg
		if reason == "" {
			reason = "request rejected by processor"
		}
		return &RejectedError{Code: string(se.Code), Reason: reason}
	}
}

// ParseWebhook verifies the Stripe-Signature header and extracts the settlement carried by
// payment_intent.succeeded and payment_intent.payment_failed. Other types yield ErrIgnoredEvent.
func ParseWebhook(payload []byte, signature, secret string) (*Settlement, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("verify webhook: %w", err)
	}

	switch string(event.Type) {
	case "payment_intent.succeeded", "payment_intent.payment_failed", "payment_intent.canceled":
	default:
		return nil, ErrIgnoredEvent
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("decode payment intent: %w", err)
	}

	c := chargeFromIntent(&pi)
	if string(event.Type) == "payment_intent.payment_failed" {
		c.Status = ChargeFailed
		if c.FailureReason == "" {
			c.FailureReason = "payment failed"
		}
	}
	s := c.Settlement()
	return &s, nil
}
