// Package payment connects bookings to the card processor. Charges are created for the
// total (fee plus platform surcharge) and settle either synchronously or via webhook.
package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrUnavailable means the processor could not be reached or answered with a server error.
// Callers may retry with backoff.
var ErrUnavailable = errors.New("payment processor unavailable")

// ErrIgnoredEvent is returned by ParseWebhook for event types that do not settle a charge.
var ErrIgnoredEvent = errors.New("webhook event ignored")

type ChargeStatus string

const (
	ChargePending   ChargeStatus = "pending"
	ChargeSucceeded ChargeStatus = "succeeded"
	ChargeFailed    ChargeStatus = "failed"
)

type ChargeRequest struct {
	BookingID   uuid.UUID
	Amount      decimal.Decimal // total charged to the client
	PlatformFee decimal.Decimal // kept by the platform when Destination is set
	Currency    string
	// Destination is the provider's connected account. Empty keeps the full amount on the
	// platform account.
	Destination    string
	IdempotencyKey string
	Description    string
}

type Charge struct {
	TransactionID string
	BookingID     uuid.UUID
	Status        ChargeStatus
	ClientSecret  string
	FailureReason string
}

// Settlement is a terminal (or still pending) outcome reported for a transaction.
type Settlement struct {
	TransactionID string
	BookingID     uuid.UUID
	Status        ChargeStatus
	FailureReason string
}

func (c *Charge) Settlement() Settlement {
	return Settlement{
		TransactionID: c.TransactionID,
		BookingID:     c.BookingID,
		Status:        c.Status,
		FailureReason: c.FailureReason,
	}
}

// DeclineError is a processor refusal; Reason is safe to show to the payer.
type DeclineError struct {
	TransactionID string
	Reason        string
}

func (e *DeclineError) Error() string {
	return fmt.Sprintf("charge declined: %s", e.Reason)
}

// RejectedError is a request the processor refused outright, such as an amount outside its
// limits or an unusable destination account. Retrying the same request will not help.
type RejectedError struct {
	Code   string
	Reason string
}

func (e *RejectedError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("charge rejected: %s", e.Reason)
	}
	return fmt.Sprintf("charge rejected (%s): %s", e.Code, e.Reason)
}

type Gateway interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error)
	GetCharge(ctx context.Context, transactionID string) (*Charge, error)
}
