// Package events carries booking lifecycle notifications over a RabbitMQ topic exchange.
package events

import (
	"context"
	"time"
)

// Routing keys. Consumers bind with "booking.*" and "payment.*".
const (
	BookingCreated   = "booking.created"
	BookingAccepted  = "booking.accepted"
	BookingRejected  = "booking.rejected"
	BookingPaid      = "booking.paid"
	BookingDone      = "booking.done"
	BookingCompleted = "booking.completed"
	PaymentFailed    = "payment.failed"
)

// AllKeys is every routing key a publisher may emit.
var AllKeys = []string{
	BookingCreated,
	BookingAccepted,
	BookingRejected,
	BookingPaid,
	BookingDone,
	BookingCompleted,
	PaymentFailed,
}

// BookingEvent is the message body for every routing key.
type BookingEvent struct {
	EventID    string    `json:"eventId"`
	Type       string    `json:"type"`
	BookingID  string    `json:"bookingId"`
	ClientID   string    `json:"clientId"`
	ProviderID string    `json:"providerId"`
	Status     string    `json:"status"`
	Fee        string    `json:"fee,omitempty"`
	ActorID    string    `json:"actorId,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Recipients are the parties who did not cause the event. Events without an actor
// (settlement, reconciliation) go to both.
func (e BookingEvent) Recipients() []string {
	switch {
	case e.ActorID == e.ClientID && e.ActorID != "":
		return []string{e.ProviderID}
	case e.ActorID == e.ProviderID && e.ActorID != "":
		return []string{e.ClientID}
	default:
		return []string{e.ClientID, e.ProviderID}
	}
}

type Publisher interface {
	PublishJSON(ctx context.Context, routingKey string, v any) error
}

// NopPublisher drops everything. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishJSON(context.Context, string, any) error { return nil }
