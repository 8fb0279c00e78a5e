package notification

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"go.uber.org/zap"

	"github.com/hackgods/handyman-booking/internal/events"
)

var subjects = map[string]string{
	events.BookingCreated:   "New booking request",
	events.BookingAccepted:  "Your booking was accepted",
	events.BookingRejected:  "Your booking was declined",
	events.BookingPaid:      "Booking paid",
	events.BookingDone:      "Job marked as done",
	events.BookingCompleted: "Booking completed",
	events.PaymentFailed:    "Payment failed",
}

var bodyTmpl = template.Must(template.New("mail").Parse(
	`<p>Booking <strong>{{.BookingID}}</strong> is now <strong>{{.Status}}</strong>.</p>` +
		`{{if .Fee}}<p>Fee: {{.Fee}}</p>{{end}}` +
		`{{if .Reason}}<p>Reason: {{.Reason}}</p>{{end}}`,
))

type Handler struct {
	store  *Store
	mailer Mailer
	log    *zap.Logger
}

// NewHandler builds the consumer-side handler. mailer may be nil.
func NewHandler(store *Store, mailer Mailer, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{store: store, mailer: mailer, log: log}
}

// Handle bumps the unread counter of every recipient once per event id and e-mails those
// with a registered address once the counters are stored. Mail failures are logged, not
// retried.
func (h *Handler) Handle(ctx context.Context, routingKey string, ev events.BookingEvent) error {
	if ev.EventID != "" {
		first, err := h.store.FirstDelivery(ctx, ev.EventID)
		if err != nil {
			return err
		}
		if !first {
			h.log.Debug("duplicate event skipped", zap.String("event_id", ev.EventID))
			return nil
		}
	}

	recipients := make([]string, 0, 2)
	for _, userID := range ev.Recipients() {
		if userID != "" {
			recipients = append(recipients, userID)
		}
	}
	if err := h.store.Increment(ctx, recipients...); err != nil {
		if ev.EventID != "" {
			h.store.Forget(ctx, ev.EventID)
		}
		return err
	}

	for _, userID := range recipients {
		h.mail(ctx, routingKey, userID, ev)
	}
	return nil
}

func (h *Handler) mail(ctx context.Context, routingKey, userID string, ev events.BookingEvent) {
	if h.mailer == nil {
		return
	}
	to, err := h.store.EmailFor(ctx, userID)
	if err != nil {
		h.log.Warn("lookup notification address", zap.String("user_id", userID), zap.Error(err))
		return
	}
	if to == "" {
		return
	}

	subject, ok := subjects[routingKey]
	if !ok {
		subject = "Booking update"
	}
	var body bytes.Buffer
	if err := bodyTmpl.Execute(&body, ev); err != nil {
		h.log.Error("render mail", zap.Error(err))
		return
	}

	if err := h.mailer.Send(to, fmt.Sprintf("%s (%s)", subject, shortID(ev.BookingID)), body.String()); err != nil {
		h.log.Warn("send notification mail",
			zap.String("user_id", userID),
			zap.String("booking_id", ev.BookingID),
			zap.Error(err),
		)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
