package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hackgods/handyman-booking/internal/access"
	"github.com/hackgods/handyman-booking/internal/events"
	"github.com/hackgods/handyman-booking/internal/payment"
	redisclient "github.com/hackgods/handyman-booking/internal/redis"
)

const (
	EventBookingCreated   = "BOOKING_CREATED"
	EventBookingAccepted  = "BOOKING_ACCEPTED"
	EventBookingRejected  = "BOOKING_REJECTED"
	EventBookingPaid      = "BOOKING_PAID"
	EventBookingDone      = "BOOKING_DONE"
	EventBookingCompleted = "BOOKING_COMPLETED"
	EventPaymentInitiated = "PAYMENT_INITIATED"
	EventPaymentFailed    = "PAYMENT_FAILED"
	// a capture arrived for a booking that was no longer awaiting payment
	EventSettlementOrphaned = "SETTLEMENT_ORPHANED"
)

type lifecycleEvent struct {
	logType    string
	routingKey string
}

var statusEvents = map[Status]lifecycleEvent{
	StatusPending:   {EventBookingCreated, events.BookingCreated},
	StatusAccepted:  {EventBookingAccepted, events.BookingAccepted},
	StatusRejected:  {EventBookingRejected, events.BookingRejected},
	StatusPaid:      {EventBookingPaid, events.BookingPaid},
	StatusDone:      {EventBookingDone, events.BookingDone},
	StatusCompleted: {EventBookingCompleted, events.BookingCompleted},
}

type Options struct {
	Currency             string
	SettlementStaleAfter time.Duration
	PopularServicesLimit int
	Logger               *zap.Logger
	Now                  func() time.Time
}

type Service struct {
	repo      Repository
	locker    redisclient.Locker
	gateway   payment.Gateway
	publisher events.Publisher
	log       *zap.Logger
	tracer    trace.Tracer

	currency     string
	staleAfter   time.Duration
	popularLimit int
	now          func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, gateway payment.Gateway, publisher events.Publisher, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Currency == "" {
		opts.Currency = "usd"
	}
	if opts.SettlementStaleAfter <= 0 {
		opts.SettlementStaleAfter = 5 * time.Minute
	}
	if opts.PopularServicesLimit <= 0 {
		opts.PopularServicesLimit = 5
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	return &Service{
		repo:         repo,
		locker:       locker,
		gateway:      gateway,
		publisher:    publisher,
		log:          opts.Logger.Named("booking"),
		tracer:       otel.Tracer("github.com/hackgods/handyman-booking/internal/booking"),
		currency:     opts.Currency,
		staleAfter:   opts.SettlementStaleAfter,
		popularLimit: opts.PopularServicesLimit,
		now:          opts.Now,
	}
}

func (s *Service) startSpan(ctx context.Context, op string, actor access.Actor, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("actor.role", actor.Role()))
	return s.tracer.Start(ctx, "booking."+op, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// loadAuthorized fetches the booking and runs the access gate. Missing bookings look like
// denials to everyone but admins.
func (s *Service) loadAuthorized(ctx context.Context, actor access.Actor, id uuid.UUID, action access.Action) (*Booking, error) {
	b, err := s.repo.GetBookingByID(ctx, id)
	if errors.Is(err, ErrBookingNotFound) {
		if actor.IsAdmin {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("%w: booking unavailable", ErrAccessDenied)
	}
	if err != nil {
		return nil, fmt.Errorf("load booking: %w", err)
	}

	if err := access.Authorize(actor, action, b.Parties()).Err(); err != nil {
		s.log.Info("access denied",
			zap.String("action", string(action)),
			zap.String("actor", actor.ID),
			zap.Stringer("booking_id", id),
		)
		return nil, err
	}
	return b, nil
}

// transition applies one state machine edge as a compare-and-set on (status, version).
func (s *Service) transition(ctx context.Context, actor access.Actor, id uuid.UUID, action access.Action, to Status, p *TransitionParams) (*Booking, error) {
	current, err := s.loadAuthorized(ctx, actor, id, action)
	if err != nil {
		return nil, err
	}
	if !current.Status.CanTransitionTo(to) {
		return nil, transitionError(current.Status, to)
	}

	params := TransitionParams{}
	if p != nil {
		params = *p
	}
	params.ID = current.ID
	params.From = current.Status
	params.To = to
	params.ExpectedVersion = current.Version

	updated, err := s.repo.TransitionBooking(ctx, params)
	if errors.Is(err, ErrStaleVersion) {
		s.log.Info("booking transition lost race",
			zap.Stringer("booking_id", id),
			zap.String("from", string(current.Status)),
			zap.String("to", string(to)),
			zap.Int64("version", current.Version),
		)
		return nil, ErrConcurrentModification
	}
	if err != nil {
		return nil, fmt.Errorf("transition booking %s: %w", id, err)
	}

	s.emit(ctx, actor.ID, updated, "", nil)
	return updated, nil
}

// emit writes the event log row and publishes the lifecycle message for the booking's
// current status. Neither failure is returned; the transition already committed.
func (s *Service) emit(ctx context.Context, actorID string, b *Booking, reason string, extra map[string]any) {
	ev, ok := statusEvents[b.Status]
	if !ok {
		return
	}
	s.emitAs(ctx, ev, actorID, b, reason, extra)
}

func (s *Service) emitAs(ctx context.Context, ev lifecycleEvent, actorID string, b *Booking, reason string, extra map[string]any) {
	payload := map[string]any{
		"status":  b.Status,
		"version": b.Version,
	}
	if actorID != "" {
		payload["actor_id"] = actorID
	}
	if fee, ok := b.FeeValue(); ok {
		payload["fee"] = fee.StringFixed(2)
	}
	if reason != "" {
		payload["reason"] = reason
	}
	for k, v := range extra {
		payload[k] = v
	}
	s.logEvent(ctx, b.ID, ev.logType, payload)

	msg := events.BookingEvent{
		EventID:    uuid.NewString(),
		Type:       ev.routingKey,
		BookingID:  b.ID.String(),
		ClientID:   b.ClientID,
		ProviderID: b.ProviderID,
		Status:     string(b.Status),
		ActorID:    actorID,
		Reason:     reason,
		OccurredAt: s.now().UTC(),
	}
	if fee, ok := b.FeeValue(); ok {
		msg.Fee = fee.StringFixed(2)
	}
	if err := s.publisher.PublishJSON(ctx, ev.routingKey, msg); err != nil {
		s.log.Warn("publish lifecycle event failed",
			zap.String("routing_key", ev.routingKey),
			zap.Stringer("booking_id", b.ID),
			zap.Error(err),
		)
	}
}

func (s *Service) logEvent(ctx context.Context, bookingID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("marshal event payload", zap.String("event_type", eventType), zap.Error(err))
		data = nil
	}

	id := bookingID
	ev := EventLog{
		EventType: eventType,
		BookingID: &id,
		Payload:   data,
		CreatedAt: s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Error("insert event log",
			zap.String("event_type", eventType),
			zap.Stringer("booking_id", bookingID),
			zap.Error(err),
		)
	}
}

func requireAuthenticated(actor access.Actor) error {
	if actor.ID == "" {
		return fmt.Errorf("%w: anonymous actor", ErrAccessDenied)
	}
	return nil
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
