package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/hackgods/handyman-booking/internal/access"
	"github.com/hackgods/handyman-booking/internal/fees"
)

// CreateBooking records a pending request from the caller to a provider.
func (s *Service) CreateBooking(ctx context.Context, actor access.Actor, in CreateBookingInput) (b *Booking, err error) {
	ctx, span := s.startSpan(ctx, "CreateBooking", actor)
	defer func() { endSpan(span, err) }()

	if in.ClientID != "" && in.ClientID != actor.ID {
		return nil, fmt.Errorf("%w: bookings can only be created for yourself", ErrAccessDenied)
	}
	in.normalize()

	if err := access.Authorize(actor, access.ActionCreateBooking, &access.Parties{ClientID: actor.ID, ProviderID: in.ProviderID}).Err(); err != nil {
		return nil, err
	}
	if err := in.validate(actor.ID, s.now()); err != nil {
		return nil, err
	}

	svc, err := s.repo.GetServiceByID(ctx, in.ServiceID)
	if errors.Is(err, ErrServiceNotFound) {
		return nil, fieldError("serviceId", "unknown service")
	}
	if err != nil {
		return nil, fmt.Errorf("load service: %w", err)
	}

	provider, err := s.repo.GetProviderByID(ctx, in.ProviderID)
	if errors.Is(err, ErrProviderNotFound) {
		return nil, fieldError("providerId", "unknown provider")
	}
	if err != nil {
		return nil, fmt.Errorf("load provider: %w", err)
	}
	if !provider.Offers(svc.ID) {
		return nil, fieldError("providerId", "provider does not offer this service")
	}

	if err := s.repo.EnsureClient(ctx, actor.ID); err != nil {
		return nil, fmt.Errorf("register client: %w", err)
	}

	created, err := s.repo.CreateBooking(ctx, Booking{
		ID:            uuid.New(),
		ClientID:      actor.ID,
		ProviderID:    provider.ID,
		ServiceID:     svc.ID,
		Status:        StatusPending,
		Description:   in.Description,
		Location:      in.Location,
		ScheduledTime: in.ScheduledTime.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("create booking: %w", err)
	}

	span.SetAttributes(attribute.String("booking.id", created.ID.String()))
	s.emit(ctx, actor.ID, created, "", map[string]any{
		"service_id":     svc.ID.String(),
		"scheduled_time": created.ScheduledTime,
	})
	return created, nil
}

// AcceptBooking sets the provider's fee and moves pending -> accepted.
func (s *Service) AcceptBooking(ctx context.Context, actor access.Actor, id uuid.UUID, fee decimal.Decimal) (b *Booking, err error) {
	ctx, span := s.startSpan(ctx, "AcceptBooking", actor, attribute.String("booking.id", id.String()))
	defer func() { endSpan(span, err) }()

	v := &ValidationError{}
	validateMoney(v, "fee", fee)
	if err := v.orNil(); err != nil {
		return nil, err
	}
	if _, err := fees.Quote(fee); errors.Is(err, fees.ErrChargeTooLarge) {
		return nil, fieldError("fee", fmt.Sprintf("total charge must not exceed %s", fees.MaxTotalCharge.StringFixed(2)))
	}

	return s.transition(ctx, actor, id, access.ActionAccept, StatusAccepted, &TransitionParams{Fee: &fee})
}

func (s *Service) RejectBooking(ctx context.Context, actor access.Actor, id uuid.UUID) (b *Booking, err error) {
	ctx, span := s.startSpan(ctx, "RejectBooking", actor, attribute.String("booking.id", id.String()))
	defer func() { endSpan(span, err) }()

	return s.transition(ctx, actor, id, access.ActionReject, StatusRejected, nil)
}

func (s *Service) MarkDone(ctx context.Context, actor access.Actor, id uuid.UUID) (b *Booking, err error) {
	ctx, span := s.startSpan(ctx, "MarkDone", actor, attribute.String("booking.id", id.String()))
	defer func() { endSpan(span, err) }()

	return s.transition(ctx, actor, id, access.ActionMarkDone, StatusDone, nil)
}

// ConfirmCompletion is the client's acknowledgement that the work is finished.
func (s *Service) ConfirmCompletion(ctx context.Context, actor access.Actor, id uuid.UUID) (b *Booking, err error) {
	ctx, span := s.startSpan(ctx, "ConfirmCompletion", actor, attribute.String("booking.id", id.String()))
	defer func() { endSpan(span, err) }()

	return s.transition(ctx, actor, id, access.ActionConfirmCompletion, StatusCompleted, nil)
}

func (s *Service) GetBooking(ctx context.Context, actor access.Actor, id uuid.UUID) (*Booking, error) {
	return s.loadAuthorized(ctx, actor, id, access.ActionViewBooking)
}

type MyBookingsQuery struct {
	AsProvider bool
	Status     *Status
	Limit      int
	Offset     int
}

// ListMyBookings returns the caller's bookings, newest appointment first.
func (s *Service) ListMyBookings(ctx context.Context, actor access.Actor, q MyBookingsQuery) ([]Booking, error) {
	if err := requireAuthenticated(actor); err != nil {
		return nil, err
	}

	f := ListFilter{Status: q.Status}
	f.Limit, f.Offset = normalizePage(q.Limit, q.Offset)

	if q.AsProvider {
		if !actor.IsProvider {
			return nil, fmt.Errorf("%w: provider role required", ErrAccessDenied)
		}
		f.ProviderID = actor.ID
	} else {
		f.ClientID = actor.ID
	}

	list, err := s.repo.ListBookings(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	return list, nil
}

// TodaySchedule is the provider's open work for the current day in loc, earliest first.
func (s *Service) TodaySchedule(ctx context.Context, actor access.Actor, loc *time.Location) ([]Booking, error) {
	if err := access.Authorize(actor, access.ActionManageProviderProfile, nil).Err(); err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}

	now := s.now().In(loc)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)

	list, err := s.repo.ListBookings(ctx, ListFilter{ProviderID: actor.ID, From: &start, To: &end})
	if err != nil {
		return nil, fmt.Errorf("list today's bookings: %w", err)
	}

	open := list[:0]
	for _, b := range list {
		if !b.Status.IsTerminal() {
			open = append(open, b)
		}
	}
	sort.SliceStable(open, func(i, j int) bool {
		return open[i].ScheduledTime.Before(open[j].ScheduledTime)
	})

	s.log.Debug("today schedule", zap.String("provider", actor.ID), zap.Int("count", len(open)))
	return open, nil
}
