package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/ulule/limiter/v3"
	"go.uber.org/zap"

	"github.com/hackgods/handyman-booking/internal/access"
	"github.com/hackgods/handyman-booking/internal/booking"
	"github.com/hackgods/handyman-booking/internal/identity"
	"github.com/hackgods/handyman-booking/internal/payment"
)

// BookingService is the part of *booking.Service the HTTP layer drives.
type BookingService interface {
	CreateBooking(ctx context.Context, actor access.Actor, in booking.CreateBookingInput) (*booking.Booking, error)
	AcceptBooking(ctx context.Context, actor access.Actor, id uuid.UUID, fee decimal.Decimal) (*booking.Booking, error)
	RejectBooking(ctx context.Context, actor access.Actor, id uuid.UUID) (*booking.Booking, error)
	MarkDone(ctx context.Context, actor access.Actor, id uuid.UUID) (*booking.Booking, error)
	ConfirmCompletion(ctx context.Context, actor access.Actor, id uuid.UUID) (*booking.Booking, error)
	GetBooking(ctx context.Context, actor access.Actor, id uuid.UUID) (*booking.Booking, error)
	ListMyBookings(ctx context.Context, actor access.Actor, q booking.MyBookingsQuery) ([]booking.Booking, error)
	TodaySchedule(ctx context.Context, actor access.Actor, loc *time.Location) ([]booking.Booking, error)

	InitiatePayment(ctx context.Context, actor access.Actor, id uuid.UUID) (*booking.PaymentIntent, error)
	SettleCharge(ctx context.Context, st payment.Settlement) (*booking.Booking, error)

	ListServices(ctx context.Context, actor access.Actor) ([]booking.CatalogService, error)
	GetService(ctx context.Context, actor access.Actor, id uuid.UUID) (*booking.CatalogService, error)
	CreateService(ctx context.Context, actor access.Actor, in booking.ServiceInput) (*booking.CatalogService, error)
	UpdateService(ctx context.Context, actor access.Actor, id uuid.UUID, in booking.ServiceInput) (*booking.CatalogService, error)
	UpsertProviderProfile(ctx context.Context, actor access.Actor, in booking.ProviderProfileInput) (*booking.ProviderProfile, error)
	ListProvidersForService(ctx context.Context, actor access.Actor, serviceID uuid.UUID, q booking.ProviderQuery) ([]booking.ProviderListing, error)

	DashboardStats(ctx context.Context, actor access.Actor) (*booking.DashboardStats, error)
	BookingsByLocation(ctx context.Context, actor access.Actor) ([]booking.LocationStats, error)
	ProviderEarnings(ctx context.Context, actor access.Actor) (*booking.EarningsSummary, error)
}

// Notifications is the unread counter and address book behind /notifications.
type Notifications interface {
	UnreadCount(ctx context.Context, userID string) (int64, error)
	MarkAllRead(ctx context.Context, userID string) error
	SetEmail(ctx context.Context, userID, email string) error
}

type RouterConfig struct {
	Service       BookingService
	Notifications Notifications
	Verifier      *identity.Verifier
	Limiter       *limiter.Limiter // nil disables rate limiting
	WebhookSecret string
	HealthChecks  []DependencyCheck
	UnreadPoll    time.Duration
	Logger        *zap.Logger
	Env           string
	Version       string
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	h := &handlers{
		svc:           cfg.Service,
		notifications: cfg.Notifications,
		webhookSecret: cfg.WebhookSecret,
		unreadPoll:    cfg.UnreadPoll,
		log:           cfg.Logger,
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(cfg.Logger))

	health := NewHealthHandler(cfg.HealthChecks, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Post("/payments/webhook", h.paymentWebhook)

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(cfg.Verifier, writeAuthError))
		if cfg.Limiter != nil {
			r.Use(RateLimitMiddleware(cfg.Limiter, cfg.Logger))
		}

		r.Get("/services", h.listServices)
		r.Get("/services/{id}", h.getService)
		r.Get("/services/{id}/providers", h.listProviders)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/services", h.createService)
			r.Patch("/services/{id}", h.updateService)
			r.Get("/dashboard-stats", h.dashboardStats)
			r.Get("/bookings-by-location", h.bookingsByLocation)
		})

		r.Route("/providers/me", func(r chi.Router) {
			r.Put("/", h.upsertProviderProfile)
			r.Get("/earnings", h.providerEarnings)
			r.Get("/schedule/today", h.todaySchedule)
		})

		r.Route("/bookings", func(r chi.Router) {
			r.Post("/", h.createBooking)
			r.Get("/my", h.listMyBookings)
			r.Get("/{id}", h.getBooking)
			r.Patch("/{id}/accept", h.acceptBooking)
			r.Patch("/{id}/reject", h.transition(cfg.Service.RejectBooking))
			r.Post("/{id}/pay", h.payBooking)
			r.Patch("/{id}/done", h.transition(cfg.Service.MarkDone))
			r.Patch("/{id}/complete", h.transition(cfg.Service.ConfirmCompletion))
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/unread-count", h.unreadCount)
			r.Post("/read", h.markRead)
			r.Put("/email", h.setNotificationEmail)
		})
	})

	return r
}
