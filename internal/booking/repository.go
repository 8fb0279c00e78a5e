package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrBookingNotFound  = errors.New("booking not found")
	ErrServiceNotFound  = errors.New("service not found")
	ErrProviderNotFound = errors.New("provider not found")
	ErrPaymentNotFound  = errors.New("payment not found")

	// ErrStaleVersion is returned by TransitionBooking when the row moved on since it was read.
	ErrStaleVersion = errors.New("stale booking version")
	// ErrAlreadySettled is returned by SettlePayment for a transaction already in the ledger.
	ErrAlreadySettled = errors.New("transaction already settled")
)

type ListFilter struct {
	ClientID   string
	ProviderID string
	Status     *Status
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

// TransitionParams is a compare-and-set on (status, version).
type TransitionParams struct {
	ID              uuid.UUID
	From            Status
	To              Status
	ExpectedVersion int64
	Fee             *decimal.Decimal // set together with the transition when non-nil
}

// Repository contains all DB interactions needed by the service.
type Repository interface {
	// Catalog
	ListServices(ctx context.Context) ([]CatalogService, error)
	GetServiceByID(ctx context.Context, id uuid.UUID) (*CatalogService, error)
	CreateService(ctx context.Context, svc CatalogService) (*CatalogService, error)
	UpdateService(ctx context.Context, svc CatalogService) (*CatalogService, error)
	ServiceInUse(ctx context.Context, id uuid.UUID) (bool, error)

	// Actors
	GetProviderByID(ctx context.Context, id string) (*ProviderProfile, error)
	UpsertProvider(ctx context.Context, p ProviderProfile) (*ProviderProfile, error)
	ListProvidersByService(ctx context.Context, serviceID uuid.UUID) ([]ProviderProfile, error)
	EnsureClient(ctx context.Context, id string) error

	// Bookings
	CreateBooking(ctx context.Context, b Booking) (*Booking, error)
	GetBookingByID(ctx context.Context, id uuid.UUID) (*Booking, error)
	TransitionBooking(ctx context.Context, p TransitionParams) (*Booking, error)
	ListBookings(ctx context.Context, f ListFilter) ([]Booking, error)

	// Payments and settlement ledger
	CreatePayment(ctx context.Context, p Payment) (*Payment, error)
	GetPayment(ctx context.Context, transactionID string) (*Payment, error)
	FindPendingPayment(ctx context.Context, bookingID uuid.UUID) (*Payment, error)
	FindStalePendingPayments(ctx context.Context, olderThan time.Time) ([]Payment, error)
	MarkPaymentFailed(ctx context.Context, transactionID, reason string) error
	// SettlePayment records the capture in the ledger and moves the booking accepted -> paid
	// atomically. Returns ErrAlreadySettled when the transaction was recorded before.
	SettlePayment(ctx context.Context, transactionID string, bookingID uuid.UUID) (*Booking, error)
	ListProviderEarnings(ctx context.Context, providerID string) ([]Earning, error)

	// Admin aggregates
	DashboardStats(ctx context.Context, popularLimit int) (*DashboardStats, error)
	BookingsByLocation(ctx context.Context) ([]LocationStats, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
