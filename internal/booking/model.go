package booking

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hackgods/handyman-booking/internal/access"
)

type Location struct {
	Address string   `json:"address"`
	City    string   `json:"city,omitempty"`
	Lat     *float64 `json:"lat,omitempty"`
	Lng     *float64 `json:"lng,omitempty"`
}

type Booking struct {
	ID            uuid.UUID
	ClientID      string
	ProviderID    string
	ServiceID     uuid.UUID
	Status        Status
	Fee           decimal.NullDecimal
	Description   string
	Location      Location
	ScheduledTime time.Time
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// FeeValue returns the fee and whether the provider has set one.
func (b *Booking) FeeValue() (decimal.Decimal, bool) {
	return b.Fee.Decimal, b.Fee.Valid
}

func (b *Booking) Parties() *access.Parties {
	return &access.Parties{ClientID: b.ClientID, ProviderID: b.ProviderID}
}

// CatalogService is an entry in the trade catalog clients book against.
type CatalogService struct {
	ID          uuid.UUID
	Name        string
	Description string
	BaseFee     decimal.Decimal
	ImageURL    *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProviderProfile is the local record of a provider. ID is the identity provider subject.
type ProviderProfile struct {
	ID              string
	DisplayName     string
	Bio             string
	ExperienceYears int
	Rating          float64
	Lat             *float64
	Lng             *float64
	ServiceIDs      []uuid.UUID
	StripeAccountID *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (p *ProviderProfile) Offers(serviceID uuid.UUID) bool {
	for _, id := range p.ServiceIDs {
		if id == serviceID {
			return true
		}
	}
	return false
}

// ProviderListing is a provider as shown for one service, with distance from the caller.
type ProviderListing struct {
	ProviderProfile
	DistanceKm *float64
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

type Payment struct {
	TransactionID string
	BookingID     uuid.UUID
	Amount        decimal.Decimal
	PlatformFee   decimal.Decimal
	Currency      string
	Status        PaymentStatus
	ClientSecret  *string
	FailureReason *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Earning is one settled payment from the provider's point of view.
type Earning struct {
	TransactionID string
	BookingID     uuid.UUID
	Amount        decimal.Decimal
	PlatformFee   decimal.Decimal
	Net           decimal.Decimal
	Currency      string
	SettledAt     time.Time
}

type EarningsSummary struct {
	Payments      []Earning
	TotalEarnings decimal.Decimal
}

type EventLog struct {
	ID        int64
	EventType string
	BookingID *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}

type StatusHistogram map[Status]int64

// Complete fills in zero counts so every status is present.
func (h StatusHistogram) Complete() StatusHistogram {
	out := make(StatusHistogram, len(AllStatuses))
	for _, s := range AllStatuses {
		out[s] = h[s]
	}
	return out
}

type PopularService struct {
	ServiceID  uuid.UUID
	Name       string
	UsageCount int64
	BaseFee    decimal.Decimal
}

type DashboardStats struct {
	TotalClients     int64
	TotalProviders   int64
	TotalBookings    int64
	BookingsByStatus StatusHistogram
	TotalRevenue     decimal.Decimal
	PlatformRevenue  decimal.Decimal
	PopularServices  []PopularService
}

type LocationStats struct {
	Location string
	Total    int64
	ByStatus StatusHistogram
}
