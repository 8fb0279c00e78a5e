package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hackgods/handyman-booking/internal/booking"
)

type CreateBookingRequest struct {
	ClientID      string           `json:"clientId"`
	ProviderID    string           `json:"providerId"`
	ServiceID     uuid.UUID        `json:"serviceId"`
	ScheduledTime time.Time        `json:"scheduledTime"`
	Location      booking.Location `json:"location"`
	Description   string           `json:"description"`
}

type AcceptBookingRequest struct {
	Fee *decimal.Decimal `json:"fee"`
}

type ServiceRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	BaseFee     decimal.Decimal `json:"baseFee"`
	ImageURL    *string         `json:"imageUrl"`
}

type ProviderProfileRequest struct {
	DisplayName     string      `json:"displayName"`
	Bio             string      `json:"bio"`
	ExperienceYears int         `json:"experienceYears"`
	Lat             *float64    `json:"lat"`
	Lng             *float64    `json:"lng"`
	ServiceIDs      []uuid.UUID `json:"serviceIds"`
	StripeAccountID *string     `json:"stripeAccountId"`
}

type NotificationEmailRequest struct {
	Email string `json:"email"`
}

type BookingResponse struct {
	ID            uuid.UUID        `json:"id"`
	ClientID      string           `json:"clientId"`
	ProviderID    string           `json:"providerId"`
	ServiceID     uuid.UUID        `json:"serviceId"`
	Status        string           `json:"status"`
	Fee           *string          `json:"fee"`
	Description   string           `json:"description"`
	Location      booking.Location `json:"location"`
	ScheduledTime time.Time        `json:"scheduledTime"`
	Version       int64            `json:"version"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

func toBookingResponse(b *booking.Booking) BookingResponse {
	resp := BookingResponse{
		ID:            b.ID,
		ClientID:      b.ClientID,
		ProviderID:    b.ProviderID,
		ServiceID:     b.ServiceID,
		Status:        string(b.Status),
		Description:   b.Description,
		Location:      b.Location,
		ScheduledTime: b.ScheduledTime,
		Version:       b.Version,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
	if fee, ok := b.FeeValue(); ok {
		s := fee.StringFixed(2)
		resp.Fee = &s
	}
	return resp
}

func toBookingList(list []booking.Booking) []BookingResponse {
	out := make([]BookingResponse, 0, len(list))
	for i := range list {
		out = append(out, toBookingResponse(&list[i]))
	}
	return out
}

type ServiceResponse struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	BaseFee     string    `json:"baseFee"`
	ImageURL    *string   `json:"imageUrl,omitempty"`
}

func toServiceResponse(s *booking.CatalogService) ServiceResponse {
	return ServiceResponse{
		ID:          s.ID,
		Name:        s.Name,
		Description: s.Description,
		BaseFee:     s.BaseFee.StringFixed(2),
		ImageURL:    s.ImageURL,
	}
}

type ProviderResponse struct {
	ID              string      `json:"id"`
	DisplayName     string      `json:"displayName"`
	Bio             string      `json:"bio"`
	ExperienceYears int         `json:"experienceYears"`
	Rating          float64     `json:"rating"`
	Lat             *float64    `json:"lat,omitempty"`
	Lng             *float64    `json:"lng,omitempty"`
	ServiceIDs      []uuid.UUID `json:"serviceIds"`
	DistanceKm      *float64    `json:"distanceKm,omitempty"`
}

func toProviderResponse(p *booking.ProviderProfile, distance *float64) ProviderResponse {
	ids := p.ServiceIDs
	if ids == nil {
		ids = []uuid.UUID{}
	}
	return ProviderResponse{
		ID:              p.ID,
		DisplayName:     p.DisplayName,
		Bio:             p.Bio,
		ExperienceYears: p.ExperienceYears,
		Rating:          p.Rating,
		Lat:             p.Lat,
		Lng:             p.Lng,
		ServiceIDs:      ids,
		DistanceKm:      distance,
	}
}

type PaymentIntentResponse struct {
	Booking       BookingResponse `json:"booking"`
	TransactionID string          `json:"transactionId"`
	ClientSecret  string          `json:"clientSecret,omitempty"`
	PaymentStatus string          `json:"paymentStatus"`
	BaseFee       string          `json:"baseFee"`
	PlatformFee   string          `json:"platformFee"`
	TotalCharge   string          `json:"totalCharge"`
	Currency      string          `json:"currency"`
	Reused        bool            `json:"reused"`
}

func toPaymentIntentResponse(pi *booking.PaymentIntent) PaymentIntentResponse {
	return PaymentIntentResponse{
		Booking:       toBookingResponse(pi.Booking),
		TransactionID: pi.Payment.TransactionID,
		ClientSecret:  pi.ClientSecret,
		PaymentStatus: string(pi.Payment.Status),
		BaseFee:       pi.Quote.BaseFee.StringFixed(2),
		PlatformFee:   pi.Quote.PlatformFee.StringFixed(2),
		TotalCharge:   pi.Quote.TotalCharge.StringFixed(2),
		Currency:      pi.Payment.Currency,
		Reused:        pi.Reused,
	}
}

type PopularServiceResponse struct {
	ServiceID  uuid.UUID `json:"serviceId"`
	Name       string    `json:"name"`
	UsageCount int64     `json:"usageCount"`
	BaseFee    string    `json:"baseFee"`
}

type DashboardStatsResponse struct {
	TotalClients     int64                    `json:"totalClients"`
	TotalProviders   int64                    `json:"totalProviders"`
	TotalBookings    int64                    `json:"totalBookings"`
	BookingsByStatus map[string]int64         `json:"bookingsByStatus"`
	TotalRevenue     string                   `json:"totalRevenue"`
	PlatformRevenue  string                   `json:"platformRevenue"`
	PopularServices  []PopularServiceResponse `json:"popularServices"`
}

func histogram(h booking.StatusHistogram) map[string]int64 {
	out := make(map[string]int64, len(booking.AllStatuses))
	for _, s := range booking.AllStatuses {
		out[string(s)] = h[s]
	}
	return out
}

func toDashboardStatsResponse(s *booking.DashboardStats) DashboardStatsResponse {
	popular := make([]PopularServiceResponse, 0, len(s.PopularServices))
	for _, p := range s.PopularServices {
		popular = append(popular, PopularServiceResponse{
			ServiceID:  p.ServiceID,
			Name:       p.Name,
			UsageCount: p.UsageCount,
			BaseFee:    p.BaseFee.StringFixed(2),
		})
	}
	return DashboardStatsResponse{
		TotalClients:     s.TotalClients,
		TotalProviders:   s.TotalProviders,
		TotalBookings:    s.TotalBookings,
		BookingsByStatus: histogram(s.BookingsByStatus),
		TotalRevenue:     s.TotalRevenue.StringFixed(2),
		PlatformRevenue:  s.PlatformRevenue.StringFixed(2),
		PopularServices:  popular,
	}
}

type LocationStatsResponse struct {
	Location string           `json:"location"`
	Total    int64            `json:"total"`
	ByStatus map[string]int64 `json:"byStatus"`
}

type EarningResponse struct {
	TransactionID string    `json:"transactionId"`
	BookingID     uuid.UUID `json:"bookingId"`
	Amount        string    `json:"amount"`
	PlatformFee   string    `json:"platformFee"`
	Net           string    `json:"net"`
	Currency      string    `json:"currency"`
	SettledAt     time.Time `json:"settledAt"`
}

type EarningsResponse struct {
	Payments      []EarningResponse `json:"payments"`
	TotalEarnings string            `json:"totalEarnings"`
}

func toEarningsResponse(s *booking.EarningsSummary) EarningsResponse {
	out := EarningsResponse{
		Payments:      make([]EarningResponse, 0, len(s.Payments)),
		TotalEarnings: s.TotalEarnings.StringFixed(2),
	}
	for _, e := range s.Payments {
		out.Payments = append(out.Payments, EarningResponse{
			TransactionID: e.TransactionID,
			BookingID:     e.BookingID,
			Amount:        e.Amount.StringFixed(2),
			PlatformFee:   e.PlatformFee.StringFixed(2),
			Net:           e.Net.StringFixed(2),
			Currency:      e.Currency,
			SettledAt:     e.SettledAt,
		})
	}
	return out
}

type UnreadCountResponse struct {
	UnreadCount      int64 `json:"unreadCount"`
	PollAfterSeconds int   `json:"pollAfterSeconds"`
}
