package booking

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/hackgods/handyman-booking/internal/access"
	"github.com/hackgods/handyman-booking/internal/fees"
)

func (s *Service) DashboardStats(ctx context.Context, actor access.Actor) (*DashboardStats, error) {
	if err := access.Authorize(actor, access.ActionAdminStats, nil).Err(); err != nil {
		return nil, err
	}

	stats, err := s.repo.DashboardStats(ctx, s.popularLimit)
	if err != nil {
		return nil, fmt.Errorf("dashboard stats: %w", err)
	}
	stats.BookingsByStatus = stats.BookingsByStatus.Complete()
	return stats, nil
}

func (s *Service) BookingsByLocation(ctx context.Context, actor access.Actor) ([]LocationStats, error) {
	if err := access.Authorize(actor, access.ActionAdminLocations, nil).Err(); err != nil {
		return nil, err
	}

	list, err := s.repo.BookingsByLocation(ctx)
	if err != nil {
		return nil, fmt.Errorf("bookings by location: %w", err)
	}
	return list, nil
}

// ProviderEarnings lists the caller's settled payments with what they keep of each.
func (s *Service) ProviderEarnings(ctx context.Context, actor access.Actor) (*EarningsSummary, error) {
	if err := access.Authorize(actor, access.ActionManageProviderProfile, nil).Err(); err != nil {
		return nil, err
	}

	rows, err := s.repo.ListProviderEarnings(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("list earnings: %w", err)
	}

	summary := &EarningsSummary{Payments: rows, TotalEarnings: decimal.Zero}
	for i := range summary.Payments {
		e := &summary.Payments[i]
		e.Net = fees.ProviderNetEarnings(e.Amount, e.PlatformFee)
		summary.TotalEarnings = summary.TotalEarnings.Add(e.Net)
	}
	return summary, nil
}
