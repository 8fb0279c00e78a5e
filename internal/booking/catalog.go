package booking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/handyman-booking/internal/access"
)

func (s *Service) ListServices(ctx context.Context, actor access.Actor) ([]CatalogService, error) {
	if err := requireAuthenticated(actor); err != nil {
		return nil, err
	}
	list, err := s.repo.ListServices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	return list, nil
}

func (s *Service) GetService(ctx context.Context, actor access.Actor, id uuid.UUID) (*CatalogService, error) {
	if err := requireAuthenticated(actor); err != nil {
		return nil, err
	}
	return s.repo.GetServiceByID(ctx, id)
}

func (s *Service) CreateService(ctx context.Context, actor access.Actor, in ServiceInput) (*CatalogService, error) {
	if err := access.Authorize(actor, access.ActionCreateService, nil).Err(); err != nil {
		return nil, err
	}
	in.normalize()
	if err := in.validate(); err != nil {
		return nil, err
	}

	created, err := s.repo.CreateService(ctx, CatalogService{
		ID:          uuid.New(),
		Name:        in.Name,
		Description: in.Description,
		BaseFee:     in.BaseFee,
		ImageURL:    in.ImageURL,
	})
	if err != nil {
		return nil, fmt.Errorf("create service: %w", err)
	}

	s.log.Info("service created", zap.Stringer("service_id", created.ID), zap.String("admin", actor.ID))
	return created, nil
}

// UpdateService edits a catalog entry that no booking references yet.
func (s *Service) UpdateService(ctx context.Context, actor access.Actor, id uuid.UUID, in ServiceInput) (*CatalogService, error) {
	if err := access.Authorize(actor, access.ActionUpdateService, nil).Err(); err != nil {
		return nil, err
	}
	in.normalize()
	if err := in.validate(); err != nil {
		return nil, err
	}

	if _, err := s.repo.GetServiceByID(ctx, id); err != nil {
		return nil, err
	}
	inUse, err := s.repo.ServiceInUse(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("check service usage: %w", err)
	}
	if inUse {
		return nil, ErrServiceInUse
	}

	updated, err := s.repo.UpdateService(ctx, CatalogService{
		ID:          id,
		Name:        in.Name,
		Description: in.Description,
		BaseFee:     in.BaseFee,
		ImageURL:    in.ImageURL,
	})
	if err != nil {
		return nil, fmt.Errorf("update service: %w", err)
	}
	return updated, nil
}

// UpsertProviderProfile creates or replaces the caller's provider profile. Rating is not
// writable here.
func (s *Service) UpsertProviderProfile(ctx context.Context, actor access.Actor, in ProviderProfileInput) (*ProviderProfile, error) {
	if err := access.Authorize(actor, access.ActionManageProviderProfile, nil).Err(); err != nil {
		return nil, err
	}
	in.normalize()
	if err := in.validate(); err != nil {
		return nil, err
	}

	saved, err := s.repo.UpsertProvider(ctx, ProviderProfile{
		ID:              actor.ID,
		DisplayName:     in.DisplayName,
		Bio:             in.Bio,
		ExperienceYears: in.ExperienceYears,
		Lat:             in.Lat,
		Lng:             in.Lng,
		ServiceIDs:      in.ServiceIDs,
		StripeAccountID: in.StripeAccountID,
	})
	if errors.Is(err, ErrServiceNotFound) {
		return nil, fieldError("serviceIds", "contains an unknown service")
	}
	if err != nil {
		return nil, fmt.Errorf("save provider profile: %w", err)
	}
	return saved, nil
}

type ProviderSort string

const (
	SortByName       ProviderSort = ""
	SortByDistance   ProviderSort = "distance"
	SortByRating     ProviderSort = "rating"
	SortByExperience ProviderSort = "experience"
)

type ProviderQuery struct {
	Sort   ProviderSort
	Lat    *float64
	Lng    *float64
	Search string
}

func (s *Service) ListProvidersForService(ctx context.Context, actor access.Actor, serviceID uuid.UUID, q ProviderQuery) ([]ProviderListing, error) {
	if err := requireAuthenticated(actor); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetServiceByID(ctx, serviceID); err != nil {
		return nil, err
	}

	profiles, err := s.repo.ListProvidersByService(ctx, serviceID)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	return RankProviders(profiles, q)
}

// RankProviders filters by name or bio and orders the result. Distance sorting needs the
// caller's coordinates; providers without coordinates go last.
func RankProviders(profiles []ProviderProfile, q ProviderQuery) ([]ProviderListing, error) {
	v := &ValidationError{}
	validateCoordinates(v, "", q.Lat, q.Lng)
	switch q.Sort {
	case SortByName, SortByRating, SortByExperience:
	case SortByDistance:
		if q.Lat == nil {
			v.add("lat", "is required to sort by distance")
		}
	default:
		v.add("sort", "must be one of distance, rating, experience, name")
	}
	if err := v.orNil(); err != nil {
		return nil, err
	}

	needle := strings.ToLower(strings.TrimSpace(q.Search))
	out := make([]ProviderListing, 0, len(profiles))
	for _, p := range profiles {
		if needle != "" &&
			!strings.Contains(strings.ToLower(p.DisplayName), needle) &&
			!strings.Contains(strings.ToLower(p.Bio), needle) {
			continue
		}
		l := ProviderListing{ProviderProfile: p}
		if q.Lat != nil && p.Lat != nil && p.Lng != nil {
			d := HaversineKm(*q.Lat, *q.Lng, *p.Lat, *p.Lng)
			l.DistanceKm = &d
		}
		out = append(out, l)
	}

	byName := func(a, b ProviderListing) bool { return a.DisplayName < b.DisplayName }
	var less func(a, b ProviderListing) bool
	switch q.Sort {
	case SortByDistance:
		less = func(a, b ProviderListing) bool {
			switch {
			case a.DistanceKm == nil && b.DistanceKm == nil:
				return byName(a, b)
			case a.DistanceKm == nil:
				return false
			case b.DistanceKm == nil:
				return true
			case *a.DistanceKm != *b.DistanceKm:
				return *a.DistanceKm < *b.DistanceKm
			}
			return byName(a, b)
		}
	case SortByRating:
		less = func(a, b ProviderListing) bool {
			if a.Rating != b.Rating {
				return a.Rating > b.Rating
			}
			return byName(a, b)
		}
	case SortByExperience:
		less = func(a, b ProviderListing) bool {
			if a.ExperienceYears != b.ExperienceYears {
				return a.ExperienceYears > b.ExperienceYears
			}
			return byName(a, b)
		}
	default:
		less = byName
	}
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })

	return out, nil
}

const earthRadiusKm = 6371.0

func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	rad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := rad(lat2 - lat1)
	dLng := rad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
