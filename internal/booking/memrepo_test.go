package booking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// memRepo mirrors PgRepository semantics closely enough for service tests: compare-and-set
// transitions, the settlement ledger and the one-open-charge rule.
type memRepo struct {
	mu          sync.Mutex
	services    map[uuid.UUID]CatalogService
	providers   map[string]ProviderProfile
	clients     map[string]bool
	bookings    map[uuid.UUID]Booking
	payments    map[string]Payment
	settlements map[string]time.Time
	events      []EventLog
	clock       func() time.Time
}

func (r *memRepo) now() time.Time {
	if r.clock != nil {
		return r.clock()
	}
	return time.Now()
}

var _ Repository = (*memRepo)(nil)

func newMemRepo() *memRepo {
	return &memRepo{
		services:    map[uuid.UUID]CatalogService{},
		providers:   map[string]ProviderProfile{},
		clients:     map[string]bool{},
		bookings:    map[uuid.UUID]Booking{},
		payments:    map[string]Payment{},
		settlements: map[string]time.Time{},
	}
}

func (r *memRepo) ListServices(context.Context) ([]CatalogService, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CatalogService, 0, len(r.services))
	for _, s := range r.services {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *memRepo) GetServiceByID(_ context.Context, id uuid.UUID) (*CatalogService, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.services[id]
	if !ok {
		return nil, ErrServiceNotFound
	}
	return &s, nil
}

func (r *memRepo) CreateService(_ context.Context, svc CatalogService) (*CatalogService, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	svc.CreatedAt, svc.UpdatedAt = r.now(), r.now()
	r.services[svc.ID] = svc
	return &svc, nil
}

func (r *memRepo) UpdateService(_ context.Context, svc CatalogService) (*CatalogService, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.services[svc.ID]
	if !ok {
		return nil, ErrServiceNotFound
	}
	svc.CreatedAt = old.CreatedAt
	svc.UpdatedAt = r.now()
	r.services[svc.ID] = svc
	return &svc, nil
}

func (r *memRepo) ServiceInUse(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.bookings {
		if b.ServiceID == id {
			return true, nil
		}
	}
	return false, nil
}

func (r *memRepo) GetProviderByID(_ context.Context, id string) (*ProviderProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.providers[id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return &p, nil
}

func (r *memRepo) UpsertProvider(_ context.Context, p ProviderProfile) (*ProviderProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sid := range p.ServiceIDs {
		if _, ok := r.services[sid]; !ok {
			return nil, ErrServiceNotFound
		}
	}
	if old, ok := r.providers[p.ID]; ok {
		p.Rating = old.Rating
		p.CreatedAt = old.CreatedAt
		if p.StripeAccountID == nil {
			p.StripeAccountID = old.StripeAccountID
		}
	}
	r.providers[p.ID] = p
	return &p, nil
}

func (r *memRepo) ListProvidersByService(_ context.Context, serviceID uuid.UUID) ([]ProviderProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ProviderProfile
	for _, p := range r.providers {
		if p.Offers(serviceID) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memRepo) EnsureClient(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[id] = true
	return nil
}

func (r *memRepo) CreateBooking(_ context.Context, b Booking) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[b.ProviderID]; !ok {
		return nil, ErrProviderNotFound
	}
	b.Version = 1
	b.CreatedAt, b.UpdatedAt = r.now(), r.now()
	r.bookings[b.ID] = b
	return &b, nil
}

func (r *memRepo) GetBookingByID(_ context.Context, id uuid.UUID) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	return &b, nil
}

func (r *memRepo) TransitionBooking(_ context.Context, p TransitionParams) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[p.ID]
	if !ok {
		return nil, ErrBookingNotFound
	}
	if b.Status != p.From || b.Version != p.ExpectedVersion {
		return nil, ErrStaleVersion
	}
	b.Status = p.To
	if p.Fee != nil {
		b.Fee = decimal.NewNullDecimal(*p.Fee)
	}
	b.Version++
	b.UpdatedAt = r.now()
	r.bookings[p.ID] = b
	return &b, nil
}

func (r *memRepo) ListBookings(_ context.Context, f ListFilter) ([]Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Booking
	for _, b := range r.bookings {
		if f.ClientID != "" && b.ClientID != f.ClientID {
			continue
		}
		if f.ProviderID != "" && b.ProviderID != f.ProviderID {
			continue
		}
		if f.Status != nil && b.Status != *f.Status {
			continue
		}
		if f.From != nil && b.ScheduledTime.Before(*f.From) {
			continue
		}
		if f.To != nil && !b.ScheduledTime.Before(*f.To) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledTime.After(out[j].ScheduledTime) })
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *memRepo) CreatePayment(_ context.Context, p Payment) (*Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.Status == PaymentPending {
		for _, other := range r.payments {
			if other.BookingID == p.BookingID && other.Status == PaymentPending {
				return nil, ErrPaymentInProgress
			}
		}
	}
	p.CreatedAt, p.UpdatedAt = r.now(), r.now()
	r.payments[p.TransactionID] = p
	return &p, nil
}

func (r *memRepo) GetPayment(_ context.Context, txID string) (*Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[txID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return &p, nil
}

func (r *memRepo) FindPendingPayment(_ context.Context, bookingID uuid.UUID) (*Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.BookingID == bookingID && p.Status == PaymentPending {
			return &p, nil
		}
	}
	return nil, ErrPaymentNotFound
}

func (r *memRepo) FindStalePendingPayments(_ context.Context, olderThan time.Time) ([]Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Payment
	for _, p := range r.payments {
		if p.Status == PaymentPending && p.CreatedAt.Before(olderThan) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memRepo) MarkPaymentFailed(_ context.Context, txID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[txID]
	if !ok {
		return ErrPaymentNotFound
	}
	if p.Status == PaymentPending {
		p.Status = PaymentFailed
		p.FailureReason = &reason
		r.payments[txID] = p
	}
	return nil
}

func (r *memRepo) SettlePayment(_ context.Context, txID string, bookingID uuid.UUID) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, done := r.settlements[txID]; done {
		return nil, ErrAlreadySettled
	}
	p, ok := r.payments[txID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	b, ok := r.bookings[bookingID]
	if !ok {
		return nil, ErrBookingNotFound
	}
	if b.Status != StatusAccepted {
		return nil, transitionError(b.Status, StatusPaid)
	}

	b.Status = StatusPaid
	b.Version++
	b.UpdatedAt = r.now()
	r.bookings[bookingID] = b

	p.Status = PaymentSucceeded
	p.FailureReason = nil
	r.payments[txID] = p
	r.settlements[txID] = r.now()
	return &b, nil
}

func (r *memRepo) ListProviderEarnings(_ context.Context, providerID string) ([]Earning, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Earning
	for txID, at := range r.settlements {
		p := r.payments[txID]
		if r.bookings[p.BookingID].ProviderID != providerID {
			continue
		}
		out = append(out, Earning{
			TransactionID: txID,
			BookingID:     p.BookingID,
			Amount:        p.Amount,
			PlatformFee:   p.PlatformFee,
			Currency:      p.Currency,
			SettledAt:     at,
		})
	}
	return out, nil
}

func (r *memRepo) DashboardStats(_ context.Context, popularLimit int) (*DashboardStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &DashboardStats{
		TotalClients:     int64(len(r.clients)),
		TotalProviders:   int64(len(r.providers)),
		TotalBookings:    int64(len(r.bookings)),
		BookingsByStatus: StatusHistogram{},
	}
	usage := map[uuid.UUID]int64{}
	for _, b := range r.bookings {
		stats.BookingsByStatus[b.Status]++
		usage[b.ServiceID]++
	}
	for txID := range r.settlements {
		p := r.payments[txID]
		stats.TotalRevenue = stats.TotalRevenue.Add(p.Amount)
		stats.PlatformRevenue = stats.PlatformRevenue.Add(p.PlatformFee)
	}
	for id, n := range usage {
		svc := r.services[id]
		stats.PopularServices = append(stats.PopularServices, PopularService{ServiceID: id, Name: svc.Name, UsageCount: n, BaseFee: svc.BaseFee})
	}
	sort.Slice(stats.PopularServices, func(i, j int) bool {
		return stats.PopularServices[i].UsageCount > stats.PopularServices[j].UsageCount
	})
	if len(stats.PopularServices) > popularLimit {
		stats.PopularServices = stats.PopularServices[:popularLimit]
	}
	return stats, nil
}

func (r *memRepo) BookingsByLocation(context.Context) ([]LocationStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byLoc := map[string]*LocationStats{}
	for _, b := range r.bookings {
		loc := b.Location.City
		if loc == "" {
			loc = b.Location.Address
		}
		ls, ok := byLoc[loc]
		if !ok {
			ls = &LocationStats{Location: loc, ByStatus: StatusHistogram{}}
			byLoc[loc] = ls
		}
		ls.ByStatus[b.Status]++
		ls.Total++
	}
	return sortLocations(byLoc), nil
}

func (r *memRepo) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *memRepo) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.EventType)
	}
	return out
}

func (r *memRepo) settlementCount(bookingID uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for txID := range r.settlements {
		if r.payments[txID].BookingID == bookingID {
			n++
		}
	}
	return n
}

// backdatePayments makes every payment look older than it is.
func (r *memRepo) backdatePayments(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range r.payments {
		p.CreatedAt = p.CreatedAt.Add(-d)
		r.payments[id] = p
	}
}
