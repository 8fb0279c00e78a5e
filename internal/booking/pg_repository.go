package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

var _ Repository = (*PgRepository)(nil)

const bookingColumns = `id, client_id, provider_id, service_id, status, fee, description,
	address, city, lat, lng, scheduled_time, version, created_at, updated_at`

const serviceColumns = `id, name, description, base_fee, image_url, created_at, updated_at`

const providerColumns = `p.id, p.display_name, p.bio, p.experience_years, p.rating, p.lat, p.lng,
	p.stripe_account_id, p.created_at, p.updated_at,
	ARRAY(SELECT ps2.service_id::text FROM provider_services ps2 WHERE ps2.provider_id = p.id ORDER BY 1)`

const paymentColumns = `transaction_id, booking_id, amount, platform_fee, currency, status,
	client_secret, failure_reason, created_at, updated_at`

// Helpers

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func pgConstraint(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	var city *string

	err := row.Scan(
		&b.ID,
		&b.ClientID,
		&b.ProviderID,
		&b.ServiceID,
		&b.Status,
		&b.Fee,
		&b.Description,
		&b.Location.Address,
		&city,
		&b.Location.Lat,
		&b.Location.Lng,
		&b.ScheduledTime,
		&b.Version,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}

	if city != nil {
		b.Location.City = *city
	}
	return &b, nil
}

func scanService(row pgx.Row) (*CatalogService, error) {
	var s CatalogService

	err := row.Scan(
		&s.ID,
		&s.Name,
		&s.Description,
		&s.BaseFee,
		&s.ImageURL,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServiceNotFound
		}
		return nil, err
	}

	return &s, nil
}

func scanProvider(row pgx.Row) (*ProviderProfile, error) {
	var p ProviderProfile
	var serviceIDs []string

	err := row.Scan(
		&p.ID,
		&p.DisplayName,
		&p.Bio,
		&p.ExperienceYears,
		&p.Rating,
		&p.Lat,
		&p.Lng,
		&p.StripeAccountID,
		&p.CreatedAt,
		&p.UpdatedAt,
		&serviceIDs,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}

	for _, raw := range serviceIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("provider %s has malformed service id %q: %w", p.ID, raw, err)
		}
		p.ServiceIDs = append(p.ServiceIDs, id)
	}
	return &p, nil
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment

	err := row.Scan(
		&p.TransactionID,
		&p.BookingID,
		&p.Amount,
		&p.PlatformFee,
		&p.Currency,
		&p.Status,
		&p.ClientSecret,
		&p.FailureReason,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}

	return &p, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Catalog

func (r *PgRepository) ListServices(ctx context.Context) ([]CatalogService, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+serviceColumns+` FROM services ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []CatalogService
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	return result, rows.Err()
}

func (r *PgRepository) GetServiceByID(ctx context.Context, id uuid.UUID) (*CatalogService, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+serviceColumns+` FROM services WHERE id = $1`, id)
	return scanService(row)
}

func (r *PgRepository) CreateService(ctx context.Context, svc CatalogService) (*CatalogService, error) {
	if svc.ID == uuid.Nil {
		svc.ID = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO services (id, name, description, base_fee, image_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		RETURNING `+serviceColumns,
		svc.ID, svc.Name, svc.Description, svc.BaseFee, svc.ImageURL)

	return scanService(row)
}

func (r *PgRepository) UpdateService(ctx context.Context, svc CatalogService) (*CatalogService, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE services
		SET name = $2,
		    description = $3,
		    base_fee = $4,
		    image_url = $5,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+serviceColumns,
		svc.ID, svc.Name, svc.Description, svc.BaseFee, svc.ImageURL)

	return scanService(row)
}

func (r *PgRepository) ServiceInUse(ctx context.Context, id uuid.UUID) (bool, error) {
	var inUse bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM bookings WHERE service_id = $1)`, id).Scan(&inUse)
	return inUse, err
}

// Actors

func (r *PgRepository) GetProviderByID(ctx context.Context, id string) (*ProviderProfile, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+providerColumns+` FROM providers p WHERE p.id = $1`, id)
	return scanProvider(row)
}

func (r *PgRepository) UpsertProvider(ctx context.Context, p ProviderProfile) (*ProviderProfile, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO providers (id, display_name, bio, experience_years, rating, lat, lng, stripe_account_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		ON CONFLICT (id) DO UPDATE
		SET display_name = EXCLUDED.display_name,
		    bio = EXCLUDED.bio,
		    experience_years = EXCLUDED.experience_years,
		    lat = EXCLUDED.lat,
		    lng = EXCLUDED.lng,
		    stripe_account_id = COALESCE(EXCLUDED.stripe_account_id, providers.stripe_account_id),
		    updated_at = now()
	`, p.ID, p.DisplayName, p.Bio, p.ExperienceYears, p.Rating, p.Lat, p.Lng, p.StripeAccountID)
	if err != nil {
		return nil, fmt.Errorf("upsert provider: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM provider_services WHERE provider_id = $1`, p.ID); err != nil {
		return nil, fmt.Errorf("clear provider services: %w", err)
	}

	for _, sid := range p.ServiceIDs {
		_, err := tx.Exec(ctx, `
			INSERT INTO provider_services (provider_id, service_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, p.ID, sid)
		if err != nil {
			if pgCode(err) == pgForeignKeyViolation {
				return nil, ErrServiceNotFound
			}
			return nil, fmt.Errorf("link provider service: %w", err)
		}
	}

	row := tx.QueryRow(ctx, `SELECT `+providerColumns+` FROM providers p WHERE p.id = $1`, p.ID)
	saved, err := scanProvider(row)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return saved, nil
}

func (r *PgRepository) ListProvidersByService(ctx context.Context, serviceID uuid.UUID) ([]ProviderProfile, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+providerColumns+`
		FROM providers p
		JOIN provider_services ps ON ps.provider_id = p.id
		WHERE ps.service_id = $1
		ORDER BY p.display_name
	`, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ProviderProfile
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

func (r *PgRepository) EnsureClient(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO clients (id) VALUES ($1) ON CONFLICT DO NOTHING`, id)
	return err
}

// Bookings

func (r *PgRepository) CreateBooking(ctx context.Context, b Booking) (*Booking, error) {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO bookings (id, client_id, provider_id, service_id, status, fee, description,
			address, city, lat, lng, scheduled_time, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULL, $6, $7, $8, $9, $10, $11, 1, now(), now())
		RETURNING `+bookingColumns,
		b.ID, b.ClientID, b.ProviderID, b.ServiceID, StatusPending, b.Description,
		b.Location.Address, nullableString(b.Location.City), b.Location.Lat, b.Location.Lng, b.ScheduledTime)

	created, err := scanBooking(row)
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			if pgConstraint(err) == "bookings_provider_id_fkey" {
				return nil, ErrProviderNotFound
			}
			return nil, ErrServiceNotFound
		}
		return nil, err
	}
	return created, nil
}

func (r *PgRepository) GetBookingByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	return scanBooking(row)
}

func (r *PgRepository) TransitionBooking(ctx context.Context, p TransitionParams) (*Booking, error) {
	var fee decimal.NullDecimal
	if p.Fee != nil {
		fee = decimal.NewNullDecimal(*p.Fee)
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE bookings
		SET status = $2,
		    fee = COALESCE($5::numeric, fee),
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		  AND version = $4
		RETURNING `+bookingColumns,
		p.ID, p.To, p.From, p.ExpectedVersion, fee)

	updated, err := scanBooking(row)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, ErrBookingNotFound) {
		return nil, err
	}

	// Nothing matched: either the booking is gone or another writer got there first.
	if _, err := r.GetBookingByID(ctx, p.ID); err != nil {
		return nil, err
	}
	return nil, ErrStaleVersion
}

func (r *PgRepository) ListBookings(ctx context.Context, f ListFilter) ([]Booking, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if f.ClientID != "" {
		add("client_id = $%d", f.ClientID)
	}
	if f.ProviderID != "" {
		add("provider_id = $%d", f.ProviderID)
	}
	if f.Status != nil {
		add("status = $%d", *f.Status)
	}
	if f.From != nil {
		add("scheduled_time >= $%d", *f.From)
	}
	if f.To != nil {
		add("scheduled_time < $%d", *f.To)
	}

	q := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY scheduled_time DESC`

	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		q += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	return result, rows.Err()
}

// Payments

func (r *PgRepository) CreatePayment(ctx context.Context, p Payment) (*Payment, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO payments (transaction_id, booking_id, amount, platform_fee, currency, status,
			client_secret, failure_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		RETURNING `+paymentColumns,
		p.TransactionID, p.BookingID, p.Amount, p.PlatformFee, p.Currency, p.Status,
		p.ClientSecret, p.FailureReason)

	created, err := scanPayment(row)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return nil, ErrPaymentInProgress
		}
		return nil, err
	}
	return created, nil
}

func (r *PgRepository) GetPayment(ctx context.Context, transactionID string) (*Payment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE transaction_id = $1`, transactionID)
	return scanPayment(row)
}

func (r *PgRepository) FindPendingPayment(ctx context.Context, bookingID uuid.UUID) (*Payment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE booking_id = $1 AND status = 'pending'
	`, bookingID)
	return scanPayment(row)
}

func (r *PgRepository) FindStalePendingPayments(ctx context.Context, olderThan time.Time) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE status = 'pending'
		  AND created_at < $1
		ORDER BY created_at
		LIMIT 500
	`, olderThan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

func (r *PgRepository) MarkPaymentFailed(ctx context.Context, transactionID, reason string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE payments
		SET status = 'failed',
		    failure_reason = $2,
		    updated_at = now()
		WHERE transaction_id = $1
		  AND status = 'pending'
	`, transactionID, reason)
	if err != nil {
		return fmt.Errorf("mark payment failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// already terminal is fine; unknown is not
		if _, err := r.GetPayment(ctx, transactionID); err != nil {
			return err
		}
	}
	return nil
}

func (r *PgRepository) SettlePayment(ctx context.Context, transactionID string, bookingID uuid.UUID) (*Booking, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO payment_settlements (transaction_id, booking_id, settled_at)
		VALUES ($1, $2, now())
		ON CONFLICT (transaction_id) DO NOTHING
	`, transactionID, bookingID)
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("insert settlement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrAlreadySettled
	}

	row := tx.QueryRow(ctx, `
		UPDATE bookings
		SET status = 'paid',
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'accepted'
		RETURNING `+bookingColumns, bookingID)
	updated, err := scanBooking(row)
	if errors.Is(err, ErrBookingNotFound) {
		current, getErr := scanBooking(tx.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, bookingID))
		if getErr != nil {
			return nil, getErr
		}
		return nil, transitionError(current.Status, StatusPaid)
	}
	if err != nil {
		return nil, fmt.Errorf("mark booking paid: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE payments
		SET status = 'succeeded',
		    failure_reason = NULL,
		    updated_at = now()
		WHERE transaction_id = $1
	`, transactionID); err != nil {
		return nil, fmt.Errorf("mark payment succeeded: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *PgRepository) ListProviderEarnings(ctx context.Context, providerID string) ([]Earning, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.transaction_id, p.booking_id, p.amount, p.platform_fee, p.currency, s.settled_at
		FROM payment_settlements s
		JOIN payments p ON p.transaction_id = s.transaction_id
		JOIN bookings b ON b.id = s.booking_id
		WHERE b.provider_id = $1
		ORDER BY s.settled_at DESC
	`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Earning
	for rows.Next() {
		var e Earning
		if err := rows.Scan(&e.TransactionID, &e.BookingID, &e.Amount, &e.PlatformFee, &e.Currency, &e.SettledAt); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// Admin aggregates

func (r *PgRepository) DashboardStats(ctx context.Context, popularLimit int) (*DashboardStats, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	stats := DashboardStats{BookingsByStatus: StatusHistogram{}}

	err = tx.QueryRow(ctx, `
		SELECT (SELECT count(*) FROM clients),
		       (SELECT count(*) FROM providers),
		       (SELECT count(*) FROM bookings)
	`).Scan(&stats.TotalClients, &stats.TotalProviders, &stats.TotalBookings)
	if err != nil {
		return nil, fmt.Errorf("count actors: %w", err)
	}

	rows, err := tx.Query(ctx, `SELECT status, count(*) FROM bookings GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("status histogram: %w", err)
	}
	for rows.Next() {
		var s Status
		var n int64
		if err := rows.Scan(&s, &n); err != nil {
			rows.Close()
			return nil, err
		}
		stats.BookingsByStatus[s] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	stats.BookingsByStatus = stats.BookingsByStatus.Complete()

	err = tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(p.amount), 0), COALESCE(SUM(p.platform_fee), 0)
		FROM payment_settlements s
		JOIN payments p ON p.transaction_id = s.transaction_id
	`).Scan(&stats.TotalRevenue, &stats.PlatformRevenue)
	if err != nil {
		return nil, fmt.Errorf("revenue: %w", err)
	}

	rows, err = tx.Query(ctx, `
		SELECT s.id, s.name, s.base_fee, count(b.id) AS usage
		FROM services s
		JOIN bookings b ON b.service_id = s.id
		GROUP BY s.id, s.name, s.base_fee
		ORDER BY usage DESC, s.name
		LIMIT $1
	`, popularLimit)
	if err != nil {
		return nil, fmt.Errorf("popular services: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ps PopularService
		if err := rows.Scan(&ps.ServiceID, &ps.Name, &ps.BaseFee, &ps.UsageCount); err != nil {
			return nil, err
		}
		stats.PopularServices = append(stats.PopularServices, ps)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &stats, nil
}

func (r *PgRepository) BookingsByLocation(ctx context.Context) ([]LocationStats, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT COALESCE(NULLIF(trim(city), ''), trim(address)) AS loc, status, count(*)
		FROM bookings
		GROUP BY loc, status
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byLoc := map[string]*LocationStats{}
	for rows.Next() {
		var loc string
		var s Status
		var n int64
		if err := rows.Scan(&loc, &s, &n); err != nil {
			return nil, err
		}
		ls, ok := byLoc[loc]
		if !ok {
			ls = &LocationStats{Location: loc, ByStatus: StatusHistogram{}}
			byLoc[loc] = ls
		}
		ls.ByStatus[s] += n
		ls.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sortLocations(byLoc), nil
}

func sortLocations(byLoc map[string]*LocationStats) []LocationStats {
	result := make([]LocationStats, 0, len(byLoc))
	for _, ls := range byLoc {
		ls.ByStatus = ls.ByStatus.Complete()
		result = append(result, *ls)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Total != result[j].Total {
			return result[i].Total > result[j].Total
		}
		return result[i].Location < result[j].Location
	})
	return result
}

// Event logging

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, booking_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.BookingID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
