package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hackgods/handyman-booking/internal/app"
	"github.com/hackgods/handyman-booking/internal/booking"
	"github.com/hackgods/handyman-booking/internal/config"
	"github.com/hackgods/handyman-booking/internal/db"
)

var trades = []string{
	"Plumbing",
	"Electrical repair",
	"Carpentry",
	"Painting",
	"Appliance installation",
	"Furniture assembly",
	"Tiling",
	"Roof repair",
	"Gardening",
	"Locksmith",
}

// Providers are spread around these city centres.
var cities = []struct {
	Name     string
	Lat, Lng float64
}{
	{"Brussels", 50.8503, 4.3517},
	{"Antwerp", 51.2194, 4.4025},
	{"Ghent", 51.0543, 3.7174},
	{"Liège", 50.6326, 5.5797},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	logger, err := app.NewLogger(cfg, "seed")
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := app.ConnectPostgres(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if _, err := db.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	repo := booking.NewPgRepository(pool)
	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	services, err := seedServices(ctx, repo, faker)
	if err != nil {
		logger.Fatal("seed services", zap.Error(err))
	}
	logger.Info("services seeded", zap.Int("count", len(services)))

	n, err := seedProviders(ctx, repo, faker, services, 60)
	if err != nil {
		logger.Fatal("seed providers", zap.Error(err))
	}
	logger.Info("providers seeded", zap.Int("count", n))
}

func seedServices(ctx context.Context, repo *booking.PgRepository, faker *gofakeit.Faker) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(trades))
	for _, name := range trades {
		fee := decimal.NewFromInt(int64(faker.Number(25, 180)))
		svc, err := repo.CreateService(ctx, booking.CatalogService{
			ID:          uuid.New(),
			Name:        name,
			Description: fmt.Sprintf("%s %s by vetted local pros.", name, faker.Adverb()),
			BaseFee:     fee,
		})
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", name, err)
		}
		ids = append(ids, svc.ID)
	}
	return ids, nil
}

func seedProviders(ctx context.Context, repo *booking.PgRepository, faker *gofakeit.Faker, services []uuid.UUID, count int) (int, error) {
	for i := 0; i < count; i++ {
		city := cities[i%len(cities)]
		lat := city.Lat + faker.Float64Range(-0.08, 0.08)
		lng := city.Lng + faker.Float64Range(-0.08, 0.08)

		first, n := faker.Number(0, len(services)-1), faker.Number(1, 3)
		offered := make([]uuid.UUID, 0, n)
		for j := 0; j < n; j++ {
			offered = append(offered, services[(first+j)%len(services)])
		}

		_, err := repo.UpsertProvider(ctx, booking.ProviderProfile{
			ID:              fmt.Sprintf("seed_provider_%03d", i),
			DisplayName:     faker.Name(),
			Bio:             fmt.Sprintf("%s at %s. %s and %s.", faker.JobTitle(), faker.Company(), faker.Adjective(), faker.Adjective()),
			ExperienceYears: faker.Number(0, 35),
			Lat:             &lat,
			Lng:             &lng,
			ServiceIDs:      offered,
		})
		if err != nil {
			return i, err
		}
	}
	return count, nil
}
