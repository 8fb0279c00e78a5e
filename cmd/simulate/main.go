package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"github.com/hackgods/handyman-booking/internal/access"
	"github.com/hackgods/handyman-booking/internal/app"
	"github.com/hackgods/handyman-booking/internal/config"
	"github.com/hackgods/handyman-booking/internal/identity"
)

type SimConfig struct {
	APIBaseURL    string        `envconfig:"SIM_API_BASE_URL" default:"http://localhost:8080"`
	Duration      time.Duration `envconfig:"SIM_DURATION" default:"30s"`
	Workers       int           `envconfig:"SIM_WORKERS" default:"10"`
	Clients       int           `envconfig:"SIM_CLIENTS" default:"200"`
	BookingRatio  float64       `envconfig:"SIM_BOOKING_RATIO" default:"0.4"`
	AcceptRatio   float64       `envconfig:"SIM_ACCEPT_RATIO" default:"0.3"`
	PayRatio      float64       `envconfig:"SIM_PAY_RATIO" default:"0.1"`
	ReadRatio     float64       `envconfig:"SIM_READ_RATIO" default:"0.2"`
	ProviderLimit int           `envconfig:"SIM_PROVIDER_LIMIT" default:"500"`
}

// offer is one (provider, service) pair a booking can be made for.
type offer struct {
	ProviderID string
	ServiceID  uuid.UUID
}

type createdBooking struct {
	ID         uuid.UUID
	ClientID   string
	ProviderID string
}

type DataPool struct {
	Offers   []offer
	mu       sync.RWMutex
	bookings []createdBooking
}

func (dp *DataPool) AddBooking(b createdBooking) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.bookings = append(dp.bookings, b)
}

func (dp *DataPool) RandomBooking(rng *rand.Rand) (createdBooking, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.bookings) == 0 {
		return createdBooking{}, false
	}
	return dp.bookings[rng.Intn(len(dp.bookings))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	pct := func(p int) time.Duration {
		idx := len(latencies) * p / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}

	return sum / time.Duration(len(latencies)), latencies[0], latencies[len(latencies)-1], pct(50), pct(95)
}

type Metrics struct {
	Create  OperationMetrics
	Accept  OperationMetrics
	Pay     OperationMetrics
	GetByID OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	signer  *identity.Signer
	metrics Metrics

	tokenMu sync.Mutex
	tokens  map[access.Actor]string
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	if baseCfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required to mint simulation tokens")
	}
	logger, err := app.NewLogger(baseCfg, "simulate")
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	var cfg SimConfig
	if err := envconfig.Process("", &cfg); err != nil {
		logger.Fatal("invalid simulation config", zap.Error(err))
	}
	if cfg.Workers <= 0 || cfg.Duration <= 0 || cfg.Clients <= 0 {
		logger.Fatal("SIM_WORKERS, SIM_DURATION and SIM_CLIENTS must be > 0")
	}
	normalizeRatios(&cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := app.ConnectPostgres(ctx, baseCfg, logger)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		logger.Fatal("load data pool", zap.Error(err))
	}
	logger.Info("loaded offers", zap.Int("count", len(dataPool.Offers)))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		signer: identity.NewSigner([]byte(baseCfg.JWTSecret), baseCfg.JWTIssuer, cfg.Duration+time.Hour),
		tokens: map[access.Actor]string{},
	}

	sim.Run(logger)
	sim.PrintReport()
}

func normalizeRatios(cfg *SimConfig) {
	total := cfg.BookingRatio + cfg.AcceptRatio + cfg.PayRatio + cfg.ReadRatio
	if total <= 0 {
		return
	}
	cfg.BookingRatio /= total
	cfg.AcceptRatio /= total
	cfg.PayRatio /= total
	cfg.ReadRatio /= total
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	rows, err := pool.Query(ctx, `
		SELECT provider_id, service_id FROM provider_services LIMIT $1
	`, cfg.ProviderLimit)
	if err != nil {
		return nil, fmt.Errorf("load offers: %w", err)
	}
	defer rows.Close()

	dataPool := &DataPool{}
	for rows.Next() {
		var o offer
		if err := rows.Scan(&o.ProviderID, &o.ServiceID); err != nil {
			return nil, err
		}
		dataPool.Offers = append(dataPool.Offers, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(dataPool.Offers) == 0 {
		return nil, fmt.Errorf("no provider offers loaded, run the seed first")
	}
	return dataPool, nil
}

func (s *Simulator) Run(logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	logger.Info("starting simulation", zap.Duration("duration", s.config.Duration), zap.Int("workers", s.config.Workers))

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	logger.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doCreate(ctx, rng)
		case r < s.config.BookingRatio+s.config.AcceptRatio:
			s.doAcceptRace(ctx, rng)
		case r < s.config.BookingRatio+s.config.AcceptRatio+s.config.PayRatio:
			s.doPay(ctx, rng)
		default:
			s.doGet(ctx, rng)
		}
	}
}

func (s *Simulator) token(actor access.Actor) string {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()
	if tok, ok := s.tokens[actor]; ok {
		return tok
	}
	tok, err := s.signer.Sign(actor)
	if err != nil {
		log.Fatalf("sign token: %v", err)
	}
	s.tokens[actor] = tok
	return tok
}

// call sends one request and reports latency, status and the decoded data field.
func (s *Simulator) call(ctx context.Context, actor access.Actor, method, path string, body any, out any) (int, time.Duration) {
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, 0
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token(actor))

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, latency
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		envelope := struct {
			Data any `json:"data"`
		}{Data: out}
		_ = json.NewDecoder(resp.Body).Decode(&envelope)
	}
	return resp.StatusCode, latency
}

func (s *Simulator) doCreate(ctx context.Context, rng *rand.Rand) {
	o := s.pool.Offers[rng.Intn(len(s.pool.Offers))]
	clientActor := access.Actor{ID: fmt.Sprintf("sim_client_%04d", rng.Intn(s.config.Clients))}

	var created struct {
		ID uuid.UUID `json:"id"`
	}
	status, latency := s.call(ctx, clientActor, http.MethodPost, "/bookings", map[string]any{
		"providerId":    o.ProviderID,
		"serviceId":     o.ServiceID,
		"scheduledTime": time.Now().Add(time.Duration(24+rng.Intn(24*30)) * time.Hour).UTC(),
		"location":      map[string]any{"address": fmt.Sprintf("%d Simulation Street", rng.Intn(900)+1), "city": "Brussels"},
		"description":   "simulated job",
	}, &created)

	ok := status == http.StatusCreated && created.ID != uuid.Nil
	if ok {
		s.pool.AddBooking(createdBooking{ID: created.ID, ClientID: clientActor.ID, ProviderID: o.ProviderID})
	}
	s.metrics.Create.Record(latency, ok, status == http.StatusConflict)
}

// doAcceptRace fires two accepts for the same booking at once; at most one may win.
func (s *Simulator) doAcceptRace(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomBooking(rng)
	if !ok {
		return
	}
	providerActor := access.Actor{ID: b.ProviderID, IsProvider: true}
	fee := fmt.Sprintf("%d.%02d", 20+rng.Intn(200), rng.Intn(100))

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, latency := s.call(ctx, providerActor, http.MethodPatch, "/bookings/"+b.ID.String()+"/accept",
				map[string]string{"fee": fee}, nil)
			s.metrics.Accept.Record(latency, status == http.StatusOK, status == http.StatusConflict)
		}()
	}
	wg.Wait()
}

func (s *Simulator) doPay(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomBooking(rng)
	if !ok {
		return
	}
	status, latency := s.call(ctx, access.Actor{ID: b.ClientID}, http.MethodPost, "/bookings/"+b.ID.String()+"/pay", nil, nil)
	s.metrics.Pay.Record(latency, status == http.StatusOK, status == http.StatusConflict)
}

func (s *Simulator) doGet(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomBooking(rng)
	if !ok {
		return
	}
	status, latency := s.call(ctx, access.Actor{ID: b.ClientID}, http.MethodGet, "/bookings/"+b.ID.String(), nil, nil)
	s.metrics.GetByID.Record(latency, status == http.StatusOK, false)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Create booking", &s.metrics.Create)
	printOperationReport("Accept (racing pairs)", &s.metrics.Accept)
	printOperationReport("Pay", &s.metrics.Pay)
	printOperationReport("Get by ID", &s.metrics.GetByID)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}
