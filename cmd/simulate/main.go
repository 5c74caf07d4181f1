package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-booking/internal/access"
	"github.com/hackgods/clinic-booking/internal/booking"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/pkg/logging"
)

type SimConfig struct {
	APIBaseURL      string
	Duration        time.Duration
	Workers         int
	ContentionRound int
	BookingRatio    float64
	CancelRatio     float64
	ReadRatio       float64
	PatientLimit    int
	PostgresDSN     string
}

// target is one bookable doctor day.
type target struct {
	DoctorID uuid.UUID
	BranchID uuid.UUID
	Date     string
	Slots    int
}

type DataPool struct {
	Patients []uuid.UUID
	Targets  []target
	mu       sync.RWMutex
	bookings []createdBooking
}

type createdBooking struct {
	ID       uuid.UUID
	BranchID uuid.UUID
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

func (om *OperationMetrics) Stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))
	p50 = latencies[len(latencies)*50/100]
	p95 = latencies[min(len(latencies)*95/100, len(latencies)-1)]
	max = latencies[len(latencies)-1]
	return avg, p50, p95, max
}

type Metrics struct {
	Contention OperationMetrics
	Booking    OperationMetrics
	Cancel     OperationMetrics
	Slots      OperationMetrics
	List       OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	logger  *logging.Logger
	metrics Metrics

	// doubleBooked counts contention rounds with more than one winner.
	doubleBooked int64
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		logging.Default().Fatal("config load error", "error", err)
	}
	logger := logging.New(baseCfg.LogLevel).With("service", "simulate")

	cfg := loadConfig(baseCfg)
	if err := validateConfig(cfg); err != nil {
		logger.Fatal("invalid config", "error", err)
	}
	logger.Info("simulator starting",
		"duration", cfg.Duration,
		"workers", cfg.Workers,
		"contention_rounds", cfg.ContentionRound,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2})
	if err != nil {
		logger.Fatal("connect postgres", "error", err)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg, baseCfg.Booking.Location())
	if err != nil {
		logger.Fatal("load data pool", "error", err)
	}
	logger.Info("data loaded", "patients", len(dataPool.Patients), "doctor_days", len(dataPool.Targets))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	sim.RunContention()
	sim.RunLoad()
	sim.PrintReport()

	if sim.doubleBooked > 0 {
		os.Exit(1)
	}
}

func loadConfig(base config.Config) SimConfig {
	cfg := SimConfig{
		APIBaseURL:      getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:        getDuration("SIM_DURATION", 30*time.Second),
		Workers:         getInt("SIM_WORKERS", 10),
		ContentionRound: getInt("SIM_CONTENTION_ROUNDS", 20),
		BookingRatio:    getFloat("SIM_BOOKING_RATIO", 0.5),
		CancelRatio:     getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:       getFloat("SIM_READ_RATIO", 0.4),
		PatientLimit:    getInt("SIM_PATIENT_LIMIT", 4000),
		PostgresDSN:     base.PostgresDSN,
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

// loadDataPool reads patients and the weekly schedules, turning each schedule
// into the next date it runs on.
func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig, loc *time.Location) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `SELECT id FROM patients LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Patients = append(dataPool.Patients, id)
	}
	rows.Close()

	rows, err = pool.Query(ctx, `
		SELECT doctor_id, branch_id, day_of_week,
		       EXTRACT(EPOCH FROM (end_time - start_time))::int / 60 / slot_minutes AS slots,
		       max_patients
		FROM doctor_schedules
		WHERE day_of_week IS NOT NULL AND active AND NOT is_blocked
	`)
	if err != nil {
		return nil, fmt.Errorf("load schedules: %w", err)
	}
	today := time.Now().In(loc)
	for rows.Next() {
		var (
			t           target
			day         int
			slots, maxP int
		)
		if err := rows.Scan(&t.DoctorID, &t.BranchID, &day, &slots, &maxP); err != nil {
			rows.Close()
			return nil, err
		}
		if maxP > 0 && maxP < slots {
			slots = maxP
		}
		// One to two weeks out, so every slot is still in the future.
		ahead := (day-int(today.Weekday())+7)%7 + 7
		t.Date = today.AddDate(0, 0, ahead).Format(booking.DateLayout)
		t.Slots = slots
		dataPool.Targets = append(dataPool.Targets, t)
	}
	rows.Close()

	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded")
	}
	if len(dataPool.Targets) == 0 {
		return nil, fmt.Errorf("no schedules loaded")
	}
	return dataPool, nil
}

func (s *Simulator) newRequest(ctx context.Context, method, path string, body any, branch uuid.UUID) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(access.HeaderActorRole, string(access.RoleReceptionist))
	req.Header.Set(access.HeaderActorBranch, branch.String())
	return req, nil
}

// do sends req and returns the status code, draining the body into out when
// it is non-nil.
func (s *Simulator) do(req *http.Request, out any) (int, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		return resp.StatusCode, json.NewDecoder(resp.Body).Decode(out)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func (s *Simulator) book(ctx context.Context, t target, slot int, patient uuid.UUID) (int, time.Duration) {
	start := time.Now()
	req, err := s.newRequest(ctx, http.MethodPost, "/bookings", map[string]any{
		"patient_id":   patient,
		"doctor_id":    t.DoctorID,
		"date":         t.Date,
		"slot_number":  slot,
		"payment_mode": "cash",
	}, t.BranchID)
	if err != nil {
		return 0, 0
	}
	var created struct {
		ID uuid.UUID `json:"id"`
	}
	code, err := s.do(req, &created)
	latency := time.Since(start)
	if err == nil && code == http.StatusCreated && created.ID != uuid.Nil {
		s.pool.AddBooking(createdBooking{ID: created.ID, BranchID: t.BranchID})
	}
	return code, latency
}

// RunContention sends every worker after the same slot at once, round after
// round. Exactly one request per round may win.
func (s *Simulator) RunContention() {
	if s.config.ContentionRound <= 0 {
		return
	}
	ctx := context.Background()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for round := 0; round < s.config.ContentionRound; round++ {
		t := s.pool.Targets[rng.Intn(len(s.pool.Targets))]
		if t.Slots <= 0 {
			continue
		}
		slot := rng.Intn(t.Slots) + 1

		var (
			wg      sync.WaitGroup
			winners int64
			ready   = make(chan struct{})
		)
		for i := 0; i < s.config.Workers; i++ {
			patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-ready
				code, latency := s.book(ctx, t, slot, patient)
				if code == http.StatusCreated {
					atomic.AddInt64(&winners, 1)
				}
				s.metrics.Contention.Record(latency, code == http.StatusCreated, code == http.StatusConflict)
			}()
		}
		close(ready)
		wg.Wait()

		if winners > 1 {
			atomic.AddInt64(&s.doubleBooked, 1)
			s.logger.Error("slot booked more than once",
				"doctor_id", t.DoctorID, "date", t.Date, "slot", slot, "winners", winners)
		}
	}
}

// RunLoad mixes bookings, cancellations and reads for the configured duration.
func (s *Simulator) RunLoad() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Info("starting load phase", "duration", s.config.Duration, "workers", s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}
	wg.Wait()
	s.logger.Info("load phase complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			t := s.pool.Targets[rng.Intn(len(s.pool.Targets))]
			if t.Slots <= 0 {
				continue
			}
			patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
			code, latency := s.book(ctx, t, rng.Intn(t.Slots)+1, patient)
			if ctx.Err() == nil {
				s.metrics.Booking.Record(latency, code == http.StatusCreated, code == http.StatusConflict)
			}
		case r < s.config.BookingRatio+s.config.CancelRatio:
			s.doCancel(ctx, rng)
		default:
			if rng.Intn(2) == 0 {
				s.doSlots(ctx, rng)
			} else {
				s.doList(ctx, rng)
			}
		}
	}
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomBooking(rng)
	if !ok {
		return
	}
	start := time.Now()
	req, err := s.newRequest(ctx, http.MethodPost, "/bookings/"+b.ID.String()+"/cancel",
		map[string]string{"reason": "simulated cancellation"}, b.BranchID)
	if err != nil {
		return
	}
	code, err := s.do(req, nil)
	if ctx.Err() != nil {
		return
	}
	// Cancelling twice is an expected 409.
	s.metrics.Cancel.Record(time.Since(start), err == nil && code == http.StatusOK, code == http.StatusConflict)
}

func (s *Simulator) doSlots(ctx context.Context, rng *rand.Rand) {
	t := s.pool.Targets[rng.Intn(len(s.pool.Targets))]
	start := time.Now()
	req, err := s.newRequest(ctx, http.MethodGet,
		fmt.Sprintf("/doctors/%s/slots?date=%s", t.DoctorID, t.Date), nil, t.BranchID)
	if err != nil {
		return
	}
	code, err := s.do(req, nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.Slots.Record(time.Since(start), err == nil && code == http.StatusOK, false)
}

func (s *Simulator) doList(ctx context.Context, rng *rand.Rand) {
	t := s.pool.Targets[rng.Intn(len(s.pool.Targets))]
	start := time.Now()
	req, err := s.newRequest(ctx, http.MethodGet,
		fmt.Sprintf("/bookings?doctor_id=%s&date=%s&limit=20", t.DoctorID, t.Date), nil, t.BranchID)
	if err != nil {
		return
	}
	code, err := s.do(req, nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.List.Record(time.Since(start), err == nil && code == http.StatusOK, false)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Contention rounds: %d (double-booked: %d)\n", s.config.ContentionRound, s.doubleBooked)
	fmt.Println()

	printOperationReport("Same-slot contention", &s.metrics.Contention)
	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Slot availability", &s.metrics.Slots)
	printOperationReport("List bookings", &s.metrics.List)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}
	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)
	avg, p50, p95, max := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond),
		p95.Round(time.Millisecond), max.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
