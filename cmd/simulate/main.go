package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/appointment-admission/internal/appointment"
	"github.com/hackgods/appointment-admission/internal/config"
	"github.com/hackgods/appointment-admission/internal/db"
	"github.com/hackgods/appointment-admission/internal/logging"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	ReadRatio    float64
	HotspotRatio float64 // share of bookings aimed at one contested instant
	WindowLimit  int
	Policy       appointment.ConflictPolicy
}

// slot is an availability window loaded from Postgres.
type slot struct {
	DoctorID string
	Date     time.Time
	Window   appointment.Window
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Rejected  int64
	Error     int64
	reasons   sync.Map // reason -> *int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int, reason string) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case status == http.StatusOK || status == http.StatusCreated:
		atomic.AddInt64(&om.Success, 1)
	case status >= 400 && status < 500:
		atomic.AddInt64(&om.Rejected, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}
	if reason != "" {
		n, _ := om.reasons.LoadOrStore(reason, new(int64))
		atomic.AddInt64(n.(*int64), 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	n := len(latencies)
	return sum / time.Duration(n), latencies[n*50/100], latencies[min(n*95/100, n-1)], latencies[n-1]
}

type Simulator struct {
	config  SimConfig
	slots   []slot
	hotspot slot
	client  *http.Client
	log     zerolog.Logger

	booking OperationMetrics
	listing OperationMetrics
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("config load error")
	}
	log := logging.New(baseCfg.Env, baseCfg.LogLevel, "simulate")

	cfg := SimConfig{
		APIBaseURL:   strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.2),
		HotspotRatio: getFloat("SIM_HOTSPOT_RATIO", 0.3),
		WindowLimit:  getInt("SIM_WINDOW_LIMIT", 500),
		Policy: appointment.ConflictPolicy{
			MinGap:         baseCfg.MinGap,
			AcrossMidnight: baseCfg.ConflictAcrossMidnight,
		},
	}
	if cfg.Workers <= 0 || cfg.Duration <= 0 {
		log.Fatal().Msg("SIM_WORKERS and SIM_DURATION must be > 0")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, db.PoolConfig{DSN: baseCfg.PostgresDSN, ApplicationName: "simulate"})
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	slots, err := loadSlots(ctx, pgPool, cfg.WindowLimit)
	if err != nil {
		log.Fatal().Err(err).Msg("load availability")
	}
	log.Info().Int("windows", len(slots)).Msg("availability loaded")

	sim := &Simulator{
		config:  cfg,
		slots:   slots,
		hotspot: slots[0],
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}

	sim.Run()
	sim.PrintReport()

	verifyCtx, cancelVerify := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelVerify()
	violations, err := verifySeparation(verifyCtx, pgPool, cfg.Policy)
	if err != nil {
		log.Fatal().Err(err).Msg("verify separation")
	}
	if len(violations) > 0 {
		for _, v := range violations {
			fmt.Println("  VIOLATION:", v)
		}
		log.Fatal().Int("violations", len(violations)).Msg("separation invariant broken")
	}
	fmt.Println("Separation: OK, no two bookings of a doctor within the minimum gap")
}

func loadSlots(ctx context.Context, pool *pgxpool.Pool, limit int) ([]slot, error) {
	rows, err := pool.Query(ctx, `
		SELECT doctor_id, day, start_time, end_time
		FROM availability_windows
		WHERE day >= current_date
		ORDER BY day, doctor_id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query windows: %w", err)
	}
	defer rows.Close()

	var slots []slot
	for rows.Next() {
		var s slot
		var start, end pgtype.Time
		if err := rows.Scan(&s.DoctorID, &s.Date, &start, &end); err != nil {
			return nil, err
		}
		s.Window = appointment.Window{
			Start: appointment.TimeOfDay(time.Duration(start.Microseconds) * time.Microsecond),
			End:   appointment.TimeOfDay(time.Duration(end.Microseconds) * time.Microsecond),
		}
		slots = append(slots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(slots) == 0 {
		return nil, fmt.Errorf("no availability windows loaded, run cmd/seed first")
	}
	return slots, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info().
		Dur("duration", s.config.Duration).
		Int("workers", s.config.Workers).
		Str("hotspot_doctor", s.hotspot.DoctorID).
		Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	faker := gofakeit.New(0)

	for ctx.Err() == nil {
		if rng.Float64() < s.config.ReadRatio {
			s.doList(ctx, rng)
			continue
		}

		target := s.hotspot
		at := target.Window.Start
		if rng.Float64() >= s.config.HotspotRatio {
			target = s.slots[rng.Intn(len(s.slots))]
			at = randomQuarterHour(rng, target.Window)
		}
		s.doBooking(ctx, target, at, faker.Email())
	}
}

// randomQuarterHour picks a quarter-hour start inside w.
func randomQuarterHour(rng *rand.Rand, w appointment.Window) appointment.TimeOfDay {
	steps := int(time.Duration(w.End-w.Start) / (15 * time.Minute))
	if steps <= 0 {
		return w.Start
	}
	return w.Start + appointment.TimeOfDay(time.Duration(rng.Intn(steps))*15*time.Minute)
}

func (s *Simulator) doBooking(ctx context.Context, target slot, at appointment.TimeOfDay, patientID string) {
	start := target.Date.Add(time.Duration(at))
	body, _ := json.Marshal(map[string]string{
		"doctor_id":  target.DoctorID,
		"patient_id": patientID,
		"start":      appointment.FormatInstant(start),
	})

	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/appointments", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	began := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(began)
	if err != nil {
		if ctx.Err() == nil {
			s.booking.Record(latency, 0, "transport_error")
		}
		return
	}
	defer resp.Body.Close()

	var out struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	s.booking.Record(latency, resp.StatusCode, out.Reason)
}

func (s *Simulator) doList(ctx context.Context, rng *rand.Rand) {
	doctorID := s.slots[rng.Intn(len(s.slots))].DoctorID

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/doctors/%s/appointments", s.config.APIBaseURL, url.PathEscape(doctorID)), nil)

	began := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(began)
	if err != nil {
		if ctx.Err() == nil {
			s.listing.Record(latency, 0, "transport_error")
		}
		return
	}
	resp.Body.Close()
	s.listing.Record(latency, resp.StatusCode, "")
}

// verifySeparation reads every booking back and reports pairs that break
// the conflict policy.
func verifySeparation(ctx context.Context, pool *pgxpool.Pool, policy appointment.ConflictPolicy) ([]string, error) {
	repo := appointment.NewPgRepository(pool)

	rows, err := pool.Query(ctx, `SELECT DISTINCT doctor_id FROM appointments`)
	if err != nil {
		return nil, fmt.Errorf("query doctors: %w", err)
	}
	var doctors []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		doctors = append(doctors, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var violations []string
	for _, doctorID := range doctors {
		appts, err := repo.ListByDoctor(ctx, doctorID)
		if err != nil {
			return nil, err
		}
		// Sorted by start, so any clash shows up between neighbours.
		for i := 1; i < len(appts); i++ {
			if policy.Clashes(appts[i-1], appts[i]) {
				violations = append(violations, fmt.Sprintf("%s: %s and %s",
					doctorID, appointment.FormatInstant(appts[i-1].Start), appointment.FormatInstant(appts[i].Start)))
			}
		}
	}
	return violations, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Min gap: %s\n\n", s.config.Policy.MinGap)

	printOperationReport("Booking", &s.booking)
	printOperationReport("Doctor schedule", &s.listing)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }
	success := atomic.LoadInt64(&om.Success)
	rejected := atomic.LoadInt64(&om.Rejected)
	errs := atomic.LoadInt64(&om.Error)
	avg, p50, p95, max := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, pct(success))
	if rejected > 0 {
		fmt.Printf("  Rejected: %d (%.1f%%)\n", rejected, pct(rejected))
	}
	if errs > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", errs, pct(errs))
	}
	om.reasons.Range(func(k, v any) bool {
		fmt.Printf("    %-22s %d\n", k.(string), atomic.LoadInt64(v.(*int64)))
		return true
	})
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond), p95.Round(time.Millisecond), max.Round(time.Millisecond))
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
