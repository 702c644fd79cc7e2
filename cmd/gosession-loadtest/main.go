// gosession-loadtest measures session rotation throughput against Redis and
// checks that concurrent rotations of one token never produce two winners.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goSession/internal/audit"
	"github.com/MrEthical07/goSession/session"
	"github.com/MrEthical07/goSession/tokenhash"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type sessionState struct {
	sid   string
	token string
	mu    sync.Mutex
}

func main() {
	var (
		sessions    = flag.Int("sessions", 10000, "number of sessions to seed")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "rotations in the throughput phase")
		racers      = flag.Int("racers", 8, "concurrent rotations per session in the race phase")
		races       = flag.Int("races", 1000, "sessions raced in the race phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "gsload:", "session key prefix")
	)
	flag.Parse()

	if *sessions <= 0 || *concurrency <= 0 || *ops <= 0 || *racers <= 1 || *races <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, concurrency, ops and races must be > 0; racers must be > 1")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	hasher := tokenhash.New(tokenhash.StaticKeys{"loadtest-key"})
	manager := session.NewManager(session.NewRedisStore(client, *prefix), hasher, audit.NoOpSink{}, nil, session.ManagerConfig{})

	total := *sessions
	if *races > total {
		total = *races
	}
	states := make([]sessionState, total)
	fmt.Printf("seeding %d sessions...\n", total)
	startSeed := time.Now()
	for i := range states {
		token := uuid.NewString()
		created, err := manager.CreateSession(ctx, session.CreateSessionInput{
			UserID:       fmt.Sprintf("u-%d", i%1000),
			RefreshToken: token,
			TTL:          24 * time.Hour,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "create failed: %v\n", err)
			os.Exit(1)
		}
		states[i] = sessionState{sid: created.SessionID, token: token}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	rotateStats := runRotatePhase(ctx, manager, states[:*sessions], *ops, *concurrency)
	violations, raceStats := runRacePhase(ctx, manager, states[:*races], *racers)

	fmt.Println("---- results ----")
	printStats("rotate", rotateStats)
	printStats("race", raceStats)
	fmt.Printf("race: sessions=%d racers=%d violations=%d\n", *races, *racers, violations)
	if violations > 0 {
		os.Exit(1)
	}
}

// runRotatePhase rotates random sessions one holder at a time; every rotation
// should succeed.
func runRotatePhase(ctx context.Context, m *session.Manager, states []sessionState, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*6151))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				state := &states[r.Intn(len(states))]

				state.mu.Lock()
				next := uuid.NewString()
				t0 := time.Now()
				res, err := m.Rotate(ctx, session.RotateInput{
					SessionID:     state.sid,
					IncomingToken: state.token,
					NewToken:      next,
					TTL:           24 * time.Hour,
				})
				d := time.Since(t0)
				if err == nil && res.Rotated {
					state.token = next
				} else {
					atomic.AddInt64(&failures, 1)
				}
				state.mu.Unlock()

				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

// runRacePhase presents each session's current token from several goroutines
// that all read the session before any of them rotates it, and counts
// sessions that did not accept exactly one rotation or were revoked.
func runRacePhase(ctx context.Context, m *session.Manager, states []sessionState, racers int) (int64, phaseStats) {
	var (
		violations int64
		failures   int64
		latencies  = make([]time.Duration, 0, len(states)*racers)
		mu         sync.Mutex
	)

	start := time.Now()
	for i := range states {
		state := &states[i]
		var (
			wg      sync.WaitGroup
			winners int64
			gate    = make(chan struct{})
		)
		observedAt := time.Now()
		observed, err := m.FindByID(ctx, state.sid)
		if err != nil {
			atomic.AddInt64(&failures, 1)
			continue
		}
		for r := 0; r < racers; r++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-gate
				t0 := time.Now()
				res, err := m.Rotate(ctx, session.RotateInput{
					SessionID:     state.sid,
					IncomingToken: state.token,
					NewToken:      uuid.NewString(),
					TTL:           24 * time.Hour,
					Observed:      observed,
					ObservedAt:    observedAt,
				})
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				} else if res.Rotated {
					atomic.AddInt64(&winners, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}()
		}
		close(gate)
		wg.Wait()
		if winners != 1 {
			violations++
			continue
		}
		if rec, err := m.FindByID(ctx, state.sid); err != nil || rec.Revoked() {
			violations++
		}
	}
	return violations, computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
