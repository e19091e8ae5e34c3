// Command bench runs a synthetic workload against the cache and exposes optional pprof/Prometheus endpoints.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"os"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lffg-labs/granular-cache-map/cache"
	pmet "github.com/lffg-labs/granular-cache-map/metrics/prom"
)

// benchStore fabricates values with an optional artificial latency per
// load. Loads are serialized on the cache's strategy mutex, so the delay
// directly models how a slow backend throttles every miss path at once.
type benchStore struct {
	delay time.Duration
	loads atomic.Int64
}

func (s *benchStore) Load(key int) (string, error) {
	s.loads.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return "v:" + strconv.Itoa(key), nil
}

func (s *benchStore) Conforms(key int, val string) bool {
	base := "v:" + strconv.Itoa(key)
	if len(val) < len(base) || val[:len(base)] != base {
		return false
	}
	return len(val) == len(base) || val[len(base)] == '#'
}

func main() {
	// ---- Flags ----
	var (
		capacity = flag.Int("cap", 65_536, "cache capacity (slots)")

		workers  = flag.Int("workers", 2*runtime.GOMAXPROCS(0), "number of worker goroutines")
		duration = flag.Duration("duration", 10*time.Second, "benchmark duration")
		readPct  = flag.Int("reads", 80, "read percentage [0..100]")

		keys      = flag.Int("keys", 262_144, "keyspace size (collisions = keys/cap per slot)")
		zipfS     = flag.Float64("zipf_s", 1.1, "Zipf s > 1 (skew)")
		zipfV     = flag.Float64("zipf_v", 1.0, "Zipf v")
		seed      = flag.Int64("seed", time.Now().UnixNano(), "random seed")
		loadDelay = flag.Duration("load_delay", 0, "artificial latency per strategy load")

		batchSize = flag.Int("batch", 8, "keys per write batch (0 disables batching)")
		batchPct  = flag.Int("batch_pct", 20, "share of write ops issued through a batch [0..100]")

		pprofAddr   = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr = flag.String("http", ":8080", "serve Prometheus metrics at addr")

		debug = flag.Bool("debug", false, "debug-level cache logging (noisy: logs every reload)")
	)
	flag.Parse()

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	cacheLog := zerolog.Nop()
	if *debug {
		cacheLog = logger.Level(zerolog.DebugLevel)
	}

	// ---- pprof server (on DefaultServeMux) ----
	if *pprofAddr != "" {
		go func() {
			logger.Info().Str("addr", *pprofAddr).Msg("pprof: serving")
			logger.Error().Err(http.ListenAndServe(*pprofAddr, nil)).Msg("pprof server stopped")
		}()
	}

	// ---- Prometheus metrics (on DefaultServeMux) ----
	metrics := pmet.New(nil, "slotcache", "bench", nil)
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		logger.Info().Str("addr", *metricsAddr).Msg("metrics: serving")
		logger.Error().Err(http.ListenAndServe(*metricsAddr, nil)).Msg("metrics server stopped")
	}()

	// ---- Build cache ----
	store := &benchStore{delay: *loadDelay}
	c := cache.New(cache.Options[int, string]{
		Capacity: *capacity,
		Strategy: store,
		// Identity hashing keeps slot = key mod cap, so the Zipf skew on
		// keys translates directly into slot contention and collisions.
		Hasher:  func(k int) uint64 { return uint64(k) },
		Metrics: metrics,
		Logger:  &cacheLog,
	})
	defer func() { _ = c.Close() }()

	// ---- Snapshot flags for goroutines ----
	readPctVal := *readPct
	batchPctVal := *batchPct
	batchN := *batchSize
	if batchN >= *capacity {
		batchN = 0
	}
	keysMax := uint64(*keys - 1)
	seedBase := *seed
	zipfSVal := *zipfS
	zipfVVal := *zipfV
	workersN := *workers
	if workersN <= 0 {
		workersN = 1
	}
	capVal := *capacity

	// ---- Load generation ----
	var reads, writes, batched, total, failures uint64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(workersN)
	for w := 0; w < workersN; w++ {
		go func(id int) {
			defer wg.Done()

			// Each worker gets its own RNG + Zipf (rand.Rand is NOT goroutine-safe).
			localR := rand.New(rand.NewSource(seedBase + int64(id)*9973))
			localZipf := rand.NewZipf(localR, zipfSVal, zipfVVal, keysMax)

			keyByZipf := func() int { return int(localZipf.Uint64()) }

			// Batches take slot locks in ascending order (keys base..base+n-1,
			// all below capacity), so concurrent batches cannot deadlock on
			// each other: every holder waits only for lower-indexed slots.
			runBatch := func() error {
				base := keyByZipf() % capVal
				if base > capVal-batchN {
					base = capVal - batchN
				}
				b := c.WriteBatch()
				for i := 0; i < batchN; i++ {
					if err := b.Write(base+i, func(v *string) { *v += "#b" }); err != nil {
						// Release what the batch holds before bailing.
						_ = b.Flush(func(int, *string) error { return nil })
						return err
					}
				}
				return b.Flush(func(int, *string) error { return nil })
			}

			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				atomic.AddUint64(&total, 1)
				switch {
				case int(localR.Int31n(100)) < readPctVal:
					atomic.AddUint64(&reads, 1)
					g, err := c.Read(keyByZipf())
					if err != nil {
						atomic.AddUint64(&failures, 1)
						continue
					}
					g.Release()
				case batchN > 0 && int(localR.Int31n(100)) < batchPctVal:
					atomic.AddUint64(&batched, 1)
					if err := runBatch(); err != nil {
						atomic.AddUint64(&failures, 1)
					}
				default:
					atomic.AddUint64(&writes, 1)
					g, err := c.Write(keyByZipf())
					if err != nil {
						atomic.AddUint64(&failures, 1)
						continue
					}
					*g.Value() += "#w"
					g.Release()
				}
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	// ---- Report ----
	ops := atomic.LoadUint64(&total)
	st := c.Stats()

	hitRate := 0.0
	if accesses := st.Hits + st.Misses + st.Conflicts; accesses > 0 {
		hitRate = float64(st.Hits) / float64(accesses) * 100
	}

	fmt.Printf("cap=%d workers=%d keys=%d batch=%d dur=%v seed=%d load_delay=%v\n",
		capVal, workersN, *keys, batchN, elapsed, seedBase, *loadDelay)
	fmt.Printf("ops=%d (%.0f ops/s)  reads=%d  writes=%d  batches=%d  failures=%d\n",
		ops, float64(ops)/elapsed.Seconds(), atomic.LoadUint64(&reads),
		atomic.LoadUint64(&writes), atomic.LoadUint64(&batched), atomic.LoadUint64(&failures))
	fmt.Printf("hits=%d  misses=%d  conflicts=%d  loads=%d  hit-rate=%.2f%%\n",
		st.Hits, st.Misses, st.Conflicts, st.Loads, hitRate)
}
