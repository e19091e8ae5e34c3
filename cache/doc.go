// Package cache provides a generic, fixed-capacity, concurrent slot cache
// in front of a pluggable loading strategy, with guard-based access and a
// batched-write accumulator.
//
// Design
//
//   - Slots: the backing array has exactly Capacity cells, allocated once.
//     A key maps to the cell at hash(key) mod Capacity. Each cell carries
//     its own RWMutex, so the cell is the unit of concurrency granularity.
//     There is no eviction and no TTL: a cell is only ever overwritten when
//     a colliding key reloads it (last reload wins).
//
//   - Strategy: the cache owns one Strategy instance behind a cache-wide
//     mutex. Every reload, for any slot, serializes on it: a deliberate
//     simplification that lets strategies keep mutable state lock-free at
//     the cost of reload parallelism.
//
//   - Guards: Read hands out a shared ReadGuard, Write an exclusive
//     WriteGuard. A guard is the only handle that releases its lock;
//     callers pair every acquisition with a deferred Release.
//
//   - Reload asymmetry: Read decides to reload under the read lock and
//     then reloads unconditionally under the write lock (racing readers
//     may each load, serialized). Write re-checks the slot under the
//     exclusive lock and skips the load if a racer repopulated it. The two
//     paths are kept distinct on purpose: unifying them would either tax
//     every read with a re-check or cost writes their idempotence.
//
//   - WriteBatch: groups exclusive guards across keys so several in-place
//     modifications are flushed together through one sink. Dropping a
//     non-empty batch is fatal, never silent.
//
//   - Metrics: Options.Metrics receives Hit/Miss/Load/Flush signals.
//     By default NoopMetrics is used; plug the Prometheus adapter from
//     metrics/prom to export them.
//
// Basic usage
//
//	c := cache.New(cache.Options[int, Page]{
//	    Capacity: 1024,
//	    Strategy: pageStore, // implements cache.Strategy[int, Page]
//	})
//
//	g, err := c.Read(pageID)
//	if err != nil {
//	    return err
//	}
//	defer g.Release()
//	use(g.Value())
//
// In-place mutation
//
//	w, err := c.Write(pageID)
//	if err != nil {
//	    return err
//	}
//	w.Value().Dirty = true
//	w.Release()
//
// Batched writes
//
//	b := c.WriteBatch()
//	_ = b.Write(1, func(p *Page) { p.Touch() })
//	_ = b.Write(2, func(p *Page) { p.Touch() })
//	err := b.Flush(func(id int, p *Page) error {
//	    return store.Persist(id, *p)
//	})
//
// Thread-safety
//
// All methods on Cache are safe for concurrent use. Guards and batches are
// not: a guard belongs to the goroutine that acquired it, and a WriteBatch
// is a single-goroutine accumulator. Lock waits are unbounded; there is
// no cancellation, and a Load call that never returns wedges every reload
// path in the cache.
package cache
