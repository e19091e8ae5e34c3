package cache

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/lffg-labs/granular-cache-map/internal/hash"
	"github.com/lffg-labs/granular-cache-map/internal/util"
)

// ErrClosed is returned by Read and Write after the cache was closed.
var ErrClosed = errors.New("cache: closed")

// Cache is a fixed-capacity, concurrent slot cache in front of a Strategy.
// All methods are safe for concurrent use by multiple goroutines.
//
// Keys map to slots by hash(key) mod capacity. Each slot is guarded by its
// own RWMutex, so readers of different slots never contend and readers of
// the same slot share the lock. All strategy loads, regardless of slot,
// serialize on one cache-wide mutex: this trades reload parallelism for a
// strategy-mutation model with no internal races. A higher-throughput
// variant could shard that mutex per slot group, but would then have to
// solve per-strategy-instance consistency (shared connections, cursors)
// that the single lock sidesteps.
type Cache[K comparable, V any] struct {
	slots []slot[V]
	hash  func(K) uint64

	// mu guards strategy. Held for the full duration of every Load call;
	// a Load that never returns wedges every reload path in the cache.
	mu       sync.Mutex
	strategy Strategy[K, V]

	opt    Options[K, V]
	log    zerolog.Logger
	closed atomic.Bool

	// ---- hot counters (separate cache lines to avoid false sharing) ----
	_         util.CacheLinePad
	hits      util.PaddedAtomicInt64
	misses    util.PaddedAtomicInt64
	conflicts util.PaddedAtomicInt64
	loads     util.PaddedAtomicInt64
	loadErrs  util.PaddedAtomicInt64
}

// New constructs a cache with the provided Options.
// It panics if Capacity <= 0 or Strategy is nil; every other field has a
// usable default (see Options).
//
// The capacity is final: the slot array is allocated once and never
// reallocated, and index i stays valid for 0 <= i < capacity for the
// cache's whole lifetime.
func New[K comparable, V any](opt Options[K, V]) *Cache[K, V] {
	if opt.Capacity <= 0 {
		panic("Capacity must be > 0")
	}
	if opt.Strategy == nil {
		panic("Strategy must not be nil")
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	h := opt.Hasher
	if h == nil {
		h = hash.Key[K]
	}
	log := zerolog.Nop()
	if opt.Logger != nil {
		log = *opt.Logger
	}
	return &Cache[K, V]{
		slots:    make([]slot[V], opt.Capacity),
		hash:     h,
		strategy: opt.Strategy,
		opt:      opt,
		log:      log,
	}
}

// Read returns a shared guard over the value for key, loading it first if
// the slot is empty or occupied by a different key's value.
//
// The fast path takes only the slot's read lock, so concurrent readers of
// a resident conforming value never block each other. On a miss the read
// lock is dropped, the write lock is taken and the slot is reloaded
// unconditionally, with no second conformance check. Two readers racing into
// the miss path can therefore trigger two back-to-back loads for the same
// slot; that is correct (last one wins) and keeps the hit path check-free.
//
// Read never returns a guard over an empty slot. The value conformed to
// key at the moment of the check; a concurrent writer hitting the same
// slot through a colliding key can invalidate it afterwards. The lock
// itself is the only lasting guarantee.
//
// The caller must Release the returned guard.
func (c *Cache[K, V]) Read(key K) (*ReadGuard[V], error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	sl, idx := c.slotFor(key)

	// The optimistic read lock must be gone before reload takes the
	// write lock, or this would deadlock against itself; sharedGuard
	// keeps it only when it hands the guard back.
	g, occupied := c.sharedGuard(key, sl)
	if g != nil {
		c.hits.Add(1)
		c.opt.Metrics.Hit()
		return g, nil
	}
	c.countMiss(occupied)

	if err := c.reload(key, sl, idx); err != nil {
		return nil, err
	}

	sl.mu.RLock()
	return &ReadGuard[V]{s: sl}, nil
}

// sharedGuard takes the slot's read lock and keeps it only when the slot
// holds a conforming value for key, handing the lock over inside the
// returned guard. On every other exit, including an unwinding Conforms,
// the deferred unlock gives the lock back. occupied reports whether the
// slot held any value, for miss accounting.
func (c *Cache[K, V]) sharedGuard(key K, sl *slot[V]) (g *ReadGuard[V], occupied bool) {
	sl.mu.RLock()
	defer func() {
		if g == nil {
			sl.mu.RUnlock()
		}
	}()
	if sl.ok && c.strategy.Conforms(key, sl.val) {
		g = &ReadGuard[V]{s: sl}
	}
	return g, sl.ok
}

// Write returns the exclusive guard over the value for key, loading it
// first if the slot is empty or occupied by a different key's value.
//
// The exclusive lock is taken directly (the caller intends to mutate) and
// the emptiness/conformance test runs under it, so a racer that populated
// the slot first is observed and the load is skipped. This is the double
// check the read path deliberately lacks.
//
// The caller must Release the returned guard; until then every other
// access to the slot blocks.
func (c *Cache[K, V]) Write(key K) (g *WriteGuard[V], err error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	sl, idx := c.slotFor(key)

	sl.mu.Lock()
	defer func() {
		// The lock travels with the returned guard; every other exit,
		// error or unwinding, gives it back.
		if g == nil {
			sl.mu.Unlock()
		}
	}()

	if sl.ok && c.strategy.Conforms(key, sl.val) {
		c.hits.Add(1)
		c.opt.Metrics.Hit()
		return &WriteGuard[V]{s: sl}, nil
	}
	c.countMiss(sl.ok)
	if err := c.reloadLocked(key, sl, idx); err != nil {
		return nil, err
	}
	return &WriteGuard[V]{s: sl}, nil
}

// WithStrategy runs f with the strategy mutex held, giving it the same
// exclusive access a Load call gets. Useful for inspecting or adjusting
// strategy state (counters, connections) without extra locking.
//
// f must not call back into the cache; any path that reloads would
// deadlock on the strategy mutex.
func (c *Cache[K, V]) WithStrategy(f func(Strategy[K, V])) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f(c.strategy)
}

// Capacity returns the fixed slot count.
func (c *Cache[K, V]) Capacity() int { return len(c.slots) }

// Stats returns a snapshot of the internal counters.
func (c *Cache[K, V]) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Conflicts: c.conflicts.Load(),
		Loads:     c.loads.Load(),
		LoadErrs:  c.loadErrs.Load(),
	}
}

// Close marks the cache closed; subsequent Read/Write calls return
// ErrClosed. Guards already handed out stay valid until released.
// The strategy is not torn down here (the cache does not know how);
// callers that need to release strategy resources can reach it through
// WithStrategy before dropping the cache.
func (c *Cache[K, V]) Close() error {
	c.closed.Store(true)
	return nil
}

// ---- internals ----

// slotFor picks the slot by hashing the key and reducing mod capacity.
func (c *Cache[K, V]) slotFor(key K) (*slot[V], int) {
	idx := util.SlotIndex(c.hash(key), len(c.slots))
	return &c.slots[idx], idx
}

// reload takes the slot's exclusive lock for the duration of one
// reloadLocked call, releasing it on every exit path including an
// unwinding Load.
func (c *Cache[K, V]) reload(key K, sl *slot[V], idx int) error {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return c.reloadLocked(key, sl, idx)
}

// reloadLocked populates sl with a freshly loaded value for key. The
// caller must hold sl.mu exclusively.
//
// The strategy mutex serializes loading process-wide: at most one load
// runs at any time, no matter which slot it targets. On error the slot
// is left exactly as it was, never partially overwritten, and the
// strategy's error is returned unchanged. On success the previous
// occupant, if any, is overwritten; that is the entire eviction policy
// (last reload wins).
func (c *Cache[K, V]) reloadLocked(key K, sl *slot[V], idx int) error {
	c.log.Debug().Int("slot", idx).Msg("reloading slot")

	v, err := c.load(key)
	if err != nil {
		c.loadErrs.Add(1)
		c.opt.Metrics.Load(false)
		c.log.Debug().Int("slot", idx).Err(err).Msg("strategy load failed")
		return err
	}
	c.loads.Add(1)
	c.opt.Metrics.Load(true)
	sl.val, sl.ok = v, true
	return nil
}

// load runs one strategy load under the strategy mutex. The deferred
// unlock keeps a panicking Load from wedging every miss path in the
// cache behind a mutex nobody holds anymore.
func (c *Cache[K, V]) load(key K) (V, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.strategy.Load(key)
}

// countMiss records the reason an access could not be served in place.
// wasOccupied distinguishes an empty slot from another key's value.
func (c *Cache[K, V]) countMiss(wasOccupied bool) {
	if wasOccupied {
		c.conflicts.Add(1)
		c.opt.Metrics.Miss(MissConflict)
		return
	}
	c.misses.Add(1)
	c.opt.Metrics.Miss(MissEmpty)
}
