package cache

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrSlotConflict is returned by WriteBatch.Write when a key hashes to a
// slot whose exclusive guard the batch already holds under a different
// key. Blocking would never resolve (the batch itself owns the lock), so
// the collision is reported instead.
var ErrSlotConflict = errors.New("cache: key collides with a slot already held by this batch")

// batchLeakFn is invoked when a WriteBatch becomes unreachable while
// still holding entries. Swapped out by tests; the default is fatal,
// because a silently dropped batch means values were written into the
// cache that were never flushed anywhere.
var batchLeakFn = func(entries int) {
	panic(fmt.Sprintf("cache: WriteBatch discarded with %d unflushed entries", entries))
}

// WriteBatch accumulates exclusive guards across several keys so a caller
// can apply in-place modifications to many values and later push every
// touched value through one Flush. At most one guard is held per key;
// repeated Write calls on a key reuse the held guard and never reload.
//
// A WriteBatch is a single-goroutine accumulator: it is NOT safe for
// concurrent use, and every slot it touches stays exclusively locked
// (blocking all other access to that slot) until Flush.
//
// Discipline: a batch holding entries must be emptied via Flush before it
// is discarded. Dropping a non-empty batch is a programming error and is
// made fatal by a finalizer rather than silently losing the writes.
type WriteBatch[K comparable, V any] struct {
	cache   *Cache[K, V]
	entries map[K]*WriteGuard[V]
	held    map[int]struct{} // slot indices locked by this batch
}

// WriteBatch constructs an empty batch bound to this cache.
func (c *Cache[K, V]) WriteBatch() *WriteBatch[K, V] {
	b := &WriteBatch[K, V]{
		cache:   c,
		entries: make(map[K]*WriteGuard[V], 8),
		held:    make(map[int]struct{}, 8),
	}
	runtime.SetFinalizer(b, func(b *WriteBatch[K, V]) {
		if len(b.entries) > 0 {
			batchLeakFn(len(b.entries))
		}
	})
	return b
}

// Write applies f to the value for key, in place, under the batch's
// exclusive guard for that key. The first Write for a key obtains the
// guard through Cache.Write (loading the value if the slot misses);
// later Writes for the same key reuse it, so they never load again and
// never block.
//
// f must not touch this cache (or this batch) reentrantly: the slot is
// exclusively locked while f runs, and any access hashing to it would
// deadlock.
//
// A second key hashing to a slot the batch already holds fails with
// ErrSlotConflict (see the variable's doc); a strategy load failure is
// returned unchanged. Either way the batch keeps its earlier guards and
// must still be flushed.
func (b *WriteBatch[K, V]) Write(key K, f func(*V)) error {
	if g, ok := b.entries[key]; ok {
		f(g.Value())
		return nil
	}
	_, idx := b.cache.slotFor(key)
	if _, taken := b.held[idx]; taken {
		return ErrSlotConflict
	}
	g, err := b.cache.Write(key)
	if err != nil {
		return err
	}
	b.entries[key] = g
	b.held[idx] = struct{}{}
	f(g.Value())
	return nil
}

// Len returns the number of keys whose guards the batch currently holds.
func (b *WriteBatch[K, V]) Len() int { return len(b.entries) }

// Flush drains the batch: every held entry is delivered to sink exactly
// once, in unspecified order, and its guard is released. After Flush the
// batch is empty (and may be reused), whether sink succeeded or not.
//
// The first error from sink aborts the remaining deliveries; undelivered
// guards are released without being seen by sink, and the error is
// returned. Entries already delivered before the failure are not
// reverted; a caller needing all-or-nothing commit semantics must
// compensate itself.
func (b *WriteBatch[K, V]) Flush(sink func(key K, val *V) error) error {
	entries := b.entries
	b.entries = make(map[K]*WriteGuard[V], 8)
	b.held = make(map[int]struct{}, 8)

	// If sink unwinds, the deferred sweep releases whatever is still
	// held so no slot stays locked behind a panicking flush.
	defer func() {
		for _, g := range entries {
			g.Release()
		}
	}()

	delivered := 0
	var err error
	for k, g := range entries {
		delete(entries, k)
		if err != nil {
			g.Release()
			continue
		}
		if err = b.deliver(sink, k, g); err == nil {
			delivered++
		}
	}
	b.cache.opt.Metrics.Flush(delivered)
	return err
}

// deliver hands one drained entry to sink, releasing its guard on every
// exit path.
func (b *WriteBatch[K, V]) deliver(sink func(key K, val *V) error, k K, g *WriteGuard[V]) error {
	defer g.Release()
	return sink(k, g.Value())
}
