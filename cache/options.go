package cache

import (
	"github.com/rs/zerolog"
)

// Options configures the cache. Capacity and Strategy are mandatory;
// sane defaults are applied for the rest in New():
//   - nil Hasher  => internal xxHash-based key hasher
//   - nil Metrics => NoopMetrics
//   - nil Logger  => discard
type Options[K comparable, V any] struct {
	// Capacity is the fixed number of slots. It never changes after
	// construction; there is no resizing or rehashing. Distinct keys
	// hashing to the same slot index overwrite each other on access
	// (last reload wins), so size Capacity for the working set.
	Capacity int

	// Strategy loads values on miss/conflict and decides whether a
	// cached value still belongs to a key. Required.
	Strategy Strategy[K, V]

	// Hasher maps a key to a 64-bit hash; the slot index is
	// hash mod Capacity. Nil selects a default hasher covering string,
	// fixed-size byte arrays, all integer widths and fmt.Stringer.
	Hasher func(K) uint64

	// Observability
	// Metrics receives hit/miss/load/flush signals; nil => NoopMetrics.
	Metrics Metrics
	// Logger, if non-nil, receives debug-level events on slot reloads
	// and load failures. Keep it cheap; reloads hold an exclusive lock.
	Logger *zerolog.Logger
}
