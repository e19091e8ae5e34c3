package cache

// Strategy is the contract between the cache and whatever actually produces
// values: a page store, a remote fetcher, a computation. The cache owns
// exactly one Strategy instance behind a cache-wide mutex, so Load always
// runs one-at-a-time.
type Strategy[K comparable, V any] interface {
	// Load produces the value for key, or fails with an
	// implementation-defined error. Load runs with exclusive access
	// (every reload in the cache serializes on one mutex), so
	// implementations may keep mutable state (counters, connections,
	// open files) without their own locking.
	//
	// Load takes no context: slot and strategy lock waits are unbounded
	// and non-cancellable, so threading a cancellation token through
	// here would be a false promise.
	Load(key K) (V, error)

	// Conforms reports whether val still legitimately belongs to key.
	// It must be a pure, side-effect-free predicate. Returning false
	// means a slot conflict: a different key's value currently occupies
	// the slot, and the cache will reload.
	//
	// The cache trusts Conforms unconditionally for freshly loaded
	// values: it never re-verifies that Load's output conforms to the
	// key it was loaded for. A strategy whose Load and Conforms
	// disagree will corrupt hit/miss behavior silently.
	Conforms(key K, val V) bool
}
