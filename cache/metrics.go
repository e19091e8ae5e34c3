package cache

// MissReason explains why an access could not be served from the slot.
type MissReason int

const (
	// MissEmpty — the slot held no value yet.
	MissEmpty MissReason = iota
	// MissConflict — the slot held a value belonging to a different key
	// (hash collision); the reload overwrites it.
	MissConflict
)

// Metrics exposes cache-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	Hit()
	Miss(reason MissReason)
	// Load reports one strategy load; ok is false when the load failed.
	Load(ok bool)
	// Flush reports a batch flush and how many entries it delivered.
	Flush(entries int)
}

// NoopMetrics is a drop-in Metrics implementation that does nothing.
// It is safe for concurrent use and intended as the default when
// no observability backend is configured.
type NoopMetrics struct{}

func (NoopMetrics) Hit()            {}
func (NoopMetrics) Miss(MissReason) {}
func (NoopMetrics) Load(bool)       {}
func (NoopMetrics) Flush(int)       {}

// Ensure NoopMetrics implements the Metrics interface at compile time.
var _ Metrics = NoopMetrics{}

// Stats is a point-in-time snapshot of the cache's internal counters.
// Counters are updated with relaxed atomics; a snapshot taken while the
// cache is under load is approximate across fields but each field is exact.
type Stats struct {
	Hits      int64 // accesses served by a conforming resident value
	Misses    int64 // accesses that found an empty slot
	Conflicts int64 // accesses that found another key's value
	Loads     int64 // successful strategy loads
	LoadErrs  int64 // failed strategy loads
}
