package cache

import (
	"sync"

	"github.com/lffg-labs/granular-cache-map/internal/util"
)

// slot is one independently lock-guarded cell of the backing array.
// It holds either nothing (ok == false) or the value of whichever key
// most recently occupied it. Slots have no identity beyond their index;
// distinct keys hashing to the same index overwrite each other.
type slot[V any] struct {
	// ---- guarded by mu ----
	mu  sync.RWMutex
	val V
	ok  bool

	// Keep neighboring slots off this slot's cache line: adjacent cells
	// are locked by unrelated goroutines.
	_ util.CacheLinePad
}
