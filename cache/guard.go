package cache

// ReadGuard is a shared, read-only view over a slot's value. Holding it
// keeps the slot's read lock; Release is the only way to give the lock
// back. Many ReadGuards may exist for one slot at a time.
//
// The guard borrows the value from the slot: it is valid only between
// guard creation and Release. Using a guard after Release panics.
type ReadGuard[V any] struct {
	s        *slot[V]
	released bool
}

// Value returns the guarded value.
func (g *ReadGuard[V]) Value() V {
	if g.released {
		panic("cache: use of ReadGuard after Release")
	}
	return g.s.val
}

// Release drops the guard and unlocks the slot for other readers and
// writers. Calling Release twice panics.
func (g *ReadGuard[V]) Release() {
	if g.released {
		panic("cache: ReadGuard released twice")
	}
	g.released = true
	g.s.mu.RUnlock()
}

// WriteGuard is the unique, mutable view over a slot's value. Holding it
// keeps the slot's write lock; no other reader or writer can touch the
// slot until Release.
//
// Same borrow rules as ReadGuard: the pointer returned by Value is valid
// only until Release, and any use after Release panics.
type WriteGuard[V any] struct {
	s        *slot[V]
	released bool
}

// Value returns a pointer to the guarded value for in-place mutation.
func (g *WriteGuard[V]) Value() *V {
	if g.released {
		panic("cache: use of WriteGuard after Release")
	}
	return &g.s.val
}

// Set replaces the guarded value.
func (g *WriteGuard[V]) Set(v V) {
	if g.released {
		panic("cache: use of WriteGuard after Release")
	}
	g.s.val = v
}

// Release drops the guard and unlocks the slot. Calling Release twice
// panics.
func (g *WriteGuard[V]) Release() {
	if g.released {
		panic("cache: WriteGuard released twice")
	}
	g.released = true
	g.s.mu.Unlock()
}
