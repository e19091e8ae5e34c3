package cache

import (
	"errors"
	"runtime"
	"testing"
	"time"
)

// Port of the original grouped-flush scenario: repeated writes to one key
// reuse the held guard (one load per distinct key), and Flush delivers
// each key's final accumulated value exactly once.
func TestWriteBatch_GroupedFlush(t *testing.T) {
	t.Parallel()

	c, s := newSpellCache(t, 4)

	g, err := c.Read(1)
	if err != nil {
		t.Fatal(err)
	}
	if g.Value() != "1one" {
		t.Fatalf("want %q, got %q", "1one", g.Value())
	}
	g.Release()

	b := c.WriteBatch()

	mod := func(v *string) { *v += "-mod" }
	if err := b.Write(1, mod); err != nil {
		t.Fatal(err)
	}
	if got := s.loads.Load(); got != 1 {
		t.Fatalf("key 1 already resident: want 1 load, got %d", got)
	}
	if err := b.Write(2, mod); err != nil {
		t.Fatal(err)
	}
	if got := s.loads.Load(); got != 2 {
		t.Fatalf("key 2 is fresh: want 2 loads, got %d", got)
	}
	if err := b.Write(1, mod); err != nil {
		t.Fatal(err)
	}
	if got := s.loads.Load(); got != 2 {
		t.Fatalf("repeat key must reuse guard: want 2 loads, got %d", got)
	}
	if b.Len() != 2 {
		t.Fatalf("want 2 held entries, got %d", b.Len())
	}

	want := map[string]bool{"1one-mod-mod": true, "2two-mod": true}
	err = b.Flush(func(_ int, v *string) error {
		if !want[*v] {
			t.Errorf("unexpected or duplicate flushed value %q", *v)
		}
		delete(want, *v)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(want) != 0 {
		t.Fatalf("values never flushed: %v", want)
	}
	if b.Len() != 0 {
		t.Fatalf("batch not empty after flush: %d", b.Len())
	}

	g, err = c.Read(1)
	if err != nil {
		t.Fatal(err)
	}
	defer g.Release()
	if g.Value() != "1one-mod-mod" {
		t.Fatalf("want %q, got %q", "1one-mod-mod", g.Value())
	}
	if got := s.loads.Load(); got != 2 {
		t.Fatalf("read after flush must hit: want 2 loads, got %d", got)
	}
}

func TestWriteBatch_FlushEmpty(t *testing.T) {
	t.Parallel()

	c, _ := newSpellCache(t, 4)
	b := c.WriteBatch()
	err := b.Flush(func(int, *string) error {
		t.Error("sink called for empty batch")
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

// A sink failure aborts the drain but still releases every guard, and
// leaves the batch empty so discarding it afterwards is legal.
func TestWriteBatch_SinkErrorReleasesGuards(t *testing.T) {
	t.Parallel()

	c, _ := newSpellCache(t, 4)

	b := c.WriteBatch()
	mod := func(v *string) { *v += "-mod" }
	if err := b.Write(1, mod); err != nil {
		t.Fatal(err)
	}
	if err := b.Write(2, mod); err != nil {
		t.Fatal(err)
	}

	sinkErr := errors.New("sink failed")
	if err := b.Flush(func(int, *string) error { return sinkErr }); !errors.Is(err, sinkErr) {
		t.Fatalf("want sink error, got %v", err)
	}
	if b.Len() != 0 {
		t.Fatalf("batch must be empty after failed flush, got %d", b.Len())
	}

	// Both slots must be unlocked again.
	for _, k := range []int{1, 2} {
		w, err := c.Write(k)
		if err != nil {
			t.Fatal(err)
		}
		w.Release()
	}
}

// A sink that unwinds mid-drain must not strand the remaining guards:
// the panic propagates, but every held slot is unlocked and the batch is
// left empty.
func TestWriteBatch_PanickingSinkReleasesGuards(t *testing.T) {
	t.Parallel()

	c, _ := newSpellCache(t, 4)

	b := c.WriteBatch()
	mod := func(v *string) { *v += "-mod" }
	if err := b.Write(1, mod); err != nil {
		t.Fatal(err)
	}
	if err := b.Write(2, mod); err != nil {
		t.Fatal(err)
	}

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected sink panic to propagate")
			}
		}()
		_ = b.Flush(func(int, *string) error { panic("sink exploded") })
	}()

	if b.Len() != 0 {
		t.Fatalf("batch must be empty after panicking flush, got %d", b.Len())
	}

	// Both slots must accept an exclusive lock again. Run with a timeout
	// so a leaked lock fails instead of hanging the test binary.
	done := make(chan error, 1)
	go func() {
		for _, k := range []int{1, 2} {
			w, err := c.Write(k)
			if err != nil {
				done <- err
				return
			}
			w.Release()
		}
		done <- nil
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Write blocked after panicking flush; a slot lock leaked")
	}
}

// Keys 1 and 5 share a slot in a 4-slot cache. Inside one batch the
// second key cannot block on a lock the batch itself holds, so the
// collision surfaces as ErrSlotConflict instead of a deadlock.
func TestWriteBatch_SameSlotConflict(t *testing.T) {
	t.Parallel()

	c, _ := newSpellCache(t, 4)

	b := c.WriteBatch()
	mod := func(v *string) { *v += "-mod" }
	if err := b.Write(1, mod); err != nil {
		t.Fatal(err)
	}
	if err := b.Write(5, mod); !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("want ErrSlotConflict, got %v", err)
	}

	// The batch still holds key 1 and flushes normally.
	var flushed []string
	if err := b.Flush(func(_ int, v *string) error {
		flushed = append(flushed, *v)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if len(flushed) != 1 || flushed[0] != "1one-mod" {
		t.Fatalf("want [1one-mod], got %v", flushed)
	}
}

// A load failure aborts only the failing Write; earlier guards stay held
// and the batch remains flushable.
func TestWriteBatch_LoadErrorKeepsBatchUsable(t *testing.T) {
	t.Parallel()

	c, s := newSpellCache(t, 4)

	b := c.WriteBatch()
	mod := func(v *string) { *v += "-mod" }
	if err := b.Write(1, mod); err != nil {
		t.Fatal(err)
	}

	s.fail.Store(true)
	if err := b.Write(2, mod); !errors.Is(err, errLoadFailed) {
		t.Fatalf("want errLoadFailed, got %v", err)
	}
	s.fail.Store(false)

	if b.Len() != 1 {
		t.Fatalf("want 1 held entry, got %d", b.Len())
	}
	if err := b.Flush(func(int, *string) error { return nil }); err != nil {
		t.Fatal(err)
	}
}

// A flushed batch is empty and may be reused for another round.
func TestWriteBatch_ReuseAfterFlush(t *testing.T) {
	t.Parallel()

	c, _ := newSpellCache(t, 4)

	b := c.WriteBatch()
	mod := func(v *string) { *v += "-mod" }
	for round := 0; round < 2; round++ {
		if err := b.Write(1, mod); err != nil {
			t.Fatal(err)
		}
		if err := b.Flush(func(int, *string) error { return nil }); err != nil {
			t.Fatal(err)
		}
	}

	g, err := c.Read(1)
	if err != nil {
		t.Fatal(err)
	}
	defer g.Release()
	if g.Value() != "1one-mod-mod" {
		t.Fatalf("want %q, got %q", "1one-mod-mod", g.Value())
	}
}

func TestWriteBatch_ClosedCache(t *testing.T) {
	t.Parallel()

	c, _ := newSpellCache(t, 4)
	b := c.WriteBatch()
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := b.Write(1, func(*string) {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("want ErrClosed, got %v", err)
	}
}

// leakBatch drops a non-empty batch on the floor in its own frame so no
// reference survives in the caller.
func leakBatch(t *testing.T, c *Cache[int, string]) {
	t.Helper()
	b := c.WriteBatch()
	if err := b.Write(1, func(v *string) { *v += "-lost" }); err != nil {
		t.Fatal(err)
	}
}

// Discarding a non-empty batch is fatal. The production path panics from
// the finalizer; here the hook is intercepted so the test can observe it.
func TestWriteBatch_DiscardNonEmptyIsFatal(t *testing.T) {
	// Not parallel: swaps the package-level leak hook.
	leaked := make(chan int, 1)
	orig := batchLeakFn
	batchLeakFn = func(entries int) { leaked <- entries }
	defer func() { batchLeakFn = orig }()

	c, _ := newSpellCache(t, 4)
	leakBatch(t, c)

	deadline := time.After(5 * time.Second)
	for {
		runtime.GC()
		select {
		case n := <-leaked:
			if n != 1 {
				t.Fatalf("want 1 leaked entry reported, got %d", n)
			}
			return
		case <-deadline:
			t.Fatal("finalizer never reported the leaked batch")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}
