package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewPool(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		size int
		want int
	}{
		{name: "positive size is kept", size: 4, want: 4},
		{name: "zero is raised to one", size: 0, want: 1},
		{name: "negative is raised to one", size: -3, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := NewPool(tt.size).Size(); got != tt.want {
				t.Errorf("Size() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestGroup_BoundsConcurrency(t *testing.T) {
	t.Parallel()

	const (
		poolSize = 3
		tasks    = 20
	)

	pool := NewPool(poolSize)
	group, _ := pool.NewGroup(context.Background())

	var running, maxRunning atomic.Int64
	for range tasks {
		err := group.Spawn(func(_ context.Context, _ *Slot) error {
			n := running.Add(1)
			defer running.Add(-1)
			for {
				old := maxRunning.Load()
				if n <= old || maxRunning.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			return nil
		})
		if err != nil {
			t.Fatalf("Spawn() error = %v", err)
		}
	}

	if err := group.JoinAll(); err != nil {
		t.Fatalf("JoinAll() error = %v", err)
	}

	if got := maxRunning.Load(); got > poolSize {
		t.Errorf("observed %d concurrent tasks, want at most %d", got, poolSize)
	}

	stats := pool.Stats()
	if stats.Peak > poolSize {
		t.Errorf("Stats().Peak = %d, want at most %d", stats.Peak, poolSize)
	}
	if stats.Spawned != tasks {
		t.Errorf("Stats().Spawned = %d, want %d", stats.Spawned, tasks)
	}
	if stats.InFlight != 0 {
		t.Errorf("Stats().InFlight = %d after JoinAll, want 0", stats.InFlight)
	}
}

func TestGroup_SpawnBlocksWhenSaturated(t *testing.T) {
	t.Parallel()

	pool := NewPool(1)
	group, _ := pool.NewGroup(context.Background())

	unblock := make(chan struct{})
	if err := group.Spawn(func(_ context.Context, _ *Slot) error {
		<-unblock
		return nil
	}); err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}

	spawned := make(chan struct{})
	go func() {
		_ = group.Spawn(func(_ context.Context, _ *Slot) error { return nil }) //nolint:errcheck // checked via JoinAll
		close(spawned)
	}()

	select {
	case <-spawned:
		t.Fatal("Spawn returned while the pool was saturated")
	case <-time.After(50 * time.Millisecond):
	}

	close(unblock)

	select {
	case <-spawned:
	case <-time.After(2 * time.Second):
		t.Fatal("Spawn did not return after a slot was freed")
	}

	if err := group.JoinAll(); err != nil {
		t.Errorf("JoinAll() error = %v", err)
	}
}

func TestGroup_JoinAllReturnsFirstError(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("boom")

	pool := NewPool(2)
	group, _ := pool.NewGroup(context.Background())

	var completed atomic.Int64
	for i := range 5 {
		if err := group.Spawn(func(_ context.Context, _ *Slot) error {
			defer completed.Add(1)
			if i == 2 {
				return errBoom
			}
			return nil
		}); err != nil {
			// The group context is cancelled once the failing task returns.
			if !errors.Is(err, context.Canceled) {
				t.Fatalf("Spawn() error = %v, want context.Canceled", err)
			}
			break
		}
	}

	err := group.JoinAll()
	if !errors.Is(err, errBoom) {
		t.Fatalf("JoinAll() error = %v, want %v", err, errBoom)
	}
	if pool.Stats().InFlight != 0 {
		t.Errorf("slots still held after JoinAll: %d", pool.Stats().InFlight)
	}
	if int(completed.Load()) != pool.Stats().Spawned {
		t.Errorf("completed %d tasks, spawned %d", completed.Load(), pool.Stats().Spawned)
	}
}

func TestGroup_RecoversPanics(t *testing.T) {
	t.Parallel()

	pool := NewPool(1)
	group, _ := pool.NewGroup(context.Background())

	if err := group.Spawn(func(_ context.Context, _ *Slot) error {
		panic("unexpected state")
	}); err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}

	err := group.JoinAll()

	var panicErr *PanicError
	if !errors.As(err, &panicErr) {
		t.Fatalf("JoinAll() error = %v, want *PanicError", err)
	}
	if panicErr.Value != "unexpected state" {
		t.Errorf("PanicError.Value = %v", panicErr.Value)
	}
	if len(panicErr.Stack) == 0 {
		t.Error("PanicError.Stack is empty")
	}
	if pool.Stats().InFlight != 0 {
		t.Error("slot was not released after panic")
	}
}

func TestPanicError_Unwrap(t *testing.T) {
	t.Parallel()

	inner := errors.New("inner")
	if !errors.Is(&PanicError{Value: inner}, inner) {
		t.Error("PanicError holding an error should unwrap to it")
	}
	if (&PanicError{Value: 42}).Unwrap() != nil {
		t.Error("PanicError holding a non-error should unwrap to nil")
	}
}

// spawnTree spawns a full tree of the given breadth and depth where every task
// releases its slot before fanning out, and joins its own children.
func spawnTree(group *Group, pool *Pool, depth, breadth int, leaves *atomic.Int64) error {
	return group.Spawn(func(ctx context.Context, slot *Slot) error {
		time.Sleep(time.Millisecond)
		slot.Release()

		if depth == 0 {
			leaves.Add(1)
			return nil
		}

		children, _ := pool.NewGroup(ctx)
		for range breadth {
			if err := spawnTree(children, pool, depth-1, breadth, leaves); err != nil {
				break
			}
		}
		return children.JoinAll()
	})
}

func TestGroup_RecursiveFanOutWithSingleSlot(t *testing.T) {
	t.Parallel()

	pool := NewPool(1)
	root, _ := pool.NewGroup(context.Background())

	var leaves atomic.Int64

	done := make(chan error, 1)
	go func() {
		if err := spawnTree(root, pool, 3, 3, &leaves); err != nil {
			done <- err
			return
		}
		done <- root.JoinAll()
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("recursive fan-out error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("recursive fan-out with a single slot did not finish")
	}

	// The root barrier covers the whole tree, so every leaf is counted.
	if got := leaves.Load(); got != 27 {
		t.Errorf("leaves = %d, want 27", got)
	}
	if peak := pool.Stats().Peak; peak != 1 {
		t.Errorf("Stats().Peak = %d, want 1", peak)
	}
}

func TestGroup_SpawnAbandonedOnCancel(t *testing.T) {
	t.Parallel()

	pool := NewPool(1)
	ctx, cancel := context.WithCancel(context.Background())
	group, _ := pool.NewGroup(ctx)

	unblock := make(chan struct{})
	if err := group.Spawn(func(_ context.Context, _ *Slot) error {
		<-unblock
		return nil
	}); err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- group.Spawn(func(_ context.Context, _ *Slot) error {
			t.Error("task must not run after its spawn was abandoned")
			return nil
		})
	}()

	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Spawn() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Spawn did not return after cancellation")
	}

	close(unblock)
	if err := group.JoinAll(); err != nil {
		t.Errorf("JoinAll() error = %v", err)
	}
}

func TestSlot_ReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	pool := NewPool(1)
	slot, err := pool.acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire() error = %v", err)
	}

	slot.Release()
	slot.Release()

	if got := pool.Stats().InFlight; got != 0 {
		t.Errorf("InFlight = %d, want 0", got)
	}

	// Capacity must still be exactly one slot.
	first, err := pool.acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := pool.acquire(ctx); err == nil {
		t.Error("second acquire succeeded, double release leaked capacity")
	}
	first.Release()
}
