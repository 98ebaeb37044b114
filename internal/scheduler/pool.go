package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Task is a unit of work started by Group.Spawn.
// The slot passed to the task is already acquired; the task may hand it back
// early with Slot.Release, otherwise it is returned when the task returns.
type Task func(ctx context.Context, slot *Slot) error

// Pool caps the number of tasks that hold a slot at the same time.
//
// Design decision: admission is a weighted semaphore rather than a fixed set of
// worker goroutines because:
//  1. Tasks spawn tasks, and a fixed worker set deadlocks once every worker is
//     waiting on children queued behind it
//  2. Spawn must block the caller when saturated instead of buffering
//  3. Goroutines parked on a barrier are cheap and hold no slot
type Pool struct {
	// sem hands out slots.
	sem *semaphore.Weighted

	// size is the slot capacity.
	size int64

	// inFlight counts slots currently held.
	inFlight atomic.Int64

	// peak is the highest inFlight value observed.
	peak atomic.Int64

	// spawned counts tasks admitted over the pool's lifetime.
	spawned atomic.Int64
}

// NewPool creates a Pool with the given number of slots.
// Sizes below 1 are raised to 1.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		sem:  semaphore.NewWeighted(int64(size)),
		size: int64(size),
	}
}

// Size returns the slot capacity.
func (p *Pool) Size() int {
	return int(p.size)
}

// Stats is a point-in-time view of pool usage.
type Stats struct {
	// InFlight is the number of slots held right now.
	InFlight int

	// Peak is the highest number of slots held at once.
	Peak int

	// Spawned is the number of tasks admitted so far.
	Spawned int
}

// Stats returns current pool statistics.
func (p *Pool) Stats() Stats {
	return Stats{
		InFlight: int(p.inFlight.Load()),
		Peak:     int(p.peak.Load()),
		Spawned:  int(p.spawned.Load()),
	}
}

// acquire blocks until a slot is free or ctx is done.
func (p *Pool) acquire(ctx context.Context) (*Slot, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	n := p.inFlight.Add(1)
	for {
		old := p.peak.Load()
		if n <= old || p.peak.CompareAndSwap(old, n) {
			break
		}
	}
	p.spawned.Add(1)

	return &Slot{pool: p}, nil
}

// Slot is one unit of pool capacity held by a running task.
type Slot struct {
	pool *Pool
	once sync.Once
}

// Release returns the slot to the pool. Calling it more than once is a no-op.
func (s *Slot) Release() {
	s.once.Do(func() {
		s.pool.inFlight.Add(-1)
		s.pool.sem.Release(1)
	})
}

// Group is a batch of tasks that is waited on as a whole.
// A Group must not be reused after JoinAll returns.
type Group struct {
	pool *Pool
	eg   *errgroup.Group
	ctx  context.Context
}

// NewGroup creates a Group whose tasks draw slots from p.
// The returned context is cancelled when a task in the group fails or when
// JoinAll returns.
func (p *Pool) NewGroup(ctx context.Context) (*Group, context.Context) {
	eg, gctx := errgroup.WithContext(ctx)
	return &Group{pool: p, eg: eg, ctx: gctx}, gctx
}

// Spawn starts task in its own goroutine once a slot is available.
// It blocks the caller while the pool is saturated. The only error it returns
// is the group context's error when the wait for a slot is abandoned; in that
// case the task is not started.
func (g *Group) Spawn(task Task) error {
	slot, err := g.pool.acquire(g.ctx)
	if err != nil {
		return err
	}

	g.eg.Go(func() (err error) {
		defer slot.Release()
		defer func() {
			if r := recover(); r != nil {
				err = &PanicError{Value: r, Stack: debug.Stack()}
			}
		}()
		return task(g.ctx, slot)
	})
	return nil
}

// JoinAll blocks until every task spawned through g has returned, and reports
// the first error any of them returned.
func (g *Group) JoinAll() error {
	return g.eg.Wait()
}

// PanicError reports a panic recovered from a task.
type PanicError struct {
	// Value is the value passed to panic.
	Value any

	// Stack is the goroutine stack at the time of the panic.
	Stack []byte
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
