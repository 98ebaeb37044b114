// Package scheduler provides the bounded worker pool used by the crawl engine.
//
// A Pool owns a fixed number of slots. Tasks are started through a Group, which
// is the unit the caller later waits on:
//
//	pool := scheduler.NewPool(4)
//	group, ctx := pool.NewGroup(ctx)
//	for _, link := range links {
//	    if err := group.Spawn(func(ctx context.Context, slot *scheduler.Slot) error {
//	        defer slot.Release()
//	        return visit(ctx, link)
//	    }); err != nil {
//	        break
//	    }
//	}
//	err := group.JoinAll()
//
// # Slots
//
// Spawn blocks while every slot is taken. The slot is handed to the task and is
// returned either when the task calls Slot.Release or when the task function
// returns, whichever comes first. A task that fans out recursively releases its
// slot before spawning children and waiting on them; a parent blocked in JoinAll
// holds no slot, so children can always make progress regardless of pool size.
//
// # Barriers
//
// JoinAll waits for every task spawned through the group. When each task in turn
// joins its own children before returning, a JoinAll at any level waits for the
// whole subtree below it.
//
// The first task error cancels the group context and is the error JoinAll
// returns. Panics inside tasks are recovered and reported as *PanicError.
package scheduler
