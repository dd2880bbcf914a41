package coordinator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/batheaded/map-reduce/pkg/chordring"
	"github.com/batheaded/map-reduce/pkg/logging"
	"github.com/batheaded/map-reduce/internal/worker"
)

// run drives one job end to end: map dispatch, the map barrier, reduce
// planning, reduce dispatch, and finalize, the five steps of spec.md
// §4.4 that follow ingest (which Submit performs). It is started as a
// goroutine by Submit and terminates the job (succeed or fail) before
// returning.
func (c *Coordinator) run(ctx context.Context, job *Job) {
	if err := c.dispatchPhase(ctx, job, job.tasks); err != nil {
		job.fail(err)
		c.cleanup(job)
		return
	}

	job.setPhase(PhaseReduce)

	reduceTasks, err := c.planReduce(ctx, job)
	if err != nil {
		job.fail(err)
		c.cleanup(job)
		return
	}
	job.mu.Lock()
	job.tasks = append(job.tasks, reduceTasks...)
	job.mu.Unlock()

	if err := c.dispatchPhase(ctx, job, reduceTasks); err != nil {
		job.fail(err)
		c.cleanup(job)
		return
	}

	result, err := c.finalize(ctx, job)
	if err != nil {
		job.fail(err)
		c.cleanup(job)
		return
	}
	job.succeed(result)
	c.cleanup(job)
}

// dispatchPhase dispatches every task in tasks to a live ring member,
// retrying on timeout or RPC failure until every task is Done, one of
// them aborts (exceeds MaxTaskAttempts), or the ring is empty. This is
// shared by map dispatch/barrier and reduce dispatch — spec.md §4.4
// states both phases use "same retry/timeout semantics".
func (c *Coordinator) dispatchPhase(ctx context.Context, job *Job, tasks []*Task) error {
	if len(tasks) == 0 {
		return nil
	}

	cursor := 0
	for {
		if !job.withinCapacity() {
			return ErrCapacityExceeded
		}

		members, err := c.node.RingMembers(ctx)
		if err != nil || len(members) == 0 {
			return ErrRingEmpty
		}

		var wg sync.WaitGroup
		errs := make(chan error, len(tasks))
		allDone := true

		for _, t := range tasks {
			switch t.State() {
			case TaskDone:
				continue
			case TaskAborted:
				return fmt.Errorf("coordinator: task %d exceeded %d attempts", t.Index, MaxTaskAttempts)
			case TaskInFlight:
				if !t.expired() {
					allDone = false
					continue
				}
				t.retry() // deadline passed, make it eligible for redispatch below.
			}

			allDone = false
			assignee := members[cursor%len(members)]
			cursor++
			if !t.start(assignee) {
				return fmt.Errorf("coordinator: task %d exceeded %d attempts", t.Index, MaxTaskAttempts)
			}

			wg.Add(1)
			task := t
			submitErr := c.pool.Submit(ctx, func() {
				defer wg.Done()
				c.runOne(ctx, job, task, assignee)
			})
			if submitErr != nil {
				wg.Done()
				task.retry()
				errs <- submitErr
			}
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			logging.Warnw("coordinator: task submit failed", "job", job.ID, "error", err)
		}

		if !job.withinCapacity() {
			return ErrCapacityExceeded
		}
		if allDone {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// runOne executes a single task attempt against worker and resolves it
// to Done on success or back to Pending on failure, so the enclosing
// dispatchPhase loop picks it up for redispatch.
func (c *Coordinator) runOne(ctx context.Context, job *Job, t *Task, assignee chordring.NodeRef) {
	callCtx, cancel := context.WithTimeout(ctx, MaxTaskTimeout)
	defer cancel()

	var (
		bytesWritten int64
		err          error
	)
	if t.Kind == TaskKindMap {
		bytesWritten, err = c.runMapTask(callCtx, job, t, assignee)
	} else {
		bytesWritten, err = c.runReduceTask(callCtx, job, t, assignee)
	}

	if err != nil {
		logging.Warnw("coordinator: task attempt failed", "job", job.ID, "kind", t.Kind, "index", t.Index, "assignee", assignee.String(), "error", err)
		t.retry()
		return
	}
	job.addBytes(bytesWritten) // over-cap is caught by dispatchPhase's next capacity check.
	t.succeed()
}

func (c *Coordinator) runMapTask(ctx context.Context, job *Job, t *Task, assignee chordring.NodeRef) (int64, error) {
	args := worker.RunMapArgs{
		JobID:      job.ID,
		TaskID:     t.Index,
		KernelName: job.MapFn,
		InputKey:   t.InputKey,
		NumReduce:  job.NumReduce,
	}
	var reply worker.RunMapReply
	var err error
	if assignee.ID.Equal(c.node.Self().ID) && c.executor != nil {
		reply, err = c.executor.RunMap(ctx, args)
	} else {
		err = c.node.Call(ctx, assignee.Addr, "RunMap", &args, &reply)
	}
	return reply.BytesWritten, err
}

func (c *Coordinator) runReduceTask(ctx context.Context, job *Job, t *Task, assignee chordring.NodeRef) (int64, error) {
	args := worker.RunReduceArgs{
		JobID:      job.ID,
		Partition:  t.Index,
		KernelName: job.ReduceFn,
	}
	var reply worker.RunReduceReply
	var err error
	if assignee.ID.Equal(c.node.Self().ID) && c.executor != nil {
		reply, err = c.executor.RunReduce(ctx, args)
	} else {
		err = c.node.Call(ctx, assignee.Addr, "RunReduce", &args, &reply)
	}
	return reply.BytesWritten, err
}

// planReduce implements spec.md §4.4 step 4: a scatter-gather over the
// shuffle keyspace, bucketed by partition rather than by id(out_key)
// directly, since internal/worker already partitions at map time by
// fnv(out_key) % NumReduce. One reduce task per partition that
// actually received at least one record.
func (c *Coordinator) planReduce(ctx context.Context, job *Job) ([]*Task, error) {
	var tasks []*Task
	for p := 0; p < job.NumReduce; p++ {
		prefix := fmt.Sprintf("job/%d/shuffle/%d/", job.ID, p)
		keys, err := c.store.Keys(ctx, prefix)
		if err != nil {
			return nil, fmt.Errorf("coordinator: plan reduce partition %d: %w", p, err)
		}
		if len(keys) == 0 {
			continue
		}
		tasks = append(tasks, newReduceTask(p))
	}
	return tasks, nil
}

// finalize implements spec.md §4.4 step 6: scatter-gather every
// job/<JobId>/out/<out_key> entry written during reduce, strip the
// prefix to recover each bare out_key, and hand back the flat
// out_key -> out_value mapping AwaitResults promises its caller.
func (c *Coordinator) finalize(ctx context.Context, job *Job) (map[string][]byte, error) {
	prefix := fmt.Sprintf("job/%d/out/", job.ID)
	keys, err := c.store.Keys(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("coordinator: scatter-gather job output: %w", err)
	}

	result := make(map[string][]byte, len(keys))
	for _, k := range keys {
		value, found, err := c.store.Get(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("coordinator: read output key %q: %w", k, err)
		}
		if !found {
			continue
		}
		result[strings.TrimPrefix(string(k), prefix)] = value
	}
	return result, nil
}

// cleanup issues delete across the job's DHT keyspace once it has
// reached a terminal state, matching spec.md §4.4 step 6's "issues
// delete across all job/<JobId>/* keys". Best-effort: a failure here
// is logged, never surfaced, since the job has already resolved.
func (c *Coordinator) cleanup(job *Job) {
	ctx := context.Background()
	keys, err := c.store.Keys(ctx, fmt.Sprintf("job/%d/", job.ID))
	if err != nil {
		logging.Warnw("coordinator: cleanup scatter failed", "job", job.ID, "error", err)
		return
	}
	for _, k := range keys {
		if err := c.store.Delete(ctx, k); err != nil {
			logging.Warnw("coordinator: cleanup delete failed", "job", job.ID, "key", string(k), "error", err)
		}
	}
}
