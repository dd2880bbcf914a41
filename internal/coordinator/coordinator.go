package coordinator

import (
	"context"
	"fmt"
	"sync"

	"github.com/batheaded/map-reduce/internal/worker"
	"github.com/batheaded/map-reduce/pkg/chordring"
	"github.com/batheaded/map-reduce/pkg/dht"
	"github.com/batheaded/map-reduce/pkg/idgen"
	"github.com/batheaded/map-reduce/pkg/logging"
	"github.com/batheaded/map-reduce/pkg/resilience"
)

// ErrRingEmpty mirrors spec.md §7's RingEmpty: no live worker could be
// found to dispatch a task to.
var ErrRingEmpty = fmt.Errorf("coordinator: no live ring members available")

// ErrCapacityExceeded mirrors spec.md §7's CapacityExceeded: the job's
// intermediate storage grew past its configured memory cap.
var ErrCapacityExceeded = fmt.Errorf("coordinator: job exceeded its memory cap")

// SubmitOptions carries the optional knobs of spec.md §6's submit
// call. NumReduce chooses the reduce fan-out; zero defaults to the
// live ring size at submit time. MemoryCap bounds the job's
// intermediate (chunk + shuffle + output) storage in bytes per
// spec.md §5; zero leaves it unbounded.
type SubmitOptions struct {
	NumReduce int
	MemoryCap int64
}

// Coordinator owns zero or more in-flight jobs on this node. Any node
// in the ring can run one; the node that accepts a client's submit
// call becomes that job's coordinator for its lifetime (spec.md §4.4).
// There is no handoff: a coordinator crash loses its jobs (Open
// Question (c)).
type Coordinator struct {
	node     *chordring.Node
	store    *dht.Replicator
	ids      *idgen.Snowflake
	pool     *resilience.WorkerPool
	executor *worker.Executor

	mu   sync.Mutex
	jobs map[int64]*Job
}

// New builds a Coordinator over the given ring node, replicated store,
// and JobId generator, dispatching work through one worker pool of
// poolSize workers (at least 1). The pool is shared by every job and
// phase and is not resized when ring membership changes. executor runs
// any task this node assigns to itself without a network round trip;
// it is the same Executor the node also exposes over RPC for the
// benefit of other coordinators.
func New(node *chordring.Node, store *dht.Replicator, ids *idgen.Snowflake, executor *worker.Executor, poolSize int) *Coordinator {
	if poolSize <= 0 {
		poolSize = 1
	}
	return &Coordinator{
		node:     node,
		store:    store,
		ids:      ids,
		pool:     resilience.NewWorkerPool(poolSize, poolSize*4),
		executor: executor,
		jobs:     make(map[int64]*Job),
	}
}

// Submit implements spec.md §6's submit(input, map_fn, reduce_fn,
// options) -> JobId: it chunks the input, writes chunks and kernel
// names into the DHT, mints a JobId, and kicks off map dispatch in the
// background. It returns as soon as the job is registered, not when
// it completes — callers use AwaitResults for that.
func (c *Coordinator) Submit(ctx context.Context, input []KV, mapFn, reduceFn string, opts SubmitOptions) (int64, error) {
	jobID, err := c.ids.Next()
	if err != nil {
		return 0, fmt.Errorf("coordinator: mint job id: %w", err)
	}

	numReduce := opts.NumReduce
	if numReduce <= 0 {
		members, err := c.node.RingMembers(ctx)
		if err != nil || len(members) == 0 {
			return 0, ErrRingEmpty
		}
		numReduce = len(members)
	}

	job := newJob(jobID, mapFn, reduceFn, numReduce, opts.MemoryCap)

	if err := c.store.Put(ctx, jobKey(jobID, "map_fn"), []byte(mapFn)); err != nil {
		return 0, fmt.Errorf("coordinator: persist map_fn handle: %w", err)
	}
	if err := c.store.Put(ctx, jobKey(jobID, "reduce_fn"), []byte(reduceFn)); err != nil {
		return 0, fmt.Errorf("coordinator: persist reduce_fn handle: %w", err)
	}

	chunks := chunk(input, ItemsPerChunk)
	job.tasks = make([]*Task, 0, len(chunks))
	for i, ch := range chunks {
		key := chunkKey(jobID, i)
		wire, err := encodeChunk(ch)
		if err != nil {
			return 0, fmt.Errorf("coordinator: encode chunk %d: %w", i, err)
		}
		if !job.addBytes(int64(len(wire))) {
			return 0, ErrCapacityExceeded
		}
		if err := c.store.Put(ctx, key, wire); err != nil {
			return 0, fmt.Errorf("coordinator: write chunk %d: %w", i, err)
		}
		job.tasks = append(job.tasks, newMapTask(i, key))
	}

	c.mu.Lock()
	c.jobs[jobID] = job
	c.mu.Unlock()

	logging.Infow("coordinator: job submitted", "job", jobID, "chunks", len(chunks), "num_reduce", numReduce)

	go c.run(context.Background(), job)

	return jobID, nil
}

// Status implements spec.md §6's status(JobId) call.
func (c *Coordinator) Status(jobID int64) (Status, error) {
	job, ok := c.lookupJob(jobID)
	if !ok {
		return Status{}, fmt.Errorf("coordinator: unknown job %d", jobID)
	}
	return job.Status(), nil
}

// AwaitResults implements spec.md §6's awaitResults(JobId), blocking
// until the job reaches Done or Failed and returning the out_key ->
// out_value mapping, or the job's terminal error.
func (c *Coordinator) AwaitResults(ctx context.Context, jobID int64) (map[string][]byte, error) {
	job, ok := c.lookupJob(jobID)
	if !ok {
		return nil, fmt.Errorf("coordinator: unknown job %d", jobID)
	}
	type outcome struct {
		result map[string][]byte
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		r, err := job.awaitDone()
		ch <- outcome{r, err}
	}()
	select {
	case o := <-ch:
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Coordinator) lookupJob(jobID int64) (*Job, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	j, ok := c.jobs[jobID]
	return j, ok
}

func jobKey(jobID int64, suffix string) []byte {
	return []byte(fmt.Sprintf("job/%d/%s", jobID, suffix))
}

func chunkKey(jobID int64, index int) []byte {
	return []byte(fmt.Sprintf("job/%d/chunk/%d", jobID, index))
}

func chunk(items []KV, size int) [][]KV {
	if size <= 0 {
		size = ItemsPerChunk
	}
	var out [][]KV
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[i:end])
	}
	return out
}
