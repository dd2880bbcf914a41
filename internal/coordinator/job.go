// Package coordinator implements the per-job map/reduce coordinator
// described in SPEC_FULL.md §4.4: whichever node accepts a submit call
// owns that job for its lifetime, chunking input, dispatching map and
// reduce tasks over the live ring, and collecting results. There is no
// standby coordinator (Open Question (c)); a coordinator crash loses
// the job and the client must resubmit.
package coordinator

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Phase is where a job currently stands in the map/reduce pipeline.
type Phase int

const (
	PhaseMap Phase = iota
	PhaseReduce
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseMap:
		return "map"
	case PhaseReduce:
		return "reduce"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ItemsPerChunk is the default chunking granularity from spec.md §4.4.
const ItemsPerChunk = 16

// MaxTaskTimeout bounds a single map/reduce task attempt.
const MaxTaskTimeout = 300 * time.Second

// MaxTaskAttempts is the retry cap after which a task aborts its job.
const MaxTaskAttempts = 5

// KV is one (key, value) input/output pair, mirroring worker.KV so
// callers of this package never need to import internal/worker just to
// build a submission.
type KV struct {
	Key   []byte
	Value []byte
}

// Status reports a job's progress for the status RPC/HTTP endpoint.
type Status struct {
	Phase       Phase
	TasksTotal  int
	TasksDone   int
	TasksFailed int
	Err         error
}

// Job is one coordinator-owned map/reduce run.
type Job struct {
	ID        int64
	MapFn     string
	ReduceFn  string
	NumReduce int
	MemoryCap int64 // intermediate-storage byte cap, spec.md §5; 0 = unbounded.

	bytesUsed int64 // atomic; cumulative intermediate bytes written so far.

	mu        sync.Mutex
	phase     Phase
	tasks     []*Task
	done      chan struct{}
	result    map[string][]byte
	err       error
	finalized bool
}

func newJob(id int64, mapFn, reduceFn string, numReduce int, memoryCap int64) *Job {
	return &Job{
		ID:        id,
		MapFn:     mapFn,
		ReduceFn:  reduceFn,
		NumReduce: numReduce,
		MemoryCap: memoryCap,
		phase:     PhaseMap,
		done:      make(chan struct{}),
	}
}

// addBytes accounts n more bytes of intermediate storage against the
// job's cap and reports whether the job is still within it.
func (j *Job) addBytes(n int64) bool {
	total := atomic.AddInt64(&j.bytesUsed, n)
	return j.MemoryCap <= 0 || total <= j.MemoryCap
}

func (j *Job) withinCapacity() bool {
	return j.MemoryCap <= 0 || atomic.LoadInt64(&j.bytesUsed) <= j.MemoryCap
}

// Status snapshots the job's current counters under lock.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	s := Status{Phase: j.phase, Err: j.err}
	for _, t := range j.tasks {
		s.TasksTotal++
		switch t.State() {
		case TaskDone:
			s.TasksDone++
		case TaskAborted:
			s.TasksFailed++
		}
	}
	return s
}

func (j *Job) setPhase(p Phase) {
	j.mu.Lock()
	j.phase = p
	j.mu.Unlock()
}

func (j *Job) fail(err error) {
	j.mu.Lock()
	if j.finalized {
		j.mu.Unlock()
		return
	}
	j.finalized = true
	j.phase = PhaseFailed
	j.err = fmt.Errorf("coordinator: job %d failed: %w", j.ID, err)
	j.mu.Unlock()
	close(j.done)
}

func (j *Job) succeed(result map[string][]byte) {
	j.mu.Lock()
	if j.finalized {
		j.mu.Unlock()
		return
	}
	j.finalized = true
	j.phase = PhaseDone
	j.result = result
	j.mu.Unlock()
	close(j.done)
}

// awaitDone blocks the caller until the job reaches Done or Failed.
func (j *Job) awaitDone() (map[string][]byte, error) {
	<-j.done
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result, j.err
}
