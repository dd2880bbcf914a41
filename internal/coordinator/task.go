package coordinator

import (
	"sync"
	"time"

	"github.com/batheaded/map-reduce/pkg/chordring"
)

// TaskState is Pending, InFlight, Done or Aborted: monotonic except
// InFlight→Pending on retry.
type TaskState int

const (
	TaskPending TaskState = iota
	TaskInFlight
	TaskDone
	TaskAborted
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskInFlight:
		return "in_flight"
	case TaskDone:
		return "done"
	case TaskAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// TaskKind distinguishes map tasks from reduce tasks.
type TaskKind int

const (
	TaskKindMap TaskKind = iota
	TaskKindReduce
)

// Task is a coordinator-owned TaskDescriptor (spec.md §3): one unit of
// map or reduce work, its assignment history, and its retry state.
type Task struct {
	mu        sync.Mutex
	Kind      TaskKind
	Index     int    // chunk index for map, partition index for reduce.
	InputKey  []byte // DHT key of the task's input, if any.
	assignee  chordring.NodeRef
	state     TaskState
	attempts  int
	deadline  time.Time
}

func newMapTask(index int, inputKey []byte) *Task {
	return &Task{Kind: TaskKindMap, Index: index, InputKey: inputKey, state: TaskPending}
}

func newReduceTask(partition int) *Task {
	return &Task{Kind: TaskKindReduce, Index: partition, state: TaskPending}
}

func (t *Task) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// start marks the task in flight, bound to assignee, with a fresh
// deadline and an incremented attempt count. Returns false if the
// attempt cap has already been exhausted.
func (t *Task) start(assignee chordring.NodeRef) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.attempts >= MaxTaskAttempts {
		t.state = TaskAborted
		return false
	}
	t.attempts++
	t.assignee = assignee
	t.state = TaskInFlight
	t.deadline = time.Now().Add(MaxTaskTimeout)
	return true
}

// succeed marks the task Done. It does not check which assignee or
// attempt reported the success, and it does not reject a late success:
// any state other than Done becomes Done. A Done task stays Done.
func (t *Task) succeed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == TaskDone {
		return
	}
	t.state = TaskDone
}

// retry returns the task to Pending after a timeout or RPC failure, so
// the dispatcher can redispatch it to a different worker. No-ops if
// the task is already Done or Aborted.
func (t *Task) retry() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == TaskDone || t.state == TaskAborted {
		return
	}
	t.state = TaskPending
}

func (t *Task) expired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == TaskInFlight && time.Now().After(t.deadline)
}
