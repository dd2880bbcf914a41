package coordinator

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/batheaded/map-reduce/internal/wordcount"
	"github.com/batheaded/map-reduce/internal/worker"
	"github.com/batheaded/map-reduce/pkg/chordring"
	"github.com/batheaded/map-reduce/pkg/dht"
	"github.com/batheaded/map-reduce/pkg/idgen"
	"github.com/batheaded/map-reduce/pkg/idspace"
	"github.com/batheaded/map-reduce/pkg/transport"
)

func wireNode(t *testing.T, net *transport.Network, space *idspace.Space, addr string, val uint64) (*chordring.Node, *dht.Replicator, *worker.Executor) {
	t.Helper()
	ref := chordring.NodeRef{ID: space.FromUint64(val), Addr: addr}
	cfg := chordring.DefaultConfig()
	cfg.SuccessorListLen = 2
	n := chordring.New(ref, space, cfg, net.DialerFrom(addr))

	repl := dht.NewReplicator(n, space, 1)
	kernels := worker.NewRegistry()
	wordcount.Register(kernels)
	exec := worker.NewExecutor(kernels, repl)

	reg := transport.NewRegistry()
	n.RegisterRPC(reg)
	repl.RegisterRPC(reg)
	exec.RegisterRPC(reg)
	net.Register(addr, reg.Handler())
	return n, repl, exec
}

func TestSubmitSingleNodeWordCount(t *testing.T) {
	space := idspace.NewSpace(16)
	net := transport.NewNetwork()
	node, repl, exec := wireNode(t, net, space, "n0", 10)

	ids, err := idgen.New(0, nil)
	if err != nil {
		t.Fatalf("idgen.New: %v", err)
	}
	coord := New(node, repl, ids, exec, 4)

	lines := []string{
		"hello world",
		"hello distributed computing",
		"world of mapreduce",
	}
	input := make([]KV, len(lines))
	for i, l := range lines {
		input[i] = KV{Key: []byte(fmt.Sprintf("%d", i)), Value: []byte(l)}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	jobID, err := coord.Submit(ctx, input, wordcount.MapName, wordcount.ReduceName, SubmitOptions{NumReduce: 2})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	result, err := coord.AwaitResults(ctx, jobID)
	if err != nil {
		t.Fatalf("AwaitResults: %v", err)
	}

	got := make(map[string]string, len(result))
	for k, v := range result {
		got[k] = string(v)
	}

	want := map[string]string{
		"hello": "2", "world": "2", "distributed": "1",
		"computing": "1", "of": "1", "mapreduce": "1",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("word %q: got count %q, want %q (full result: %v)", k, got[k], v, got)
		}
	}
}

func TestSubmitRejectsOversizedJob(t *testing.T) {
	space := idspace.NewSpace(16)
	net := transport.NewNetwork()
	node, repl, exec := wireNode(t, net, space, "n0", 10)

	ids, err := idgen.New(0, nil)
	if err != nil {
		t.Fatalf("idgen.New: %v", err)
	}
	coord := New(node, repl, ids, exec, 4)

	input := []KV{{Key: []byte("0"), Value: []byte(strings.Repeat("word ", 64))}}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = coord.Submit(ctx, input, wordcount.MapName, wordcount.ReduceName, SubmitOptions{NumReduce: 1, MemoryCap: 8})
	if err != ErrCapacityExceeded {
		t.Fatalf("Submit error = %v, want ErrCapacityExceeded", err)
	}
}

func TestStatusReflectsTaskProgress(t *testing.T) {
	space := idspace.NewSpace(16)
	net := transport.NewNetwork()
	node, repl, exec := wireNode(t, net, space, "n0", 10)

	ids, err := idgen.New(0, nil)
	if err != nil {
		t.Fatalf("idgen.New: %v", err)
	}
	coord := New(node, repl, ids, exec, 4)

	input := []KV{{Key: []byte("0"), Value: []byte("a b c")}}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	jobID, err := coord.Submit(ctx, input, wordcount.MapName, wordcount.ReduceName, SubmitOptions{NumReduce: 1})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := coord.AwaitResults(ctx, jobID); err != nil {
		t.Fatalf("AwaitResults: %v", err)
	}

	status, err := coord.Status(jobID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Phase != PhaseDone {
		t.Errorf("phase = %v, want Done", status.Phase)
	}
	if status.TasksDone != status.TasksTotal {
		t.Errorf("tasks_done = %d, want tasks_total = %d", status.TasksDone, status.TasksTotal)
	}
}
