package worker

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"hash/fnv"
	"sort"

	"github.com/batheaded/map-reduce/pkg/dht"
	"github.com/batheaded/map-reduce/pkg/logging"
	"github.com/batheaded/map-reduce/pkg/transport"
)

// ShuffleRecord is one intermediate key/value pair written to the DHT
// during the map phase, grouped back together by key during reduce.
type ShuffleRecord struct {
	Key   []byte
	Value []byte
}

// RunMapArgs is the wire shape of the coordinator's RunMap RPC.
type RunMapArgs struct {
	JobID      int64
	TaskID     int
	KernelName string
	InputKey   []byte // DHT key holding this task's input chunk.
	NumReduce  int
}

// RunMapReply reports outcome back to the coordinator.
type RunMapReply struct {
	Emitted      int
	BytesWritten int64 // total bytes of shuffle records this attempt wrote.
}

// RunReduceArgs is the wire shape of the coordinator's RunReduce RPC.
type RunReduceArgs struct {
	JobID      int64
	Partition  int
	KernelName string
}

// RunReduceReply reports outcome back to the coordinator.
type RunReduceReply struct {
	Groups       int
	BytesWritten int64 // total bytes of out_key entries this attempt wrote.
}

// Executor runs map and reduce tasks dispatched by the coordinator
// against a shared replicated store, resolving kernel names through a
// Registry rather than executing shipped code (SPEC_FULL.md §4.4).
type Executor struct {
	kernels *Registry
	store   *dht.Replicator
}

// NewExecutor builds an Executor over store using kernels for
// map_fn/reduce_fn resolution.
func NewExecutor(kernels *Registry, store *dht.Replicator) *Executor {
	return &Executor{kernels: kernels, store: store}
}

// shuffleKey names where one emitted pair lands during the map phase:
// partitioned by a stable hash of the output key so every reducer for
// that partition can find it with a single prefix scan.
func shuffleKey(jobID int64, partition, taskID, seq int) string {
	return fmt.Sprintf("job/%d/shuffle/%d/%d/%d", jobID, partition, taskID, seq)
}

func partitionOf(key []byte, numReduce int) int {
	if numReduce <= 0 {
		return 0
	}
	h := fnv.New32a()
	h.Write(key)
	return int(h.Sum32()) % numReduce
}

// RunMap executes one map task: fetch its input chunk from the store,
// run the named kernel, and fan the emitted pairs out into the
// shuffle keyspace partitioned for the reduce phase.
func (e *Executor) RunMap(ctx context.Context, args RunMapArgs) (RunMapReply, error) {
	fn, err := e.kernels.mapFn(args.KernelName)
	if err != nil {
		return RunMapReply{}, err
	}

	wire, found, err := e.store.Get(ctx, args.InputKey)
	if err != nil {
		return RunMapReply{}, fmt.Errorf("worker: fetch map input %q: %w", args.InputKey, err)
	}
	if !found {
		return RunMapReply{}, fmt.Errorf("worker: map input %q not found", args.InputKey)
	}

	chunk, err := decodeChunk(wire)
	if err != nil {
		return RunMapReply{}, fmt.Errorf("worker: decode map input chunk %q: %w", args.InputKey, err)
	}

	var pairs []KV
	for _, in := range chunk {
		emitted, err := fn(in.Key, in.Value)
		if err != nil {
			return RunMapReply{}, fmt.Errorf("worker: map kernel %q: %w", args.KernelName, err)
		}
		pairs = append(pairs, emitted...)
	}

	var bytesWritten int64
	for seq, kv := range pairs {
		partition := partitionOf(kv.Key, args.NumReduce)
		rec := ShuffleRecord{Key: kv.Key, Value: kv.Value}
		wire, err := encodeRecord(rec)
		if err != nil {
			return RunMapReply{}, fmt.Errorf("worker: encode shuffle record: %w", err)
		}
		key := []byte(shuffleKey(args.JobID, partition, args.TaskID, seq))
		if err := e.store.Put(ctx, key, wire); err != nil {
			return RunMapReply{}, fmt.Errorf("worker: write shuffle record: %w", err)
		}
		bytesWritten += int64(len(wire))
	}

	logging.Infow("worker: map task completed", "job", args.JobID, "task", args.TaskID, "emitted", len(pairs))
	return RunMapReply{Emitted: len(pairs), BytesWritten: bytesWritten}, nil
}

// outKey names where one reduced group's final value lives: a flat
// out_key -> out_value entry under the job's keyspace, per spec.md
// step 5, rather than a partition-level blob a caller would have to
// re-split to recover individual keys.
func outKey(jobID int64, key string) string {
	return fmt.Sprintf("job/%d/out/%s", jobID, key)
}

// RunReduce executes one reduce task: gather every shuffle record for
// its partition (a ring-wide scatter-gather over the DHT, since
// mappers scattered writes across whichever node owned each key),
// group values by key, run the named kernel per group, and write each
// group's result as its own out_key entry.
func (e *Executor) RunReduce(ctx context.Context, args RunReduceArgs) (RunReduceReply, error) {
	fn, err := e.kernels.reduceFn(args.KernelName)
	if err != nil {
		return RunReduceReply{}, err
	}

	prefix := fmt.Sprintf("job/%d/shuffle/%d/", args.JobID, args.Partition)
	keys, err := e.store.Keys(ctx, prefix)
	if err != nil {
		return RunReduceReply{}, fmt.Errorf("worker: scatter-gather shuffle keys: %w", err)
	}

	groups := make(map[string][][]byte)
	order := make([]string, 0)
	for _, k := range keys {
		wire, found, err := e.store.Get(ctx, k)
		if err != nil || !found {
			continue
		}
		rec, err := decodeRecord(wire)
		if err != nil {
			logging.Warnw("worker: skipping unreadable shuffle record", "key", string(k), "error", err)
			continue
		}
		sk := string(rec.Key)
		if _, ok := groups[sk]; !ok {
			order = append(order, sk)
		}
		groups[sk] = append(groups[sk], rec.Value)
	}
	sort.Strings(order) // deterministic write ordering across runs.

	var bytesWritten int64
	for _, sk := range order {
		result, err := fn([]byte(sk), groups[sk])
		if err != nil {
			return RunReduceReply{}, fmt.Errorf("worker: reduce kernel %q for key %q: %w", args.KernelName, sk, err)
		}
		if err := e.store.Put(ctx, []byte(outKey(args.JobID, sk)), result); err != nil {
			return RunReduceReply{}, fmt.Errorf("worker: write reduce output %q: %w", sk, err)
		}
		bytesWritten += int64(len(result))
	}

	logging.Infow("worker: reduce task completed", "job", args.JobID, "partition", args.Partition, "groups", len(order))
	return RunReduceReply{Groups: len(order), BytesWritten: bytesWritten}, nil
}

func encodeRecord(rec ShuffleRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRecord(wire []byte) (ShuffleRecord, error) {
	var rec ShuffleRecord
	if err := gob.NewDecoder(bytes.NewReader(wire)).Decode(&rec); err != nil {
		return ShuffleRecord{}, err
	}
	return rec, nil
}

// decodeChunk decodes a job input chunk written by the coordinator's
// submit path. Field names, not package-qualified types, are what
// gob matches on, so this decodes coordinator.KV values fine.
func decodeChunk(wire []byte) ([]KV, error) {
	var chunk []KV
	if err := gob.NewDecoder(bytes.NewReader(wire)).Decode(&chunk); err != nil {
		return nil, err
	}
	return chunk, nil
}

// RegisterRPC installs RunMap/RunReduce into reg.
func (e *Executor) RegisterRPC(reg *transport.Registry) {
	reg.Handle("RunMap", func() any { return new(RunMapArgs) }, func(ctx context.Context, args any) (any, error) {
		a := args.(*RunMapArgs)
		reply, err := e.RunMap(ctx, *a)
		return &reply, err
	})
	reg.Handle("RunReduce", func() any { return new(RunReduceArgs) }, func(ctx context.Context, args any) (any, error) {
		a := args.(*RunReduceArgs)
		reply, err := e.RunReduce(ctx, *a)
		return &reply, err
	})
}
