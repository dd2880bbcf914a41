package dht

import (
	"context"
	"errors"
	"fmt"

	"github.com/batheaded/map-reduce/pkg/chordring"
	"github.com/batheaded/map-reduce/pkg/idspace"
	"github.com/batheaded/map-reduce/pkg/logging"
	"github.com/batheaded/map-reduce/pkg/transport"
)

// DefaultReplicationFactor is R from SPEC_FULL.md §4.3: one primary
// plus R-1 successor replicas.
const DefaultReplicationFactor = 3

// ErrUnavailable mirrors spec.md §7's Unavailable: no replica
// answered a get at all. It is distinct from the ordinary (nil error,
// found=false) return Get already uses for KeyNotFound — an
// authoritative absence agreed on by every replica that did answer.
var ErrUnavailable = errors.New("dht: no replica reachable")

// Replicator is the DHT-facing client/server half of one ring node: it
// routes put/get/delete to the key's owning node, fans writes out to
// that owner's successor list, and answers the same RPCs on behalf of
// whichever keys this node itself owns.
type Replicator struct {
	node  *chordring.Node
	store *Store
	space *idspace.Space
	rf    int
}

// NewReplicator builds a Replicator over node's ring position and a
// fresh local Store, with the given replication factor (<=0 selects
// DefaultReplicationFactor; 1 disables replication entirely, useful
// for single-node tests).
func NewReplicator(node *chordring.Node, space *idspace.Space, rf int) *Replicator {
	if rf <= 0 {
		rf = DefaultReplicationFactor
	}
	return &Replicator{node: node, store: NewStore(space), space: space, rf: rf}
}

// Store exposes the local backing store, e.g. for anti-entropy or
// direct inspection in tests.
func (r *Replicator) Store() *Store { return r.store }

// Put writes key=value, routing to the owning node if it isn't this
// one, then replicating to the owner's successor list.
func (r *Replicator) Put(ctx context.Context, key, value []byte) error {
	owner, err := r.node.Lookup(ctx, r.space.ID(key))
	if err != nil {
		return fmt.Errorf("dht: locate owner for put: %w", err)
	}

	if owner.ID.Equal(r.node.Self().ID) {
		return r.applyAndReplicate(ctx, Entry{Key: key, Value: value, Owner: r.node.Self().ID})
	}

	var reply struct{}
	args := putArgs{Key: key, Value: value}
	if err := r.node.Call(ctx, owner.Addr, "DHTPut", &args, &reply); err != nil {
		return fmt.Errorf("dht: forward put to owner %s: %w", owner, err)
	}
	return nil
}

// Get reads key, routing to the owning node if it isn't this one, and
// falling back to the owner's successor-list replicas in order if the
// primary call fails (spec.md §4.3's survivability requirement, §8's
// property 5). Returns (nil, false, nil) only once every replica that
// answered agrees the key is absent (KeyNotFound); returns
// ErrUnavailable if none of them answered at all.
func (r *Replicator) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	owner, err := r.node.Lookup(ctx, r.space.ID(key))
	if err != nil {
		return nil, false, fmt.Errorf("dht: locate owner for get: %w", err)
	}

	if value, found, err := r.getFrom(ctx, owner, key); err == nil {
		return value, found, nil
	} else {
		logging.Warnw("dht: primary get failed, falling back to replicas", "owner", owner.String(), "key", string(key), "error", err)
	}

	reached := false
	for _, replica := range r.node.SuccessorList() {
		if replica.ID.Equal(owner.ID) {
			continue
		}
		value, found, err := r.getFrom(ctx, replica, key)
		if err != nil {
			logging.Warnw("dht: replica get failed", "replica", replica.String(), "key", string(key), "error", err)
			continue
		}
		reached = true
		if found {
			return value, true, nil
		}
	}

	if reached {
		return nil, false, nil
	}
	return nil, false, fmt.Errorf("dht: get %q: %w", key, ErrUnavailable)
}

// getFrom issues a single-target get, either locally or over RPC.
func (r *Replicator) getFrom(ctx context.Context, target chordring.NodeRef, key []byte) ([]byte, bool, error) {
	if target.ID.Equal(r.node.Self().ID) {
		e, ok := r.store.Get(key)
		if !ok {
			return nil, false, nil
		}
		return e.Value, true, nil
	}

	var reply getReply
	if err := r.node.Call(ctx, target.Addr, "DHTGet", &key, &reply); err != nil {
		return nil, false, err
	}
	return reply.Value, reply.Found, nil
}

// Delete removes key (as a tombstone, so replicas converge on the
// deletion rather than resurrecting a stale copy).
func (r *Replicator) Delete(ctx context.Context, key []byte) error {
	owner, err := r.node.Lookup(ctx, r.space.ID(key))
	if err != nil {
		return fmt.Errorf("dht: locate owner for delete: %w", err)
	}

	if owner.ID.Equal(r.node.Self().ID) {
		return r.applyAndReplicate(ctx, Entry{Key: key, Owner: r.node.Self().ID, Deleted: true})
	}

	var reply struct{}
	if err := r.node.Call(ctx, owner.Addr, "DHTDelete", &key, &reply); err != nil {
		return fmt.Errorf("dht: forward delete to owner %s: %w", owner, err)
	}
	return nil
}

// applyAndReplicate bumps candidate's version against whatever this
// node currently holds, applies it locally, and best-effort pushes it
// to the current successor list. Replication is best-effort per
// SPEC_FULL.md §9: a replica push failing does not fail the write, it
// is caught up later by anti-entropy.
func (r *Replicator) applyAndReplicate(ctx context.Context, candidate Entry) error {
	current, _ := r.store.GetRaw(candidate.Key)
	candidate.Version = current.Version + 1
	r.store.ApplyLocal(candidate)

	if r.rf <= 1 {
		return nil
	}
	replicas := r.node.SuccessorList()
	pushed := 0
	for _, peer := range replicas {
		if pushed >= r.rf-1 {
			break
		}
		if peer.ID.Equal(r.node.Self().ID) {
			continue
		}
		var reply struct{}
		if err := r.node.Call(ctx, peer.Addr, "DHTReplicate", &candidate, &reply); err != nil {
			logging.Warnw("dht: replica push failed", "peer", peer.String(), "key", string(candidate.Key), "error", err)
			continue
		}
		pushed++
	}
	return nil
}

// Keys performs a ring-wide scatter-gather: it asks every live node,
// starting from itself and walking successor pointers until the walk
// returns to the start, for its locally-held keys matching prefix,
// then merges the results. This realizes the reduce-planning "keys"
// query from SPEC_FULL.md §4.3/§4.4 without requiring a separate
// index structure.
func (r *Replicator) Keys(ctx context.Context, prefix string) ([][]byte, error) {
	seen := make(map[string][]byte)
	start := r.node.Self()
	current := start

	for i := 0; i < maxRingWalk; i++ {
		keys, err := r.keysAt(ctx, current, prefix)
		if err != nil {
			logging.Warnw("dht: keys scatter hop failed", "node", current.String(), "error", err)
		} else {
			for _, k := range keys {
				seen[string(k)] = k
			}
		}

		next, err := r.successorOf(ctx, current)
		if err != nil || next.ID.Equal(start.ID) {
			break // network error mid-walk, or the ring has closed.
		}
		current = next
	}

	out := make([][]byte, 0, len(seen))
	for _, k := range seen {
		out = append(out, k)
	}
	return out, nil
}

// maxRingWalk bounds the scatter-gather walk so a routing
// inconsistency (e.g. a ring that never reports back to start) cannot
// hang a reduce-planning query forever.
const maxRingWalk = 4096

func (r *Replicator) keysAt(ctx context.Context, target chordring.NodeRef, prefix string) ([][]byte, error) {
	if target.ID.Equal(r.node.Self().ID) {
		return r.store.LocalKeys(prefix), nil
	}
	var reply [][]byte
	if err := r.node.Call(ctx, target.Addr, "DHTLocalKeys", &prefix, &reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (r *Replicator) successorOf(ctx context.Context, target chordring.NodeRef) (chordring.NodeRef, error) {
	if target.ID.Equal(r.node.Self().ID) {
		return r.node.Successor(), nil
	}
	var reply chordring.NodeRef
	if err := r.node.Call(ctx, target.Addr, "GetSuccessorOf", &struct{}{}, &reply); err != nil {
		return chordring.NodeRef{}, err
	}
	return reply, nil
}

type putArgs struct {
	Key   []byte
	Value []byte
}

type getReply struct {
	Value []byte
	Found bool
}

// RegisterRPC installs the DHT peer surface into reg.
func (r *Replicator) RegisterRPC(reg *transport.Registry) {
	reg.Handle("DHTPut", func() any { return new(putArgs) }, func(ctx context.Context, args any) (any, error) {
		a := args.(*putArgs)
		err := r.applyAndReplicate(ctx, Entry{Key: a.Key, Value: a.Value, Owner: r.node.Self().ID})
		return &struct{}{}, err
	})

	reg.Handle("DHTGet", func() any { return new([]byte) }, func(ctx context.Context, args any) (any, error) {
		key := *args.(*[]byte)
		e, ok := r.store.Get(key)
		if !ok {
			return &getReply{}, nil
		}
		return &getReply{Value: e.Value, Found: true}, nil
	})

	reg.Handle("DHTDelete", func() any { return new([]byte) }, func(ctx context.Context, args any) (any, error) {
		key := *args.(*[]byte)
		err := r.applyAndReplicate(ctx, Entry{Key: key, Owner: r.node.Self().ID, Deleted: true})
		return &struct{}{}, err
	})

	reg.Handle("DHTReplicate", func() any { return new(Entry) }, func(ctx context.Context, args any) (any, error) {
		e := args.(*Entry)
		r.store.ApplyLocal(*e)
		return &struct{}{}, nil
	})

	reg.Handle("DHTLocalKeys", func() any { return new(string) }, func(ctx context.Context, args any) (any, error) {
		prefix := *args.(*string)
		return r.store.LocalKeys(prefix), nil
	})
}
