package dht

import (
	"context"
	"errors"
	"testing"

	"github.com/batheaded/map-reduce/pkg/chordring"
	"github.com/batheaded/map-reduce/pkg/idspace"
	"github.com/batheaded/map-reduce/pkg/transport"
)

func wireReplicator(t *testing.T, net *transport.Network, space *idspace.Space, addr string, val uint64, rf int) (*chordring.Node, *Replicator) {
	t.Helper()
	ref := chordring.NodeRef{ID: space.FromUint64(val), Addr: addr}
	cfg := chordring.DefaultConfig()
	cfg.SuccessorListLen = 2
	n := chordring.New(ref, space, cfg, net.DialerFrom(addr))

	repl := NewReplicator(n, space, rf)
	reg := transport.NewRegistry()
	n.RegisterRPC(reg)
	repl.RegisterRPC(reg)
	net.Register(addr, reg.Handler())
	return n, repl
}

func settleRing(ctx context.Context, nodes ...*chordring.Node) {
	for round := 0; round < 4*len(nodes); round++ {
		for _, n := range nodes {
			n.Stabilize(ctx)
			n.FixNextFingerOnce(ctx)
		}
	}
}

func TestReplicatorPutGetSingleNode(t *testing.T) {
	space := idspace.NewSpace(8)
	net := transport.NewNetwork()
	_, repl := wireReplicator(t, net, space, "n0", 10, 1)

	ctx := context.Background()
	if err := repl.Put(ctx, []byte("hello"), []byte("world")); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	v, ok, err := repl.Get(ctx, []byte("hello"))
	if err != nil || !ok {
		t.Fatalf("get failed: ok=%v err=%v", ok, err)
	}
	if string(v) != "world" {
		t.Fatalf("expected world, got %s", v)
	}
}

func TestReplicatorRoutesToOwnerAcrossRing(t *testing.T) {
	space := idspace.NewSpace(8)
	net := transport.NewNetwork()

	n0, r0 := wireReplicator(t, net, space, "n0", 10, 2)
	n1, r1 := wireReplicator(t, net, space, "n1", 100, 2)
	n2, r2 := wireReplicator(t, net, space, "n2", 200, 2)

	ctx := context.Background()
	if err := n1.Join(ctx, n0.Self()); err != nil {
		t.Fatalf("n1 join: %v", err)
	}
	n1.Stop()
	settleRing(ctx, n0, n1)

	if err := n2.Join(ctx, n0.Self()); err != nil {
		t.Fatalf("n2 join: %v", err)
	}
	n2.Stop()
	settleRing(ctx, n0, n1, n2)

	// Write from n0, which should route to whichever node actually
	// owns this key, not necessarily store it locally.
	key := []byte("partition-key-7")
	if err := r0.Put(ctx, key, []byte("v1")); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	for _, r := range []*Replicator{r0, r1, r2} {
		v, ok, err := r.Get(ctx, key)
		if err != nil {
			t.Fatalf("get via %v failed: %v", r.node.Self(), err)
		}
		if !ok || string(v) != "v1" {
			t.Fatalf("expected every node's Get to resolve to v1 via routing, got ok=%v v=%s", ok, v)
		}
	}
}

func TestGetFallsBackToReplicaAfterPrimaryLoss(t *testing.T) {
	space := idspace.NewSpace(8)
	net := transport.NewNetwork()

	n0, r0 := wireReplicator(t, net, space, "n0", 10, 3)
	n1, r1 := wireReplicator(t, net, space, "n1", 100, 3)
	n2, r2 := wireReplicator(t, net, space, "n2", 200, 3)

	ctx := context.Background()
	if err := n1.Join(ctx, n0.Self()); err != nil {
		t.Fatalf("n1 join: %v", err)
	}
	if err := n2.Join(ctx, n0.Self()); err != nil {
		t.Fatalf("n2 join: %v", err)
	}
	settleRing(ctx, n0, n1, n2)

	key := []byte("partition-key-7")
	if err := r0.Put(ctx, key, []byte("v1")); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	owner, err := n0.Lookup(ctx, space.ID(key))
	if err != nil {
		t.Fatalf("lookup owner: %v", err)
	}

	// Kill the owning node; every other Replicator must still resolve
	// the key via one of its replicas rather than erroring out.
	net.Unregister(owner.Addr)

	for _, r := range []*Replicator{r0, r1, r2} {
		if r.node.Self().Addr == owner.Addr {
			continue
		}
		v, ok, err := r.Get(ctx, key)
		if err != nil {
			t.Fatalf("get via %v after primary loss failed: %v", r.node.Self(), err)
		}
		if !ok || string(v) != "v1" {
			t.Fatalf("expected replica fallback to resolve v1, got ok=%v v=%s", ok, v)
		}
	}
}

func TestGetReturnsUnavailableWhenNoReplicaReachable(t *testing.T) {
	space := idspace.NewSpace(8)
	net := transport.NewNetwork()

	n0, r0 := wireReplicator(t, net, space, "n0", 10, 1)
	n1, r1 := wireReplicator(t, net, space, "n1", 100, 1)

	ctx := context.Background()
	if err := n1.Join(ctx, n0.Self()); err != nil {
		t.Fatalf("n1 join: %v", err)
	}
	settleRing(ctx, n0, n1)

	key := []byte("hello")
	if err := r0.Put(ctx, key, []byte("world")); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	owner, err := n0.Lookup(ctx, space.ID(key))
	if err != nil {
		t.Fatalf("lookup owner: %v", err)
	}

	caller := r1
	if owner.Addr == n1.Self().Addr {
		caller = r0
	}

	net.Unregister(owner.Addr)

	if _, _, err := caller.Get(ctx, key); err == nil {
		t.Fatalf("expected an error once the only replica is unreachable")
	} else if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestNewerPrefersHigherVersionThenNodeId(t *testing.T) {
	space := idspace.NewSpace(8)
	a := Entry{Version: 1, Owner: space.FromUint64(5)}
	b := Entry{Version: 2, Owner: space.FromUint64(1)}
	if !newer(a, b) {
		t.Fatalf("expected higher version to win regardless of NodeId")
	}

	c := Entry{Version: 1, Owner: space.FromUint64(5)}
	d := Entry{Version: 1, Owner: space.FromUint64(9)}
	if !newer(c, d) {
		t.Fatalf("expected tie-break to favor the higher NodeId")
	}
	if newer(d, c) {
		t.Fatalf("tie-break must be asymmetric")
	}
}
