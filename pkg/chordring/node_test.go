package chordring

import (
	"context"
	"errors"
	"testing"

	"github.com/batheaded/map-reduce/pkg/idspace"
	"github.com/batheaded/map-reduce/pkg/transport"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SuccessorListLen = 2
	return cfg
}

// settle drives stabilize/fixFingers directly (instead of waiting on
// real tickers) so ring convergence in tests is deterministic and
// fast, matching how the reference corpus's own Chord test harness
// exercises maintenance synchronously rather than sleeping.
func settle(ctx context.Context, nodes ...*Node) {
	for round := 0; round < 3*len(nodes); round++ {
		for _, n := range nodes {
			n.stabilize(ctx)
			n.fixNextFinger()(ctx)
		}
	}
}

func wireNode(t *testing.T, net *transport.Network, space *idspace.Space, addr string, val uint64) *Node {
	t.Helper()
	ref := NodeRef{ID: space.FromUint64(val), Addr: addr}
	n := New(ref, space, testConfig(), net.DialerFrom(addr))
	reg := transport.NewRegistry()
	n.RegisterRPC(reg)
	net.Register(addr, reg.Handler())
	return n
}

func TestJoinRejectsDuplicateID(t *testing.T) {
	space := idspace.NewSpace(8)
	net := transport.NewNetwork()

	n0 := wireNode(t, net, space, "n0", 10)
	n0.Bootstrap()
	defer n0.Stop()

	dup := wireNode(t, net, space, "n1", 10) // same id value as n0.
	defer dup.Stop()

	err := dup.Join(context.Background(), n0.Self())
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("Join with colliding id: got %v, want ErrDuplicateID", err)
	}
}

func TestRingFindSuccessorThreeNodes(t *testing.T) {
	space := idspace.NewSpace(8)
	net := transport.NewNetwork()

	n0 := wireNode(t, net, space, "n0", 10)
	n1 := wireNode(t, net, space, "n1", 100)
	n2 := wireNode(t, net, space, "n2", 200)

	ctx := context.Background()

	if err := n1.Join(ctxNoMaintenance(), n0.self); err != nil {
		t.Fatalf("n1 join: %v", err)
	}
	n1.Stop() // undo the maintenance goroutines Join started; we drive them manually.
	if err := n2.Join(ctxNoMaintenance(), n0.self); err != nil {
		t.Fatalf("n2 join: %v", err)
	}
	n2.Stop()

	settle(ctx, n0, n1, n2)

	cases := []struct {
		key  uint64
		want string
	}{
		{5, "n0"},
		{50, "n1"},
		{150, "n2"},
		{250, "n0"}, // wraps
	}
	for _, tc := range cases {
		got, err := n0.Lookup(ctx, space.FromUint64(tc.key))
		if err != nil {
			t.Fatalf("lookup(%d) failed: %v", tc.key, err)
		}
		if got.Addr != tc.want {
			t.Errorf("lookup(%d) = %s, want %s", tc.key, got.Addr, tc.want)
		}
	}
}

func TestSuccessorFailurePromotesNextEntry(t *testing.T) {
	space := idspace.NewSpace(8)
	net := transport.NewNetwork()

	n0 := wireNode(t, net, space, "n0", 10)
	n1 := wireNode(t, net, space, "n1", 100)
	n2 := wireNode(t, net, space, "n2", 200)

	ctx := context.Background()
	if err := n1.Join(ctxNoMaintenance(), n0.self); err != nil {
		t.Fatalf("n1 join: %v", err)
	}
	n1.Stop()
	if err := n2.Join(ctxNoMaintenance(), n0.self); err != nil {
		t.Fatalf("n2 join: %v", err)
	}
	n2.Stop()
	settle(ctx, n0, n1, n2)

	if got := n0.Successor().Addr; got != "n1" {
		t.Fatalf("expected n0's successor to be n1 before failure, got %s", got)
	}

	net.Unregister("n1")
	n0.handleSuccessorFailure(n0.Successor())

	if got := n0.Successor().Addr; got != "n2" {
		t.Fatalf("expected n0 to promote n2 after n1 failure, got %s", got)
	}
}

// ctxNoMaintenance returns a background context; Join always starts
// maintenance goroutines as a side effect in production, so tests that
// want to drive stabilize/fixFingers manually call Stop() immediately
// after Join to halt them.
func ctxNoMaintenance() context.Context {
	return context.Background()
}
