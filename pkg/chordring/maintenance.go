package chordring

import (
	"context"

	"github.com/batheaded/map-reduce/pkg/idspace"
	"github.com/batheaded/map-reduce/pkg/logging"
)

// Stabilize runs one stabilize pass immediately, outside the periodic
// maintenance loop. Exported for tests and for callers (e.g. the DHT
// layer's own tests) that need deterministic ring convergence without
// waiting on real tickers.
func (n *Node) Stabilize(ctx context.Context) { n.stabilize(ctx) }

// FixNextFingerOnce refreshes one finger table entry immediately,
// exported for the same reason as Stabilize.
func (n *Node) FixNextFingerOnce(ctx context.Context) { n.fixNextFinger()(ctx) }

// stabilize implements the periodic stabilize step from SPEC_FULL.md
// §4.2: ask the current successor who it thinks its predecessor is,
// adopt that node as our successor if it lies strictly between us and
// our current successor, then notify whoever ends up as our successor
// that we might be its predecessor, and refresh our successor list
// from theirs.
func (n *Node) stabilize(ctx context.Context) {
	succ := n.Successor()

	var x NodeRef
	knownX := false
	if succ.ID.Equal(n.self.ID) {
		// Degenerate case from the original Chord stabilize formula:
		// "successor.predecessor" collapses to our own predecessor
		// once we are our own successor, which is exactly how a
		// bootstrap node first acquires a real successor once some
		// other node's notify has told it who its predecessor is.
		x, knownX = n.Predecessor()
	} else if rx, known, err := n.getRemotePredecessor(ctx, succ.Addr); err == nil {
		x, knownX = rx, known
	} else {
		n.handleSuccessorFailure(succ)
		succ = n.Successor()
		if succ.ID.Equal(n.self.ID) {
			if x, knownX = n.Predecessor(); !knownX {
				return
			}
		}
	}

	if knownX && idspace.InOpenInterval(x.ID, n.self.ID, succ.ID) {
		n.mu.Lock()
		n.successors[0] = x
		n.mu.Unlock()
		succ = x
	}

	if succ.ID.Equal(n.self.ID) {
		return // still no one else known; nothing to notify or refresh against.
	}

	if err := n.notifyRemote(ctx, succ.Addr, n.self); err != nil {
		logging.Warnw("chordring: notify failed", "successor", succ.String(), "error", err)
	}

	list, err := n.getRemoteSuccessorList(ctx, succ.Addr)
	if err != nil {
		return
	}
	n.mu.Lock()
	merged := make([]NodeRef, 0, n.cfg.SuccessorListLen)
	merged = append(merged, succ)
	for _, s := range list {
		if len(merged) >= n.cfg.SuccessorListLen {
			break
		}
		if s.ID.Equal(n.self.ID) {
			continue
		}
		merged = append(merged, s)
	}
	n.successors = merged
	n.mu.Unlock()
}

// handleSuccessorFailure drops a dead successor and promotes the next
// live entry in the successor list, per SPEC_FULL.md §4.2's failure
// handling. If the list is exhausted, the node degrades to treating
// itself as its own successor until stabilize or a fresh join repairs
// the ring.
func (n *Node) handleSuccessorFailure(dead NodeRef) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.successors) > 0 && n.successors[0].ID.Equal(dead.ID) {
		n.successors = n.successors[1:]
	}

	if len(n.successors) == 0 {
		n.successors = []NodeRef{n.self}
		logging.Warnw("chordring: successor list exhausted, degraded to self", "self", n.self.String())
		return
	}
	logging.Warnw("chordring: promoted successor after failure",
		"self", n.self.String(), "dead", dead.String(), "promoted", n.successors[0].String())
}

// fixNextFinger returns a tick function that refreshes one finger
// table entry per call, cycling through all M entries round-robin
// rather than all at once, matching the low-overhead periodic refresh
// SPEC_FULL.md §9 describes (periodic maintenance as ordinary
// goroutines on a ticker, not a single do-everything pass).
func (n *Node) fixNextFinger() func(ctx context.Context) {
	return func(ctx context.Context) {
		bits := len(n.fingers)
		if bits == 0 {
			return
		}
		i := int(n.fingerCursor.Add(1) % int64(bits))
		target := n.self.ID.AddPow2(i)
		ref, err := n.Lookup(ctx, target)
		if err != nil {
			return
		}
		n.mu.Lock()
		n.fingers[i] = ref
		n.mu.Unlock()
	}
}

// checkPredecessor pings the current predecessor and clears it if
// unreachable, so a dead predecessor does not keep Notify from
// correcting it once a live node claims the slot.
func (n *Node) checkPredecessor(ctx context.Context) {
	pred, ok := n.Predecessor()
	if !ok || pred.ID.Equal(n.self.ID) {
		return
	}
	if err := n.ping(ctx, pred.Addr); err != nil {
		n.mu.Lock()
		if n.predecessor != nil && n.predecessor.ID.Equal(pred.ID) {
			n.predecessor = nil
		}
		n.mu.Unlock()
		logging.Warnw("chordring: predecessor unreachable, cleared", "predecessor", pred.String())
	}
}
