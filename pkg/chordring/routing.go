package chordring

import (
	"context"
	"errors"
	"fmt"

	"github.com/batheaded/map-reduce/pkg/idspace"
)

// ErrLookupExhausted is returned by Lookup when it exceeds
// Config.MaxLookupHops without converging, which only happens if the
// ring is badly inconsistent (e.g. a routing loop from a stale finger
// table that stabilize has not yet corrected).
var ErrLookupExhausted = errors.New("chordring: lookup exceeded max hops")

// findSuccessorReply is the wire shape of the FindSuccessor RPC,
// encoding both possible outcomes of one hop: either the final answer
// (Found) or the next node to re-issue the call against, per the
// iterative resolution of Open Question 9a recorded in SPEC_FULL.md.
type findSuccessorReply struct {
	Found  bool
	Result NodeRef
	Next   NodeRef
}

// Lookup resolves id to its owning node, starting the iterative
// search at this node itself.
func (n *Node) Lookup(ctx context.Context, id idspace.ID) (NodeRef, error) {
	return n.lookupVia(ctx, n.self, id)
}

// lookupVia runs the iterative findSuccessor search starting at start,
// which may be a remote introducer (used by Join) or this node itself.
func (n *Node) lookupVia(ctx context.Context, start NodeRef, id idspace.ID) (NodeRef, error) {
	current := start
	for hop := 0; hop < n.cfg.MaxLookupHops; hop++ {
		reply, err := n.findSuccessorHop(ctx, current, id)
		if err != nil {
			return NodeRef{}, fmt.Errorf("chordring: hop %d via %s: %w", hop, current, err)
		}
		if reply.Found {
			return reply.Result, nil
		}
		current = reply.Next
	}
	return NodeRef{}, ErrLookupExhausted
}

// findSuccessorHop evaluates one hop of the search, either locally
// (if current is this node) or via RPC.
func (n *Node) findSuccessorHop(ctx context.Context, current NodeRef, id idspace.ID) (findSuccessorReply, error) {
	if current.ID.Equal(n.self.ID) {
		return n.findSuccessorLocal(id), nil
	}
	var reply findSuccessorReply
	if err := n.call(ctx, current.Addr, "FindSuccessor", &id, &reply); err != nil {
		return findSuccessorReply{}, err
	}
	return reply, nil
}

// findSuccessorLocal answers one hop using only this node's own
// successor and finger table, never blocking on a peer call.
func (n *Node) findSuccessorLocal(id idspace.ID) findSuccessorReply {
	n.mu.RLock()
	defer n.mu.RUnlock()

	succ := n.successors[0]
	if idspace.InHalfOpenInterval(id, n.self.ID, succ.ID) {
		return findSuccessorReply{Found: true, Result: succ}
	}
	return findSuccessorReply{Found: false, Next: n.closestPrecedingNodeLocked(id)}
}

// closestPrecedingNodeLocked scans the finger table from the
// farthest-reaching entry down to the first that strictly precedes id,
// falling back through the successor list and finally self.
func (n *Node) closestPrecedingNodeLocked(id idspace.ID) NodeRef {
	for i := len(n.fingers) - 1; i >= 0; i-- {
		f := n.fingers[i]
		if f.Addr == "" {
			continue
		}
		if idspace.InOpenInterval(f.ID, n.self.ID, id) {
			return f
		}
	}
	for _, s := range n.successors {
		if idspace.InOpenInterval(s.ID, n.self.ID, id) {
			return s
		}
	}
	return n.self
}

// HandleFindSuccessor answers the FindSuccessor RPC for a remote
// caller. Registered against a transport.Registry in rpc.go.
func (n *Node) HandleFindSuccessor(ctx context.Context, id idspace.ID) (findSuccessorReply, error) {
	return n.findSuccessorLocal(id), nil
}

// getPredecessorReply is the wire shape of the GetPredecessor RPC.
type getPredecessorReply struct {
	Known bool
	Pred  NodeRef
}

// HandleGetPredecessor answers the GetPredecessor RPC.
func (n *Node) HandleGetPredecessor(ctx context.Context) (getPredecessorReply, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.predecessor == nil {
		return getPredecessorReply{}, nil
	}
	return getPredecessorReply{Known: true, Pred: *n.predecessor}, nil
}

// getRemotePredecessor calls GetPredecessor against addr's node.
func (n *Node) getRemotePredecessor(ctx context.Context, addr string) (NodeRef, bool, error) {
	var reply getPredecessorReply
	if err := n.call(ctx, addr, "GetPredecessor", &struct{}{}, &reply); err != nil {
		return NodeRef{}, false, err
	}
	return reply.Pred, reply.Known, nil
}

// HandleGetSuccessorList answers the GetSuccessorList RPC.
func (n *Node) HandleGetSuccessorList(ctx context.Context) ([]NodeRef, error) {
	return n.SuccessorList(), nil
}

func (n *Node) getRemoteSuccessorList(ctx context.Context, addr string) ([]NodeRef, error) {
	var reply []NodeRef
	if err := n.call(ctx, addr, "GetSuccessorList", &struct{}{}, &reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// Notify tells this node that candidate believes it might be this
// node's predecessor, applying the standard Chord acceptance rule: the
// candidate is adopted if no predecessor is known yet, or candidate
// lies strictly between the current predecessor and self.
func (n *Node) Notify(candidate NodeRef) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.predecessor == nil || idspace.InOpenInterval(candidate.ID, n.predecessor.ID, n.self.ID) {
		n.predecessor = &candidate
	}
}

// HandleNotify answers the Notify RPC.
func (n *Node) HandleNotify(ctx context.Context, candidate NodeRef) (struct{}, error) {
	n.Notify(candidate)
	return struct{}{}, nil
}

func (n *Node) notifyRemote(ctx context.Context, addr string, candidate NodeRef) error {
	var reply struct{}
	return n.call(ctx, addr, "Notify", &candidate, &reply)
}

// HandlePing answers the Ping RPC: liveness only, no payload.
func (n *Node) HandlePing(ctx context.Context) (struct{}, error) {
	return struct{}{}, nil
}

func (n *Node) ping(ctx context.Context, addr string) error {
	var reply struct{}
	return n.call(ctx, addr, "Ping", &struct{}{}, &reply)
}
