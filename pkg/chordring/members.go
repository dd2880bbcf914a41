package chordring

import "context"

// RingMembers walks the ring from this node around its successor
// pointers until the walk returns to the start, returning every node
// encountered along the way. Used by higher layers (job dispatch,
// DHT scatter-gather) that need a live-membership snapshot without a
// separate membership service — the ring itself is the source of
// truth for "who is currently up", per SPEC_FULL.md §4.2's observation
// that gossip is only for bootstrap, not for ring consistency.
func (n *Node) RingMembers(ctx context.Context) ([]NodeRef, error) {
	start := n.Self()
	members := []NodeRef{start}
	current := start

	for i := 0; i < n.cfg.MaxLookupHops*4; i++ {
		var succ NodeRef
		var err error
		if current.ID.Equal(n.self.ID) {
			succ = n.Successor()
		} else {
			succ, err = n.remoteSuccessor(ctx, current.Addr)
			if err != nil {
				break // treat an unreachable hop as the end of what we can observe.
			}
		}
		if succ.ID.Equal(start.ID) {
			break
		}
		members = append(members, succ)
		current = succ
	}
	return members, nil
}

func (n *Node) remoteSuccessor(ctx context.Context, addr string) (NodeRef, error) {
	var reply NodeRef
	if err := n.call(ctx, addr, "GetSuccessorOf", &struct{}{}, &reply); err != nil {
		return NodeRef{}, err
	}
	return reply, nil
}
