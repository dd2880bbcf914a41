package chordring

import (
	"context"

	"github.com/batheaded/map-reduce/pkg/idspace"
	"github.com/batheaded/map-reduce/pkg/transport"
)

// RegisterRPC installs this node's peer RPC surface (spec.md §6) into
// reg, so it can be served either by the production gRPC transport or
// by an in-process simulated network under test.
func (n *Node) RegisterRPC(reg *transport.Registry) {
	reg.Handle("FindSuccessor", func() any { return new(idspace.ID) }, func(ctx context.Context, args any) (any, error) {
		id := args.(*idspace.ID)
		reply, err := n.HandleFindSuccessor(ctx, *id)
		return &reply, err
	})

	reg.Handle("GetPredecessor", func() any { return new(struct{}) }, func(ctx context.Context, _ any) (any, error) {
		reply, err := n.HandleGetPredecessor(ctx)
		return &reply, err
	})

	reg.Handle("GetSuccessorList", func() any { return new(struct{}) }, func(ctx context.Context, _ any) (any, error) {
		return n.HandleGetSuccessorList(ctx)
	})

	reg.Handle("Notify", func() any { return new(NodeRef) }, func(ctx context.Context, args any) (any, error) {
		candidate := args.(*NodeRef)
		reply, err := n.HandleNotify(ctx, *candidate)
		return &reply, err
	})

	reg.Handle("Ping", func() any { return new(struct{}) }, func(ctx context.Context, _ any) (any, error) {
		reply, err := n.HandlePing(ctx)
		return &reply, err
	})

	reg.Handle("GetSuccessorOf", func() any { return new(struct{}) }, func(ctx context.Context, _ any) (any, error) {
		succ := n.Successor()
		return &succ, nil
	})
}
