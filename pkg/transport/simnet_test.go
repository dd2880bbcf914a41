package transport

import (
	"context"
	"testing"
	"time"
)

type echoArgs struct{ N int }
type echoReply struct{ N int }

func newEchoRegistry() *Registry {
	reg := NewRegistry()
	reg.Handle("Echo", func() any { return new(echoArgs) }, func(ctx context.Context, args any) (any, error) {
		a := args.(*echoArgs)
		return &echoReply{N: a.N * 2}, nil
	})
	return reg
}

func TestSimnetDeliversCall(t *testing.T) {
	net := NewNetwork()
	net.Register("b", newEchoRegistry().Handler())

	conn := net.Dial("a", "b")
	var reply echoReply
	if err := conn.Call(context.Background(), "Echo", &echoArgs{N: 21}, &reply); err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if reply.N != 42 {
		t.Fatalf("expected 42, got %d", reply.N)
	}
}

func TestSimnetUnreachableWhenUnregistered(t *testing.T) {
	net := NewNetwork()
	conn := net.Dial("a", "ghost")
	var reply echoReply
	err := conn.Call(context.Background(), "Echo", &echoArgs{N: 1}, &reply)
	if err != ErrUnreachable {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
}

func TestSimnetPartitionCutsBothDirections(t *testing.T) {
	net := NewNetwork()
	net.Register("b", newEchoRegistry().Handler())
	net.Partition("b")

	conn := net.Dial("a", "b")
	var reply echoReply
	if err := conn.Call(context.Background(), "Echo", &echoArgs{N: 1}, &reply); err != ErrUnreachable {
		t.Fatalf("expected ErrUnreachable while partitioned, got %v", err)
	}

	net.Heal("b")
	if err := conn.Call(context.Background(), "Echo", &echoArgs{N: 1}, &reply); err != nil {
		t.Fatalf("expected call to succeed after heal, got %v", err)
	}
}

func TestSimnetLongDelayTriggersTimeout(t *testing.T) {
	net := NewNetwork()
	net.Register("b", newEchoRegistry().Handler())
	net.SetReliable(false)
	net.SetLongDelays(true)

	conn := net.Dial("a", "b")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	var reply echoReply
	err := conn.Call(ctx, "Echo", &echoArgs{N: 1}, &reply)
	if err != ErrTimeout {
		t.Fatalf("expected ErrTimeout under a short deadline with long delays enabled, got %v", err)
	}
}

func TestSimnetUnknownMethod(t *testing.T) {
	net := NewNetwork()
	net.Register("b", newEchoRegistry().Handler())
	conn := net.Dial("a", "b")
	var reply echoReply
	if err := conn.Call(context.Background(), "NoSuchMethod", &echoArgs{N: 1}, &reply); err == nil {
		t.Fatalf("expected error for unknown method")
	}
}
