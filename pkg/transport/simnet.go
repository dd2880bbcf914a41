package transport

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Handler answers one already-encoded RPC call against locally-held
// node state: argsWire is the gob encoding of the caller's args value
// and the returned []byte is the gob encoding of the reply. Keeping
// the handler boundary in terms of raw bytes, rather than typed Go
// values, mirrors the single generic Call(method, payload) RPC this
// package's gRPC transport exposes in production, so a node's
// dispatch logic is identical under simulation and under real gRPC.
type Handler func(ctx context.Context, method string, argsWire []byte) ([]byte, error)

// Network is an in-process stand-in for the real gRPC transport,
// grounded on the channel-based simulated RPC network used throughout
// the reference corpus's MapReduce test harnesses (labrpc): every call
// still round-trips through gob encode/decode exactly as a real
// network call would, so bugs that only show up across a
// serialization boundary still surface under test, while letting a
// test deterministically inject per-link delay, drop, and partition.
type Network struct {
	mu          sync.Mutex
	endpoints   map[string]Handler
	reliable    bool
	longDelays  bool
	partitioned map[string]bool // addresses currently cut off from everyone
	linkDown    map[linkKey]bool
}

type linkKey struct{ from, to string }

// NewNetwork creates an empty simulated network. By default it is
// reliable: no drops, no injected delay beyond scheduling jitter.
func NewNetwork() *Network {
	return &Network{
		endpoints:   make(map[string]Handler),
		reliable:    true,
		partitioned: make(map[string]bool),
		linkDown:    make(map[linkKey]bool),
	}
}

// SetReliable toggles random packet loss and reordering delay across
// the whole network.
func (n *Network) SetReliable(reliable bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reliable = reliable
}

// SetLongDelays toggles an additional large random delay on every
// call, used to exercise REQUEST_TIMEOUT handling under test.
func (n *Network) SetLongDelays(on bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.longDelays = on
}

// Register installs addr's handler. Re-registering replaces it,
// modeling a node restarting at the same address.
func (n *Network) Register(addr string, h Handler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.endpoints[addr] = h
}

// Unregister removes addr's handler, modeling a node crashing.
func (n *Network) Unregister(addr string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.endpoints, addr)
}

// Partition isolates addr: every call into or out of it fails as
// ErrUnreachable until Heal is called.
func (n *Network) Partition(addr string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.partitioned[addr] = true
}

// Heal reverses Partition.
func (n *Network) Heal(addr string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.partitioned, addr)
}

// CutLink drops the directed link from -> to without affecting the
// reverse direction, for asymmetric-partition scenarios.
func (n *Network) CutLink(from, to string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.linkDown[linkKey{from, to}] = true
}

// RestoreLink reverses CutLink.
func (n *Network) RestoreLink(from, to string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.linkDown, linkKey{from, to})
}

// Dial returns a Conn that routes calls originating at "from" through
// this Network to dest.
func (n *Network) Dial(from, dest string) Conn {
	return &simConn{net: n, from: from, dest: dest}
}

// DialerFrom returns a Dialer that routes every Dial(addr) call as if
// it originated at from, letting a Node hold a single Dialer without
// knowing it is backed by a simulated network in tests.
func (n *Network) DialerFrom(from string) Dialer {
	return &networkDialer{net: n, from: from}
}

type networkDialer struct {
	net  *Network
	from string
}

func (d *networkDialer) Dial(addr string) (Conn, error) {
	return d.net.Dial(d.from, addr), nil
}

// simConn implements Conn against a shared Network.
type simConn struct {
	net  *Network
	from string
	dest string
}

func (c *simConn) Close() error { return nil }

func (c *simConn) Call(ctx context.Context, method string, args, reply any) error {
	ctx, cancel := WithDeadline(ctx)
	defer cancel()

	argsWire, err := encode(args)
	if err != nil {
		return fmt.Errorf("transport: encode args: %w", err)
	}

	result := make(chan error, 1)
	var replyWire []byte
	go func() {
		var callErr error
		replyWire, callErr = c.net.deliver(c.from, c.dest, method, argsWire)
		result <- callErr
	}()

	select {
	case err := <-result:
		if err != nil {
			return err
		}
		return decode(replyWire, reply)
	case <-ctx.Done():
		return ErrTimeout
	}
}

func (n *Network) deliver(from, dest, method string, argsWire []byte) ([]byte, error) {
	n.mu.Lock()
	if n.partitioned[from] || n.partitioned[dest] || n.linkDown[linkKey{from, dest}] {
		n.mu.Unlock()
		return nil, ErrUnreachable
	}
	h, ok := n.endpoints[dest]
	reliable := n.reliable
	longDelays := n.longDelays
	n.mu.Unlock()

	if !ok {
		return nil, ErrUnreachable
	}

	if !reliable {
		// Short random delay before sending, modeling scheduling jitter.
		time.Sleep(time.Duration(rand.Intn(27)) * time.Millisecond)
		if rand.Intn(1000) < 100 {
			// Simulate the request being dropped on the wire.
			return nil, ErrUnreachable
		}
	}
	if longDelays {
		time.Sleep(time.Duration(rand.Intn(2000)) * time.Millisecond)
	}

	replyWire, herr := h(context.Background(), method, argsWire)
	if herr != nil {
		return nil, herr
	}

	if !reliable && rand.Intn(1000) < 100 {
		// The reply itself is lost on the way back.
		return nil, ErrUnreachable
	}

	return replyWire, nil
}

// encode/decode round-trip values through gob to mimic the
// serialization boundary a real network call crosses, catching bugs
// that only appear once a value has actually left its origin process.
func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(wire []byte, out any) error {
	if out == nil || len(wire) == 0 {
		return nil
	}
	return gob.NewDecoder(bytes.NewReader(wire)).Decode(out)
}

// HandlerFunc adapts a typed dispatch function (decoded args in,
// decoded reply out) into a Handler that the Network can register,
// taking care of the gob (de)serialization on both sides. dispatch
// chooses the concrete type each method's args decode into.
func HandlerFunc(dispatch func(ctx context.Context, method string, decodeArgs func(out any) error) (any, error)) Handler {
	return func(ctx context.Context, method string, argsWire []byte) ([]byte, error) {
		reply, err := dispatch(ctx, method, func(out any) error {
			return decode(argsWire, out)
		})
		if err != nil {
			return nil, err
		}
		return encode(reply)
	}
}
