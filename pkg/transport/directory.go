package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/memberlist"
)

// NodeMeta is the gossip payload carried alongside each directory
// entry (SPEC_FULL.md §3): enough for a freshly-booted node to pick a
// handful of candidate peers to attempt a Chord join against, without
// making gossip membership itself a substitute for ring membership.
type NodeMeta struct {
	Shard     string
	Replica   int
	RPCPort   int
	ChordAddr string
}

// Directory is the name-resolution façade spec.md §6 calls for
// (register/lookup/list), realized here over hashicorp/memberlist's
// gossip protocol purely for bootstrap discovery: once a node has
// joined the Chord ring, its position and routing are maintained
// entirely by stabilize/notify, never by gossip.
type Directory struct {
	mu   sync.RWMutex
	meta map[string]NodeMeta // node name -> last known metadata
	ml   *memberlist.Memberlist
}

// NewDirectory starts a memberlist agent bound to bindAddr:bindPort
// advertising as name, with meta attached to this node's own gossip
// broadcasts. seeds, if non-empty, are existing members' gossip
// addresses ("host:port") to contact on startup.
func NewDirectory(name, bindAddr string, bindPort int, meta NodeMeta, seeds []string) (*Directory, error) {
	d := &Directory{meta: make(map[string]NodeMeta)}

	cfg := memberlist.DefaultLocalConfig()
	cfg.Name = name
	cfg.BindAddr = bindAddr
	cfg.BindPort = bindPort
	cfg.AdvertiseAddr = bindAddr
	cfg.AdvertisePort = bindPort
	cfg.Delegate = &directoryDelegate{dir: d, self: name, meta: meta}
	cfg.Events = &directoryEvents{dir: d}

	ml, err := memberlist.Create(cfg)
	if err != nil {
		return nil, fmt.Errorf("transport: create memberlist agent: %w", err)
	}
	d.ml = ml
	d.mu.Lock()
	d.meta[name] = meta
	d.mu.Unlock()

	if len(seeds) > 0 {
		if _, err := ml.Join(seeds); err != nil {
			return nil, fmt.Errorf("transport: join gossip seeds %v: %w", seeds, err)
		}
	}
	return d, nil
}

// Register replaces this node's own entry in the local directory map,
// as seen by Lookup. It does not change the metadata gossiped to other
// members, which stays the meta NewDirectory was given.
func (d *Directory) Register(meta NodeMeta) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.meta[d.ml.LocalNode().Name] = meta
}

// Lookup returns the last known metadata for name and whether it is
// currently known to gossip.
func (d *Directory) Lookup(name string) (NodeMeta, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.meta[name]
	return m, ok
}

// List returns the gossip address (host:port) of every member currently
// known. These are memberlist addresses, not Chord RPC addresses; a
// member's RPC address is the ChordAddr in its NodeMeta.
func (d *Directory) List() []string {
	members := d.ml.Members()
	addrs := make([]string, 0, len(members))
	for _, m := range members {
		addrs = append(addrs, fmt.Sprintf("%s:%d", m.Addr, m.Port))
	}
	return addrs
}

// Leave gracefully announces this node's departure to the gossip
// cluster before shutdown.
func (d *Directory) Leave(timeout time.Duration) error {
	return d.ml.Leave(timeout)
}

// Shutdown tears down the local gossip agent.
func (d *Directory) Shutdown() error {
	return d.ml.Shutdown()
}

type directoryDelegate struct {
	dir  *Directory
	self string
	meta NodeMeta
}

func (d *directoryDelegate) NodeMeta(limit int) []byte {
	enc, err := encode(d.meta)
	if err != nil || len(enc) > limit {
		return nil
	}
	return enc
}

func (d *directoryDelegate) NotifyMsg([]byte)                           {}
func (d *directoryDelegate) GetBroadcasts(overhead, limit int) [][]byte { return nil }
func (d *directoryDelegate) LocalState(join bool) []byte                { return nil }
func (d *directoryDelegate) MergeRemoteState(buf []byte, join bool)     {}

type directoryEvents struct {
	dir *Directory
}

func (e *directoryEvents) NotifyJoin(n *memberlist.Node)   { e.dir.absorb(n) }
func (e *directoryEvents) NotifyUpdate(n *memberlist.Node) { e.dir.absorb(n) }
func (e *directoryEvents) NotifyLeave(n *memberlist.Node) {
	e.dir.mu.Lock()
	defer e.dir.mu.Unlock()
	delete(e.dir.meta, n.Name)
}

func (d *Directory) absorb(n *memberlist.Node) {
	var meta NodeMeta
	if len(n.Meta) > 0 {
		if err := decode(n.Meta, &meta); err != nil {
			return
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.meta[n.Name] = meta
}
