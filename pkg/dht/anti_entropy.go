package dht

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/batheaded/map-reduce/pkg/logging"
	"github.com/batheaded/map-reduce/pkg/merkle"
	"github.com/batheaded/map-reduce/pkg/transport"
)

// BucketCount is the fixed leaf count of the per-node Merkle digest
// used for anti-entropy, per SPEC_FULL.md §3/§4.3.
const BucketCount = 1024

// AntiEntropy periodically reconciles this node's replica with each
// peer in its current successor list, pulling in whatever diverged
// buckets a Merkle-digest comparison surfaces. Grounded on the
// teacher's bucket-Merkle reconciliation design (anti_entropy_service.go),
// generalized from file chunks to DHT entries: this repository's
// version skips the tree's internal drill-down RPCs in favor of one
// round trip that exchanges the full per-bucket digest list, since
// 1024 leaf hashes comfortably fit in a single gob payload and the
// drill-down's only purpose — avoiding that round trip's size — does
// not apply at this scale.
type AntiEntropy struct {
	repl     *Replicator
	tree     *merkle.MerkleTree
	interval time.Duration

	stopCh chan struct{}
}

// NewAntiEntropy builds an AntiEntropy loop over repl, ticking every
// interval (defaulting to 30s per SPEC_FULL.md §4.3 if interval <= 0).
func NewAntiEntropy(repl *Replicator, interval time.Duration) *AntiEntropy {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	tree, err := merkle.NewMerkleTree(BucketCount)
	if err != nil {
		// BucketCount is a compile-time constant power of two; this
		// can only fail if that invariant is broken.
		panic(err)
	}
	return &AntiEntropy{repl: repl, tree: tree, interval: interval, stopCh: make(chan struct{})}
}

// bucketFor maps a key to its Merkle leaf index.
func (a *AntiEntropy) bucketFor(key []byte) int {
	id := a.repl.space.ID(key)
	b := id.Bytes()
	// Use the low bits of the id as the bucket index; BucketCount is a
	// power of two so a modulus is exact regardless of how many low
	// bytes are available.
	tail := b
	if len(tail) > 2 {
		tail = tail[len(tail)-2:]
	}
	idx := 0
	for _, by := range tail {
		idx = (idx << 8) | int(by)
	}
	return idx % BucketCount
}

func entryDigest(e Entry) string {
	h := sha256.New()
	h.Write(e.Key)
	h.Write(e.Value)
	var v [8]byte
	for i := range v {
		v[i] = byte(e.Version >> (8 * i))
	}
	h.Write(v[:])
	if e.Deleted {
		h.Write([]byte{1})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Rebuild recomputes every bucket from the current local store
// contents. Called on a timer tick before comparing against peers, and
// whenever the caller wants an up-to-date digest.
func (a *AntiEntropy) Rebuild() {
	buckets := make(map[int]string, BucketCount)
	for _, e := range a.repl.store.LocalEntries() {
		idx := a.bucketFor(e.Key)
		// Chain digests within a bucket by simple concatenation-hash so
		// multiple keys per bucket still converge deterministically.
		h := sha256.New()
		h.Write([]byte(buckets[idx]))
		h.Write([]byte(entryDigest(e)))
		buckets[idx] = hex.EncodeToString(h.Sum(nil))
	}
	for idx, digest := range buckets {
		_ = a.tree.UpdateBucket(idx, digest)
	}
}

// Digest returns the full per-bucket hash list, the wire payload peers
// exchange to find diverging buckets in one round trip.
func (a *AntiEntropy) Digest() []string {
	out := make([]string, BucketCount)
	for i := range out {
		h, _ := a.tree.GetNode(a.tree.NumLeaves() - 1 + i)
		out[i] = h
	}
	return out
}

// Root returns the current Merkle root, a cheap equality check before
// paying for the full digest exchange.
func (a *AntiEntropy) Root() string { return a.tree.GetRoot() }

// ReconcileOnce runs one anti-entropy pass against peer: compare
// roots, and if they differ, pull that peer's full digest, diff
// bucket-by-bucket, and merge in whatever entries the peer holds for
// each diverging bucket.
func (a *AntiEntropy) ReconcileOnce(ctx context.Context, peerAddr string) error {
	a.Rebuild()

	var peerRoot string
	if err := a.repl.node.Call(ctx, peerAddr, "AntiEntropyRoot", &struct{}{}, &peerRoot); err != nil {
		return err
	}
	if peerRoot == a.Root() {
		return nil
	}

	var peerDigest []string
	if err := a.repl.node.Call(ctx, peerAddr, "AntiEntropyDigest", &struct{}{}, &peerDigest); err != nil {
		return err
	}
	mine := a.Digest()

	diverged := make([]int, 0)
	for i := range mine {
		if i >= len(peerDigest) || mine[i] != peerDigest[i] {
			diverged = append(diverged, i)
		}
	}
	if len(diverged) == 0 {
		return nil
	}

	var peerEntries []Entry
	if err := a.repl.node.Call(ctx, peerAddr, "AntiEntropyBuckets", &diverged, &peerEntries); err != nil {
		return err
	}
	for _, e := range peerEntries {
		a.repl.store.ApplyLocal(e)
	}
	a.Rebuild()
	return nil
}

// Run starts the periodic reconciliation loop, comparing against every
// node in the current successor list each tick (the nodes this node
// shares a replica set with, per SPEC_FULL.md §4.3).
func (a *AntiEntropy) Run() {
	t := time.NewTicker(a.interval)
	defer t.Stop()
	for {
		select {
		case <-a.stopCh:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), a.interval)
			for _, peer := range a.repl.node.SuccessorList() {
				if peer.ID.Equal(a.repl.node.Self().ID) {
					continue
				}
				if err := a.ReconcileOnce(ctx, peer.Addr); err != nil {
					logging.Warnw("dht: anti-entropy reconcile failed", "peer", peer.String(), "error", err)
				}
			}
			cancel()
		}
	}
}

// Stop halts the periodic loop.
func (a *AntiEntropy) Stop() { close(a.stopCh) }

// RegisterRPC installs the anti-entropy peer surface into reg.
func (a *AntiEntropy) RegisterRPC(reg *transport.Registry) {
	reg.Handle("AntiEntropyRoot", func() any { return new(struct{}) }, func(ctx context.Context, _ any) (any, error) {
		a.Rebuild()
		root := a.Root()
		return &root, nil
	})
	reg.Handle("AntiEntropyDigest", func() any { return new(struct{}) }, func(ctx context.Context, _ any) (any, error) {
		return a.Digest(), nil
	})
	reg.Handle("AntiEntropyBuckets", func() any { return new([]int) }, func(ctx context.Context, args any) (any, error) {
		buckets := args.(*[]int)
		want := make(map[int]bool, len(*buckets))
		for _, b := range *buckets {
			want[b] = true
		}
		var out []Entry
		for _, e := range a.repl.store.LocalEntries() {
			if want[a.bucketFor(e.Key)] {
				out = append(out, e)
			}
		}
		return out, nil
	})
}
