// Package dht implements the replicated key/value layer described in
// SPEC_FULL.md §4.3, built directly on top of a chordring.Node for
// ownership routing: put/get/delete/keys with a fixed replication
// factor, version-counter conflict resolution with NodeId tie-break,
// and Merkle-digest-based anti-entropy against same-replica-set peers.
package dht

import (
	"bytes"

	"github.com/batheaded/map-reduce/pkg/idspace"
)

// Entry is one stored value plus the bookkeeping needed to resolve
// concurrent writes deterministically across replicas.
type Entry struct {
	Key     []byte
	Value   []byte
	Version uint64
	Owner   idspace.ID // id of the node that minted this version
	Deleted bool       // tombstone; kept so replicas converge on deletes too
}

// newer reports whether candidate should replace current under the
// last-writer-wins-with-NodeId-tie-break rule from SPEC_FULL.md §4.3 /
// §9 Open Question (b): higher version wins outright; on a tied
// version, the entry minted by the numerically larger NodeId wins,
// giving every replica the same deterministic answer without
// coordination.
func newer(current, candidate Entry) bool {
	if candidate.Version != current.Version {
		return candidate.Version > current.Version
	}
	return idspace.Less(current.Owner, candidate.Owner)
}

func cloneEntry(e Entry) Entry {
	out := e
	out.Key = append([]byte(nil), e.Key...)
	out.Value = append([]byte(nil), e.Value...)
	return out
}

func keyEqual(a, b []byte) bool { return bytes.Equal(a, b) }
