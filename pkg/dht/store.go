package dht

import (
	"strings"
	"sync"

	"github.com/batheaded/map-reduce/pkg/idspace"
)

// DefaultShardCount matches SPEC_FULL.md §4.3's local storage layout:
// 32 independently-locked shards, so a hot key in one shard never
// blocks an unrelated key in another.
const DefaultShardCount = 32

type shard struct {
	mu   sync.RWMutex
	data map[string]Entry
}

// Store is the local, single-node slice of the DHT's key space: every
// key this node is responsible for (as primary or as a replica)
// lives here, sharded by id(key) for fine-grained locking per §5.
type Store struct {
	space  *idspace.Space
	shards []*shard
}

// NewStore creates an empty Store with DefaultShardCount shards.
func NewStore(space *idspace.Space) *Store {
	s := &Store{space: space, shards: make([]*shard, DefaultShardCount)}
	for i := range s.shards {
		s.shards[i] = &shard{data: make(map[string]Entry)}
	}
	return s
}

func (s *Store) shardFor(key []byte) *shard {
	id := s.space.ID(key)
	idx := int(id.Bytes()[len(id.Bytes())-1]) % len(s.shards)
	return s.shards[idx]
}

// ApplyLocal writes candidate into the local store if it is newer than
// whatever is currently stored for the same key, per the tie-break
// rule in entry.go. It returns true if the store changed.
func (s *Store) ApplyLocal(candidate Entry) bool {
	sh := s.shardFor(candidate.Key)
	k := string(candidate.Key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	current, ok := sh.data[k]
	if !ok || newer(current, candidate) {
		sh.data[k] = cloneEntry(candidate)
		return true
	}
	return false
}

// Get returns the locally-held entry for key, if any and not
// tombstoned.
func (s *Store) Get(key []byte) (Entry, bool) {
	sh := s.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	e, ok := sh.data[string(key)]
	if !ok || e.Deleted {
		return Entry{}, false
	}
	return cloneEntry(e), true
}

// GetRaw returns the locally-held entry including tombstones, used by
// replication and anti-entropy which must propagate deletes too.
func (s *Store) GetRaw(key []byte) (Entry, bool) {
	sh := s.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	e, ok := sh.data[string(key)]
	if !ok {
		return Entry{}, false
	}
	return cloneEntry(e), true
}

// LocalKeys returns every non-tombstoned local key whose string form
// has the given prefix, matching the "keys(prefix)" scan from
// SPEC_FULL.md §4.3 scoped to this node's own shard set only; ring-wide
// scatter-gather lives in pkg/dht's Replicator.Keys.
func (s *Store) LocalKeys(prefix string) [][]byte {
	var out [][]byte
	for _, sh := range s.shards {
		sh.mu.RLock()
		for k, e := range sh.data {
			if !e.Deleted && strings.HasPrefix(k, prefix) {
				out = append(out, append([]byte(nil), e.Key...))
			}
		}
		sh.mu.RUnlock()
	}
	return out
}

// LocalEntries returns a snapshot of every entry (including
// tombstones) this node holds, used to build the anti-entropy Merkle
// digest.
func (s *Store) LocalEntries() []Entry {
	var out []Entry
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, e := range sh.data {
			out = append(out, cloneEntry(e))
		}
		sh.mu.RUnlock()
	}
	return out
}
