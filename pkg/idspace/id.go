// Package idspace implements the fixed-size circular identifier space
// that the Chord ring and the DHT layer built on top of it are keyed
// by: a cryptographic digest truncated to M bits, modular distance
// between ids, and the half-open ring interval used throughout the
// fabric's routing logic.
package idspace

import (
	"crypto/sha1"
	"fmt"
	"math/big"
)

// DefaultBits is the default identifier space width, M, in bits.
const DefaultBits = 160

// ID is a point on the M-bit circular identifier space.
type ID struct {
	bits int
	mod  *big.Int
	val  *big.Int
}

// Space fixes the bit width M of an identifier space and produces IDs
// within it. All IDs compared against each other must share a Space.
type Space struct {
	bits int
	mod  *big.Int
}

// NewSpace creates an identifier space of the given bit width. bits
// must be <= 160 (the output width of SHA-1); bits <= 0 selects
// DefaultBits.
func NewSpace(bits int) *Space {
	if bits <= 0 {
		bits = DefaultBits
	}
	if bits > 160 {
		bits = 160
	}
	mod := new(big.Int).Lsh(big.NewInt(1), uint(bits))
	return &Space{bits: bits, mod: mod}
}

// Bits reports M.
func (s *Space) Bits() int { return s.bits }

// ID computes id(b) = H(b) mod 2^M for an arbitrary byte string.
func (s *Space) ID(b []byte) ID {
	sum := sha1.Sum(b)
	v := new(big.Int).SetBytes(sum[:])
	v.Mod(v, s.mod)
	return ID{bits: s.bits, mod: s.mod, val: v}
}

// FromUint64 builds an ID directly from an integer value modulo 2^M,
// useful for finger-table targets (self + 2^i).
func (s *Space) FromUint64(v uint64) ID {
	n := new(big.Int).SetUint64(v)
	n.Mod(n, s.mod)
	return ID{bits: s.bits, mod: s.mod, val: n}
}

// FromBytes builds an ID from a raw big-endian encoding, used when
// decoding an ID received over the wire.
func (s *Space) FromBytes(raw []byte) ID {
	v := new(big.Int).SetBytes(raw)
	v.Mod(v, s.mod)
	return ID{bits: s.bits, mod: s.mod, val: v}
}

// Bytes returns the fixed-width big-endian encoding of the id.
func (id ID) Bytes() []byte {
	out := make([]byte, (id.bits+7)/8)
	b := id.val.Bytes()
	copy(out[len(out)-len(b):], b)
	return out
}

// String renders the id in hex, useful for logs.
func (id ID) String() string {
	return fmt.Sprintf("%0*x", (id.bits+3)/4, id.val)
}

// Equal reports whether two ids are the same point on the ring.
func (id ID) Equal(other ID) bool {
	return id.val.Cmp(other.val) == 0
}

// Add returns id + n (mod 2^M), used to compute finger targets.
func (id ID) Add(n uint64) ID {
	sum := new(big.Int).Add(id.val, new(big.Int).SetUint64(n))
	sum.Mod(sum, id.mod)
	return ID{bits: id.bits, mod: id.mod, val: sum}
}

// AddPow2 returns id + 2^i (mod 2^M), the i-th finger target.
func (id ID) AddPow2(i int) ID {
	delta := new(big.Int).Lsh(big.NewInt(1), uint(i))
	sum := new(big.Int).Add(id.val, delta)
	sum.Mod(sum, id.mod)
	return ID{bits: id.bits, mod: id.mod, val: sum}
}

// Distance computes d(a, b) = (b - a) mod 2^M, the clockwise distance
// from a to b on the ring.
func Distance(a, b ID) *big.Int {
	d := new(big.Int).Sub(b.val, a.val)
	d.Mod(d, a.mod)
	return d
}

// InOpenInterval reports whether x lies in the open ring interval
// (a, b), wrapping correctly when a >= b.
func InOpenInterval(x, a, b ID) bool {
	if a.Equal(b) {
		// The whole ring minus the single point a; true for every x != a.
		return !x.Equal(a)
	}
	dx := Distance(a, x)
	db := Distance(a, b)
	return dx.Sign() > 0 && dx.Cmp(db) < 0
}

// InHalfOpenInterval reports whether x lies in the half-open ring
// interval (a, b] = {x : 0 < d(a, x) <= d(a, b)}, wrapping correctly
// when a >= b.
func InHalfOpenInterval(x, a, b ID) bool {
	if a.Equal(b) {
		// (a, a] with a == b denotes the entire ring.
		return true
	}
	dx := Distance(a, x)
	db := Distance(a, b)
	return dx.Sign() > 0 && dx.Cmp(db) <= 0
}

// GobEncode implements gob.GobEncoder so an ID can ride across a peer
// RPC call without its caller needing to share a *Space: the encoded
// form carries its own bit width alongside the fixed-width value.
func (id ID) GobEncode() ([]byte, error) {
	out := make([]byte, 1+(id.bits+7)/8)
	out[0] = byte(id.bits)
	b := id.val.Bytes()
	copy(out[len(out)-len(b):], b)
	return out, nil
}

// GobDecode implements gob.GobDecoder, the inverse of GobEncode.
func (id *ID) GobDecode(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("idspace: empty gob payload for ID")
	}
	bits := int(data[0])
	mod := new(big.Int).Lsh(big.NewInt(1), uint(bits))
	v := new(big.Int).SetBytes(data[1:])
	v.Mod(v, mod)
	*id = ID{bits: bits, mod: mod, val: v}
	return nil
}

// Less orders two ids by their integer value; used only for stable
// sorting (e.g. NodeId tie-break on version conflicts), never for
// ring position, which must always go through Distance-based
// interval checks.
func Less(a, b ID) bool {
	return a.val.Cmp(b.val) < 0
}
