package idspace

import "testing"

func TestID_Deterministic(t *testing.T) {
	s := NewSpace(160)
	a := s.ID([]byte("hello"))
	b := s.ID([]byte("hello"))
	if !a.Equal(b) {
		t.Fatalf("expected id(hello) to be deterministic")
	}

	c := s.ID([]byte("world"))
	if a.Equal(c) {
		t.Fatalf("expected different inputs to hash to different ids (with overwhelming probability)")
	}
}

func TestHalfOpenInterval_Wraps(t *testing.T) {
	s := NewSpace(8) // small space, easy to reason about: ring size 256
	a := s.FromUint64(250)
	b := s.FromUint64(5)

	cases := []struct {
		x    uint64
		want bool
	}{
		{250, false}, // x == a excluded
		{251, true},
		{255, true},
		{0, true},
		{5, true}, // x == b included
		{6, false},
		{100, false},
	}

	for _, tc := range cases {
		got := InHalfOpenInterval(s.FromUint64(tc.x), a, b)
		if got != tc.want {
			t.Errorf("InHalfOpenInterval(%d, 250, 5) = %v, want %v", tc.x, got, tc.want)
		}
	}
}

func TestOpenInterval_SingletonRing(t *testing.T) {
	s := NewSpace(160)
	a := s.ID([]byte("self"))
	// (a, a) with a == b should exclude only a itself, denoting "whole ring
	// minus a" per the open-interval semantics used by notify().
	if InOpenInterval(a, a, a) {
		t.Fatalf("expected a to not be strictly between itself and itself")
	}
	other := s.ID([]byte("other"))
	if !InOpenInterval(other, a, a) {
		t.Fatalf("expected any other id to be in (a, a) on a singleton ring")
	}
}

func TestDistance_WrapsAroundRing(t *testing.T) {
	s := NewSpace(8)
	a := s.FromUint64(250)
	b := s.FromUint64(5)
	d := Distance(a, b)
	if d.Int64() != 11 { // 256 - 250 + 5
		t.Fatalf("expected wrapped distance 11, got %s", d.String())
	}
}

func TestAddPow2(t *testing.T) {
	s := NewSpace(8)
	a := s.FromUint64(250)
	got := a.AddPow2(3) // 250 + 8 = 258 mod 256 = 2
	want := s.FromUint64(2)
	if !got.Equal(want) {
		t.Fatalf("expected wrapped finger target 2, got %s", got.String())
	}
}
