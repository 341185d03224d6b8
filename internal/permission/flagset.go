package permission

import (
	"fmt"
	"math/bits"
)

// FlagSet is a 128-bit set of permission types stored as two words: Lo holds bits 0-63
// (persisted as flags1) and Hi holds bits 64-127 (flags2).
//
// The zero value grants nothing. Every store miss returns it, which is what makes an
// unrecorded scope resolve to deny.
type FlagSet struct {
	Lo uint64
	Hi uint64
}

// Empty is the default-deny flag set.
var Empty = FlagSet{}

// Of builds a FlagSet holding the given types.
func Of(types ...Type) FlagSet {
	var f FlagSet
	for _, t := range types {
		f.Set(t)
	}
	return f
}

// FromWords rebuilds a FlagSet from its persisted words.
func FromWords(lo, hi uint64) FlagSet { return FlagSet{Lo: lo, Hi: hi} }

// Words returns the persisted representation.
func (f FlagSet) Words() (lo, hi uint64) { return f.Lo, f.Hi }

func mustBit(t Type) uint {
	if !t.Valid() {
		panic(fmt.Sprintf("permission: bit for undefined %s", t))
	}
	return uint(t)
}

// Set adds t to the set.
func (f *FlagSet) Set(t Type) {
	bit := mustBit(t)
	if bit < 64 {
		f.Lo |= 1 << bit
		return
	}
	f.Hi |= 1 << (bit - 64)
}

// Clear removes t from the set.
func (f *FlagSet) Clear(t Type) {
	bit := mustBit(t)
	if bit < 64 {
		f.Lo &^= 1 << bit
		return
	}
	f.Hi &^= 1 << (bit - 64)
}

// Has reports whether t is in the set.
func (f FlagSet) Has(t Type) bool {
	bit := mustBit(t)
	if bit < 64 {
		return f.Lo&(1<<bit) != 0
	}
	return f.Hi&(1<<(bit-64)) != 0
}

// Union returns f ∪ other.
func (f FlagSet) Union(other FlagSet) FlagSet {
	return FlagSet{Lo: f.Lo | other.Lo, Hi: f.Hi | other.Hi}
}

// Without returns f with every bit of other cleared.
func (f FlagSet) Without(other FlagSet) FlagSet {
	return FlagSet{Lo: f.Lo &^ other.Lo, Hi: f.Hi &^ other.Hi}
}

// Contains reports whether every bit of other is also in f.
func (f FlagSet) Contains(other FlagSet) bool {
	return f.Lo&other.Lo == other.Lo && f.Hi&other.Hi == other.Hi
}

// IsEmpty reports whether no bit is set.
func (f FlagSet) IsEmpty() bool { return f.Lo == 0 && f.Hi == 0 }

// Len returns the number of set bits, including bits with no defined type.
func (f FlagSet) Len() int { return bits.OnesCount64(f.Lo) + bits.OnesCount64(f.Hi) }

// Types decodes the set into defined types in bit order. Bits written by a newer build
// that this build has no name for are skipped.
func (f FlagSet) Types() []Type {
	out := make([]Type, 0, f.Len())
	for word, w := range [2]uint64{f.Lo, f.Hi} {
		for w != 0 {
			bit := bits.TrailingZeros64(w)
			w &^= 1 << uint(bit)
			t := word*64 + bit
			if t < int(typeCount) {
				out = append(out, Type(t))
			}
		}
	}
	return out
}

func (f FlagSet) String() string {
	return fmt.Sprint(Names(f.Types()))
}
