package bitstream

import (
	"fmt"
)

// Pattern is a sync pattern of up to 64 bits, matched bit-for-bit.
type Pattern struct {
	Bits uint64
	Len  int
}

// Word returns a pattern for the low n bits of v.
func Word(v uint64, n int) Pattern {
	if n <= 0 || n > 64 {
		panic(fmt.Errorf("invalid pattern length: %v", n))
	}
	if n < 64 {
		v &= 1<<uint(n) - 1
	}
	return Pattern{Bits: v, Len: n}
}

// Ones returns a pattern of n consecutive 1-bits.
func Ones(n int) Pattern {
	return Word(^uint64(0), n)
}

func (p Pattern) mask() uint64 {
	if p.Len >= 64 {
		return ^uint64(0)
	}
	return 1<<uint(p.Len) - 1
}

func (p Pattern) String() string {
	return fmt.Sprintf("%0*b", p.Len, p.Bits)
}

// FindSync returns the offset of the first match of the pattern that
// starts at or after the start bit.
//
// Flux-derived bits have no byte alignment, so this slides a window as
// wide as the pattern along the stream one bit at a time.
func FindSync(b *Bitstream, start int, p Pattern) (int, bool) {
	off, _, ok := FindAny(b, start, p)
	return off, ok
}

// FindAny is like FindSync, but looks for several patterns at once and
// also returns the index of the one that matched. The match that ends
// first is returned; among those, the earliest start, then the first
// listed pattern, wins.
func FindAny(b *Bitstream, start int, ps ...Pattern) (int, int, bool) {
	if start < 0 {
		start = 0
	}
	width := 0
	for _, p := range ps {
		if p.Len <= 0 || p.Len > 64 {
			panic(fmt.Errorf("invalid pattern length: %v", p.Len))
		}
		if p.Len > width {
			width = p.Len
		}
	}
	if len(ps) == 0 {
		return 0, 0, false
	}

	// The window holds the most recent bits, newest in the lowest bit.
	// A pattern of length n matches ending at bit i when the low n bits
	// of the window equal it, i.e. it starts at i-n+1.
	var window uint64
	have := 0
	for i := start; i < b.n; i++ {
		window = window<<1 | uint64((b.data[i>>3]>>(7-uint(i&7)))&1)
		if have < width {
			have++
		}
		best, bestIdx := -1, -1
		for k, p := range ps {
			if have < p.Len || window&p.mask() != p.Bits {
				continue
			}
			s := i - p.Len + 1
			if best < 0 || s < best {
				best, bestIdx = s, k
			}
		}
		if best >= 0 {
			return best, bestIdx, true
		}
	}
	return 0, 0, false
}

// FindAll returns the offsets of all non-overlapping matches of the
// pattern, in order. It is mainly used to count sectors on a track.
func FindAll(b *Bitstream, p Pattern) []int {
	var offs []int
	pos := 0
	for {
		off, ok := FindSync(b, pos, p)
		if !ok {
			return offs
		}
		offs = append(offs, off)
		pos = off + p.Len
	}
}
