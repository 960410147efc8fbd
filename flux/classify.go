package flux

import (
	"fmt"

	"github.com/edorfaus/flux-recover/bitstream"
)

// Category is the width of a flux interval, in whole bit cells.
type Category uint8

const (
	// Noise is any interval too short to be a bit cell. It is dropped.
	Noise Category = iota
	OneCell
	TwoCell
	ThreeCell
	// Long is any interval of about four cells or more.
	Long
)

// Bits returns the number of bits the category contributes: the
// interval's cells, all 0 except the last, which is the transition.
func (c Category) Bits() int {
	return int(c)
}

// Valid returns true if the category contributes any bits.
func (c Category) Valid() bool {
	return c != Noise && c <= Long
}

func (c Category) String() string {
	const categories = "N123L"
	if int(c) >= len(categories) {
		return fmt.Sprintf("[bad Category=%d]", int(c))
	}
	return categories[c : c+1]
}

func b2i(b bool) Category {
	if b {
		return 1
	}
	return 0
}

// Classify returns the category of an interval, for the given period.
//
// The thresholds are at 3/4, 5/4, 9/4 and 13/4 of the period, and the
// category is the number of them the interval reaches. Comparing t*4
// against p*k avoids the precision loss of dividing, and keeps the
// result the same when both values are scaled by the same factor.
func Classify(delta Interval, p Period) Category {
	if p == 0 {
		panic(fmt.Errorf("invalid period: %v", p))
	}
	t, w := uint64(delta)*4, uint64(p)
	return b2i(t >= w*3) + b2i(t >= w*5) + b2i(t >= w*9) + b2i(t >= w*13)
}

// ToBits converts flux intervals into a bitstream, using the given
// period for the whole track.
func ToBits(intervals []Interval, p Period) *bitstream.Bitstream {
	var w bitstream.Builder
	w.Grow(len(intervals) * 3)
	for _, iv := range intervals {
		appendCategory(&w, Classify(iv, p), -1)
	}
	return w.Bitstream()
}

// ToBitsTraced is like ToBits, but also records which interval each
// bit came from. This costs memory, and is only meant for diagnostics.
func ToBitsTraced(intervals []Interval, p Period) *bitstream.Bitstream {
	var w bitstream.Builder
	w.Grow(len(intervals) * 3)
	for i, iv := range intervals {
		appendCategory(&w, Classify(iv, p), i)
	}
	return w.Bitstream()
}

func appendCategory(w *bitstream.Builder, c Category, src int) {
	if !c.Valid() {
		return
	}
	for i := c.Bits() - 1; i >= 0; i-- {
		bit := uint8(0)
		if i == 0 {
			bit = 1
		}
		if src >= 0 {
			w.AppendTraced(bit, src)
		} else {
			w.AppendBit(bit)
		}
	}
}

// FromBits converts a bitstream into flux intervals, placing a
// transition at each 1-bit. Zero bits after the last 1 are dropped.
func FromBits(b *bitstream.Bitstream, p Period) []Interval {
	if p == 0 {
		panic(fmt.Errorf("invalid period: %v", p))
	}
	var out []Interval
	cells := 0
	for i := 0; i < b.Len(); i++ {
		cells++
		if b.Bit(i) == 1 {
			out = append(out, Interval(cells)*Interval(p))
			cells = 0
		}
	}
	return out
}

// Histogram counts the intervals in each category.
type Histogram [Long + 1]int

// Count classifies all the intervals and returns the histogram.
func Count(intervals []Interval, p Period) Histogram {
	var h Histogram
	for _, iv := range intervals {
		h[Classify(iv, p)]++
	}
	return h
}

// Total returns the number of intervals counted.
func (h Histogram) Total() int {
	n := 0
	for _, v := range h {
		n += v
	}
	return n
}
