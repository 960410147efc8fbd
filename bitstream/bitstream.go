// Package bitstream holds decoded track bits, and finds sync patterns
// in them at any bit alignment.
package bitstream

import (
	"fmt"
	"strings"
)

// Bitstream is an ordered sequence of bits, stored MSB-first. It is
// read-only once built; use a Builder to create one.
type Bitstream struct {
	data []byte
	n    int

	// src maps each bit back to the flux interval that produced it.
	// It is nil unless the builder was asked to trace sources.
	src []int32
}

// FromBytes wraps already packed MSB-first bits, such as a raw track
// buffer supplied by a file-format reader. The data is copied.
func FromBytes(data []byte, nbits int) *Bitstream {
	if nbits < 0 || nbits > len(data)*8 {
		panic(fmt.Errorf("bad bit count %v for %v bytes", nbits, len(data)))
	}
	b := &Bitstream{
		data: make([]byte, (nbits+7)/8),
		n:    nbits,
	}
	copy(b.data, data)
	// Clear any bits past the end, so Bytes() is canonical.
	if r := nbits % 8; r != 0 {
		b.data[len(b.data)-1] &= byte(0xFF << (8 - r))
	}
	return b
}

// Len returns the number of bits.
func (b *Bitstream) Len() int {
	return b.n
}

// Bit returns the bit at index i, as 0 or 1.
func (b *Bitstream) Bit(i int) uint8 {
	if i < 0 || i >= b.n {
		panic(fmt.Errorf("bit index out of range [%v] with length %v", i, b.n))
	}
	return (b.data[i>>3] >> (7 - uint(i&7))) & 1
}

// Word returns n bits (at most 64) starting at index i, with the first
// bit as the most significant. It returns false if they don't all fit.
func (b *Bitstream) Word(i, n int) (uint64, bool) {
	if n < 0 || n > 64 || i < 0 || i+n > b.n {
		return 0, false
	}
	var v uint64
	for j := i; j < i+n; j++ {
		v = v<<1 | uint64((b.data[j>>3]>>(7-uint(j&7)))&1)
	}
	return v, true
}

// Byte returns the 8 bits starting at index i, which need not be byte
// aligned.
func (b *Bitstream) Byte(i int) (byte, bool) {
	v, ok := b.Word(i, 8)
	return byte(v), ok
}

// Slice returns the bits in [from, to) as a new Bitstream, including the
// source mapping if there is one.
func (b *Bitstream) Slice(from, to int) *Bitstream {
	if from < 0 || to < from || to > b.n {
		panic(fmt.Errorf("slice bounds out of range [%v:%v] with length %v",
			from, to, b.n))
	}
	var w Builder
	w.Grow(to - from)
	for i := from; i < to; i++ {
		if b.src != nil {
			w.AppendTraced(b.Bit(i), int(b.src[i]))
		} else {
			w.AppendBit(b.Bit(i))
		}
	}
	return w.Bitstream()
}

// Source returns the index of the flux interval that produced bit i, if
// that was recorded.
func (b *Bitstream) Source(i int) (int, bool) {
	if b.src == nil || i < 0 || i >= b.n {
		return 0, false
	}
	return int(b.src[i]), true
}

// Traced reports whether the stream carries a source mapping.
func (b *Bitstream) Traced() bool {
	return b.src != nil
}

// Bytes returns a copy of the packed bits. A partial last byte is
// padded with zero bits.
func (b *Bitstream) Bytes() []byte {
	return append([]byte(nil), b.data...)
}

// String returns the bits as a string of 0s and 1s.
func (b *Bitstream) String() string {
	var sb strings.Builder
	sb.Grow(b.n)
	for i := 0; i < b.n; i++ {
		sb.WriteByte('0' + b.Bit(i))
	}
	return sb.String()
}

// Builder accumulates bits for a new Bitstream.
// The zero value is ready to use.
type Builder struct {
	data   []byte
	n      int
	src    []int32
	traced bool
}

// Grow makes room for at least n more bits.
func (w *Builder) Grow(n int) {
	need := (w.n + n + 7) / 8
	if need > cap(w.data) {
		d := make([]byte, len(w.data), need)
		copy(d, w.data)
		w.data = d
	}
}

// Len returns the number of bits appended so far.
func (w *Builder) Len() int {
	return w.n
}

// Last returns the most recently appended bit, or 0 if there is none.
// Clocked encodings use it as the previous data bit.
func (w *Builder) Last() uint8 {
	if w.n == 0 {
		return 0
	}
	i := w.n - 1
	return (w.data[i>>3] >> (7 - uint(i&7))) & 1
}

// AppendBit appends a single bit; any non-zero value is a 1.
func (w *Builder) AppendBit(bit uint8) {
	if w.traced {
		panic("untraced append to a traced builder")
	}
	w.appendBit(bit)
}

// AppendTraced appends a bit along with the index of the flux interval
// it came from. A builder must be either fully traced or not at all.
func (w *Builder) AppendTraced(bit uint8, src int) {
	if w.n != 0 && !w.traced {
		panic("traced append to an untraced builder")
	}
	w.traced = true
	w.appendBit(bit)
	w.src = append(w.src, int32(src))
}

func (w *Builder) appendBit(bit uint8) {
	if w.n&7 == 0 {
		w.data = append(w.data, 0)
	}
	if bit != 0 {
		w.data[w.n>>3] |= 0x80 >> uint(w.n&7)
	}
	w.n++
}

// AppendBits appends the low n bits of v, most significant first.
func (w *Builder) AppendBits(v uint64, n int) {
	if n < 0 || n > 64 {
		panic(fmt.Errorf("invalid bit count: %v", n))
	}
	for i := n - 1; i >= 0; i-- {
		w.AppendBit(uint8(v>>uint(i)) & 1)
	}
}

// AppendBytes appends whole bytes, most significant bit first.
func (w *Builder) AppendBytes(data ...byte) {
	for _, v := range data {
		w.AppendBits(uint64(v), 8)
	}
}

// Bitstream returns the bits appended so far. The builder may continue
// to be used; later appends do not affect the returned stream.
func (w *Builder) Bitstream() *Bitstream {
	b := &Bitstream{
		data: append([]byte(nil), w.data...),
		n:    w.n,
	}
	if w.traced {
		b.src = append([]int32(nil), w.src...)
	}
	return b
}
