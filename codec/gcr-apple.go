package codec

import (
	"fmt"

	"github.com/edorfaus/flux-recover/bitstream"
	"github.com/edorfaus/flux-recover/checksum"
)

// appleEncode is the 6-and-2 write table: the 64 disk bytes that have
// the high bit set, at most one pair of adjacent 0 bits, and at least
// two adjacent 1 bits (excluding the reserved D5 and AA).
var appleEncode = [64]uint8{
	0x96, 0x97, 0x9A, 0x9B, 0x9D, 0x9E, 0x9F, 0xA6,
	0xA7, 0xAB, 0xAC, 0xAD, 0xAE, 0xAF, 0xB2, 0xB3,
	0xB4, 0xB5, 0xB6, 0xB7, 0xB9, 0xBA, 0xBB, 0xBC,
	0xBD, 0xBE, 0xBF, 0xCB, 0xCD, 0xCE, 0xCF, 0xD3,
	0xD6, 0xD7, 0xD9, 0xDA, 0xDB, 0xDC, 0xDD, 0xDE,
	0xDF, 0xE5, 0xE6, 0xE7, 0xE9, 0xEA, 0xEB, 0xEC,
	0xED, 0xEE, 0xEF, 0xF2, 0xF3, 0xF4, 0xF5, 0xF6,
	0xF7, 0xF9, 0xFA, 0xFB, 0xFC, 0xFD, 0xFE, 0xFF,
}

var appleDecode = func() (t [256]int8) {
	for i := range t {
		t[i] = -1
	}
	for v, d := range appleEncode {
		t[d] = int8(v)
	}
	return
}()

// Apple DOS 3.3 field marks.
const (
	AppleAddressPrologue = 0xD5AA96
	AppleDataPrologue    = 0xD5AAAD
	AppleEpilogue        = 0xDEAAEB
	AppleSelfSync        = 0xFF
)

// Sizes of a 6-and-2 data field: 86 values holding the low bits, 256
// holding the high bits, and the checksum value.
const (
	AppleAuxLen     = 86
	AppleNibbleLen  = AppleAuxLen + 256
	AppleSectorSize = 256
)

// EncodeSymbol returns the disk byte for a 6-bit value.
func EncodeSymbol(v uint8) uint8 {
	return appleEncode[v&0x3F]
}

// DecodeSymbol returns the 6-bit value of a disk byte, or false if the
// byte is not in the table.
func DecodeSymbol(d uint8) (uint8, bool) {
	v := appleDecode[d]
	if v < 0 {
		return 0, false
	}
	return uint8(v), true
}

// Encode44 splits a byte into the two 4-and-4 disk bytes: the odd bits,
// then the even bits, each with the other bits set.
func Encode44(v uint8) (uint8, uint8) {
	return v>>1 | 0xAA, v | 0xAA
}

// Decode44 joins two 4-and-4 disk bytes.
func Decode44(odd, even uint8) uint8 {
	return (odd<<1 | 1) & even
}

// Prenibble splits a 256-byte sector into the 342 6-bit values of a
// data field, before the running XOR. The first 86 values hold the low
// two bits of three bytes each, stored back to front.
func Prenibble(data []byte) []byte {
	if len(data) != AppleSectorSize {
		panic(fmt.Errorf("invalid sector size: %v", len(data)))
	}
	out := make([]byte, AppleNibbleLen)
	for i, v := range data {
		aux := AppleAuxLen - 1 - i%AppleAuxLen
		out[aux] |= (v & 0x03) << uint(i/AppleAuxLen*2)
		out[AppleAuxLen+i] = v >> 2
	}
	return out
}

// Postnibble is the inverse of Prenibble.
func Postnibble(values []byte) []byte {
	if len(values) != AppleNibbleLen {
		panic(fmt.Errorf("invalid nibble count: %v", len(values)))
	}
	out := make([]byte, AppleSectorSize)
	for i := range out {
		aux := values[AppleAuxLen-1-i%AppleAuxLen]
		low := (aux >> uint(i/AppleAuxLen*2)) & 0x03
		out[i] = values[AppleAuxLen+i]<<2 | low
	}
	return out
}

// EncodeDataField appends the symbols of a 6-and-2 data field (without
// prologue or epilogue) for a 256-byte sector.
func EncodeDataField(w *bitstream.Builder, data []byte) {
	var c checksum.Chain
	for _, v := range Prenibble(data) {
		w.AppendBits(uint64(EncodeSymbol(c.Encode(v))), 8)
	}
	w.AppendBits(uint64(EncodeSymbol(c.Sum())), 8)
}

// DecodeDataField reads the 343 symbols of a 6-and-2 data field at pos.
// It returns the sector, the checksum value as read, whether the
// running XOR ended at zero, and the position after the field. Unknown
// symbols are taken as 0, and reported with a wrapped ErrUnknownSymbol
// once the whole field has been read.
func DecodeDataField(b *bitstream.Bitstream, pos int) (
	data []byte, stored byte, ok bool, end int, err error,
) {
	var c checksum.Chain
	values := make([]byte, AppleNibbleLen)
	r := NibbleReader{Bits: b, Pos: pos}
	for i := 0; i <= AppleNibbleLen; i++ {
		at := r.Pos
		d, more := r.Next()
		if !more {
			return nil, 0, false, r.Pos, fmt.Errorf(
				"%w: data field at bit %v", ErrShortStream, pos,
			)
		}
		s, known := DecodeSymbol(d)
		if !known && err == nil {
			err = fmt.Errorf(
				"%w: disk byte %#02x at bit %v", ErrUnknownSymbol, d, at,
			)
		}
		if i == AppleNibbleLen {
			stored = s
			c.Next(s)
			break
		}
		values[i] = c.Next(s)
	}
	return Postnibble(values), stored, c.Sum() == 0, r.Pos, err
}

// NibbleReader reads disk bytes the way the Disk II controller does:
// leading 0 bits are skipped, and a byte is complete when its high bit
// has been shifted to the top. This lets self-sync bytes realign it.
type NibbleReader struct {
	Bits *bitstream.Bitstream
	Pos  int
}

// Next returns the next disk byte, or false at the end of the stream.
func (r *NibbleReader) Next() (byte, bool) {
	for r.Pos < r.Bits.Len() && r.Bits.Bit(r.Pos) == 0 {
		r.Pos++
	}
	v, ok := r.Bits.Byte(r.Pos)
	if !ok {
		return 0, false
	}
	r.Pos += 8
	return v, true
}

// appleCodec is the generic byte path: data is packed MSB first into
// 6-bit groups, each written as its disk byte. Sector data fields use
// EncodeDataField and DecodeDataField instead.
type appleCodec struct{}

func (appleCodec) Encoding() Encoding { return GCRApple }

func appleGroups(n int) int {
	return (n*8 + 5) / 6
}

func (appleCodec) Encode(w *bitstream.Builder, data []byte) {
	groups := appleGroups(len(data))
	w.Grow(groups * 8)
	var acc uint32
	bits := 0
	for i := 0; i < groups; i++ {
		for bits < 6 {
			acc <<= 8
			if len(data) > 0 {
				acc |= uint32(data[0])
				data = data[1:]
			}
			bits += 8
		}
		bits -= 6
		w.AppendBits(uint64(EncodeSymbol(uint8(acc>>uint(bits)))), 8)
	}
}

func (appleCodec) Decode(b *bitstream.Bitstream, start, n int) ([]byte, error) {
	groups := appleGroups(n)
	if start < 0 || start+groups*8 > b.Len() {
		return nil, fmt.Errorf(
			"%w: %v bytes at bit %v of %v", ErrShortStream, n, start, b.Len(),
		)
	}
	var err error
	out := make([]byte, 0, n+1)
	var acc uint32
	bits := 0
	for i := 0; i < groups; i++ {
		pos := start + i*8
		d, _ := b.Byte(pos)
		v, ok := DecodeSymbol(d)
		if !ok && err == nil {
			err = fmt.Errorf(
				"%w: disk byte %#02x at bit %v", ErrUnknownSymbol, d, pos,
			)
		}
		acc = acc<<6 | uint32(v)
		bits += 6
		if bits >= 8 {
			bits -= 8
			out = append(out, byte(acc>>uint(bits)))
		}
	}
	return out[:n], err
}

func (appleCodec) EncodedLen(n int) int { return appleGroups(n) * 8 }

// Sync returns the address field prologue, D5 AA 96, not a run of 1
// bits like the Commodore sync. The ten-bit self-sync bytes come before
// data fields as well as address fields, and only line up the nibbles.
func (appleCodec) Sync() bitstream.Pattern {
	return bitstream.Word(AppleAddressPrologue, 24)
}
