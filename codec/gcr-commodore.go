package codec

import (
	"fmt"

	"github.com/edorfaus/flux-recover/bitstream"
)

// commodoreEncode maps each nibble to its 5-bit GCR group. No group has
// more than two 0 bits in a row, and none start or end with two zeros.
var commodoreEncode = [16]uint8{
	0x0A, 0x0B, 0x12, 0x13, 0x0E, 0x0F, 0x16, 0x17,
	0x09, 0x19, 0x1A, 0x1B, 0x0D, 0x1D, 0x1E, 0x15,
}

// commodoreDecode is the inverse of commodoreEncode, with -1 for the
// groups that are not valid.
var commodoreDecode = func() (t [32]int8) {
	for i := range t {
		t[i] = -1
	}
	for n, g := range commodoreEncode {
		t[g] = int8(n)
	}
	return
}()

// CommodoreSyncLen is the number of consecutive 1 bits that make up a
// 1541 sync mark. The drive writes 40, and detects 10.
const (
	CommodoreSyncLen   = 10
	CommodoreSyncWrite = 40
)

// EncodeNibble returns the 5-bit Commodore GCR group of a nibble.
func EncodeNibble(n uint8) uint8 {
	return commodoreEncode[n&0x0F]
}

// DecodeNibble returns the nibble of a 5-bit Commodore GCR group, or
// false if the group is not a valid one.
func DecodeNibble(g uint8) (uint8, bool) {
	v := commodoreDecode[g&0x1F]
	if v < 0 {
		return 0, false
	}
	return uint8(v), true
}

type commodoreCodec struct{}

func (commodoreCodec) Encoding() Encoding { return GCRCommodore }

func (commodoreCodec) Encode(w *bitstream.Builder, data []byte) {
	w.Grow(len(data) * 10)
	for _, v := range data {
		w.AppendBits(uint64(EncodeNibble(v>>4)), 5)
		w.AppendBits(uint64(EncodeNibble(v)), 5)
	}
}

func (commodoreCodec) Decode(
	b *bitstream.Bitstream, start, n int,
) ([]byte, error) {
	if start < 0 || start+n*10 > b.Len() {
		return nil, fmt.Errorf(
			"%w: %v bytes at bit %v of %v", ErrShortStream, n, start, b.Len(),
		)
	}
	var err error
	out := make([]byte, n)
	pos := start
	for i := range out {
		g, _ := b.Word(pos, 10)
		hi, okHi := DecodeNibble(uint8(g >> 5))
		lo, okLo := DecodeNibble(uint8(g))
		if (!okHi || !okLo) && err == nil {
			err = fmt.Errorf(
				"%w: GCR group %010b at bit %v", ErrUnknownSymbol, g, pos,
			)
		}
		out[i] = hi<<4 | lo
		pos += 10
	}
	return out, err
}

func (commodoreCodec) EncodedLen(n int) int { return n * 10 }

func (commodoreCodec) Sync() bitstream.Pattern {
	return bitstream.Ones(CommodoreSyncLen)
}

// SkipSync returns the position of the first 0 bit at or after pos,
// which is where the block after a sync mark starts. The first GCR
// group of a block always starts with a 0, as all block IDs are below
// 8.
func SkipSync(b *bitstream.Bitstream, pos int) (int, bool) {
	for ; pos < b.Len(); pos++ {
		if b.Bit(pos) == 0 {
			return pos, true
		}
	}
	return pos, false
}
