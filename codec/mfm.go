package codec

import (
	"fmt"

	"github.com/edorfaus/flux-recover/bitstream"
)

// Raw MFM sync words: the A1 and C2 marks, each written with one clock
// bit missing so that they can not occur in normally encoded data.
const (
	MFMSyncA1 = 0x4489
	MFMSyncC2 = 0x5224
)

// IBM address marks, as data bytes.
const (
	MarkIndex   = 0xFC
	MarkID      = 0xFE
	MarkData    = 0xFB
	MarkDeleted = 0xF8
)

// Raw FM address marks: the mark byte interleaved with a clock byte
// that has missing clock bits (D7 for the index mark, C7 for the rest).
const (
	FMMarkIndex   = 0xF77A
	FMMarkID      = 0xF57E
	FMMarkData    = 0xF56F
	FMMarkDeleted = 0xF56A
)

// AmigaSync is the Amiga sector sync: two A1 sync words.
const AmigaSync = MFMSyncA1<<16 | MFMSyncA1

// appendMFMBit appends one data bit with its clock bit. The clock is 1
// only when both the previous and the current data bits are 0.
func appendMFMBit(w *bitstream.Builder, bit uint8) {
	clock := uint8(0)
	if bit == 0 && w.Last() == 0 {
		clock = 1
	}
	w.AppendBit(clock)
	w.AppendBit(bit)
}

func appendMFMByte(w *bitstream.Builder, v byte) {
	for i := 7; i >= 0; i-- {
		appendMFMBit(w, (v>>uint(i))&1)
	}
}

func decodeClocked(b *bitstream.Bitstream, start, n int) ([]byte, error) {
	data, ok := SeparateData(b, start, n)
	if !ok {
		return nil, fmt.Errorf(
			"%w: %v bytes at bit %v of %v", ErrShortStream, n, start, b.Len(),
		)
	}
	return data, nil
}

type mfmCodec struct{}

func (mfmCodec) Encoding() Encoding { return MFM }

func (mfmCodec) Encode(w *bitstream.Builder, data []byte) {
	w.Grow(len(data) * 16)
	for _, v := range data {
		appendMFMByte(w, v)
	}
}

func (mfmCodec) Decode(b *bitstream.Bitstream, start, n int) ([]byte, error) {
	return decodeClocked(b, start, n)
}

func (mfmCodec) EncodedLen(n int) int { return n * 16 }

func (mfmCodec) Sync() bitstream.Pattern {
	return bitstream.Word(MFMSyncA1, 16)
}

type fmCodec struct{}

func (fmCodec) Encoding() Encoding { return FM }

func (fmCodec) Encode(w *bitstream.Builder, data []byte) {
	w.Grow(len(data) * 16)
	for _, v := range data {
		for i := 7; i >= 0; i-- {
			w.AppendBit(1)
			w.AppendBit((v >> uint(i)) & 1)
		}
	}
}

func (fmCodec) Decode(b *bitstream.Bitstream, start, n int) ([]byte, error) {
	return decodeClocked(b, start, n)
}

func (fmCodec) EncodedLen(n int) int { return n * 16 }

func (fmCodec) Sync() bitstream.Pattern {
	return bitstream.Word(FMMarkID, 16)
}

// EncodeFMMark appends a raw FM address mark, which has its own clock
// pattern.
func EncodeFMMark(w *bitstream.Builder, raw uint16) {
	w.AppendBits(uint64(raw), 16)
}

// The Amiga codec writes a block as two half-length MFM streams: first
// the odd bits (7, 5, 3, 1) of every byte, then the even bits (6, 4, 2,
// 0). For a block of longs this is the usual odd/even long layout.
type amigaCodec struct{}

func (amigaCodec) Encoding() Encoding { return AmigaMFM }

func (amigaCodec) Encode(w *bitstream.Builder, data []byte) {
	w.Grow(len(data) * 16)
	for _, shift := range [2]uint{1, 0} {
		for _, v := range data {
			for i := 6; i >= 0; i -= 2 {
				appendMFMBit(w, (v>>(uint(i)+shift))&1)
			}
		}
	}
}

func (amigaCodec) Decode(b *bitstream.Bitstream, start, n int) ([]byte, error) {
	if start < 0 || start+n*16 > b.Len() {
		return nil, fmt.Errorf(
			"%w: %v bytes at bit %v of %v", ErrShortStream, n, start, b.Len(),
		)
	}
	out := make([]byte, n)
	odd := start + 1
	even := start + n*8 + 1
	for i := range out {
		var v byte
		for j := 0; j < 4; j++ {
			v = v<<2 | b.Bit(odd)<<1 | b.Bit(even)
			odd += 2
			even += 2
		}
		out[i] = v
	}
	return out, nil
}

func (amigaCodec) EncodedLen(n int) int { return n * 16 }

func (amigaCodec) Sync() bitstream.Pattern {
	return bitstream.Word(AmigaSync, 32)
}
