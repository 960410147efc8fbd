package sector

import (
	"github.com/edorfaus/flux-recover/bitstream"
	"github.com/edorfaus/flux-recover/checksum"
	"github.com/edorfaus/flux-recover/codec"
	"github.com/edorfaus/flux-recover/status"
)

// AmigaDOS sector layout, in data bytes. Each part is odd/even split
// on its own.
const (
	amigaFormat   = 0xFF
	amigaInfoLen  = 4
	amigaLabelLen = 16
	amigaSumLen   = 4
	AmigaDataLen  = 512
	amigaSizeCode = 2
	amigaTrackGap = 700
)

func decodeAmiga(b *bitstream.Bitstream, a *Attempt) {
	c := codec.MustNew(codec.AmigaMFM)
	pos := a.SyncOffset + 32
	a.End = pos

	info, err := c.Decode(b, pos, amigaInfoLen)
	if err != nil {
		a.Status = status.NoSyncFound
		return
	}
	pos += c.EncodedLen(amigaInfoLen)
	label, err := c.Decode(b, pos, amigaLabelLen)
	if err != nil {
		a.Status = status.NoSyncFound
		return
	}
	pos += c.EncodedLen(amigaLabelLen)
	sums, err := decodeLongs(c, b, pos, 2)
	if err != nil {
		a.Status = status.NoSyncFound
		return
	}
	pos += 2 * c.EncodedLen(amigaSumLen)

	a.Track = int(info[1] >> 1)
	a.Head = int(info[1] & 1)
	a.Sector = int(info[2])
	a.SizeCode = amigaSizeCode
	a.Mark = info[0]
	a.IDValid = info[0] == amigaFormat &&
		checksum.Amiga(append(info, label...)) == sums[0]
	a.End = pos

	if data, err := c.Decode(b, pos, AmigaDataLen); err == nil {
		a.HasData = true
		a.Data = data
		a.Stored = sums[1]
		a.DataValid = checksum.Amiga(data) == sums[1]
		a.End = pos + c.EncodedLen(AmigaDataLen)
	}
	a.finish()
}

func decodeLongs(
	c codec.Codec, b *bitstream.Bitstream, pos, n int,
) ([]uint32, error) {
	out := make([]uint32, n)
	for i := range out {
		v, err := c.Decode(b, pos, 4)
		if err != nil {
			return nil, err
		}
		out[i] = be32(v)
		pos += c.EncodedLen(4)
	}
	return out, nil
}

func encodeAmigaTrack(w *bitstream.Builder, sectors []Layout) {
	c := codec.MustNew(codec.AmigaMFM)
	for i, s := range sectors {
		fill(c, w, 0x00, 2)
		w.AppendBits(codec.AmigaSync, 32)
		info := []byte{
			amigaFormat, byte(s.Track*2 + s.Head), byte(s.Sector),
			byte(len(sectors) - i),
		}
		label := make([]byte, amigaLabelLen)
		c.Encode(w, info)
		c.Encode(w, label)
		c.Encode(w, putBE32(checksum.Amiga(append(info, label...))))
		c.Encode(w, putBE32(checksum.Amiga(s.Data)))
		c.Encode(w, s.Data)
	}
	fill(c, w, 0x00, amigaTrackGap)
}

func putBE32(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}
