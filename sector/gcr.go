package sector

import (
	"github.com/edorfaus/flux-recover/bitstream"
	"github.com/edorfaus/flux-recover/checksum"
	"github.com/edorfaus/flux-recover/codec"
	"github.com/edorfaus/flux-recover/status"
)

// Commodore 1541 block layout.
const (
	commodoreHeaderID  = 0x08
	commodoreDataID    = 0x07
	commodoreHeaderLen = 8
	CommodoreDataLen   = 256
	commodoreHeaderGap = 9
	commodoreTrackGap  = 8
	commodoreSizeCode  = 1
)

// The disk ID written into synthesized Commodore headers.
var commodoreDiskID = [2]byte{'F', 'R'}

var commodoreSync = bitstream.Ones(codec.CommodoreSyncLen)

func decodeCommodore(b *bitstream.Bitstream, a *Attempt) {
	c := codec.MustNew(codec.GCRCommodore)
	pos, ok := codec.SkipSync(b, a.SyncOffset)
	a.End = pos
	if !ok {
		a.Status = status.NoSyncFound
		return
	}
	hdr, err := c.Decode(b, pos, commodoreHeaderLen)
	if hdr == nil || hdr[0] != commodoreHeaderID {
		// Either the end of the track, or the sync of a data block.
		a.Status = status.NoSyncFound
		return
	}
	a.Sector = int(hdr[2])
	a.Track = int(hdr[3])
	a.SizeCode = commodoreSizeCode
	a.IDValid = err == nil && hdr[1] == checksum.XOR(hdr[2:6]...)
	if err != nil {
		a.Status = status.UnknownEncodingSymbol
	}
	a.End = pos + c.EncodedLen(commodoreHeaderLen)

	decodeCommodoreData(b, a, c)
	a.finish()
}

func decodeCommodoreData(b *bitstream.Bitstream, a *Attempt, c codec.Codec) {
	off, ok := bitstream.FindSync(b, a.End, commodoreSync)
	if !ok || off-a.End > commodoreDataWindow {
		return
	}
	pos, ok := codec.SkipSync(b, off)
	if !ok {
		return
	}
	blk, err := c.Decode(b, pos, 1+CommodoreDataLen+1)
	if blk == nil || blk[0] != commodoreDataID {
		return
	}
	a.HasData = true
	a.Mark = blk[0]
	a.Data = blk[1 : 1+CommodoreDataLen : 1+CommodoreDataLen]
	a.Stored = uint32(blk[1+CommodoreDataLen])
	a.DataValid, _ = Verify(codec.GCRCommodore, a.Mark, a.Data, a.Stored)
	if err != nil {
		a.DataValid = false
		if a.Status == status.OK {
			a.Status = status.UnknownEncodingSymbol
		}
	}
	a.End = pos + c.EncodedLen(len(blk))
}

func encodeCommodoreTrack(w *bitstream.Builder, sectors []Layout) {
	c := codec.MustNew(codec.GCRCommodore)
	sync := func() {
		w.AppendBits(bitstream.Ones(codec.CommodoreSyncWrite).Bits,
			codec.CommodoreSyncWrite)
	}
	for _, s := range sectors {
		sync()
		hdr := []byte{
			commodoreHeaderID, 0, byte(s.Sector), byte(s.Track),
			commodoreDiskID[1], commodoreDiskID[0], 0x0F, 0x0F,
		}
		hdr[1] = checksum.XOR(hdr[2:6]...)
		c.Encode(w, hdr)
		fill(c, w, 0x55, commodoreHeaderGap)
		sync()
		blk := make([]byte, 0, CommodoreDataLen+4)
		blk = append(blk, commodoreDataID)
		blk = append(blk, s.Data...)
		blk = append(blk, checksum.XOR(s.Data...), 0, 0)
		c.Encode(w, blk)
		fill(c, w, 0x55, commodoreTrackGap)
	}
}

// Apple DOS 3.3 sector layout.
const (
	appleSizeCode  = 1
	appleDataMark  = 0xAD
	appleVolume    = 254
	appleGapStart  = 48
	appleGapID     = 6
	appleGapSector = 16
)

var appleDataSync = bitstream.Word(codec.AppleDataPrologue, 24)

func decodeApple(b *bitstream.Bitstream, a *Attempt) {
	r := codec.NibbleReader{Bits: b, Pos: a.SyncOffset + 24}
	a.End = r.Pos
	var f [8]byte
	for i := range f {
		v, ok := r.Next()
		if !ok {
			a.Status = status.NoSyncFound
			return
		}
		f[i] = v
	}
	vol := codec.Decode44(f[0], f[1])
	trk := codec.Decode44(f[2], f[3])
	sec := codec.Decode44(f[4], f[5])
	sum := codec.Decode44(f[6], f[7])
	a.Track = int(trk)
	a.Sector = int(sec)
	a.SizeCode = appleSizeCode
	a.IDValid = checksum.XOR(vol, trk, sec) == sum
	a.End = r.Pos

	decodeAppleData(b, a)
	a.finish()
}

func decodeAppleData(b *bitstream.Bitstream, a *Attempt) {
	off, ok := bitstream.FindSync(b, a.End, appleDataSync)
	if !ok || off-a.End > appleDataWindow {
		return
	}
	data, stored, sumOK, end, err := codec.DecodeDataField(b, off+24)
	if data == nil {
		return
	}
	a.HasData = true
	a.Mark = appleDataMark
	a.Data = data
	a.Stored = uint32(stored)
	a.DataValid = sumOK && err == nil
	if err != nil && a.Status == status.OK {
		a.Status = status.UnknownEncodingSymbol
	}
	a.End = end
}

func encodeAppleTrack(w *bitstream.Builder, sectors []Layout) {
	selfSync := func(n int) {
		for i := 0; i < n; i++ {
			w.AppendBits(codec.AppleSelfSync, 8)
			w.AppendBits(0, 2)
		}
	}
	selfSync(appleGapStart)
	for _, s := range sectors {
		w.AppendBits(codec.AppleAddressPrologue, 24)
		trk, sec := byte(s.Track), byte(s.Sector)
		for _, v := range []byte{appleVolume, trk, sec, appleVolume ^ trk ^ sec} {
			odd, even := codec.Encode44(v)
			w.AppendBits(uint64(odd)<<8|uint64(even), 16)
		}
		w.AppendBits(codec.AppleEpilogue, 24)
		selfSync(appleGapID)
		w.AppendBits(codec.AppleDataPrologue, 24)
		codec.EncodeDataField(w, s.Data)
		w.AppendBits(codec.AppleEpilogue, 24)
		selfSync(appleGapSector)
	}
}
