package sector

import (
	"bytes"

	"github.com/edorfaus/flux-recover/bitstream"
	"github.com/edorfaus/flux-recover/checksum"
	"github.com/edorfaus/flux-recover/codec"
	"github.com/edorfaus/flux-recover/status"
)

var (
	mfmSync     = bitstream.Word(codec.MFMSyncA1, 16)
	fmDataMarks = []bitstream.Pattern{
		bitstream.Word(codec.FMMarkData, 16),
		bitstream.Word(codec.FMMarkDeleted, 16),
	}
)

// skipMFMSyncs returns the position after the sync word at pos and up
// to two more that directly follow it.
func skipMFMSyncs(b *bitstream.Bitstream, pos int) int {
	pos += 16
	for i := 0; i < 2; i++ {
		if w, ok := b.Word(pos, 16); !ok || w != codec.MFMSyncA1 {
			break
		}
		pos += 16
	}
	return pos
}

func idCRC(prefix []byte, id []byte) uint32 {
	crc := checksum.UpdateCRC16(checksum.CRC16Init, prefix...)
	return uint32(checksum.UpdateCRC16(crc, id...))
}

var mfmPrefix = []byte{0xA1, 0xA1, 0xA1, codec.MarkID}

func decodeMFM(b *bitstream.Bitstream, a *Attempt) {
	pos := skipMFMSyncs(b, a.SyncOffset)
	a.End = pos
	field, ok := codec.SeparateData(b, pos, 7)
	if !ok || field[0] != codec.MarkID {
		a.Status = status.NoSyncFound
		return
	}
	setIBMID(a, field[1:])
	a.IDValid = idCRC(mfmPrefix, field[1:5]) == be16(field[5:])
	a.End = pos + 7*16

	if size := PayloadSize(a.SizeCode); size > 0 {
		decodeMFMData(b, a, size)
	}
	a.finish()
}

func decodeMFMData(b *bitstream.Bitstream, a *Attempt, size int) {
	off, ok := bitstream.FindSync(b, a.End, mfmSync)
	if !ok || off-a.End > mfmDataWindow {
		return
	}
	pos := skipMFMSyncs(b, off)
	field, ok := codec.SeparateData(b, pos, 1+size+2)
	if !ok {
		return
	}
	mark := field[0]
	if mark != codec.MarkData && mark != codec.MarkDeleted {
		return
	}
	setIBMData(a, codec.MFM, mark, field[1:])
	a.End = pos + len(field)*16
}

func decodeFM(b *bitstream.Bitstream, a *Attempt) {
	pos := a.SyncOffset + 16
	a.End = pos
	mark, _ := b.Word(a.SyncOffset, 16)
	id, ok := codec.SeparateData(b, pos, 6)
	if !ok || mark != codec.FMMarkID {
		a.Status = status.NoSyncFound
		return
	}
	setIBMID(a, id)
	a.IDValid = idCRC([]byte{codec.MarkID}, id[:4]) == be16(id[4:])
	a.End = pos + 6*16

	if size := PayloadSize(a.SizeCode); size > 0 {
		decodeFMData(b, a, size)
	}
	a.finish()
}

func decodeFMData(b *bitstream.Bitstream, a *Attempt, size int) {
	off, _, ok := bitstream.FindAny(b, a.End, fmDataMarks...)
	if !ok || off-a.End > fmDataWindow {
		return
	}
	field, ok := codec.SeparateData(b, off, 1+size+2)
	if !ok {
		return
	}
	setIBMData(a, codec.FM, field[0], field[1:])
	a.End = off + len(field)*16
}

func setIBMID(a *Attempt, id []byte) {
	a.Track = int(id[0])
	a.Head = int(id[1])
	a.Sector = int(id[2])
	a.SizeCode = id[3]
}

// setIBMData takes the payload followed by its CRC.
func setIBMData(a *Attempt, enc codec.Encoding, mark byte, payload []byte) {
	size := len(payload) - 2
	a.HasData = true
	a.Mark = mark
	a.Deleted = mark == codec.MarkDeleted
	a.Data = payload[:size:size]
	a.Stored = be16(payload[size:])
	a.DataValid, _ = Verify(enc, mark, a.Data, a.Stored)
}

// IBM track format gap lengths, in bytes. These are the usual values
// for a 3.5" double density disk; the FM values are for 8" disks.
const (
	mfmGap4a = 80
	mfmGap1  = 50
	mfmGap2  = 22
	mfmGap3  = 54
	mfmSync0 = 12

	fmGap4a = 40
	fmGap1  = 26
	fmGap2  = 11
	fmGap3  = 27
	fmSync0 = 6
)

func fill(c codec.Codec, w *bitstream.Builder, v byte, n int) {
	c.Encode(w, bytes.Repeat([]byte{v}, n))
}

func withCRC(prefix []byte, field []byte) []byte {
	crc := checksum.UpdateCRC16(checksum.CRC16Init, prefix...)
	crc = checksum.UpdateCRC16(crc, field...)
	return append(field, byte(crc>>8), byte(crc))
}

func dataMark(s Layout) byte {
	if s.Deleted {
		return codec.MarkDeleted
	}
	return codec.MarkData
}

func encodeMFMTrack(w *bitstream.Builder, sectors []Layout) {
	c := codec.MustNew(codec.MFM)
	syncs := func(word uint64) {
		fill(c, w, 0x00, mfmSync0)
		for i := 0; i < 3; i++ {
			w.AppendBits(word, 16)
		}
	}
	fill(c, w, 0x4E, mfmGap4a)
	syncs(codec.MFMSyncC2)
	c.Encode(w, []byte{codec.MarkIndex})
	fill(c, w, 0x4E, mfmGap1)
	for _, s := range sectors {
		syncs(codec.MFMSyncA1)
		id := []byte{codec.MarkID, byte(s.Track), byte(s.Head), byte(s.Sector), s.SizeCode}
		c.Encode(w, withCRC([]byte{0xA1, 0xA1, 0xA1}, id))
		fill(c, w, 0x4E, mfmGap2)
		syncs(codec.MFMSyncA1)
		field := append([]byte{dataMark(s)}, s.Data...)
		c.Encode(w, withCRC([]byte{0xA1, 0xA1, 0xA1}, field))
		fill(c, w, 0x4E, mfmGap3)
	}
	fill(c, w, 0x4E, mfmGap4a)
}

func encodeFMTrack(w *bitstream.Builder, sectors []Layout) {
	c := codec.MustNew(codec.FM)
	fill(c, w, 0xFF, fmGap4a)
	fill(c, w, 0x00, fmSync0)
	codec.EncodeFMMark(w, codec.FMMarkIndex)
	fill(c, w, 0xFF, fmGap1)
	for _, s := range sectors {
		fill(c, w, 0x00, fmSync0)
		codec.EncodeFMMark(w, codec.FMMarkID)
		id := []byte{byte(s.Track), byte(s.Head), byte(s.Sector), s.SizeCode}
		c.Encode(w, withCRC([]byte{codec.MarkID}, id))
		fill(c, w, 0xFF, fmGap2)
		fill(c, w, 0x00, fmSync0)
		mark := dataMark(s)
		if s.Deleted {
			codec.EncodeFMMark(w, codec.FMMarkDeleted)
		} else {
			codec.EncodeFMMark(w, codec.FMMarkData)
		}
		c.Encode(w, withCRC([]byte{mark}, append([]byte(nil), s.Data...)))
		fill(c, w, 0xFF, fmGap3)
	}
	fill(c, w, 0xFF, fmGap4a)
}
