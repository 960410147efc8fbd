// Package sector finds and decodes the sector fields of a track's
// bitstream, and builds formatted tracks from sector data.
package sector

import (
	"fmt"

	"github.com/edorfaus/flux-recover/bitstream"
	"github.com/edorfaus/flux-recover/checksum"
	"github.com/edorfaus/flux-recover/codec"
	"github.com/edorfaus/flux-recover/status"
)

// Attempt is the result of decoding one sector's fields once.
type Attempt struct {
	Track    int
	Head     int
	Sector   int
	SizeCode uint8

	// Data is the payload as read, even if its checksum failed. It is
	// nil when no data field was found.
	Data []byte

	IDValid   bool
	DataValid bool
	HasData   bool
	// Deleted is set for IBM deleted-data marks.
	Deleted bool
	// Mark is the data field's mark or block ID byte.
	Mark byte
	// Stored is the data checksum as read from the medium.
	Stored uint32

	// SyncOffset is the bit where the ID field's sync starts, and End
	// is the bit just past the last field that was decoded.
	SyncOffset int
	End        int

	Status status.Kind
}

// Located returns true if an ID field was found at the sync.
func (a *Attempt) Located() bool {
	return a.IDValid || a.Status != status.NoSyncFound
}

// Valid returns true if both fields were found with good checksums.
func (a *Attempt) Valid() bool {
	return a.IDValid && a.DataValid
}

func (a *Attempt) String() string {
	return fmt.Sprintf(
		"T%02d H%d S%02d N%d @%d id=%v data=%v %v",
		a.Track, a.Head, a.Sector, a.SizeCode, a.SyncOffset,
		a.IDValid, a.DataValid, a.Status,
	)
}

// MaxSizeCode is the largest size code that has a data field.
const MaxSizeCode = 6

// PayloadSize returns the data length for an IBM size code, or 0 if the
// code is out of range.
func PayloadSize(code uint8) int {
	if code > MaxSizeCode {
		return 0
	}
	return 128 << code
}

// Data field search windows, in bits after the end of the ID field.
// They cover the gap and sync bytes of a normally formatted track.
const (
	mfmDataWindow       = 1024
	fmDataWindow        = 640
	commodoreDataWindow = 400
	appleDataWindow     = 600
)

// DecodeFields decodes the sector whose ID field sync starts at the
// given bit. Missing or damaged fields are reported on the attempt.
func DecodeFields(
	b *bitstream.Bitstream, syncOffset int, enc codec.Encoding,
) Attempt {
	a := Attempt{SyncOffset: syncOffset, End: syncOffset}
	switch enc {
	case codec.MFM:
		decodeMFM(b, &a)
	case codec.FM:
		decodeFM(b, &a)
	case codec.AmigaMFM:
		decodeAmiga(b, &a)
	case codec.GCRCommodore:
		decodeCommodore(b, &a)
	case codec.GCRApple:
		decodeApple(b, &a)
	default:
		panic(fmt.Errorf("unknown encoding: %v", enc))
	}
	return a
}

// DecodeTrack decodes every sector on a track, in the order found.
// Syncs that are not followed by an ID field are skipped.
func DecodeTrack(b *bitstream.Bitstream, enc codec.Encoding) []Attempt {
	sync := codec.MustNew(enc).Sync()
	var out []Attempt
	pos := 0
	for {
		off, ok := bitstream.FindSync(b, pos, sync)
		if !ok {
			return out
		}
		a := DecodeFields(b, off, enc)
		if a.Located() {
			out = append(out, a)
		}
		pos = a.End
		if pos <= off {
			pos = off + 1
		}
	}
}

// Count returns the number of ID fields on a track, without decoding
// the data fields.
func Count(b *bitstream.Bitstream, enc codec.Encoding) int {
	return len(DecodeTrack(b, enc))
}

// Verify checks a payload against a stored data checksum. The second
// result is false if the encoding's checksum can not be checked apart
// from the raw field, which is the case for Apple's running XOR.
func Verify(
	enc codec.Encoding, mark byte, data []byte, stored uint32,
) (valid, checked bool) {
	switch enc {
	case codec.MFM:
		crc := checksum.UpdateCRC16(checksum.CRC16Init, 0xA1, 0xA1, 0xA1, mark)
		return uint32(checksum.UpdateCRC16(crc, data...)) == stored, true
	case codec.FM:
		crc := checksum.UpdateCRC16(checksum.CRC16Init, mark)
		return uint32(checksum.UpdateCRC16(crc, data...)) == stored, true
	case codec.AmigaMFM:
		return checksum.Amiga(data) == stored, true
	case codec.GCRCommodore:
		return uint32(checksum.XOR(data...)) == stored, true
	}
	return false, false
}

// finish sets the status from the validity flags, unless a more
// specific one has already been set.
func (a *Attempt) finish() {
	if a.Status != status.OK {
		return
	}
	switch {
	case !a.IDValid:
		a.Status = status.IDChecksumMismatch
	case !a.HasData:
		a.Status = status.NoSyncFound
	case !a.DataValid:
		a.Status = status.DataChecksumMismatch
	}
}

func be16(b []byte) uint32 {
	return uint32(b[0])<<8 | uint32(b[1])
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
