package sector

import (
	"fmt"

	"github.com/edorfaus/flux-recover/bitstream"
	"github.com/edorfaus/flux-recover/codec"
	"github.com/edorfaus/flux-recover/status"
)

// Layout is one sector to be written to a synthesized track.
type Layout struct {
	Track    int
	Head     int
	Sector   int
	SizeCode uint8
	Data     []byte
	// Deleted writes an IBM deleted-data mark. Other encodings ignore it.
	Deleted bool
}

// FixedSize returns the data length of encodings that only have one
// sector size, or 0 for the IBM encodings.
func FixedSize(enc codec.Encoding) int {
	switch enc {
	case codec.AmigaMFM:
		return AmigaDataLen
	case codec.GCRCommodore:
		return CommodoreDataLen
	case codec.GCRApple:
		return codec.AppleSectorSize
	}
	return 0
}

// EncodeTrack builds the bitstream of a formatted track holding the
// given sectors, in order.
func EncodeTrack(
	enc codec.Encoding, sectors []Layout,
) (*bitstream.Bitstream, error) {
	for i, s := range sectors {
		want := FixedSize(enc)
		if want == 0 {
			want = PayloadSize(s.SizeCode)
		}
		if want == 0 || len(s.Data) != want {
			return nil, fmt.Errorf(
				"%w: sector %v (#%v): %v bytes of data, size code %v",
				status.ErrInvalidInput, s.Sector, i, len(s.Data), s.SizeCode,
			)
		}
	}

	var w bitstream.Builder
	switch enc {
	case codec.MFM:
		encodeMFMTrack(&w, sectors)
	case codec.FM:
		encodeFMTrack(&w, sectors)
	case codec.AmigaMFM:
		encodeAmigaTrack(&w, sectors)
	case codec.GCRCommodore:
		encodeCommodoreTrack(&w, sectors)
	case codec.GCRApple:
		encodeAppleTrack(&w, sectors)
	default:
		return nil, fmt.Errorf(
			"%w: unknown encoding: %v", status.ErrInvalidInput, enc,
		)
	}
	return w.Bitstream(), nil
}
