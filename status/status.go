// Package status holds the outcome kinds shared by the decoding and
// voting stages, and the few errors that are allowed to stop a caller.
package status

import (
	"fmt"
)

// Kind is the outcome of decoding or voting one sector. Everything but
// OK is recorded on the attempt or result instead of being returned.
type Kind uint8

const (
	OK Kind = iota
	NoSyncFound
	IDChecksumMismatch
	DataChecksumMismatch
	UnknownEncodingSymbol
	InsufficientReadPasses
	LowConfidence
	Cancelled
)

var kindNames = [...]string{
	OK:                     "ok",
	NoSyncFound:            "no sync found",
	IDChecksumMismatch:     "ID checksum mismatch",
	DataChecksumMismatch:   "data checksum mismatch",
	UnknownEncodingSymbol:  "unknown encoding symbol",
	InsufficientReadPasses: "insufficient read passes",
	LowConfidence:          "low confidence",
	Cancelled:              "cancelled",
}

func (k Kind) String() string {
	if int(k) >= len(kindNames) {
		return fmt.Sprintf("[bad status.Kind=%d]", int(k))
	}
	return kindNames[k]
}

// ErrInvalidInput is returned for input that cannot be decoded at all,
// such as empty flux data or a zero-length expected payload.
var ErrInvalidInput = fmt.Errorf("invalid input")

// ErrCancelled is returned when a multi-pass operation was stopped by
// its context. Results returned alongside it hold the best data so far.
var ErrCancelled = fmt.Errorf("cancelled")
