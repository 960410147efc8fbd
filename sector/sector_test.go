package sector

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/edorfaus/flux-recover/bitstream"
	"github.com/edorfaus/flux-recover/codec"
	"github.com/edorfaus/flux-recover/flux"
	"github.com/edorfaus/flux-recover/status"
)

func testLayouts(t *testing.T, enc codec.Encoding, count int) []Layout {
	t.Helper()
	rng := rand.New(rand.NewSource(int64(enc)*100 + int64(count)))
	size := FixedSize(enc)
	code := uint8(2)
	if size == 0 {
		size = PayloadSize(code)
	} else {
		code = 0
	}
	out := make([]Layout, count)
	for i := range out {
		data := make([]byte, size)
		rng.Read(data)
		out[i] = Layout{
			Track: 17, Head: 1, Sector: i + 1, SizeCode: code, Data: data,
		}
	}
	if enc == codec.GCRCommodore || enc == codec.GCRApple {
		for i := range out {
			out[i].Head = 0
		}
	}
	return out
}

func encodeTrack(t *testing.T, enc codec.Encoding, sectors []Layout) *bitstream.Bitstream {
	t.Helper()
	b, err := EncodeTrack(enc, sectors)
	if err != nil {
		t.Fatalf("EncodeTrack(%v): %v", enc, err)
	}
	return b
}

// shift returns the bitstream with n zero bits in front of it.
func shift(b *bitstream.Bitstream, n int) *bitstream.Bitstream {
	var w bitstream.Builder
	w.AppendBits(0, n)
	for i := 0; i < b.Len(); i++ {
		w.AppendBit(b.Bit(i))
	}
	return w.Bitstream()
}

func flip(b *bitstream.Bitstream, i int) *bitstream.Bitstream {
	data := b.Bytes()
	data[i/8] ^= 0x80 >> uint(i%8)
	return bitstream.FromBytes(data, b.Len())
}

func checkTrack(t *testing.T, enc codec.Encoding, want []Layout, got []Attempt) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%v: found %v sectors, want %v", enc, len(got), len(want))
	}
	for i, a := range got {
		s := want[i]
		if !a.IDValid || !a.DataValid || !a.HasData || a.Status != status.OK {
			t.Errorf("%v: sector %v: %v", enc, i, &a)
			continue
		}
		if a.Track != s.Track || a.Head != s.Head || a.Sector != s.Sector {
			t.Errorf("%v: sector %v: got T%v H%v S%v, want T%v H%v S%v",
				enc, i, a.Track, a.Head, a.Sector, s.Track, s.Head, s.Sector)
		}
		if !bytes.Equal(a.Data, s.Data) {
			t.Errorf("%v: sector %v: data mismatch", enc, i)
		}
		if ok, checked := Verify(enc, a.Mark, a.Data, a.Stored); checked && !ok {
			t.Errorf("%v: sector %v: Verify failed", enc, i)
		}
	}
}

func TestPayloadSize(t *testing.T) {
	want := []int{128, 256, 512, 1024, 2048, 4096, 8192}
	for code, size := range want {
		if got := PayloadSize(uint8(code)); got != size {
			t.Errorf("PayloadSize(%v) = %v, want %v", code, got, size)
		}
	}
	if got := PayloadSize(7); got != 0 {
		t.Errorf("PayloadSize(7) = %v, want 0", got)
	}
}

func TestRoundTrip(t *testing.T) {
	for enc := codec.FM; enc <= codec.AmigaMFM; enc++ {
		sectors := testLayouts(t, enc, 4)
		b := encodeTrack(t, enc, sectors)
		checkTrack(t, enc, sectors, DecodeTrack(b, enc))
		if n := Count(b, enc); n != len(sectors) {
			t.Errorf("%v: Count = %v, want %v", enc, n, len(sectors))
		}
	}
}

func TestUnaligned(t *testing.T) {
	for enc := codec.FM; enc <= codec.AmigaMFM; enc++ {
		sectors := testLayouts(t, enc, 2)
		b := shift(encodeTrack(t, enc, sectors), 3)
		checkTrack(t, enc, sectors, DecodeTrack(b, enc))
	}
}

func TestAmigaSyncAtOffset(t *testing.T) {
	sectors := testLayouts(t, codec.AmigaMFM, 1)
	b := shift(encodeTrack(t, codec.AmigaMFM, sectors), 3)
	sync := codec.MustNew(codec.AmigaMFM).Sync()
	off, ok := bitstream.FindSync(b, 0, sync)
	// Two zero bytes, 32 bits of MFM, precede the sync.
	if !ok || off != 3+32 {
		t.Fatalf("FindSync = %v, %v; want %v", off, ok, 3+32)
	}
	a := DecodeFields(b, off, codec.AmigaMFM)
	if !a.Valid() || a.SyncOffset != off {
		t.Errorf("DecodeFields: %v", &a)
	}
}

func TestDataCorruption(t *testing.T) {
	for enc := codec.FM; enc <= codec.AmigaMFM; enc++ {
		sectors := testLayouts(t, enc, 2)
		b := encodeTrack(t, enc, sectors)
		clean := DecodeTrack(b, enc)
		if len(clean) != 2 {
			t.Fatalf("%v: found %v sectors", enc, len(clean))
		}
		// Flip a bit well inside the second sector's data field.
		bad := flip(b, clean[1].End-200*8-1)
		got := DecodeTrack(bad, enc)
		if len(got) != 2 {
			t.Fatalf("%v: found %v sectors after corruption", enc, len(got))
		}
		if !got[0].Valid() {
			t.Errorf("%v: first sector damaged: %v", enc, &got[0])
		}
		a := got[1]
		if !a.IDValid || !a.HasData || a.DataValid {
			t.Errorf("%v: corrupted sector: %v", enc, &a)
		}
		if a.Status != status.DataChecksumMismatch &&
			a.Status != status.UnknownEncodingSymbol {
			t.Errorf("%v: status = %v", enc, a.Status)
		}
		if len(a.Data) != len(sectors[1].Data) {
			t.Errorf("%v: kept %v bytes, want %v", enc, len(a.Data),
				len(sectors[1].Data))
		}
	}
}

func TestIDCorruption(t *testing.T) {
	sectors := testLayouts(t, codec.MFM, 1)
	b := encodeTrack(t, codec.MFM, sectors)
	off, ok := bitstream.FindSync(b, 0, bitstream.Word(codec.MFMSyncA1, 16))
	if !ok {
		t.Fatalf("no sync")
	}
	// Sector number data bit: 3 syncs, mark, C, H, then R.
	bad := flip(b, off+3*16+3*16+15)
	a := DecodeFields(bad, off, codec.MFM)
	if a.IDValid || a.Status != status.IDChecksumMismatch {
		t.Errorf("attempt: %v", &a)
	}
	if !a.Located() {
		t.Errorf("damaged ID not located")
	}
	if !a.DataValid {
		t.Errorf("data field lost with the ID: %v", &a)
	}
}

func TestMissingDataField(t *testing.T) {
	c := codec.MustNew(codec.MFM)
	var w bitstream.Builder
	fill(c, &w, 0x00, 12)
	for i := 0; i < 3; i++ {
		w.AppendBits(codec.MFMSyncA1, 16)
	}
	c.Encode(&w, withCRC([]byte{0xA1, 0xA1, 0xA1}, []byte{codec.MarkID, 2, 0, 5, 2}))
	fill(c, &w, 0x4E, 200)
	b := w.Bitstream()

	a := DecodeFields(b, 12*16, codec.MFM)
	if !a.IDValid || a.HasData || a.DataValid || a.Data != nil {
		t.Errorf("attempt: %v", &a)
	}
	if a.Status != status.NoSyncFound || !a.Located() {
		t.Errorf("status = %v, located = %v", a.Status, a.Located())
	}
	if a.Track != 2 || a.Sector != 5 {
		t.Errorf("ID = T%v S%v", a.Track, a.Sector)
	}
}

func TestNoIDField(t *testing.T) {
	c := codec.MustNew(codec.MFM)
	var w bitstream.Builder
	for i := 0; i < 3; i++ {
		w.AppendBits(codec.MFMSyncA1, 16)
	}
	c.Encode(&w, withCRC([]byte{0xA1, 0xA1, 0xA1}, []byte{codec.MarkData, 1, 2, 3}))
	b := w.Bitstream()

	a := DecodeFields(b, 0, codec.MFM)
	if a.IDValid || a.HasData || a.Status != status.NoSyncFound || a.Located() {
		t.Errorf("attempt: %v", &a)
	}
	if got := DecodeTrack(b, codec.MFM); len(got) != 0 {
		t.Errorf("DecodeTrack found %v sectors", len(got))
	}
}

func TestOversizeCode(t *testing.T) {
	c := codec.MustNew(codec.MFM)
	var w bitstream.Builder
	for i := 0; i < 3; i++ {
		w.AppendBits(codec.MFMSyncA1, 16)
	}
	c.Encode(&w, withCRC([]byte{0xA1, 0xA1, 0xA1}, []byte{codec.MarkID, 0, 0, 1, 9}))
	fill(c, &w, 0x4E, 22)
	for i := 0; i < 3; i++ {
		w.AppendBits(codec.MFMSyncA1, 16)
	}
	c.Encode(&w, withCRC([]byte{0xA1, 0xA1, 0xA1}, []byte{codec.MarkData, 1, 2}))

	a := DecodeFields(w.Bitstream(), 0, codec.MFM)
	if !a.IDValid || a.SizeCode != 9 || a.HasData {
		t.Errorf("attempt: %v", &a)
	}
}

func TestDeletedData(t *testing.T) {
	for _, enc := range []codec.Encoding{codec.MFM, codec.FM} {
		sectors := testLayouts(t, enc, 2)
		sectors[1].Deleted = true
		got := DecodeTrack(encodeTrack(t, enc, sectors), enc)
		checkTrack(t, enc, sectors, got)
		if got[0].Deleted || !got[1].Deleted || got[1].Mark != codec.MarkDeleted {
			t.Errorf("%v: deleted flags %v %v, mark %#02x",
				enc, got[0].Deleted, got[1].Deleted, got[1].Mark)
		}
	}
}

func TestVerify(t *testing.T) {
	for enc := codec.FM; enc <= codec.AmigaMFM; enc++ {
		sectors := testLayouts(t, enc, 1)
		a := DecodeTrack(encodeTrack(t, enc, sectors), enc)[0]
		ok, checked := Verify(enc, a.Mark, a.Data, a.Stored)
		if enc == codec.GCRApple {
			if checked {
				t.Errorf("Apple data claims to be verifiable")
			}
			continue
		}
		if !checked || !ok {
			t.Errorf("%v: Verify = %v, %v", enc, ok, checked)
		}
		data := append([]byte(nil), a.Data...)
		data[10] ^= 0x01
		if ok, _ := Verify(enc, a.Mark, data, a.Stored); ok {
			t.Errorf("%v: Verify accepted changed data", enc)
		}
	}
}

func TestEncodeTrackInvalid(t *testing.T) {
	_, err := EncodeTrack(codec.MFM, []Layout{{SizeCode: 2, Data: make([]byte, 100)}})
	if !errors.Is(err, status.ErrInvalidInput) {
		t.Errorf("short data: err = %v", err)
	}
	_, err = EncodeTrack(codec.MFM, []Layout{{SizeCode: 7, Data: nil}})
	if !errors.Is(err, status.ErrInvalidInput) {
		t.Errorf("bad size code: err = %v", err)
	}
	_, err = EncodeTrack(codec.GCRApple, []Layout{{Data: make([]byte, 512)}})
	if !errors.Is(err, status.ErrInvalidInput) {
		t.Errorf("apple 512: err = %v", err)
	}
}

func TestTruncatedTrack(t *testing.T) {
	for enc := codec.FM; enc <= codec.AmigaMFM; enc++ {
		sectors := testLayouts(t, enc, 2)
		b := encodeTrack(t, enc, sectors)
		all := DecodeTrack(b, enc)
		// Cut the track in the middle of the second data field.
		cut := b.Slice(0, all[1].End-800)
		got := DecodeTrack(cut, enc)
		if len(got) == 0 || !got[0].Valid() {
			t.Fatalf("%v: first sector lost", enc)
		}
		for _, a := range got[1:] {
			if a.DataValid {
				t.Errorf("%v: truncated sector has valid data: %v", enc, &a)
			}
		}
	}
}

// jitter returns the intervals with a deterministic ±5% spread.
func jitter(iv []flux.Interval) []flux.Interval {
	out := make([]flux.Interval, len(iv))
	for i, v := range iv {
		d := i%11 - 5
		out[i] = flux.Interval(int(v) * (100 + d) / 100)
	}
	return out
}

func TestDecodeFromFlux(t *testing.T) {
	for enc := codec.FM; enc <= codec.AmigaMFM; enc++ {
		sectors := testLayouts(t, enc, 3)
		period := codec.EstimatorFor(enc).Double
		if enc == codec.GCRCommodore {
			period = codec.CommodorePeriod(sectors[0].Track)
		}
		iv := jitter(flux.FromBits(encodeTrack(t, enc, sectors), period))

		est := codec.EstimatorFor(enc)
		if enc == codec.GCRCommodore {
			est.High = period
			est.Double = period
		}
		p := est.Estimate(iv)
		if p != period {
			t.Fatalf("%v: estimated period %v, want %v", enc, p, period)
		}
		checkTrack(t, enc, sectors, DecodeTrack(flux.ToBits(iv, p), enc))
	}
}
