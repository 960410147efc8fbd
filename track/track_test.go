package track

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/edorfaus/flux-recover/bitstream"
	"github.com/edorfaus/flux-recover/codec"
	"github.com/edorfaus/flux-recover/flux"
	"github.com/edorfaus/flux-recover/sector"
	"github.com/edorfaus/flux-recover/status"
)

const testTrack = 2

func layouts(track, head int) []sector.Layout {
	out := make([]sector.Layout, 4)
	for i := range out {
		data := make([]byte, sector.PayloadSize(2))
		for j := range data {
			data[j] = byte(j*7 + i*31 + track)
		}
		out[i] = sector.Layout{
			Track: track, Head: head, Sector: i + 1, SizeCode: 2, Data: data,
		}
	}
	return out
}

func encode(t *testing.T, sectors []sector.Layout) *bitstream.Bitstream {
	t.Helper()
	b, err := sector.EncodeTrack(codec.MFM, sectors)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

// damage flips the low bit of byte k, counted from the end of the data
// field of the given sector, CRC included.
func damage(t *testing.T, b *bitstream.Bitstream, sec, k int) *bitstream.Bitstream {
	t.Helper()
	attempts := sector.DecodeTrack(b, codec.MFM)
	if len(attempts) <= sec {
		t.Fatalf("found %v sectors", len(attempts))
	}
	i := attempts[sec].End - 16*k - 1
	data := b.Bytes()
	data[i/8] ^= 0x80 >> uint(i%8)
	return bitstream.FromBytes(data, b.Len())
}

func concat(bs ...*bitstream.Bitstream) *bitstream.Bitstream {
	var w bitstream.Builder
	for _, b := range bs {
		for i := 0; i < b.Len(); i++ {
			w.AppendBit(b.Bit(i))
		}
	}
	return w.Bitstream()
}

// captures returns a RereadFunc handing out the given bitstreams in
// order, and counting the calls.
func captures(calls *int, bs ...*bitstream.Bitstream) RereadFunc {
	return func(ctx context.Context, track, head int) (Input, error) {
		b := bs[*calls%len(bs)]
		*calls++
		return Input{Track: track, Head: head, Bits: b}, nil
	}
}

func checkSectors(t *testing.T, res *Result, want []sector.Layout) {
	t.Helper()
	if len(res.Sectors) != len(want) {
		t.Fatalf("found %v sectors, want %v", len(res.Sectors), len(want))
	}
	for i, s := range res.Sectors {
		w := want[i]
		if s.Number != w.Sector || s.Track != w.Track || s.Head != w.Head {
			t.Errorf("sector %v: got %v", i, &s)
		}
		if !s.Recovered || s.Failed || !s.DataValid || s.Status != status.OK {
			t.Errorf("sector %v: %v", i, &s)
		}
		if !bytes.Equal(s.Data, w.Data) {
			t.Errorf("sector %v: wrong data", i)
		}
	}
}

func TestDecodeFlux(t *testing.T) {
	want := layouts(testTrack, 1)
	iv := flux.FromBits(encode(t, want), 1000)
	opts := DefaultOptions()
	opts.Forensic = true

	res, err := Decode(context.Background(),
		Input{Track: testTrack, Head: 1, Intervals: iv}, opts)
	if err != nil {
		t.Fatal(err)
	}
	checkSectors(t, res, want)
	if res.Period != 1000 {
		t.Errorf("period = %v", res.Period)
	}
	st := res.Stats
	if st.SectorsFound != 4 || st.SectorsRecovered != 4 || st.SectorsFailed != 0 ||
		st.Passes != 1 || st.CRCErrorsFixed != 0 || st.BadIDs != 0 {
		t.Errorf("stats: %+v", st)
	}
	if len(res.Attempts) != 4 {
		t.Errorf("forensic mode kept %v attempts", len(res.Attempts))
	}
}

func TestFingerprint(t *testing.T) {
	a := Sector{Data: []byte("some sector data")}
	b := Sector{Data: []byte("some sector data")}
	c := Sector{Data: []byte("some sector dat!")}
	if a.Fingerprint() != b.Fingerprint() {
		t.Errorf("equal data, different fingerprints")
	}
	if a.Fingerprint() == c.Fingerprint() {
		t.Errorf("different data, same fingerprint")
	}
	if (&Sector{}).Fingerprint() != 0 {
		t.Errorf("no data should give 0")
	}
}

func TestDecodeCellPeriod(t *testing.T) {
	want := layouts(testTrack, 0)
	iv := flux.FromBits(encode(t, want), 750)
	opts := DefaultOptions()
	opts.CellPeriod = 750
	res, err := Decode(context.Background(), Input{Intervals: iv}, opts)
	if err != nil {
		t.Fatal(err)
	}
	if res.Period != 750 {
		t.Errorf("period = %v", res.Period)
	}
	checkSectors(t, res, want)

	opts.CellPeriod = 500
	res, err = Decode(context.Background(), Input{Intervals: iv}, opts)
	if err != nil {
		t.Fatal(err)
	}
	if res.Period != 500 || res.Stats.SectorsRecovered != 0 {
		t.Errorf("period %v, stats %+v", res.Period, res.Stats)
	}
}

func TestDecodeInvalid(t *testing.T) {
	ctx := context.Background()
	if _, err := Decode(ctx, Input{}, DefaultOptions()); !errors.Is(err, status.ErrInvalidInput) {
		t.Errorf("empty input: err = %v", err)
	}
	in := Input{Bits: encode(t, layouts(testTrack, 0))}
	opts := DefaultOptions()
	opts.Vote.MinConfidence = 200
	if _, err := Decode(ctx, in, opts); !errors.Is(err, status.ErrInvalidInput) {
		t.Errorf("bad vote config: err = %v", err)
	}
	opts = DefaultOptions()
	opts.Encoding = 99
	if _, err := Decode(ctx, in, opts); !errors.Is(err, status.ErrInvalidInput) {
		t.Errorf("bad encoding: err = %v", err)
	}
}

func TestDecodeCopies(t *testing.T) {
	want := layouts(testTrack, 0)
	b := encode(t, want)
	res, err := Decode(context.Background(),
		Input{Track: testTrack, Bits: concat(b, b)}, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	checkSectors(t, res, want)
	for _, s := range res.Sectors {
		if s.Reads != 2 {
			t.Errorf("sector %v: %v reads, want 2", s.Number, s.Reads)
		}
	}
	if res.Period != 0 {
		t.Errorf("period = %v for a raw bitstream", res.Period)
	}
}

func TestDecodeRereadVote(t *testing.T) {
	want := layouts(testTrack, 0)
	b := encode(t, want)
	calls := 0
	var progress []string
	opts := DefaultOptions()
	opts.Reread = captures(&calls, damage(t, b, 1, 20), damage(t, b, 1, 30))
	opts.Progress = func(track, head, pass, planned int) {
		progress = append(progress, fmt.Sprintf("%v.%v %v/%v", track, head, pass, planned))
	}

	res, err := Decode(context.Background(),
		Input{Track: testTrack, Bits: damage(t, b, 1, 10)}, opts)
	if err != nil {
		t.Fatal(err)
	}
	checkSectors(t, res, want)
	if calls != 2 {
		t.Errorf("%v re-reads, want 2", calls)
	}
	if got := strings.Join(progress, ","); got != "2.0 2/5,2.0 3/5" {
		t.Errorf("progress = %q", got)
	}
	s := res.Sectors[1]
	if s.Reads != 3 || s.Passes != 3 || s.WeakBits != 3 || s.Confidence != 99 {
		t.Errorf("voted sector: %v, passes %v", &s, s.Passes)
	}
	if res.Sectors[0].Reads != 1 {
		t.Errorf("good sector read %v times", res.Sectors[0].Reads)
	}
	st := res.Stats
	if st.Passes != 3 || st.CRCErrorsFixed != 1 || st.WeakBitsFixed != 3 ||
		st.SectorsRecovered != 4 {
		t.Errorf("stats: %+v", st)
	}
}

func TestDecodeGoodReread(t *testing.T) {
	want := layouts(testTrack, 0)
	b := encode(t, want)
	calls := 0
	opts := DefaultOptions()
	opts.Reread = captures(&calls, b)

	res, err := Decode(context.Background(),
		Input{Track: testTrack, Bits: damage(t, b, 2, 100)}, opts)
	if err != nil {
		t.Fatal(err)
	}
	checkSectors(t, res, want)
	s := res.Sectors[2]
	if calls != 1 || s.Reads != 2 || s.Confidence != 100 || s.WeakBits != 1 {
		t.Errorf("calls %v, sector %v", calls, &s)
	}
	if res.Stats.CRCErrorsFixed != 1 {
		t.Errorf("stats: %+v", res.Stats)
	}
}

func TestDecodeSingleBadRead(t *testing.T) {
	want := layouts(testTrack, 0)
	res, err := Decode(context.Background(),
		Input{Track: testTrack, Bits: damage(t, encode(t, want), 3, 5)},
		DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	s := res.Sectors[3]
	if !s.Failed || s.Recovered || s.DataValid {
		t.Errorf("sector: %v", &s)
	}
	if s.Status != status.InsufficientReadPasses {
		t.Errorf("status = %v", s.Status)
	}
	if len(s.Data) != len(want[3].Data) {
		t.Errorf("failed sector kept %v bytes", len(s.Data))
	}
	if res.Stats.SectorsFailed != 1 || res.Stats.SectorsRecovered != 3 {
		t.Errorf("stats: %+v", res.Stats)
	}
}

func TestDecodeRereadErrors(t *testing.T) {
	want := layouts(testTrack, 0)
	calls := 0
	opts := DefaultOptions()
	opts.Reread = func(ctx context.Context, track, head int) (Input, error) {
		calls++
		return Input{}, errors.New("drive not ready")
	}
	res, err := Decode(context.Background(),
		Input{Track: testTrack, Bits: damage(t, encode(t, want), 0, 10)}, opts)
	if err != nil {
		t.Fatal(err)
	}
	if calls != 4 {
		t.Errorf("%v re-reads, want 4", calls)
	}
	s := res.Sectors[0]
	if !s.Failed || s.Passes != 5 || s.Reads != 1 {
		t.Errorf("sector: %v, passes %v", &s, s.Passes)
	}
	if res.Stats.Passes != 1 {
		t.Errorf("stats: %+v", res.Stats)
	}
}

func TestDecodeCancel(t *testing.T) {
	want := layouts(testTrack, 0)
	b := encode(t, want)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	calls := 0
	opts := DefaultOptions()
	opts.Reread = captures(&calls, b)
	opts.Progress = func(track, head, pass, planned int) {
		cancel()
	}

	res, err := Decode(ctx, Input{Track: testTrack, Bits: damage(t, b, 1, 10)}, opts)
	if !errors.Is(err, status.ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if calls != 0 || res == nil || len(res.Sectors) != 4 {
		t.Fatalf("calls %v, result %+v", calls, res)
	}
	if s := res.Sectors[1]; s.Status != status.Cancelled || s.Data == nil {
		t.Errorf("pending sector: %v", &s)
	}
	if s := res.Sectors[0]; !s.Recovered || s.Status != status.OK {
		t.Errorf("good sector: %v", &s)
	}
}

func TestDecodeBadID(t *testing.T) {
	want := layouts(testTrack, 0)
	res, err := Decode(context.Background(),
		Input{Track: testTrack, Bits: corruptID(t, encode(t, want), 2)},
		DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	st := res.Stats
	if st.BadIDs != 1 || st.SectorsFound != 4 || st.SectorsFailed != 1 ||
		st.SectorsRecovered != 3 {
		t.Errorf("stats: %+v", st)
	}
	if len(res.Sectors) != 4 {
		t.Fatalf("found %v sectors", len(res.Sectors))
	}
	s := res.Sectors[2]
	if s.Number != 3 || s.IDValid || !s.Failed || s.Recovered || s.Reads != 1 {
		t.Errorf("sector: %v", &s)
	}
	if s.Status != status.IDChecksumMismatch {
		t.Errorf("status = %v", s.Status)
	}
	if !bytes.Equal(s.Data, want[2].Data) {
		t.Errorf("best-effort data not kept")
	}
}

// corruptID flips the last bit of the first ID checksum byte of a sector.
func corruptID(t *testing.T, b *bitstream.Bitstream, sec int) *bitstream.Bitstream {
	t.Helper()
	attempts := sector.DecodeTrack(b, codec.MFM)
	i := attempts[sec].SyncOffset + 3*16 + 6*16 - 1
	data := b.Bytes()
	data[i/8] ^= 0x80 >> uint(i%8)
	return bitstream.FromBytes(data, b.Len())
}

func TestDecodeBadIDReread(t *testing.T) {
	want := layouts(testTrack, 0)
	b := encode(t, want)
	calls := 0
	opts := DefaultOptions()
	opts.Reread = captures(&calls, b)

	res, err := Decode(context.Background(),
		Input{Track: testTrack, Bits: corruptID(t, b, 1)}, opts)
	if err != nil {
		t.Fatal(err)
	}
	checkSectors(t, res, want)
	if calls != 1 {
		t.Errorf("%v re-reads, want 1", calls)
	}
	s := res.Sectors[1]
	if !s.IDValid || s.Reads != 1 || s.Passes != 2 {
		t.Errorf("sector: %v, passes %v", &s, s.Passes)
	}
	st := res.Stats
	if st.BadIDs != 1 || st.SectorsFound != 4 || st.SectorsFailed != 0 {
		t.Errorf("stats: %+v", st)
	}
}

func TestDecodeDoubleDensity(t *testing.T) {
	want := layouts(testTrack, 0)
	iv := flux.FromBits(encode(t, want), 2000)
	res, err := Decode(context.Background(),
		Input{Track: testTrack, Intervals: iv}, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if res.Period != 2000 {
		t.Errorf("period = %v, want 2000", res.Period)
	}
	checkSectors(t, res, want)
}

func TestDecodeRereadZone(t *testing.T) {
	const tr = 31
	want := make([]sector.Layout, 3)
	for i := range want {
		data := make([]byte, sector.CommodoreDataLen)
		for j := range data {
			data[j] = byte(j*3 + i*17)
		}
		want[i] = sector.Layout{Track: tr, Sector: i, Data: data}
	}
	b, err := sector.EncodeTrack(codec.GCRCommodore, want)
	if err != nil {
		t.Fatal(err)
	}
	attempts := sector.DecodeTrack(b, codec.GCRCommodore)
	if len(attempts) != len(want) {
		t.Fatalf("found %v sectors", len(attempts))
	}
	// Cut the last data block short, so that sector needs another pass.
	short := b.Slice(0, attempts[2].End-1000)

	calls := 0
	opts := DefaultOptions()
	opts.Encoding = codec.GCRCommodore
	opts.Reread = func(ctx context.Context, track, head int) (Input, error) {
		calls++
		// The capture does not say which track it is.
		return Input{Intervals: flux.FromBits(b, codec.CommodorePeriod(tr))}, nil
	}

	res, err := Decode(context.Background(), Input{Track: tr, Bits: short}, opts)
	if err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("%v re-reads, want 1", calls)
	}
	checkSectors(t, res, want)
	if s := res.Sectors[2]; s.Passes != 2 || s.Reads != 1 {
		t.Errorf("sector: %v, passes %v", &s, s.Passes)
	}
}

func TestDecodeTraces(t *testing.T) {
	want := layouts(testTrack, 0)
	b := encode(t, want)
	iv := flux.FromBits(b, 1000)
	opts := DefaultOptions()
	opts.Forensic = true
	opts.Reread = func(ctx context.Context, track, head int) (Input, error) {
		return Input{Intervals: iv}, nil
	}

	res, err := Decode(context.Background(),
		Input{Track: testTrack, Bits: damage(t, b, 1, 10)}, opts)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Traces) != len(res.Attempts) || len(res.Attempts) != 8 {
		t.Fatalf("%v traces for %v attempts", len(res.Traces), len(res.Attempts))
	}

	// start[k] is the first bit produced by interval k.
	start := make([]int, len(iv)+1)
	for k, v := range iv {
		start[k+1] = start[k] + int(v/1000)
	}
	within := func(bit, k int) bool {
		return k >= 0 && k < len(iv) && bit >= start[k] && bit < start[k+1]
	}
	for i, tr := range res.Traces {
		a := res.Attempts[i]
		switch tr.Pass {
		case 1:
			if tr.FirstInterval != -1 || tr.LastInterval != -1 {
				t.Errorf("raw bitstream attempt %v: trace %+v", i, tr)
			}
		case 2:
			if !within(a.SyncOffset, tr.FirstInterval) ||
				!within(a.End-1, tr.LastInterval) {
				t.Errorf("attempt %v (%v): trace %+v", i, &a, tr)
			}
		default:
			t.Errorf("attempt %v: trace %+v", i, tr)
		}
	}
}
