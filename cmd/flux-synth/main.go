package main

import (
	"fmt"
	"math/rand"
	"os"

	"github.com/alexflint/go-arg"

	"github.com/edorfaus/flux-recover/bitstream"
	"github.com/edorfaus/flux-recover/capture"
	"github.com/edorfaus/flux-recover/codec"
	"github.com/edorfaus/flux-recover/flux"
	"github.com/edorfaus/flux-recover/log"
	"github.com/edorfaus/flux-recover/sector"
	"github.com/edorfaus/flux-recover/wav"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var args = struct {
	Output string `arg:"positional,required" help:"output wav file"`

	Encoding codec.Encoding `help:"fm, mfm, amiga, c64 or apple"`
	Track    int            `help:"track number written into the sector IDs"`
	Head     int            `help:"head (side) written into the sector IDs"`
	Sectors  int            `help:"number of sectors"`
	SizeCode uint8          `help:"IBM size code (128 << n bytes); ignored by fixed-size encodings"`
	Seed     int64          `help:"seed for the sector contents and the jitter"`
	Damage   []int          `help:"sector numbers to corrupt"`

	Period     uint32 `help:"cell period in ns; 0 for the encoding's usual one"`
	Jitter     int    `help:"random timing jitter, in percent of each interval"`
	SampleRate int    `help:"sample rate in Hz"`
	BitDepth   int    `help:"bits per sample"`
	LogLevel   int    `help:"set the logging level (verbosity)"`
}{
	Encoding:   codec.MFM,
	Track:      1,
	Sectors:    9,
	SizeCode:   2,
	SampleRate: 10000000,
	BitDepth:   16,
	LogLevel:   log.Level,
}

func run() error {
	argParser := arg.MustParse(&args)
	if args.Sectors < 1 {
		argParser.Fail("need at least one sector")
	}
	if args.Jitter < 0 || args.Jitter > 20 {
		argParser.Fail("jitter must be between 0 and 20 percent")
	}
	if args.BitDepth != 16 && args.BitDepth != 24 {
		argParser.Fail("bit depth must be 16 or 24")
	}

	log.Level = args.LogLevel

	rng := rand.New(rand.NewSource(args.Seed))
	layouts := makeLayouts(rng)

	b, err := sector.EncodeTrack(args.Encoding, layouts)
	if err != nil {
		return err
	}
	for _, n := range args.Damage {
		if b, err = damage(b, n); err != nil {
			return err
		}
	}

	period := flux.Period(args.Period)
	if period == 0 {
		period = defaultPeriod(args.Encoding, args.Track)
	}
	iv := flux.FromBits(b, period)
	if args.Jitter > 0 {
		jitter(rng, iv, args.Jitter)
	}
	log.F(
		1, "Track %v.%v: %v sectors of %v, %v bits, %v transitions at %vns\n",
		args.Track, args.Head, len(layouts), args.Encoding, b.Len(),
		len(iv), period,
	)

	amplitude := (1 << (args.BitDepth - 1)) * 3 / 4
	samples := capture.Render(iv, args.SampleRate, amplitude)
	return wav.Save(args.Output, wav.Recording{
		Samples: samples,
		Meta: wav.Meta{
			SampleRate:  args.SampleRate,
			BitDepth:    args.BitDepth,
			NumChannels: 1,
		},
	})
}

func makeLayouts(rng *rand.Rand) []sector.Layout {
	size := sector.FixedSize(args.Encoding)
	if size == 0 {
		size = sector.PayloadSize(args.SizeCode)
	}
	first := 1
	if args.Encoding == codec.GCRCommodore || args.Encoding == codec.GCRApple ||
		args.Encoding == codec.AmigaMFM {
		first = 0
	}
	out := make([]sector.Layout, args.Sectors)
	for i := range out {
		data := make([]byte, size)
		rng.Read(data)
		out[i] = sector.Layout{
			Track:    args.Track,
			Head:     args.Head,
			Sector:   first + i,
			SizeCode: args.SizeCode,
			Data:     data,
		}
	}
	return out
}

// damage flips two adjacent bits halfway through the given sector's
// fields, which lands in its data field. Two bits make sure a data bit
// is hit in the clocked encodings.
func damage(b *bitstream.Bitstream, n int) (*bitstream.Bitstream, error) {
	for _, a := range sector.DecodeTrack(b, args.Encoding) {
		if a.Sector != n || !a.Valid() {
			continue
		}
		mid := (a.SyncOffset + a.End) / 2
		var w bitstream.Builder
		for i := 0; i < b.Len(); i++ {
			bit := b.Bit(i)
			if i == mid || i == mid+1 {
				bit ^= 1
			}
			w.AppendBit(bit)
		}
		log.F(2, "Damaged sector %v at bit %v\n", n, mid)
		return w.Bitstream(), nil
	}
	return nil, fmt.Errorf("no sector %v to damage", n)
}

func defaultPeriod(enc codec.Encoding, tr int) flux.Period {
	switch enc {
	case codec.GCRCommodore:
		return codec.CommodorePeriod(tr)
	case codec.GCRApple:
		return codec.ApplePeriod
	}
	return codec.EstimatorFor(enc).Double
}

func jitter(rng *rand.Rand, iv []flux.Interval, percent int) {
	for i, v := range iv {
		span := int(v) * percent / 100
		if span == 0 {
			continue
		}
		iv[i] = flux.Interval(int(v) + rng.Intn(2*span+1) - span)
	}
}
