package main

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/exp/slices"

	"github.com/alexflint/go-arg"

	"github.com/edorfaus/flux-recover/capture"
	"github.com/edorfaus/flux-recover/codec"
	"github.com/edorfaus/flux-recover/flux"
	"github.com/edorfaus/flux-recover/log"
	"github.com/edorfaus/flux-recover/wav"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var args = struct {
	Stats  bool   `help:"print some statistics"`
	Input  string `arg:"positional,required" help:"input wav file"`
	Output string `arg:"positional" help:"output wav file"`
	Debug  bool   `help:"print verbose debug info (log level 4)"`

	Channel    int            `help:"wav channel to read, -1 for the last"`
	Encoding   codec.Encoding `help:"encoding, used for the default peak width"`
	Period     uint32         `help:"cell period in ns; 0 for the encoding's usual one"`
	NoiseFloor int            `help:"noise floor; 0 means use 2% of max"`
	PeakWidth  int            `help:"width of a peak; 0 means use the cell period"`
	Offsets    bool           `help:"output offsets instead of adjusted samples"`
}{
	Output:   "out.wav",
	Channel:  wav.LastChannel,
	Encoding: codec.MFM,
}

func run() error {
	arg.MustParse(&args)

	if args.Debug {
		log.Level = 4
	}

	rec, err := wav.Load(args.Input, args.Channel)
	if err != nil {
		return err
	}
	samples, rate, bits := rec.Samples, rec.SampleRate, rec.BitDepth
	if len(samples) == 0 {
		return fmt.Errorf("%v: no samples", args.Input)
	}

	type d = time.Duration
	fmt.Printf(
		"Input: %v %v-bit samples at %v Hz = %v\n",
		len(samples), bits, rate, d(len(samples))*time.Second/d(rate),
	)

	if args.Stats {
		l, h := slices.Min(samples), slices.Max(samples)
		fmt.Printf("Input sample min: %v, max: %v\n", l, h)
	}

	offsets := runFilter(samples, rate, bits)

	output := make([]int, len(samples))
	for i, v := range samples {
		output[i] = v - offsets[i]
	}

	if args.Stats {
		outputStats(offsets, output)
	}
	if args.Offsets {
		output = offsets
	}

	rec.Samples = output
	return wav.Save(args.Output, rec)
}

func runFilter(samples []int, rate, bits int) []int {
	defer log.Time(1, "Running filter...\n")("Filter done in")

	noiseFloor := capture.DefaultNoiseFloor(bits)
	if args.NoiseFloor > 0 {
		noiseFloor = args.NoiseFloor
	}

	peakWidth := args.PeakWidth
	if peakWidth <= 0 {
		p := flux.Period(args.Period)
		if p == 0 {
			p = codec.EstimatorFor(args.Encoding).Double
			if args.Encoding == codec.GCRApple {
				p = codec.ApplePeriod
			}
		}
		peakWidth = capture.PeakWidth(p, rate)
	}

	log.F(1, "Noise floor: %v, peak width: %v\n", noiseFloor, peakWidth)

	f := capture.Baseline{NoiseFloor: noiseFloor, PeakWidth: peakWidth}
	return f.Offsets(samples)
}

func outputStats(offsets, output []int) {
	total := 0.0
	var ol, oh, sl, sh int

	func() {
		defer log.Time(2, "Running stats...")(" done in")
		sl, sh = slices.Min(output), slices.Max(output)
		ol, oh = slices.Min(offsets), slices.Max(offsets)
		for _, v := range offsets {
			total += float64(v)
		}
	}()

	fmt.Printf(
		"Offsets: min: %v, max: %v, avg: %.3v\n",
		ol, oh, total/float64(len(offsets)),
	)
	fmt.Printf("Output sample min: %v, max: %v\n", sl, sh)
}
