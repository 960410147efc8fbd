package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/dustin/go-humanize"
	"golang.org/x/exp/slices"

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
	Input  string `arg:"positional,required" help:"input wav file"`
	Output string `arg:"positional" help:"output text file, - for stdout"`

	Encoding codec.Encoding `help:"encoding, used to pick the clock estimator"`
	Period   uint32         `help:"cell period in ns; 0 to estimate it"`
	Track    int            `help:"track number, for the Commodore speed zones"`

	Channel    int  `help:"wav channel to read, -1 for the last"`
	NoiseFloor int  `help:"noise floor; 0 means use 2% of max"`
	NoClean    bool `help:"do not remove the DC offset first"`
	LogLevel   int  `help:"set the logging level (verbosity)"`
}{
	Output:   "-",
	Encoding: codec.MFM,
	Track:    1,
	Channel:  wav.LastChannel,
	LogLevel: log.Level,
}

func run() (retErr error) {
	argParser := arg.MustParse(&args)
	if args.Period != 0 && (args.Period < 100 || args.Period > 20000) {
		argParser.Fail("period must be 0 or between 100 and 20000 ns")
	}

	log.Level = args.LogLevel

	rec, err := wav.Load(args.Input, args.Channel)
	if err != nil {
		return err
	}
	rate, bits := rec.SampleRate, rec.BitDepth

	type d = time.Duration
	log.F(
		1, "Input: %v %v-bit samples at %v Hz = %v\n",
		len(rec.Samples), bits, rate, d(len(rec.Samples))*time.Second/d(rate),
	)

	// The edge finder only needs a rough period for its peak width.
	est := codec.EstimatorFor(args.Encoding)
	iv, err := capture.Intervals(rec.Samples, capture.Options{
		SampleRate: rate,
		BitDepth:   bits,
		NoiseFloor: args.NoiseFloor,
		Period:     roughPeriod(est),
		Baseline:   !args.NoClean,
	})
	if err != nil {
		return err
	}

	var out *bufio.Writer
	if args.Output == "-" {
		out = bufio.NewWriter(os.Stdout)
	} else {
		f, err := os.Create(args.Output)
		if err != nil {
			return err
		}
		defer func() {
			if err := f.Close(); err != nil && retErr == nil {
				retErr = err
			}
		}()
		out = bufio.NewWriter(f)
	}
	defer func() {
		if err := out.Flush(); err != nil && retErr == nil {
			retErr = err
		}
	}()

	runStats(iv, est, out)
	return nil
}

func roughPeriod(est flux.Estimator) flux.Period {
	if args.Period != 0 {
		return flux.Period(args.Period)
	}
	switch args.Encoding {
	case codec.GCRCommodore:
		return codec.CommodorePeriod(args.Track)
	case codec.GCRApple:
		return codec.ApplePeriod
	}
	return est.Double
}

func runStats(iv []flux.Interval, est flux.Estimator, out io.Writer) {
	defer log.Time(1, "Processing pulses...\n")("Processing done in")

	period := flux.Period(args.Period)
	median, ok := est.Median(iv)
	switch {
	case period != 0:
		fmt.Fprintf(out, "period: %vns (given)\n", period)
	case args.Encoding == codec.GCRCommodore || args.Encoding == codec.GCRApple:
		period = roughPeriod(est)
		fmt.Fprintf(out, "period: %vns (fixed for %v)\n", period, args.Encoding)
	default:
		period = est.Estimate(iv)
		if ok {
			fmt.Fprintf(out, "period: %vns (median %vns)\n", period, median)
		} else {
			fmt.Fprintf(out, "period: %vns (too few intervals)\n", period)
		}
	}

	pulseStats := map[[2]flux.Category][2]Stats{}
	var overall Stats
	var perCell Stats

	prevClass := flux.Noise
	prevWidth := 0.0
	for _, v := range iv {
		w := float64(v)
		class := flux.Classify(v, period)

		key := [2]flux.Category{prevClass, class}
		s := pulseStats[key]
		s[0].Add(prevWidth)
		s[1].Add(w)
		pulseStats[key] = s

		overall.Add(w)
		if class.Valid() && class != flux.Long {
			perCell.Add(w / float64(class.Bits()))
		}

		prevClass, prevWidth = class, w
	}

	keys := make([][2]flux.Category, 0, len(pulseStats))
	maxCount := 0
	for k, v := range pulseStats {
		keys = append(keys, k)
		// v[0].Count == v[1].Count unless something is very wrong.
		maxCount = max(maxCount, v[0].Count)
	}
	slices.SortFunc(keys, func(a, b [2]flux.Category) int {
		if a[0] != b[0] {
			return int(a[0]) - int(b[0])
		}
		return int(a[1]) - int(b[1])
	})

	csz := max(len(fmt.Sprint(maxCount)), len("count"))
	vsz := len(fmt.Sprintf("%.1f", overall.Max))

	fmt.Fprintf(
		out,
		"\n - : %*v ; %*v,%-*v - %*v,%-*v ; %*v,%-*v\n",
		csz, "count", vsz, "minA", vsz, "minB", vsz, "maxA",
		vsz, "maxB", vsz, "avgA", vsz, "avgB",
	)
	for _, k := range keys {
		v := pulseStats[k]
		fmt.Fprintf(
			out,
			"%v-%v: %*v ; %*.1f,%*.1f - %*.1f,%*.1f ; %*.1f,%*.1f\n",
			k[0], k[1], csz, v[0].Count,
			vsz, v[0].Min, vsz, v[1].Min,
			vsz, v[0].Max, vsz, v[1].Max,
			vsz, v[0].Avg(), vsz, v[1].Avg(),
		)
	}

	h := flux.Count(iv, period)
	fmt.Fprintf(out, "\nhistogram:\n")
	for c, n := range h {
		pct := 0.0
		if t := h.Total(); t > 0 {
			pct = float64(n) * 100 / float64(t)
		}
		bar := strings.Repeat("#", int(pct/2+0.5))
		fmt.Fprintf(
			out, "  %v: %*v %5.1f%% %v\n",
			flux.Category(c), csz, humanize.Comma(int64(n)), pct, bar,
		)
	}

	fmt.Fprintf(
		out, "\noverall: %v ; %.1f - %.1f ; %.1f\n",
		humanize.Comma(int64(overall.Count)), overall.Min, overall.Max,
		overall.Avg(),
	)
	if perCell.Count > 0 {
		fmt.Fprintf(
			out, "cell width: %v ; %.1f - %.1f ; %.1f\n",
			humanize.Comma(int64(perCell.Count)), perCell.Min, perCell.Max,
			perCell.Avg(),
		)
	}
}

type Stats struct {
	Min, Max, Tot float64

	Count int
}

func (s *Stats) Add(v float64) {
	if s.Count == 0 {
		s.Min, s.Max, s.Tot, s.Count = v, v, v, 1
		return
	}
	s.Min = min(s.Min, v)
	s.Max = max(s.Max, v)
	s.Tot += v
	s.Count++
}

func (s *Stats) Avg() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.Tot / float64(s.Count)
}
