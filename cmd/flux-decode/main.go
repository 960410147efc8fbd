package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/alexflint/go-arg"

	"github.com/edorfaus/flux-recover/capture"
	"github.com/edorfaus/flux-recover/codec"
	"github.com/edorfaus/flux-recover/config"
	"github.com/edorfaus/flux-recover/flux"
	"github.com/edorfaus/flux-recover/log"
	"github.com/edorfaus/flux-recover/track"
	"github.com/edorfaus/flux-recover/wav"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var args = struct {
	Inputs []string `arg:"positional,required" help:"track captures (wav); give several captures of one track as a,b,c to use the extra ones as re-reads"`
	Output string   `arg:"-o" help:"output report file, - for stdout"`

	Profile    string `help:"YAML recovery profile"`
	Encoding   string `help:"fm, mfm, amiga, c64 or apple (overrides the profile)"`
	Period     uint32 `help:"cell period in ns, 0 to estimate (overrides the profile)"`
	FirstTrack int    `help:"track number of the first input"`
	Head       int    `help:"head (side) of the inputs"`
	Workers    int    `help:"tracks decoded in parallel, 0 for all CPUs (overrides the profile)"`
	Sectors    bool   `help:"list every sector, not just failed ones"`

	Channel    int  `help:"wav channel to read, -1 for the last"`
	NoiseFloor int  `help:"noise floor; 0 means use 2% of max"`
	NoClean    bool `help:"do not remove the DC offset first"`
	LogLevel   int  `help:"set the logging level (verbosity)"`
}{
	Output:   "-",
	Channel:  wav.LastChannel,
	LogLevel: -1,
}

func run() (retErr error) {
	argParser := arg.MustParse(&args)

	cfg := config.Default()
	if args.Profile != "" {
		var err error
		if cfg, err = config.Load(args.Profile); err != nil {
			return err
		}
	}
	if args.Encoding != "" {
		enc, err := codec.ParseEncoding(args.Encoding)
		if err != nil {
			argParser.Fail(err.Error())
		}
		cfg.Encoding = enc
	}
	if args.Period != 0 {
		cfg.CellPeriod = args.Period
	}
	if args.Workers != 0 {
		cfg.Workers = args.Workers
	}
	if err := cfg.Validate(); err != nil {
		argParser.Fail(err.Error())
	}

	log.Level = cfg.Logging.Level
	if args.LogLevel >= 0 {
		log.Level = args.LogLevel
	}
	if log.Level >= 1 {
		cfg.Print(os.Stdout)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	opts := cfg.Options()
	jobs, rereads := makeJobs(cfg)
	opts.Reread = rereads.next
	opts.Progress = func(tr, head, pass, planned int) {
		log.For(tr, head).F(1, "pass %v of %v\n", pass, planned)
	}

	results, err := track.DecodeDisk(ctx, jobs, opts, cfg.Workers)
	if results == nil {
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

	if args.Sectors {
		writeSectors(out, results)
	}
	if werr := track.WriteReport(out, opts, results); werr != nil {
		return werr
	}
	// A cancelled run still reports what it got.
	return err
}

func writeSectors(out io.Writer, results []*track.Result) {
	fmt.Fprintln(out, "Sectors")
	for _, r := range results {
		if r == nil {
			continue
		}
		for i := range r.Sectors {
			s := &r.Sectors[i]
			mark := " "
			switch {
			case s.Failed:
				mark = "!"
			case !s.DataValid:
				mark = "~"
			}
			fmt.Fprintf(out, " %v %v [%016x]\n", mark, s, s.Fingerprint())
		}
	}
	fmt.Fprintln(out)
}

// captureSet holds the extra captures of each track, handed out one per
// re-read pass.
type captureSet struct {
	cfg   *config.Config
	files map[[2]int]*[]string
}

func makeJobs(cfg *config.Config) ([]track.Job, *captureSet) {
	set := &captureSet{cfg: cfg, files: map[[2]int]*[]string{}}
	var jobs []track.Job
	for i, in := range args.Inputs {
		files := strings.Split(in, ",")
		tr, head := args.FirstTrack+i, args.Head
		extra := files[1:]
		set.files[[2]int{tr, head}] = &extra
		first := files[0]
		jobs = append(jobs, track.Job{
			Track: tr,
			Head:  head,
			Load: func(ctx context.Context) (track.Input, error) {
				return set.load(first, tr, head)
			},
		})
	}
	return jobs, set
}

// next is only called from the worker of the track it reads, and the
// map is not modified after setup, so no locking is needed.
func (c *captureSet) next(
	ctx context.Context, tr, head int,
) (track.Input, error) {
	files := c.files[[2]int{tr, head}]
	if files == nil || len(*files) == 0 {
		return track.Input{}, fmt.Errorf("no more captures of track %v", tr)
	}
	fn := (*files)[0]
	*files = (*files)[1:]
	return c.load(fn, tr, head)
}

func (c *captureSet) load(fn string, tr, head int) (track.Input, error) {
	rec, err := wav.Load(fn, args.Channel)
	if err != nil {
		return track.Input{}, err
	}
	type d = time.Duration
	log.F(
		1, "Input: %v: %v %v-bit samples at %v Hz = %v\n", fn,
		len(rec.Samples), rec.BitDepth, rec.SampleRate,
		d(len(rec.Samples))*time.Second/d(rec.SampleRate),
	)
	period := flux.Period(c.cfg.CellPeriod)
	if period == 0 {
		period = track.Options{Encoding: c.cfg.Encoding}.Period(track.Input{Track: tr})
	}
	iv, err := capture.Intervals(rec.Samples, capture.Options{
		SampleRate: rec.SampleRate,
		BitDepth:   rec.BitDepth,
		NoiseFloor: args.NoiseFloor,
		Period:     period,
		Baseline:   !args.NoClean,
	})
	if err != nil {
		return track.Input{}, fmt.Errorf("%v: %w", fn, err)
	}
	return track.Input{Track: tr, Head: head, Intervals: iv}, nil
}
