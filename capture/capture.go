// Package capture turns sampled read-head signals, such as WAV
// recordings, into flux intervals, and renders flux intervals back into
// samples.
package capture

import (
	"fmt"

	"github.com/edorfaus/flux-recover/flux"
	"github.com/edorfaus/flux-recover/log"
	"github.com/edorfaus/flux-recover/status"
)

// DefaultNoiseFloor returns the noise floor for samples of the given
// bit depth: 2% of full scale.
func DefaultNoiseFloor(bits int) int {
	maxValue := 1 << (bits - 1)
	return maxValue * 2 / 100
}

// PeakWidth returns the number of samples in one bit cell, rounded up.
func PeakWidth(p flux.Period, sampleRate int) int {
	n := uint64(p) * uint64(sampleRate)
	return int((n + 1e9 - 1) / 1e9)
}

type Options struct {
	SampleRate int
	BitDepth   int
	// NoiseFloor defaults to DefaultNoiseFloor of the bit depth.
	NoiseFloor int
	// Period is the nominal cell period, used to size the baseline
	// filter's peak width and the longest allowed zero crossing.
	Period flux.Period
	// Baseline removes the DC offset before looking for edges.
	Baseline bool
}

func (o Options) noiseFloor() int {
	if o.NoiseFloor > 0 {
		return o.NoiseFloor
	}
	return DefaultNoiseFloor(o.BitDepth)
}

// Edges returns the crossing position of every edge to high or low, in
// 1/256 samples. A dropout in the signal ends a run of edges; the runs
// are returned separately.
func Edges(samples []int, o Options) [][]int64 {
	nf := o.noiseFloor()
	pw := PeakWidth(o.Period, o.SampleRate)
	if o.Baseline {
		samples = Baseline{NoiseFloor: nf, PeakWidth: pw}.Apply(samples)
	}
	// A crossing longer than a few cells is a dropout, not a transition.
	ed := NewEdgeDetect(samples, nf, pw*4)

	var runs [][]int64
	var cur []int64
	for ed.Next() {
		if ed.CurKind == EdgeToNone {
			if len(cur) > 0 {
				runs = append(runs, cur)
				cur = nil
			}
			continue
		}
		cur = append(cur, ed.Crossing())
	}
	if len(cur) > 0 {
		runs = append(runs, cur)
	}
	return runs
}

// Intervals returns the flux intervals of a capture, in nanoseconds.
// Where the signal drops out, the interval across the gap is left out.
func Intervals(samples []int, o Options) ([]flux.Interval, error) {
	if o.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %v", status.ErrInvalidInput, o.SampleRate)
	}
	if o.BitDepth <= 0 && o.NoiseFloor <= 0 {
		return nil, fmt.Errorf("%w: no bit depth or noise floor", status.ErrInvalidInput)
	}
	if o.Period == 0 {
		o.Period = flux.DefaultEstimator.Double
	}

	defer log.Time(1, "Finding edges...")(" done in")

	runs := Edges(samples, o)
	var out []flux.Interval
	rate := int64(o.SampleRate)
	for _, run := range runs {
		for i := 1; i < len(run); i++ {
			d := (run[i] - run[i-1]) * 1e9 / 256 / rate
			out = append(out, flux.Interval(d))
		}
	}
	log.F(2, "%v edge runs, %v intervals\n", len(runs), len(out))
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no flux transitions found", status.ErrInvalidInput)
	}
	return out, nil
}

// Render returns a square wave that changes polarity at each flux
// transition, starting low. Some quiet samples are added at each end.
func Render(intervals []flux.Interval, sampleRate, amplitude int) []int {
	var total uint64
	for _, iv := range intervals {
		total += uint64(iv)
	}
	rate := uint64(sampleRate)
	lead := 16
	n := int(total*rate/1e9) + 2*lead + 1
	out := make([]int, n)

	pos, level := lead, -amplitude
	var t uint64
	for _, iv := range intervals {
		t += uint64(iv)
		next := lead + int((t*rate+5e8)/1e9)
		for ; pos < next; pos++ {
			out[pos] = level
		}
		level = -level
	}
	// Finish the last level, so the final transition is an edge.
	for end := min(pos+lead/2, n); pos < end; pos++ {
		out[pos] = level
	}
	return out
}
