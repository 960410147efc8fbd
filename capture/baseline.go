package capture

import (
	"golang.org/x/exp/slices"

	"github.com/edorfaus/flux-recover/log"
)

// Baseline follows the DC offset of a capture, so that zero crossings
// can be found in a signal that drifts.
//
// Between pulse trains, the offset follows the middle of the noise. In
// a pulse train it is the middle between the last high and low peaks.
type Baseline struct {
	NoiseFloor int
	// PeakWidth is the nominal pulse width in samples. A peak longer
	// than six of these is cut short.
	PeakWidth int
}

// Peak is one excursion of the signal outside the noise.
type Peak struct {
	Value int // value at the tip
	Index int // index of the tip
	Start int // first sample outside the noise
	End   int // last sample outside the noise
	Next  int // where the next peak, or the noise, starts
	High  bool
}

// Offsets returns the DC offset at each sample.
func (f Baseline) Offsets(data []int) []int {
	pw, nf := f.PeakWidth, f.NoiseFloor
	if pw <= 0 {
		pw = 1
	}
	out := make([]int, len(data))
	offset := 0
	var high, low *Peak
	long := 0

	for pos := 0; pos < len(data); {
		to := min(pos+pw, len(data))
		lo, hi := lowHigh(data[pos:to])
		if abs(lo-offset) <= nf && abs(hi-offset) <= nf {
			// Only noise: drift towards its middle.
			offset = (offset + (lo+hi)/2) / 2
			out[pos] = offset
			pos++
			high, low = nil, nil
			continue
		}
		for abs(data[pos]-offset) <= nf {
			out[pos] = offset
			pos++
		}

		p := f.peakAt(data, pos, offset, pw)
		if p.End < 0 {
			long++
			p.End = p.Next - 1
		}
		if p.High {
			high = &p
		} else {
			low = &p
		}
		if high != nil && low != nil {
			offset = (high.Value + low.Value) / 2
		}
		for ; pos < p.Next; pos++ {
			out[pos] = offset
		}
	}
	if long > 0 {
		log.F(2, "baseline: %v peaks cut short\n", long)
	}
	return out
}

// Apply returns the samples with the DC offset removed.
func (f Baseline) Apply(data []int) []int {
	out := f.Offsets(data)
	for i, v := range data {
		out[i] = v - out[i]
	}
	return out
}

// peakAt finds the extent and tip of the peak starting at start. End is
// -1 if the peak was cut short.
func (f Baseline) peakAt(data []int, start, offset, pw int) Peak {
	nf := f.NoiseFloor
	side := 1
	if data[start]-offset < 0 {
		side = -1
	}
	p := Peak{
		Value: data[start],
		Index: start,
		Start: start,
		End:   start,
		High:  side > 0,
	}
	i, stop := start, start+pw*6
	for ; i < len(data) && i < stop && (data[i]-offset)*side >= -nf; i++ {
		if (data[i]-p.Value)*side > 0 {
			p.Value, p.Index = data[i], i
		}
		if (data[i]-offset)*side > nf {
			p.End = i
		} else if i-p.End > pw {
			// A full peak width of noise ends the train.
			p.Next = p.End + 1
			return p
		}
	}
	if i >= stop && i < len(data) && (data[i]-offset)*side > nf {
		p.End = -1
	}
	p.Next = i
	return p
}

func lowHigh(v []int) (low, high int) {
	return slices.Min(v), slices.Max(v)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
