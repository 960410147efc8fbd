// Package flux turns flux transition timings into bits, and back.
package flux

import (
	"fmt"
)

// Interval is the time between two flux transitions, in nanoseconds.
type Interval uint32

// Period is the duration of one bit cell, in the same unit as Interval.
type Period uint32

// Estimator derives the bit-cell period of a track from the start of
// its flux data. It only tells high density from double density, which
// is all a fixed-rate drive needs; it does not follow speed variations.
type Estimator struct {
	// Boundary splits the median interval into high density (below) or
	// double density (at or above).
	Boundary Interval

	// High and Double are the cell periods returned for each density.
	High   Period
	Double Period
}

// DefaultEstimator is tuned for MFM at the standard 250/500 kbit/s,
// which is a cell period of 2000 or 1000 ns. The gaps between sectors
// give a median of three cells on high density, so the boundary sits
// between that and the two-cell median of a double density Amiga gap.
var DefaultEstimator = Estimator{
	Boundary: 3500,
	High:     1000,
	Double:   2000,
}

// estimateSamples is the number of intervals the median is taken over.
const estimateSamples = 5

// Estimate returns the bit-cell period for a track, given its flux
// intervals. Only the first few intervals are looked at.
func (e Estimator) Estimate(intervals []Interval) Period {
	p, _, _ := e.estimate(intervals)
	return p
}

// Median returns the median that Estimate would use, or false if there
// are too few intervals to estimate from.
func (e Estimator) Median(intervals []Interval) (Interval, bool) {
	_, m, ok := e.estimate(intervals)
	return m, ok
}

func (e Estimator) estimate(intervals []Interval) (Period, Interval, bool) {
	if e.Double == 0 {
		panic(fmt.Errorf("invalid estimator: no double density period"))
	}
	// The first interval runs from the index pulse, so it is usually
	// cut short; skip it and use the ones after.
	if len(intervals) < estimateSamples+1 {
		return e.Double, 0, false
	}

	var s [estimateSamples]Interval
	copy(s[:], intervals[1:])

	// Insertion sort; there are only five of them.
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
	median := s[estimateSamples/2]

	if median < e.Boundary && e.High != 0 {
		return e.High, median, true
	}
	return e.Double, median, true
}
