package capture

type EdgeKind int

const (
	EdgeToNone EdgeKind = iota
	EdgeToHigh
	EdgeToLow
)

func (k EdgeKind) String() string {
	switch k {
	case EdgeToNone:
		return "N"
	case EdgeToHigh:
		return "H"
	case EdgeToLow:
		return "L"
	default:
		return "?"
	}
}

// EdgeDetect finds the flux transitions in a capture: the points where
// the signal crosses from one side of zero to the other.
//
// Nothing is assumed to be outside the given samples; that is, before
// and after them the signal is neither high nor low. So if the samples
// are high or low at either end, that end is an edge.
type EdgeDetect struct {
	Samples []int

	// NoiseFloor is the largest absolute sample value that is taken as
	// noise instead of signal.
	NoiseFloor int

	// MaxCrossingTime is the longest time, in samples, the signal may
	// stay within the noise while crossing from high to low (or back).
	// A longer stay is an edge to none: the signal dropped out.
	MaxCrossingTime int

	// The index (in samples) and kind of the current edge. For an edge
	// to high or low, the index is the first sample past zero.
	CurIndex int
	CurKind  EdgeKind

	PrevIndex int
	PrevKind  EdgeKind
}

func NewEdgeDetect(samples []int, noiseFloor, maxCrossing int) *EdgeDetect {
	return &EdgeDetect{
		Samples:         samples,
		NoiseFloor:      noiseFloor,
		MaxCrossingTime: maxCrossing,
	}
}

// Next moves to the next edge, returning false at the end of the data.
func (e *EdgeDetect) Next() bool {
	e.PrevIndex, e.PrevKind = e.CurIndex, e.CurKind

	if e.CurIndex >= len(e.Samples) {
		e.CurKind = EdgeToNone
		return false
	}

	switch e.CurKind {
	case EdgeToNone:
		return e.nextFromNone()
	case EdgeToLow:
		return e.nextFrom(-1)
	case EdgeToHigh:
		return e.nextFrom(1)
	}

	panic("bad state: unknown value in EdgeDetect.CurKind")
}

// Crossing returns the position of the current edge's zero crossing,
// in 1/256 samples, interpolated between the samples on either side.
func (e *EdgeDetect) Crossing() int64 {
	i, s := e.CurIndex, e.Samples
	pos := int64(i) << 8
	if e.CurKind == EdgeToNone || i <= 0 || i >= len(s) {
		return pos
	}
	a, b := int64(s[i-1]), int64(s[i])
	if a == b {
		return pos
	}
	// The line from a to b crosses zero at a/(a-b) of the way.
	frac := a * 256 / (a - b)
	if frac < 0 || frac > 256 {
		return pos
	}
	return pos - 256 + frac
}

func (e *EdgeDetect) nextFromNone() bool {
	i, s, noise := e.CurIndex, e.Samples, e.NoiseFloor

	for i < len(s) && s[i] <= noise && s[i] >= -noise {
		i++
	}
	e.CurIndex = i
	if i >= len(s) {
		e.CurKind = EdgeToNone
		return false
	}

	// Place the edge where the signal left zero, not where it left the
	// noise, so it lines up with the crossings found later.
	positive := s[i] > noise
	for i > e.PrevIndex && i > 0 && (s[i-1] > 0) == positive && s[i-1] != 0 {
		i--
	}
	e.CurIndex = i

	if positive {
		e.CurKind = EdgeToHigh
	} else {
		e.CurKind = EdgeToLow
	}
	return true
}

// nextFrom finds the next edge from a high (side 1) or low (side -1).
// Dips into the noise that come back out on the same side are ignored,
// unless they are long enough to be an edge to none.
func (e *EdgeDetect) nextFrom(side int) bool {
	i, s, noise := e.CurIndex, e.Samples, e.NoiseFloor
	maxTime := e.MaxCrossingTime
	t := maxTime

	for i++; i < len(s) && s[i]*side >= -noise; i++ {
		if s[i]*side > noise {
			t = maxTime
			continue
		}
		t--
		if t < 0 {
			break
		}
	}

	if i >= len(s) || t < 0 {
		e.CurKind = EdgeToNone
		e.CurIndex = i
		return true
	}

	// Look back for where it crossed zero.
	for i--; s[i]*side < 0; {
		i--
	}
	e.CurIndex = i + 1
	if side > 0 {
		e.CurKind = EdgeToLow
	} else {
		e.CurKind = EdgeToHigh
	}
	return true
}
