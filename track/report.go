package track

import (
	"bufio"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
)

// WriteReport writes a text recovery report: the settings used, the
// disk totals, and one line per track with any failed sectors listed.
func WriteReport(w io.Writer, opts Options, results []*Result) error {
	out := bufio.NewWriter(w)
	p := func(f string, v ...any) {
		fmt.Fprintf(out, f, v...)
	}

	p("Recovery report\n")
	p("  Encoding:        %v\n", opts.Encoding)
	if opts.CellPeriod != 0 {
		p("  Cell period:     %vns\n", opts.CellPeriod)
	} else {
		p("  Cell period:     estimated\n")
	}
	v := opts.Vote
	p("  Min confidence:  %v%%\n", v.MinConfidence)
	p("  Min attempts:    %v\n", v.MinAttempts)
	p("  Max passes:      %v (adaptive: %v)\n", v.MaxPasses, v.Adaptive)
	if v.Timeout > 0 {
		p("  Timeout:         %v\n", v.Timeout)
	}

	st := Totals(results)
	bytes, tracks := 0, 0
	for _, r := range results {
		if r == nil {
			continue
		}
		tracks++
		for _, s := range r.Sectors {
			if s.Recovered {
				bytes += len(s.Data)
			}
		}
	}
	n := humanize.Comma
	p("\nTotals\n")
	p("  Tracks:            %v\n", n(int64(tracks)))
	p("  Capture passes:    %v\n", n(int64(st.Passes)))
	p("  Sectors found:     %v\n", n(int64(st.SectorsFound)))
	p("  Sectors recovered: %v (%v)\n",
		n(int64(st.SectorsRecovered)), humanize.IBytes(uint64(bytes)))
	p("  Sectors failed:    %v\n", n(int64(st.SectorsFailed)))
	p("  CRC errors fixed:  %v\n", n(int64(st.CRCErrorsFixed)))
	p("  Weak bits fixed:   %v\n", n(int64(st.WeakBitsFixed)))
	p("  Bad ID fields:     %v\n", n(int64(st.BadIDs)))
	if st.SectorsFound > 0 {
		pct := float64(st.SectorsRecovered) * 100 / float64(st.SectorsFound)
		p("  Recovered:         %v%%\n", humanize.FtoaWithDigits(pct, 1))
	}

	p("\nTracks\n")
	for _, r := range results {
		if r == nil {
			continue
		}
		p("  T%02d.%d:", r.Track, r.Head)
		if r.Err != nil {
			p(" error: %v\n", r.Err)
			continue
		}
		s := r.Stats
		p(" %2d found, %2d recovered, %2d failed, %v passes",
			s.SectorsFound, s.SectorsRecovered, s.SectorsFailed, s.Passes)
		if s.CRCErrorsFixed > 0 || s.WeakBitsFixed > 0 {
			p(", %v fixed, %v weak bits", s.CRCErrorsFixed, s.WeakBitsFixed)
		}
		p("\n")
		for i := range r.Sectors {
			if sec := &r.Sectors[i]; sec.Failed {
				p("    failed: %v\n", sec)
			}
		}
	}
	return out.Flush()
}
