// Package track runs the whole decoding pipeline for a track: flux to
// bits, bits to sector fields, and voting across the copies and passes
// of each sector.
package track

import (
	"context"
	"fmt"

	"github.com/zeebo/xxh3"
	"golang.org/x/exp/slices"

	"github.com/edorfaus/flux-recover/bitstream"
	"github.com/edorfaus/flux-recover/codec"
	"github.com/edorfaus/flux-recover/flux"
	"github.com/edorfaus/flux-recover/log"
	"github.com/edorfaus/flux-recover/sector"
	"github.com/edorfaus/flux-recover/status"
	"github.com/edorfaus/flux-recover/vote"
)

// Input is one capture of a track. Either Intervals or Bits is set; a
// raw bitstream skips clock estimation and pulse classification.
type Input struct {
	Track int
	Head  int

	Intervals []flux.Interval
	Bits      *bitstream.Bitstream
}

func (in Input) empty() bool {
	if in.Bits != nil {
		return in.Bits.Len() == 0
	}
	return len(in.Intervals) == 0
}

// RereadFunc captures a track again, for one extra pass.
type RereadFunc func(ctx context.Context, track, head int) (Input, error)

type Options struct {
	Encoding codec.Encoding
	// CellPeriod overrides the estimated cell period when non-zero.
	CellPeriod flux.Period
	Vote       vote.Config
	// Forensic keeps every attempt on the result, with a trace of the
	// flux intervals each one was decoded from.
	Forensic bool
	// Reread is called for the extra passes. Without it, only the copies
	// of each sector in the first capture are voted on.
	Reread RereadFunc
	// Progress is told about each extra pass before it is taken.
	Progress vote.ProgressFunc
}

func DefaultOptions() Options {
	return Options{Encoding: codec.MFM, Vote: vote.DefaultConfig()}
}

// Sector is the final record of one sector of a track.
type Sector struct {
	Track    int
	Head     int
	Number   int
	SizeCode uint8

	// Data is the best data found. It is nil only if no data field was
	// ever read; a failed sector keeps its best-effort bytes.
	Data []byte

	IDValid   bool
	DataValid bool
	// Confidence is the vote confidence, 0-100.
	Confidence int
	Failed     bool
	// Recovered is set when the data can be used: its checksum passed,
	// or the vote was confident enough.
	Recovered bool
	Deleted   bool
	// Passes is the number of passes that looked for this sector.
	Passes   int
	Reads    int
	Weak     []bool
	WeakBits int
	Status   status.Kind
}

func (s *Sector) String() string {
	return fmt.Sprintf(
		"T%02d H%d S%02d N%d: %v, confidence %v%%, %v reads, %v weak bits",
		s.Track, s.Head, s.Number, s.SizeCode, s.Status, s.Confidence,
		s.Reads, s.WeakBits,
	)
}

// Fingerprint returns a hash of the sector's data, for telling sectors
// apart across captures and disks. A sector without data gives 0.
func (s *Sector) Fingerprint() uint64 {
	if s.Data == nil {
		return 0
	}
	return xxh3.Hash(s.Data)
}

type Stats struct {
	SectorsFound     int
	SectorsRecovered int
	SectorsFailed    int
	// CRCErrorsFixed counts the sectors that had a read with a bad
	// checksum, but were recovered anyway.
	CRCErrorsFixed int
	WeakBitsFixed  int
	// BadIDs counts the ID fields whose checksum failed. Their reads are
	// not voted on; a sector only ever seen with a bad ID is reported as
	// failed, under the ID as read.
	BadIDs int
	// Passes is the number of captures of the track that were decoded.
	Passes int
}

func (s *Stats) Add(o Stats) {
	s.SectorsFound += o.SectorsFound
	s.SectorsRecovered += o.SectorsRecovered
	s.SectorsFailed += o.SectorsFailed
	s.CRCErrorsFixed += o.CRCErrorsFixed
	s.WeakBitsFixed += o.WeakBitsFixed
	s.BadIDs += o.BadIDs
	s.Passes += o.Passes
}

type Result struct {
	Track    int
	Head     int
	Encoding codec.Encoding
	// Period is the cell period used for the first capture, or zero if
	// it was a raw bitstream.
	Period flux.Period

	// Sectors is sorted by head and sector number.
	Sectors []Sector
	Stats   Stats

	// Attempts holds every decoded attempt, in Forensic mode only.
	Attempts []sector.Attempt
	// Traces maps each of Attempts back to the capture it came from.
	Traces []Trace

	// Err is set by DecodeDisk for a track that could not be decoded.
	Err error
}

// Trace locates an attempt in the flux of its capture. The intervals are
// indexes into Input.Intervals of the pass, or -1 when the pass was a raw
// bitstream.
type Trace struct {
	// Pass is the capture the attempt came from, counted from 1.
	Pass int
	// FirstInterval produced the first bit of the ID sync, and
	// LastInterval the last bit that was decoded.
	FirstInterval int
	LastInterval  int
}

func traceOf(b *bitstream.Bitstream, pass int, a *sector.Attempt) Trace {
	t := Trace{Pass: pass, FirstInterval: -1, LastInterval: -1}
	if i, ok := b.Source(a.SyncOffset); ok {
		t.FirstInterval = i
	}
	if i, ok := b.Source(a.End - 1); ok {
		t.LastInterval = i
	}
	return t
}

// Period returns the cell period to decode a capture with.
func (o Options) Period(in Input) flux.Period {
	if o.CellPeriod != 0 {
		return o.CellPeriod
	}
	switch o.Encoding {
	case codec.GCRCommodore:
		return codec.CommodorePeriod(in.Track)
	case codec.GCRApple:
		return codec.ApplePeriod
	}
	return codec.EstimatorFor(o.Encoding).Estimate(in.Intervals)
}

// Bits returns the bitstream of a capture, and the period it was
// decoded with.
func (o Options) Bits(in Input) (*bitstream.Bitstream, flux.Period) {
	if in.Bits != nil {
		return in.Bits, 0
	}
	p := o.Period(in)
	if o.Forensic {
		return flux.ToBitsTraced(in.Intervals, p), p
	}
	return flux.ToBits(in.Intervals, p), p
}

type key struct {
	track, head, sector int
}

// group collects the reads of one sector.
type group struct {
	key      key
	sizeCode uint8
	deleted  bool
	session  *vote.Session
	// marks holds the distinct data marks and stored checksums seen,
	// for verifying the voted data.
	marks  []mark
	status status.Kind
	bad    bool
}

type mark struct {
	mark   byte
	stored uint32
}

// badID collects the reads of a sector whose ID field failed its
// checksum, under the ID as read.
type badID struct {
	key      key
	sizeCode uint8
	data     []byte
	reads    int
	// pass is the first pass it was seen on.
	pass int
}

type decoder struct {
	opts   Options
	log    log.Track
	res    *Result
	groups []*group
	byKey  map[key]*group
	badIDs []*badID
	byBad  map[key]*badID
}

// Decode decodes one track. Sector level problems are recorded on the
// result; only invalid input and cancellation are returned as errors.
// When cancelled, the result holds what was decoded up to then.
func Decode(ctx context.Context, in Input, opts Options) (*Result, error) {
	if in.empty() {
		return nil, fmt.Errorf(
			"%w: no flux data for track %v head %v",
			status.ErrInvalidInput, in.Track, in.Head,
		)
	}
	if err := opts.Vote.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", status.ErrInvalidInput, err)
	}
	if _, err := codec.New(opts.Encoding); err != nil {
		return nil, fmt.Errorf("%w: %v", status.ErrInvalidInput, err)
	}
	if opts.Vote.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Vote.Timeout)
		defer cancel()
	}

	d := &decoder{
		opts: opts,
		log:  log.For(in.Track, in.Head),
		res: &Result{
			Track:    in.Track,
			Head:     in.Head,
			Encoding: opts.Encoding,
		},
		byKey: map[key]*group{},
		byBad: map[key]*badID{},
	}
	d.res.Period = d.pass(in, true)

	planned := vote.NewSession(opts.Vote).Planned()
	for pass := 2; pass <= planned && opts.Reread != nil; pass++ {
		if !d.pending() {
			break
		}
		if opts.Progress != nil {
			opts.Progress(in.Track, in.Head, pass, planned)
		}
		if err := ctx.Err(); err != nil {
			return d.cancelled(pass, err)
		}
		next, err := opts.Reread(ctx, in.Track, in.Head)
		if err == nil && next.empty() {
			err = fmt.Errorf("%w: empty capture", status.ErrInvalidInput)
		}
		if err != nil {
			if ctx.Err() != nil {
				return d.cancelled(pass, ctx.Err())
			}
			d.log.Warn("pass", pass, "failed:", err)
			d.missAll()
			continue
		}
		// The period of a Commodore zone depends on the track.
		next.Track, next.Head = in.Track, in.Head
		d.pass(next, false)
	}
	d.finish()
	return d.res, nil
}

func (d *decoder) cancelled(pass int, cause error) (*Result, error) {
	d.finish()
	for i := range d.res.Sectors {
		s := &d.res.Sectors[i]
		if !s.Recovered {
			s.Status = status.Cancelled
		}
	}
	return d.res, fmt.Errorf(
		"%w: track %v head %v at pass %v: %v",
		status.ErrCancelled, d.res.Track, d.res.Head, pass, cause,
	)
}

// pass decodes one capture and adds its reads to the groups. On later
// passes, only the sectors that still need reads are added to.
func (d *decoder) pass(in Input, first bool) flux.Period {
	b, p := d.opts.Bits(in)
	d.res.Stats.Passes++
	attempts := sector.DecodeTrack(b, d.opts.Encoding)
	d.log.F(2, "pass %v: %v bits at %vns, %v sectors\n",
		d.res.Stats.Passes, b.Len(), p, len(attempts))
	if d.opts.Forensic {
		d.res.Attempts = append(d.res.Attempts, attempts...)
		for i := range attempts {
			d.res.Traces = append(d.res.Traces,
				traceOf(b, d.res.Stats.Passes, &attempts[i]))
		}
	}

	seen := map[*group]bool{}
	for i := range attempts {
		a := &attempts[i]
		if !a.IDValid {
			d.res.Stats.BadIDs++
			d.log.F(2, "bad ID: %v\n", a)
			d.badID(a)
			continue
		}
		g := d.group(a, first)
		if g == nil {
			continue
		}
		seen[g] = true
		g.add(a, d.log)
	}
	if !first {
		for _, g := range d.groups {
			if !seen[g] && !g.session.Done() {
				g.session.Miss()
			}
		}
	}
	return p
}

// group returns the group for an attempt, creating it if needed. It
// returns nil for sectors that already have all the reads they need.
func (d *decoder) group(a *sector.Attempt, first bool) *group {
	k := key{a.Track, a.Head, a.Sector}
	g := d.byKey[k]
	if g == nil {
		g = &group{
			key:      k,
			sizeCode: a.SizeCode,
			session:  vote.NewSession(d.opts.Vote),
			status:   a.Status,
		}
		// A sector first seen on a later pass missed the earlier ones.
		for i := 1; i < d.res.Stats.Passes; i++ {
			g.session.Miss()
		}
		d.byKey[k] = g
		d.groups = append(d.groups, g)
		return g
	}
	if !first && g.session.Done() {
		return nil
	}
	return g
}

func (d *decoder) badID(a *sector.Attempt) {
	k := key{a.Track, a.Head, a.Sector}
	if d.byKey[k] != nil {
		return
	}
	r := d.byBad[k]
	if r == nil {
		r = &badID{key: k, sizeCode: a.SizeCode, pass: d.res.Stats.Passes}
		d.byBad[k] = r
		d.badIDs = append(d.badIDs, r)
	}
	r.reads++
	if r.data == nil && a.HasData {
		r.data = a.Data
		r.sizeCode = a.SizeCode
	}
}

func (g *group) add(a *sector.Attempt, l log.Track) {
	if !a.HasData {
		g.session.Miss()
		if g.session.Len() == 0 {
			g.status = a.Status
		}
		return
	}
	if a.SizeCode != g.sizeCode {
		l.Warn("sector", g.key.sector, "size code changed from",
			g.sizeCode, "to", a.SizeCode)
	}
	if err := g.session.Add(vote.ReadOf(a)); err != nil {
		l.F(2, "sector %v: read dropped: %v\n", g.key.sector, err)
		return
	}
	if !a.DataValid {
		g.bad = true
	}
	if a.Deleted {
		g.deleted = true
	}
	m := mark{a.Mark, a.Stored}
	if !slices.Contains(g.marks, m) {
		g.marks = append(g.marks, m)
	}
	g.status = a.Status
}

func (d *decoder) pending() bool {
	for _, g := range d.groups {
		if !g.session.Done() {
			return true
		}
	}
	// Another pass may read the ID correctly.
	for _, r := range d.badIDs {
		if d.byKey[r.key] == nil {
			return true
		}
	}
	return false
}

func (d *decoder) missAll() {
	for _, g := range d.groups {
		if !g.session.Done() {
			g.session.Miss()
		}
	}
}

func (d *decoder) finish() {
	d.res.Sectors = d.res.Sectors[:0]
	st := &d.res.Stats
	st.SectorsFound, st.SectorsRecovered, st.SectorsFailed = 0, 0, 0
	st.CRCErrorsFixed, st.WeakBitsFixed = 0, 0
	for _, g := range d.groups {
		s := d.sector(g)
		st.SectorsFound++
		if s.Recovered {
			st.SectorsRecovered++
			st.WeakBitsFixed += s.WeakBits
			if g.bad {
				st.CRCErrorsFixed++
			}
		} else {
			st.SectorsFailed++
			d.log.F(1, "failed: %v\n", &s)
		}
		d.res.Sectors = append(d.res.Sectors, s)
	}
	for _, r := range d.badIDs {
		if d.byKey[r.key] != nil {
			continue
		}
		s := Sector{
			Track:    r.key.track,
			Head:     r.key.head,
			Number:   r.key.sector,
			SizeCode: r.sizeCode,
			Data:     r.data,
			Failed:   true,
			Passes:   st.Passes - r.pass + 1,
			Reads:    r.reads,
			Status:   status.IDChecksumMismatch,
		}
		st.SectorsFound++
		st.SectorsFailed++
		d.log.F(1, "failed: %v\n", &s)
		d.res.Sectors = append(d.res.Sectors, s)
	}
	slices.SortFunc(d.res.Sectors, func(a, b Sector) int {
		if a.Head != b.Head {
			return a.Head - b.Head
		}
		if a.Number != b.Number {
			return a.Number - b.Number
		}
		return a.Track - b.Track
	})
}

func (d *decoder) sector(g *group) Sector {
	s := Sector{
		Track:    g.key.track,
		Head:     g.key.head,
		Number:   g.key.sector,
		SizeCode: g.sizeCode,
		IDValid:  true,
		Deleted:  g.deleted,
		Passes:   g.session.Passes(),
		Reads:    g.session.Len(),
	}
	res, err := g.session.Vote()
	if err != nil {
		// Never got a data field.
		s.Failed = true
		s.Status = g.status
		if s.Status == status.OK {
			s.Status = status.NoSyncFound
		}
		return s
	}
	s.Data = res.Data
	s.Confidence = res.Confidence
	s.Weak = res.Weak
	s.WeakBits = res.WeakBits
	s.Recovered = res.Recovered
	s.Status = res.Status
	s.DataValid = g.session.Good() || d.verify(g, res.Data)

	switch {
	case s.DataValid:
		s.Recovered = true
		s.Status = status.OK
	case res.Attempts < 2:
		// A single read with a bad checksum has nothing to vote against.
		s.Recovered = false
		s.Status = status.InsufficientReadPasses
	}
	s.Failed = !s.Recovered
	return s
}

// verify checks voted data against the checksums that were read.
func (d *decoder) verify(g *group, data []byte) bool {
	for _, m := range g.marks {
		if ok, _ := sector.Verify(d.opts.Encoding, m.mark, data, m.stored); ok {
			return true
		}
	}
	return false
}
