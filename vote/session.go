package vote

import (
	"context"
	"fmt"

	"github.com/edorfaus/flux-recover/log"
	"github.com/edorfaus/flux-recover/status"
)

// ErrSessionFull is returned by Session.Add when MaxAttempts reads have
// already been added.
var ErrSessionFull = fmt.Errorf("vote session is full")

// Session collects the reads of one sector across passes. It is owned
// by one caller, and is not safe for concurrent use.
type Session struct {
	cfg    Config
	reads  []Read
	passes int
	good   int
}

func NewSession(cfg Config) *Session {
	return &Session{cfg: cfg, good: -1}
}

// Add adds the read of one pass. A read that can not be voted with the
// ones before it is rejected, but its pass is still counted.
func (s *Session) Add(r Read) error {
	s.passes++
	if len(s.reads) >= MaxAttempts {
		return ErrSessionFull
	}
	if len(r.Data) == 0 {
		return fmt.Errorf("%w: empty read", status.ErrInvalidInput)
	}
	if len(s.reads) > 0 && len(r.Data) != len(s.reads[0].Data) {
		return fmt.Errorf(
			"%w: read has %v bytes, want %v",
			status.ErrInvalidInput, len(r.Data), len(s.reads[0].Data),
		)
	}
	if r.CRCOK && s.good < 0 {
		s.good = len(s.reads)
	}
	s.reads = append(s.reads, r)
	return nil
}

// Miss counts a pass that gave no read of the sector.
func (s *Session) Miss() {
	s.passes++
}

// Len returns the number of reads added.
func (s *Session) Len() int {
	return len(s.reads)
}

// Passes returns the number of passes counted, with or without a read.
func (s *Session) Passes() int {
	return s.passes
}

// Planned returns the most passes the session will ask for.
func (s *Session) Planned() int {
	n := s.cfg.MaxPasses
	if n < s.cfg.MinAttempts {
		n = s.cfg.MinAttempts
	}
	if n > MaxAttempts {
		n = MaxAttempts
	}
	return n
}

// Good returns true if a read with a good checksum has been added.
func (s *Session) Good() bool {
	return s.good >= 0
}

// Done returns true if no more passes are needed: a read with a good
// checksum was found, the planned passes are used up, or (when
// adaptive) the vote is already good enough.
func (s *Session) Done() bool {
	if s.Good() || s.passes >= s.Planned() || len(s.reads) >= MaxAttempts {
		return true
	}
	if !s.cfg.Adaptive || len(s.reads) < s.cfg.MinAttempts {
		return false
	}
	res, err := s.Vote()
	return err == nil && res.Recovered
}

// Vote returns the result for the reads added so far. If one of them
// passed its checksum, that read's data is the result.
func (s *Session) Vote() (Result, error) {
	if err := checkReads(s.reads); err != nil {
		return Result{}, err
	}
	if s.Good() {
		return accept(s.reads[s.good], s.reads, s.cfg), nil
	}
	return tally(s.reads, s.cfg), nil
}

// ReadFunc re-reads a track and returns the sector's data from it, and
// whether its checksum passed. It is called once per extra pass.
type ReadFunc func(ctx context.Context, track, head int) ([]byte, bool, error)

// ProgressFunc is told, before each extra pass, which pass is next and
// how many are planned.
type ProgressFunc func(track, head, pass, planned int)

// Recover takes the first read of a sector, and re-reads it until the
// result is good enough or the passes run out. It is the entry point for
// callers that read one sector at a time. Whole-track decoding gets its
// re-reads a capture at a time instead, and drives a Session per sector
// itself; the pass policy is the same, as both go through Session.
//
// A first read that passed its checksum is returned as is. Otherwise
// the sector is read at least MinAttempts times, then (if adaptive) only
// until the vote is recovered, up to MaxPasses. A re-read that passes
// its checksum ends the loop at once.
//
// The context, and the configured timeout, are checked between passes.
// If they end the loop, the best result so far is returned along with
// an error wrapping status.ErrCancelled.
func Recover(
	ctx context.Context, track, head int, first Read,
	read ReadFunc, progress ProgressFunc, cfg Config,
) (Result, error) {
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	s := NewSession(cfg)
	if err := s.Add(first); err != nil {
		return Result{}, err
	}
	l := log.For(track, head)

	for !s.Done() {
		pass := s.Passes() + 1
		if progress != nil {
			progress(track, head, pass, s.Planned())
		}
		if err := ctx.Err(); err != nil {
			return cancelled(s, track, head, err)
		}
		data, ok, err := read(ctx, track, head)
		if err != nil {
			if ctx.Err() != nil {
				return cancelled(s, track, head, ctx.Err())
			}
			l.Warn("pass", pass, "failed:", err)
			s.Miss()
			continue
		}
		q := QualityBad
		if ok {
			q = QualityGood
		}
		if err := s.Add(Read{Data: data, CRCOK: ok, Quality: q}); err != nil {
			l.Warn("pass", pass, "dropped:", err)
		}
		l.F(3, "pass %v/%v: %v reads, checksum ok: %v\n",
			pass, s.Planned(), s.Len(), ok)
	}
	return s.Vote()
}

func cancelled(s *Session, track, head int, cause error) (Result, error) {
	res, err := s.Vote()
	if err != nil {
		return res, err
	}
	res.Status = status.Cancelled
	return res, fmt.Errorf(
		"%w: track %v head %v after %v passes: %v",
		status.ErrCancelled, track, head, s.Passes(), cause,
	)
}
