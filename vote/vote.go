// Package vote combines several reads of the same sector into one
// best-effort result, and drives re-reading until it is good enough.
package vote

import (
	"bytes"
	"fmt"
	"math/bits"
	"time"

	"github.com/edorfaus/flux-recover/log"
	"github.com/edorfaus/flux-recover/sector"
	"github.com/edorfaus/flux-recover/status"
)

// MaxAttempts bounds the reads that are voted on, and with it the size
// of the vote buffers.
const MaxAttempts = 16

// Read qualities for reads that passed or failed their checksum.
const (
	QualityGood = 100
	QualityBad  = 50
)

// Config holds the voting thresholds.
type Config struct {
	// MinConfidence is the overall confidence, 0-100, needed to count a
	// vote as recovered.
	MinConfidence int
	// MinAttempts is the number of reads needed for a statistical vote.
	// Fewer reads are only accepted if they are all identical.
	MinAttempts int
	// MaxPasses is the most reads to take of a sector, including the
	// first.
	MaxPasses int
	// Adaptive stops re-reading as soon as the vote is good enough,
	// instead of always taking MaxPasses reads.
	Adaptive bool
	// Timeout limits a whole multi-pass recovery. Zero means no limit.
	Timeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		MinConfidence: 75,
		MinAttempts:   3,
		MaxPasses:     5,
		Adaptive:      true,
	}
}

func (c Config) Validate() error {
	if c.MinConfidence < 0 || c.MinConfidence > 100 {
		return fmt.Errorf("min confidence out of range: %v", c.MinConfidence)
	}
	if c.MinAttempts < 1 || c.MinAttempts > MaxAttempts {
		return fmt.Errorf("min attempts out of range: %v", c.MinAttempts)
	}
	if c.MaxPasses < 1 || c.MaxPasses > MaxAttempts {
		return fmt.Errorf("max passes out of range: %v", c.MaxPasses)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("negative timeout: %v", c.Timeout)
	}
	return nil
}

// Read is one read of a sector's data.
type Read struct {
	Data  []byte
	CRCOK bool
	// Quality only breaks ties between equally common byte values.
	Quality int
}

// ReadOf returns the read for a decoded attempt.
func ReadOf(a *sector.Attempt) Read {
	q := QualityBad
	if a.DataValid {
		q = QualityGood
	}
	return Read{Data: a.Data, CRCOK: a.DataValid, Quality: q}
}

// Result is the outcome of a vote.
type Result struct {
	Data []byte
	// Confidence is the mean of PositionConfidence, 0-100.
	Confidence         int
	PositionConfidence []int
	// Weak marks the positions where the reads did not all agree.
	Weak      []bool
	WeakCount int
	// WeakBits counts the bits, within the weak positions, that some
	// read had different from Data.
	WeakBits int
	// Agreeing is the number of reads identical to Data.
	Agreeing  int
	Attempts  int
	GoodReads int
	Unanimous bool
	Recovered bool
	Status    status.Kind
}

// Vote votes on plain buffers, which must all have the same length.
func Vote(bufs [][]byte, cfg Config) (Result, error) {
	reads := make([]Read, len(bufs))
	for i, b := range bufs {
		reads[i] = Read{Data: b}
	}
	return VoteReads(reads, cfg)
}

// VoteAttempts votes on decoded attempts. Attempts without data, or with
// a different data length than the first one that has data, are left
// out.
func VoteAttempts(attempts []sector.Attempt, cfg Config) (Result, error) {
	var reads []Read
	for i := range attempts {
		a := &attempts[i]
		if !a.HasData || len(a.Data) == 0 {
			continue
		}
		if len(reads) > 0 && len(a.Data) != len(reads[0].Data) {
			log.F(2, "vote: skipping %v: %v bytes, want %v\n",
				a, len(a.Data), len(reads[0].Data))
			continue
		}
		reads = append(reads, ReadOf(a))
	}
	return VoteReads(reads, cfg)
}

// VoteReads votes on reads, which must all have the same length. Only
// the first MaxAttempts reads are used.
func VoteReads(reads []Read, cfg Config) (Result, error) {
	if err := checkReads(reads); err != nil {
		return Result{}, err
	}
	if len(reads) > MaxAttempts {
		log.F(1, "vote: using %v of %v reads\n", MaxAttempts, len(reads))
		reads = reads[:MaxAttempts]
	}
	return tally(reads, cfg), nil
}

func checkReads(reads []Read) error {
	if len(reads) == 0 {
		return fmt.Errorf("%w: no reads to vote on", status.ErrInvalidInput)
	}
	n := len(reads[0].Data)
	if n == 0 {
		return fmt.Errorf("%w: empty read", status.ErrInvalidInput)
	}
	for i, r := range reads[1:] {
		if len(r.Data) != n {
			return fmt.Errorf(
				"%w: read %v has %v bytes, want %v",
				status.ErrInvalidInput, i+1, len(r.Data), n,
			)
		}
	}
	return nil
}

type candidate struct {
	value   byte
	count   int
	quality int
}

func tally(reads []Read, cfg Config) Result {
	n, total := len(reads[0].Data), len(reads)
	res := Result{
		Data:               make([]byte, n),
		PositionConfidence: make([]int, n),
		Weak:               make([]bool, n),
		Attempts:           total,
	}
	winners := 0
	cands := make([]candidate, 0, total)
	for pos := 0; pos < n; pos++ {
		cands = cands[:0]
		for _, r := range reads {
			v := r.Data[pos]
			i := 0
			for i < len(cands) && cands[i].value != v {
				i++
			}
			if i == len(cands) {
				cands = append(cands, candidate{value: v, quality: r.Quality})
			}
			cands[i].count++
			if r.Quality > cands[i].quality {
				cands[i].quality = r.Quality
			}
		}
		// Candidates are in the order first seen, so strict comparisons
		// leave remaining ties to the earliest read.
		w := cands[0]
		for _, c := range cands[1:] {
			if c.count > w.count || c.count == w.count && c.quality > w.quality {
				w = c
			}
		}
		res.Data[pos] = w.value
		res.PositionConfidence[pos] = w.count * 100 / total
		winners += w.count
		if w.count < total {
			res.Weak[pos] = true
			res.WeakCount++
			res.WeakBits += weakBits(reads, pos, w.value)
		}
	}
	res.Confidence = winners * 100 / (n * total)
	res.finish(reads, cfg)
	return res
}

func (res *Result) finish(reads []Read, cfg Config) {
	res.Agreeing, res.GoodReads = 0, 0
	for _, r := range reads {
		if bytes.Equal(r.Data, res.Data) {
			res.Agreeing++
		}
		if r.CRCOK {
			res.GoodReads++
		}
	}
	res.Unanimous = res.Agreeing == len(reads)
	res.Recovered = res.Confidence >= cfg.MinConfidence &&
		(len(reads) >= cfg.MinAttempts || res.Unanimous)
	switch {
	case res.Recovered:
		res.Status = status.OK
	case res.Confidence < cfg.MinConfidence:
		res.Status = status.LowConfidence
	default:
		res.Status = status.InsufficientReadPasses
	}
}

// accept builds the result for a read whose checksum passed: its data
// is taken as is, and the other reads only mark the weak positions.
func accept(good Read, reads []Read, cfg Config) Result {
	n := len(good.Data)
	res := Result{
		Data:               append([]byte(nil), good.Data...),
		Confidence:         100,
		PositionConfidence: make([]int, n),
		Weak:               make([]bool, n),
		Attempts:           len(reads),
	}
	for pos := range res.Data {
		res.PositionConfidence[pos] = 100
		if n := weakBits(reads, pos, good.Data[pos]); n > 0 {
			res.Weak[pos] = true
			res.WeakCount++
			res.WeakBits += n
		}
	}
	res.finish(reads, cfg)
	// The checksum stands in for the statistics.
	res.Recovered = true
	res.Status = status.OK
	return res
}

func weakBits(reads []Read, pos int, v byte) int {
	var diff byte
	for _, r := range reads {
		diff |= r.Data[pos] ^ v
	}
	return bits.OnesCount8(diff)
}
