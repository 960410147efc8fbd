package track

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/edorfaus/flux-recover/log"
	"github.com/edorfaus/flux-recover/status"
)

// Job is one track of a disk. Load supplies its first capture.
type Job struct {
	Track int
	Head  int
	Load  func(ctx context.Context) (Input, error)
}

// DecodeDisk decodes tracks in parallel, on at most the given number of
// workers (all CPUs if not positive). The results are in job order, and
// nil for tracks that were never started.
//
// A track that fails to load or decode gets its error on its result
// instead; only cancellation stops the other tracks, in which case the
// results so far are returned along with the error.
func DecodeDisk(
	ctx context.Context, jobs []Job, opts Options, workers int,
) ([]*Result, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	results := make([]*Result, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	done := log.Time(1, "Decoding %v tracks on %v workers... ", len(jobs), workers)
	for i, job := range jobs {
		i, job := i, job
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, err := decodeJob(gctx, job, opts)
			if res == nil {
				res = &Result{Track: job.Track, Head: job.Head, Encoding: opts.Encoding}
			}
			results[i] = res
			if err == nil {
				return nil
			}
			res.Err = err
			if errors.Is(err, status.ErrCancelled) || gctx.Err() != nil {
				return err
			}
			log.For(job.Track, job.Head).Warn(err)
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
		if err != nil {
			err = fmt.Errorf("%w: %v", status.ErrCancelled, err)
		}
	}
	done("done in")
	return results, err
}

func decodeJob(ctx context.Context, job Job, opts Options) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", status.ErrCancelled, err)
	}
	in, err := job.Load(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", status.ErrCancelled, ctx.Err())
		}
		return nil, fmt.Errorf("track %v head %v: load: %w", job.Track, job.Head, err)
	}
	in.Track, in.Head = job.Track, job.Head
	return Decode(ctx, in, opts)
}

// Totals sums the statistics of several tracks.
func Totals(results []*Result) Stats {
	var st Stats
	for _, r := range results {
		if r != nil {
			st.Add(r.Stats)
		}
	}
	return st
}
