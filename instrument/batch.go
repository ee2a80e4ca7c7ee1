package instrument

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Input is one serialized unit of a batch. Name identifies it in the
// manifest when the unit cannot be decoded, typically its file path.
type Input struct {
	Name string
	Data []byte
}

// Entry is the manifest line of one input.
type Entry struct {
	Input  string
	Result Result
	Output []byte // nil when Result.Status is StatusFailed
	Err    error  // codec error, if any
}

// Manifest lists the outcome of every input of a batch, in input order.
type Manifest struct {
	Entries []Entry
}

// Count returns the number of entries with status s.
func (m *Manifest) Count(s Status) int {
	n := 0
	for _, e := range m.Entries {
		if e.Result.Status == s {
			n++
		}
	}
	return n
}

// Stats sums the statistics of every rewritten unit.
func (m *Manifest) Stats() Stats {
	var total Stats
	for _, e := range m.Entries {
		total.Add(e.Result.Stats)
	}
	return total
}

// TransformBatch transforms inputs concurrently, at most Config.Workers at
// a time. Per-unit failures end up in the manifest; the batch always
// completes. Once ctx is done no further units are started, and those not
// started are reported as failed with the context error, which is also
// returned.
func (r *Rewriter) TransformBatch(ctx context.Context, inputs []Input) (*Manifest, error) {
	workers := r.cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	entries := make([]Entry, len(inputs))
	g := new(errgroup.Group)
	g.SetLimit(workers)
	for i, in := range inputs {
		if err := ctx.Err(); err != nil {
			entries[i] = Entry{Input: in.Name, Result: Result{Status: StatusFailed, Reason: err.Error()}, Err: err}
			continue
		}
		g.Go(func() error {
			out, res, err := r.Transform(in.Data)
			entries[i] = Entry{Input: in.Name, Result: res, Output: out, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	m := &Manifest{Entries: entries}
	log.Infof("batch of %d: %d rewritten, %d skipped, %d fallback, %d failed", len(inputs),
		m.Count(StatusRewritten), m.Count(StatusSkipped), m.Count(StatusFallback), m.Count(StatusFailed))
	return m, ctx.Err()
}
