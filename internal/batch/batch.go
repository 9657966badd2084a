// Package batch fans per-repo work out over a bounded worker pool and
// summarizes the outcomes.
package batch

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// DefaultWorkers bounds concurrency when the caller passes zero.
const DefaultWorkers = 4

// ErrBatchFailed is returned when at least one item of a batch failed.
var ErrBatchFailed = errors.New("batch failed")

// Status classifies one item's outcome for the summary.
type Status int

const (
	Succeeded Status = iota
	Skipped
	Failed
)

// Run calls fn for every item with at most limit calls in flight and
// returns the results in input order. One item's failure never cancels
// the others; fn reports failure through its result.
func Run[T, R any](ctx context.Context, limit int, items []T, fn func(ctx context.Context, item T) R) []R {
	if limit <= 0 {
		limit = DefaultWorkers
	}
	results := make([]R, len(items))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, item := range items {
		g.Go(func() error {
			results[i] = fn(ctx, item)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Summary counts outcomes of a batch.
type Summary struct {
	Succeeded int
	Skipped   int
	Failed    int
}

// Add counts one outcome.
func (s *Summary) Add(st Status) {
	switch st {
	case Succeeded:
		s.Succeeded++
	case Skipped:
		s.Skipped++
	default:
		s.Failed++
	}
}

// Total is the number of items counted.
func (s Summary) Total() int { return s.Succeeded + s.Skipped + s.Failed }

func (s Summary) String() string {
	return fmt.Sprintf("%d succeeded, %d skipped, %d failed", s.Succeeded, s.Skipped, s.Failed)
}

// Err returns ErrBatchFailed when any item failed.
func (s Summary) Err() error {
	if s.Failed > 0 {
		return fmt.Errorf("%w: %s", ErrBatchFailed, s)
	}
	return nil
}

// Summarize counts results using classify.
func Summarize[R any](results []R, classify func(R) Status) Summary {
	var s Summary
	for _, r := range results {
		s.Add(classify(r))
	}
	return s
}
