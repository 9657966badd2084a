package batch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRun_PreservesOrderAndBoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	items := []int{1, 2, 3, 4, 5, 6, 7, 8}

	got := Run(context.Background(), 3, items, func(_ context.Context, n int) int {
		cur := inFlight.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return n * 10
	})

	assert.Equal(t, []int{10, 20, 30, 40, 50, 60, 70, 80}, got)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestRun_FailureDoesNotStopOthers(t *testing.T) {
	boom := errors.New("boom")
	got := Run(context.Background(), 2, []string{"a", "b", "c"}, func(_ context.Context, s string) error {
		if s == "b" {
			return boom
		}
		return nil
	})
	assert.Equal(t, []error{nil, boom, nil}, got)
}

func TestSummary(t *testing.T) {
	s := Summarize([]Status{Succeeded, Skipped, Failed, Succeeded}, func(st Status) Status { return st })
	assert.Equal(t, Summary{Succeeded: 2, Skipped: 1, Failed: 1}, s)
	assert.Equal(t, 4, s.Total())
	assert.ErrorIs(t, s.Err(), ErrBatchFailed)
	assert.Equal(t, "2 succeeded, 1 skipped, 1 failed", s.String())

	assert.NoError(t, Summary{Succeeded: 1, Skipped: 3}.Err())
}
