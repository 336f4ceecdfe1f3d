// Package batch splits work into fixed-size batches and runs them one after
// another with a jittered pause in between.
package batch

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/onboarding-cli/internal/resilience"
)

// DefaultSize is the number of pages sent to one deep-dive extraction.
const DefaultSize = 5

// Batch is a contiguous slice of the input. Number starts at 1.
type Batch[T any] struct {
	Number int `json:"batch_number"`
	Items  []T `json:"items"`
}

// ErrInvalidSize is returned for batch sizes below one.
var ErrInvalidSize = resilience.NewError(resilience.KindValidation, "batch", eris.New("batch size must be at least 1"))

// GroupIntoBatches partitions items into order-preserving batches of at most
// size elements. Batch k holds items[(k-1)*size : k*size].
func GroupIntoBatches[T any](items []T, size int) ([]Batch[T], error) {
	if size < 1 {
		return nil, ErrInvalidSize
	}
	batches := make([]Batch[T], 0, CalculateBatchCount(len(items), size))
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		batches = append(batches, Batch[T]{
			Number: len(batches) + 1,
			Items:  items[start:end:end],
		})
	}
	return batches, nil
}

// CalculateBatchCount returns ceil(n/size), zero for an empty input or an
// invalid size.
func CalculateBatchCount(n, size int) int {
	if n <= 0 || size < 1 {
		return 0
	}
	return (n + size - 1) / size
}

// Scheduler runs batches sequentially with a random delay in
// [MinDelay, MaxDelay] between consecutive batches.
type Scheduler struct {
	MinDelay time.Duration
	MaxDelay time.Duration

	sleep func(ctx context.Context, d time.Duration) error
	rand  func(n int64) int64
}

// NewScheduler creates a Scheduler. A max below min is raised to min.
func NewScheduler(minDelay, maxDelay time.Duration) *Scheduler {
	if minDelay < 0 {
		minDelay = 0
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &Scheduler{
		MinDelay: minDelay,
		MaxDelay: maxDelay,
		sleep:    sleepCtx,
		rand:     rand.Int64N,
	}
}

// DefaultScheduler waits three to five seconds between batches.
func DefaultScheduler() *Scheduler {
	return NewScheduler(3*time.Second, 5*time.Second)
}

func (s *Scheduler) delay() time.Duration {
	span := int64(s.MaxDelay - s.MinDelay)
	if span <= 0 {
		return s.MinDelay
	}
	return s.MinDelay + time.Duration(s.rand(span+1))
}

// ProcessWithRateLimit runs process for each batch in order. Batch k+1 starts
// only after batch k and the pause that follows it. onProgress, when set, is
// called with (completed, total) after every batch. The first error stops the
// run and is returned.
func ProcessWithRateLimit[T any](
	ctx context.Context,
	s *Scheduler,
	batches []Batch[T],
	process func(ctx context.Context, b Batch[T]) error,
	onProgress func(completed, total int),
) error {
	total := len(batches)
	for i, b := range batches {
		if err := ctx.Err(); err != nil {
			return eris.Wrapf(err, "batch: stopped before batch %d", b.Number)
		}
		if err := process(ctx, b); err != nil {
			return eris.Wrapf(err, "batch: process batch %d/%d", b.Number, total)
		}
		if onProgress != nil {
			onProgress(i+1, total)
		}
		if i == total-1 {
			break
		}

		d := s.delay()
		zap.L().Debug("batch: pausing before next batch",
			zap.Int("completed", i+1),
			zap.Int("total", total),
			zap.Duration("delay", d),
		)
		if err := s.sleep(ctx, d); err != nil {
			return eris.Wrapf(err, "batch: interrupted after batch %d", b.Number)
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
