package resilience

import (
	"context"
)

// ItemError records one failed item of a continued run.
type ItemError[T any] struct {
	Item  T
	Index int
	Err   error
}

// Continuation is the outcome of ProcessWithContinuation. Results keeps input
// order with failed items left out; len(Results)+len(Errors) == len(items).
type Continuation[T, R any] struct {
	Results []R
	Errors  []ItemError[T]
}

// Failed reports whether any item failed.
func (c Continuation[T, R]) Failed() bool {
	return len(c.Errors) > 0
}

// ProcessWithContinuation runs process over items one at a time, in order.
// A failing item is recorded and processing moves on to the next one.
// onItemError, when set, is called synchronously for every failure. Once ctx
// is done the remaining items are recorded as failed with the context error.
func ProcessWithContinuation[T, R any](
	ctx context.Context,
	items []T,
	process func(ctx context.Context, item T, index int) (R, error),
	onItemError func(item T, index int, err error),
) Continuation[T, R] {
	var out Continuation[T, R]
	for i, item := range items {
		var (
			res R
			err = ctx.Err()
		)
		if err == nil {
			res, err = process(ctx, item, i)
		}
		if err != nil {
			out.Errors = append(out.Errors, ItemError[T]{Item: item, Index: i, Err: err})
			if onItemError != nil {
				onItemError(item, i, err)
			}
			continue
		}
		out.Results = append(out.Results, res)
	}
	return out
}
