package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessWithContinuation_SingleFailure(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	var seen []int
	out := ProcessWithContinuation(context.Background(), items,
		func(_ context.Context, item, _ int) (string, error) {
			seen = append(seen, item)
			if item == 3 {
				return "", errors.New("unreachable")
			}
			return fmt.Sprintf("r%d", item), nil
		}, nil)

	assert.Equal(t, items, seen, "items run in order")
	assert.Equal(t, []string{"r1", "r2", "r4", "r5"}, out.Results)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, 2, out.Errors[0].Index)
	assert.Equal(t, 3, out.Errors[0].Item)
	assert.True(t, out.Failed())
}

func TestProcessWithContinuation_MultipleFailures(t *testing.T) {
	items := make([]int, 20)
	for i := range items {
		items[i] = i
	}
	failing := map[int]bool{4: true, 9: true, 17: true}

	var reported []int
	out := ProcessWithContinuation(context.Background(), items,
		func(_ context.Context, item, _ int) (int, error) {
			if failing[item] {
				return 0, errors.New("fail")
			}
			return item * 10, nil
		},
		func(_ int, index int, _ error) {
			reported = append(reported, index)
		})

	assert.Len(t, out.Errors, 3)
	assert.Len(t, out.Results, 17)
	assert.Equal(t, len(items), len(out.Results)+len(out.Errors))
	assert.Equal(t, []int{4, 9, 17}, reported)
	for i := 1; i < len(out.Results); i++ {
		assert.Less(t, out.Results[i-1], out.Results[i])
	}
}

func TestProcessWithContinuation_Empty(t *testing.T) {
	out := ProcessWithContinuation(context.Background(), []string(nil),
		func(_ context.Context, s string, _ int) (string, error) { return s, nil }, nil)
	assert.Empty(t, out.Results)
	assert.Empty(t, out.Errors)
	assert.False(t, out.Failed())
}

func TestProcessWithContinuation_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	out := ProcessWithContinuation(ctx, []int{1, 2, 3},
		func(_ context.Context, item, _ int) (int, error) {
			calls++
			if item == 1 {
				cancel()
			}
			return item, nil
		}, nil)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []int{1}, out.Results)
	require.Len(t, out.Errors, 2)
	assert.ErrorIs(t, out.Errors[0].Err, context.Canceled)
}
