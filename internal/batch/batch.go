// Package batch runs work in fixed-size concurrent batches.
package batch

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Outcome is the tagged result of one item. Err is nil on success.
type Outcome[T any] struct {
	Index int
	Value T
	Err   error
}

// Run processes items in consecutive batches of size. Items inside a batch run
// concurrently and the whole batch is awaited before the next one starts, so at
// most size calls of fn are in flight. An item error never cancels its
// siblings. Once ctx is done, items of batches not yet started are reported
// with ctx.Err() and fn is not called for them. Outcomes are in input order.
func Run[I, O any](ctx context.Context, items []I, size int, fn func(ctx context.Context, item I) (O, error)) []Outcome[O] {
	if size <= 0 {
		size = 1
	}

	outcomes := make([]Outcome[O], len(items))
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))

		if err := ctx.Err(); err != nil {
			for i := start; i < len(items); i++ {
				outcomes[i] = Outcome[O]{Index: i, Err: err}
			}
			break
		}

		// Workers always return nil so one failure cannot cancel the batch.
		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				value, err := fn(ctx, items[i])
				outcomes[i] = Outcome[O]{Index: i, Value: value, Err: err}
				return nil
			})
		}
		_ = g.Wait()
	}

	return outcomes
}

// Failed counts outcomes that carry an error.
func Failed[T any](outcomes []Outcome[T]) int {
	n := 0
	for _, o := range outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}
