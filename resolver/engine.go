// Package resolver fans store work out across a record's children and
// collects the results in order.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// IndexError attributes a failure to the input position that produced it.
type IndexError struct {
	Index int
	Err   error
}

func (e *IndexError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("item %d: %v", e.Index, e.Err)
}

func (e *IndexError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Map applies fn to every item concurrently and returns the results in input
// order, regardless of completion order.
//
// At most limit calls run at once; limit <= 0 means one goroutine per item.
// Map is fail-fast: the first failing call cancels the context handed to its
// siblings, their results are discarded, and Map returns that failure as an
// *IndexError. If ctx itself is cancelled, before or during the calls, Map
// returns ctx.Err().
func Map[T, R any](ctx context.Context, items []T, limit int, fn func(ctx context.Context, i int, item T) (R, error)) ([]R, error) {
	out := make([]R, len(items))
	if len(items) == 0 {
		return out, ctx.Err()
	}

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	done := make([]bool, len(items))
	for i, item := range items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := fn(gctx, i, item)
			if err != nil {
				if cerr := ctx.Err(); cerr != nil {
					return cerr
				}
				return &IndexError{Index: i, Err: err}
			}
			out[i] = r
			done[i] = true
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		// Cancellation of the caller's context belongs to no item, even
		// when it lands while calls are in flight.
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		var ie *IndexError
		if errors.As(err, &ie) {
			return nil, ie
		}
		return nil, err
	}
	for i, ok := range done {
		if !ok {
			panic(fmt.Sprintf("resolver: result %d of %d never recorded", i, len(items)))
		}
	}
	return out, nil
}
