package pipeline

import (
	"context"
	"fmt"
	"sync"
)

// itemResult is one fan-out call's output or error.
type itemResult[T any] struct {
	value T
	err   error
}

// fanOut runs fn once per item concurrently, bounded by the gate, and
// returns one result per item in item order. Failures are isolated per
// item: an error (or a context cancellation seen while waiting at the
// gate) is captured in that item's slot and never cancels siblings. A
// panic inside fn is recovered on the worker goroutine and captured as
// that item's error, so a faulting collaborator degrades one slot
// instead of crashing the process. Within the fan-out no cross-item
// ordering is guaranteed; only the result slice is ordered.
func fanOut[In, Out any](ctx context.Context, gate *Gate, items []In, fn func(context.Context, In) (Out, error)) []itemResult[Out] {
	results := make([]itemResult[Out], len(items))

	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func(idx int, in In) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[idx] = itemResult[Out]{err: fmt.Errorf("panic: %v", r)}
				}
			}()

			if err := gate.Enter(ctx); err != nil {
				results[idx] = itemResult[Out]{err: err}
				return
			}
			defer gate.Leave()

			v, err := fn(ctx, in)
			results[idx] = itemResult[Out]{value: v, err: err}
		}(i, item)
	}
	wg.Wait()

	return results
}
