package iteration

import (
	"context"
	"fmt"
	"runtime"
	"sync"
)

// Iterator handles item iteration with a configurable execution strategy
type Iterator struct {
	config Config
}

// NewIterator creates a new iterator with given config
func NewIterator(config Config) *Iterator {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = runtime.NumCPU()
	}
	return &Iterator{config: config}
}

// Process iterates over items and processes each with the given function.
// Without ContinueOnError the iteration fails fast on the first error. With
// ContinueOnError every item is attempted; failed slots hold a nil result
// and the failures come back as ItemErrors.
func (it *Iterator) Process(ctx context.Context, items []interface{}, processFn ProcessFunc) ([]interface{}, []ItemError, error) {
	if len(items) == 0 {
		return []interface{}{}, nil, nil
	}

	if it.config.Strategy == StrategyParallel {
		return it.processParallel(ctx, items, processFn)
	}
	return it.processSequential(ctx, items, processFn)
}

func (it *Iterator) processSequential(ctx context.Context, items []interface{}, processFn ProcessFunc) ([]interface{}, []ItemError, error) {
	results := make([]interface{}, len(items))
	var failures []ItemError

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		output, err := processFn(ctx, item, i)
		if err != nil {
			if !it.config.ContinueOnError {
				return nil, nil, fmt.Errorf("failed processing item %d: %w", i, err)
			}
			failures = append(failures, ItemError{Index: i, Err: err})
			continue
		}
		results[i] = output
	}

	return results, failures, nil
}

// processParallel processes items concurrently with a worker pool. With
// ContinueOnError all items run to completion; otherwise the first error
// cancels the remaining work.
func (it *Iterator) processParallel(ctx context.Context, items []interface{}, processFn ProcessFunc) ([]interface{}, []ItemError, error) {
	numItems := len(items)
	results := make([]interface{}, numItems)

	numWorkers := it.config.MaxConcurrent
	if numWorkers > numItems {
		numWorkers = numItems
	}

	workCh := make(chan int, numItems)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var failures []ItemError
	var firstError error

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range workCh {
				select {
				case <-ctx.Done():
					return
				default:
					output, err := processFn(ctx, items[idx], idx)

					mu.Lock()
					if err != nil {
						if it.config.ContinueOnError {
							failures = append(failures, ItemError{Index: idx, Err: err})
						} else if firstError == nil {
							firstError = fmt.Errorf("failed processing item %d: %w", idx, err)
							cancel()
						}
					} else {
						results[idx] = output
					}
					mu.Unlock()
				}
			}
		}()
	}

sendLoop:
	for i := 0; i < numItems; i++ {
		select {
		case <-ctx.Done():
			break sendLoop
		case workCh <- i:
		}
	}
	close(workCh)

	wg.Wait()

	if firstError != nil {
		return nil, nil, firstError
	}

	return results, failures, nil
}
