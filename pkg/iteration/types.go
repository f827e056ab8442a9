package iteration

import "context"

// Strategy defines how items are processed
type Strategy string

const (
	StrategySequential Strategy = "sequential" // Process items one by one
	StrategyParallel   Strategy = "parallel"   // Process items concurrently
)

// Config holds configuration for iteration
type Config struct {
	Strategy      Strategy // sequential or parallel
	MaxConcurrent int      // Max concurrent workers (0 = runtime.NumCPU())

	// ContinueOnError collects per-item failures instead of aborting on the
	// first one; Process then returns every item's outcome
	ContinueOnError bool
}

// ProcessFunc is the function called for each item
type ProcessFunc func(ctx context.Context, item interface{}, index int) (interface{}, error)

// ItemError records one item's failure when ContinueOnError is set
type ItemError struct {
	Index int
	Err   error
}
