// Package parallel runs index-addressed work on a bounded pool of goroutines.
package parallel

import "sync"

// For calls fn(i) for every i in [0, n) using at most workers goroutines.
// fn must only write to state owned by index i; completion order is unspecified.
func For(n, workers int, fn func(i int)) {
	if n <= 0 {
		return
	}
	if workers < 1 {
		workers = 1
	}
	if workers == 1 || n == 1 {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)
	for i := 0; i < n; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			fn(i)
		}(i)
	}
	wg.Wait()
}

// Map applies fn to every index in [0, n) on at most workers goroutines and
// returns results and errors in index order.
func Map[T any](n, workers int, fn func(i int) (T, error)) ([]T, []error) {
	results := make([]T, n)
	errs := make([]error, n)
	For(n, workers, func(i int) {
		results[i], errs[i] = fn(i)
	})
	return results, errs
}
