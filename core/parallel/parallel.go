// Package parallel splits index ranges across goroutines. The vectorizer
// uses it to analyze documents and the random forest to grow trees.
package parallel

import (
	"runtime"
	"sync"
)

// Workers resolves an n_jobs style setting: values <= 0 mean one worker per
// CPU, and the result never exceeds items.
func Workers(nJobs, items int) int {
	w := nJobs
	if w <= 0 {
		w = runtime.NumCPU()
	}
	if w > items {
		w = items
	}
	if w < 1 {
		w = 1
	}
	return w
}

// Parallelize divides items into contiguous ranges, one per CPU core, and
// runs fn on each range concurrently.
func Parallelize(items int, fn func(start, end int)) {
	ParallelizeN(items, 0, fn)
}

// ParallelizeN is Parallelize with an explicit worker count (n_jobs).
func ParallelizeN(items, nJobs int, fn func(start, end int)) {
	if items <= 0 {
		return
	}
	numWorkers := Workers(nJobs, items)
	if numWorkers == 1 {
		fn(0, items)
		return
	}

	// ceiling division
	chunkSize := (items + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for start := 0; start < items; start += chunkSize {
		end := start + chunkSize
		if end > items {
			end = items
		}
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(start, end)
	}
	wg.Wait()
}

// ParallelizeWithThreshold runs fn sequentially when items does not exceed
// threshold and in parallel otherwise.
func ParallelizeWithThreshold(items int, threshold int, fn func(start, end int)) {
	if items <= threshold {
		fn(0, items)
		return
	}
	Parallelize(items, fn)
}

// ForEach calls fn(i) for every i in [0, items) using at most nJobs
// goroutines. Indices are handed out one at a time so uneven work (such as
// trees of different depth) balances across workers.
func ForEach(items, nJobs int, fn func(i int)) {
	if items <= 0 {
		return
	}
	numWorkers := Workers(nJobs, items)
	next := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				fn(i)
			}
		}()
	}
	for i := 0; i < items; i++ {
		next <- i
	}
	close(next)
	wg.Wait()
}
