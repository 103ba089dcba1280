// Package batch runs a per-image operation over a whole image set with
// a bounded worker pool, collecting per-image failures instead of
// stopping at the first one.
package batch

import (
	"context"
	"fmt"
	"sync"
)

// Op is the operation applied to one image path.
type Op func(ctx context.Context, path string) error

// Failure records one image that could not be processed.
type Failure struct {
	Path string
	Err  error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Path, f.Err)
}

// Result summarizes one batch run.
type Result struct {
	Processed int
	Failures  []Failure
}

// Run applies op to every path using at most workers goroutines. It
// stops early when ctx is cancelled; images not yet started are counted
// neither as processed nor as failed.
func Run(ctx context.Context, paths []string, workers int, op Op) Result {
	if workers < 1 {
		workers = 1
	}
	if workers > len(paths) {
		workers = len(paths)
	}

	jobs := make(chan string)
	var mu sync.Mutex
	var res Result

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				err := op(ctx, path)
				mu.Lock()
				if err != nil {
					res.Failures = append(res.Failures, Failure{Path: path, Err: err})
				} else {
					res.Processed++
				}
				mu.Unlock()
			}
		}()
	}

	for _, path := range paths {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
		case jobs <- path:
		}
	}
	close(jobs)
	wg.Wait()
	return res
}
