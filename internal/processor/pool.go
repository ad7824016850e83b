package processor

import (
	"context"
	"sync"

	"github.com/ZacxDev/video-forge/internal/operation"
	"github.com/ZacxDev/video-forge/internal/supervisor"
)

// runPool runs task for every index in [0, n) with at most size tasks in
// flight. The stop flag is polled before each dispatch. The first failure
// cancels the tasks still running and is returned once all have exited.
func runPool(op *operation.Operation, size, n int, task func(ctx context.Context, i int) error) error {
	if size < 1 {
		size = 1
	}

	ctx, cancel := context.WithCancel(op.Context())
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	workerPool := make(chan struct{}, size)
	for i := 0; i < n; i++ {
		if op.Stopped() {
			break
		}
		select {
		case workerPool <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-workerPool }()
			if err := task(ctx, i); err != nil {
				fail(err)
			}
		}(i)
	}
	wg.Wait()

	if op.Stopped() {
		return supervisor.ErrCancelled
	}
	return firstErr
}
