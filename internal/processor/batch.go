package processor

import (
	"context"
	"fmt"

	"github.com/ZacxDev/video-forge/internal/operation"
	"github.com/ZacxDev/video-forge/internal/supervisor"
)

// BatchResult is the outcome of one batch item, stored at its request index.
type BatchResult struct {
	Index  int
	Output string
	Err    error
}

// Batch exports every request independently with at most BatchWorkers in
// flight. A failed item never cancels its siblings; a stop request does, and
// items that never started report ErrCancelled.
func (e *Exporter) Batch(op *operation.Operation, reqs []ExportRequest) []BatchResult {
	results := make([]BatchResult, len(reqs))
	for i := range results {
		results[i] = BatchResult{Index: i, Err: supervisor.ErrCancelled}
	}

	runPool(op, e.settings.BatchWorkers, len(reqs), func(_ context.Context, i int) error {
		out, err := e.Export(op, reqs[i])
		results[i] = BatchResult{Index: i, Output: out, Err: err}
		switch {
		case err == nil:
			op.Info("batch", fmt.Sprintf("item %d/%d done: %s", i+1, len(reqs), out))
		case IsCancelled(err):
		default:
			op.Warn("batch", fmt.Sprintf("item %d/%d failed: %v", i+1, len(reqs), err))
		}
		return nil
	})
	return results
}
