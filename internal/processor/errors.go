package processor

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/ZacxDev/video-forge/internal/backend"
	"github.com/ZacxDev/video-forge/internal/supervisor"
)

// ProbeError aborts an operation before any encode starts.
type ProbeError struct {
	Path string
	Err  error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s: %v", e.Path, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// EncodeError is terminal: the job failed on its last available path.
type EncodeError struct {
	Index int
	Path  backend.Path
	Err   error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("job %d failed on %s path: %v", e.Index, e.Path, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// IsCancelled reports whether err stems from a stop request.
func IsCancelled(err error) bool {
	return errors.Is(err, supervisor.ErrCancelled) || errors.Is(err, context.Canceled)
}
