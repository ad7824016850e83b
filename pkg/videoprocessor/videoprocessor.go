// Package videoprocessor is the public entry point: it owns the process
// supervisor and the hardware capability cache and turns every export, merge
// or batch call into exactly one result.
package videoprocessor

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/ZacxDev/video-forge/internal/backend"
	"github.com/ZacxDev/video-forge/internal/config"
	"github.com/ZacxDev/video-forge/internal/effects"
	"github.com/ZacxDev/video-forge/internal/ffmpeg"
	"github.com/ZacxDev/video-forge/internal/logging"
	"github.com/ZacxDev/video-forge/internal/metrics"
	"github.com/ZacxDev/video-forge/internal/operation"
	"github.com/ZacxDev/video-forge/internal/processor"
	"github.com/ZacxDev/video-forge/internal/supervisor"
	"github.com/ZacxDev/video-forge/pkg/types"
)

const (
	exportSuffix = "edited"
	mergeSuffix  = "merged"
)

// EventFunc receives advisory progress events. It runs on its own goroutine
// and must not block for long; events are dropped when it falls behind.
type EventFunc func(operation.Event)

// ExportRequest applies Effects to Source. Output is optional; when empty the
// file is named after the source inside OutputDir (default: next to Source).
type ExportRequest struct {
	Source    string
	Output    string
	OutputDir string
	Effects   effects.Configuration
	Ambient   []string
	Music     string
	Events    EventFunc
}

// MergeRequest joins Clips with Transition. TransitionSeconds of 0 uses the
// default duration.
type MergeRequest struct {
	Clips             []string
	Output            string
	OutputDir         string
	Transition        string
	TransitionSeconds float64
	Ambient           []string
	Music             string
	Seed              int64
	Events            EventFunc
}

// BatchRequest applies the same effects to every source independently.
type BatchRequest struct {
	Sources   []string
	OutputDir string
	Effects   effects.Configuration
	Ambient   []string
	Music     string
	Events    EventFunc
}

// Engine runs operations. One engine is shared by every caller of a process.
type Engine struct {
	proc    *processor.Processor
	caps    *backend.Cache
	killAll func()
	log     zerolog.Logger

	mu  sync.Mutex
	ops map[string]*operation.Operation
}

// New creates an engine that runs the configured ffmpeg binary.
func New(settings *config.Settings) *Engine {
	if settings == nil {
		settings = config.Default()
	}
	diagDir := settings.TempDir
	if diagDir == "" {
		diagDir = filepath.Join(os.TempDir(), "video-forge")
	}
	sup := supervisor.New(settings.FFmpegPath, diagDir)
	return newEngine(settings, sup, sup.KillAll, ffmpeg.NewProcessor())
}

func newEngine(settings *config.Settings, runner supervisor.Runner, killAll func(), prober ffmpeg.Prober) *Engine {
	return &Engine{
		proc:    processor.New(settings, runner, prober),
		caps:    backend.NewCache(runner, settings.ProbeTimeout.Std(), settings.DisableHardware),
		killAll: killAll,
		log:     logging.WithComponent("engine"),
		ops:     make(map[string]*operation.Operation),
	}
}

// ProbeHardware reports whether the NVENC encoder is usable. The answer is
// memoized for the engine's lifetime.
func (e *Engine) ProbeHardware(ctx context.Context) bool {
	return e.caps.Probe(ctx)
}

// Stop cancels every running operation and kills their processes. It is
// idempotent and safe when nothing runs.
func (e *Engine) Stop() {
	e.mu.Lock()
	ops := make([]*operation.Operation, 0, len(e.ops))
	for _, op := range e.ops {
		ops = append(ops, op)
	}
	e.mu.Unlock()

	for _, op := range ops {
		op.Stop()
	}
	if len(ops) > 0 && e.killAll != nil {
		e.killAll()
	}
}

// Export runs one export and reports its result.
func (e *Engine) Export(ctx context.Context, req ExportRequest) types.Result {
	if err := req.Effects.Validate(); err != nil {
		return e.rejected("export", req.Events, err)
	}

	res, err := processor.ReserveOutput(req.Output, req.Source, req.OutputDir, exportSuffix)
	if err != nil {
		return e.rejected("export", req.Events, err)
	}

	return e.run(ctx, "export", req.Events, res, func(op *operation.Operation) (string, error) {
		return processor.NewExporter(e.proc).Export(op, processor.ExportRequest{
			Source:  req.Source,
			Output:  res.Path,
			Effects: req.Effects,
			Audio:   processor.AudioPlan{Ambient: req.Ambient, Music: req.Music},
		})
	})
}

// Merge joins clips with transitions and reports its result.
func (e *Engine) Merge(ctx context.Context, req MergeRequest) types.Result {
	if len(req.Clips) < 2 {
		return e.rejected("merge", req.Events, errors.Errorf("merge needs at least two clips, got %d", len(req.Clips)))
	}
	if !processor.ValidTransition(req.Transition) {
		return e.rejected("merge", req.Events, errors.Errorf("unknown transition %q", req.Transition))
	}

	res, err := processor.ReserveOutput(req.Output, req.Clips[0], req.OutputDir, mergeSuffix)
	if err != nil {
		return e.rejected("merge", req.Events, err)
	}

	seed := req.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return e.run(ctx, "merge", req.Events, res, func(op *operation.Operation) (string, error) {
		return processor.NewMerger(e.proc).Merge(op, processor.MergeRequest{
			Clips:             req.Clips,
			Output:            res.Path,
			Transition:        req.Transition,
			TransitionSeconds: req.TransitionSeconds,
			Audio:             processor.AudioPlan{Ambient: req.Ambient, Music: req.Music},
			Rand:              rand.New(rand.NewSource(seed)),
		})
	})
}

// Batch exports every source independently and returns one result per source
// in request order.
func (e *Engine) Batch(ctx context.Context, req BatchRequest) []types.Result {
	results := make([]types.Result, len(req.Sources))
	if err := req.Effects.Validate(); err != nil {
		r := e.rejected("batch", req.Events, err)
		for i := range results {
			results[i] = r
		}
		return results
	}

	start := time.Now()
	op := e.begin(ctx)
	forwarded := forward(op, req.Events)
	defer e.untrack(op)

	reservations := make([]*processor.Reservation, len(req.Sources))
	var reqs []processor.ExportRequest
	var index []int
	for i, src := range req.Sources {
		res, err := processor.ReserveOutput("", src, req.OutputDir, exportSuffix)
		if err != nil {
			results[i] = types.Result{Status: types.StatusFailed, Message: err.Error()}
			continue
		}
		reservations[i] = res
		index = append(index, i)
		reqs = append(reqs, processor.ExportRequest{
			Source:  src,
			Output:  res.Path,
			Effects: req.Effects,
			Audio:   processor.AudioPlan{Ambient: req.Ambient, Music: req.Music},
		})
	}

	for _, br := range processor.NewExporter(e.proc).Batch(op, reqs) {
		i := index[br.Index]
		results[i] = result(br.Output, br.Err)
		if !results[i].OK() {
			reservations[i].Release()
		}
	}

	overall := types.Result{Status: types.StatusSucceeded}
	failed := 0
	for _, r := range results {
		switch r.Status {
		case types.StatusStopped:
			overall.Status = types.StatusStopped
		case types.StatusFailed:
			failed++
		}
	}
	if overall.Status != types.StatusStopped && failed > 0 {
		overall.Status = types.StatusFailed
	}
	overall.Message = fmt.Sprintf("%d of %d files exported", len(results)-failed, len(results))
	if overall.Status == types.StatusStopped {
		overall.Message = "stopped"
	}

	e.finish(op, "batch", start, overall)
	op.Close()
	<-forwarded
	return results
}

// run executes one single-output operation. The reservation placeholder is
// released unless the operation succeeded.
func (e *Engine) run(ctx context.Context, kind string, events EventFunc, res *processor.Reservation, fn func(*operation.Operation) (string, error)) types.Result {
	start := time.Now()
	op := e.begin(ctx)
	forwarded := forward(op, events)
	defer e.untrack(op)

	path, err := fn(op)
	r := result(path, err)
	if !r.OK() {
		res.Release()
	}

	e.finish(op, kind, start, r)
	op.Close()
	<-forwarded
	return r
}

// finish records metrics and emits the single terminal event.
func (e *Engine) finish(op *operation.Operation, kind string, start time.Time, r types.Result) {
	metrics.OperationsTotal.WithLabelValues(kind, string(r.Status)).Inc()
	metrics.OperationDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	level := operation.LevelInfo
	msg := r.OutputPath
	switch r.Status {
	case types.StatusFailed:
		level = operation.LevelError
		msg = r.Message
	case types.StatusStopped:
		msg = "stopped"
	}
	op.Emit(level, string(r.Status), msg)
}

// rejected reports a request that failed before any operation started.
func (e *Engine) rejected(kind string, events EventFunc, err error) types.Result {
	metrics.OperationsTotal.WithLabelValues(kind, string(types.StatusFailed)).Inc()
	e.log.Warn().Err(err).Str("kind", kind).Msg("request rejected")
	if events != nil {
		events(operation.Event{
			Time:    time.Now(),
			Phase:   string(types.StatusFailed),
			Message: err.Error(),
			Level:   operation.LevelError,
		})
	}
	return types.Result{Status: types.StatusFailed, Message: err.Error()}
}

// begin creates an operation already visible to Stop.
func (e *Engine) begin(ctx context.Context) *operation.Operation {
	e.mu.Lock()
	defer e.mu.Unlock()
	op := operation.New(ctx, e.caps)
	e.ops[op.ID] = op
	return op
}

func (e *Engine) untrack(op *operation.Operation) {
	e.mu.Lock()
	delete(e.ops, op.ID)
	e.mu.Unlock()
}

func result(path string, err error) types.Result {
	switch {
	case err == nil:
		return types.Result{Status: types.StatusSucceeded, OutputPath: path}
	case processor.IsCancelled(err):
		return types.Result{Status: types.StatusStopped, Message: "stopped"}
	default:
		return types.Result{Status: types.StatusFailed, Message: err.Error()}
	}
}

// forward drains op's events into fn until the stream closes.
func forward(op *operation.Operation, fn EventFunc) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range op.Events() {
			if fn != nil {
				fn(ev)
			}
		}
	}()
	return done
}
