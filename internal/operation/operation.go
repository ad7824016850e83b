// Package operation carries per-operation state: the cancellation token, the
// hardware capability cache and the advisory event stream.
package operation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ZacxDev/video-forge/internal/backend"
	"github.com/ZacxDev/video-forge/internal/logging"
)

// Level classifies an event.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelDebug Level = "debug"
)

// Event is an advisory progress or diagnostic message. Events never carry
// results and may be dropped when nobody is listening.
type Event struct {
	Time    time.Time
	Phase   string
	Message string
	Level   Level
}

const eventBuffer = 256

// Operation is created per export, merge or batch call.
type Operation struct {
	ID   string
	Caps *backend.Cache
	Log  zerolog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	stopped atomic.Bool

	mu     sync.RWMutex
	closed bool
	events chan Event
}

// New derives an operation from parent. caps may be shared between operations.
func New(parent context.Context, caps *backend.Cache) *Operation {
	ctx, cancel := context.WithCancel(parent)
	id := uuid.NewString()
	return &Operation{
		ID:     id,
		Caps:   caps,
		Log:    logging.WithComponent("operation").With().Str("op", id[:8]).Logger(),
		ctx:    ctx,
		cancel: cancel,
		events: make(chan Event, eventBuffer),
	}
}

// Context is cancelled when the operation is stopped or its parent ends.
func (o *Operation) Context() context.Context {
	return o.ctx
}

// Stop requests cancellation. It is idempotent.
func (o *Operation) Stop() {
	if o.stopped.CompareAndSwap(false, true) {
		o.Log.Info().Msg("stop requested")
	}
	o.cancel()
}

// Stopped reports whether Stop was called or the parent context ended.
func (o *Operation) Stopped() bool {
	return o.stopped.Load() || o.ctx.Err() != nil
}

// Events returns the receive side of the event stream. It is closed by Close.
func (o *Operation) Events() <-chan Event {
	return o.events
}

// Emit publishes an event without blocking. Events are mirrored to the log.
func (o *Operation) Emit(level Level, phase, msg string) {
	ev := Event{Time: time.Now(), Phase: phase, Message: msg, Level: level}

	var le *zerolog.Event
	switch level {
	case LevelWarn:
		le = o.Log.Warn()
	case LevelError:
		le = o.Log.Error()
	case LevelDebug:
		le = o.Log.Debug()
	default:
		le = o.Log.Info()
	}
	le.Str("phase", phase).Msg(msg)

	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return
	}
	select {
	case o.events <- ev:
	default:
	}
}

// Info emits an info event.
func (o *Operation) Info(phase, msg string) { o.Emit(LevelInfo, phase, msg) }

// Warn emits a warning event.
func (o *Operation) Warn(phase, msg string) { o.Emit(LevelWarn, phase, msg) }

// Close releases the context and closes the event stream. Safe to call twice.
func (o *Operation) Close() {
	o.cancel()
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.closed = true
		close(o.events)
	}
}
