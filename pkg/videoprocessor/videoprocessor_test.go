package videoprocessor

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/ZacxDev/video-forge/internal/config"
	"github.com/ZacxDev/video-forge/internal/effects"
	"github.com/ZacxDev/video-forge/internal/ffmpeg"
	"github.com/ZacxDev/video-forge/internal/operation"
	"github.com/ZacxDev/video-forge/internal/supervisor"
	"github.com/ZacxDev/video-forge/pkg/types"
)

// stubRunner writes a small file to the output of every command. When block
// is set, encodes wait for cancellation.
type stubRunner struct {
	block   bool
	started chan struct{}
	once    sync.Once
	calls   atomic.Int32
}

func (r *stubRunner) Run(ctx context.Context, args []string, _ ...supervisor.Option) error {
	if ctx.Err() != nil {
		return supervisor.ErrCancelled
	}
	r.calls.Add(1)
	if r.block {
		r.once.Do(func() { close(r.started) })
		<-ctx.Done()
		return supervisor.ErrCancelled
	}
	out := args[len(args)-1]
	if out == "-y" {
		out = args[len(args)-2]
	}
	return os.WriteFile(out, []byte("video"), 0o644)
}

type stubProber struct{}

func (stubProber) Probe(ctx context.Context, path string) (*ffmpeg.VideoMetadata, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrap(err, "probe")
	}
	return &ffmpeg.VideoMetadata{Duration: 8, Width: 1280, Height: 720, FPS: 30, Codec: "h264", HasAudio: true}, nil
}

func testEngine(t *testing.T, runner supervisor.Runner, kills *atomic.Int32) *Engine {
	t.Helper()
	s := config.Default()
	s.DisableHardware = true
	return newEngine(s, runner, func() { kills.Add(1) }, stubProber{})
}

// collector records events delivered to an EventFunc.
type collector struct {
	mu     sync.Mutex
	events []operation.Event
}

func (c *collector) add(ev operation.Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *collector) terminal() []operation.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []operation.Event
	for _, ev := range c.events {
		switch ev.Phase {
		case string(types.StatusSucceeded), string(types.StatusFailed), string(types.StatusStopped):
			out = append(out, ev)
		}
	}
	return out
}

func TestExportSucceeds(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "beach day.mp4")
	os.WriteFile(src, []byte("src"), 0o644)

	var kills atomic.Int32
	e := testEngine(t, &stubRunner{}, &kills)
	events := &collector{}

	r := e.Export(context.Background(), ExportRequest{
		Source:  src,
		Effects: effects.Configuration{Mirror: true, ColorGrading: effects.GradingWarm},
		Events:  events.add,
	})
	if r.Status != types.StatusSucceeded {
		t.Fatalf("result = %+v", r)
	}
	if want := filepath.Join(dir, "beach_day_edited.mp4"); r.OutputPath != want {
		t.Errorf("OutputPath = %s, want %s", r.OutputPath, want)
	}
	if got := events.terminal(); len(got) != 1 || got[0].Phase != "succeeded" {
		t.Errorf("terminal events = %+v", got)
	}
}

func TestExportRejectsInvalidConfiguration(t *testing.T) {
	var kills atomic.Int32
	runner := &stubRunner{}
	e := testEngine(t, runner, &kills)
	events := &collector{}

	r := e.Export(context.Background(), ExportRequest{
		Source:  "in.mp4",
		Effects: effects.Configuration{CropFraction: 0.9},
		Events:  events.add,
	})
	if r.Status != types.StatusFailed || r.Message == "" {
		t.Errorf("result = %+v", r)
	}
	if runner.calls.Load() != 0 {
		t.Error("invalid configuration must not spawn processes")
	}
	if got := events.terminal(); len(got) != 1 || got[0].Level != operation.LevelError {
		t.Errorf("terminal events = %+v", got)
	}
}

func TestExportProbeFailureReleasesOutput(t *testing.T) {
	dir := t.TempDir()
	var kills atomic.Int32
	e := testEngine(t, &stubRunner{}, &kills)

	r := e.Export(context.Background(), ExportRequest{Source: filepath.Join(dir, "missing.mp4")})
	if r.Status != types.StatusFailed {
		t.Fatalf("result = %+v", r)
	}
	if _, err := os.Stat(filepath.Join(dir, "missing_edited.mp4")); !os.IsNotExist(err) {
		t.Error("placeholder must be removed after a failure")
	}
}

func TestStopWithNothingRunning(t *testing.T) {
	var kills atomic.Int32
	e := testEngine(t, &stubRunner{}, &kills)
	e.Stop()
	e.Stop()
	if kills.Load() != 0 {
		t.Error("nothing to kill when idle")
	}
}

func TestStopDuringExport(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "clip.mp4")
	os.WriteFile(src, []byte("src"), 0o644)

	var kills atomic.Int32
	runner := &stubRunner{block: true, started: make(chan struct{})}
	e := testEngine(t, runner, &kills)
	events := &collector{}

	go func() {
		<-runner.started
		e.Stop()
		e.Stop()
	}()

	done := make(chan types.Result, 1)
	go func() { done <- e.Export(context.Background(), ExportRequest{Source: src, Events: events.add}) }()

	select {
	case r := <-done:
		if r.Status != types.StatusStopped {
			t.Errorf("result = %+v, want stopped", r)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("export did not stop")
	}

	if kills.Load() == 0 {
		t.Error("Stop should kill running processes")
	}
	if got := events.terminal(); len(got) != 1 || got[0].Phase != "stopped" {
		t.Errorf("terminal events = %+v", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "clip_edited.mp4")); !os.IsNotExist(err) {
		t.Error("stopped export must not leave its output")
	}
	left, _ := filepath.Glob(filepath.Join(dir, config.TempDirPrefix+"*"))
	if len(left) != 0 {
		t.Errorf("temp directories left behind: %v", left)
	}
}

func TestStopReachesNewOperation(t *testing.T) {
	var kills atomic.Int32
	e := testEngine(t, &stubRunner{}, &kills)

	op := e.begin(context.Background())
	defer op.Close()
	defer e.untrack(op)

	e.Stop()
	if !op.Stopped() {
		t.Error("an operation is stoppable as soon as it exists")
	}
	if kills.Load() != 1 {
		t.Errorf("kills = %d, want 1", kills.Load())
	}
}

func TestStopRacesOperationStart(t *testing.T) {
	var kills atomic.Int32
	e := testEngine(t, &stubRunner{}, &kills)

	for i := 0; i < 100; i++ {
		var wg sync.WaitGroup
		var op *operation.Operation
		wg.Add(2)
		go func() {
			defer wg.Done()
			op = e.begin(context.Background())
		}()
		go func() {
			defer wg.Done()
			e.Stop()
		}()
		wg.Wait()

		// Either Stop saw the operation or it ran before the operation existed.
		e.mu.Lock()
		_, tracked := e.ops[op.ID]
		e.mu.Unlock()
		if !tracked {
			t.Fatal("operation not tracked after begin")
		}
		e.untrack(op)
		op.Close()
	}
}

func TestMergeRejectsBadRequests(t *testing.T) {
	var kills atomic.Int32
	e := testEngine(t, &stubRunner{}, &kills)

	if r := e.Merge(context.Background(), MergeRequest{Clips: []string{"a.mp4"}}); r.Status != types.StatusFailed {
		t.Errorf("single clip result = %+v", r)
	}
	if r := e.Merge(context.Background(), MergeRequest{Clips: []string{"a.mp4", "b.mp4"}, Transition: "spin"}); r.Status != types.StatusFailed {
		t.Errorf("unknown transition result = %+v", r)
	}
}

func TestMergeSucceeds(t *testing.T) {
	dir := t.TempDir()
	var clips []string
	for _, name := range []string{"a.mp4", "b.mp4"} {
		p := filepath.Join(dir, name)
		os.WriteFile(p, []byte(name), 0o644)
		clips = append(clips, p)
	}

	var kills atomic.Int32
	e := testEngine(t, &stubRunner{}, &kills)
	r := e.Merge(context.Background(), MergeRequest{Clips: clips, Transition: "random", Seed: 42})
	if r.Status != types.StatusSucceeded {
		t.Fatalf("result = %+v", r)
	}
	if filepath.Base(r.OutputPath) != "a_merged.mp4" {
		t.Errorf("OutputPath = %s", r.OutputPath)
	}
}

func TestMergeTransitionNameIgnoresCase(t *testing.T) {
	dir := t.TempDir()
	var clips []string
	for _, name := range []string{"a.mp4", "b.mp4"} {
		p := filepath.Join(dir, name)
		os.WriteFile(p, []byte(name), 0o644)
		clips = append(clips, p)
	}

	var kills atomic.Int32
	e := testEngine(t, &stubRunner{}, &kills)
	for _, name := range []string{"Fade", " WIPELEFT "} {
		r := e.Merge(context.Background(), MergeRequest{Clips: clips, Transition: name})
		if r.Status != types.StatusSucceeded {
			t.Errorf("transition %q: result = %+v", name, r)
		}
	}
}

func TestBatchResultsInOrder(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.mp4")
	c := filepath.Join(dir, "c.mp4")
	os.WriteFile(a, []byte("a"), 0o644)
	os.WriteFile(c, []byte("c"), 0o644)

	var kills atomic.Int32
	e := testEngine(t, &stubRunner{}, &kills)
	events := &collector{}
	results := e.Batch(context.Background(), BatchRequest{
		Sources: []string{a, filepath.Join(dir, "missing.mp4"), c},
		Events:  events.add,
	})

	want := []types.Status{types.StatusSucceeded, types.StatusFailed, types.StatusSucceeded}
	for i, r := range results {
		if r.Status != want[i] {
			t.Errorf("result %d = %+v, want %s", i, r, want[i])
		}
	}
	if filepath.Base(results[2].OutputPath) != "c_edited.mp4" {
		t.Errorf("result 2 path = %s", results[2].OutputPath)
	}
	if got := events.terminal(); len(got) != 1 || got[0].Phase != "failed" {
		t.Errorf("batch terminal events = %+v", got)
	}
}
