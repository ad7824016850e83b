package backend

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/ZacxDev/video-forge/internal/effects"
	"github.com/ZacxDev/video-forge/internal/supervisor"
)

type fakeRunner struct {
	calls atomic.Int32
	run   func(ctx context.Context) error
}

func (f *fakeRunner) Run(ctx context.Context, args []string, _ ...supervisor.Option) error {
	f.calls.Add(1)
	return f.run(ctx)
}

func TestSelect(t *testing.T) {
	tests := []struct {
		name      string
		cfg       effects.Configuration
		available bool
		want      Plan
	}{
		{"no hardware", effects.Configuration{}, false, Plan{Path: Software}},
		{"no hardware with speed", effects.Configuration{Speed: 2}, false, Plan{Path: Software}},
		{"hardware", effects.Configuration{}, true, Plan{Path: FullHardware}},
		{"hardware unit speed", effects.Configuration{Speed: 1}, true, Plan{Path: FullHardware}},
		{"hardware with speed", effects.Configuration{Speed: 1.25}, true, Plan{Path: Hybrid}},
		{"pitch", effects.Configuration{Pitch: 1.1}, true, Plan{Path: FullHardware, SeparateAudio: true}},
		{"volume", effects.Configuration{Volume: 2}, false, Plan{Path: Software, SeparateAudio: true}},
		{"evasion", effects.Configuration{AudioEvasion: true, Speed: 0.5}, true, Plan{Path: Hybrid, SeparateAudio: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Select(tt.cfg, tt.available); got != tt.want {
				t.Errorf("Select = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestFallbackKeepsAudioMode(t *testing.T) {
	p := Plan{Path: FullHardware, SeparateAudio: true}.Fallback()
	if p.Path != Software || !p.SeparateAudio {
		t.Errorf("Fallback = %+v", p)
	}
}

func TestEncoderArgs(t *testing.T) {
	in, out := Plan{Path: FullHardware}.EncoderArgs()
	if !slices.Equal(in, []string{"-hwaccel", "cuda"}) {
		t.Errorf("full hardware input = %v", in)
	}
	if i := slices.Index(out, "-c:v"); i < 0 || out[i+1] != "h264_nvenc" {
		t.Errorf("full hardware output = %v", out)
	}

	in, out = Plan{Path: Hybrid}.EncoderArgs()
	if len(in) != 0 {
		t.Errorf("hybrid must decode on the CPU, got %v", in)
	}
	if !slices.Contains(out, "h264_nvenc") {
		t.Errorf("hybrid output = %v", out)
	}

	in, out = Plan{Path: Software}.EncoderArgs()
	if len(in) != 0 || !slices.Contains(out, "libx264") {
		t.Errorf("software args = %v %v", in, out)
	}
	if out[len(out)-1] != "yuv420p" {
		t.Errorf("pix_fmt must close the encoder args: %v", out)
	}
	if slices.Contains(out, "-threads") {
		t.Errorf("zero threads must not be rendered: %v", out)
	}

	_, out = Plan{Path: Software, Threads: 3}.EncoderArgs()
	if i := slices.Index(out, "-threads"); i < 0 || out[i+1] != "3" {
		t.Errorf("software threads = %v", out)
	}
	_, out = Plan{Path: Hybrid, Threads: 3}.EncoderArgs()
	if slices.Contains(out, "-threads") {
		t.Errorf("threads apply to the software encoder only: %v", out)
	}
}

func TestProbeIsMemoized(t *testing.T) {
	r := &fakeRunner{run: func(context.Context) error { return nil }}
	c := NewCache(r, time.Second, false)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !c.Probe(context.Background()) {
				t.Error("probe should report available")
			}
		}()
	}
	wg.Wait()

	if n := r.calls.Load(); n != 1 {
		t.Errorf("probe ran %d times, want 1", n)
	}
}

func TestProbeFailureIsUnavailable(t *testing.T) {
	r := &fakeRunner{run: func(context.Context) error {
		return &supervisor.ExitError{Code: 1, Tail: "Cannot load libcuda.so.1"}
	}}
	c := NewCache(r, time.Second, false)
	if c.Probe(context.Background()) {
		t.Error("failed probe must report unavailable")
	}
	c.Probe(context.Background())
	if n := r.calls.Load(); n != 1 {
		t.Errorf("failure must be memoized, probe ran %d times", n)
	}
}

func TestProbeTimeout(t *testing.T) {
	r := &fakeRunner{run: func(ctx context.Context) error {
		<-ctx.Done()
		return supervisor.ErrCancelled
	}}
	c := NewCache(r, 50*time.Millisecond, false)

	start := time.Now()
	if c.Probe(context.Background()) {
		t.Error("timed out probe must report unavailable")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("probe timeout not enforced")
	}
}

func TestProbeCancelledByCallerIsNotMemoized(t *testing.T) {
	fail := true
	r := &fakeRunner{run: func(ctx context.Context) error {
		if fail {
			<-ctx.Done()
			return errors.New("killed")
		}
		return nil
	}}
	c := NewCache(r, time.Minute, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if c.Probe(ctx) {
		t.Fatal("cancelled probe reported available")
	}

	fail = false
	if !c.Probe(context.Background()) {
		t.Error("second probe should run and succeed")
	}
}

func TestProbeDisabled(t *testing.T) {
	r := &fakeRunner{run: func(context.Context) error { return nil }}
	c := NewCache(r, time.Second, true)
	if c.Probe(context.Background()) {
		t.Error("disabled cache must report unavailable")
	}
	if r.calls.Load() != 0 {
		t.Error("disabled cache must not spawn the probe")
	}
}
