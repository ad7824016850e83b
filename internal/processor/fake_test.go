package processor

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/ZacxDev/video-forge/internal/backend"
	"github.com/ZacxDev/video-forge/internal/config"
	"github.com/ZacxDev/video-forge/internal/ffmpeg"
	"github.com/ZacxDev/video-forge/internal/operation"
	"github.com/ZacxDev/video-forge/internal/supervisor"
)

// fakeRunner stands in for ffmpeg. Encodes write E(<input content>) to their
// output, concats join the listed files with "|" and segment splits write
// chunks numbered chunk0, chunk1...
type fakeRunner struct {
	chunks int
	delay  func(args []string) time.Duration
	fail   func(args []string) error
	// started is closed on the first encode that begins waiting in delay.
	started chan struct{}

	mu    sync.Mutex
	calls [][]string
	once  sync.Once
}

func (f *fakeRunner) Run(ctx context.Context, args []string, _ ...supervisor.Option) error {
	if ctx.Err() != nil {
		return supervisor.ErrCancelled
	}
	f.mu.Lock()
	f.calls = append(f.calls, args)
	f.mu.Unlock()

	if f.delay != nil {
		if d := f.delay(args); d > 0 {
			if f.started != nil {
				f.once.Do(func() { close(f.started) })
			}
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return supervisor.ErrCancelled
			}
		}
	}
	if f.fail != nil {
		if err := f.fail(args); err != nil {
			return err
		}
	}

	out := outputOf(args)
	switch {
	case slices.Contains(args, "segment"):
		for i := 0; i < f.chunks; i++ {
			if err := os.WriteFile(fmt.Sprintf(out, i), []byte(fmt.Sprintf("chunk%d", i)), 0o644); err != nil {
				return err
			}
		}
		return nil
	case slices.Contains(args, "concat"):
		parts, err := readList(inputOf(args))
		if err != nil {
			return err
		}
		return os.WriteFile(out, []byte(strings.Join(parts, "|")), 0o644)
	default:
		in, _ := os.ReadFile(inputOf(args))
		return os.WriteFile(out, []byte("E("+string(in)+")"), 0o644)
	}
}

func (f *fakeRunner) recorded() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.calls...)
}

// count returns how many calls contain every token.
func (f *fakeRunner) count(tokens ...string) int {
	n := 0
	for _, c := range f.recorded() {
		if hasAll(c, tokens...) {
			n++
		}
	}
	return n
}

func hasAll(args []string, tokens ...string) bool {
	joined := strings.Join(args, " ")
	for _, t := range tokens {
		if !strings.Contains(joined, t) {
			return false
		}
	}
	return true
}

func outputOf(args []string) string {
	for i := len(args) - 1; i >= 0; i-- {
		if args[i] != "-y" {
			return args[i]
		}
	}
	return ""
}

func inputOf(args []string) string {
	if i := slices.Index(args, "-i"); i >= 0 && i+1 < len(args) {
		return args[i+1]
	}
	return ""
}

func readList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var parts []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSuffix(strings.TrimPrefix(sc.Text(), "file '"), "'")
		data, err := os.ReadFile(line)
		if err != nil {
			return nil, err
		}
		parts = append(parts, string(data))
	}
	return parts, sc.Err()
}

// encodeIndex extracts N from an enc_N / body_N / trans_N output name.
func encodeIndex(args []string) int {
	base := filepath.Base(outputOf(args))
	var n int
	for _, prefix := range []string{"enc_%d", "body_%d", "trans_%d"} {
		if _, err := fmt.Sscanf(base, prefix, &n); err == nil {
			return n
		}
	}
	return -1
}

type fakeProber struct {
	meta map[string]*ffmpeg.VideoMetadata
	err  map[string]error
}

func (p *fakeProber) Probe(ctx context.Context, path string) (*ffmpeg.VideoMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.err[path]; err != nil {
		return nil, err
	}
	if md, ok := p.meta[path]; ok {
		return md, nil
	}
	return nil, errors.Errorf("no such file %s", path)
}

type okRunner struct{}

func (okRunner) Run(context.Context, []string, ...supervisor.Option) error { return nil }

// newOp returns an operation whose capability probe reports hardware as given.
func newOp(t *testing.T, hardware bool) *operation.Operation {
	t.Helper()
	op := operation.New(context.Background(), backend.NewCache(okRunner{}, time.Second, !hardware))
	t.Cleanup(op.Close)
	return op
}

func testSettings() *config.Settings {
	s := config.Default()
	s.ChunkSeconds = 30
	s.HardwareWorkers = 3
	s.BatchWorkers = 2
	return s
}

// writeFile creates dir/name with content and returns its path.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

// assertNoWorkDirs fails when a per-operation temp directory survived in dir.
func assertNoWorkDirs(t *testing.T, dir string) {
	t.Helper()
	left, _ := filepath.Glob(filepath.Join(dir, config.TempDirPrefix+"*"))
	if len(left) != 0 {
		t.Errorf("temp directories left behind: %v", left)
	}
}

// drain collects the events of a closed operation.
func drain(op *operation.Operation) []operation.Event {
	op.Close()
	var evs []operation.Event
	for ev := range op.Events() {
		evs = append(evs, ev)
	}
	return evs
}
