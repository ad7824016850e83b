package supervisor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/ZacxDev/video-forge/internal/config"
)

// TestHelperProcess is not a real test. It is re-executed as the child
// process by the tests below.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) < 2 {
		os.Exit(2)
	}

	switch args[1] {
	case "ok":
		fmt.Fprintln(os.Stderr, "frame=1\rframe=2")
		fmt.Fprintln(os.Stderr, "done")
		os.Exit(0)
	case "fail":
		lines, _ := strconv.Atoi(args[2])
		code, _ := strconv.Atoi(args[3])
		for i := 0; i < lines; i++ {
			fmt.Fprintf(os.Stderr, "line %d\n", i)
		}
		os.Exit(code)
	case "long":
		for i := 0; i < 30; i++ {
			fmt.Fprintln(os.Stderr, strings.Repeat("x", 1000))
		}
		os.Exit(1)
	case "pwd":
		wd, _ := os.Getwd()
		fmt.Fprintln(os.Stderr, wd)
		os.Exit(0)
	case "sleep":
		fmt.Fprintln(os.Stderr, "sleeping")
		time.Sleep(30 * time.Second)
		os.Exit(0)
	}
	os.Exit(2)
}

func helperArgs(mode ...string) []string {
	return append([]string{"-test.run=TestHelperProcess", "--"}, mode...)
}

func newTestSupervisor(t *testing.T) (*Supervisor, string) {
	t.Helper()
	dir := t.TempDir()
	return New(os.Args[0], dir), dir
}

var helperEnv = WithEnv("GO_WANT_HELPER_PROCESS=1")

func TestRunSuccessStreamsLines(t *testing.T) {
	s, _ := newTestSupervisor(t)

	var mu sync.Mutex
	var lines []string
	err := s.Run(context.Background(), helperArgs("ok"), helperEnv, WithLineHandler(func(l string) {
		mu.Lock()
		lines = append(lines, l)
		mu.Unlock()
	}))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{"frame=1", "frame=2", "done"}
	if strings.Join(lines, "|") != strings.Join(want, "|") {
		t.Errorf("lines = %v, want %v", lines, want)
	}
	if s.Running() != 0 {
		t.Errorf("Running = %d after exit", s.Running())
	}
}

func TestRunWithDir(t *testing.T) {
	s, _ := newTestSupervisor(t)
	work := t.TempDir()

	var got string
	err := s.Run(context.Background(), helperArgs("pwd"), helperEnv, WithDir(work), WithLineHandler(func(l string) { got = l }))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want, _ := filepath.EvalSymlinks(work)
	if resolved, _ := filepath.EvalSymlinks(got); resolved != want {
		t.Errorf("child dir = %q, want %q", got, want)
	}
}

func TestRunPreCancelledDoesNotSpawn(t *testing.T) {
	s, _ := newTestSupervisor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.Run(ctx, helperArgs("ok"), helperEnv, WithLineHandler(func(string) { called = true }))
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if called {
		t.Error("child produced output although it should not have been spawned")
	}
}

func TestRunExitErrorKeepsTail(t *testing.T) {
	s, dir := newTestSupervisor(t)

	err := s.Run(context.Background(), helperArgs("fail", "30", "3"), helperEnv)
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("err = %v, want *ExitError", err)
	}
	if exitErr.Code != 3 {
		t.Errorf("Code = %d, want 3", exitErr.Code)
	}
	lines := strings.Split(exitErr.Tail, "\n")
	if len(lines) != config.DiagnosticTailLines {
		t.Errorf("tail has %d lines, want %d", len(lines), config.DiagnosticTailLines)
	}
	if lines[0] != "line 10" || lines[len(lines)-1] != "line 29" {
		t.Errorf("tail = %q..%q", lines[0], lines[len(lines)-1])
	}
	if !strings.Contains(exitErr.Error(), "line 29") {
		t.Errorf("Error() = %s", exitErr.Error())
	}

	dump, err := os.ReadFile(filepath.Join(dir, config.LastFailedCmdFile))
	if err != nil {
		t.Fatalf("failed command not dumped: %v", err)
	}
	if !strings.Contains(string(dump), "fail 30 3") {
		t.Errorf("dump = %s", dump)
	}
}

func TestRunTailByteCap(t *testing.T) {
	s, _ := newTestSupervisor(t)
	err := s.Run(context.Background(), helperArgs("long"), helperEnv)
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("err = %v, want *ExitError", err)
	}
	if len(exitErr.Tail) > config.DiagnosticTailBytes {
		t.Errorf("tail is %d bytes, cap %d", len(exitErr.Tail), config.DiagnosticTailBytes)
	}
}

func TestRunCancelWhileRunning(t *testing.T) {
	s, _ := newTestSupervisor(t)
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	var once sync.Once
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, helperArgs("sleep"), helperEnv, WithLineHandler(func(string) {
			once.Do(func() { close(started) })
		}))
	}()

	select {
	case <-started:
	case <-time.After(10 * time.Second):
		t.Fatal("child never started")
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, ErrCancelled) {
			t.Errorf("err = %v, want ErrCancelled", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if s.Running() != 0 {
		t.Errorf("Running = %d after cancel", s.Running())
	}
}

func TestKillAll(t *testing.T) {
	s, _ := newTestSupervisor(t)

	started := make(chan struct{})
	var once sync.Once
	done := make(chan error, 1)
	go func() {
		done <- s.Run(context.Background(), helperArgs("sleep"), helperEnv, WithLineHandler(func(string) {
			once.Do(func() { close(started) })
		}))
	}()

	select {
	case <-started:
	case <-time.After(10 * time.Second):
		t.Fatal("child never started")
	}
	s.KillAll()

	select {
	case err := <-done:
		if err == nil {
			t.Error("killed child reported success")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after KillAll")
	}
}

func TestKillUnknownPid(t *testing.T) {
	s, _ := newTestSupervisor(t)
	if err := s.Kill(999999); err == nil {
		t.Error("expected error for untracked pid")
	}
}

func TestTailRing(t *testing.T) {
	tl := newTail(3, 100)
	for _, l := range []string{"a", "b", "c", "d", "e"} {
		tl.add(l)
	}
	if got := tl.String(); got != "c\nd\ne" {
		t.Errorf("tail = %q", got)
	}

	short := newTail(5, 100)
	short.add("only")
	if got := short.String(); got != "only" {
		t.Errorf("tail = %q", got)
	}
}

func TestCommandLineQuotes(t *testing.T) {
	got := CommandLine("ffmpeg", []string{"-i", "my clip.mp4", "out.mp4"})
	if got != `ffmpeg -i "my clip.mp4" out.mp4` {
		t.Errorf("CommandLine = %s", got)
	}
}
