// Package supervisor runs ffmpeg child processes, streams their diagnostics
// and terminates them on cancellation.
package supervisor

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/ZacxDev/video-forge/internal/config"
	"github.com/ZacxDev/video-forge/internal/logging"
	"github.com/ZacxDev/video-forge/internal/metrics"
)

// ErrCancelled is returned when the run was cancelled before or during execution.
var ErrCancelled = errors.New("cancelled")

// ExitError reports a child that exited with a non-zero status.
type ExitError struct {
	Code int
	// Tail holds the last diagnostic lines the child wrote to stderr.
	Tail string
}

func (e *ExitError) Error() string {
	last := e.Tail
	if i := strings.LastIndexByte(strings.TrimRight(last, "\n"), '\n'); i >= 0 {
		last = last[i+1:]
	}
	return fmt.Sprintf("ffmpeg exited with code %d: %s", e.Code, strings.TrimSpace(last))
}

// Runner executes one engine invocation. args excludes the binary name.
type Runner interface {
	Run(ctx context.Context, args []string, opts ...Option) error
}

type runOptions struct {
	dir    string
	env    []string
	label  string
	onLine func(string)
}

// Option configures a single Run.
type Option func(*runOptions)

// WithDir sets the working directory of the child.
func WithDir(dir string) Option {
	return func(o *runOptions) { o.dir = dir }
}

// WithEnv appends variables to the inherited environment.
func WithEnv(env ...string) Option {
	return func(o *runOptions) { o.env = append(o.env, env...) }
}

// WithLabel tags log lines with the job name, e.g. "enc_0003".
func WithLabel(label string) Option {
	return func(o *runOptions) { o.label = label }
}

// WithLineHandler receives every diagnostic line as it is produced.
func WithLineHandler(fn func(line string)) Option {
	return func(o *runOptions) { o.onLine = fn }
}

// Supervisor spawns and tracks child processes.
type Supervisor struct {
	binary  string
	diagDir string
	log     zerolog.Logger

	mu    sync.Mutex
	procs map[int]*os.Process
}

// New creates a supervisor for binary. Failed command lines are written to
// diagDir; an empty diagDir disables the dump.
func New(binary, diagDir string) *Supervisor {
	return &Supervisor{
		binary:  binary,
		diagDir: diagDir,
		log:     logging.WithComponent("supervisor"),
		procs:   make(map[int]*os.Process),
	}
}

// Run spawns one child and waits for it. It returns nil on exit status 0,
// *ExitError on failure and ErrCancelled if ctx ends first.
func (s *Supervisor) Run(ctx context.Context, args []string, opts ...Option) error {
	if ctx.Err() != nil {
		return ErrCancelled
	}

	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}

	cmd := exec.CommandContext(ctx, s.binary, args...)
	cmd.Dir = o.dir
	if len(o.env) > 0 {
		cmd.Env = append(os.Environ(), o.env...)
	}
	cmd.WaitDelay = 2 * time.Second

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return errors.Wrap(err, "stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		if ctx.Err() != nil {
			return ErrCancelled
		}
		s.dumpFailed(args)
		return errors.Wrapf(err, "start %s", s.binary)
	}

	pid := cmd.Process.Pid
	s.track(pid, cmd.Process)
	defer s.untrack(pid)

	log := s.log.With().Int("pid", pid).Str("job", o.label).Logger()
	log.Debug().Strs("args", args).Msg("spawned")

	tail := newTail(config.DiagnosticTailLines, config.DiagnosticTailBytes)
	s.drain(stderr, func(line string) {
		tail.add(line)
		log.Debug().Msg(line)
		if o.onLine != nil {
			o.onLine(line)
		}
	})

	err = cmd.Wait()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		log.Debug().Msg("terminated by cancellation")
		return ErrCancelled
	}

	var ee *exec.ExitError
	if errors.As(err, &ee) {
		metrics.ProcessFailuresTotal.Inc()
		s.dumpFailed(args)
		exitErr := &ExitError{Code: ee.ExitCode(), Tail: tail.String()}
		log.Warn().Int("code", exitErr.Code).Msg("process failed")
		return exitErr
	}
	return errors.Wrapf(err, "wait %s", s.binary)
}

// Kill terminates one tracked process.
func (s *Supervisor) Kill(pid int) error {
	s.mu.Lock()
	p, ok := s.procs[pid]
	s.mu.Unlock()
	if !ok {
		return errors.Errorf("no tracked process %d", pid)
	}
	return p.Kill()
}

// KillAll terminates every tracked process.
func (s *Supervisor) KillAll() {
	s.mu.Lock()
	procs := make([]*os.Process, 0, len(s.procs))
	for _, p := range s.procs {
		procs = append(procs, p)
	}
	s.mu.Unlock()

	for _, p := range procs {
		if err := p.Kill(); err != nil {
			s.log.Debug().Err(err).Int("pid", p.Pid).Msg("kill")
		}
	}
}

// Running returns the number of tracked processes.
func (s *Supervisor) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

func (s *Supervisor) track(pid int, p *os.Process) {
	s.mu.Lock()
	s.procs[pid] = p
	s.mu.Unlock()
	metrics.ActiveProcesses.Inc()
}

func (s *Supervisor) untrack(pid int) {
	s.mu.Lock()
	delete(s.procs, pid)
	s.mu.Unlock()
	metrics.ActiveProcesses.Dec()
}

// drain reads r until EOF. ffmpeg rewrites its status line with '\r', so both
// '\r' and '\n' end a line.
func (s *Supervisor) drain(r io.Reader, fn func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	scanner.Split(scanLines)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			fn(line)
		}
	}
	if err := scanner.Err(); err != nil {
		s.log.Debug().Err(err).Msg("stderr read")
	}
}

func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func (s *Supervisor) dumpFailed(args []string) {
	if s.diagDir == "" {
		return
	}
	if err := os.MkdirAll(s.diagDir, 0o755); err != nil {
		s.log.Debug().Err(err).Msg("diagnostics dir")
		return
	}
	path := filepath.Join(s.diagDir, config.LastFailedCmdFile)
	line := CommandLine(s.binary, args) + "\n"
	if err := os.WriteFile(path, []byte(line), 0o644); err != nil {
		s.log.Debug().Err(err).Str("path", path).Msg("write failed command")
	}
}

// CommandLine renders a command for humans, quoting arguments with spaces.
// It is never passed to a shell.
func CommandLine(binary string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	for _, a := range append([]string{binary}, args...) {
		if a == "" || strings.ContainsAny(a, " \t\"'") {
			a = fmt.Sprintf("%q", a)
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}
