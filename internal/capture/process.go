package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	stopGrace = 200 * time.Millisecond
	stopReap  = 2 * time.Second
)

// ErrStopped is returned by EnsureRunning after Close.
var ErrStopped = errors.New("capture: supervisor closed")

// Command is a fully resolved subprocess invocation.
type Command struct {
	Path string
	Args []string
	// Env entries are appended to the parent environment.
	Env []string
	// Stdin requests a writable pipe to the process.
	Stdin bool
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Path}, c.Args...), " ")
}

// CommandFunc resolves the command line for the next process start.
type CommandFunc func() (Command, error)

// DataFunc consumes the process stdout until it returns.
type DataFunc func(stdout io.Reader)

// Supervisor owns one external process: it starts it on demand, drains its
// diagnostics, and terminates it. Restarts are immediate and unthrottled.
type Supervisor struct {
	name    string
	command CommandFunc
	onData  DataFunc
	log     *slog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	exited chan struct{}
	tuning Tuning
	closed bool

	running atomic.Bool
	starts  atomic.Uint64
}

// NewSupervisor creates a Supervisor. Nothing is spawned until EnsureRunning.
func NewSupervisor(name string, command CommandFunc, onData DataFunc, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		name:    name,
		command: command,
		onData:  onData,
		log:     log,
	}
}

// SetTuning sets the scheduling applied to processes started from now on.
func (s *Supervisor) SetTuning(t Tuning) {
	s.mu.Lock()
	s.tuning = t
	s.mu.Unlock()
}

// EnsureRunning spawns the process if none exists or the last one exited.
// After Close it returns ErrStopped and never spawns.
func (s *Supervisor) EnsureRunning() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStopped
	}

	if s.cmd != nil {
		select {
		case <-s.exited:
		default:
			return nil
		}
		s.cmd, s.stdin, s.exited = nil, nil, nil
	}
	return s.start()
}

func (s *Supervisor) start() error {
	c, err := s.command()
	if err != nil {
		return fmt.Errorf("%s: build command: %w", s.name, err)
	}

	cmd := exec.Command(c.Path, c.Args...)
	cmd.Env = append(os.Environ(), c.Env...)

	var stdin io.WriteCloser
	if c.Stdin {
		if stdin, err = cmd.StdinPipe(); err != nil {
			return fmt.Errorf("%s: stdin pipe: %w", s.name, err)
		}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%s: stdout pipe: %w", s.name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("%s: stderr pipe: %w", s.name, err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%s: start %s: %w", s.name, c.Path, err)
	}

	n := s.starts.Add(1)
	s.log.Info("process started", "pid", cmd.Process.Pid, "start", n, "cmd", c.String())
	if !s.tuning.IsZero() {
		if err := ApplyTuning(cmd.Process.Pid, s.tuning); err != nil {
			s.log.Warn("process tuning not applied", "pid", cmd.Process.Pid, "err", err)
		}
	}

	exited := make(chan struct{})
	s.cmd, s.stdin, s.exited = cmd, stdin, exited
	s.running.Store(true)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.onData(stdout)
		// The consumer is gone; a producer left alive would block on a full pipe.
		_ = cmd.Process.Kill()
	}()
	go func() {
		defer wg.Done()
		s.drainDiagnostics(stderr)
	}()
	go func() {
		wg.Wait()
		err := cmd.Wait()
		s.log.Debug("process exited", "pid", cmd.Process.Pid, "err", err)
		close(exited)
	}()
	return nil
}

func (s *Supervisor) drainDiagnostics(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 64*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		s.log.Log(context.Background(), classifyDiagnostic(line), "ffmpeg", "line", line)
	}
}

// classifyDiagnostic maps a diagnostic line to a log level by keyword.
func classifyDiagnostic(line string) slog.Level {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "error"):
		return slog.LevelError
	case strings.Contains(lower, "dropped"):
		return slog.LevelWarn
	default:
		return slog.LevelDebug
	}
}

// Stdin returns the write side of the process stdin, or nil.
func (s *Supervisor) Stdin() io.Writer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stdin == nil {
		return nil
	}
	return s.stdin
}

// Running reports whether a process is alive and has not been stopped.
func (s *Supervisor) Running() bool {
	if !s.running.Load() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil {
		return false
	}
	select {
	case <-s.exited:
		return false
	default:
		return true
	}
}

// PID returns the pid of the current process, or 0 when none is held.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Starts returns how many processes have been spawned.
func (s *Supervisor) Starts() uint64 {
	return s.starts.Load()
}

// Close stops the process for good: later EnsureRunning calls fail with
// ErrStopped. A start that won the lock before Close is terminated here.
func (s *Supervisor) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.Stop()
}

// Stop terminates the process. It sends a graceful signal, waits briefly,
// then kills. Safe to call repeatedly and concurrently with a blocked read.
func (s *Supervisor) Stop() {
	s.running.Store(false)

	s.mu.Lock()
	cmd, stdin, exited := s.cmd, s.stdin, s.exited
	s.cmd, s.stdin, s.exited = nil, nil, nil
	s.mu.Unlock()

	if cmd == nil {
		return
	}
	if stdin != nil {
		_ = stdin.Close()
	}
	if err := terminate(cmd.Process); err != nil {
		s.log.Debug("terminate failed", "err", err)
	}
	select {
	case <-exited:
		return
	case <-time.After(stopGrace):
	}
	if err := cmd.Process.Kill(); err != nil {
		s.log.Debug("kill failed", "err", err)
	}
	select {
	case <-exited:
	case <-time.After(stopReap):
		s.log.Warn("process did not exit after kill", "pid", cmd.Process.Pid)
	}
}
