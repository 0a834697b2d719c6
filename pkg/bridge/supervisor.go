package bridge

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/stacklight/wabridge/pkg/logger"
)

// State is the bridge process lifecycle state.
type State string

const (
	StateNotStarted State = "not_started"
	StateStarting   State = "starting"
	StateReady      State = "ready"
	StateStopping   State = "stopping"
	StateStopped    State = "stopped"
	StateCrashed    State = "crashed"
)

const (
	defaultReadyTimeout = 30 * time.Second
	defaultStopTimeout  = 5 * time.Second
	interruptWait       = 750 * time.Millisecond
	readySignal         = "ready"
)

// Config holds everything the supervisor needs to launch the bridge.
type Config struct {
	BinaryPath string
	RPCAddress string
	StorePath  string

	// Sink receives classified bridge output; DefaultLogLevel is used for
	// lines that are not structured records.
	Sink            LogSink
	DefaultLogLevel logger.Level

	// Handshake and shutdown windows, overridable in tests.
	ReadyTimeout time.Duration
	StopTimeout  time.Duration
}

// Supervisor owns the bridge subprocess: spawn, readiness handshake, output
// classification, and graceful-then-forced shutdown. At most one process runs
// at a time; Start while running stops the previous instance first.
type Supervisor struct {
	cfg Config

	mu      sync.Mutex
	cmd     *exec.Cmd
	state   State
	done    chan struct{}
	exitErr error
}

func New(cfg Config) *Supervisor {
	if cfg.Sink == nil {
		cfg.Sink = LoggerSink{}
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = defaultReadyTimeout
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	return &Supervisor{cfg: cfg, state: StateNotStarted}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PID returns the running bridge's process id, or 0.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil && s.cmd.Process != nil {
		return s.cmd.Process.Pid
	}
	return 0
}

// Done returns a channel closed when the current process exits, for watching
// unexpected deaths. Nil before the first Start.
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// ExitError returns the recorded exit failure once Done is closed.
func (s *Supervisor) ExitError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitErr
}

// Start spawns the bridge and blocks until it prints its ready signal, the
// handshake window elapses (ErrReadyTimeout), or the process dies first
// (UnexpectedExitError). A prior running instance is stopped before spawning.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	running := s.cmd != nil
	s.mu.Unlock()
	if running {
		s.Stop()
	}

	if _, err := os.Stat(s.cfg.BinaryPath); err != nil {
		return fmt.Errorf("%w: %s", ErrBinaryNotFound, s.cfg.BinaryPath)
	}

	// A previous host crash can leave an orphaned bridge holding the RPC
	// port; clear it before spawning.
	s.killStrayInstances()

	cmd := exec.Command(s.cfg.BinaryPath, "serve")
	cmd.Env = append(os.Environ(),
		"WABRIDGE_RPC_ADDRESS="+s.cfg.RPCAddress,
		"WABRIDGE_STORE_PATH="+s.cfg.StorePath,
		"WABRIDGE_PARENT_PID="+strconv.Itoa(os.Getpid()),
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &StartError{Err: fmt.Errorf("stdout pipe: %w", err)}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &StartError{Err: fmt.Errorf("stderr pipe: %w", err)}
	}

	s.mu.Lock()
	s.state = StateStarting
	s.mu.Unlock()

	if err := cmd.Start(); err != nil {
		s.setState(StateCrashed)
		return &StartError{Err: err}
	}

	logger.InfoCF("bridge", "Bridge process spawned", map[string]interface{}{
		"pid":     cmd.Process.Pid,
		"address": s.cfg.RPCAddress,
	})

	ready := make(chan struct{})
	done := make(chan struct{})
	var pipeWG sync.WaitGroup

	pipeWG.Add(2)
	go s.scanStdout(stdout, ready, &pipeWG)
	go s.scanStderr(stderr, &pipeWG)

	s.mu.Lock()
	s.cmd = cmd
	s.done = done
	s.exitErr = nil
	s.mu.Unlock()

	exitCh := make(chan int, 1)
	go func() {
		pipeWG.Wait()
		err := cmd.Wait()
		code := 0
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else if err != nil {
			code = -1
		}

		s.mu.Lock()
		if s.state != StateStopping && s.state != StateStopped {
			s.state = StateCrashed
			s.exitErr = &UnexpectedExitError{Code: code}
		}
		if s.cmd == cmd {
			s.cmd = nil
		}
		s.mu.Unlock()

		exitCh <- code
		close(done)
	}()

	select {
	case <-ready:
		s.setState(StateReady)
		logger.InfoC("bridge", "Bridge ready")
		return nil

	case code := <-exitCh:
		s.setState(StateCrashed)
		return &UnexpectedExitError{Code: code}

	case <-time.After(s.cfg.ReadyTimeout):
		logger.ErrorC("bridge", "Bridge never signalled ready, stopping it")
		s.Stop()
		return ErrReadyTimeout

	case <-ctx.Done():
		s.Stop()
		return ctx.Err()
	}
}

// Stop terminates the bridge: SIGTERM, wait up to the stop timeout, escalate
// to SIGINT, then SIGKILL. No-op when nothing is running. The wait runs off
// the caller's goroutine and signals completion through the exit channel, so
// the call appears synchronous.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cmd := s.cmd
	done := s.done
	if cmd == nil || cmd.Process == nil {
		if s.state != StateNotStarted {
			s.state = StateStopped
		}
		s.mu.Unlock()
		return
	}
	s.state = StateStopping
	s.mu.Unlock()

	_ = cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-done:
		s.setState(StateStopped)
		return
	case <-time.After(s.cfg.StopTimeout):
	}

	logger.WarnC("bridge", "Bridge ignored SIGTERM, escalating")
	_ = cmd.Process.Signal(os.Interrupt)

	select {
	case <-done:
		s.setState(StateStopped)
		return
	case <-time.After(interruptWait):
	}

	_ = cmd.Process.Kill()
	<-done
	s.setState(StateStopped)
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// scanStdout watches for the ready signal and forwards everything else to the
// log sink. The signal is the single case-insensitive literal line "ready".
func (s *Supervisor) scanStdout(r io.Reader, ready chan<- struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	signalled := false
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !signalled && isReadySignal(line) {
			signalled = true
			close(ready)
			continue
		}
		forwardLine(s.cfg.Sink, line, s.cfg.DefaultLogLevel)
	}
}

func (s *Supervisor) scanStderr(r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		forwardLine(s.cfg.Sink, scanner.Text(), s.cfg.DefaultLogLevel)
	}
}

func isReadySignal(line string) bool {
	return strings.EqualFold(strings.TrimSpace(line), readySignal)
}

// killStrayInstances terminates any orphaned bridge left over from a previous
// host crash, matched by binary name. Failures are ignored; this is cleanup,
// not correctness.
func (s *Supervisor) killStrayInstances() {
	name := filepath.Base(s.cfg.BinaryPath)
	if name == "" || name == "." {
		return
	}

	kill := exec.Command("pkill", "-x", name)
	if err := kill.Run(); err == nil {
		logger.WarnCF("bridge", "Killed stray bridge instance", map[string]interface{}{
			"name": name,
		})
		// Give the old process a moment to release the port.
		time.Sleep(200 * time.Millisecond)
	}
}
