// Package supervisor owns backend OS processes: it starts them, detects
// readiness by scanning their combined output for a marker line, and stops
// them with graceful-then-forced termination. It knows nothing about
// memory policy; that lives in the controller.
package supervisor

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

const stderrTailBytes = 4096

// LaunchSpec describes how to start one backend process and how to tell
// that it is ready to serve.
type LaunchSpec struct {
	Bin  string
	Args []string
	// Substring that, once seen on a full line of combined output, marks
	// the process as ready.
	ReadyMarker string
	// How long to wait for the marker before giving up.
	StartTimeout time.Duration
}

// Handle identifies a tracked process.
type Handle string

type proc struct {
	cmd     *exec.Cmd
	pid     int
	exited  chan struct{}
	waitErr error
}

// Supervisor tracks spawned processes and is the only component permitted
// to send them termination signals.
type Supervisor struct {
	mu    sync.Mutex
	procs map[Handle]*proc
	grace time.Duration
	seq   atomic.Uint64
	log   zerolog.Logger
}

// New constructs a Supervisor. grace is how long Stop waits after SIGTERM
// before escalating to SIGKILL.
func New(grace time.Duration, log zerolog.Logger) *Supervisor {
	if grace <= 0 {
		grace = 30 * time.Second
	}
	return &Supervisor{
		procs: make(map[Handle]*proc),
		grace: grace,
		log:   log.With().Str("component", "supervisor").Logger(),
	}
}

// Start spawns the process described by spec and blocks until its
// readiness marker is seen. It fails with *StartFailedError if the process
// cannot be spawned, exits first, or the marker does not appear within
// StartTimeout. Start is deliberately not caller-cancellable: a started
// backend either becomes ready and tracked, or is cleaned up here.
func (s *Supervisor) Start(spec LaunchSpec) (Handle, error) {
	if strings.TrimSpace(spec.Bin) == "" {
		return "", &StartFailedError{Command: "", Err: errors.New("empty binary path")}
	}
	cmd := exec.Command(spec.Bin, spec.Args...)
	cmdline := strings.Join(append([]string{spec.Bin}, spec.Args...), " ")

	pr, pw := io.Pipe()
	tail := newTailBuffer(stderrTailBytes)
	cmd.Stdout = pw
	cmd.Stderr = io.MultiWriter(pw, tail)

	if err := cmd.Start(); err != nil {
		return "", &StartFailedError{Command: cmdline, Err: err}
	}
	p := &proc{cmd: cmd, pid: cmd.Process.Pid, exited: make(chan struct{})}
	s.log.Debug().Int("pid", p.pid).Str("cmd", cmdline).Msg("process started, waiting for readiness")

	go func() {
		p.waitErr = cmd.Wait()
		_ = pw.Close()
		close(p.exited)
	}()

	readyCh := make(chan struct{})
	go func() {
		scanner := newReadyScanner(spec.ReadyMarker)
		buf := make([]byte, 4096)
		signalled := false
		for {
			n, err := pr.Read(buf)
			if n > 0 && !signalled && scanner.Feed(buf[:n]) {
				signalled = true
				close(readyCh)
			}
			if err != nil {
				return
			}
		}
	}()

	timeout := spec.StartTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-readyCh:
		tail.Disable()
	case <-p.exited:
		err := p.waitErr
		if err == nil {
			err = errors.New("process exited before becoming ready")
		}
		return "", &StartFailedError{Command: cmdline, Stderr: tail.String(), Err: err}
	case <-timer.C:
		_ = cmd.Process.Kill()
		<-p.exited
		return "", &StartFailedError{
			Command: cmdline,
			Stderr:  tail.String(),
			Err:     fmt.Errorf("not ready within %s", timeout),
		}
	}

	h := Handle(fmt.Sprintf("p-%d-%d", s.seq.Add(1), p.pid))
	s.mu.Lock()
	s.procs[h] = p
	s.mu.Unlock()
	s.log.Info().Int("pid", p.pid).Str("handle", string(h)).Msg("process ready")
	return h, nil
}

// Stop terminates a tracked process: SIGTERM, then SIGKILL after the grace
// period. The handle is removed from the table once the process has
// exited, even if the kill itself errors; such errors are logged only.
func (s *Supervisor) Stop(h Handle) error {
	s.mu.Lock()
	p := s.procs[h]
	s.mu.Unlock()
	if p == nil {
		return &UnknownProcessError{Handle: h}
	}

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		s.log.Warn().Err(err).Int("pid", p.pid).Msg("sigterm failed")
	}
	timer := time.NewTimer(s.grace)
	defer timer.Stop()
	select {
	case <-p.exited:
	case <-timer.C:
		s.log.Warn().Int("pid", p.pid).Dur("grace", s.grace).Msg("grace period elapsed, killing")
		if err := p.cmd.Process.Kill(); err != nil {
			s.log.Warn().Err(err).Int("pid", p.pid).Msg("kill failed")
		}
		<-p.exited
	}

	s.mu.Lock()
	delete(s.procs, h)
	s.mu.Unlock()
	s.log.Info().Int("pid", p.pid).Str("handle", string(h)).Msg("process stopped")
	return nil
}

// Exited exposes process death: the returned channel is closed once the
// process behind h has exited, whether on its own or via Stop. Handles
// that are not tracked, including already-stopped ones, read as exited.
func (s *Supervisor) Exited(h Handle) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.procs[h]; p != nil {
		return p.exited
	}
	return closedExit
}

var closedExit = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// StopAll terminates every tracked process. Best effort; used at shutdown.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	handles := make([]Handle, 0, len(s.procs))
	for h := range s.procs {
		handles = append(handles, h)
	}
	s.mu.Unlock()
	for _, h := range handles {
		if err := s.Stop(h); err != nil {
			s.log.Warn().Err(err).Str("handle", string(h)).Msg("stop during shutdown")
		}
	}
}

// PID returns the OS process id behind a handle, for status reporting.
func (s *Supervisor) PID(h Handle) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.procs[h]; p != nil {
		return p.pid, true
	}
	return 0, false
}
