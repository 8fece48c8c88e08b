package supervisor

import (
	"bytes"
	"strings"
	"sync"
)

// maxPending bounds how much of an unterminated line is kept while waiting
// for a newline. Backends that never emit one cannot grow the buffer.
const maxPending = 64 * 1024

// readyScanner detects a readiness marker in a process output stream. It
// accumulates arbitrary byte chunks, splits them into complete lines, and
// matches each line against the marker substring, so a marker split across
// two chunks is still recognized. After the first match it drops its
// buffer and ignores further input.
type readyScanner struct {
	marker string
	buf    []byte
	found  bool
}

func newReadyScanner(marker string) *readyScanner {
	return &readyScanner{marker: marker}
}

// Feed consumes the next output chunk and reports whether the marker has
// been seen on any complete line so far.
func (s *readyScanner) Feed(p []byte) bool {
	if s.found {
		return true
	}
	s.buf = append(s.buf, p...)
	for {
		i := bytes.IndexByte(s.buf, '\n')
		if i < 0 {
			break
		}
		line := s.buf[:i]
		s.buf = s.buf[i+1:]
		if strings.Contains(string(line), s.marker) {
			s.found = true
			s.buf = nil
			return true
		}
	}
	if len(s.buf) > maxPending {
		// keep enough tail for a marker straddling the cut
		keep := len(s.marker)
		if keep > len(s.buf) {
			keep = len(s.buf)
		}
		s.buf = append(s.buf[:0], s.buf[len(s.buf)-keep:]...)
	}
	return false
}

// tailBuffer keeps the last max bytes written to it, for error diagnostics.
// Writes come from the process's stderr copier goroutine, so it locks.
type tailBuffer struct {
	mu       sync.Mutex
	max      int
	buf      []byte
	disabled bool
}

func newTailBuffer(max int) *tailBuffer { return &tailBuffer{max: max} }

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disabled {
		return len(p), nil
	}
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = append(t.buf[:0], t.buf[len(t.buf)-t.max:]...)
	}
	return len(p), nil
}

// Disable drops the captured tail and ignores future writes. Called once
// the process is ready, when diagnostics are no longer needed.
func (t *tailBuffer) Disable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disabled = true
	t.buf = nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
