package supervisor

import (
	"strings"
	"testing"
)

func TestReadyScannerWholeLine(t *testing.T) {
	s := newReadyScanner("server is listening on")
	if s.Feed([]byte("loading model weights\n")) {
		t.Fatalf("unexpected match")
	}
	if !s.Feed([]byte("main: server is listening on http://127.0.0.1:30001\n")) {
		t.Fatalf("expected match")
	}
}

func TestReadyScannerMarkerSplitAcrossChunks(t *testing.T) {
	s := newReadyScanner("server is listening on")
	if s.Feed([]byte("main: server is lis")) {
		t.Fatalf("match before line complete")
	}
	if !s.Feed([]byte("tening on http://127.0.0.1:30001\n")) {
		t.Fatalf("expected match after second chunk")
	}
}

func TestReadyScannerStopsAfterMatch(t *testing.T) {
	s := newReadyScanner("ready")
	if !s.Feed([]byte("ready\n")) {
		t.Fatalf("expected match")
	}
	if s.buf != nil {
		t.Fatalf("buffer retained after match")
	}
	if !s.Feed([]byte("more output\n")) {
		t.Fatalf("Feed must keep reporting true after match")
	}
}

func TestReadyScannerIgnoresMarkerlessLines(t *testing.T) {
	s := newReadyScanner("listening")
	for i := 0; i < 100; i++ {
		if s.Feed([]byte("noise line without the word\n")) {
			t.Fatalf("unexpected match at line %d", i)
		}
	}
}

func TestReadyScannerBoundsUnterminatedLine(t *testing.T) {
	s := newReadyScanner("listening")
	chunk := []byte(strings.Repeat("x", 16*1024))
	for i := 0; i < 16; i++ {
		s.Feed(chunk)
	}
	if len(s.buf) > maxPending {
		t.Fatalf("pending buffer grew to %d", len(s.buf))
	}
}

func TestTailBufferKeepsTail(t *testing.T) {
	tb := newTailBuffer(8)
	if _, err := tb.Write([]byte("0123456789abcdef")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := tb.String(); got != "89abcdef" {
		t.Fatalf("tail = %q", got)
	}
	tb.Disable()
	if _, err := tb.Write([]byte("zzz")); err != nil {
		t.Fatalf("write after disable: %v", err)
	}
	if got := tb.String(); got != "" {
		t.Fatalf("expected empty tail after disable, got %q", got)
	}
}
