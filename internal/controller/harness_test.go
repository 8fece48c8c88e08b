package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"vramd/internal/config"
	"vramd/internal/supervisor"
	"vramd/internal/vram"
)

const gb = uint64(1_000_000_000)

// fakeWorld stands in for both the supervisor and the estimator, coupled
// around one shared pool of device memory: starting a backend consumes
// its estimate, stopping one returns it.
type fakeWorld struct {
	mu         sync.Mutex
	total      uint64
	free       uint64
	required   map[string]uint64
	handles    map[supervisor.Handle]string
	exits      map[supervisor.Handle]chan struct{}
	seq        int
	started    []string
	stopped    []string
	failing    map[string]bool
	startHold  chan struct{}
	startCalls int
}

func newFakeWorld(total, free uint64, required map[string]uint64) *fakeWorld {
	return &fakeWorld{
		total:    total,
		free:     free,
		required: required,
		handles:  make(map[supervisor.Handle]string),
		exits:    make(map[supervisor.Handle]chan struct{}),
		failing:  make(map[string]bool),
	}
}

func modelFromArgs(args []string) string {
	for i, a := range args {
		if a == "-m" && i+1 < len(args) {
			return strings.TrimSuffix(filepath.Base(args[i+1]), ".gguf")
		}
	}
	return ""
}

func (w *fakeWorld) Start(spec supervisor.LaunchSpec) (supervisor.Handle, error) {
	w.mu.Lock()
	hold := w.startHold
	w.startCalls++
	w.mu.Unlock()
	if hold != nil {
		<-hold
	}
	id := modelFromArgs(spec.Args)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failing[id] {
		return "", &supervisor.StartFailedError{Command: spec.Bin, Err: errors.New("refused to start")}
	}
	w.seq++
	h := supervisor.Handle(fmt.Sprintf("h-%d", w.seq))
	w.handles[h] = id
	w.exits[h] = make(chan struct{})
	w.free -= w.required[id]
	w.started = append(w.started, id)
	return h, nil
}

func (w *fakeWorld) Stop(h supervisor.Handle) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	id, ok := w.handles[h]
	if !ok {
		return &supervisor.UnknownProcessError{Handle: h}
	}
	delete(w.handles, h)
	close(w.exits[h])
	delete(w.exits, h)
	w.free += w.required[id]
	w.stopped = append(w.stopped, id)
	return nil
}

func (w *fakeWorld) Exited(h supervisor.Handle) <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ch, ok := w.exits[h]; ok {
		return ch
	}
	ch := make(chan struct{})
	close(ch)
	return ch
}

// killBackend simulates the model's process dying on its own: device
// memory comes back and the handle reads as exited, but nothing lands
// in stopped.
func (w *fakeWorld) killBackend(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for h, hid := range w.handles {
		if hid != id {
			continue
		}
		delete(w.handles, h)
		close(w.exits[h])
		delete(w.exits, h)
		w.free += w.required[id]
	}
}

// holdStarts makes every subsequent Start block until the returned
// channel is closed.
func (w *fakeWorld) holdStarts() chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.startHold = make(chan struct{})
	return w.startHold
}

func (w *fakeWorld) startCallCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.startCalls
}

func (w *fakeWorld) PID(h supervisor.Handle) (int, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.handles[h]
	return 4242, ok
}

func (w *fakeWorld) RequiredBytes(_ context.Context, spec vram.ModelSpec) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.required[spec.ID], nil
}

func (w *fakeWorld) WillFit(_ context.Context, spec vram.ModelSpec) (vram.Fit, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	req := w.required[spec.ID]
	return vram.Fit{Fits: req <= w.free, RequiredBytes: req, FreeBytes: w.free}, nil
}

func (w *fakeWorld) TotalBytes(context.Context) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.total, nil
}

func (w *fakeWorld) setFailing(id string, v bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failing[id] = v
}

func (w *fakeWorld) startedIDs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.started...)
}

func (w *fakeWorld) stoppedIDs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.stopped...)
}

// newBackend starts one HTTP server that plays every backend: model
// descriptors in tests pin their port to it.
func newBackend(t *testing.T) int {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"path":%q}`, r.URL.Path)
	}))
	t.Cleanup(ts.Close)
	return ts.Listener.Addr().(*net.TCPAddr).Port
}

func testController(t *testing.T, w *fakeWorld, port int, idle time.Duration, models map[string]config.ModelConfig) *Controller {
	t.Helper()
	for id, mc := range models {
		if mc.File == "" {
			mc.File = id + ".gguf"
		}
		if mc.Port == 0 {
			mc.Port = port
		}
		models[id] = mc
	}
	cfg := &config.Config{
		ModelsDir:   "/models",
		IdleTimeout: config.Duration(idle),
		Models:      models,
	}
	if err := cfg.Normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	c := New(cfg, w, w, zerolog.Nop())
	t.Cleanup(c.Close)
	return c
}

func mustForward(t *testing.T, c *Controller, model string) {
	t.Helper()
	resp, err := c.Forward(context.Background(), model, CapabilityCompletion, "/completion", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("forward %s: %v", model, err)
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("forward %s: status %d", model, resp.StatusCode)
	}
}

func waitFor(t *testing.T, d time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("%s: not observed within %s", what, d)
}

func residentModels(c *Controller) []string {
	st := c.Status()
	ids := make([]string, 0, len(st.Residents))
	for _, r := range st.Residents {
		ids = append(ids, r.Model)
	}
	return ids
}

func boolPtr(v bool) *bool { return &v }
