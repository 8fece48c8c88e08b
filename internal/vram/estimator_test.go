package vram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

// fakeRunner maps the target binary name to canned stdout or an error,
// and counts invocations per binary.
type fakeRunner struct {
	out   map[string][]byte
	errs  map[string]error
	calls map[string]int
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		out:   make(map[string][]byte),
		errs:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (f *fakeRunner) Run(_ context.Context, bin string, _ ...string) ([]byte, error) {
	f.calls[bin]++
	if err := f.errs[bin]; err != nil {
		return nil, err
	}
	return f.out[bin], nil
}

func estimateJSON(bytes ...uint64) []byte {
	var vrams []string
	for _, b := range bytes {
		vrams = append(vrams, fmt.Sprintf(`{"nonuma":%d}`, b))
	}
	return []byte(`{"estimate":{"items":[{"vrams":[` + strings.Join(vrams, ",") + `]}]}}`)
}

func monitorJSON(total, used uint64) []byte {
	return []byte(fmt.Sprintf(
		`{"card0":{"VRAM Total Memory (B)":"%d","VRAM Total Used Memory (B)":"%d"}}`, total, used))
}

func newTestEstimator(r CommandRunner) *Estimator {
	return NewEstimator("gguf-parser", "rocm-smi", 0, r, zerolog.Nop())
}

func TestRequiredBytesReadsFirstItemFirstDevice(t *testing.T) {
	r := newFakeRunner()
	r.out["gguf-parser"] = estimateJSON(8_000_000_000, 123)
	e := newTestEstimator(r)
	got, err := e.RequiredBytes(context.Background(), ModelSpec{ID: "a", Path: "a.gguf"})
	if err != nil {
		t.Fatalf("required: %v", err)
	}
	if got != 8_000_000_000 {
		t.Fatalf("got %d", got)
	}
}

func TestRequiredBytesCachesPerModel(t *testing.T) {
	r := newFakeRunner()
	r.out["gguf-parser"] = estimateJSON(42)
	e := newTestEstimator(r)
	spec := ModelSpec{ID: "a", Path: "a.gguf"}
	for i := 0; i < 3; i++ {
		if _, err := e.RequiredBytes(context.Background(), spec); err != nil {
			t.Fatalf("required: %v", err)
		}
	}
	if r.calls["gguf-parser"] != 1 {
		t.Fatalf("estimator invoked %d times, want 1", r.calls["gguf-parser"])
	}
}

func TestRequiredBytesAddsDraftEstimate(t *testing.T) {
	r := newFakeRunner()
	r.out["gguf-parser"] = estimateJSON(1000)
	e := newTestEstimator(r)
	got, err := e.RequiredBytes(context.Background(),
		ModelSpec{ID: "a", Path: "a.gguf", DraftPath: "a-draft.gguf"})
	if err != nil {
		t.Fatalf("required: %v", err)
	}
	if got != 2000 {
		t.Fatalf("got %d, want main+draft=2000", got)
	}
	if r.calls["gguf-parser"] != 2 {
		t.Fatalf("estimator invoked %d times, want 2", r.calls["gguf-parser"])
	}
}

func TestRequiredBytesFailsOnToolError(t *testing.T) {
	r := newFakeRunner()
	r.errs["gguf-parser"] = errors.New("exit status 1")
	e := newTestEstimator(r)
	_, err := e.RequiredBytes(context.Background(), ModelSpec{ID: "a", Path: "a.gguf"})
	if err == nil || !IsEstimationFailed(err) {
		t.Fatalf("expected EstimationFailedError, got %v", err)
	}
}

func TestRequiredBytesFailsOnEmptyItems(t *testing.T) {
	r := newFakeRunner()
	r.out["gguf-parser"] = []byte(`{"estimate":{"items":[]}}`)
	e := newTestEstimator(r)
	_, err := e.RequiredBytes(context.Background(), ModelSpec{ID: "a", Path: "a.gguf"})
	if err == nil || !IsEstimationFailed(err) {
		t.Fatalf("expected EstimationFailedError, got %v", err)
	}
}

func TestRequiredBytesFailsOnEmptyDeviceFigures(t *testing.T) {
	r := newFakeRunner()
	r.out["gguf-parser"] = []byte(`{"estimate":{"items":[{"vrams":[]}]}}`)
	e := newTestEstimator(r)
	_, err := e.RequiredBytes(context.Background(), ModelSpec{ID: "a", Path: "a.gguf"})
	if err == nil || !IsEstimationFailed(err) {
		t.Fatalf("expected EstimationFailedError, got %v", err)
	}
}

func TestRequiredBytesFailsOnMalformedJSON(t *testing.T) {
	r := newFakeRunner()
	r.out["gguf-parser"] = []byte(`not json`)
	e := newTestEstimator(r)
	_, err := e.RequiredBytes(context.Background(), ModelSpec{ID: "a", Path: "a.gguf"})
	if err == nil || !IsEstimationFailed(err) {
		t.Fatalf("expected EstimationFailedError, got %v", err)
	}
}

func TestFreeBytesComputesTotalMinusUsed(t *testing.T) {
	r := newFakeRunner()
	r.out["rocm-smi"] = monitorJSON(17_000_000_000, 5_000_000_000)
	e := newTestEstimator(r)
	free, err := e.FreeBytes(context.Background())
	if err != nil {
		t.Fatalf("free: %v", err)
	}
	if free != 12_000_000_000 {
		t.Fatalf("free = %d", free)
	}
}

func TestFreeBytesFailsOnNoDevices(t *testing.T) {
	r := newFakeRunner()
	r.out["rocm-smi"] = []byte(`{}`)
	e := newTestEstimator(r)
	_, err := e.FreeBytes(context.Background())
	if err == nil || !IsQueryFailed(err) {
		t.Fatalf("expected QueryFailedError, got %v", err)
	}
}

func TestFreeBytesFailsOnToolError(t *testing.T) {
	r := newFakeRunner()
	r.errs["rocm-smi"] = errors.New("exit status 2")
	e := newTestEstimator(r)
	_, err := e.FreeBytes(context.Background())
	if err == nil || !IsQueryFailed(err) {
		t.Fatalf("expected QueryFailedError, got %v", err)
	}
}

func TestFreeBytesFailsOnUnparsableFigures(t *testing.T) {
	r := newFakeRunner()
	r.out["rocm-smi"] = []byte(`{"card0":{"VRAM Total Memory (B)":"lots","VRAM Total Used Memory (B)":"0"}}`)
	e := newTestEstimator(r)
	_, err := e.FreeBytes(context.Background())
	if err == nil || !IsQueryFailed(err) {
		t.Fatalf("expected QueryFailedError, got %v", err)
	}
}

func TestWillFit(t *testing.T) {
	r := newFakeRunner()
	r.out["gguf-parser"] = estimateJSON(8_000_000_000)
	r.out["rocm-smi"] = monitorJSON(16_000_000_000, 11_000_000_000)
	e := newTestEstimator(r)
	fit, err := e.WillFit(context.Background(), ModelSpec{ID: "a", Path: "a.gguf"})
	if err != nil {
		t.Fatalf("willfit: %v", err)
	}
	if fit.Fits {
		t.Fatalf("expected not to fit: %+v", fit)
	}
	if fit.RequiredBytes != 8_000_000_000 || fit.FreeBytes != 5_000_000_000 {
		t.Fatalf("figures wrong: %+v", fit)
	}

	// Free memory grows; the same model now fits.
	r.out["rocm-smi"] = monitorJSON(16_000_000_000, 5_000_000_000)
	fit, err = e.WillFit(context.Background(), ModelSpec{ID: "a", Path: "a.gguf"})
	if err != nil {
		t.Fatalf("willfit: %v", err)
	}
	if !fit.Fits || fit.FreeBytes != 11_000_000_000 {
		t.Fatalf("figures wrong: %+v", fit)
	}
}
