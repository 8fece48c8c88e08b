// Package vram answers two questions for the controller: how much GPU
// memory a model needs (via an external estimation tool) and how much is
// currently free (via an external monitoring tool). Both tools speak JSON
// on stdout; this package only consumes their numeric results.
package vram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
)

// ModelSpec carries the launch parameters that determine a model's memory
// footprint.
type ModelSpec struct {
	ID             string
	Path           string
	ContextTokens  int
	FlashAttention bool
	// Optional speculative-decoding draft model, estimated separately and
	// added to the total.
	DraftPath string
}

// Fit is the result of a fit check.
type Fit struct {
	Fits          bool
	RequiredBytes uint64
	FreeBytes     uint64
}

// Estimator computes required and free device memory figures. Required
// bytes are cached per model id for the life of the process: launch
// parameters are immutable at runtime, so the estimate cannot change. A
// configuration reload builds a fresh Estimator, which empties the cache.
type Estimator struct {
	estimatorBin string
	monitorBin   string
	device       int
	runner       CommandRunner
	log          zerolog.Logger

	mu    sync.Mutex
	cache map[string]uint64
}

// NewEstimator constructs an Estimator for one device index.
func NewEstimator(estimatorBin, monitorBin string, device int, runner CommandRunner, log zerolog.Logger) *Estimator {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Estimator{
		estimatorBin: estimatorBin,
		monitorBin:   monitorBin,
		device:       device,
		runner:       runner,
		log:          log.With().Str("component", "vram").Logger(),
		cache:        make(map[string]uint64),
	}
}

// estimateResult mirrors the estimation tool's JSON output: a list of
// estimate items, each with per-device VRAM figures.
type estimateResult struct {
	Estimate struct {
		Items []struct {
			VRAMs []struct {
				NonUMA uint64 `json:"nonuma"`
			} `json:"vrams"`
		} `json:"items"`
	} `json:"estimate"`
}

// RequiredBytes returns the device memory the model needs to run,
// consulting the cache first. The figure is the first estimate item's
// first device entry, plus the draft model's estimate when one is
// configured.
func (e *Estimator) RequiredBytes(ctx context.Context, spec ModelSpec) (uint64, error) {
	e.mu.Lock()
	if v, ok := e.cache[spec.ID]; ok {
		e.mu.Unlock()
		return v, nil
	}
	e.mu.Unlock()

	total, err := e.estimateFile(ctx, spec, spec.Path)
	if err != nil {
		return 0, &EstimationFailedError{Model: spec.ID, Err: err}
	}
	if spec.DraftPath != "" {
		draft, err := e.estimateFile(ctx, spec, spec.DraftPath)
		if err != nil {
			return 0, &EstimationFailedError{Model: spec.ID, Err: err}
		}
		total += draft
	}

	e.mu.Lock()
	e.cache[spec.ID] = total
	e.mu.Unlock()
	e.log.Debug().Str("model", spec.ID).Uint64("required_bytes", total).Msg("memory estimate cached")
	return total, nil
}

func (e *Estimator) estimateFile(ctx context.Context, spec ModelSpec, path string) (uint64, error) {
	args := []string{"--path", path, "--json"}
	if spec.ContextTokens > 0 {
		args = append(args, "--ctx-size", strconv.Itoa(spec.ContextTokens))
	}
	if spec.FlashAttention {
		args = append(args, "--flash-attention")
	}
	out, err := e.runner.Run(ctx, e.estimatorBin, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", e.estimatorBin, err)
	}
	var res estimateResult
	if err := json.Unmarshal(out, &res); err != nil {
		return 0, fmt.Errorf("parse %s output: %w", e.estimatorBin, err)
	}
	items := res.Estimate.Items
	if len(items) == 0 {
		return 0, errors.New("estimate contains no items")
	}
	if len(items[0].VRAMs) == 0 {
		return 0, errors.New("estimate item contains no device figures")
	}
	return items[0].VRAMs[0].NonUMA, nil
}

// deviceMemory is one device entry from the monitor tool. The tool
// reports byte counts as JSON strings.
type deviceMemory struct {
	Total string `json:"VRAM Total Memory (B)"`
	Used  string `json:"VRAM Total Used Memory (B)"`
}

func (e *Estimator) queryDevice(ctx context.Context) (total, used uint64, err error) {
	out, err := e.runner.Run(ctx, e.monitorBin,
		"--showmeminfo", "vram", "--json", "-d", strconv.Itoa(e.device))
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w", e.monitorBin, err)
	}
	var devices map[string]deviceMemory
	if err := json.Unmarshal(out, &devices); err != nil {
		return 0, 0, fmt.Errorf("parse %s output: %w", e.monitorBin, err)
	}
	if len(devices) == 0 {
		return 0, 0, errors.New("no device info returned")
	}
	// Read the first reported device; sort keys so the choice is stable.
	keys := make([]string, 0, len(devices))
	for k := range devices {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	dev := devices[keys[0]]
	total, err = strconv.ParseUint(dev.Total, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse total %q: %w", dev.Total, err)
	}
	used, err = strconv.ParseUint(dev.Used, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse used %q: %w", dev.Used, err)
	}
	return total, used, nil
}

// FreeBytes returns total minus used memory for the configured device.
func (e *Estimator) FreeBytes(ctx context.Context) (uint64, error) {
	total, used, err := e.queryDevice(ctx)
	if err != nil {
		return 0, &QueryFailedError{Device: e.device, Err: err}
	}
	if used > total {
		return 0, nil
	}
	return total - used, nil
}

// TotalBytes returns the device's total memory, used by the startup
// preflight warning for oversized models.
func (e *Estimator) TotalBytes(ctx context.Context) (uint64, error) {
	total, _, err := e.queryDevice(ctx)
	if err != nil {
		return 0, &QueryFailedError{Device: e.device, Err: err}
	}
	return total, nil
}

// WillFit reports whether the model's required bytes fit in currently
// free device memory. No side effects beyond cache population.
func (e *Estimator) WillFit(ctx context.Context, spec ModelSpec) (Fit, error) {
	required, err := e.RequiredBytes(ctx, spec)
	if err != nil {
		return Fit{}, err
	}
	free, err := e.FreeBytes(ctx)
	if err != nil {
		return Fit{}, err
	}
	return Fit{Fits: required <= free, RequiredBytes: required, FreeBytes: free}, nil
}
