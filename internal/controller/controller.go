// Package controller enforces the residency policy: which models occupy
// device memory, when the least-recently-used ones are evicted to make
// room, and how requests reach the resident backends. It is the only
// caller of the supervisor and the estimator.
package controller

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"vramd/internal/config"
	"vramd/internal/supervisor"
	"vramd/internal/vram"
)

// ErrClosed is returned for requests arriving after Close.
var ErrClosed = errors.New("controller is closed")

// ProcessSupervisor is the slice of the supervisor the controller needs.
type ProcessSupervisor interface {
	Start(spec supervisor.LaunchSpec) (supervisor.Handle, error)
	Stop(h supervisor.Handle) error
	Exited(h supervisor.Handle) <-chan struct{}
	PID(h supervisor.Handle) (int, bool)
}

// CapacityEstimator answers memory questions for admission decisions.
type CapacityEstimator interface {
	RequiredBytes(ctx context.Context, spec vram.ModelSpec) (uint64, error)
	WillFit(ctx context.Context, spec vram.ModelSpec) (vram.Fit, error)
	TotalBytes(ctx context.Context) (uint64, error)
}

// resident is one loaded model: a ready backend process plus the
// bookkeeping the eviction policy needs.
type resident struct {
	handle   supervisor.Handle
	baseURL  string
	port     int
	required uint64
	lastUsed time.Time
	idle     *time.Timer
}

// Controller owns the residency table. One mutex guards the table,
// in-flight counts and counters; a per-model gate mutex serializes
// start/stop transitions for each model id, so slow process work never
// blocks the table.
type Controller struct {
	cfg     *config.Config
	sup     ProcessSupervisor
	est     CapacityEstimator
	client  *http.Client
	log     zerolog.Logger
	started time.Time

	mu        sync.Mutex
	resident  map[string]*resident
	inflight  map[string]int
	gates     map[string]*sync.Mutex
	loads     uint64
	evictions uint64
	closed    bool
}

// New constructs a Controller over a normalized config.
func New(cfg *config.Config, sup ProcessSupervisor, est CapacityEstimator, log zerolog.Logger) *Controller {
	return &Controller{
		cfg: cfg,
		sup: sup,
		est: est,
		// No client timeout: generation can stream for minutes. Callers
		// bound individual requests through their context.
		client:   &http.Client{},
		log:      log.With().Str("component", "controller").Logger(),
		started:  time.Now(),
		resident: make(map[string]*resident),
		inflight: make(map[string]int),
		gates:    make(map[string]*sync.Mutex),
	}
}

// gate returns the per-model transition mutex, creating it on first use.
// The map only ever holds configured model ids, so it stays bounded.
func (c *Controller) gate(id string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	g := c.gates[id]
	if g == nil {
		g = &sync.Mutex{}
		c.gates[id] = g
	}
	return g
}

func (c *Controller) modelSpec(id string, mc config.ModelConfig) vram.ModelSpec {
	spec := vram.ModelSpec{
		ID:             id,
		Path:           c.cfg.ModelPath(mc.File),
		ContextTokens:  mc.Params.Context.Tokens(),
		FlashAttention: mc.Params.FlashAttention,
	}
	if mc.Draft != nil {
		spec.DraftPath = c.cfg.ModelPath(mc.Draft.File)
	}
	return spec
}

// WarnOversized logs a warning for every configured model whose memory
// estimate exceeds total device memory: such a model can never be served.
// Best effort at startup; failures are logged, never fatal.
func (c *Controller) WarnOversized(ctx context.Context) {
	total, err := c.est.TotalBytes(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("skipping oversized-model check")
		return
	}
	for _, id := range c.cfg.ModelNames() {
		required, err := c.est.RequiredBytes(ctx, c.modelSpec(id, c.cfg.Models[id]))
		if err != nil {
			c.log.Warn().Err(err).Str("model", id).Msg("preflight estimate failed")
			continue
		}
		if required > total {
			c.log.Warn().Str("model", id).
				Uint64("required_bytes", required).
				Uint64("total_bytes", total).
				Msg("model exceeds total device memory and can never be loaded")
		}
	}
}

// Close stops every resident backend, pinned and in-flight included, and
// fails later admissions with ErrClosed. Safe to call more than once.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	entries := c.resident
	c.resident = make(map[string]*resident)
	for _, r := range entries {
		if r.idle != nil {
			r.idle.Stop()
		}
	}
	c.mu.Unlock()

	for id, r := range entries {
		if err := c.sup.Stop(r.handle); err != nil {
			c.log.Warn().Err(err).Str("model", id).Msg("stop during shutdown")
		}
	}
}
