package controller

import (
	"context"
	"fmt"
	"sort"
	"time"

	"vramd/internal/config"
	"vramd/internal/supervisor"
	"vramd/internal/vram"
)

// ensureResident returns the base URL of a ready backend for the model,
// starting it (and evicting others) as needed. The caller must already
// hold an in-flight mark for the model. A cancelled request must never
// abandon a half-done eviction or start, so everything past the fast
// path runs on a context detached from the caller's.
func (c *Controller) ensureResident(ctx context.Context, id string, mc config.ModelConfig) (string, error) {
	g := c.gate(id)
	g.Lock()
	defer g.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	if r := c.resident[id]; r != nil {
		url := r.baseURL
		c.mu.Unlock()
		return url, nil
	}
	c.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	spec := c.modelSpec(id, mc)
	fit, err := c.est.WillFit(ctx, spec)
	if err != nil {
		return "", err
	}
	if !fit.Fits {
		fit, err = c.makeRoom(ctx, id, spec, fit)
		if err != nil {
			return "", err
		}
	}

	port, err := c.pickPort(mc)
	if err != nil {
		return "", &supervisor.StartFailedError{Command: c.cfg.Llama.Bin, Err: err}
	}
	h, err := c.sup.Start(supervisor.LaunchSpec{
		Bin:          c.cfg.Llama.Bin,
		Args:         c.launchArgs(mc, port),
		ReadyMarker:  c.cfg.Llama.ReadyMarker,
		StartTimeout: c.cfg.Llama.StartTimeout.Std(),
	})
	if err != nil {
		startFailuresTotal.Inc()
		return "", err
	}

	r := &resident{
		handle:   h,
		baseURL:  fmt.Sprintf("http://%s:%d", c.cfg.Llama.Host, port),
		port:     port,
		required: fit.RequiredBytes,
		lastUsed: time.Now(),
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		// Close ran while this backend was starting and its sweep could
		// not see the process yet, so it is stopped here.
		if err := c.sup.Stop(h); err != nil {
			c.log.Warn().Err(err).Str("model", id).Msg("stop after close")
		}
		return "", ErrClosed
	}
	c.resident[id] = r
	c.loads++
	c.armIdleLocked(id, r)
	c.mu.Unlock()
	go c.reapOnExit(id, h)
	loadsTotal.Inc()
	c.log.Info().Str("model", id).Int("port", port).
		Uint64("required_bytes", fit.RequiredBytes).Msg("model resident")
	return r.baseURL, nil
}

// makeRoom evicts least-recently-used models until the requested one
// fits. Models serving requests and models marked unloadable=false are
// never candidates. The candidate list is fixed up front, oldest first
// with the id as tie-break; free memory is re-queried after each
// eviction. If the list runs out before the model fits, admission fails
// with the last observed figures.
func (c *Controller) makeRoom(ctx context.Context, id string, spec vram.ModelSpec, fit vram.Fit) (vram.Fit, error) {
	type candidate struct {
		id   string
		used time.Time
	}
	c.mu.Lock()
	cands := make([]candidate, 0, len(c.resident))
	for rid, r := range c.resident {
		if c.inflight[rid] > 0 {
			continue
		}
		if !c.cfg.Models[rid].IsUnloadable() {
			continue
		}
		cands = append(cands, candidate{id: rid, used: r.lastUsed})
	}
	c.mu.Unlock()
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].used.Equal(cands[j].used) {
			return cands[i].id < cands[j].id
		}
		return cands[i].used.Before(cands[j].used)
	})

	for _, v := range cands {
		c.evict(v.id, "lru")
		var err error
		fit, err = c.est.WillFit(ctx, spec)
		if err != nil {
			return fit, err
		}
		if fit.Fits {
			return fit, nil
		}
	}
	memoryRejectionsTotal.Inc()
	return fit, &InsufficientMemoryError{
		Model:          id,
		RequiredBytes:  fit.RequiredBytes,
		AvailableBytes: fit.FreeBytes,
	}
}

// evict removes one model from the table and stops its backend. It
// re-checks eligibility under the model's gate, so it degrades to a
// no-op if the model is already gone or picked up a request since the
// caller decided to evict it.
func (c *Controller) evict(id, reason string) {
	g := c.gate(id)
	g.Lock()
	defer g.Unlock()

	c.mu.Lock()
	r := c.resident[id]
	if r == nil || c.inflight[id] > 0 {
		c.mu.Unlock()
		return
	}
	if r.idle != nil {
		r.idle.Stop()
	}
	delete(c.resident, id)
	c.evictions++
	c.mu.Unlock()

	// Table removal precedes the stop so no request routes to a dying
	// backend. The gate stays held across the stop, so the model cannot
	// restart while the old process still occupies device memory.
	if err := c.sup.Stop(r.handle); err != nil {
		c.log.Warn().Err(err).Str("model", id).Msg("stop failed during eviction")
	}
	evictionsTotal.WithLabelValues(reason).Inc()
	c.log.Info().Str("model", id).Str("reason", reason).Msg("model evicted")
}

// reapOnExit removes the model's table entry once its backend process
// dies. Without it a backend crashing after readiness would stay listed
// as resident, and steady client retries would keep re-arming the idle
// timer so the dead entry never expired. In-flight requests do not block
// the removal: a dead process cannot serve them anyway, and the next
// request respawns the backend.
func (c *Controller) reapOnExit(id string, h supervisor.Handle) {
	<-c.sup.Exited(h)
	c.mu.Lock()
	r := c.resident[id]
	if r == nil || r.handle != h {
		// Evicted or replaced through the normal path; nothing to reap.
		c.mu.Unlock()
		return
	}
	if r.idle != nil {
		r.idle.Stop()
	}
	delete(c.resident, id)
	c.evictions++
	c.mu.Unlock()
	if err := c.sup.Stop(h); err != nil && !supervisor.IsUnknownProcess(err) {
		c.log.Warn().Err(err).Str("model", id).Msg("cleanup of dead backend")
	}
	evictionsTotal.WithLabelValues("died").Inc()
	c.log.Warn().Str("model", id).Msg("backend exited unexpectedly, removed from residency")
}

// armIdleLocked (re)arms the model's idle timer. Caller holds c.mu.
func (c *Controller) armIdleLocked(id string, r *resident) {
	if r.idle != nil {
		r.idle.Stop()
	}
	armed := r.lastUsed
	r.idle = time.AfterFunc(c.cfg.IdleTimeout.Std(), func() {
		c.idleExpired(id, armed)
	})
}

// idleExpired fires when a model has gone unused for the idle timeout.
// Any use after arming, or an in-flight request, makes the expiry stale.
func (c *Controller) idleExpired(id string, armed time.Time) {
	c.mu.Lock()
	r := c.resident[id]
	stale := r == nil || !r.lastUsed.Equal(armed) || c.inflight[id] > 0
	c.mu.Unlock()
	if stale {
		return
	}
	c.evict(id, "idle")
}

// touch records a use: last-used moves forward and the idle timer
// restarts from now.
func (c *Controller) touch(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r := c.resident[id]; r != nil {
		r.lastUsed = time.Now()
		c.armIdleLocked(id, r)
	}
}
