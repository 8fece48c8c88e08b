package controller

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"
)

// Capability names what a request asks of a model.
type Capability string

const (
	CapabilityCompletion Capability = "completion"
	CapabilityEmbeddings Capability = "embeddings"
)

// BackendResponse is a proxied backend reply. Closing Body releases the
// model's in-flight mark; callers must always close it, even on error
// paths and aborted streams.
type BackendResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

func (c *Controller) markInflight(id string) {
	c.mu.Lock()
	c.inflight[id]++
	c.mu.Unlock()
}

func (c *Controller) releaseInflight(id string) {
	c.mu.Lock()
	if n := c.inflight[id]; n > 1 {
		c.inflight[id] = n - 1
	} else {
		delete(c.inflight, id)
		// A finished request counts as a use. Restarting the idle clock
		// here covers requests that outlived their own timer expiry.
		if r := c.resident[id]; r != nil {
			r.lastUsed = time.Now()
			c.armIdleLocked(id, r)
		}
	}
	c.mu.Unlock()
}

// Forward routes a request body to the model's backend, loading the
// model first if needed. The model counts as in-flight from before the
// admission decision until the response body is closed, so a concurrent
// eviction can never select it.
func (c *Controller) Forward(ctx context.Context, modelID string, capability Capability, path string, body io.Reader) (*BackendResponse, error) {
	mc, ok := c.cfg.Models[modelID]
	if !ok {
		return nil, &ModelNotFoundError{Model: modelID}
	}
	if capability == CapabilityEmbeddings && !mc.Embeddings {
		return nil, &NotSupportedError{Model: modelID, Capability: capability}
	}

	c.markInflight(modelID)
	handedOff := false
	defer func() {
		if !handedOff {
			c.releaseInflight(modelID)
		}
	}()

	baseURL, err := c.ensureResident(ctx, modelID, mc)
	if err != nil {
		return nil, err
	}
	c.touch(modelID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+path, body)
	if err != nil {
		return nil, &UpstreamError{Model: modelID, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &UpstreamError{Model: modelID, Err: err}
	}

	handedOff = true
	return &BackendResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body: &releaseOnClose{
			rc:      resp.Body,
			release: func() { c.releaseInflight(modelID) },
		},
	}, nil
}

// releaseOnClose runs release exactly once when the body is closed.
type releaseOnClose struct {
	rc      io.ReadCloser
	once    sync.Once
	release func()
}

func (r *releaseOnClose) Read(p []byte) (int, error) { return r.rc.Read(p) }

func (r *releaseOnClose) Close() error {
	err := r.rc.Close()
	r.once.Do(r.release)
	return err
}
