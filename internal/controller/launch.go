package controller

import (
	"fmt"
	"net"
	"strconv"

	"vramd/internal/config"
)

// launchArgs builds the llama-server command line for one model.
func (c *Controller) launchArgs(mc config.ModelConfig, port int) []string {
	l := c.cfg.Llama
	p := mc.Params
	args := []string{
		"-m", c.cfg.ModelPath(mc.File),
		"--host", l.Host,
		"--port", strconv.Itoa(port),
		"--no-mmap",
	}
	if l.Threads > 0 {
		args = append(args, "--threads", strconv.Itoa(l.Threads))
	}
	if l.NGL > 0 {
		args = append(args, "-ngl", strconv.Itoa(l.NGL))
	}
	if p.Context > 0 {
		args = append(args, "--ctx-size", strconv.Itoa(p.Context.Tokens()))
	}
	if p.Temperature > 0 {
		args = append(args, "--temp", formatFloat(p.Temperature))
	}
	if p.TopK > 0 {
		args = append(args, "--top-k", strconv.Itoa(p.TopK))
	}
	if p.TopP > 0 {
		args = append(args, "--top-p", formatFloat(p.TopP))
	}
	if p.MinP > 0 {
		args = append(args, "--min-p", formatFloat(p.MinP))
	}
	if p.RepeatPenalty > 0 {
		args = append(args, "--repeat-penalty", formatFloat(p.RepeatPenalty))
	}
	if p.CacheTypeK != "" {
		args = append(args, "--cache-type-k", p.CacheTypeK)
	}
	if p.CacheTypeV != "" {
		args = append(args, "--cache-type-v", p.CacheTypeV)
	}
	if p.FlashAttention {
		args = append(args, "--flash-attn", "on")
	}
	if p.Jinja {
		args = append(args, "--jinja")
	}
	if mc.Embeddings {
		args = append(args, "--embeddings")
	}
	if d := mc.Draft; d != nil {
		args = append(args, "--model-draft", c.cfg.ModelPath(d.File))
		if p.Context > 0 {
			args = append(args, "--ctx-size-draft", strconv.Itoa(p.Context.Tokens()))
		}
		if l.NGL > 0 {
			args = append(args, "-ngl-draft", strconv.Itoa(l.NGL))
		}
		if d.CacheTypeK != "" {
			args = append(args, "--cache-type-k-draft", d.CacheTypeK)
		}
		if d.CacheTypeV != "" {
			args = append(args, "--cache-type-v-draft", d.CacheTypeV)
		}
	}
	return args
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// pickPort returns the model's fixed port, or probes the configured range
// for a free one. The probe listener is closed before the backend binds,
// so a clash is possible but rare; it surfaces as a normal start failure.
func (c *Controller) pickPort(mc config.ModelConfig) (int, error) {
	if mc.Port > 0 {
		return mc.Port, nil
	}
	l := c.cfg.Llama
	c.mu.Lock()
	inUse := make(map[int]bool, len(c.resident))
	for _, r := range c.resident {
		inUse[r.port] = true
	}
	c.mu.Unlock()
	for port := l.PortStart; port <= l.PortEnd; port++ {
		if inUse[port] {
			continue
		}
		ln, err := net.Listen("tcp", net.JoinHostPort(l.Host, strconv.Itoa(port)))
		if err != nil {
			continue
		}
		_ = ln.Close()
		return port, nil
	}
	return 0, fmt.Errorf("no free port in range %d-%d", l.PortStart, l.PortEnd)
}
