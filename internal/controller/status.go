package controller

import (
	"context"
	"sort"
	"time"

	"vramd/pkg/types"
)

// FitReport answers "would this model fit right now" without loading it
// and without evicting anything.
func (c *Controller) FitReport(ctx context.Context, modelID string) (types.FitReport, error) {
	mc, ok := c.cfg.Models[modelID]
	if !ok {
		return types.FitReport{}, &ModelNotFoundError{Model: modelID}
	}
	fit, err := c.est.WillFit(ctx, c.modelSpec(modelID, mc))
	if err != nil {
		return types.FitReport{}, err
	}
	return types.FitReport{
		Model:         modelID,
		Fits:          fit.Fits,
		RequiredBytes: fit.RequiredBytes,
		FreeBytes:     fit.FreeBytes,
	}, nil
}

// Models lists every configured model in OpenAI list format, resident or
// not.
func (c *Controller) Models() types.ModelList {
	created := c.started.Unix()
	list := types.ModelList{Object: "list", Data: []types.ModelCard{}}
	for _, name := range c.cfg.ModelNames() {
		list.Data = append(list.Data, types.ModelCard{
			ID:      name,
			Object:  "model",
			Created: created,
			OwnedBy: "vramd",
		})
	}
	return list
}

// Status reports the residency table and lifetime counters.
func (c *Controller) Status() types.StatusResponse {
	now := time.Now()
	c.mu.Lock()
	ids := make([]string, 0, len(c.resident))
	for id := range c.resident {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	residents := make([]types.ResidentStatus, 0, len(ids))
	for _, id := range ids {
		r := c.resident[id]
		rs := types.ResidentStatus{
			Model:         id,
			LastUsed:      r.lastUsed.Unix(),
			Inflight:      c.inflight[id],
			RequiredBytes: r.required,
			Port:          r.port,
		}
		if pid, ok := c.sup.PID(r.handle); ok {
			rs.PID = pid
		}
		residents = append(residents, rs)
	}
	loads, evictions := c.loads, c.evictions
	c.mu.Unlock()

	return types.StatusResponse{
		Residents:      residents,
		LoadsTotal:     loads,
		EvictionsTotal: evictions,
		UptimeSeconds:  int64(now.Sub(c.started).Seconds()),
		ServerTimeUnix: now.Unix(),
	}
}
