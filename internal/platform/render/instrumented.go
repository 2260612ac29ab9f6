package render

import (
	"context"
	"time"
)

// Observer receives per-call generation timings.
type Observer interface {
	ObserveRender(panelType string, dur time.Duration, failed bool)
}

type observedClient struct {
	next Client
	obs  Observer
}

// WithObserver wraps a client so every generation reports its duration
// and outcome, labeled by the requested panel type.
func WithObserver(next Client, obs Observer) Client {
	if obs == nil {
		return next
	}
	return &observedClient{next: next, obs: obs}
}

func (c *observedClient) Generate(ctx context.Context, spec PanelSpec) (Generation, error) {
	start := time.Now()
	gen, err := c.next.Generate(ctx, spec)
	c.obs.ObserveRender(spec.PanelType, time.Since(start), err != nil)
	return gen, err
}
