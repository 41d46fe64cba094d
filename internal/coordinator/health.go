package coordinator

import (
	"context"
	"errors"

	"github.com/idleonweb/idleonweb/internal/bridge"
	"github.com/idleonweb/idleonweb/internal/scheduler"
	"golang.org/x/sync/errgroup"
)

func (c *Coordinator) startLoops() {
	c.stopLoops()
	ctx, cancel := context.WithCancel(c.base)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return scheduler.Run(gctx, c.opts.TickInterval, c.tickOnce) })
	g.Go(func() error { return scheduler.Run(gctx, c.opts.HealthInterval, c.healthOnce) })
	c.loopCancel = cancel
	c.loops = g
}

// stopLoops cancels the loops and waits for them. Called from the actor; a
// loop blocked on submit returns as soon as its context is cancelled.
func (c *Coordinator) stopLoops() {
	if c.loopCancel == nil {
		return
	}
	c.loopCancel()
	_ = c.loops.Wait()
	c.loopCancel = nil
	c.loops = nil
}

// tickOnce submits one operation per plugin so UI actions can run between
// plugins of the same tick.
func (c *Coordinator) tickOnce(ctx context.Context) {
	for _, inst := range c.reg.All() {
		if ctx.Err() != nil {
			return
		}
		_, _ = c.submit(ctx, "tick:"+inst.ID(), func(opCtx context.Context) (any, error) {
			if ctx.Err() != nil || c.status() != StatusConnected {
				return nil, nil
			}
			if _, err := inst.Tick(opCtx, c.page()); err != nil {
				c.log.Error("Plugin failed in on_tick.", "plugin", inst.ID(), "error", err)
			}
			c.drainConfig(opCtx)
			c.settle(opCtx)
			return nil, nil
		})
	}
}

func (c *Coordinator) healthOnce(ctx context.Context) {
	_, _ = c.submit(ctx, "health", func(opCtx context.Context) (any, error) {
		if ctx.Err() != nil || c.status() != StatusConnected {
			return nil, nil
		}
		c.checkHealth(opCtx)
		return nil, nil
	})
}

// observe records what a page call reported. Transport errors request
// consecutive health checks until one passes or the loss is confirmed;
// remote exceptions request a single check.
func (c *Coordinator) observe(err error) {
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
	case errors.Is(err, bridge.ErrEval):
		c.probe = true
	default:
		c.suspect = true
	}
}

// settle runs the health checks requested by observed page errors. Only
// failed health checks count towards failureThreshold.
func (c *Coordinator) settle(ctx context.Context) {
	suspect, probe := c.suspect, c.probe
	c.suspect, c.probe = false, false
	if c.status() != StatusConnected || (!suspect && !probe) {
		return
	}
	checks := 1
	if suspect {
		checks = failureThreshold
		c.log.Warn("Page call failed, checking session health.")
	}
	for i := 0; i < checks && c.status() == StatusConnected; i++ {
		c.checkHealth(ctx)
		if c.failures == 0 {
			return
		}
	}
}

func (c *Coordinator) checkHealth(ctx context.Context) {
	if c.bridge == nil {
		return
	}
	err := c.bridge.HealthCheck(ctx)
	if err == nil {
		c.failures = 0
		return
	}
	c.failures++
	c.log.Warn("Health check failed.", "failures", c.failures, "error", err)
	if c.failures >= failureThreshold {
		c.lose(ctx)
	}
}

// lose handles a confirmed disconnect. Plugins stay loaded so the next
// inject can clean them up.
func (c *Coordinator) lose(ctx context.Context) {
	reason := c.bridge.Diagnose(ctx)
	if reason == bridge.ReasonNone {
		reason = bridge.ReasonUnknown
	}
	c.log.Error("Session lost.", "reason", reason)
	c.stopLoops()
	if err := c.dropBridge(false); err != nil {
		c.log.Warn("Could not release the bridge.", "error", err)
	}
	c.failures = 0
	c.setStatus(StatusDisconnected, string(reason))
}
