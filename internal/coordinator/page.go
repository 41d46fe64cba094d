package coordinator

import (
	"context"

	"github.com/idleonweb/idleonweb/internal/bundle"
	"github.com/idleonweb/idleonweb/internal/plugin"
)

// page lends the bridge to a plugin callback. It is only used on the actor.
type page struct {
	c *Coordinator
	b Bridge
}

var _ plugin.Page = (*page)(nil)

// page returns nil unless a session is bound.
func (c *Coordinator) page() plugin.Page {
	if c.bridge == nil {
		return nil
	}
	return &page{c: c, b: c.bridge}
}

func (p *page) Evaluate(ctx context.Context, expr string, awaitPromise bool) (any, error) {
	v, err := p.b.Evaluate(ctx, expr, awaitPromise)
	p.c.observe(err)
	return v, err
}

func (p *page) CallExport(ctx context.Context, namespace, name string, args ...any) (any, error) {
	expr, err := bundle.CallExpression(namespace, name, args, p.b.InIframe())
	if err != nil {
		return nil, err
	}
	return p.Evaluate(ctx, expr, true)
}
