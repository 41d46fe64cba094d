package coordinator

import (
	"context"
	"strings"

	"github.com/gookit/event"
	"github.com/idleonweb/idleonweb/internal/bundle"
	"github.com/idleonweb/idleonweb/internal/conf"
	"github.com/idleonweb/idleonweb/internal/eventType"
	"github.com/idleonweb/idleonweb/internal/plugin"
)

// configListener queues the plugins whose configuration changed. A reload
// of the whole file queues every plugin.
type configListener struct{ c *Coordinator }

func (l *configListener) Handle(e event.Event) error {
	c := l.c
	if s, ok := e.Get("store").(*conf.Store); ok && s != c.store {
		return nil
	}
	path, _ := e.Get("path").(string)
	if path == conf.KeyPlugins || strings.HasPrefix(path, conf.KeyPlugins+".") {
		c.pluginsDirty.Store(true)
		return nil
	}

	var ids []string
	prefix := conf.KeyPluginConfigs + "."
	switch {
	case path == "" || path == conf.KeyPluginConfigs:
		ids = c.reg.IDs()
	case strings.HasPrefix(path, prefix):
		rest := path[len(prefix):]
		// ids may contain dots, so match against loaded ids
		for _, id := range c.reg.IDs() {
			if rest == id || strings.HasPrefix(rest, id+".") {
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		return nil
	}
	c.pendMu.Lock()
	for _, id := range ids {
		c.pending[id] = struct{}{}
	}
	c.pendMu.Unlock()
	c.poke()
	return nil
}

// pluginsListener marks the plugin set dirty after plugin files changed.
type pluginsListener struct{ c *Coordinator }

func (l *pluginsListener) Handle(event.Event) error {
	l.c.pluginsDirty.Store(true)
	l.c.filesChanged.Store(true)
	l.c.poke()
	return nil
}

type listeners struct {
	config  *configListener
	plugins *pluginsListener
}

func (c *Coordinator) listen() *listeners {
	l := &listeners{config: &configListener{c}, plugins: &pluginsListener{c}}
	event.On(eventType.ConfigUpdated, l.config)
	event.On(eventType.ConfigReloaded, l.config)
	event.On(eventType.PluginsChanged, l.plugins)
	return l
}

func (l *listeners) remove() {
	if l == nil {
		return
	}
	event.Std().RemoveListener(eventType.ConfigUpdated, l.config)
	event.Std().RemoveListener(eventType.ConfigReloaded, l.config)
	event.Std().RemoveListener(eventType.PluginsChanged, l.plugins)
}

func (c *Coordinator) poke() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// pump turns queued notifications into actor operations. Changes that
// arrive while one is running coalesce into the next.
func (c *Coordinator) pump() {
	defer c.workers.Done()
	for {
		select {
		case <-c.quit:
			return
		case <-c.kick:
		}
		_, _ = c.submit(c.base, "sync", func(ctx context.Context) (any, error) {
			c.drainConfig(ctx)
			c.syncPlugins(ctx)
			c.settle(ctx)
			return nil, nil
		})
	}
}

func (c *Coordinator) clearPending() {
	c.pendMu.Lock()
	clear(c.pending)
	c.pendMu.Unlock()
}

// drainConfig delivers queued configuration changes in load order and
// mirrors them into the page.
func (c *Coordinator) drainConfig(ctx context.Context) {
	c.pendMu.Lock()
	if len(c.pending) == 0 {
		c.pendMu.Unlock()
		return
	}
	pending := c.pending
	c.pending = map[string]struct{}{}
	c.pendMu.Unlock()

	page := c.page()
	for _, inst := range c.reg.All() {
		if _, ok := pending[inst.ID()]; !ok {
			continue
		}
		cfg := inst.Config()
		if page != nil && c.status() == StatusConnected {
			c.mirrorConfig(ctx, page, inst.ID(), cfg)
		}
		if _, err := inst.ConfigChanged(ctx, page, cfg); err != nil {
			c.log.Error("Plugin failed in on_config_changed.", "plugin", inst.ID(), "error", err)
		}
	}
}

// mirrorConfig copies a plugin configuration into pluginConfigs of the page
// so exports called from on_config_changed already see it.
func (c *Coordinator) mirrorConfig(ctx context.Context, page plugin.Page, id string, cfg map[string]any) {
	expr, err := bundle.ConfigExpression(id, cfg, c.bridge.InIframe())
	if err != nil {
		c.log.Warn("Could not encode plugin config.", "plugin", id, "error", err)
		return
	}
	if _, err := page.Evaluate(ctx, expr, false); err != nil {
		c.log.Warn("Could not mirror plugin config into the page.", "plugin", id, "error", err)
	}
}

// syncPlugins applies plugin file changes: a live session is reloaded,
// otherwise the registry is reloaded directly. Changes to the enabled set
// in the configuration wait for an explicit reload.
func (c *Coordinator) syncPlugins(ctx context.Context) {
	if !c.filesChanged.Swap(false) {
		return
	}
	switch c.status() {
	case StatusConnected:
		if err := c.reload(ctx); err != nil {
			c.log.Error("Automatic reload failed.", "error", err)
		}
	case StatusDisconnected, StatusError:
		c.pluginsDirty.Store(false)
		if err := c.reg.Reload(ctx); err != nil {
			c.log.Warn("Some plugins failed to load.", "error", err)
		}
	}
}
