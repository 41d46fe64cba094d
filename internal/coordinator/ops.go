package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gookit/event"
	"github.com/idleonweb/idleonweb/internal/bridge"
	"github.com/idleonweb/idleonweb/internal/bundle"
	"github.com/idleonweb/idleonweb/internal/conf"
	"github.com/idleonweb/idleonweb/internal/eventType"
	"github.com/idleonweb/idleonweb/internal/plugin"
)

func (c *Coordinator) update(fn func(s *Session)) {
	c.mu.Lock()
	fn(&c.session)
	c.session.Since = time.Now()
	s := c.session
	for ch := range c.subs {
		select {
		case ch <- s:
		default:
		}
	}
	c.mu.Unlock()

	c.log.Info("Session status changed.", "status", s.Status, "reason", s.LastReason, "session", s.TargetID)
	event.Trigger(eventType.SessionStatusChanged, event.M{
		"status":      string(s.Status),
		"last_reason": s.LastReason,
		"session_id":  s.TargetID,
	})
}

func (c *Coordinator) setStatus(st Status, reason string) {
	c.update(func(s *Session) {
		s.Status = st
		s.LastReason = reason
		s.TargetID = ""
		if c.bridge != nil {
			s.TargetID = c.bridge.SessionID()
		}
	})
}

func (c *Coordinator) status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session.Status
}

func (c *Coordinator) connectTimeout() time.Duration {
	if c.opts.ConnectTimeout > 0 {
		return c.opts.ConnectTimeout
	}
	return time.Duration(c.store.TimeoutMs()) * time.Millisecond
}

func (c *Coordinator) bridgeOptions() bridge.Options {
	return bridge.Options{
		Port:        c.store.CDPPort(),
		Fs:          c.opts.Fs,
		BundlePath:  c.opts.BundlePath,
		BrowserPath: c.store.GetString(conf.KeyBrowserPath, ""),
		GameURL:     c.store.IdleonURL(),
		Headless:    c.opts.Headless,
		Timeout:     time.Duration(c.store.TimeoutMs()) * time.Millisecond,
	}
}

func sources(list []*plugin.Instance) []bundle.Source {
	out := make([]bundle.Source, len(list))
	for i, inst := range list {
		out[i] = inst
	}
	return out
}

// Inject attaches to the game tab and brings every enabled plugin to the
// ready state. Configuration and plugins are reloaded first so each
// session starts from what is on disk.
func (c *Coordinator) Inject(ctx context.Context) error {
	_, err := c.submit(ctx, "inject", func(ctx context.Context) (any, error) {
		return nil, c.inject(ctx)
	})
	return err
}

func (c *Coordinator) inject(ctx context.Context) error {
	switch st := c.status(); st {
	case StatusDisconnected, StatusError:
	default:
		return fmt.Errorf("%w: inject while %s", ErrBusy, st)
	}
	c.update(func(s *Session) {
		s.ID = uuid.NewString()
		s.Status = StatusLoading
		s.LastReason = ""
	})

	if err := c.store.Reload(); err != nil {
		c.log.Warn("Could not reload configuration, using the current one.", "error", err)
	}
	if err := c.reg.Reload(ctx); err != nil {
		// failed plugins are skipped
		c.log.Warn("Some plugins failed to load.", "error", err)
	}
	c.pluginsDirty.Store(false)
	c.clearPending()

	res, err := bundle.Rebuild(c.opts.Fs, c.opts.BundlePath, sources(c.reg.All()))
	if err != nil {
		return c.fail(err)
	}
	c.lastBundle = res

	b := c.opts.NewBridge(c.bridgeOptions())
	if err := b.EnsureBrowser(ctx); err != nil {
		return c.fail(err)
	}
	sessCtx, cancel := context.WithCancel(c.base)
	if err := b.Connect(sessCtx, c.connectTimeout()); err != nil {
		cancel()
		_ = b.Release()
		return c.fail(err)
	}
	if pattern := c.store.GetString(conf.KeyNJSPattern, ""); pattern != "" {
		if err := b.ExposeGameContext(ctx, pattern, nil); err != nil {
			c.log.Warn("Could not expose the game context; plugins relying on it may fail.", "error", err)
		}
	}
	if err := b.ReloadJS(ctx); err != nil {
		cancel()
		_ = b.Release()
		return c.fail(err)
	}

	c.bridge = b
	c.sessCancel = cancel
	c.failures = 0
	c.suspect, c.probe = false, false

	page := c.page()
	for _, inst := range c.reg.All() {
		if _, err := inst.GameReady(ctx, page); err != nil {
			c.log.Error("Plugin failed in on_game_ready.", "plugin", inst.ID(), "error", err)
		}
	}
	c.setStatus(StatusConnected, "")
	c.startLoops()

	if c.store.GetBool(conf.KeyWebUIAutoOpen, false) {
		url := c.store.GetString(conf.KeyWebUIURL, "")
		if url != "" {
			if err := b.OpenURLInNewTab(ctx, url); err != nil {
				c.log.Warn("Could not open the Web UI tab.", "url", url, "error", err)
			}
		}
	}
	c.settle(ctx)
	return nil
}

func (c *Coordinator) fail(err error) error {
	c.log.Error("Inject failed.", "error", err)
	c.setStatus(StatusError, reasonOf(err))
	return err
}

// Reload rebuilds the bundle and evaluates it again in the bound tab.
// Plugins are reloaded when the enabled set or a plugin file changed.
func (c *Coordinator) Reload(ctx context.Context) error {
	_, err := c.submit(ctx, "reload", func(ctx context.Context) (any, error) {
		return nil, c.reload(ctx)
	})
	return err
}

func (c *Coordinator) reload(ctx context.Context) error {
	if st := c.status(); st != StatusConnected {
		if last := c.Status().LastReason; st == StatusDisconnected && last != "" {
			return fmt.Errorf("%w: %s", ErrBridgeLost, last)
		}
		return fmt.Errorf("%w: reload while %s", ErrNotConnected, st)
	}
	c.setStatus(StatusReloading, "")

	if c.pluginsDirty.Swap(false) || !sameSet(c.store.ListPlugins(), c.reg.IDs()) {
		c.log.Info("Plugin set changed, reloading plugins.")
		if err := c.reg.Reload(ctx); err != nil {
			c.log.Warn("Some plugins failed to load.", "error", err)
		}
	}
	res, err := bundle.Rebuild(c.opts.Fs, c.opts.BundlePath, sources(c.reg.All()))
	if err == nil {
		c.lastBundle = res
		err = c.bridge.ReloadJS(ctx)
	}
	if err != nil {
		c.log.Error("Reload failed.", "error", err)
		c.teardown(ctx, false)
		c.setStatus(StatusError, reasonOf(err))
		return err
	}
	page := c.page()
	for _, inst := range c.reg.All() {
		if _, err := inst.GameReady(ctx, page); err != nil {
			c.log.Error("Plugin failed in on_game_ready.", "plugin", inst.ID(), "error", err)
		}
	}
	c.setStatus(StatusConnected, "")
	return nil
}

func sameSet(enabled, loaded []string) bool {
	seen := map[string]bool{}
	for _, id := range enabled {
		seen[id] = true
	}
	if len(seen) != len(loaded) {
		return false
	}
	for _, id := range loaded {
		if !seen[id] {
			return false
		}
	}
	return true
}

// Stop ends the session: loops are cancelled, plugins cleaned up and the
// browser closed.
func (c *Coordinator) Stop(ctx context.Context) error {
	_, err := c.submit(ctx, "stop", func(ctx context.Context) (any, error) {
		err := c.teardown(ctx, true)
		c.setStatus(StatusDisconnected, "")
		return nil, err
	})
	return err
}

// teardown stops the loops and cleans up every plugin, then either closes
// the browser or only drops the connection.
func (c *Coordinator) teardown(ctx context.Context, closeBrowser bool) error {
	c.stopLoops()
	c.reg.Cleanup(ctx)
	return c.dropBridge(closeBrowser)
}

func (c *Coordinator) dropBridge(closeBrowser bool) error {
	if c.sessCancel != nil {
		defer func() {
			c.sessCancel()
			c.sessCancel = nil
		}()
	}
	if c.bridge == nil {
		return nil
	}
	b := c.bridge
	c.bridge = nil
	if closeBrowser {
		return b.CloseBrowser()
	}
	return b.Release()
}

// DispatchUI actuates a UI element: a bound config key is written first,
// then the element handler runs with value. The result of the handler is
// returned.
func (c *Coordinator) DispatchUI(ctx context.Context, pluginID, element string, value any) (any, error) {
	return c.submit(ctx, "ui:"+pluginID+"."+element, func(ctx context.Context) (any, error) {
		inst, el, err := c.reg.Element(pluginID, element)
		if err != nil {
			return nil, err
		}
		if el.ConfigKey != "" && value != nil {
			path := conf.KeyPluginConfigs + "." + pluginID + "." + el.ConfigKey
			if err := c.store.Set(path, value); err != nil {
				return nil, err
			}
		}
		var out any
		if el.Handler != nil {
			out, err = inst.Invoke(ctx, c.page(), el.MethodName(), func(ctx context.Context, env *plugin.Env) (any, error) {
				return el.Handler(ctx, env, value)
			})
		} else if el.ConfigKey != "" {
			out = value
		}
		c.drainConfig(ctx)
		return out, c.settleErr(ctx, err)
	})
}

// Autocomplete returns the suggestions of an element's provider. Unknown
// plugins and elements without a provider yield an empty list.
func (c *Coordinator) Autocomplete(ctx context.Context, pluginID, element, query string) ([]string, error) {
	v, err := c.submit(ctx, "autocomplete:"+pluginID+"."+element, func(ctx context.Context) (any, error) {
		out, err := c.reg.Suggest(ctx, c.page(), pluginID, element, query)
		return out, c.settleErr(ctx, err)
	})
	if err != nil {
		return nil, err
	}
	list, _ := v.([]string)
	if list == nil {
		list = []string{}
	}
	return list, nil
}

// RunCommand runs the plugin command addressed as <plugin>.<command> with
// raw arguments.
func (c *Coordinator) RunCommand(ctx context.Context, key string, args []string) (any, error) {
	return c.submit(ctx, "command:"+key, func(ctx context.Context) (any, error) {
		bc, err := c.reg.Command(key)
		if err != nil {
			return nil, err
		}
		out, err := bc.Run(ctx, c.page(), args)
		c.drainConfig(ctx)
		return out, c.settleErr(ctx, err)
	})
}

// SetPluginConfig writes plugin_configs.<id>.<key> and delivers the change
// to the plugin before returning.
func (c *Coordinator) SetPluginConfig(ctx context.Context, id, key string, value any) error {
	_, err := c.submit(ctx, "config:"+id, func(ctx context.Context) (any, error) {
		if err := c.store.Set(conf.KeyPluginConfigs+"."+id+"."+key, value); err != nil {
			return nil, err
		}
		c.drainConfig(ctx)
		c.settle(ctx)
		return nil, nil
	})
	return err
}

// settleErr runs settle and attaches a confirmed loss to err.
func (c *Coordinator) settleErr(ctx context.Context, err error) error {
	before := c.status()
	c.settle(ctx)
	if before == StatusConnected && c.status() == StatusDisconnected {
		lost := fmt.Errorf("%w: %s", ErrBridgeLost, c.Status().LastReason)
		if err == nil {
			return lost
		}
		return errors.Join(err, lost)
	}
	return err
}
