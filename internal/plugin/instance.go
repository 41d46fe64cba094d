package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/idleonweb/idleonweb/internal/conf"
)

// State is the lifecycle position of an Instance.
type State int

const (
	StateConstructed State = iota
	StateLoaded
	StateReady
	StateCleaned
)

func (s State) String() string {
	switch s {
	case StateConstructed:
		return "constructed"
	case StateLoaded:
		return "loaded"
	case StateReady:
		return "ready"
	case StateCleaned:
		return "cleaned"
	}
	return "unknown"
}

// Instance is a live plugin bound to its descriptor. All callbacks go
// through the instance mutex, so one plugin never runs two callbacks at
// once, and the state machine rejects out-of-order callbacks:
// load, game_ready, then ticks and config changes, then cleanup.
type Instance struct {
	plugin Plugin
	desc   Descriptor
	origin string

	store *conf.Store
	log   *slog.Logger

	mu    sync.Mutex
	state State
}

func newInstance(p Plugin, desc Descriptor, origin string, store *conf.Store, log *slog.Logger) *Instance {
	return &Instance{
		plugin: p,
		desc:   desc,
		origin: origin,
		store:  store,
		log:    log.With("plugin", desc.ID),
	}
}

func (i *Instance) ID() string             { return i.desc.ID }
func (i *Instance) Descriptor() Descriptor { return i.desc }
func (i *Instance) Plugin() Plugin         { return i.plugin }

// Origin is "builtin" or the script path the plugin was loaded from.
func (i *Instance) Origin() string { return i.origin }

func (i *Instance) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Config returns the plugin's stored configuration.
func (i *Instance) Config() map[string]any {
	return i.store.GetPlugin(i.desc.ID)
}

// Exports lists the JavaScript exports bundled for this plugin.
func (i *Instance) Exports() []JSExport { return i.desc.Exports }

func (i *Instance) env(page Page) *Env {
	return &Env{ID: i.desc.ID, Log: i.log, Page: page, store: i.store, desc: &i.desc}
}

// call runs fn, converting errors and panics into ErrCallback.
func (i *Instance) call(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			i.log.Debug("plugin panic", "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %s.%s panicked: %v", ErrCallback, i.desc.ID, name, r)
		}
	}()
	if err := fn(); err != nil {
		return fmt.Errorf("%w: %s.%s: %w", ErrCallback, i.desc.ID, name, err)
	}
	return nil
}

func (i *Instance) load(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state != StateConstructed {
		return nil
	}
	if err := i.call("on_load", func() error { return i.plugin.OnLoad(ctx, i.env(nil)) }); err != nil {
		return err
	}
	i.state = StateLoaded
	return nil
}

// GameReady runs on_game_ready once, after the first successful injection.
// It reports whether the callback ran.
func (i *Instance) GameReady(ctx context.Context, page Page) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state != StateLoaded {
		return false, nil
	}
	err := i.call("on_game_ready", func() error { return i.plugin.OnGameReady(ctx, i.env(page)) })
	// a failing on_game_ready still moves the plugin forward so ticks run
	i.state = StateReady
	return true, err
}

// Tick runs on_tick when the plugin is ready and reports whether it ran.
func (i *Instance) Tick(ctx context.Context, page Page) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state != StateReady {
		return false, nil
	}
	return true, i.call("on_tick", func() error { return i.plugin.OnTick(ctx, i.env(page)) })
}

// ConfigChanged delivers the new configuration when the plugin is ready.
func (i *Instance) ConfigChanged(ctx context.Context, page Page, cfg map[string]any) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state != StateReady {
		return false, nil
	}
	return true, i.call("on_config_changed", func() error { return i.plugin.OnConfigChanged(ctx, i.env(page), cfg) })
}

// Cleanup runs on_cleanup at most once. Later calls of any kind are no-ops.
func (i *Instance) Cleanup(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state == StateCleaned {
		return nil
	}
	i.state = StateCleaned
	return i.call("on_cleanup", func() error { return i.plugin.OnCleanup(ctx, i.env(nil)) })
}

// Invoke runs an element handler, command or suggestion provider under the
// instance lock. It fails with ErrInactive once the plugin is cleaned up.
func (i *Instance) Invoke(ctx context.Context, page Page, name string, fn func(ctx context.Context, env *Env) (any, error)) (out any, err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state == StateCleaned || i.state == StateConstructed {
		return nil, fmt.Errorf("%w: %s", ErrInactive, i.desc.ID)
	}
	err = i.call(name, func() error {
		var ferr error
		out, ferr = fn(ctx, i.env(page))
		return ferr
	})
	return out, err
}
