package plugin

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var (
	// ErrLoad marks a plugin that could not be discovered, built or loaded.
	ErrLoad = errors.New("plugin-load")
	// ErrCallback marks an error or panic raised by a plugin callback.
	ErrCallback = errors.New("plugin-callback")

	ErrUnknownPlugin  = errors.New("unknown plugin")
	ErrUnknownElement = errors.New("unknown element")
	ErrUnknownCommand = errors.New("unknown command")
	// ErrNoPage is returned by Env page helpers while no session is connected.
	ErrNoPage = errors.New("no browser session")
	// ErrInactive is returned when an instance has been cleaned up.
	ErrInactive = errors.New("plugin is not active")
)

// Plugin is implemented by every extension. Callbacks of one plugin are
// never invoked concurrently.
type Plugin interface {
	Descriptor() Descriptor
	OnLoad(ctx context.Context, env *Env) error
	OnGameReady(ctx context.Context, env *Env) error
	OnTick(ctx context.Context, env *Env) error
	OnConfigChanged(ctx context.Context, env *Env, cfg map[string]any) error
	OnCleanup(ctx context.Context, env *Env) error
}

// Base provides no-op lifecycle callbacks for embedding.
type Base struct{}

func (Base) OnLoad(context.Context, *Env) error                          { return nil }
func (Base) OnGameReady(context.Context, *Env) error                     { return nil }
func (Base) OnTick(context.Context, *Env) error                          { return nil }
func (Base) OnConfigChanged(context.Context, *Env, map[string]any) error { return nil }
func (Base) OnCleanup(context.Context, *Env) error                       { return nil }

// Factory builds a plugin from its stored configuration.
type Factory func(cfg map[string]any) (Plugin, error)

var (
	factoryMu sync.RWMutex
	factories = make(map[string]Factory)
)

// RegisterFactory makes a built-in plugin discoverable under id. Intended to
// be called from init().
func RegisterFactory(id string, f Factory) {
	if id == "" || f == nil {
		return
	}
	factoryMu.Lock()
	factories[id] = f
	factoryMu.Unlock()
}

func getFactory(id string) (Factory, bool) {
	factoryMu.RLock()
	f, ok := factories[id]
	factoryMu.RUnlock()
	return f, ok
}

// FactoryIDs lists registered built-in plugin ids in sorted order.
func FactoryIDs() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	ids := make([]string, 0, len(factories))
	for id := range factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
