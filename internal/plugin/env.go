package plugin

import (
	"context"
	"log/slog"

	"github.com/idleonweb/idleonweb/internal/conf"
)

// Page is the browser session lent to a plugin for the duration of one
// callback.
type Page interface {
	Evaluate(ctx context.Context, expr string, awaitPromise bool) (any, error)
	// CallExport invokes a bundled export and awaits its result.
	CallExport(ctx context.Context, namespace, name string, args ...any) (any, error)
}

// Env is handed to every plugin callback.
type Env struct {
	ID  string
	Log *slog.Logger
	// Page is nil while no session is connected.
	Page Page

	store *conf.Store
	desc  *Descriptor
}

// Config returns a copy of the plugin's configuration.
func (e *Env) Config() map[string]any {
	if e.store == nil {
		return map[string]any{}
	}
	return e.store.GetPlugin(e.ID)
}

// SetConfig persists plugin_configs.<id>.<key>.
func (e *Env) SetConfig(key string, value any) error {
	return e.store.Set(conf.KeyPluginConfigs+"."+e.ID+"."+key, value)
}

// Debug prefers plugin_configs.<id>.debug and falls back to the root flag.
func (e *Env) Debug() bool {
	if e.store == nil {
		return false
	}
	return e.store.PluginDebug(e.ID)
}

func (e *Env) Connected() bool { return e.Page != nil }

func (e *Env) Evaluate(ctx context.Context, expr string, awaitPromise bool) (any, error) {
	if e.Page == nil {
		return nil, ErrNoPage
	}
	return e.Page.Evaluate(ctx, expr, awaitPromise)
}

// CallExport calls one of this plugin's own exports by name.
func (e *Env) CallExport(ctx context.Context, name string, args ...any) (any, error) {
	if e.Page == nil {
		return nil, ErrNoPage
	}
	ns := e.ID
	if e.desc != nil {
		if exp, ok := e.desc.Export(name); ok && exp.Namespace != "" {
			ns = exp.Namespace
		}
	}
	return e.Page.CallExport(ctx, ns, name, args...)
}

// Debugf logs at debug level, or at info level when the plugin's debug flag is set.
func (e *Env) Debugf(msg string, args ...any) {
	if e.Log == nil {
		return
	}
	if e.Debug() {
		e.Log.Info(msg, args...)
		return
	}
	e.Log.Debug(msg, args...)
}
