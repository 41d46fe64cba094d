package plugin

import (
	"context"

	"github.com/idleonweb/idleonweb/cmd/flags"
	"github.com/idleonweb/idleonweb/internal/conf"
	"github.com/spf13/afero"
	"go.uber.org/fx"
)

// FxModule provides the *Registry. Plugins are loaded on start and cleaned
// up on stop; with --watch the plugin directory is watched for changes.
func FxModule() fx.Option {
	return fx.Options(
		fx.Provide(newFxRegistry),
		fx.Invoke(startWatcher),
	)
}

func newFxRegistry(lc fx.Lifecycle, store *conf.Store, fs afero.Fs) *Registry {
	r := NewRegistry(store, Options{Dir: flags.PluginDir, Fs: fs})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// failed plugins are skipped and already logged
			_ = r.Load(ctx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			r.Cleanup(ctx)
			return nil
		},
	})
	return r
}

func startWatcher(lc fx.Lifecycle, r *Registry) {
	if !flags.Watch || r.Dir() == "" {
		return
	}
	w := NewWatcher(r.Dir())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return w.Start(context.Background())
		},
		OnStop: func(context.Context) error {
			w.Stop()
			return nil
		},
	})
}
