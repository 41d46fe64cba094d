package coordinator

import (
	"context"

	"github.com/idleonweb/idleonweb/cmd/flags"
	"github.com/idleonweb/idleonweb/internal/conf"
	"github.com/idleonweb/idleonweb/internal/plugin"
	"github.com/spf13/afero"
	"go.uber.org/fx"
)

// FxModule provides the *Coordinator. With injector.autoInject (or the
// inject command) a session is started in the background once the app runs.
func FxModule() fx.Option {
	return fx.Options(
		fx.Provide(newFxCoordinator),
	)
}

func newFxCoordinator(lc fx.Lifecycle, store *conf.Store, reg *plugin.Registry, fs afero.Fs) *Coordinator {
	c := New(store, reg, Options{Fs: fs, Headless: flags.Headless})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			c.Start()
			if flags.InjectOnStart || store.GetBool(conf.KeyAutoInject, false) {
				c.workers.Add(1)
				go c.autoInject()
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return c.Close(ctx)
		},
	})
	return c
}

func (c *Coordinator) autoInject() {
	defer c.workers.Done()
	c.log.Info("Auto-inject enabled, injecting.")
	if err := c.Inject(c.base); err != nil {
		c.log.Error("Auto-inject failed.", "error", err)
	}
}
