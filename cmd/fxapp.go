package cmd

import (
	"time"

	"github.com/idleonweb/idleonweb/internal/conf"
	"github.com/idleonweb/idleonweb/internal/coordinator"
	"github.com/idleonweb/idleonweb/internal/plugin"
	"github.com/idleonweb/idleonweb/internal/server"
	"go.uber.org/fx"
)

const stopTimeout = 10 * time.Second

// newApp assembles the injector: config, plugins, coordinator and Web UI.
func newApp(extra ...fx.Option) *fx.App {
	opts := []fx.Option{
		conf.FxModule(),
		plugin.FxModule(),
		coordinator.FxModule(),
		server.FxModule(),
		fx.NopLogger,
	}
	return fx.New(append(opts, extra...)...)
}
