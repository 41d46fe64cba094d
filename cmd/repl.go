package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/idleonweb/idleonweb/internal/coordinator"
	"github.com/idleonweb/idleonweb/internal/repl"
	"go.uber.org/fx"
)

// runInteractive runs the app with the REPL on stdin. With interactive set
// to false in the configuration it behaves like serve.
func runInteractive(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var co *coordinator.Coordinator
	app := newApp(fx.Populate(&co))
	return runFxWith(ctx, app, stopTimeout, func(ctx context.Context) error {
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
		if !co.Store().GetBool("interactive", true) {
			<-ctx.Done()
			return nil
		}
		return repl.New(co, os.Stdout).Run(ctx, os.Stdin, os.Stdout)
	})
}
