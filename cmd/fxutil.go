package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/fx"
)

// startFx starts app and returns the function that stops it within
// stopTimeout. A failed start has already been rolled back.
func startFx(ctx context.Context, app *fx.App, stopTimeout time.Duration) (func(), error) {
	if err := app.Start(ctx); err != nil {
		stopFx(app, stopTimeout)
		return nil, fmt.Errorf("start: %w", err)
	}
	return func() { stopFx(app, stopTimeout) }, nil
}

// runFxUntilSignal runs app until SIGINT/SIGTERM, ctx is done or a module
// asks fx to shut down.
func runFxUntilSignal(ctx context.Context, app *fx.App, stopTimeout time.Duration) error {
	return runFxWith(ctx, app, stopTimeout, func(ctx context.Context) error {
		ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer cancel()
		select {
		case <-ctx.Done():
			return nil
		case sig := <-app.Wait():
			if sig.ExitCode != 0 {
				return fmt.Errorf("fx shutdown (exitCode=%d)", sig.ExitCode)
			}
			return nil
		}
	})
}

// runFxWith runs fn while app is started and stops app when fn returns.
func runFxWith(ctx context.Context, app *fx.App, stopTimeout time.Duration, fn func(context.Context) error) error {
	if app == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	stop, err := startFx(ctx, app, stopTimeout)
	if err != nil {
		return err
	}
	defer stop()
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

func stopFx(app *fx.App, stopTimeout time.Duration) {
	ctx := context.Background()
	if stopTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, stopTimeout)
		defer cancel()
	}
	if err := app.Stop(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "shutdown:", err)
	}
}
