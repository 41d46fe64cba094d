package scheduler

import (
	"context"
	"sync"
	"time"
)

type StopFunc func()

// Every runs fn on the given interval in its own goroutine.
// The returned StopFunc is safe to call multiple times and returns once the
// goroutine has exited, so a running fn always completes before it returns.
func Every(interval time.Duration, fn func(ctx context.Context)) StopFunc {
	if interval <= 0 || fn == nil {
		return func() {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Run(ctx, interval, fn)
	}()

	var once sync.Once
	return func() {
		once.Do(cancel)
		<-done
	}
}

// Run calls fn every interval until ctx is done. Ticks that fire while fn is
// still running are dropped rather than queued.
func Run(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if ctx.Err() != nil {
				return nil
			}
			fn(ctx)
		}
	}
}
