package shared

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"restdispatch/internal/shared/logs"
)

// NewSignalContext returns a context that is cancelled on SIGINT/SIGTERM.
func NewSignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigs:
			logs.Info("received signal", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigs)
	}()
	return ctx, cancel
}

// WaitForShutdown blocks until the context is cancelled, then runs cleanup
// fns in reverse registration order with a per-fn timeout.
func WaitForShutdown(ctx context.Context, timeoutPerFn time.Duration, cleanups ...func(context.Context)) {
	<-ctx.Done()
	logs.Info("shutting down", "cleanups", len(cleanups))
	for i := len(cleanups) - 1; i >= 0; i-- {
		fn := cleanups[i]
		if fn == nil {
			continue
		}
		cctx, cancel := context.WithTimeout(context.Background(), timeoutPerFn)
		func() {
			defer cancel()
			fn(cctx)
		}()
	}
	logs.Info("shutdown complete")
}
