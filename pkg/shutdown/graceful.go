package shutdown

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

func WithSignals(ctx context.Context, log *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-ch:
			log.Info("signal received", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(ch)
	}()

	return ctx, cancel
}

// Group runs background loops and waits for all of them on shutdown.
type Group struct {
	log *slog.Logger
	wg  sync.WaitGroup
}

func NewGroup(log *slog.Logger) *Group {
	return &Group{log: log}
}

// Go starts fn; a non-nil error is logged and cancels the whole process via cancel.
func (g *Group) Go(name string, cancel context.CancelFunc, fn func() error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := fn(); err != nil {
			g.log.Error("background loop stopped", "loop", name, "err", err)
			cancel()
			return
		}
		g.log.Info("background loop stopped", "loop", name)
	}()
}

func (g *Group) Wait() {
	g.wg.Wait()
}
