package supervisor

import (
	"context"
	"log/slog"

	"github.com/raterudder/autarcostatus/pkg/log"
	"golang.org/x/sync/errgroup"
)

// Runner is a long-lived task that blocks until ctx is canceled or it fails.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to a Runner.
type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Run starts the poller and the server and blocks until both have returned.
// Whichever returns first, with or without an error, causes the other to be
// stopped. The first error is returned.
func Run(ctx context.Context, poller, server Runner) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g := new(errgroup.Group)
	start := func(name string, r Runner) {
		g.Go(func() error {
			defer cancel()
			err := r.Run(ctx)
			if err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "task failed", slog.String("task", name), slog.Any("error", err))
			} else {
				log.Ctx(ctx).InfoContext(ctx, "task exited", slog.String("task", name))
			}
			return err
		})
	}
	start("poller", poller)
	start("server", server)

	return g.Wait()
}
