package syncjob

import (
	"context"

	"go.uber.org/fx"
)

// Module provides the worker without starting it. Processes that own the schedule add Schedule.
var Module = fx.Module("usage.sync",
	fx.Provide(NewWorker),
)

var Schedule = fx.Invoke(runWorker)

func runWorker(lc fx.Lifecycle, worker *Worker) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})

			go func() {
				defer close(done)
				worker.RunForever(ctx)
			}()

			lc.Append(fx.Hook{
				OnStop: func(stopCtx context.Context) error {
					cancel()
					select {
					case <-done:
					case <-stopCtx.Done():
					}
					return nil
				},
			})

			return nil
		},
	})
}
