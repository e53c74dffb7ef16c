package generation

import (
	"context"

	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/generation/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("generation",
	fx.Provide(repository.Provide),
	fx.Provide(NewOrchestrator),
	fx.Invoke(StartOrchestrator),
)

func StartOrchestrator(lc fx.Lifecycle, orch *Orchestrator) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go orch.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}
