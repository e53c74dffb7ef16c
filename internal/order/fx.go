package order

import (
	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/order/repository"
	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/order/service"
	"go.uber.org/fx"
)

var Module = fx.Module("order",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
