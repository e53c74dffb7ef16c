package payment

import (
	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/payment/adapters"
	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/payment/checkout"
	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment",
	fx.Provide(adapters.NewRegistry),
	fx.Provide(checkout.NewDodoClient),
	fx.Provide(service.NewService),
)
