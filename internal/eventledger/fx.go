package eventledger

import (
	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/eventledger/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("eventledger",
	fx.Provide(repository.Provide),
)
