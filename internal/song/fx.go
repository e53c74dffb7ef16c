package song

import (
	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/song/repository"
	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/song/service"
	"go.uber.org/fx"
)

var Module = fx.Module("song",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
