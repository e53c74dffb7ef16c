package providers

import (
	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/config"
	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/providers/audio"
	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/providers/email"
	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/providers/lyrics"
	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/providers/storage"
	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/providers/video"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	fx.Provide(func(cfg config.Config) lyrics.Generator {
		return lyrics.NewOpenAIClient(cfg.Lyrics)
	}),
	fx.Provide(func(cfg config.Config) audio.Generator {
		return audio.NewClient(cfg.Audio)
	}),
	fx.Provide(func(cfg config.Config) video.Generator {
		return video.NewClient(cfg.Video)
	}),
	fx.Provide(func(cfg config.Config) storage.Uploader {
		return storage.NewClient(cfg.Storage)
	}),
	fx.Provide(func(cfg config.Config) email.Sender {
		return email.NewSMTP(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
	}),
)
