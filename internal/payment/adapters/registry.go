package adapters

import (
	"strings"

	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/config"
	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/payment/adapters/dodo"
	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/payment/adapters/gumroad"
	paymentdomain "github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/payment/domain"
	"go.uber.org/zap"
)

// Registry holds the webhook adapters for the providers that have credentials
// configured. Providers without a webhook secret are left out, so their
// endpoints answer with unknown provider.
type Registry struct {
	adapters map[string]paymentdomain.Adapter
}

func NewRegistry(cfg config.Config, log *zap.Logger) *Registry {
	log = log.Named("payment.adapters")
	reg := &Registry{adapters: map[string]paymentdomain.Adapter{}}

	if cfg.Payment.DodoWebhookSecret != "" {
		adapter, err := dodo.NewAdapter(cfg.Payment.DodoWebhookSecret)
		if err != nil {
			log.Warn("dodo adapter disabled", zap.Error(err))
		} else {
			reg.adapters[adapter.Name()] = adapter
		}
	}
	if cfg.Payment.GumroadSellerID != "" {
		adapter, err := gumroad.NewAdapter(cfg.Payment.GumroadSellerID, cfg.Payment.GumroadSecret)
		if err != nil {
			log.Warn("gumroad adapter disabled", zap.Error(err))
		} else {
			reg.adapters[adapter.Name()] = adapter
		}
	}

	if len(reg.adapters) == 0 {
		log.Warn("no payment providers configured")
	}
	return reg
}

func (r *Registry) Get(provider string) (paymentdomain.Adapter, bool) {
	adapter, ok := r.adapters[strings.ToLower(strings.TrimSpace(provider))]
	return adapter, ok
}
