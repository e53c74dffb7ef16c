package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// PricingConfig is the price list applied when creating orders. Amounts are
// in the smallest currency unit.
type PricingConfig struct {
	Currency   string `mapstructure:"currency"`
	AudioPrice int64  `mapstructure:"audioPrice"`
	VideoPrice int64  `mapstructure:"videoPrice"`
}

func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		Currency:   "USD",
		AudioPrice: 999,
		VideoPrice: 1999,
	}
}

// PricingConfigHolder serves the current price list and hot-reloads it when
// pricing.yml changes on disk.
type PricingConfigHolder struct {
	current atomic.Value // holds PricingConfig
}

func NewPricingConfigHolder() (*PricingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("pricing")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/songcraft")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SONGCRAFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultPricingConfig()
		v.SetDefault("pricing.currency", defaults.Currency)
		v.SetDefault("pricing.audioPrice", defaults.AudioPrice)
		v.SetDefault("pricing.videoPrice", defaults.VideoPrice)
	}

	var cfg PricingConfig
	if err := v.UnmarshalKey("pricing", &cfg); err != nil {
		return nil, err
	}
	if err := validatePricingConfig(cfg); err != nil {
		return nil, err
	}

	holder := &PricingConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PricingConfig
		if err := v.UnmarshalKey("pricing", &updated); err != nil {
			log.Printf("[pricing-config] reload failed: %v", err)
			return
		}
		if err := validatePricingConfig(updated); err != nil {
			log.Printf("[pricing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[pricing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewPricingConfigHolderForTest builds a holder around a fixed price list.
func NewPricingConfigHolderForTest(cfg PricingConfig) *PricingConfigHolder {
	holder := &PricingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *PricingConfigHolder) Get() PricingConfig {
	return h.current.Load().(PricingConfig)
}

func validatePricingConfig(cfg PricingConfig) error {
	if strings.TrimSpace(cfg.Currency) == "" {
		return errors.New("pricing currency is required")
	}
	if cfg.AudioPrice <= 0 || cfg.VideoPrice <= 0 {
		return errors.New("pricing amounts must be positive")
	}
	return nil
}
