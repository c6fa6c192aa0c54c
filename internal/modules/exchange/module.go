package exchange

import (
	"bot_fleet/internal/modules/config"
	"bot_fleet/internal/modules/exchange/service"

	"go.uber.org/fx"
)

// Module регистрируем реестр шлюзов как fx-провайдер. Real wire adapters
// append their own Register calls here, keyed by exchange id.
func Module() fx.Option {
	return fx.Module("exchange",
		fx.Provide(
			func(cfg *config.Config) *service.Registry {
				r := service.NewRegistry()
				r.Register("paper", func(_ service.Credentials) (service.Gateway, error) {
					// Paper venue needs no keys.
					return service.NewPaper(service.PaperConfig{
						StartPrices:  cfg.Paper.StartPrices,
						BaseBalance:  cfg.Paper.BaseBalance,
						QuoteBalance: cfg.Paper.QuoteBalance,
					}), nil
				})
				return r
			},
		),
		fx.Provide(
			service.NewEnvCredentialSource,
			func(s *service.EnvCredentialSource) service.CredentialSource { return s },
		),
	)
}
