package opsapi

import (
	"context"
	"net"
	"net/http"
	"time"

	"go.uber.org/fx"

	"bot_fleet/internal/modules/config"
	"bot_fleet/internal/modules/opsapi/service"
	"bot_fleet/pkg/logger"
)

// RunHTTP поднимает ops-сервер на lifecycle: listen при старте, graceful
// shutdown при остановке.
func RunHTTP(lc fx.Lifecycle, cfg *config.Config, handler http.Handler) {
	srv := &http.Server{
		Addr:              cfg.Ops.Addr,
		Handler:           handler,
		ReadHeaderTimeout: time.Duration(cfg.Ops.ReadTimeoutSeconds) * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", cfg.Ops.Addr)
			if err != nil {
				return err
			}
			logger.Info("[OPS] http server on %s", cfg.Ops.Addr)
			go func() { _ = srv.Serve(ln) }()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func Module() fx.Option {
	return fx.Module("opsapi",
		fx.Provide(
			service.NewState,
			service.NewHub,
			service.NewHandlers,
			service.NewRouter,
		),
		fx.Invoke(RunHTTP),
	)
}
