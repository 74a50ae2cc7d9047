package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/pos-engine/api"
	"github.com/warp/pos-engine/logger"
	"github.com/warp/pos-engine/pos"
	"github.com/warp/pos-engine/usage"
)

func newServeCmd() *cobra.Command {
	var port, dsn string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Port = port
			}
			if dsn != "" {
				cfg.DBDSN = dsn
			}
			if err := cfg.ValidateServer(); err != nil {
				return err
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}

			log := logger.WithComponent("server")

			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			worker := usage.NewWorker(store, logger.WithComponent("usage"),
				usage.WithBufferSize(cfg.UsageBuffer),
				usage.WithLocation(loc))
			worker.Start()
			defer worker.Stop()

			engine := pos.NewEngine(store,
				pos.WithUsage(worker),
				pos.WithLocation(loc),
				pos.WithMaxRetries(cfg.CommitRetries),
				pos.WithLogger(logger.WithComponent("engine")))

			handler := api.NewHandler(engine, store, logger.WithComponent("api"))
			handler.Ping = store.Ping

			router := api.NewRouter(handler, api.RouterConfig{
				JWTSecret:      []byte(cfg.JWTSecret),
				AllowedOrigins: cfg.AllowedOrigins,
				Log:            logger.WithComponent("http"),
			})

			server := &http.Server{
				Addr:         ":" + cfg.Port,
				Handler:      router,
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 15 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			serverErr := make(chan error, 1)
			go func() {
				log.Info().
					Str("addr", server.Addr).
					Str("driver", cfg.DBDriver).
					Str("timezone", loc.String()).
					Msg("server starting")
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
				close(serverErr)
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			select {
			case err, ok := <-serverErr:
				if ok {
					return err
				}
			case <-quit:
			}

			log.Info().Msg("shutting down server")

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return err
			}

			log.Info().Msg("server stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "HTTP server port (overrides POS_PORT)")
	cmd.Flags().StringVar(&dsn, "dsn", "", "database DSN (overrides POS_DB_DSN)")
	return cmd
}
