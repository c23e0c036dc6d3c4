package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"trustroom/internal/config"
	"trustroom/internal/engine"
	"trustroom/internal/engine/access"
	"trustroom/internal/identity"
	"trustroom/internal/notify"
	tel "trustroom/internal/otel"
	"trustroom/internal/server"
	"trustroom/internal/telemetry"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if basePath != "" {
				cfg.Server.BasePath = basePath
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("auth.jwt_secret (TRUSTROOM_AUTH_JWT_SECRET) is required for bearer auth")
			}

			logger, logCloser, err := telemetry.NewLogger(cfg.Log.Level, cfg.Log.File, false)
			if err != nil {
				return err
			}
			defer logCloser.Close()
			slog.SetDefault(logger)

			provider, err := tel.Init(ctx, cfg.OTel)
			if err != nil {
				return err
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = provider.Shutdown(sctx)
			}()
			metrics, err := tel.NewMetrics(provider.Meter)
			if err != nil {
				return err
			}

			store, closeStore, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			ctl := access.New(cfg.Auth.SystemKey, identity.JWTVerifier{Secret: cfg.Auth.JWTSecret})
			webhooks := notify.NewWebhookChannel(cfg.Notify.Webhooks)
			webhooks.Tracer = provider.Tracer
			dispatcher := notify.Dispatcher{
				Channels: []notify.Channel{webhooks},
				Fallback: notify.LogChannel{Logger: logger},
				Logger:   logger,
			}
			e := engine.New(store, ctl, engine.Options{
				Notifier:       dispatcher,
				Live:           notify.NewHub(cfg.GapTimeout()),
				Logger:         logger,
				Telemetry:      provider,
				Metrics:        metrics,
				EffectsTimeout: cfg.EffectsTimeout(),
				TokenTTL:       cfg.TokenTTL(),
				LinkPath:       cfg.Guest.LinkPath,
			})
			defer drainDiagnostics(e.Effects, logger)()

			watcher := config.NewWatcher(configPath(), logger)
			if err := watcher.Start(ctx); err != nil {
				logger.Warn("config watcher disabled", "error", err)
			} else {
				go applyReloads(watcher, ctl, webhooks, logger)
			}

			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: cfg.Server.BasePath,
				Metrics:  metrics,
				Logger:   logger,
				Health:   store.Ping,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(sctx)
			}()
			logger.Info("serving trust room API", "addr", cfg.Server.Addr, "base_path", cfg.Server.BasePath, "store", cfg.Store.Driver)
			fmt.Printf("Serving trust room API on http://%s%s (OpenAPI at %s/openapi.json)\n", cfg.Server.Addr, cfg.Server.BasePath, cfg.Server.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (overrides server.base_path)")
	return cmd
}

// applyReloads hot-swaps the settings that are safe to change while serving.
// Store, listener and JWT secret changes need a restart.
func applyReloads(w *config.Watcher, ctl *access.Control, webhooks *notify.WebhookChannel, logger *slog.Logger) {
	for cfg := range w.Reloads() {
		ctl.SetSystemKey(cfg.Auth.SystemKey)
		webhooks.SetHooks(cfg.Notify.Webhooks)
		logger.Info("applied config reload", "webhooks", len(cfg.Notify.Webhooks))
	}
}
