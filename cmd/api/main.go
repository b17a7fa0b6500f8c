package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"nero/internal/bootstrap"
	"nero/internal/http/handlers"
	httpapi "nero/internal/http/httpapi"
	"nero/internal/infra"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stack, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: bootstrap failed")
	}
	defer stack.Close()

	app := &handlers.App{
		Generation:    stack.Service,
		WebhookSecret: cfg.WebhookSecret,
		Logger:        logger,
	}
	if stack.Pool != nil {
		app.DB = stack.Pool
	}
	router := httpapi.NewRouter(app, httpapi.Options{
		JWTSecret:       cfg.JWTSecret,
		AllowedOrigins:  cfg.AllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		UploadsDir:      cfg.UploadsDir,
		UploadsPrefix:   cfg.UploadsPrefix,
		Logger:          logger,
	})

	// Without a shared database there is no separate worker, so sweep here.
	if stack.Memory != nil {
		go func() {
			_ = stack.Sweeper.Run(ctx, cfg.SweepInterval)
		}()
	}

	server := infra.NewHTTPServer(cfg, router)
	go func() {
		logger.Info().Str("addr", server.Addr()).Str("store", cfg.StoreDriver).Msg("api: listening")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("api: http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: shutdown failed")
	}
	logger.Info().Msg("api: stopped")
}
